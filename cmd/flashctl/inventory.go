package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/chao-dotcom/Ticket-Craze/internal/inventory"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML layout accepted by --file:
//
//	skus:
//	  - id: "1"
//	    stock: 1000
type seedFile struct {
	SKUs []struct {
		ID    string `yaml:"id"`
		Stock int64  `yaml:"stock"`
	} `yaml:"skus"`
}

func defaultSeed() map[string]int64 {
	return map[string]int64{
		"1": 1000,
		"2": 500,
		"3": 2000,
		"4": 750,
		"5": 100,
	}
}

func loadSeed(path string) (map[string]int64, error) {
	if path == "" {
		return defaultSeed(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if len(f.SKUs) == 0 {
		return nil, fmt.Errorf("seed file %s lists no skus", path)
	}

	stock := make(map[string]int64, len(f.SKUs))
	for _, sku := range f.SKUs {
		if sku.ID == "" {
			return nil, fmt.Errorf("seed file %s: sku without id", path)
		}
		if sku.Stock < 0 {
			return nil, fmt.Errorf("seed file %s: sku %s has negative stock", path, sku.ID)
		}
		if _, dup := stock[sku.ID]; dup {
			return nil, fmt.Errorf("seed file %s: sku %s listed twice", path, sku.ID)
		}
		stock[sku.ID] = sku.Stock
	}
	return stock, nil
}

func seedInventoryCmd(e *env) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed-inventory",
		Short: "Set stock counts and preload the Lua scripts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return seed(cmd, e, file, false)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML seed file (default: built-in sample skus)")
	return cmd
}

func resetInventoryCmd(e *env) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "reset-inventory",
		Short: "Reseed stock and drop reservation, idempotency and rate-limit keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return seed(cmd, e, file, true)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML seed file (default: built-in sample skus)")
	return cmd
}

func seed(cmd *cobra.Command, e *env, file string, reset bool) error {
	stock, err := loadSeed(file)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	client, err := inventory.NewClient(ctx, e.cfg.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	store := inventory.NewStore(client)
	if err := store.LoadScripts(ctx); err != nil {
		return err
	}
	if err := store.Seed(ctx, stock); err != nil {
		return err
	}

	ids := make([]string, 0, len(stock))
	for id := range stock {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(cmd.OutOrStdout(), "SKU %s: %d\n", id, stock[id])
	}

	if reset {
		removed, err := store.ClearEphemeral(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d reservation, idempotency and rate-limit keys\n", removed)
	}
	return nil
}
