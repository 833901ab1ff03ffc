// Command flashctl runs operator tasks against the flash-sale stack.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chao-dotcom/Ticket-Craze/pkg/config"
	pkglogger "github.com/chao-dotcom/Ticket-Craze/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

// env is filled by the root command before any subcommand runs.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	e := &env{}
	rootCmd := &cobra.Command{
		Use:          "flashctl",
		Short:        "Operator tooling for the flash-sale services",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := pkglogger.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}

	rootCmd.AddCommand(replayDLQCmd(e))
	rootCmd.AddCommand(setupTopicsCmd(e))
	rootCmd.AddCommand(seedInventoryCmd(e))
	rootCmd.AddCommand(resetInventoryCmd(e))
	rootCmd.AddCommand(migrateCmd(e))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
