package main

import (
	"fmt"

	"github.com/chao-dotcom/Ticket-Craze/internal/events"
	"github.com/spf13/cobra"
)

func setupTopicsCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "setup-topics",
		Short: "Create the reservations, orders, payments and dead-letter topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := events.DefaultTopicSpecs(e.cfg.ReservationsTopic, e.cfg.OrdersTopic, e.cfg.PaymentsTopic, e.cfg.DeadLetterTopic)
			results, err := events.EnsureTopics(cmd.Context(), e.cfg.KafkaBrokers, e.cfg.ReplicationFactor, specs, e.logger)
			for _, r := range results {
				state := "exists"
				if r.Created {
					state = "created"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", r.Name, state)
			}
			return err
		},
	}
}
