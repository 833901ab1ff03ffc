package main

import (
	"fmt"
	"time"

	"github.com/chao-dotcom/Ticket-Craze/internal/events"
	"github.com/spf13/cobra"
)

func replayDLQCmd(e *env) *cobra.Command {
	var (
		maxMessages int
		idle        time.Duration
		rate        float64
	)

	cmd := &cobra.Command{
		Use:   "replay-dlq",
		Short: "Republish dead-lettered reservations to the reservations topic",
		Long: `Reads the dead-letter topic with its own consumer group, strips the
error and failed-at headers and republishes each message unchanged otherwise.
Stops once the topic has been idle for --idle or after --max messages.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := events.NewReader(events.ReaderOptions{
				Brokers:       e.cfg.Brokers(),
				GroupID:       e.cfg.ReplayGroup,
				Topic:         e.cfg.DeadLetterTopic,
				FromBeginning: true,
			})
			defer reader.Close()

			writer := events.NewWriter(e.cfg.Brokers())
			defer writer.Close()

			replayer := events.NewReplayer(reader, writer, events.ReplayOptions{
				Target:        e.cfg.ReservationsTopic,
				IdleTimeout:   idle,
				MaxMessages:   maxMessages,
				RatePerSecond: rate,
			}, e.logger)

			n, err := replayer.Run(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d message(s) from %s to %s\n", n, e.cfg.DeadLetterTopic, e.cfg.ReservationsTopic)
			return err
		},
	}

	cmd.Flags().IntVarP(&maxMessages, "max", "n", 0, "stop after this many messages (0 = no limit)")
	cmd.Flags().DurationVar(&idle, "idle", 10*time.Second, "stop when no message arrives for this long")
	cmd.Flags().Float64Var(&rate, "rate", 100, "messages per second (0 = unthrottled)")
	return cmd
}
