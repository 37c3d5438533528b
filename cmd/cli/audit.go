package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/turtacn/admit/internal/domain/models"
	"github.com/turtacn/admit/internal/infrastructure/audit"
)

func newAuditCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read the rejection audit stream",
	}

	var (
		group string
		limit int
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print rejection events from the audit topic as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
				return fmt.Errorf("kafka brokers and topic must be configured")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			var (
				mu   sync.Mutex
				seen int
			)
			enc := json.NewEncoder(cmd.OutOrStdout())
			consumer := audit.NewRejectionConsumer(cfg.Kafka, group, func(_ context.Context, ev models.RejectionEvent) error {
				mu.Lock()
				defer mu.Unlock()
				if err := enc.Encode(ev); err != nil {
					return err
				}
				seen++
				if limit > 0 && seen >= limit {
					cancel()
				}
				return nil
			}, log)
			defer consumer.Close()

			return consumer.Run(ctx)
		},
	}
	tail.Flags().StringVar(&group, "group", "admitctl", "consumer group id")
	tail.Flags().IntVar(&limit, "max", 0, "stop after this many events (0 follows forever)")

	cmd.AddCommand(tail)
	return cmd
}
