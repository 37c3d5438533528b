package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/admit/internal/infrastructure/idgen"
)

func newIDCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Issue and decode unique ids",
	}

	var (
		count  int
		worker int64
	)
	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Issue ids from a local generator",
		Long: `Issue ids from a generator in this process. Ids only stay unique across
processes when each uses its own worker id, so --worker is required and may
not equal the configured idgen.worker_id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			if !cmd.Flags().Changed("worker") {
				return fmt.Errorf("--worker is required: pick a worker id that no running server uses")
			}
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.IDGen.WorkerID >= 0 && worker == cfg.IDGen.WorkerID {
				return fmt.Errorf("worker %d is the configured server worker id; ids issued here could collide with the server's", worker)
			}
			gen, err := idgen.NewGenerator(worker)
			if err != nil {
				return err
			}
			for i := 0; i < count; i++ {
				id, err := gen.Next()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	newCmd.Flags().IntVarP(&count, "count", "n", 1, "number of ids to issue")
	newCmd.Flags().Int64VarP(&worker, "worker", "w", 0, "worker id, distinct from every running server (required)")

	decodeCmd := &cobra.Command{
		Use:   "decode ID...",
		Short: "Print the timestamp, worker and sequence of ids",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				id, err := idgen.Parse(arg)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\ttime=%s\tworker=%d\tsequence=%d\n",
					id, id.Timestamp().Format(time.RFC3339Nano), id.Worker(), id.Sequence())
			}
			return nil
		},
	}

	cmd.AddCommand(newCmd, decodeCmd)
	return cmd
}
