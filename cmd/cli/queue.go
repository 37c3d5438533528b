package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/admit/internal/app"
	"github.com/turtacn/admit/internal/domain/service"
)

// openQueue connects to the configured queue store. The returned func
// releases the connections.
func openQueue(ctx context.Context, opts *rootOptions) (service.QueueStore, func(), error) {
	cfg, log, err := opts.load()
	if err != nil {
		return nil, nil, err
	}
	rc, db, err := app.Stores(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	closeAll := func() {
		if rc != nil {
			_ = rc.Close()
		}
		if db != nil {
			_ = db.Close()
		}
	}
	store, err := app.QueueStore(ctx, cfg, rc, db, log)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return store, closeAll, nil
}

func newQueueCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit queues in the configured store",
		Long: `Queue commands operate on the store named by queue.backend. With the
memory backend every invocation sees an empty store of its own.`,
	}

	withStore := func(run func(ctx context.Context, cmd *cobra.Command, store service.QueueStore, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store, closeAll, err := openQueue(ctx, opts)
			if err != nil {
				return err
			}
			defer closeAll()
			return run(ctx, cmd, store, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "size KEY",
			Short: "Print the length of a queue",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store service.QueueStore, args []string) error {
				n, err := store.Size(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "peek KEY",
			Short: "Print the head of a queue without removing it",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store service.QueueStore, args []string) error {
				v, ok, err := store.Peek(ctx, args[0])
				return printHead(cmd, v, ok, err)
			}),
		},
		&cobra.Command{
			Use:   "pop KEY",
			Short: "Remove and print the head of a queue",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store service.QueueStore, args []string) error {
				v, ok, err := store.Pop(ctx, args[0])
				return printHead(cmd, v, ok, err)
			}),
		},
		&cobra.Command{
			Use:   "push KEY VALUE",
			Short: "Append a raw value to a queue",
			Args:  cobra.ExactArgs(2),
			RunE: withStore(func(ctx context.Context, cmd *cobra.Command, store service.QueueStore, args []string) error {
				return store.Push(ctx, args[0], []byte(args[1]))
			}),
		},
	)
	return cmd
}

func printHead(cmd *cobra.Command, v []byte, ok bool, err error) error {
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.ErrOrStderr(), "(empty)")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(v))
	return nil
}
