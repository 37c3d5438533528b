// Package cli implements admitctl, the operator tool of the admission service.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/admit/internal/config"
	"github.com/turtacn/admit/internal/infrastructure/monitoring"
	"github.com/turtacn/admit/pkg/logger"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

// NewRootCommand builds the admitctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "admitctl",
		Short: "Operate the admission service",
		Long: `admitctl issues and decodes unique ids and inspects the queues the
admission service keeps in its configured store. It can also follow the
rejection audit topic.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	cmd.AddCommand(newIDCommand(opts), newQueueCommand(opts), newAuditCommand(opts), newConfigCommand(opts))
	return cmd
}

// Execute runs admitctl and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (o *rootOptions) load() (*config.Config, logger.Logger, error) {
	cfg, _, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if !o.verbose {
		return cfg, logger.NewNopLogger(), nil
	}
	log, err := monitoring.NewZapLogger(&config.LogConfig{Level: "debug", Format: "console"})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the rate limit classes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "limiter=%s fallback=%s queue=%s\n",
				cfg.RateLimit.Backend, cfg.RateLimit.Fallback, cfg.Queue.Backend)
			for _, cl := range cfg.RateLimit.Classes {
				fmt.Fprintf(out, "class %s: %d per %s\n", cl.Name, cl.Limit, cl.Window())
			}
			for _, r := range cfg.RateLimit.Routes {
				fmt.Fprintf(out, "route %s -> %s\n", r.Prefix, r.Class)
			}
			return nil
		},
	})
	return cmd
}
