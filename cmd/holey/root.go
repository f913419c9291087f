package main

import (
	"sync"

	raven "github.com/getsentry/raven-go"
	"github.com/spf13/cobra"

	"github.com/ndlib/holey"
	"github.com/ndlib/holey/config"
)

// commandContext loads the configuration and Bagger once, on first use.
type commandContext struct {
	configFlag string

	once     sync.Once
	cfg      *config.Config
	bagger   *holey.Bagger
	counters *counters
	err      error
}

func (c *commandContext) ensureBagger() (*holey.Bagger, error) {
	c.once.Do(func() {
		cfg, err := config.Load(c.configFlag)
		if err != nil {
			c.err = err
			return
		}
		if cfg.SentryDSN != "" {
			if err := raven.SetDSN(cfg.SentryDSN); err != nil {
				c.err = err
				return
			}
		}
		c.cfg = cfg
		c.counters = newCounters()
		c.bagger, c.err = cfg.NewBagger(c.counters.client())
	})
	return c.bagger, c.err
}

// close releases the Bagger's background resources.
func (c *commandContext) close() {
	if c.bagger != nil && c.bagger.Throttle != nil {
		c.bagger.Throttle.Stop()
	}
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "holey",
		Short:         "Make and check BagIt bags with remote payload files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureBagger()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path (default ~/.holey/config.toml)")

	rootCmd.AddCommand(newCreateCommand(ctx))
	rootCmd.AddCommand(newUpdateCommand(ctx))
	rootCmd.AddCommand(newValidateCommand(ctx))
	rootCmd.AddCommand(newFetchCommand(ctx))
	rootCmd.AddCommand(newRevertCommand(ctx))
	rootCmd.AddCommand(newIsBagCommand())
	return rootCmd
}
