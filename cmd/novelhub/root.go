package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"novelhub/internal/app"
	"novelhub/pkg/utils"
)

type commandContext struct {
	configPath string
	verbose    bool

	cfg    utils.Config
	logger *zap.Logger
	app    *app.App
}

// open lazily opens the store so commands that do not need it stay cheap.
func (c *commandContext) open() (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := app.Open(c.cfg, c.logger)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	root := &cobra.Command{
		Use:           "novelhub",
		Short:         "Mirror chaptered works into a local store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := utils.LoadConfig(ctx.configPath)
			if err != nil {
				return err
			}
			ctx.cfg = cfg
			ctx.logger, err = utils.NewLogger(cfg.Log, ctx.verbose)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if ctx.logger != nil {
				_ = ctx.logger.Sync()
			}
			if ctx.app != nil {
				if err := ctx.app.Close(); err != nil {
					return fmt.Errorf("close store: %w", err)
				}
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&ctx.configPath, "config", "", "config file (default $NOVELHUB_CONFIG or ~/.novelhub/config.toml)")
	root.PersistentFlags().BoolVarP(&ctx.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newFetchCommand(ctx),
		newLocalCommand(ctx),
		newDumpCommand(ctx),
		newTokenCommand(ctx),
		newRemotesCommand(ctx),
	)
	return root
}
