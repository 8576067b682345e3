package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ordersync/backend/internal/bootstrap"
	"github.com/ordersync/backend/internal/infrastructure/config"
	"github.com/ordersync/backend/internal/infrastructure/logger"
)

// componentLoader wires the services a command needs. The returned func
// releases them.
type componentLoader func(ctx context.Context, opts *options) (*bootstrap.Components, func(), error)

type options struct {
	logLevel string
	jsonOut  bool
	noColor  bool
}

func newRootCmd(load componentLoader) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "ordersyncctl",
		Short:         "Operate the order sync service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print results as JSON")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		syncCmd(opts, load),
		statusCmd(opts, load),
		backfillCmd(opts, load),
		deadLetterCmd(opts, load),
	)
	return root
}

// loadComponents reads config.toml and the environment and wires the
// services without starting any consumer
func loadComponents(ctx context.Context, opts *options) (*bootstrap.Components, func(), error) {
	log, err := logger.New(&logger.Config{Level: opts.logLevel, Format: "console", Output: "stderr"})
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	c, err := bootstrap.Build(ctx, cfg, log, bootstrap.Options{AutoMigrate: true})
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := c.Close(); err != nil {
			log.Warn("Failed to close components", zap.Error(err))
		}
		_ = log.Sync()
	}
	return c, release, nil
}
