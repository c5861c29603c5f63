package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ponytojas/go-iot-dashboard/config"
)

type rootOptions struct {
	configPath string
	debug      bool

	logger *zap.Logger
	cfg    *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "iot-dashboard",
		Short:         "Sensor telemetry service and dashboard for ESP32 devices",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(opts.debug)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			opts.logger = logger

			cfg, err := config.LoadConfig(opts.configPath, logger)
			if err != nil {
				logger.Warn("error loading config, using default configuration", zap.Error(err))
				cfg = config.GetDefaultConfig()
			}
			opts.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", ".", "directory containing config.yaml")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable development logging")

	root.AddCommand(
		newServeCommand(opts),
		newRenderCommand(opts),
		newOTACommand(opts),
	)
	return root
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
