package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ponytojas/go-iot-dashboard/internal/dashboard"
)

func newDashboard(opts *rootOptions, cmd *cobra.Command) *dashboard.Dashboard {
	cfg := opts.cfg.Dashboard
	client := dashboard.NewClient(cfg.SensorEndpoint, cfg.OTAEndpoint, &http.Client{Timeout: cfg.RequestTimeout})
	return dashboard.New(client, dashboard.WriterAlerter(cmd.ErrOrStderr()), opts.logger.Named("dashboard"))
}

func newRenderCommand(opts *rootOptions) *cobra.Command {
	var deviceID, timeframe, output string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Fetch a device's readings and write the velocity and frequency charts as HTML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if timeframe == "" {
				timeframe = opts.cfg.Dashboard.Timeframe
			}
			if output == "" {
				output = opts.cfg.Dashboard.Output
			}

			d := newDashboard(opts, cmd)
			if err := d.FetchAndRender(cmd.Context(), deviceID, timeframe); err != nil {
				return err
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer f.Close()

			if err := d.Render(f); err != nil {
				return err
			}
			opts.logger.Info("dashboard written", zap.String("path", output))
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceID, "device-id", "", "device to chart")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "window to chart (1h, 12h, 1d)")
	cmd.Flags().StringVarP(&output, "out", "o", "", "HTML file to write")
	return cmd
}

func newOTACommand(opts *rootOptions) *cobra.Command {
	var deviceID string

	cmd := &cobra.Command{
		Use:   "ota",
		Short: "Trigger an over-the-air firmware update on a device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return newDashboard(opts, cmd).TriggerOTA(cmd.Context(), deviceID)
		},
	}

	cmd.Flags().StringVar(&deviceID, "device-id", "", "device to update")
	return cmd
}
