package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ponytojas/go-iot-dashboard/internal/api"
	"github.com/ponytojas/go-iot-dashboard/internal/database"
	"github.com/ponytojas/go-iot-dashboard/internal/firmware"
	"github.com/ponytojas/go-iot-dashboard/internal/metrics"
	"github.com/ponytojas/go-iot-dashboard/internal/mqtt"
	"github.com/ponytojas/go-iot-dashboard/internal/ota"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var dbWait time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Ingest MQTT telemetry into TimescaleDB and serve the sensor data and OTA API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger := opts.cfg, opts.logger
			logger.Info("starting MQTT to TimescaleDB service")

			m := metrics.New()

			db, err := database.NewTimescaleDB(ctx, cfg, dbWait, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.InitializeTable(ctx); err != nil {
				return fmt.Errorf("failed to initialize table: %w", err)
			}

			mqttClient := mqtt.NewClient(cfg, db, m, logger.Named("mqtt"))
			if err := mqttClient.Connect(ctx); err != nil {
				return err
			}
			defer mqttClient.Disconnect()

			if err := mqttClient.Subscribe(ctx); err != nil {
				return err
			}

			fw, err := firmware.NewS3Source(ctx, cfg.Firmware, logger.Named("firmware"))
			if err != nil {
				return err
			}
			otaService := ota.NewService(fw, mqttClient, m, logger.Named("ota"))

			server := api.NewServer(cfg.HTTP, db, otaService, m, logger.Named("api"))
			logger.Info("service is running", zap.String("topic", cfg.MQTT.Topic), zap.String("address", cfg.HTTP.Address))

			if err := server.Run(ctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			logger.Info("shutting down")
			return nil
		},
	}

	cmd.Flags().DurationVar(&dbWait, "db-wait", time.Minute, "how long to keep retrying the database connection")
	return cmd
}
