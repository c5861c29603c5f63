package ota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ponytojas/go-iot-dashboard/internal/firmware"
	"github.com/ponytojas/go-iot-dashboard/internal/metrics"
)

// CommandOTA is the only command devices accept through this service
const CommandOTA = "ota"

var (
	ErrMissingField       = errors.New("missing device id or command")
	ErrUnsupportedCommand = errors.New("not a OTA command")
	ErrFirmware           = errors.New("failed to prepare OTA data")
	ErrPublish            = errors.New("failed to publish MQTT message")
)

// FirmwareSource prepares the image a device should download
type FirmwareSource interface {
	Prepare(ctx context.Context) (firmware.Image, error)
}

// CommandPublisher delivers a command to one device
type CommandPublisher interface {
	PublishCommand(ctx context.Context, deviceID string, payload []byte) error
}

// Request is an OTA trigger as received from the dashboard
type Request struct {
	DeviceID string `json:"device_id"`
	Command  string `json:"command"`
}

// Command is the message published to the device
type Command struct {
	Command     string `json:"command"`
	FirmwareURL string `json:"fw_url"`
	FirmwareCRC uint32 `json:"fw_crc"`
}

// Service turns OTA requests into device commands
type Service struct {
	firmware  FirmwareSource
	publisher CommandPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewService creates an OTA service
func NewService(fw FirmwareSource, pub CommandPublisher, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		firmware:  fw,
		publisher: pub,
		metrics:   m,
		logger:    logger,
	}
}

// Trigger validates req, prepares the firmware and publishes the command.
// The published command is returned on success.
func (s *Service) Trigger(ctx context.Context, req Request) (Command, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" || req.Command == "" {
		s.metrics.ObserveOTA(metrics.ResultRefused)
		return Command{}, ErrMissingField
	}
	if !strings.EqualFold(req.Command, CommandOTA) {
		s.metrics.ObserveOTA(metrics.ResultRefused)
		return Command{}, ErrUnsupportedCommand
	}

	img, err := s.firmware.Prepare(ctx)
	if err != nil {
		s.logger.Error("error preparing firmware", zap.String("device_id", deviceID), zap.Error(err))
		s.metrics.ObserveOTA(metrics.ResultFailed)
		return Command{}, fmt.Errorf("%w: %w", ErrFirmware, err)
	}

	cmd := Command{
		Command:     CommandOTA,
		FirmwareURL: img.URL,
		FirmwareCRC: img.CRC32,
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		s.metrics.ObserveOTA(metrics.ResultFailed)
		return Command{}, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	if err := s.publisher.PublishCommand(ctx, deviceID, payload); err != nil {
		s.logger.Error("error publishing OTA command", zap.String("device_id", deviceID), zap.Error(err))
		s.metrics.ObserveOTA(metrics.ResultFailed)
		return Command{}, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	s.metrics.ObserveOTA(metrics.ResultSent)
	s.logger.Info("OTA command sent", zap.String("device_id", deviceID), zap.Uint32("fw_crc", img.CRC32))
	return cmd, nil
}
