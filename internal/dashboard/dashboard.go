// Package dashboard implements the sensor dashboard: it fetches a device's
// readings, keeps one velocity and one frequency chart alive, renders them
// as an HTML page and triggers OTA updates.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-echarts/go-echarts/v2/components"
	"go.uber.org/zap"

	"github.com/ponytojas/go-iot-dashboard/internal/models"
)

var (
	ErrMissingDeviceID = errors.New("device id is required")
	ErrNoData          = errors.New("no readings returned")
	ErrOTARejected     = errors.New("OTA request was not accepted")
	ErrNoCharts        = errors.New("no charts to render")
)

// Backend is the remote side the dashboard talks to
type Backend interface {
	FetchReadings(ctx context.Context, deviceID, timeframe string) ([]models.Reading, error)
	TriggerOTA(ctx context.Context, deviceID string) (OTAResult, error)
}

// Option configures a Dashboard
type Option func(*Dashboard)

// WithLocation sets the time zone used for axis labels
func WithLocation(loc *time.Location) Option {
	return func(d *Dashboard) { d.location = loc }
}

// Dashboard owns the chart on each canvas
type Dashboard struct {
	backend  Backend
	alerter  Alerter
	logger   *zap.Logger
	location *time.Location

	mu     sync.Mutex
	charts map[Canvas]*Chart
}

// New creates a dashboard with no charts
func New(backend Backend, alerter Alerter, logger *zap.Logger, options ...Option) *Dashboard {
	d := &Dashboard{
		backend:  backend,
		alerter:  alerter,
		logger:   logger,
		location: time.Local,
		charts:   make(map[Canvas]*Chart, len(chartSpecs)),
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// FetchAndRender loads the device's readings for timeframe and replaces
// both charts. On any failure the user is alerted and the charts already
// on screen are left as they were.
func (d *Dashboard) FetchAndRender(ctx context.Context, deviceID, timeframe string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		d.alerter.Alert(AlertMissingDeviceID)
		return ErrMissingDeviceID
	}

	readings, err := d.backend.FetchReadings(ctx, deviceID, timeframe)
	switch {
	case errors.Is(err, ErrNotArray):
		d.logger.Warn("invalid sensor data", zap.String("device_id", deviceID), zap.Error(err))
		d.alerter.Alert(AlertInvalidData)
		return err
	case err != nil:
		d.logger.Error("fetch error", zap.String("device_id", deviceID), zap.Error(err))
		d.alerter.Alert(AlertFetchFailed)
		return err
	case len(readings) == 0:
		d.alerter.Alert(AlertNoData)
		return ErrNoData
	}

	labels := buildLabels(readings, d.location)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, def := range chartSpecs {
		d.charts[def.canvas].Destroy()
		d.charts[def.canvas] = newChart(def, def.series(readings, labels))
	}

	d.logger.Info("charts rendered",
		zap.String("device_id", deviceID),
		zap.String("timeframe", timeframe),
		zap.Int("readings", len(readings)),
	)
	return nil
}

// TriggerOTA asks the backend to push a firmware update to the device.
// Only a response whose statusCode is 200 counts as success.
func (d *Dashboard) TriggerOTA(ctx context.Context, deviceID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		d.alerter.Alert(AlertMissingDeviceID)
		return ErrMissingDeviceID
	}

	res, err := d.backend.TriggerOTA(ctx, deviceID)
	if err != nil {
		d.logger.Error("OTA error", zap.String("device_id", deviceID), zap.Error(err))
		d.alerter.Alert(AlertOTAFailed)
		return err
	}
	if res.StatusCode != http.StatusOK {
		d.logger.Warn("OTA rejected",
			zap.String("device_id", deviceID),
			zap.Int("status_code", res.StatusCode),
			zap.String("error", res.Error),
		)
		d.alerter.Alert(AlertOTAFailed)
		return fmt.Errorf("%w: %s", ErrOTARejected, res.Error)
	}

	d.logger.Info("OTA triggered", zap.String("device_id", deviceID), zap.String("fw_url", res.FirmwareURL))
	d.alerter.Alert(AlertOTASuccess)
	return nil
}

// Chart returns the live chart on canvas, or nil
func (d *Dashboard) Chart(canvas Canvas) *Chart {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c := d.charts[canvas]; c.Live() {
		return c
	}
	return nil
}

// Render writes an HTML page holding the live charts
func (d *Dashboard) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	page := components.NewPage()
	page.PageTitle = "Sensor Dashboard"
	added := 0
	for _, def := range chartSpecs {
		if c := d.charts[def.canvas]; c.Live() {
			page.AddCharts(c.Line())
			added++
		}
	}

	if added == 0 {
		return ErrNoCharts
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render charts: %w", err)
	}
	return nil
}
