package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ponytojas/go-iot-dashboard/config"
	"github.com/ponytojas/go-iot-dashboard/internal/metrics"
	"github.com/ponytojas/go-iot-dashboard/internal/models"
	"github.com/ponytojas/go-iot-dashboard/internal/ota"
)

type stubRecords struct {
	device  string
	since   time.Time
	records []models.Record
	err     error
}

func (s *stubRecords) QueryRecords(_ context.Context, deviceID string, since time.Time) ([]models.Record, error) {
	s.device = deviceID
	s.since = since
	return s.records, s.err
}

type stubTrigger struct {
	req ota.Request
	cmd ota.Command
	err error
}

func (s *stubTrigger) Trigger(_ context.Context, req ota.Request) (ota.Command, error) {
	s.req = req
	return s.cmd, s.err
}

var now = time.Unix(1700003600, 0)

func newTestServer(t *testing.T, records *stubRecords, trigger *stubTrigger) *Server {
	s := NewServer(config.GetDefaultConfig().HTTP, records, trigger, metrics.New(), zaptest.NewLogger(t))
	s.now = func() time.Time { return now }
	return s
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestSensorDataMissingDevice(t *testing.T) {
	s := newTestServer(t, &stubRecords{}, &stubTrigger{})
	rec := do(s, http.MethodGet, "/sensor-data", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing device_id")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSensorData(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	records := &stubRecords{records: []models.Record{{
		DeviceID:        "esp32-01",
		Timestamp:       ts,
		FirmwareVersion: "1.0",
		Fields:          map[string]any{"velocity_value": 3.0, "velocity_unit": "km/h"},
	}}}
	s := newTestServer(t, records, &stubTrigger{})

	rec := do(s, http.MethodGet, "/sensor-data?device_id=esp32-01&timeframe=12h", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "esp32-01", records.device)
	assert.Equal(t, now.Add(-12*time.Hour), records.since)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, float64(1700000000), body[0]["timestamp"])
	assert.Equal(t, 3.0, body[0]["velocity_value"])
}

func TestSensorDataDefaults(t *testing.T) {
	records := &stubRecords{}
	s := newTestServer(t, records, &stubTrigger{})

	rec := do(s, http.MethodGet, "/sensor-data?device_id=d", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, now.Add(-time.Hour), records.since)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSensorDataStoreError(t *testing.T) {
	s := newTestServer(t, &stubRecords{err: errors.New("db down")}, &stubTrigger{})
	rec := do(s, http.MethodGet, "/sensor-data?device_id=d", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"db down"}`, rec.Body.String())
}

func TestOTA(t *testing.T) {
	trigger := &stubTrigger{cmd: ota.Command{Command: "ota", FirmwareURL: "https://fw", FirmwareCRC: 7}}
	s := newTestServer(t, &stubRecords{}, trigger)

	rec := do(s, http.MethodPost, "/ota", `{"command":"ota","device_id":"esp32-01"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ota.Request{DeviceID: "esp32-01", Command: "ota"}, trigger.req)
	assert.JSONEq(t, `{"statusCode":200,"message":"OTA command sent successfully","fw_url":"https://fw","fw_crc":7}`, rec.Body.String())
}

func TestOTAErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
		code int
		msg  string
	}{
		{name: "invalid json", body: `{`, code: http.StatusBadRequest, msg: "Invalid JSON in request body"},
		{name: "missing", body: `{}`, err: ota.ErrMissingField, code: http.StatusBadRequest, msg: "Missing device id or command"},
		{name: "command", body: `{}`, err: ota.ErrUnsupportedCommand, code: http.StatusBadRequest, msg: "Not a OTA command"},
		{name: "firmware", body: `{}`, err: ota.ErrFirmware, code: http.StatusInternalServerError, msg: "Failed to prepare OTA data"},
		{name: "publish", body: `{}`, err: ota.ErrPublish, code: http.StatusInternalServerError, msg: "Failed to publish MQTT message"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, &stubRecords{}, &stubTrigger{err: tc.err})
			rec := do(s, http.MethodPost, "/ota", tc.body)
			assert.Equal(t, tc.code, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.msg, body["error"])
			assert.NotEqual(t, float64(200), body["statusCode"])
		})
	}
}

func TestPreflight(t *testing.T) {
	s := newTestServer(t, &stubRecords{}, &stubTrigger{})
	rec := do(s, http.MethodOptions, "/ota", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OPTIONS,POST,GET", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &stubRecords{}, &stubTrigger{})
	do(s, http.MethodGet, "/sensor-data?device_id=d", "")

	rec := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `iot_dashboard_http_requests_total{code="200",route="/sensor-data"} 1`)
}

func TestRunShutsDown(t *testing.T) {
	cfg := config.GetDefaultConfig().HTTP
	cfg.Address = "127.0.0.1:0"
	s := NewServer(cfg, &stubRecords{}, &stubTrigger{}, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
