package ota

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ponytojas/go-iot-dashboard/internal/firmware"
)

type stubFirmware struct {
	img firmware.Image
	err error
}

func (s stubFirmware) Prepare(context.Context) (firmware.Image, error) {
	return s.img, s.err
}

type recordingPublisher struct {
	device  string
	payload []byte
	err     error
}

func (p *recordingPublisher) PublishCommand(_ context.Context, deviceID string, payload []byte) error {
	p.device = deviceID
	p.payload = payload
	return p.err
}

func TestTrigger(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewService(stubFirmware{img: firmware.Image{URL: "https://fw", CRC32: 0xdeadbeef}}, pub, nil, zaptest.NewLogger(t))

	cmd, err := svc.Trigger(context.Background(), Request{DeviceID: " esp32-01 ", Command: "OTA"})
	require.NoError(t, err)
	assert.Equal(t, "https://fw", cmd.FirmwareURL)
	assert.Equal(t, "esp32-01", pub.device)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(pub.payload, &sent))
	assert.Equal(t, "ota", sent["command"])
	assert.Equal(t, "https://fw", sent["fw_url"])
	assert.Equal(t, float64(0xdeadbeef), sent["fw_crc"])
}

func TestTriggerValidation(t *testing.T) {
	pub := &recordingPublisher{}
	svc := NewService(stubFirmware{}, pub, nil, zaptest.NewLogger(t))

	_, err := svc.Trigger(context.Background(), Request{Command: "ota"})
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = svc.Trigger(context.Background(), Request{DeviceID: "d"})
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = svc.Trigger(context.Background(), Request{DeviceID: "d", Command: "reboot"})
	assert.ErrorIs(t, err, ErrUnsupportedCommand)

	assert.Empty(t, pub.device)
}

func TestTriggerFailures(t *testing.T) {
	svc := NewService(stubFirmware{err: errors.New("s3 down")}, &recordingPublisher{}, nil, zaptest.NewLogger(t))
	_, err := svc.Trigger(context.Background(), Request{DeviceID: "d", Command: "ota"})
	assert.ErrorIs(t, err, ErrFirmware)

	svc = NewService(stubFirmware{}, &recordingPublisher{err: errors.New("broker gone")}, nil, zaptest.NewLogger(t))
	_, err = svc.Trigger(context.Background(), Request{DeviceID: "d", Command: "ota"})
	assert.ErrorIs(t, err, ErrPublish)
	assert.ErrorContains(t, err, "broker gone")
}
