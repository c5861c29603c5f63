package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// UnknownDevice is stored when a message carries no serial number
	UnknownDevice = "Unknown_Device"
	// UnknownFirmware is stored when a message carries no firmware version
	UnknownFirmware = "Unknown"
)

var vectorAxes = []string{"x", "y", "z"}

// TelemetryMessage is the payload a device publishes on the data topic
type TelemetryMessage struct {
	CreatedAt *Number     `json:"created_at"`
	Device    DeviceInfo  `json:"device"`
	Data      []DataEntry `json:"data"`
}

// DeviceInfo identifies the publishing device
type DeviceInfo struct {
	SerialNumber    string `json:"serial_number"`
	FirmwareVersion string `json:"firmware_version"`
}

// DataEntry is one sensor measurement inside a telemetry message
type DataEntry struct {
	Name      string          `json:"name"`
	Value     json.RawMessage `json:"value"`
	Unit      string          `json:"unit"`
	Series    string          `json:"series"`
	Timestamp *Number         `json:"timestamp"`
}

// Sample is a single stored value
type Sample struct {
	Time            time.Time
	DeviceID        string
	FirmwareVersion string
	Sensor          string
	Axis            string
	Value           float64
	Unit            string
	Series          string
	SensorTime      time.Time
}

// ParseTelemetry decodes a telemetry payload and flattens it into samples.
// Entries without a name or with a non-numeric value are skipped.
func ParseTelemetry(payload []byte, now time.Time) ([]Sample, error) {
	var msg TelemetryMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode telemetry: %w", err)
	}

	created := now
	if msg.CreatedAt != nil && msg.CreatedAt.Valid() {
		created = EpochTime(msg.CreatedAt.Float64())
	}

	deviceID := msg.Device.SerialNumber
	if deviceID == "" {
		deviceID = UnknownDevice
	}
	firmware := msg.Device.FirmwareVersion
	if firmware == "" {
		firmware = UnknownFirmware
	}

	samples := make([]Sample, 0, len(msg.Data))
	for _, entry := range msg.Data {
		if entry.Name == "" {
			continue
		}
		sensorTime := created
		if entry.Timestamp != nil && entry.Timestamp.Valid() {
			sensorTime = EpochTime(entry.Timestamp.Float64())
		}
		base := Sample{
			Time:            created,
			DeviceID:        deviceID,
			FirmwareVersion: firmware,
			Sensor:          entry.Name,
			Unit:            entry.Unit,
			Series:          entry.Series,
			SensorTime:      sensorTime,
		}

		raw := bytes.TrimSpace(entry.Value)
		if len(raw) > 0 && raw[0] == '{' {
			var vec map[string]any
			if err := json.Unmarshal(raw, &vec); err != nil {
				continue
			}
			for _, axis := range vectorAxes {
				v, ok := getFloat64Value(vec, axis)
				if !ok {
					continue
				}
				s := base
				s.Axis = axis
				s.Value = v
				samples = append(samples, s)
			}
			continue
		}

		var n Number
		if err := json.Unmarshal(raw, &n); err != nil || !n.Valid() {
			continue
		}
		base.Value = n.Float64()
		samples = append(samples, base)
	}

	return samples, nil
}

// EpochTime converts fractional epoch seconds to a time
func EpochTime(sec float64) time.Time {
	whole := int64(sec)
	nanos := int64((sec - float64(whole)) * float64(time.Second))
	return time.Unix(whole, nanos)
}
