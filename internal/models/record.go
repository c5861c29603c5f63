package models

import (
	"encoding/json"
	"time"
)

// Record is one stored telemetry message with its sensors flattened
// into "<sensor>_value", "<sensor>_unit", ... fields.
type Record struct {
	DeviceID        string
	Timestamp       time.Time
	FirmwareVersion string
	Fields          map[string]any
}

// MarshalJSON implements json.Marshaler
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+3)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["device_id"] = r.DeviceID
	out["timestamp"] = r.Timestamp.Unix()
	out["firmware_version"] = r.FirmwareVersion
	return json.Marshal(out)
}

// Add flattens a sample into the record
func (r *Record) Add(s Sample) {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	if s.Axis != "" {
		r.Fields[s.Sensor+"_"+s.Axis] = s.Value
	} else {
		r.Fields[s.Sensor+"_value"] = s.Value
	}
	r.Fields[s.Sensor+"_unit"] = s.Unit
	r.Fields[s.Sensor+"_series"] = s.Series
	r.Fields[s.Sensor+"_timestamp"] = s.SensorTime.Unix()
}

// GroupSamples folds samples ordered by time into one record per
// (device, time) pair, keeping that order.
func GroupSamples(samples []Sample) []Record {
	var records []Record
	for _, s := range samples {
		n := len(records)
		if n == 0 || !records[n-1].Timestamp.Equal(s.Time) || records[n-1].DeviceID != s.DeviceID {
			records = append(records, Record{
				DeviceID:        s.DeviceID,
				Timestamp:       s.Time,
				FirmwareVersion: s.FirmwareVersion,
				Fields:          make(map[string]any),
			})
			n++
		}
		records[n-1].Add(s)
	}
	return records
}
