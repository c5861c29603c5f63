package models

import (
	"encoding/json"
	"math"
	"time"
)

const (
	// DefaultVelocityUnit is used when a reading carries no velocity unit
	DefaultVelocityUnit = "km/h"
	// DefaultFrequencyUnit is used when a reading carries no frequency unit
	DefaultFrequencyUnit = "Hz"
)

// Reading is the dashboard's view of one record returned by the
// sensor data endpoint.
type Reading struct {
	Timestamp      Number `json:"timestamp"`
	VelocityValue  Number `json:"velocity_value"`
	FrequencyValue Number `json:"frequency_value"`
	VelocityUnit   string `json:"velocity_unit"`
	FrequencyUnit  string `json:"frequency_unit"`
}

// UnmarshalJSON implements json.Unmarshaler. Numeric fields that are
// absent decode to NaN rather than zero.
func (r *Reading) UnmarshalJSON(data []byte) error {
	type plain Reading
	p := plain{
		Timestamp:      Number(math.NaN()),
		VelocityValue:  Number(math.NaN()),
		FrequencyValue: Number(math.NaN()),
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Reading(p)
	return nil
}

// Time returns the reading's timestamp, or the zero time if it has none
func (r Reading) Time() time.Time {
	if !r.Timestamp.Valid() {
		return time.Time{}
	}
	return EpochTime(r.Timestamp.Float64())
}
