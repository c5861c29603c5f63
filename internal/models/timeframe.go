package models

import "time"

// DefaultTimeframe is used when a query names no known window
const DefaultTimeframe = "1h"

var timeframes = map[string]time.Duration{
	"1h":  time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseTimeframe maps a timeframe selector to the length of the window.
// Unknown selectors fall back to one hour.
func ParseTimeframe(tf string) time.Duration {
	if d, ok := timeframes[tf]; ok {
		return d
	}
	return timeframes[DefaultTimeframe]
}
