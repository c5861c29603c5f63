package dashboard

import (
	"fmt"
	"io"
)

// User-facing alert messages
const (
	AlertMissingDeviceID = "Please enter a device ID."
	AlertInvalidData     = "Error: Invalid data returned from server."
	AlertNoData          = "No data available for the selected timeframe."
	AlertFetchFailed     = "Failed to fetch sensor data."
	AlertOTASuccess      = "OTA update triggered successfully."
	AlertOTAFailed       = "Failed to trigger OTA update."
)

// Alerter shows a message to the user
type Alerter interface {
	Alert(msg string)
}

// AlertFunc adapts a function to Alerter
type AlertFunc func(msg string)

// Alert implements Alerter
func (f AlertFunc) Alert(msg string) { f(msg) }

// WriterAlerter prints each alert on its own line
func WriterAlerter(w io.Writer) Alerter {
	return AlertFunc(func(msg string) {
		fmt.Fprintln(w, msg)
	})
}
