package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ponytojas/go-iot-dashboard/internal/models"
)

// ErrNotArray is returned when the sensor endpoint answers with valid
// JSON that is not an array.
var ErrNotArray = errors.New("response is not a JSON array")

// OTAResult is the body returned by the OTA endpoint
type OTAResult struct {
	StatusCode  int    `json:"statusCode"`
	Message     string `json:"message"`
	Error       string `json:"error"`
	FirmwareURL string `json:"fw_url"`
	FirmwareCRC uint32 `json:"fw_crc"`
}

// Client talks to the sensor data and OTA endpoints
type Client struct {
	http           *http.Client
	sensorEndpoint string
	otaEndpoint    string
}

// NewClient creates a client. A nil httpClient uses http.DefaultClient.
func NewClient(sensorEndpoint, otaEndpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		http:           httpClient,
		sensorEndpoint: sensorEndpoint,
		otaEndpoint:    otaEndpoint,
	}
}

// FetchReadings performs one GET for the device's readings in timeframe
func (c *Client) FetchReadings(ctx context.Context, deviceID, timeframe string) ([]models.Reading, error) {
	u, err := url.Parse(c.sensorEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid sensor endpoint: %w", err)
	}
	q := u.Query()
	q.Set("device_id", deviceID)
	q.Set("timeframe", timeframe)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode sensor data: %w", err)
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrNotArray
	}

	var readings []models.Reading
	if err := json.Unmarshal(raw, &readings); err != nil {
		return nil, fmt.Errorf("failed to decode sensor data: %w", err)
	}
	return readings, nil
}

// TriggerOTA posts one OTA command for the device
func (c *Client) TriggerOTA(ctx context.Context, deviceID string) (OTAResult, error) {
	payload, err := json.Marshal(struct {
		Command  string `json:"command"`
		DeviceID string `json:"device_id"`
	}{"ota", deviceID})
	if err != nil {
		return OTAResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.otaEndpoint, bytes.NewReader(payload))
	if err != nil {
		return OTAResult{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return OTAResult{}, err
	}

	var res OTAResult
	if err := json.Unmarshal(body, &res); err != nil {
		return OTAResult{}, fmt.Errorf("failed to decode OTA response: %w", err)
	}
	return res, nil
}

// do sends req and returns the body whatever the status code; callers
// judge the outcome from the body.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}
