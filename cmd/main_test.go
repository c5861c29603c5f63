package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	var stderr bytes.Buffer
	root := newRootCommand()
	root.SetArgs(append([]string{"--config", t.TempDir()}, args...))
	root.SetOut(io.Discard)
	root.SetErr(&stderr)
	err := root.ExecuteContext(context.Background())
	return stderr.String(), err
}

func backend(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sensor-data", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `[{"timestamp":1700000000,"velocity_value":"3","frequency_value":"50"}]`)
	})
	mux.HandleFunc("/ota", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"statusCode":200}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	t.Setenv("DASHBOARD_SENSOR_ENDPOINT", srv.URL+"/sensor-data")
	t.Setenv("DASHBOARD_OTA_ENDPOINT", srv.URL+"/ota")
}

func TestRenderCommand(t *testing.T) {
	backend(t)
	out := filepath.Join(t.TempDir(), "dash.html")

	_, err := runRoot(t, "render", "--device-id", "esp32-01", "--out", out)
	require.NoError(t, err)

	html, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(html), "velocityChart")
	assert.Contains(t, string(html), "frequencyChart")
}

func TestRenderCommandMissingDevice(t *testing.T) {
	backend(t)
	out := filepath.Join(t.TempDir(), "dash.html")

	stderr, err := runRoot(t, "render", "--out", out)
	assert.Error(t, err)
	assert.Contains(t, stderr, "Please enter a device ID.")
	assert.NoFileExists(t, out)
}

func TestOTACommand(t *testing.T) {
	backend(t)

	stderr, err := runRoot(t, "ota", "--device-id", "esp32-01")
	require.NoError(t, err)
	assert.Contains(t, stderr, "OTA update triggered successfully.")
}
