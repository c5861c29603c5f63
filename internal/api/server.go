package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ponytojas/go-iot-dashboard/config"
	"github.com/ponytojas/go-iot-dashboard/internal/metrics"
	"github.com/ponytojas/go-iot-dashboard/internal/models"
	"github.com/ponytojas/go-iot-dashboard/internal/ota"
)

// RecordReader reads stored telemetry for one device
type RecordReader interface {
	QueryRecords(ctx context.Context, deviceID string, since time.Time) ([]models.Record, error)
}

// OTATrigger sends OTA commands
type OTATrigger interface {
	Trigger(ctx context.Context, req ota.Request) (ota.Command, error)
}

// Server exposes the sensor data and OTA endpoints
type Server struct {
	router  chi.Router
	records RecordReader
	ota     OTATrigger
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     config.HTTPConfig
	now     func() time.Time
}

// NewServer wires the routes
func NewServer(cfg config.HTTPConfig, records RecordReader, trigger OTATrigger, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		records: records,
		ota:     trigger,
		metrics: m,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(cors)

	r.Get("/sensor-data", s.handleSensorData)
	r.Post("/ota", s.handleOTA)
	r.Options("/ota", s.handlePreflight)
	r.Options("/sensor-data", s.handlePreflight)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", m.Handler())

	s.router = r
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("address", s.cfg.Address))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "OPTIONS,POST,GET")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(route, status)
	})
}

func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, "CORS preflight response")
}

func (s *Server) handleSensorData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID := q.Get("device_id")
	if deviceID == "" {
		http.Error(w, "Missing device_id", http.StatusBadRequest)
		return
	}
	timeframe := q.Get("timeframe")
	if timeframe == "" {
		timeframe = models.DefaultTimeframe
	}

	since := s.now().Add(-models.ParseTimeframe(timeframe))
	records, err := s.records.QueryRecords(r.Context(), deviceID, since)
	if err != nil {
		s.logger.Error("error querying sensor data", zap.String("device_id", deviceID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	if records == nil {
		records = []models.Record{}
	}

	s.logger.Debug("sensor data query",
		zap.String("device_id", deviceID),
		zap.String("timeframe", timeframe),
		zap.Int("records", len(records)),
	)
	writeJSON(w, http.StatusOK, records)
}

type errorBody struct {
	Error string `json:"error"`
}

type otaResponse struct {
	StatusCode  int    `json:"statusCode"`
	Message     string `json:"message"`
	FirmwareURL string `json:"fw_url"`
	FirmwareCRC uint32 `json:"fw_crc"`
}

func (s *Server) handleOTA(w http.ResponseWriter, r *http.Request) {
	var req ota.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid JSON in request body"})
		return
	}

	cmd, err := s.ota.Trigger(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, otaResponse{
			StatusCode:  http.StatusOK,
			Message:     "OTA command sent successfully",
			FirmwareURL: cmd.FirmwareURL,
			FirmwareCRC: cmd.FirmwareCRC,
		})
	case errors.Is(err, ota.ErrMissingField):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Missing device id or command"})
	case errors.Is(err, ota.ErrUnsupportedCommand):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Not a OTA command"})
	case errors.Is(err, ota.ErrFirmware):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to prepare OTA data"})
	case errors.Is(err, ota.ErrPublish):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to publish MQTT message"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
