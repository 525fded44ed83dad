// Package main runs the static-fire test stand server:
// - Device gateways (continuous): WebSocket bridge link, optional MQTT bridge
// - Operator gateway: dashboard WebSocket with live telemetry and commands
// - Recording coordinator: session state machine, analysis, persistence
// - REST API: test history, exports, calibration
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"static-fire-lab/internal/analysis"
	"static-fire-lab/internal/conditioning"
	"static-fire-lab/internal/daq"
	"static-fire-lab/internal/domain"
	"static-fire-lab/internal/hub"
	"static-fire-lab/internal/mqttbridge"
	"static-fire-lab/internal/observability"
	"static-fire-lab/internal/recording"
	"static-fire-lab/internal/reporting"
	"static-fire-lab/internal/storage"
	chstore "static-fire-lab/internal/storage/clickhouse"
	"static-fire-lab/internal/storage/memory"
	"static-fire-lab/internal/storage/migrations"
	pgstore "static-fire-lab/internal/storage/postgres"
)

// Server wires the test-stand components behind one HTTP surface.
type Server struct {
	hub          *hub.Hub
	coordinator  *recording.Coordinator
	device       *deviceLink
	tests        storage.TestStore
	calibrations storage.CalibrationStore
	dbLabel      string // "postgres" or "memory", for query metrics
	logger       *log.Logger
}

// stores holds the storage implementations selected at boot.
type stores struct {
	tests        storage.TestStore
	calibrations storage.CalibrationStore
	archive      storage.SampleArchiveStore // nil when no ClickHouse DSN
	dbLabel      string
}

// deviceLink routes commands to whichever transport currently has the
// stand. The WebSocket bridge wins when both are up; MQTT is the fallback.
type deviceLink struct {
	ws   *daq.DeviceGateway
	mqtt *mqttbridge.Bridge // nil when no broker configured
}

func (l *deviceLink) Connected() bool {
	if l.ws.Connected() {
		return true
	}
	return l.mqtt != nil && l.mqtt.Connected()
}

func (l *deviceLink) SendCommand(cmd domain.DeviceCommand) error {
	if l.ws.Connected() {
		return l.ws.SendCommand(cmd)
	}
	if l.mqtt != nil && l.mqtt.Connected() {
		return l.mqtt.SendCommand(cmd)
	}
	return daq.ErrNotConnected
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	addr := flag.String("addr", getEnv("ADDR", ":8080"), "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (empty selects in-memory storage)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string for the sample archive (empty disables archiving)")
	mqttBroker := flag.String("mqtt-broker", os.Getenv("MQTT_BROKER"), "MQTT broker URL, e.g. tcp://broker:1883 (empty disables the bridge)")
	mqttReadings := flag.String("mqtt-readings-topic", getEnv("MQTT_TOPIC_READINGS", mqttbridge.DefaultReadingsTopic), "MQTT readings topic")
	mqttStatus := flag.String("mqtt-status-topic", getEnv("MQTT_TOPIC_STATUS", mqttbridge.DefaultStatusTopic), "MQTT status topic")
	mqttCommands := flag.String("mqtt-commands-topic", getEnv("MQTT_TOPIC_COMMANDS", mqttbridge.DefaultCommandsTopic), "MQTT commands topic")
	useMemory := flag.Bool("use-memory", getEnvBool("USE_MEMORY", false), "Use in-memory storage instead of PostgreSQL")

	baselineSeconds := flag.Float64("baseline-seconds", getEnvFloat("BASELINE_SECONDS", 0.5), "Leading seconds averaged for the force baseline")
	sampleRate := flag.Float64("sample-rate", getEnvFloat("SAMPLE_RATE", 80), "Nominal sample rate in Hz")
	smoothWindow := flag.Int("smooth-window", getEnvInt("SMOOTH_WINDOW", 11), "Savitzky-Golay window size (<=1 disables smoothing)")
	smoothOrder := flag.Int("smooth-order", getEnvInt("SMOOTH_ORDER", 3), "Savitzky-Golay polynomial order")
	burnThreshold := flag.Float64("burn-threshold", getEnvFloat("BURN_THRESHOLD", 0.05), "Fraction of peak thrust bounding the burn window")
	catoSigma := flag.Float64("cato-sigma", getEnvFloat("CATO_SIGMA", 5), "Derivative spike threshold in standard deviations")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if *postgresDSN == "" && !*useMemory {
		logger.Println("No --postgres-dsn given, using in-memory storage")
		*useMemory = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create stores (+ migrations when a database is configured)
	st, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory, logger)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	condCfg := conditioning.DefaultConfig()
	condCfg.BaselineDuration = *baselineSeconds
	condCfg.SampleRate = *sampleRate
	condCfg.SmoothWindow = *smoothWindow
	condCfg.SmoothPolyOrder = *smoothOrder

	anaCfg := analysis.DefaultConfig()
	anaCfg.BurnThreshold = *burnThreshold
	anaCfg.CatoSigma = *catoSigma

	// Wire the telemetry core. The device link is filled in after the
	// gateways exist; the coordinator only probes it at Start time.
	telemetryHub := hub.New(hub.Options{})
	link := &deviceLink{}

	coordinator := recording.New(recording.Options{
		Hub:          telemetryHub,
		Store:        st.tests,
		Archive:      st.archive,
		Connected:    link.Connected,
		Conditioning: condCfg,
		Analysis:     anaCfg,
		Logger:       log.New(os.Stdout, "[recording] ", log.LstdFlags|log.Lshortfile),
	})

	ingest := func(r domain.Reading) {
		delivered, dropped := telemetryHub.Publish(hub.Event{Type: hub.EventReading, Data: r})
		observability.RecordPublish(delivered, dropped)
		coordinator.Ingest(r)
	}

	deviceGateway := daq.NewDeviceGateway(daq.DeviceGatewayOptions{
		Hub:          telemetryHub,
		Ingest:       ingest,
		Calibrations: st.calibrations,
		Logger:       log.New(os.Stdout, "[device] ", log.LstdFlags|log.Lshortfile),
	})
	link.ws = deviceGateway

	var bridge *mqttbridge.Bridge
	if *mqttBroker != "" {
		bridge, err = mqttbridge.New(mqttbridge.Options{
			BrokerURL:     *mqttBroker,
			ReadingsTopic: *mqttReadings,
			StatusTopic:   *mqttStatus,
			CommandsTopic: *mqttCommands,
			Hub:           telemetryHub,
			Ingest:        ingest,
			Logger:        log.New(os.Stdout, "[mqtt] ", log.LstdFlags|log.Lshortfile),
		})
		if err != nil {
			logger.Fatalf("Failed to start MQTT bridge: %v", err)
		}
		link.mqtt = bridge
		logger.Printf("MQTT bridge connected to %s", *mqttBroker)
	}

	opsGateway := daq.NewOpsGateway(daq.OpsGatewayOptions{
		Hub:       telemetryHub,
		Commander: coordinator,
		Device:    link,
		Logger:    log.New(os.Stdout, "[ops] ", log.LstdFlags|log.Lshortfile),
	})

	server := &Server{
		hub:          telemetryHub,
		coordinator:  coordinator,
		device:       link,
		tests:        st.tests,
		calibrations: st.calibrations,
		dbLabel:      st.dbLabel,
		logger:       logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", server.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", server.handleStatus)
	mux.HandleFunc("GET /api/tests", server.handleListTests)
	mux.HandleFunc("GET /api/tests/{id}", server.handleGetTest)
	mux.HandleFunc("PATCH /api/tests/{id}", server.handlePatchTest)
	mux.HandleFunc("DELETE /api/tests/{id}", server.handleDeleteTest)
	mux.HandleFunc("GET /api/tests/{id}/csv", server.handleTestCSV)
	mux.HandleFunc("GET /api/calibration", server.handleGetCalibration)
	mux.HandleFunc("POST /api/calibration", server.handleSaveCalibration)
	mux.HandleFunc("GET /ws/device", deviceGateway.HandleDevice)
	mux.HandleFunc("GET /ws/ops", opsGateway.HandleOps)

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: mux,
	}

	// Handle shutdown signals; a second signal forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)

		go func() {
			sig := <-sigCh
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		}()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown: %v", err)
		}
		cancel()
	}()

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.RecordUptimeTick()
			}
		}
	}()

	logger.Printf("Listening on %s (device ws://%s/ws/device, ops ws://%s/ws/ops)", *addr, *addr, *addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("HTTP server error: %v", err)
	}

	if bridge != nil {
		bridge.Close()
	}
	logger.Println("Shutdown complete")
}

// createStores selects the storage backend. PostgreSQL (with migrations at
// boot) holds tests and calibration; ClickHouse, when configured, archives
// raw samples. Memory mode needs no external services.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool, logger *log.Logger) (*stores, func(), error) {
	if useMemory {
		st := &stores{
			tests:        memory.NewTestStore(),
			calibrations: memory.NewCalibrationStore(),
			dbLabel:      "memory",
		}
		return st, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	st := &stores{
		tests:        pgstore.NewTestStore(pool),
		calibrations: pgstore.NewCalibrationStore(pool),
		dbLabel:      "postgres",
	}
	cleanup := func() { pool.Close() }

	if clickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		st.archive = chstore.NewSampleArchiveStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
		logger.Println("Sample archive enabled")
	}

	return st, cleanup, nil
}

// statusResponse is the JSON response for the /status endpoint.
type statusResponse struct {
	recording.Status
	Subscribers int `json:"subscribers"`
}

// trackQuery records query metrics. A not-found miss is a normal outcome,
// not a storage error.
func (s *Server) trackQuery(op string, start time.Time, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		err = nil
	}
	observability.RecordDBQuery(s.dbLabel, op, time.Since(start).Seconds(), err)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:      s.coordinator.Status(),
		Subscribers: s.hub.SubscriberCount(),
	})
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	start := time.Now()
	tests, err := s.tests.List(r.Context(), limit, offset)
	s.trackQuery("list_tests", start, err)
	if err != nil {
		s.logger.Printf("List tests: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list tests")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tests": tests})
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	start := time.Now()
	test, err := s.tests.GetByID(r.Context(), id)
	s.trackQuery("get_test", start, err)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "test not found")
		return
	}
	if err != nil {
		s.logger.Printf("Get test %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load test")
		return
	}

	writeJSON(w, http.StatusOK, test)
}

// testPatch is the PATCH body for a test. Field presence is tracked so a
// null crop bound clears it while an absent one leaves it alone.
type testPatch struct {
	Label       *string
	CropStartMS *int64
	CropEndMS   *int64
	hasLabel    bool
	hasCrop     bool
}

func decodeTestPatch(r *http.Request) (*testPatch, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}

	patch := &testPatch{}
	if v, ok := raw["label"]; ok {
		patch.hasLabel = true
		if err := json.Unmarshal(v, &patch.Label); err != nil {
			return nil, fmt.Errorf("decode label: %w", err)
		}
	}
	if v, ok := raw["crop_start_ms"]; ok {
		patch.hasCrop = true
		if err := json.Unmarshal(v, &patch.CropStartMS); err != nil {
			return nil, fmt.Errorf("decode crop_start_ms: %w", err)
		}
	}
	if v, ok := raw["crop_end_ms"]; ok {
		patch.hasCrop = true
		if err := json.Unmarshal(v, &patch.CropEndMS); err != nil {
			return nil, fmt.Errorf("decode crop_end_ms: %w", err)
		}
	}
	return patch, nil
}

func (s *Server) handlePatchTest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	patch, err := decodeTestPatch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !patch.hasLabel && !patch.hasCrop {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if patch.hasLabel && patch.Label == nil {
		writeError(w, http.StatusBadRequest, "label must be a string")
		return
	}
	if patch.CropStartMS != nil && patch.CropEndMS != nil && *patch.CropEndMS < *patch.CropStartMS {
		writeError(w, http.StatusBadRequest, "crop window inverted")
		return
	}

	ctx := r.Context()
	if patch.hasLabel {
		start := time.Now()
		err := s.tests.UpdateLabel(ctx, id, *patch.Label)
		s.trackQuery("update_label", start, err)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "test not found")
			return
		}
		if err != nil {
			s.logger.Printf("Update label %d: %v", id, err)
			writeError(w, http.StatusInternalServerError, "failed to update test")
			return
		}
	}
	if patch.hasCrop {
		start := time.Now()
		err := s.tests.UpdateCrop(ctx, id, patch.CropStartMS, patch.CropEndMS)
		s.trackQuery("update_crop", start, err)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "test not found")
			return
		}
		if err != nil {
			s.logger.Printf("Update crop %d: %v", id, err)
			writeError(w, http.StatusInternalServerError, "failed to update test")
			return
		}
	}

	test, err := s.tests.GetByID(ctx, id)
	if err != nil {
		s.logger.Printf("Reload test %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to reload test")
		return
	}
	writeJSON(w, http.StatusOK, test.Summary())
}

func (s *Server) handleDeleteTest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	start := time.Now()
	err := s.tests.Delete(r.Context(), id)
	s.trackQuery("delete_test", start, err)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "test not found")
		return
	}
	if err != nil {
		s.logger.Printf("Delete test %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to delete test")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestCSV(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	start := time.Now()
	test, err := s.tests.GetByID(r.Context(), id)
	s.trackQuery("get_test", start, err)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "test not found")
		return
	}
	if err != nil {
		s.logger.Printf("Export test %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load test")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s", reporting.CSVFilename(test)))
	fmt.Fprint(w, reporting.RenderCSV(test.Samples))
}

func (s *Server) handleGetCalibration(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	cal, err := s.calibrations.Get(r.Context())
	s.trackQuery("get_calibration", start, err)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no calibration stored")
		return
	}
	if err != nil {
		s.logger.Printf("Get calibration: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load calibration")
		return
	}

	writeJSON(w, http.StatusOK, cal)
}

func (s *Server) handleSaveCalibration(w http.ResponseWriter, r *http.Request) {
	var cal domain.Calibration
	if err := json.NewDecoder(r.Body).Decode(&cal); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}
	if cal.Scale == 0 {
		writeError(w, http.StatusBadRequest, "scale must be non-zero")
		return
	}
	cal.UpdatedAt = time.Now().UTC()

	start := time.Now()
	err := s.calibrations.Save(r.Context(), &cal)
	s.trackQuery("save_calibration", start, err)
	if err != nil {
		s.logger.Printf("Save calibration: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save calibration")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Calibration saved"})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid test id")
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
