// Package recording owns the lifecycle of a static-fire recording session:
// arming, buffering inbound readings, and turning a stopped session into a
// conditioned, analyzed, persisted test record.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"static-fire-lab/internal/analysis"
	"static-fire-lab/internal/conditioning"
	"static-fire-lab/internal/domain"
	"static-fire-lab/internal/hub"
	"static-fire-lab/internal/idhash"
	"static-fire-lab/internal/observability"
	"static-fire-lab/internal/storage"
)

// Coordinator errors.
var (
	// ErrAlreadyRecording is returned by Start while a session is live.
	ErrAlreadyRecording = errors.New("recording already in progress")

	// ErrNotRecording is returned by Stop when no session is live.
	ErrNotRecording = errors.New("no active recording")

	// ErrDeviceNotConnected is returned by Start when the stand is offline.
	ErrDeviceNotConnected = errors.New("device not connected")

	// ErrNoData is returned by Stop when the session captured no samples.
	ErrNoData = errors.New("no data recorded")
)

// Status is a point-in-time snapshot of the coordinator.
type Status struct {
	Recording       bool       `json:"recording"`
	DeviceConnected bool       `json:"device_connected"`
	SessionID       string     `json:"session_id,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	DataPoints      int        `json:"data_points"`
}

// Coordinator serializes the recording state machine. Exactly one session
// can be live at a time; every transition, buffer append, and the whole
// stop pipeline (condition, analyze, fingerprint, persist, broadcast) run
// under one mutex, so sessions can never overlap or double-commit.
type Coordinator struct {
	mu        sync.Mutex
	hub       *hub.Hub
	store     storage.TestStore
	archive   storage.SampleArchiveStore
	connected func() bool
	condCfg   conditioning.Config
	anaCfg    analysis.Config
	logger    *log.Logger
	now       func() time.Time

	recording bool
	sessionID string
	startedAt time.Time
	buffer    domain.TelemetrySeries
}

// Options contains configuration for creating a Coordinator.
type Options struct {
	Hub          *hub.Hub                   // event fan-out, required
	Store        storage.TestStore          // test persistence, required
	Archive      storage.SampleArchiveStore // long-term sample archive, optional
	Connected    func() bool                // device connectivity probe. Default: always true
	Conditioning conditioning.Config        // Default: conditioning.DefaultConfig()
	Analysis     analysis.Config            // Default: analysis.DefaultConfig()
	Logger       *log.Logger
	Now          func() time.Time // Default: time.Now
}

// New creates a recording coordinator.
func New(opts Options) *Coordinator {
	connected := opts.Connected
	if connected == nil {
		connected = func() bool { return true }
	}

	condCfg := opts.Conditioning
	if condCfg == (conditioning.Config{}) {
		condCfg = conditioning.DefaultConfig()
	}

	anaCfg := opts.Analysis
	if anaCfg == (analysis.Config{}) {
		anaCfg = analysis.DefaultConfig()
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Coordinator{
		hub:       opts.Hub,
		store:     opts.Store,
		archive:   opts.Archive,
		connected: connected,
		condCfg:   condCfg,
		anaCfg:    anaCfg,
		logger:    logger,
		now:       now,
	}
}

// Start arms a new recording session and returns its session ID.
// Returns ErrDeviceNotConnected when the stand is offline and
// ErrAlreadyRecording when a session is already live; state is unchanged
// in both cases.
func (c *Coordinator) Start() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recording {
		return "", ErrAlreadyRecording
	}
	if !c.connected() {
		return "", ErrDeviceNotConnected
	}

	c.recording = true
	c.sessionID = uuid.New().String()
	c.startedAt = c.now().UTC()
	c.buffer = nil

	observability.RecordSessionStarted()
	observability.SetBufferSamples(0)
	c.publish(hub.Event{Type: hub.EventRecordingStatus, Data: c.statusLocked()})
	c.logger.Printf("Recording started: session=%s", c.sessionID)
	return c.sessionID, nil
}

// Ingest appends one reading to the live session buffer. Readings arriving
// while no session is live are ignored; the hub still fans them out.
func (c *Coordinator) Ingest(r domain.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording {
		return
	}
	c.buffer = append(c.buffer, r)
	observability.SetBufferSamples(len(c.buffer))
}

// Stop ends the live session, runs the analysis pipeline over the captured
// series, persists the record and broadcasts the outcome. The session is
// closed whatever the outcome: a second Stop returns ErrNotRecording, and
// an empty capture returns ErrNoData after broadcasting an error event.
func (c *Coordinator) Stop(ctx context.Context, label string) (*domain.TestRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording {
		return nil, ErrNotRecording
	}

	samples := c.buffer
	sessionID := c.sessionID
	startedAt := c.startedAt
	c.recording = false
	c.sessionID = ""
	c.buffer = nil
	observability.SetBufferSamples(0)

	if len(samples) == 0 {
		observability.RecordSessionCompleted("empty")
		c.publish(hub.Event{Type: hub.EventError, Data: map[string]string{"message": "No data recorded"}})
		c.publish(hub.Event{Type: hub.EventRecordingStatus, Data: c.statusLocked()})
		c.logger.Printf("Recording stopped empty: session=%s", sessionID)
		return nil, ErrNoData
	}

	analysisStart := time.Now()
	cond := conditioning.Condition(samples, c.condCfg)
	result := analysis.Compute(cond, 0, c.anaCfg)
	observability.RecordAnalysis(time.Since(analysisStart).Seconds(), result.CatoDetected)

	record := &domain.TestRecord{
		Fingerprint: idhash.ComputeTestFingerprint(sessionID, startedAt.UnixMilli(), samples),
		SessionID:   sessionID,
		Label:       label,
		StartedAt:   startedAt,
		DurationMS:  samples.DurationMS(),
		SampleCount: len(samples),
		Result:      result,
		Samples:     samples,
	}

	id, err := c.store.Insert(ctx, record)
	if err != nil {
		observability.RecordSessionCompleted("error")
		c.publish(hub.Event{Type: hub.EventError, Data: map[string]string{"message": "Failed to store test"}})
		c.publish(hub.Event{Type: hub.EventRecordingStatus, Data: c.statusLocked()})
		return nil, fmt.Errorf("store test: %w", err)
	}
	record.ID = id

	// The archive is best effort: a cold ClickHouse must not lose the test.
	if c.archive != nil {
		if err := c.archive.InsertBatch(ctx, record.Fingerprint, samples); err != nil {
			c.logger.Printf("Archive write failed for %s: %v", record.Fingerprint, err)
		} else {
			observability.RecordArchiveBatch(len(samples))
		}
	}

	observability.RecordSessionCompleted("stored")
	observability.RecordTestStored(c.now().Unix())
	c.publish(hub.Event{Type: hub.EventTestComplete, Data: record.Summary()})
	c.publish(hub.Event{Type: hub.EventRecordingStatus, Data: c.statusLocked()})
	c.logger.Printf("Test stored: id=%d session=%s samples=%d peak=%.2fN class=%s cato=%v",
		id, sessionID, record.SampleCount, result.PeakThrust, result.MotorClass, result.CatoDetected)
	return record, nil
}

// Status returns a consistent snapshot of the coordinator state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() Status {
	s := Status{
		Recording:       c.recording,
		DeviceConnected: c.connected(),
	}
	if c.recording {
		s.SessionID = c.sessionID
		startedAt := c.startedAt
		s.StartedAt = &startedAt
		s.DataPoints = len(c.buffer)
	}
	return s
}

func (c *Coordinator) publish(evt hub.Event) {
	if c.hub == nil {
		return
	}
	delivered, dropped := c.hub.Publish(evt)
	observability.RecordPublish(delivered, dropped)
}
