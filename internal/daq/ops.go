package daq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"static-fire-lab/internal/domain"
	"static-fire-lab/internal/hub"
	"static-fire-lab/internal/observability"
	"static-fire-lab/internal/recording"
)

// Operator command names on the ops channel.
const (
	OpStartTest = "start_test"
	OpStopTest  = "stop_test"
	OpTare      = "tare"
	OpCalibrate = "calibrate"
	OpGetStatus = "get_status"
)

// Commander drives the recording session lifecycle on behalf of an
// operator client.
type Commander interface {
	Start() (string, error)
	Stop(ctx context.Context, label string) (*domain.TestRecord, error)
	Status() recording.Status
}

// Compile-time interface check.
var _ Commander = (*recording.Coordinator)(nil)

// commandTimeout bounds the stop pipeline so a slow database cannot pin
// an operator connection forever.
const commandTimeout = 30 * time.Second

// OpsGateway serves operator/dashboard clients: every hub event goes out
// as one JSON frame, and inbound frames carry session and device
// commands. Command errors go back to the issuing client only.
type OpsGateway struct {
	hub       *hub.Hub
	commander Commander
	device    DeviceLink
	logger    *log.Logger

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	upgrader websocket.Upgrader
	clients  atomic.Int64
}

// OpsGatewayOptions contains configuration for creating an OpsGateway.
type OpsGatewayOptions struct {
	Hub          *hub.Hub   // event fan-out, required
	Commander    Commander  // session control, required
	Device       DeviceLink // command pass-through, required
	Logger       *log.Logger
	PingInterval time.Duration // Default: 30s
	ReadTimeout  time.Duration // Default: 60s
	WriteTimeout time.Duration // Default: 10s
}

// NewOpsGateway creates an operator gateway.
func NewOpsGateway(opts OpsGatewayOptions) *OpsGateway {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}

	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	return &OpsGateway{
		hub:          opts.Hub,
		commander:    opts.Commander,
		device:       opts.Device,
		logger:       logger,
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// opsClient is the per-connection queue for frames addressed to one
// client only (command errors, replies, the connect snapshot).
type opsClient struct {
	direct chan []byte
}

// HandleOps upgrades the request and serves one operator client until it
// disconnects. Intended to be mounted on /ws/ops.
func (g *OpsGateway) HandleOps(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Printf("Ops upgrade failed: %v", err)
		return
	}

	observability.SetOpsClients(int(g.clients.Add(1)))
	defer func() {
		observability.SetOpsClients(int(g.clients.Add(-1)))
	}()

	events, cancel := g.hub.Subscribe()
	defer cancel()

	// Snapshot before the live stream: current device and recording
	// state, then the recent-reading replay for the live view.
	if err := g.writeSnapshot(conn); err != nil {
		conn.Close()
		return
	}

	client := &opsClient{direct: make(chan []byte, 16)}
	go g.writePump(conn, events, client.direct)

	conn.SetReadDeadline(time.Now().Add(g.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.readTimeout))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(g.readTimeout))
		g.handleCommand(client, message)
	}
}

// writeSnapshot sends the connect-time state to a fresh client.
func (g *OpsGateway) writeSnapshot(conn *websocket.Conn) error {
	snapshot := []hub.Event{
		{Type: hub.EventDeviceStatus, Data: map[string]any{"connected": g.device.Connected()}},
		{Type: hub.EventRecordingStatus, Data: g.commander.Status()},
	}
	snapshot = append(snapshot, g.hub.Recent()...)

	for _, evt := range snapshot {
		payload, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		if err := g.writeFrame(conn, payload); err != nil {
			return err
		}
	}
	return nil
}

// writePump owns all writes to one client: hub events, direct frames and
// keepalive pings. Exits on the first write failure or when the hub
// subscription is cancelled.
func (g *OpsGateway) writePump(conn *websocket.Conn, events <-chan hub.Event, direct <-chan []byte) {
	ticker := time.NewTicker(g.pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				g.logger.Printf("Event marshal failed: %v", err)
				continue
			}
			if g.writeFrame(conn, payload) != nil {
				return
			}
		case payload := <-direct:
			if g.writeFrame(conn, payload) != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
			if conn.WriteMessage(websocket.PingMessage, nil) != nil {
				return
			}
		}
	}
}

func (g *OpsGateway) writeFrame(conn *websocket.Conn, payload []byte) error {
	conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// handleCommand dispatches one inbound operator frame.
func (g *OpsGateway) handleCommand(client *opsClient, message []byte) {
	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		g.logger.Printf("Ops frame decode failed: %v", err)
		return
	}

	switch frame.Type {
	case OpStartTest:
		g.handleStartTest(client)
	case OpStopTest:
		g.handleStopTest(client, frame.Data)
	case OpTare:
		g.handleTare(client)
	case OpCalibrate:
		g.handleCalibrate(client, frame.Data)
	case OpGetStatus:
		g.send(client, FrameStatus, g.commander.Status())
	default:
		g.logger.Printf("Unknown ops command: %q", frame.Type)
	}
}

func (g *OpsGateway) handleStartTest(client *opsClient) {
	sessionID, err := g.commander.Start()
	if err != nil {
		g.sendError(client, commandErrorMessage(err))
		return
	}
	g.logger.Printf("Test recording started: session=%s", sessionID)

	// The stand is told the session state changed; best effort.
	if err := g.device.SendCommand(domain.DeviceCommand{Name: domain.CommandStartTest}); err != nil {
		g.logger.Printf("start_test not delivered to device: %v", err)
	}
}

func (g *OpsGateway) handleStopTest(client *opsClient, data json.RawMessage) {
	var params struct {
		Label string `json:"label"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &params); err != nil {
			g.logger.Printf("stop_test params decode failed: %v", err)
		}
	}

	ctx, cancelCtx := context.WithTimeout(context.Background(), commandTimeout)
	defer cancelCtx()

	record, err := g.commander.Stop(ctx, params.Label)
	sessionEnded := err == nil || errors.Is(err, recording.ErrNoData)

	if sessionEnded {
		if cmdErr := g.device.SendCommand(domain.DeviceCommand{Name: domain.CommandStopTest}); cmdErr != nil {
			g.logger.Printf("stop_test not delivered to device: %v", cmdErr)
		}
	}

	switch {
	case err == nil:
		g.logger.Printf("Test recording stopped: id=%d samples=%d", record.ID, record.SampleCount)
	case errors.Is(err, recording.ErrNoData):
		// Already broadcast as an error event by the coordinator.
		g.logger.Printf("Test recording stopped empty")
	default:
		g.sendError(client, commandErrorMessage(err))
	}
}

func (g *OpsGateway) handleTare(client *opsClient) {
	if !g.device.Connected() {
		g.sendError(client, "Device not connected")
		return
	}
	if err := g.device.SendCommand(domain.DeviceCommand{Name: domain.CommandTare}); err != nil {
		g.sendError(client, commandErrorMessage(err))
		return
	}
	g.sendText(client, "Tare command sent")
}

func (g *OpsGateway) handleCalibrate(client *opsClient, data json.RawMessage) {
	if !g.device.Connected() {
		g.sendError(client, "Device not connected")
		return
	}

	var params struct {
		KnownMass *float64 `json:"known_mass"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &params); err != nil {
			g.logger.Printf("calibrate params decode failed: %v", err)
		}
	}
	if params.KnownMass == nil {
		g.sendError(client, "Known mass required for calibration")
		return
	}

	cmd := domain.DeviceCommand{Name: domain.CommandCalibrate, KnownMassKG: *params.KnownMass}
	if err := g.device.SendCommand(cmd); err != nil {
		g.sendError(client, commandErrorMessage(err))
		return
	}
	g.sendText(client, fmt.Sprintf("Calibration with %.3f kg sent", *params.KnownMass))
}

// commandErrorMessage maps command failures to operator-facing text.
func commandErrorMessage(err error) string {
	switch {
	case errors.Is(err, recording.ErrDeviceNotConnected), errors.Is(err, ErrNotConnected):
		return "Device not connected"
	case errors.Is(err, recording.ErrNotRecording):
		return "No active recording"
	case errors.Is(err, recording.ErrNoData):
		return "No data recorded"
	case errors.Is(err, recording.ErrAlreadyRecording):
		return "Already recording"
	default:
		return "Command failed"
	}
}

// send queues a frame for this client only; a stalled client drops it.
func (g *OpsGateway) send(client *opsClient, frameType string, payload any) {
	data, err := MarshalFrame(frameType, payload)
	if err != nil {
		g.logger.Printf("Frame marshal failed: %v", err)
		return
	}
	select {
	case client.direct <- data:
	default:
	}
}

func (g *OpsGateway) sendError(client *opsClient, message string) {
	g.send(client, hub.EventError, map[string]string{"message": message})
}

func (g *OpsGateway) sendText(client *opsClient, text string) {
	g.send(client, hub.EventMessage, map[string]string{"text": text})
}
