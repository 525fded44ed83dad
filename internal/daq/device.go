package daq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"static-fire-lab/internal/domain"
	"static-fire-lab/internal/hub"
	"static-fire-lab/internal/observability"
	"static-fire-lab/internal/storage"
)

// ErrNotConnected is returned by SendCommand when no device link is up.
var ErrNotConnected = errors.New("device not connected")

// DeviceLink forwards commands to the stand over whichever transport
// currently holds it.
type DeviceLink interface {
	SendCommand(cmd domain.DeviceCommand) error
	Connected() bool
}

// DeviceGateway accepts the stand's DAQ bridge on a WebSocket endpoint.
// At most one bridge is live: a new connection supersedes the previous
// one, so a rebooting bridge never leaves a stale link holding the slot.
type DeviceGateway struct {
	hub          *hub.Hub
	ingest       func(domain.Reading)
	calibrations storage.CalibrationStore
	logger       *log.Logger
	now          func() time.Time

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	upgrader websocket.Upgrader

	// mu guards the connection identity and serializes writes.
	mu   sync.Mutex
	conn *websocket.Conn
}

// DeviceGatewayOptions contains configuration for creating a DeviceGateway.
type DeviceGatewayOptions struct {
	Hub          *hub.Hub                 // event fan-out, required
	Ingest       func(domain.Reading)     // reading sink, required
	Calibrations storage.CalibrationStore // persists calibration replies, optional
	Logger       *log.Logger
	PingInterval time.Duration    // Default: 30s
	ReadTimeout  time.Duration    // Default: 60s
	WriteTimeout time.Duration    // Default: 10s
	Now          func() time.Time // server receipt clock. Default: time.Now
}

// NewDeviceGateway creates a device gateway.
func NewDeviceGateway(opts DeviceGatewayOptions) *DeviceGateway {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
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

	return &DeviceGateway{
		hub:          opts.Hub,
		ingest:       opts.Ingest,
		calibrations: opts.Calibrations,
		logger:       logger,
		now:          now,
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bridge dials from the stand's own address space.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Compile-time interface check.
var _ DeviceLink = (*DeviceGateway)(nil)

// HandleDevice upgrades the request and serves the bridge connection
// until it drops. Intended to be mounted on /ws/device.
func (g *DeviceGateway) HandleDevice(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Printf("Device upgrade failed: %v", err)
		return
	}

	g.mu.Lock()
	if g.conn != nil {
		// Supersede the previous bridge; its read pump will exit.
		g.conn.Close()
	}
	g.conn = conn
	g.mu.Unlock()

	observability.SetDeviceConnected("ws", true)
	g.publish(hub.Event{Type: hub.EventDeviceStatus, Data: map[string]any{"connected": true, "transport": "ws"}})
	g.logger.Printf("Device connected: %s", conn.RemoteAddr())

	go g.pingLoop(conn)
	g.readPump(conn)
}

// SendCommand writes one command frame to the live bridge.
// Returns ErrNotConnected when no bridge is up.
func (g *DeviceGateway) SendCommand(cmd domain.DeviceCommand) error {
	payload, err := MarshalFrame(FrameCommand, cmd)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		return ErrNotConnected
	}

	g.conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
	if err := g.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// Connected reports whether a bridge link is currently up.
func (g *DeviceGateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn != nil
}

// readPump consumes frames from one bridge connection until it errors.
func (g *DeviceGateway) readPump(conn *websocket.Conn) {
	defer g.drop(conn)

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
		g.handleFrame(message)
	}
}

// drop closes a connection and, if it is still the live one, flips the
// connectivity state. A superseded connection exits silently because the
// replacement already owns the status.
func (g *DeviceGateway) drop(conn *websocket.Conn) {
	conn.Close()

	g.mu.Lock()
	current := g.conn == conn
	if current {
		g.conn = nil
	}
	g.mu.Unlock()

	if !current {
		return
	}

	observability.SetDeviceConnected("ws", false)
	g.publish(hub.Event{Type: hub.EventDeviceStatus, Data: map[string]any{"connected": false, "transport": "ws"}})
	g.logger.Printf("Device disconnected")
}

// handleFrame dispatches one inbound device frame.
func (g *DeviceGateway) handleFrame(message []byte) {
	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		g.logger.Printf("Device frame decode failed: %v", err)
		return
	}

	switch frame.Type {
	case FrameReading:
		var reading domain.Reading
		if err := json.Unmarshal(frame.Data, &reading); err != nil {
			g.logger.Printf("Reading decode failed: %v", err)
			return
		}
		reading.ServerTimestamp = g.now().UnixMilli()
		observability.RecordReading("ws")
		g.ingest(reading)

	case FrameStatus:
		// Free-form device health, relayed with the connectivity flag.
		health := make(map[string]any)
		if len(frame.Data) > 0 {
			if err := json.Unmarshal(frame.Data, &health); err != nil {
				g.logger.Printf("Status decode failed: %v", err)
				return
			}
		}
		health["connected"] = true
		health["transport"] = "ws"
		g.publish(hub.Event{Type: hub.EventDeviceStatus, Data: health})

	case FrameCalibration:
		var cal domain.Calibration
		if err := json.Unmarshal(frame.Data, &cal); err != nil {
			g.logger.Printf("Calibration decode failed: %v", err)
			return
		}
		g.storeCalibration(&cal)

	case FrameAck:
		var ack Ack
		if err := json.Unmarshal(frame.Data, &ack); err != nil {
			g.logger.Printf("Ack decode failed: %v", err)
			return
		}
		g.publish(hub.Event{Type: hub.EventMessage, Data: map[string]string{
			"text": fmt.Sprintf("Device acknowledged %s", ack.Command),
		}})

	default:
		g.logger.Printf("Unknown device frame type: %q", frame.Type)
	}
}

// storeCalibration persists a calibration reply and tells the operators.
func (g *DeviceGateway) storeCalibration(cal *domain.Calibration) {
	if cal.UpdatedAt.IsZero() {
		cal.UpdatedAt = g.now().UTC()
	}

	if g.calibrations != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := g.calibrations.Save(ctx, cal)
		cancel()
		if err != nil {
			g.logger.Printf("Calibration save failed: %v", err)
			g.publish(hub.Event{Type: hub.EventError, Data: map[string]string{
				"message": "Failed to store calibration",
			}})
			return
		}
	}

	g.logger.Printf("Calibration updated: offset=%d scale=%.6f points=%d",
		cal.Offset, cal.Scale, len(cal.Points))
	g.publish(hub.Event{Type: hub.EventMessage, Data: map[string]string{
		"text": "Calibration updated",
	}})
}

// pingLoop keeps one bridge connection alive until it is dropped or
// superseded.
func (g *DeviceGateway) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(g.pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		g.mu.Lock()
		live := g.conn == conn
		if live {
			conn.SetWriteDeadline(time.Now().Add(g.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Dead link, the read pump will notice and clean up.
				live = false
			}
		}
		g.mu.Unlock()
		if !live {
			return
		}
	}
}

func (g *DeviceGateway) publish(evt hub.Event) {
	if g.hub == nil {
		return
	}
	delivered, dropped := g.hub.Publish(evt)
	observability.RecordPublish(delivered, dropped)
}
