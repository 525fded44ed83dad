package daq

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"static-fire-lab/internal/domain"
	"static-fire-lab/internal/hub"
	"static-fire-lab/internal/recording"
	"static-fire-lab/internal/storage/memory"
)

// fakeDevice is a scripted DeviceLink for command pass-through checks.
type fakeDevice struct {
	mu        sync.Mutex
	connected bool
	commands  []domain.DeviceCommand
}

func (d *fakeDevice) SendCommand(cmd domain.DeviceCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return ErrNotConnected
	}
	d.commands = append(d.commands, cmd)
	return nil
}

func (d *fakeDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeDevice) commandNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, len(d.commands))
	for i, cmd := range d.commands {
		names[i] = cmd.Name
	}
	return names
}

type opsFixture struct {
	hub    *hub.Hub
	coord  *recording.Coordinator
	device *fakeDevice
	server *httptest.Server
}

func newTestOpsGateway(t *testing.T, deviceConnected bool) *opsFixture {
	t.Helper()

	h := hub.New(hub.Options{})
	device := &fakeDevice{connected: deviceConnected}

	coord := recording.New(recording.Options{
		Hub:       h,
		Store:     memory.NewTestStore(),
		Connected: device.Connected,
		Logger:    quietLogger(),
	})

	gateway := NewOpsGateway(OpsGatewayOptions{
		Hub:       h,
		Commander: coord,
		Device:    device,
		Logger:    quietLogger(),
	})

	server := httptest.NewServer(http.HandlerFunc(gateway.HandleOps))
	t.Cleanup(server.Close)

	return &opsFixture{hub: h, coord: coord, device: device, server: server}
}

func nextFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return frame
}

// awaitFrame skips frames until one of the wanted type arrives.
func awaitFrame(t *testing.T, conn *websocket.Conn, frameType string) Frame {
	t.Helper()
	for i := 0; i < 50; i++ {
		frame := nextFrame(t, conn)
		if frame.Type == frameType {
			return frame
		}
	}
	t.Fatalf("no %s frame within 50 frames", frameType)
	return Frame{}
}

// awaitRecordingStatus skips frames until recording_status reports want.
func awaitRecordingStatus(t *testing.T, conn *websocket.Conn, want bool) recording.Status {
	t.Helper()
	for i := 0; i < 50; i++ {
		frame := awaitFrame(t, conn, hub.EventRecordingStatus)
		var status recording.Status
		if err := json.Unmarshal(frame.Data, &status); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if status.Recording == want {
			return status
		}
	}
	t.Fatalf("no recording_status with recording=%v", want)
	return recording.Status{}
}

func sendCommand(t *testing.T, conn *websocket.Conn, name string, data any) {
	t.Helper()
	payload, err := MarshalFrame(name, data)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write command: %v", err)
	}
}

func TestOpsGateway_SnapshotOnConnect(t *testing.T) {
	fx := newTestOpsGateway(t, true)

	conn := dialWS(t, fx.server.URL)
	defer conn.Close()

	frame := nextFrame(t, conn)
	if frame.Type != hub.EventDeviceStatus {
		t.Fatalf("expected device_status first, got %s", frame.Type)
	}
	var device struct {
		Connected bool `json:"connected"`
	}
	if err := json.Unmarshal(frame.Data, &device); err != nil {
		t.Fatalf("decode device status: %v", err)
	}
	if !device.Connected {
		t.Error("expected connected=true in snapshot")
	}

	frame = nextFrame(t, conn)
	if frame.Type != hub.EventRecordingStatus {
		t.Fatalf("expected recording_status second, got %s", frame.Type)
	}
	var status recording.Status
	if err := json.Unmarshal(frame.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Recording {
		t.Error("expected recording=false in snapshot")
	}
}

func TestOpsGateway_ReplayForLateJoiners(t *testing.T) {
	fx := newTestOpsGateway(t, true)

	// Readings published before any client connects.
	for i := 0; i < 3; i++ {
		fx.hub.Publish(hub.Event{Type: hub.EventReading, Data: domain.Reading{
			DeviceTimestamp: int64(1000 + i),
			Force:           float64(i),
		}})
	}

	conn := dialWS(t, fx.server.URL)
	defer conn.Close()

	// Snapshot first, then the replay in publish order.
	nextFrame(t, conn) // device_status
	nextFrame(t, conn) // recording_status

	for i := 0; i < 3; i++ {
		frame := nextFrame(t, conn)
		if frame.Type != hub.EventReading {
			t.Fatalf("expected reading replay, got %s", frame.Type)
		}
		var r domain.Reading
		if err := json.Unmarshal(frame.Data, &r); err != nil {
			t.Fatalf("decode reading: %v", err)
		}
		if r.DeviceTimestamp != int64(1000+i) {
			t.Errorf("expected replay timestamp %d, got %d", 1000+i, r.DeviceTimestamp)
		}
	}
}

func TestOpsGateway_StartAndStopFlow(t *testing.T) {
	fx := newTestOpsGateway(t, true)

	conn := dialWS(t, fx.server.URL)
	defer conn.Close()

	sendCommand(t, conn, OpStartTest, nil)

	status := awaitRecordingStatus(t, conn, true)
	if status.SessionID == "" {
		t.Error("expected session id while recording")
	}

	for i := 0; i < 60; i++ {
		fx.coord.Ingest(domain.Reading{
			DeviceTimestamp: int64(1000 + i*12),
			Force:           float64(i),
			Raw:             int64(i),
		})
	}

	sendCommand(t, conn, OpStopTest, map[string]string{"label": "burn-1"})

	frame := awaitFrame(t, conn, hub.EventTestComplete)
	var record domain.TestRecord
	if err := json.Unmarshal(frame.Data, &record); err != nil {
		t.Fatalf("decode test record: %v", err)
	}
	if record.ID == 0 {
		t.Error("expected stored record id")
	}
	if record.Label != "burn-1" {
		t.Errorf("expected label burn-1, got %q", record.Label)
	}
	if record.SampleCount != 60 {
		t.Errorf("expected 60 samples, got %d", record.SampleCount)
	}
	if len(record.Samples) != 0 {
		t.Error("broadcast record should omit the sample payload")
	}

	awaitRecordingStatus(t, conn, false)

	names := fx.device.commandNames()
	if len(names) != 2 || names[0] != domain.CommandStartTest || names[1] != domain.CommandStopTest {
		t.Errorf("expected device to see [start_test stop_test], got %v", names)
	}
}

func TestOpsGateway_StartWithoutDevice(t *testing.T) {
	fx := newTestOpsGateway(t, false)

	conn := dialWS(t, fx.server.URL)
	defer conn.Close()

	sendCommand(t, conn, OpStartTest, nil)

	frame := awaitFrame(t, conn, hub.EventError)
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if payload.Message != "Device not connected" {
		t.Errorf("expected %q, got %q", "Device not connected", payload.Message)
	}
}

func TestOpsGateway_StopWithoutRecording(t *testing.T) {
	fx := newTestOpsGateway(t, true)

	conn := dialWS(t, fx.server.URL)
	defer conn.Close()

	sendCommand(t, conn, OpStopTest, nil)

	frame := awaitFrame(t, conn, hub.EventError)
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if payload.Message != "No active recording" {
		t.Errorf("expected %q, got %q", "No active recording", payload.Message)
	}
}

func TestOpsGateway_StopEmptyBuffer(t *testing.T) {
	fx := newTestOpsGateway(t, true)

	conn := dialWS(t, fx.server.URL)
	defer conn.Close()

	sendCommand(t, conn, OpStartTest, nil)
	awaitRecordingStatus(t, conn, true)

	sendCommand(t, conn, OpStopTest, nil)

	frame := awaitFrame(t, conn, hub.EventError)
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if payload.Message != "No data recorded" {
		t.Errorf("expected %q, got %q", "No data recorded", payload.Message)
	}

	awaitRecordingStatus(t, conn, false)
}

func TestOpsGateway_TarePassThrough(t *testing.T) {
	fx := newTestOpsGateway(t, true)

	conn := dialWS(t, fx.server.URL)
	defer conn.Close()

	sendCommand(t, conn, OpTare, nil)

	frame := awaitFrame(t, conn, hub.EventMessage)
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("decode message frame: %v", err)
	}
	if payload.Text != "Tare command sent" {
		t.Errorf("expected tare confirmation, got %q", payload.Text)
	}

	names := fx.device.commandNames()
	if len(names) != 1 || names[0] != domain.CommandTare {
		t.Errorf("expected device to see [tare], got %v", names)
	}
}

func TestOpsGateway_CalibrateRequiresMass(t *testing.T) {
	fx := newTestOpsGateway(t, true)

	conn := dialWS(t, fx.server.URL)
	defer conn.Close()

	sendCommand(t, conn, OpCalibrate, map[string]any{})

	frame := awaitFrame(t, conn, hub.EventError)
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}
	if payload.Message != "Known mass required for calibration" {
		t.Errorf("expected %q, got %q", "Known mass required for calibration", payload.Message)
	}
	if len(fx.device.commandNames()) != 0 {
		t.Error("no command should reach the device")
	}

	sendCommand(t, conn, OpCalibrate, map[string]any{"known_mass": 2.5})
	awaitFrame(t, conn, hub.EventMessage)

	names := fx.device.commandNames()
	if len(names) != 1 || names[0] != domain.CommandCalibrate {
		t.Errorf("expected device to see [calibrate], got %v", names)
	}
	fx.device.mu.Lock()
	mass := fx.device.commands[0].KnownMassKG
	fx.device.mu.Unlock()
	if mass != 2.5 {
		t.Errorf("expected known mass 2.5, got %f", mass)
	}
}

func TestOpsGateway_GetStatus(t *testing.T) {
	fx := newTestOpsGateway(t, true)

	conn := dialWS(t, fx.server.URL)
	defer conn.Close()

	sendCommand(t, conn, OpGetStatus, nil)

	// Skip the snapshot frames, the reply reuses the status type.
	nextFrame(t, conn) // device_status
	nextFrame(t, conn) // recording_status
	frame := awaitFrame(t, conn, FrameStatus)

	var status recording.Status
	if err := json.Unmarshal(frame.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Recording {
		t.Error("expected recording=false")
	}
	if !status.DeviceConnected {
		t.Error("expected device_connected=true")
	}
}
