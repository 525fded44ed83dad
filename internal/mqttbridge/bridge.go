// Package mqttbridge carries test-stand telemetry over an MQTT broker as
// an alternative to the direct WebSocket link. The stand publishes
// readings and a retained online/offline status (set as its will); the
// server publishes operator commands. Enabled only when a broker URL is
// configured.
package mqttbridge

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"static-fire-lab/internal/daq"
	"static-fire-lab/internal/domain"
	"static-fire-lab/internal/hub"
	"static-fire-lab/internal/observability"
)

// Default topics of the stand's MQTT contract.
const (
	DefaultReadingsTopic = "teststand/readings"
	DefaultStatusTopic   = "teststand/status"
	DefaultCommandsTopic = "teststand/commands"
)

// Retained status payloads published by the stand.
const (
	statusOnline  = "online"
	statusOffline = "offline"
)

const publishTimeout = 5 * time.Second

// Bridge subscribes to the stand's reading and status topics and
// publishes commands. It satisfies daq.DeviceLink so operator commands
// can fall back to MQTT when the WebSocket bridge is down.
type Bridge struct {
	client paho.Client
	hub    *hub.Hub
	ingest func(domain.Reading)
	logger *log.Logger
	now    func() time.Time

	readingsTopic string
	statusTopic   string
	commandsTopic string

	// deviceOnline tracks the last retained status payload. Connectivity
	// requires both a live broker session and an online stand.
	deviceOnline atomic.Bool
}

// Options contains configuration for creating a Bridge.
type Options struct {
	BrokerURL      string               // e.g. tcp://broker:1883, required
	ClientID       string               // Default: "static-fire-server"
	ReadingsTopic  string               // Default: DefaultReadingsTopic
	StatusTopic    string               // Default: DefaultStatusTopic
	CommandsTopic  string               // Default: DefaultCommandsTopic
	Hub            *hub.Hub             // event fan-out, required
	Ingest         func(domain.Reading) // reading sink, required
	Logger         *log.Logger
	ConnectTimeout time.Duration    // Default: 10s
	Now            func() time.Time // server receipt clock. Default: time.Now
}

// New connects to the broker and starts bridging.
func New(opts Options) (*Bridge, error) {
	if opts.BrokerURL == "" {
		return nil, fmt.Errorf("broker URL required")
	}

	b := newBridge(opts, nil)

	clientID := opts.ClientID
	if clientID == "" {
		clientID = "static-fire-server"
	}

	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(b.onConnectionLost)

	client := paho.NewClient(clientOpts)
	b.client = client

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return b, nil
}

// newBridge wires the handler state without a client; New attaches the
// real one.
func newBridge(opts Options, client paho.Client) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	readingsTopic := opts.ReadingsTopic
	if readingsTopic == "" {
		readingsTopic = DefaultReadingsTopic
	}

	statusTopic := opts.StatusTopic
	if statusTopic == "" {
		statusTopic = DefaultStatusTopic
	}

	commandsTopic := opts.CommandsTopic
	if commandsTopic == "" {
		commandsTopic = DefaultCommandsTopic
	}

	return &Bridge{
		client:        client,
		hub:           opts.Hub,
		ingest:        opts.Ingest,
		logger:        logger,
		now:           now,
		readingsTopic: readingsTopic,
		statusTopic:   statusTopic,
		commandsTopic: commandsTopic,
	}
}

// Compile-time interface check.
var _ daq.DeviceLink = (*Bridge)(nil)

// Connected reports whether the broker session is up and the stand's
// retained status says online.
func (b *Bridge) Connected() bool {
	return b.client != nil && b.client.IsConnected() && b.deviceOnline.Load()
}

// SendCommand publishes one command to the stand's command topic at
// QoS 1. Returns daq.ErrNotConnected when the MQTT path is down.
func (b *Bridge) SendCommand(cmd domain.DeviceCommand) error {
	if !b.Connected() {
		return daq.ErrNotConnected
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	// QoS 1 (at-least-once), commands must not silently vanish
	token := b.client.Publish(b.commandsTopic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish command: %w", err)
	}

	return nil
}

// Close disconnects from the broker.
func (b *Bridge) Close() error {
	if b.client != nil {
		b.client.Disconnect(1000) // 1 second timeout
	}
	return nil
}

// onConnect re-establishes subscriptions; the broker then replays the
// retained status so deviceOnline converges without a probe.
func (b *Bridge) onConnect(client paho.Client) {
	b.logger.Printf("MQTT session up, subscribing to %s and %s", b.readingsTopic, b.statusTopic)

	// QoS 0 for readings, a lost sample is stale the moment the next arrives
	if token := client.Subscribe(b.readingsTopic, 0, b.handleReading); token.Wait() && token.Error() != nil {
		b.logger.Printf("Subscribe %s failed: %v", b.readingsTopic, token.Error())
	}
	if token := client.Subscribe(b.statusTopic, 1, b.handleStatus); token.Wait() && token.Error() != nil {
		b.logger.Printf("Subscribe %s failed: %v", b.statusTopic, token.Error())
	}
}

// onConnectionLost flips connectivity until the session heals. The
// retained status replay after resubscribe restores deviceOnline.
func (b *Bridge) onConnectionLost(client paho.Client, err error) {
	b.logger.Printf("MQTT session lost: %v", err)
	b.deviceOnline.Store(false)
	observability.SetDeviceConnected("mqtt", false)
	b.publish(hub.Event{Type: hub.EventDeviceStatus, Data: map[string]any{
		"connected": false,
		"transport": "mqtt",
	}})
}

// handleReading ingests one reading message.
func (b *Bridge) handleReading(client paho.Client, msg paho.Message) {
	var reading domain.Reading
	if err := json.Unmarshal(msg.Payload(), &reading); err != nil {
		b.logger.Printf("Reading decode failed on %s: %v", msg.Topic(), err)
		return
	}

	reading.ServerTimestamp = b.now().UnixMilli()
	observability.RecordReading("mqtt")
	if b.ingest != nil {
		b.ingest(reading)
	}
}

// handleStatus tracks the stand's retained online/offline payload.
func (b *Bridge) handleStatus(client paho.Client, msg paho.Message) {
	online := string(msg.Payload()) == statusOnline

	previous := b.deviceOnline.Swap(online)
	if previous == online && msg.Retained() {
		// Replay of the status we already hold, nothing changed.
		return
	}

	observability.SetDeviceConnected("mqtt", online)
	b.publish(hub.Event{Type: hub.EventDeviceStatus, Data: map[string]any{
		"connected": online,
		"transport": "mqtt",
	}})
	b.logger.Printf("Device status via MQTT: %s", msg.Payload())
}

func (b *Bridge) publish(evt hub.Event) {
	if b.hub == nil {
		return
	}
	delivered, dropped := b.hub.Publish(evt)
	observability.RecordPublish(delivered, dropped)
}
