// Package daq carries test-stand telemetry over WebSocket: a device
// gateway the stand's bridge connects to, an operator gateway for live
// dashboards, and a stream client for bridges and simulators.
package daq

import (
	"encoding/json"
	"fmt"
)

// Frame types on the device channel. Operator clients receive hub events
// in the same envelope shape, so both sockets speak {"type", "data"}.
const (
	FrameReading     = "reading"
	FrameStatus      = "status"
	FrameCalibration = "calibration"
	FrameAck         = "ack"
	FrameCommand     = "command"
)

// Frame is the wire envelope of both WebSocket channels. Data stays raw
// until the frame type selects a payload shape.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Ack is the device's acknowledgement of a command, by name.
type Ack struct {
	Command string `json:"command"`
}

// MarshalFrame wraps a payload in the wire envelope.
func MarshalFrame(frameType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", frameType, err)
	}
	return json.Marshal(Frame{Type: frameType, Data: data})
}
