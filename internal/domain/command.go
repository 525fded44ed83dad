package domain

// DeviceCommand is a command forwarded to the stand. tare and calibrate
// pass through from the operator untouched by analysis; start_test and
// stop_test notify the stand of session transitions.
type DeviceCommand struct {
	Name        string  `json:"name"`                 // see command name constants
	KnownMassKG float64 `json:"known_mass,omitempty"` // required for calibrate
}

// Device command names
const (
	CommandStartTest = "start_test"
	CommandStopTest  = "stop_test"
	CommandTare      = "tare"
	CommandCalibrate = "calibrate"
)
