package domain

import "time"

// CalibrationPoint is one known-mass measurement used by the stand to fit
// its linear calibration.
type CalibrationPoint struct {
	RawCode int64   `json:"raw"`     // averaged ADC code under load
	MassKG  float64 `json:"mass_kg"` // reference mass on the stand
}

// Calibration is the stand's linear calibration pass-through
// (force = (raw − offset) · scale). The device owns the fit; the server
// only stores and replays it. Singleton row in PostgreSQL.
type Calibration struct {
	Offset    int64              `json:"offset"` // tare offset in ADC codes
	Scale     float64            `json:"scale"`  // newtons per ADC code
	Points    []CalibrationPoint `json:"points"`
	UpdatedAt time.Time          `json:"updated_at"`
}
