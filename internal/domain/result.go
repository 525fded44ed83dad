package domain

// BurnProfile classifies where the thrust peak falls inside the burn window.
type BurnProfile string

const (
	BurnProfileRegressive  BurnProfile = "regressive"
	BurnProfileProgressive BurnProfile = "progressive"
	BurnProfileNeutral     BurnProfile = "neutral"
	BurnProfileNone        BurnProfile = "none"
)

// String returns the string representation of BurnProfile.
func (p BurnProfile) String() string {
	return string(p)
}

// IsValid checks if the profile is a valid value.
func (p BurnProfile) IsValid() bool {
	switch p {
	case BurnProfileRegressive, BurnProfileProgressive, BurnProfileNeutral, BurnProfileNone:
		return true
	}
	return false
}

// AnalysisResult is the full metric set computed from one conditioned
// series. Produced exactly once per series and immutable thereafter.
// Values are rounded at this boundary; internal math keeps full precision.
type AnalysisResult struct {
	PeakThrust        float64     `json:"peak_thrust"`        // N, 2 decimals
	TotalImpulse      float64     `json:"total_impulse"`      // N·s over the full series, 2 decimals
	AverageThrust     float64     `json:"average_thrust"`     // N over the burn window, 2 decimals
	BurnTime          float64     `json:"burn_time"`          // s, 3 decimals
	TimeToPeak        float64     `json:"time_to_peak"`       // s from burn start, 3 decimals
	RiseRate          float64     `json:"rise_rate"`          // N/s burn start → peak, 2 decimals
	DecayRate         float64     `json:"decay_rate"`         // N/s peak → burn end, 2 decimals
	ThrustStability   float64     `json:"thrust_stability"`   // N stddev over burn window, 2 decimals
	ImpulseEfficiency float64     `json:"impulse_efficiency"` // impulse / (peak·burn_time), 3 decimals
	TimeTo90Percent   float64     `json:"time_to_90_percent"` // s from burn start, 3 decimals
	BurnProfile       BurnProfile `json:"burn_profile"`
	MotorClass        string      `json:"motor_class"`                // "A".."J", "K+", "< A"
	SpecificImpulse   float64     `json:"specific_impulse,omitempty"` // s, 2 decimals; 0 when no mass given
	CatoDetected      bool        `json:"cato_detected"`
	Warnings          []string    `json:"warnings"`
}
