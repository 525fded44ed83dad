package analysis

import "static-fire-lab/internal/domain"

// motorClassBins holds the standard letter classes by total impulse in
// N·s. Bins are half-open: lower bound inclusive, upper exclusive.
var motorClassBins = []struct {
	letter string
	min    float64
	max    float64
}{
	{"A", 1.26, 2.5},
	{"B", 2.5, 5},
	{"C", 5, 10},
	{"D", 10, 20},
	{"E", 20, 40},
	{"F", 40, 80},
	{"G", 80, 160},
	{"H", 160, 320},
	{"I", 320, 640},
	{"J", 640, 1280},
}

// MotorClass returns the letter classification for a total impulse:
// "A".."J" inside the standard bins, "K+" at or beyond 1280 N·s, and
// "< A" below the A floor.
func MotorClass(totalImpulse float64) string {
	for _, bin := range motorClassBins {
		if totalImpulse >= bin.min && totalImpulse < bin.max {
			return bin.letter
		}
	}
	if totalImpulse >= 1280 {
		return "K+"
	}
	return "< A"
}

// burnProfile classifies the burn by the peak's relative position inside
// the burn window: the first 30% is regressive, the last 30% progressive,
// anything between neutral. A zero-width window has no profile.
func burnProfile(peakIdx, burnStart, burnEnd int) domain.BurnProfile {
	if burnStart == burnEnd {
		return domain.BurnProfileNone
	}

	position := 0.5
	if burnEnd > burnStart {
		position = float64(peakIdx-burnStart) / float64(burnEnd-burnStart)
	}

	switch {
	case position < 0.3:
		return domain.BurnProfileRegressive
	case position > 0.7:
		return domain.BurnProfileProgressive
	default:
		return domain.BurnProfileNeutral
	}
}
