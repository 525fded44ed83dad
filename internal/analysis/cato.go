package analysis

import "math"

// catoDetected flags firings whose signal looks like a catastrophic
// failure. Two independent heuristics: multiple extreme spikes in the
// sample derivative, or a burn window that closes almost immediately
// despite real thrust. The spike check needs enough samples for the
// derivative statistics to mean anything.
func catoDetected(force []float64, burnStart, burnEnd int, peak float64, cfg Config) bool {
	if len(force) >= cfg.MinSamples {
		derivative := gradient(force)
		std := computeStddev(derivative)
		if std > 0 {
			spikes := 0
			for _, d := range derivative {
				if math.Abs(d) > cfg.CatoSigma*std {
					spikes++
				}
			}
			if spikes > 2 {
				return true
			}
		}
	}

	if burnEnd-burnStart < cfg.CatoMinBurnSamples && peak > cfg.CatoPeakFloor {
		return true
	}

	return false
}

// gradient returns the per-sample derivative: central differences in the
// interior, one-sided at the ends.
func gradient(values []float64) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	out[0] = values[1] - values[0]
	out[n-1] = values[n-1] - values[n-2]
	for i := 1; i < n-1; i++ {
		out[i] = (values[i+1] - values[i-1]) / 2
	}
	return out
}
