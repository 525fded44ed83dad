package conditioning

import (
	"static-fire-lab/internal/domain"
)

// Config holds signal-conditioning tunables. Zero values are not usable;
// start from DefaultConfig.
type Config struct {
	BaselineDuration float64 // seconds of leading samples averaged for the baseline
	SampleRate       float64 // nominal sample rate in Hz
	SmoothWindow     int     // Savitzky-Golay window size; <=1 disables smoothing
	SmoothPolyOrder  int     // polynomial order for smoothing
}

// DefaultConfig returns the stand's default conditioning parameters.
func DefaultConfig() Config {
	return Config{
		BaselineDuration: 0.5,
		SampleRate:       80,
		SmoothWindow:     11,
		SmoothPolyOrder:  3,
	}
}

// Condition converts a raw telemetry series into a conditioned series:
// baseline removal over the leading window, non-negativity clamp, then
// optional smoothing. Never fails; a degenerate smoothing fit falls back
// to the clamped series.
func Condition(series domain.TelemetrySeries, cfg Config) *domain.ConditionedSeries {
	timeData := series.RelativeSeconds()
	force := series.Forces()

	removeBaseline(force, cfg)
	clampNonNegative(force)

	smoothed := copyValues(force)
	if cfg.SmoothWindow > 1 {
		smoothed = smoothForce(force, cfg.SmoothWindow, cfg.SmoothPolyOrder)
	}

	return &domain.ConditionedSeries{
		Time:          timeData,
		ForceRaw:      force,
		ForceSmoothed: smoothed,
	}
}

// removeBaseline subtracts the mean of the leading baseline window from the
// whole series. Skipped when the series is not longer than the window.
func removeBaseline(force []float64, cfg Config) {
	baselineSamples := int(cfg.BaselineDuration * cfg.SampleRate)
	if baselineSamples <= 0 || len(force) <= baselineSamples {
		return
	}

	var sum float64
	for _, f := range force[:baselineSamples] {
		sum += f
	}
	baseline := sum / float64(baselineSamples)

	for i := range force {
		force[i] -= baseline
	}
}

// clampNonNegative zeroes any negative values left by baseline removal.
func clampNonNegative(force []float64) {
	for i, f := range force {
		if f < 0 {
			force[i] = 0
		}
	}
}

// smoothForce applies the Savitzky-Golay filter with the window clipped to
// the series length and forced odd. Returns an untouched copy when the
// effective window is too small for the polynomial order or the fit is
// numerically degenerate.
func smoothForce(force []float64, window, order int) []float64 {
	w := window
	if w > len(force) {
		w = len(force)
	}
	if w%2 == 0 {
		w--
	}
	if w < order+2 {
		return copyValues(force)
	}

	smoothed, err := savitzkyGolay(force, w, order)
	if err != nil {
		return copyValues(force)
	}
	return smoothed
}

func copyValues(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	return out
}
