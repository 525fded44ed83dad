package domain

// ConditionedSeries is a baseline-corrected, clamped, optionally smoothed
// force-vs-time series. Invariant: the three slices have equal length and
// both force columns are non-negative.
type ConditionedSeries struct {
	Time          []float64 // seconds, relative to the first sample
	ForceRaw      []float64 // baseline-removed, clamped force (N)
	ForceSmoothed []float64 // smoothed force (N); equals ForceRaw when smoothing is skipped
}

// Len returns the number of samples.
func (c *ConditionedSeries) Len() int {
	return len(c.Time)
}
