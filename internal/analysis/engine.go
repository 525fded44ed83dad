package analysis

import (
	"math"

	"static-fire-lab/internal/domain"
)

// Warning strings surfaced to operators alongside the metric set.
const (
	WarningInsufficientData = "Insufficient data points for reliable analysis"
	WarningPossibleCato     = "Possible CATO (catastrophic failure) detected"
)

// Config holds analysis tunables. The anomaly thresholds are empirical,
// not physically derived, and do not generalize across sensor or motor
// scales; treat them as deployment configuration.
type Config struct {
	BurnThreshold      float64 // fraction of peak thrust that bounds the burn window
	MinSamples         int     // below this the insufficient-data warning is attached
	CatoSigma          float64 // derivative spike threshold in standard deviations
	CatoMinBurnSamples int     // burns shorter than this with real thrust flag a CATO
	CatoPeakFloor      float64 // N of peak required before a short burn flags a CATO
	Gravity            float64 // m/s², specific-impulse conversion
}

// DefaultConfig returns the stock analysis parameters.
func DefaultConfig() Config {
	return Config{
		BurnThreshold:      0.05,
		MinSamples:         10,
		CatoSigma:          5,
		CatoMinBurnSamples: 10,
		CatoPeakFloor:      10,
		Gravity:            9.81,
	}
}

// Compute derives the full metric set from a conditioned series. Pure and
// total: it never mutates its input and never fails — degenerate input
// resolves to documented zero values plus warnings. Rounding happens here,
// at the result boundary; all internal math keeps full precision.
// propellantMassKG enables specific impulse when positive.
func Compute(cond *domain.ConditionedSeries, propellantMassKG float64, cfg Config) domain.AnalysisResult {
	force := cond.ForceSmoothed
	timeData := cond.Time
	n := len(force)

	warnings := []string{}
	if n < cfg.MinSamples {
		warnings = append(warnings, WarningInsufficientData)
	}

	if n == 0 {
		return domain.AnalysisResult{
			BurnProfile: domain.BurnProfileNone,
			MotorClass:  MotorClass(0),
			Warnings:    warnings,
		}
	}

	peakIdx := argMax(force)
	peak := force[peakIdx]
	mask := burnMask(force, peak*cfg.BurnThreshold)
	burnStart, burnEnd := burnIndices(mask)

	totalImpulse := trapezoid(force, timeData)
	averageThrust := computeMean(masked(force, mask))

	var burnTime float64
	if burnStart != burnEnd {
		burnTime = timeData[burnEnd] - timeData[burnStart]
	}

	var timeToPeak float64
	if burnStart < n {
		timeToPeak = timeData[peakIdx] - timeData[burnStart]
	}

	riseRate := slope(timeData, force, burnStart, peakIdx)
	decayRate := slope(timeData, force, peakIdx, burnEnd)

	stability := computeStddev(masked(force, mask))

	var efficiency float64
	if peak != 0 && burnTime != 0 {
		efficiency = totalImpulse / (peak * burnTime)
	}

	timeTo90 := timeToFraction(timeData, force, burnStart, 0.9*peak)

	var specificImpulse float64
	if propellantMassKG > 0 {
		specificImpulse = totalImpulse / (propellantMassKG * cfg.Gravity)
	}

	cato := catoDetected(force, burnStart, burnEnd, peak, cfg)
	if cato {
		warnings = append(warnings, WarningPossibleCato)
	}

	return domain.AnalysisResult{
		PeakThrust:        round2(peak),
		TotalImpulse:      round2(totalImpulse),
		AverageThrust:     round2(averageThrust),
		BurnTime:          round3(burnTime),
		TimeToPeak:        round3(timeToPeak),
		RiseRate:          round2(riseRate),
		DecayRate:         round2(decayRate),
		ThrustStability:   round2(stability),
		ImpulseEfficiency: round3(efficiency),
		TimeTo90Percent:   round3(timeTo90),
		BurnProfile:       burnProfile(peakIdx, burnStart, burnEnd),
		MotorClass:        MotorClass(totalImpulse),
		SpecificImpulse:   round2(specificImpulse),
		CatoDetected:      cato,
		Warnings:          warnings,
	}
}

// burnMask marks samples strictly above the threshold.
func burnMask(force []float64, threshold float64) []bool {
	mask := make([]bool, len(force))
	for i, f := range force {
		mask[i] = f > threshold
	}
	return mask
}

// burnIndices returns the first and last true index of the mask, or (0, 0)
// when the mask is empty everywhere.
func burnIndices(mask []bool) (int, int) {
	start, end := -1, -1
	for i, m := range mask {
		if !m {
			continue
		}
		if start == -1 {
			start = i
		}
		end = i
	}
	if start == -1 {
		return 0, 0
	}
	return start, end
}

// slope returns the mean rate of change between two sample indices, or 0
// when the interval is empty, inverted, or spans no time.
func slope(timeData, force []float64, from, to int) float64 {
	if to <= from || to >= len(timeData) {
		return 0
	}
	dt := timeData[to] - timeData[from]
	if dt == 0 {
		return 0
	}
	return (force[to] - force[from]) / dt
}

// timeToFraction returns the time from burn start to the first sample at
// or above the target force, or 0 when the target is never reached.
func timeToFraction(timeData, force []float64, burnStart int, target float64) float64 {
	for i := burnStart; i < len(force); i++ {
		if force[i] >= target {
			return timeData[i] - timeData[burnStart]
		}
	}
	return 0
}

// trapezoid integrates force over time across the full series.
func trapezoid(force, timeData []float64) float64 {
	var total float64
	for i := 1; i < len(force); i++ {
		total += (force[i] + force[i-1]) / 2 * (timeData[i] - timeData[i-1])
	}
	return total
}

// argMax returns the index of the first maximum value, 0 for empty input.
func argMax(values []float64) int {
	idx := 0
	for i, v := range values {
		if v > values[idx] {
			idx = i
		}
	}
	return idx
}

// masked collects the values selected by the mask.
func masked(values []float64, mask []bool) []float64 {
	var out []float64
	for i, m := range mask {
		if m {
			out = append(out, values[i])
		}
	}
	return out
}

// computeMean returns the arithmetic mean, 0 for empty input.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeStddev returns the population standard deviation, 0 for empty
// input.
func computeStddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := computeMean(values)
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
