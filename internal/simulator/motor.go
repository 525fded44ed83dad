// Package simulator generates synthetic firing telemetry so the server,
// recording pipeline, and dashboards can be exercised without hardware
// on the stand.
package simulator

import (
	"math"
	"math/rand"

	"static-fire-lab/internal/domain"
)

// Profile selects the thrust-curve shape of a simulated motor grain.
type Profile string

const (
	ProfileRegressive  Profile = "regressive"
	ProfileNeutral     Profile = "neutral"
	ProfileProgressive Profile = "progressive"
)

// rawMidScale is the idle code of the stand's 24-bit load-cell frontend.
const rawMidScale = 8388608

// catoSpikeSamples is how many trailing samples the failure curve doubles
// before thrust cuts to zero.
const catoSpikeSamples = 5

// Config holds the simulated motor parameters. Zero values are not
// usable; start from DefaultConfig.
type Config struct {
	PeakThrust float64 // nominal peak force in newtons
	BurnTime   float64 // burn duration in seconds
	Profile    Profile
	SampleRate float64 // samples per second
	NoiseFrac  float64 // sensor noise stddev as a fraction of peak thrust
	Seed       int64   // rand seed; equal seeds reproduce curves exactly
}

// DefaultConfig returns a 100 N, two-second neutral burn at the stand's
// nominal sample rate.
func DefaultConfig() Config {
	return Config{
		PeakThrust: 100,
		BurnTime:   2.0,
		Profile:    ProfileNeutral,
		SampleRate: 80,
		NoiseFrac:  0.02,
		Seed:       1,
	}
}

// Motor produces synthetic telemetry for one motor configuration. Not
// safe for concurrent use; the rand source is unsynchronized.
type Motor struct {
	cfg Config
	rng *rand.Rand
}

// New returns a motor seeded from cfg.Seed.
func New(cfg Config) *Motor {
	return &Motor{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// ThrustCurve generates one complete nominal firing: a quadratic startup
// ramp over the first 10% of the burn, the configured profile shape, a
// quadratic tail-off over the last 10%, sensor noise, and a non-negative
// clamp. Sample count is BurnTime times SampleRate.
func (m *Motor) ThrustCurve() domain.TelemetrySeries {
	n := int(m.cfg.BurnTime * m.cfg.SampleRate)
	if n < 2 {
		return nil
	}

	series := make(domain.TelemetrySeries, 0, n)
	for i := 0; i < n; i++ {
		t := float64(i) * m.cfg.BurnTime / float64(n-1)
		thrust := m.cfg.PeakThrust * m.shape(t)
		thrust += m.noise()
		if thrust < 0 {
			thrust = 0
		}
		series = append(series, m.reading(t, thrust))
	}
	return series
}

// CatoCurve generates a failure firing: thrust ramps as if the first 30%
// of the burn were proceeding normally, spikes to double over the last
// few samples as the case lets go, then cuts to zero.
func (m *Motor) CatoCurve() domain.TelemetrySeries {
	normalTime := 0.3 * m.cfg.BurnTime
	n := int(normalTime * m.cfg.SampleRate)
	if n < 2 {
		return nil
	}

	series := make(domain.TelemetrySeries, 0, n+1)
	for i := 0; i < n; i++ {
		t := float64(i) * normalTime / float64(n-1)
		thrust := m.cfg.PeakThrust*t/normalTime + m.noise()
		if n-i <= catoSpikeSamples {
			thrust *= 2
		}
		if thrust < 0 {
			thrust = 0
		}
		series = append(series, m.reading(t, thrust))
	}
	series = append(series, m.reading(normalTime+0.01, 0))
	return series
}

// shape is the noiseless thrust fraction at burn time t.
func (m *Motor) shape(t float64) float64 {
	return startup(t, m.cfg.BurnTime) * m.profileShape(t) * tailoff(t, m.cfg.BurnTime)
}

func (m *Motor) profileShape(t float64) float64 {
	frac := t / m.cfg.BurnTime
	switch m.cfg.Profile {
	case ProfileRegressive:
		return 1 - 0.4*frac
	case ProfileProgressive:
		return 0.6 + 0.4*frac
	default:
		return 1 - 0.1*math.Sin(math.Pi*frac)
	}
}

func (m *Motor) noise() float64 {
	return m.rng.NormFloat64() * m.cfg.NoiseFrac * m.cfg.PeakThrust
}

// reading converts a burn-relative time and force into the wire sample a
// bridge would emit: millisecond timestamp, force rounded to the
// centinewton, and the ADC code the frontend would have produced.
func (m *Motor) reading(t, force float64) domain.Reading {
	return domain.Reading{
		DeviceTimestamp: int64(t * 1000),
		Force:           math.Round(force*100) / 100,
		Raw:             int64(force*1000) + rawMidScale,
	}
}

// startup models the pressure build-up: a quadratic ramp over the first
// 10% of the burn.
func startup(t, burn float64) float64 {
	r := t / (0.1 * burn)
	return clamp01(r * r)
}

// tailoff models the grain burning out: unity until 90% of the burn,
// then a quadratic fall to zero.
func tailoff(t, burn float64) float64 {
	cutoff := 0.9 * burn
	if t <= cutoff {
		return 1
	}
	r := (t - cutoff) / (0.1 * burn)
	return clamp01(1 - r*r)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
