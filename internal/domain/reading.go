package domain

import "sort"

// Reading represents one force sample from the test stand.
// Device and server clocks are both retained; the device clock drives
// the analysis time base, the server clock orders live delivery.
type Reading struct {
	DeviceTimestamp int64   `json:"timestamp"`   // device clock, Unix-style milliseconds
	ServerTimestamp int64   `json:"server_time"` // receipt time stamped by the server (ms)
	Force           float64 `json:"force"`       // calibrated force in newtons
	Raw             int64   `json:"raw"`         // raw ADC code before calibration
}

// TelemetrySeries is the ordered sample sequence of one firing attempt.
// Owned exclusively by the recording coordinator while a session is live;
// read-only once handed to analysis and storage.
type TelemetrySeries []Reading

// DurationMS returns the device-clock span of the series in milliseconds.
func (s TelemetrySeries) DurationMS() int64 {
	if len(s) < 2 {
		return 0
	}
	return s[len(s)-1].DeviceTimestamp - s[0].DeviceTimestamp
}

// RelativeSeconds converts device timestamps to seconds relative to the
// first sample.
func (s TelemetrySeries) RelativeSeconds() []float64 {
	if len(s) == 0 {
		return nil
	}
	t0 := s[0].DeviceTimestamp
	out := make([]float64, len(s))
	for i, r := range s {
		out[i] = float64(r.DeviceTimestamp-t0) / 1000.0
	}
	return out
}

// Forces returns the force column of the series.
func (s TelemetrySeries) Forces() []float64 {
	out := make([]float64, len(s))
	for i, r := range s {
		out[i] = r.Force
	}
	return out
}

// IndexAtOffset returns the index of the first sample at or after the
// given device-clock offset (ms from the first sample), or len(s) if the
// offset is past the end.
func (s TelemetrySeries) IndexAtOffset(offsetMS int64) int {
	if len(s) == 0 {
		return 0
	}
	target := s[0].DeviceTimestamp + offsetMS
	return sort.Search(len(s), func(i int) bool {
		return s[i].DeviceTimestamp >= target
	})
}

// Clone returns a deep copy of the series.
func (s TelemetrySeries) Clone() TelemetrySeries {
	if s == nil {
		return nil
	}
	out := make(TelemetrySeries, len(s))
	copy(out, s)
	return out
}
