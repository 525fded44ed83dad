package domain

import "time"

// TestRecord is one committed static-fire test.
// Corresponds to the tests table in PostgreSQL.
type TestRecord struct {
	ID          int64           `json:"id"`          // BIGSERIAL primary key
	Fingerprint string          `json:"fingerprint"` // deterministic content hash, base58
	SessionID   string          `json:"session_id"`  // recording session UUID
	Label       string          `json:"label"`       // operator-supplied name, may be empty
	StartedAt   time.Time       `json:"started_at"`  // recording start (server clock)
	DurationMS  int64           `json:"duration_ms"` // device-clock span of the series
	SampleCount int             `json:"sample_count"`
	CropStartMS *int64          `json:"crop_start_ms,omitempty"` // display crop, offset from first sample
	CropEndMS   *int64          `json:"crop_end_ms,omitempty"`
	Result      AnalysisResult  `json:"result"`
	Samples     TelemetrySeries `json:"samples,omitempty"` // omitted in list views
	CreatedAt   time.Time       `json:"created_at"`
}

// Summary returns a copy of the record without the sample payload,
// suitable for history listings.
func (r *TestRecord) Summary() *TestRecord {
	s := *r
	s.Samples = nil
	return &s
}
