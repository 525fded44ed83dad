package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"

	"static-fire-lab/internal/domain"
)

// ComputeTestFingerprint computes a deterministic fingerprint for one
// recorded telemetry series using SHA256.
// Formula: SHA256(session_id|started_at_ms|sample_count|first_ts|last_ts)
// Returns the base58-encoded hash.
func ComputeTestFingerprint(sessionID string, startedAtMS int64, samples domain.TelemetrySeries) string {
	var firstTS, lastTS int64
	if len(samples) > 0 {
		firstTS = samples[0].DeviceTimestamp
		lastTS = samples[len(samples)-1].DeviceTimestamp
	}

	data := fmt.Sprintf("%s|%d|%d|%d|%d",
		sessionID,
		startedAtMS,
		len(samples),
		firstTS,
		lastTS,
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
