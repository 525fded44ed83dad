package clickhouse

import (
	"context"
	"fmt"

	"static-fire-lab/internal/domain"
	"static-fire-lab/internal/storage"
)

// SampleArchiveStore implements storage.SampleArchiveStore using ClickHouse.
type SampleArchiveStore struct {
	conn *Conn
}

// NewSampleArchiveStore creates a new SampleArchiveStore.
func NewSampleArchiveStore(conn *Conn) *SampleArchiveStore {
	return &SampleArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SampleArchiveStore = (*SampleArchiveStore)(nil)

// InsertBatch adds all samples of one test under its fingerprint.
// Fails the entire batch on any duplicate (fingerprint, timestamp_ms).
func (s *SampleArchiveStore) InsertBatch(ctx context.Context, fingerprint string, samples []domain.Reading) error {
	if fingerprint == "" {
		return storage.ErrInvalidInput
	}
	if len(samples) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[int64]struct{}, len(samples))
	for _, r := range samples {
		if _, exists := seen[r.DeviceTimestamp]; exists {
			return storage.ErrDuplicateKey
		}
		seen[r.DeviceTimestamp] = struct{}{}
	}

	// A fingerprint is archived exactly once; existing rows mean a replay.
	count, err := s.CountForFingerprint(ctx, fingerprint)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if count > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO telemetry_samples (
			fingerprint, timestamp_ms, server_time_ms, force_n, raw_code
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range samples {
		err = batch.Append(
			fingerprint, uint64(r.DeviceTimestamp), uint64(r.ServerTimestamp),
			r.Force, r.Raw,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByFingerprint retrieves all archived samples for a test,
// ordered by timestamp ASC.
func (s *SampleArchiveStore) GetByFingerprint(ctx context.Context, fingerprint string) ([]domain.Reading, error) {
	query := `
		SELECT timestamp_ms, server_time_ms, force_n, raw_code
		FROM telemetry_samples
		WHERE fingerprint = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("query by fingerprint: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

// CountForFingerprint returns the number of archived samples for a test.
func (s *SampleArchiveStore) CountForFingerprint(ctx context.Context, fingerprint string) (uint64, error) {
	query := `SELECT count(*) FROM telemetry_samples WHERE fingerprint = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, fingerprint).Scan(&count); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return count, nil
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanReadings scans multiple rows into readings.
func scanReadings(rows chRows) ([]domain.Reading, error) {
	var readings []domain.Reading

	for rows.Next() {
		var r domain.Reading
		var timestampMs, serverTimeMs uint64

		if err := rows.Scan(&timestampMs, &serverTimeMs, &r.Force, &r.Raw); err != nil {
			return nil, fmt.Errorf("scan sample row: %w", err)
		}

		r.DeviceTimestamp = int64(timestampMs)
		r.ServerTimestamp = int64(serverTimeMs)
		readings = append(readings, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sample rows: %w", err)
	}

	return readings, nil
}
