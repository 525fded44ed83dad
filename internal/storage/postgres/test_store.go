package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"static-fire-lab/internal/domain"
	"static-fire-lab/internal/storage"
)

// TestStore implements storage.TestStore using PostgreSQL. Metrics live in
// explicit columns so history queries never touch the samples blob; the
// sample series and the warnings list are JSONB.
type TestStore struct {
	pool *Pool
}

// NewTestStore creates a new TestStore.
func NewTestStore(pool *Pool) *TestStore {
	return &TestStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TestStore = (*TestStore)(nil)

const testSummaryColumns = `
	id, fingerprint, session_id, label, started_at, duration_ms,
	sample_count, crop_start_ms, crop_end_ms,
	peak_thrust, total_impulse, average_thrust, burn_time, time_to_peak,
	rise_rate, decay_rate, thrust_stability, impulse_efficiency,
	time_to_90_percent, burn_profile, motor_class, specific_impulse,
	cato_detected, warnings, created_at`

// Insert adds a new test record and returns its assigned ID.
// Returns ErrDuplicateKey if a record with the same fingerprint exists.
func (s *TestStore) Insert(ctx context.Context, rec *domain.TestRecord) (int64, error) {
	if rec == nil || rec.Fingerprint == "" || rec.SessionID == "" {
		return 0, storage.ErrInvalidInput
	}

	warningsJSON, err := json.Marshal(warningsOrEmpty(rec.Result.Warnings))
	if err != nil {
		return 0, fmt.Errorf("marshal warnings: %w", err)
	}
	samplesJSON, err := json.Marshal(rec.Samples)
	if err != nil {
		return 0, fmt.Errorf("marshal samples: %w", err)
	}

	query := `
		INSERT INTO tests (
			fingerprint, session_id, label, started_at, duration_ms,
			sample_count, crop_start_ms, crop_end_ms,
			peak_thrust, total_impulse, average_thrust, burn_time,
			time_to_peak, rise_rate, decay_rate, thrust_stability,
			impulse_efficiency, time_to_90_percent, burn_profile,
			motor_class, specific_impulse, cato_detected, warnings, samples
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		)
		RETURNING id
	`

	var id int64
	err = s.pool.QueryRow(ctx, query,
		rec.Fingerprint,
		rec.SessionID,
		rec.Label,
		rec.StartedAt,
		rec.DurationMS,
		rec.SampleCount,
		rec.CropStartMS,
		rec.CropEndMS,
		rec.Result.PeakThrust,
		rec.Result.TotalImpulse,
		rec.Result.AverageThrust,
		rec.Result.BurnTime,
		rec.Result.TimeToPeak,
		rec.Result.RiseRate,
		rec.Result.DecayRate,
		rec.Result.ThrustStability,
		rec.Result.ImpulseEfficiency,
		rec.Result.TimeTo90Percent,
		string(rec.Result.BurnProfile),
		rec.Result.MotorClass,
		rec.Result.SpecificImpulse,
		rec.Result.CatoDetected,
		warningsJSON,
		samplesJSON,
	).Scan(&id)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, storage.ErrDuplicateKey
		}
		return 0, fmt.Errorf("insert test: %w", err)
	}
	return id, nil
}

// GetByID retrieves a test record by its ID, including samples.
// Returns ErrNotFound if not exists.
func (s *TestStore) GetByID(ctx context.Context, id int64) (*domain.TestRecord, error) {
	query := `SELECT` + testSummaryColumns + `, samples FROM tests WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	rec, err := scanTest(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get test by id: %w", err)
	}
	return rec, nil
}

// GetByFingerprint retrieves a test record by its content fingerprint,
// including samples. Returns ErrNotFound if not exists.
func (s *TestStore) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.TestRecord, error) {
	query := `SELECT` + testSummaryColumns + `, samples FROM tests WHERE fingerprint = $1`

	row := s.pool.QueryRow(ctx, query, fingerprint)
	rec, err := scanTest(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get test by fingerprint: %w", err)
	}
	return rec, nil
}

// List retrieves test summaries ordered by start time DESC, without samples.
func (s *TestStore) List(ctx context.Context, limit, offset int) ([]*domain.TestRecord, error) {
	if offset < 0 {
		offset = 0
	}

	query := `SELECT` + testSummaryColumns + ` FROM tests ORDER BY started_at DESC, id DESC`

	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.pool.Query(ctx, query+" LIMIT $1 OFFSET $2", limit, offset)
	} else {
		rows, err = s.pool.Query(ctx, query+" OFFSET $1", offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	defer rows.Close()

	var records []*domain.TestRecord
	for rows.Next() {
		rec, err := scanTestSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test rows: %w", err)
	}
	return records, nil
}

// UpdateLabel renames a test. Returns ErrNotFound if not exists.
func (s *TestStore) UpdateLabel(ctx context.Context, id int64, label string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tests SET label = $2 WHERE id = $1`, id, label)
	if err != nil {
		return fmt.Errorf("update test label: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateCrop sets the crop window metadata. Returns ErrNotFound if not exists.
func (s *TestStore) UpdateCrop(ctx context.Context, id int64, startMS, endMS *int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tests SET crop_start_ms = $2, crop_end_ms = $3 WHERE id = $1`,
		id, startMS, endMS,
	)
	if err != nil {
		return fmt.Errorf("update test crop: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes a test record. Returns ErrNotFound if not exists.
func (s *TestStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete test: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanTest scans a full row, summary columns first and samples last.
func scanTest(row pgx.Row) (*domain.TestRecord, error) {
	var (
		rec          domain.TestRecord
		burnProfile  string
		warningsJSON []byte
		samplesJSON  []byte
	)

	err := row.Scan(
		&rec.ID,
		&rec.Fingerprint,
		&rec.SessionID,
		&rec.Label,
		&rec.StartedAt,
		&rec.DurationMS,
		&rec.SampleCount,
		&rec.CropStartMS,
		&rec.CropEndMS,
		&rec.Result.PeakThrust,
		&rec.Result.TotalImpulse,
		&rec.Result.AverageThrust,
		&rec.Result.BurnTime,
		&rec.Result.TimeToPeak,
		&rec.Result.RiseRate,
		&rec.Result.DecayRate,
		&rec.Result.ThrustStability,
		&rec.Result.ImpulseEfficiency,
		&rec.Result.TimeTo90Percent,
		&burnProfile,
		&rec.Result.MotorClass,
		&rec.Result.SpecificImpulse,
		&rec.Result.CatoDetected,
		&warningsJSON,
		&rec.CreatedAt,
		&samplesJSON,
	)
	if err != nil {
		return nil, err
	}

	rec.Result.BurnProfile = domain.BurnProfile(burnProfile)
	if err := json.Unmarshal(warningsJSON, &rec.Result.Warnings); err != nil {
		return nil, fmt.Errorf("unmarshal warnings: %w", err)
	}
	if err := json.Unmarshal(samplesJSON, &rec.Samples); err != nil {
		return nil, fmt.Errorf("unmarshal samples: %w", err)
	}
	return &rec, nil
}

// scanTestSummary scans a sample-free row.
func scanTestSummary(row pgx.Row) (*domain.TestRecord, error) {
	var (
		rec          domain.TestRecord
		burnProfile  string
		warningsJSON []byte
	)

	err := row.Scan(
		&rec.ID,
		&rec.Fingerprint,
		&rec.SessionID,
		&rec.Label,
		&rec.StartedAt,
		&rec.DurationMS,
		&rec.SampleCount,
		&rec.CropStartMS,
		&rec.CropEndMS,
		&rec.Result.PeakThrust,
		&rec.Result.TotalImpulse,
		&rec.Result.AverageThrust,
		&rec.Result.BurnTime,
		&rec.Result.TimeToPeak,
		&rec.Result.RiseRate,
		&rec.Result.DecayRate,
		&rec.Result.ThrustStability,
		&rec.Result.ImpulseEfficiency,
		&rec.Result.TimeTo90Percent,
		&burnProfile,
		&rec.Result.MotorClass,
		&rec.Result.SpecificImpulse,
		&rec.Result.CatoDetected,
		&warningsJSON,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Result.BurnProfile = domain.BurnProfile(burnProfile)
	if err := json.Unmarshal(warningsJSON, &rec.Result.Warnings); err != nil {
		return nil, fmt.Errorf("unmarshal warnings: %w", err)
	}
	return &rec, nil
}

// warningsOrEmpty keeps the warnings column a JSON array, never null.
func warningsOrEmpty(w []string) []string {
	if w == nil {
		return []string{}
	}
	return w
}
