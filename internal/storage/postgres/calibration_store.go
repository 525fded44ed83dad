package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"static-fire-lab/internal/domain"
	"static-fire-lab/internal/storage"
)

// CalibrationStore implements storage.CalibrationStore using PostgreSQL.
// The active calibration lives in a single-row table.
type CalibrationStore struct {
	pool *Pool
}

// NewCalibrationStore creates a new CalibrationStore.
func NewCalibrationStore(pool *Pool) *CalibrationStore {
	return &CalibrationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CalibrationStore = (*CalibrationStore)(nil)

// Get retrieves the current calibration. Returns ErrNotFound if none
// has been saved yet.
func (s *CalibrationStore) Get(ctx context.Context) (*domain.Calibration, error) {
	query := `SELECT offset_code, scale, points, updated_at FROM calibration WHERE id = 1`

	var cal domain.Calibration
	var pointsJSON []byte

	err := s.pool.QueryRow(ctx, query).Scan(&cal.Offset, &cal.Scale, &pointsJSON, &cal.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get calibration: %w", err)
	}

	if err := json.Unmarshal(pointsJSON, &cal.Points); err != nil {
		return nil, fmt.Errorf("unmarshal calibration points: %w", err)
	}
	return &cal, nil
}

// Save replaces the current calibration.
func (s *CalibrationStore) Save(ctx context.Context, cal *domain.Calibration) error {
	if cal == nil {
		return storage.ErrInvalidInput
	}

	pointsJSON, err := json.Marshal(cal.Points)
	if err != nil {
		return fmt.Errorf("marshal calibration points: %w", err)
	}

	updatedAt := cal.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO calibration (id, offset_code, scale, points, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			offset_code = EXCLUDED.offset_code,
			scale = EXCLUDED.scale,
			points = EXCLUDED.points,
			updated_at = EXCLUDED.updated_at
	`

	if _, err := s.pool.Exec(ctx, query, cal.Offset, cal.Scale, pointsJSON, updatedAt); err != nil {
		return fmt.Errorf("save calibration: %w", err)
	}
	return nil
}
