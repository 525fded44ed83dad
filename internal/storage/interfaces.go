package storage

import (
	"context"

	"static-fire-lab/internal/domain"
)

// TestStore provides access to recorded static-fire tests.
type TestStore interface {
	// Insert adds a new test record and returns its assigned ID.
	// Returns ErrDuplicateKey if a record with the same fingerprint exists.
	Insert(ctx context.Context, rec *domain.TestRecord) (int64, error)

	// GetByID retrieves a test record by its ID, including samples.
	// Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id int64) (*domain.TestRecord, error)

	// GetByFingerprint retrieves a test record by its content fingerprint,
	// including samples. Returns ErrNotFound if not exists.
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.TestRecord, error)

	// List retrieves test summaries ordered by start time DESC, without
	// samples. limit <= 0 means no limit.
	List(ctx context.Context, limit, offset int) ([]*domain.TestRecord, error)

	// UpdateLabel renames a test. Returns ErrNotFound if not exists.
	UpdateLabel(ctx context.Context, id int64, label string) error

	// UpdateCrop sets the crop window metadata in milliseconds from test
	// start. Passing nil bounds clears the crop. Returns ErrNotFound if
	// not exists.
	UpdateCrop(ctx context.Context, id int64, startMS, endMS *int64) error

	// Delete removes a test record. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, id int64) error
}

// CalibrationStore provides access to the single active load-cell calibration.
type CalibrationStore interface {
	// Get retrieves the current calibration. Returns ErrNotFound if none
	// has been saved yet.
	Get(ctx context.Context) (*domain.Calibration, error)

	// Save replaces the current calibration.
	Save(ctx context.Context, cal *domain.Calibration) error
}

// SampleArchiveStore provides access to the long-term raw sample archive.
type SampleArchiveStore interface {
	// InsertBatch adds all samples of one test under its fingerprint.
	// Fails the entire batch on any duplicate (fingerprint, timestamp_ms).
	InsertBatch(ctx context.Context, fingerprint string, samples []domain.Reading) error

	// GetByFingerprint retrieves all archived samples for a test,
	// ordered by timestamp ASC.
	GetByFingerprint(ctx context.Context, fingerprint string) ([]domain.Reading, error)

	// CountForFingerprint returns the number of archived samples for a test.
	CountForFingerprint(ctx context.Context, fingerprint string) (uint64, error)
}
