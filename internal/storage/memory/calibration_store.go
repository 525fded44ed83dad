package memory

import (
	"context"
	"sync"

	"static-fire-lab/internal/domain"
	"static-fire-lab/internal/storage"
)

// CalibrationStore is an in-memory implementation of storage.CalibrationStore.
type CalibrationStore struct {
	mu      sync.RWMutex
	current *domain.Calibration
}

// NewCalibrationStore creates a new in-memory calibration store.
func NewCalibrationStore() *CalibrationStore {
	return &CalibrationStore{}
}

// Get retrieves the current calibration. Returns ErrNotFound if none
// has been saved yet.
func (s *CalibrationStore) Get(_ context.Context) (*domain.Calibration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil, storage.ErrNotFound
	}
	return copyCalibration(s.current), nil
}

// Save replaces the current calibration.
func (s *CalibrationStore) Save(_ context.Context, cal *domain.Calibration) error {
	if cal == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = copyCalibration(cal)
	return nil
}

func copyCalibration(c *domain.Calibration) *domain.Calibration {
	out := *c
	if c.Points != nil {
		out.Points = append([]domain.CalibrationPoint(nil), c.Points...)
	}
	return &out
}

// Verify interface compliance at compile time.
var _ storage.CalibrationStore = (*CalibrationStore)(nil)
