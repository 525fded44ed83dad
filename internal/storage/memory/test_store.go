package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"static-fire-lab/internal/domain"
	"static-fire-lab/internal/storage"
)

// TestStore is an in-memory implementation of storage.TestStore.
type TestStore struct {
	mu     sync.RWMutex
	data   map[int64]*domain.TestRecord // keyed by id
	byFP   map[string]int64             // fingerprint -> id
	nextID int64
}

// NewTestStore creates a new in-memory test store.
func NewTestStore() *TestStore {
	return &TestStore{
		data: make(map[int64]*domain.TestRecord),
		byFP: make(map[string]int64),
	}
}

// Insert adds a new test record and returns its assigned ID.
// Returns ErrDuplicateKey if a record with the same fingerprint exists.
func (s *TestStore) Insert(_ context.Context, rec *domain.TestRecord) (int64, error) {
	if rec == nil || rec.Fingerprint == "" || rec.SessionID == "" {
		return 0, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byFP[rec.Fingerprint]; exists {
		return 0, storage.ErrDuplicateKey
	}

	s.nextID++
	// Store a copy to prevent external mutation
	recordCopy := copyRecord(rec)
	recordCopy.ID = s.nextID
	if recordCopy.CreatedAt.IsZero() {
		recordCopy.CreatedAt = time.Now().UTC()
	}
	s.data[recordCopy.ID] = recordCopy
	s.byFP[recordCopy.Fingerprint] = recordCopy.ID
	return recordCopy.ID, nil
}

// GetByID retrieves a test record by its ID, including samples.
// Returns ErrNotFound if not exists.
func (s *TestStore) GetByID(_ context.Context, id int64) (*domain.TestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return copyRecord(rec), nil
}

// GetByFingerprint retrieves a test record by its content fingerprint,
// including samples. Returns ErrNotFound if not exists.
func (s *TestStore) GetByFingerprint(_ context.Context, fingerprint string) (*domain.TestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byFP[fingerprint]
	if !exists {
		return nil, storage.ErrNotFound
	}

	return copyRecord(s.data[id]), nil
}

// List retrieves test summaries ordered by start time DESC, without samples.
func (s *TestStore) List(_ context.Context, limit, offset int) ([]*domain.TestRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*domain.TestRecord, 0, len(s.data))
	for _, rec := range s.data {
		c := copyRecord(rec)
		c.Samples = nil
		all = append(all, c)
	}

	// Sort by started_at DESC, newest first; ID breaks ties.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].StartedAt.After(all[j].StartedAt)
		}
		return all[i].ID > all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// UpdateLabel renames a test. Returns ErrNotFound if not exists.
func (s *TestStore) UpdateLabel(_ context.Context, id int64, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	rec.Label = label
	return nil
}

// UpdateCrop sets the crop window metadata. Returns ErrNotFound if not exists.
func (s *TestStore) UpdateCrop(_ context.Context, id int64, startMS, endMS *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	rec.CropStartMS = copyInt64Ptr(startMS)
	rec.CropEndMS = copyInt64Ptr(endMS)
	return nil
}

// Delete removes a test record. Returns ErrNotFound if not exists.
func (s *TestStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	delete(s.byFP, rec.Fingerprint)
	delete(s.data, id)
	return nil
}

// copyRecord deep-copies a record so callers cannot mutate stored state.
func copyRecord(r *domain.TestRecord) *domain.TestRecord {
	c := *r
	c.Samples = r.Samples.Clone()
	c.CropStartMS = copyInt64Ptr(r.CropStartMS)
	c.CropEndMS = copyInt64Ptr(r.CropEndMS)
	if r.Result.Warnings != nil {
		c.Result.Warnings = append([]string(nil), r.Result.Warnings...)
	}
	return &c
}

func copyInt64Ptr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Verify interface compliance at compile time.
var _ storage.TestStore = (*TestStore)(nil)
