package importer

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultUploadTTL  = 30 * time.Minute
	defaultMaxUploads = 100
)

var ErrUploadNotFound = errors.New("pending upload not found or expired")

// PendingUpload is a parsed statement awaiting user confirmation. RowErrors
// carries the rows that failed parsing, so the confirm step can put them on
// the import job's ledger.
type PendingUpload struct {
	ID        string
	UserID    int64
	AccountID string
	Filename  string
	Records   []Record
	RowErrors []RowError
	CreatedAt time.Time
}

// UploadStore holds parsed statements between the upload and confirm steps of
// the two-phase CSV flow. Bounded on both axes: entries expire after the TTL
// and the oldest entry is evicted when the store is full.
type UploadStore struct {
	mu      sync.Mutex
	entries map[string]*PendingUpload
	order   []string
	ttl     time.Duration
	max     int
	now     func() time.Time
}

func NewUploadStore(ttl time.Duration, maxEntries int) *UploadStore {
	if ttl <= 0 {
		ttl = defaultUploadTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxUploads
	}
	return &UploadStore{
		entries: make(map[string]*PendingUpload),
		ttl:     ttl,
		max:     maxEntries,
		now:     time.Now,
	}
}

// Put stores a parsed statement and returns its upload ID.
func (s *UploadStore) Put(userID int64, accountID, filename string, records []Record, rowErrs []RowError) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked()
	for len(s.entries) >= s.max {
		s.evictOldestLocked()
	}

	upload := &PendingUpload{
		ID:        uuid.NewString(),
		UserID:    userID,
		AccountID: accountID,
		Filename:  filename,
		Records:   records,
		RowErrors: rowErrs,
		CreatedAt: s.now(),
	}
	s.entries[upload.ID] = upload
	s.order = append(s.order, upload.ID)
	return upload.ID
}

// Take removes and returns a pending upload. Ownership is part of the lookup:
// another user's ID behaves exactly like an unknown one, and must not consume
// the entry, or anyone who learns an upload ID could destroy it.
func (s *UploadStore) Take(id string, userID int64) (*PendingUpload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	upload, ok := s.entries[id]
	if !ok {
		return nil, ErrUploadNotFound
	}
	if s.now().Sub(upload.CreatedAt) > s.ttl {
		delete(s.entries, id)
		return nil, ErrUploadNotFound
	}
	if upload.UserID != userID {
		return nil, ErrUploadNotFound
	}

	delete(s.entries, id)
	return upload, nil
}

// Discard drops a pending upload without importing it. Unknown IDs are a
// no-op.
func (s *UploadStore) Discard(id string, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if upload, ok := s.entries[id]; ok && upload.UserID == userID {
		delete(s.entries, id)
	}
}

// Pending reports the number of live entries.
func (s *UploadStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked()
	return len(s.entries)
}

func (s *UploadStore) purgeExpiredLocked() {
	cutoff := s.now().Add(-s.ttl)
	for id, upload := range s.entries {
		if upload.CreatedAt.Before(cutoff) {
			delete(s.entries, id)
		}
	}
	s.compactOrderLocked()
}

func (s *UploadStore) evictOldestLocked() {
	s.compactOrderLocked()
	if len(s.order) == 0 {
		return
	}
	delete(s.entries, s.order[0])
	s.order = s.order[1:]
}

// compactOrderLocked drops order entries whose uploads are gone, preserving
// insertion order for eviction.
func (s *UploadStore) compactOrderLocked() {
	live := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.entries[id]; ok {
			live = append(live, id)
		}
	}
	s.order = live
}
