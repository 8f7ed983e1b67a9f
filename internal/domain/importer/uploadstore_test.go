package importer

import (
	"errors"
	"testing"
	"time"
)

func pendingRecords() []Record {
	return []Record{record("acc-1", "ICA", -10.00, 5)}
}

func TestUploadStore_PutAndTake(t *testing.T) {
	store := NewUploadStore(0, 0)

	id := store.Put(1, "acc-1", "statement.csv", pendingRecords(), []RowError{{Row: 3, Reason: "unparseable date"}})
	if id == "" {
		t.Fatal("Put() returned empty id")
	}

	upload, err := store.Take(id, 1)
	if err != nil {
		t.Fatalf("Take() failed: %v", err)
	}
	if upload.AccountID != "acc-1" || upload.Filename != "statement.csv" {
		t.Errorf("upload = %+v", upload)
	}
	if len(upload.Records) != 1 {
		t.Errorf("Records = %d, want 1", len(upload.Records))
	}
	if len(upload.RowErrors) != 1 || upload.RowErrors[0].Row != 3 {
		t.Errorf("RowErrors = %+v, want the parse failure carried through", upload.RowErrors)
	}

	// Take consumes the entry.
	if _, err := store.Take(id, 1); !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("second Take() error = %v, want ErrUploadNotFound", err)
	}
}

func TestUploadStore_OwnershipIsPartOfLookup(t *testing.T) {
	store := NewUploadStore(0, 0)

	id := store.Put(1, "acc-1", "f.csv", pendingRecords(), nil)

	if _, err := store.Take(id, 2); !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("Take() by another user error = %v, want ErrUploadNotFound", err)
	}
	// The failed attempt must not consume the owner's entry.
	if _, err := store.Take(id, 1); err != nil {
		t.Errorf("Take() by owner after cross-user attempt failed: %v", err)
	}
}

func TestUploadStore_Expiry(t *testing.T) {
	store := NewUploadStore(time.Minute, 0)

	now := time.Now()
	store.now = func() time.Time { return now }

	id := store.Put(1, "acc-1", "f.csv", pendingRecords(), nil)

	store.now = func() time.Time { return now.Add(2 * time.Minute) }

	if _, err := store.Take(id, 1); !errors.Is(err, ErrUploadNotFound) {
		t.Errorf("Take() of expired upload error = %v, want ErrUploadNotFound", err)
	}
}

func TestUploadStore_EvictsOldestWhenFull(t *testing.T) {
	store := NewUploadStore(time.Hour, 2)

	first := store.Put(1, "acc-1", "a.csv", pendingRecords(), nil)
	second := store.Put(1, "acc-1", "b.csv", pendingRecords(), nil)
	third := store.Put(1, "acc-1", "c.csv", pendingRecords(), nil)

	if _, err := store.Take(first, 1); !errors.Is(err, ErrUploadNotFound) {
		t.Error("oldest upload survived eviction")
	}
	for _, id := range []string{second, third} {
		if _, err := store.Take(id, 1); err != nil {
			t.Errorf("upload %q was evicted out of order: %v", id, err)
		}
	}
}

func TestUploadStore_Discard(t *testing.T) {
	store := NewUploadStore(0, 0)

	id := store.Put(1, "acc-1", "f.csv", pendingRecords(), nil)

	store.Discard(id, 2) // wrong user, no-op
	if store.Pending() != 1 {
		t.Error("Discard() by another user removed the upload")
	}

	store.Discard(id, 1)
	if store.Pending() != 0 {
		t.Error("Discard() did not remove the upload")
	}

	store.Discard(id, 1) // idempotent
}
