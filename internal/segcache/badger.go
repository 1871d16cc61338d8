package segcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"
)

const (
	blobPrefix = "blob:"
	metaPrefix = "meta:"
)

// BadgerStore keeps blobs and metadata in one Badger database:
//   - blobs: key = "blob:<segment id>", raw bytes
//   - meta:  key = "meta:<segment id>", JSON Meta
//
// MaxBytes, when positive, caps the total blob bytes; writes beyond it fail
// with ErrQuotaExceeded.
type BadgerStore struct {
	db       *badger.DB
	maxBytes int64

	mu    sync.Mutex
	used  int64
	sizes map[string]int64
}

// OpenBadger opens (or creates) a store in dir. An empty dir keeps everything
// in memory.
func OpenBadger(dir string, maxBytes int64) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open segment cache: %w", err)
	}

	s := &BadgerStore{db: db, maxBytes: maxBytes, sizes: make(map[string]int64)}
	if err := s.loadUsage(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error { return s.db.Close() }

// Used returns the blob bytes currently stored.
func (s *BadgerStore) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *BadgerStore) loadUsage() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(blobPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(blobPrefix):])
			size := item.ValueSize()
			s.sizes[id] = size
			s.used += size
		}
		return nil
	})
}

// reserve checks the quota for replacing id's blob with n bytes and claims
// the space in the same step. The returned undo gives the space back when the
// write does not happen.
func (s *BadgerStore) reserve(id string, n int) (undo func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.sizes[id]
	next := s.used - prev + int64(n)
	if s.maxBytes > 0 && next > s.maxBytes {
		return nil, fmt.Errorf("%w: %d of %d bytes in use", ErrQuotaExceeded, s.used, s.maxBytes)
	}
	s.used = next
	s.sizes[id] = int64(n)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.used += prev - s.sizes[id]
		if had {
			s.sizes[id] = prev
		} else {
			delete(s.sizes, id)
		}
	}, nil
}

func (s *BadgerStore) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used -= s.sizes[id]
	delete(s.sizes, id)
}

// GetBlob implements BlobStore.
func (s *BadgerStore) GetBlob(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(blobPrefix + id))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

// PutBlob implements BlobStore.
func (s *BadgerStore) PutBlob(ctx context.Context, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	undo, err := s.reserve(id, len(data))
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(blobPrefix+id), data)
	})
	if err != nil {
		undo()
		return mapBadgerErr(err)
	}
	return nil
}

// DeleteBlob implements BlobStore.
func (s *BadgerStore) DeleteBlob(ctx context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(blobPrefix + id))
	})
	if err != nil {
		return err
	}
	s.forget(id)
	return nil
}

// ClearBlobs implements BlobStore.
func (s *BadgerStore) ClearBlobs(ctx context.Context) error {
	if err := s.db.DropPrefix([]byte(blobPrefix)); err != nil {
		return err
	}
	s.mu.Lock()
	s.used = 0
	s.sizes = make(map[string]int64)
	s.mu.Unlock()
	return nil
}

// GetMeta implements MetaIndex.
func (s *BadgerStore) GetMeta(ctx context.Context, id string) (Meta, error) {
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}
	var m Meta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Meta{}, ErrNotFound
	}
	return m, err
}

// PutMeta implements MetaIndex.
func (s *BadgerStore) PutMeta(ctx context.Context, m Meta) error {
	buf, err := json.Marshal(m)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaPrefix+m.SegmentID), buf)
	})
	return mapBadgerErr(err)
}

// DeleteMeta implements MetaIndex.
func (s *BadgerStore) DeleteMeta(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(metaPrefix + id))
	})
}

// ClearMeta implements MetaIndex.
func (s *BadgerStore) ClearMeta(ctx context.Context) error {
	return s.db.DropPrefix([]byte(metaPrefix))
}

// PutEntry implements EntryWriter: blob and metadata land in one transaction.
func (s *BadgerStore) PutEntry(ctx context.Context, m Meta, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := json.Marshal(m)
	if err != nil {
		return err
	}
	undo, err := s.reserve(m.SegmentID, len(data))
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(blobPrefix+m.SegmentID), data); err != nil {
			return err
		}
		return txn.Set([]byte(metaPrefix+m.SegmentID), buf)
	})
	if err != nil {
		undo()
		return mapBadgerErr(err)
	}
	return nil
}

func mapBadgerErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrTxnTooBig) || errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}
