package segcache

import (
	"errors"
	"fmt"
	"os"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/renameio/v2"
)

// FileIdentityIndex is an IdentityIndex kept in memory and mirrored to a JSON
// file after every change. With an empty path nothing is written to disk.
type FileIdentityIndex struct {
	mu   sync.RWMutex
	path string
	ids  map[string]string
}

// NewMemoryIdentityIndex returns an index that is never persisted.
func NewMemoryIdentityIndex() *FileIdentityIndex {
	return &FileIdentityIndex{ids: make(map[string]string)}
}

// OpenFileIdentityIndex loads path if it exists. A missing file starts empty.
func OpenFileIdentityIndex(path string) (*FileIdentityIndex, error) {
	idx := &FileIdentityIndex{path: path, ids: make(map[string]string)}
	if path == "" {
		return idx, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return idx, nil
		}
		return nil, fmt.Errorf("read identity index: %w", err)
	}
	if len(data) == 0 {
		return idx, nil
	}
	if err := json.Unmarshal(data, &idx.ids); err != nil {
		return nil, fmt.Errorf("decode identity index %s: %w", path, err)
	}
	if idx.ids == nil {
		idx.ids = make(map[string]string)
	}
	return idx, nil
}

// Identity implements IdentityIndex.
func (x *FileIdentityIndex) Identity(id string) (string, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	v, ok := x.ids[id]
	return v, ok
}

// SetIdentity implements IdentityIndex.
func (x *FileIdentityIndex) SetIdentity(id, identity string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if cur, ok := x.ids[id]; ok && cur == identity {
		return nil
	}
	x.ids[id] = identity
	return x.persistLocked()
}

// DeleteIdentity implements IdentityIndex.
func (x *FileIdentityIndex) DeleteIdentity(id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.ids[id]; !ok {
		return nil
	}
	delete(x.ids, id)
	return x.persistLocked()
}

// ClearIdentities implements IdentityIndex.
func (x *FileIdentityIndex) ClearIdentities() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ids = make(map[string]string)
	return x.persistLocked()
}

// Len returns the number of tracked ids.
func (x *FileIdentityIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// persistLocked writes the map atomically. Caller must hold x.mu.
func (x *FileIdentityIndex) persistLocked() error {
	if x.path == "" {
		return nil
	}
	data, err := json.Marshal(x.ids)
	if err != nil {
		return fmt.Errorf("encode identity index: %w", err)
	}

	pending, err := renameio.NewPendingFile(x.path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending identity index: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write identity index: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace identity index: %w", err)
	}
	return nil
}
