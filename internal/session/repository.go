package session

import (
	"errors"
	"sync"
)

// Repository is the concurrency-safe contract for holding sessions.
type Repository interface {
	// Add stores a new session. Adding an id twice returns ErrSessionExists.
	Add(s *Session) error

	// Get returns the session with the given id.
	Get(id ID) (*Session, bool)

	// Remove deletes and returns the session. ok is false if it did not exist.
	Remove(id ID) (*Session, bool)

	// List returns all sessions in the order they were added.
	List() []*Session

	// ListByBooking returns the sessions playing bookingID, oldest first.
	ListByBooking(bookingID string) []*Session

	// ActiveSessionCount returns the number of sessions held. Used for metrics.
	ActiveSessionCount() int
}

var (
	// ErrSessionNotFound is returned for operations on an unknown session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when adding a session whose id is taken.
	ErrSessionExists = errors.New("session already exists")
)

// InMemoryRepository is a concurrency-safe Repository over a Store; by
// default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// Add implements Repository.Add.
func (r *InMemoryRepository) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.store.Get(s.ID); exists {
		return ErrSessionExists
	}
	r.store.Set(s)
	return nil
}

// Get implements Repository.Get.
func (r *InMemoryRepository) Get(id ID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Get(id)
}

// Remove implements Repository.Remove.
func (r *InMemoryRepository) Remove(id ID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.store.Get(id)
	if !ok {
		return nil, false
	}
	r.store.Delete(id)
	return s, true
}

// List implements Repository.List.
func (r *InMemoryRepository) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(r.store.ListIDs())
}

// ListByBooking implements Repository.ListByBooking.
func (r *InMemoryRepository) ListByBooking(bookingID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(r.store.BookingIDs(bookingID))
}

// ActiveSessionCount implements Repository.ActiveSessionCount.
func (r *InMemoryRepository) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Len()
}

func (r *InMemoryRepository) resolve(ids []ID) []*Session {
	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.store.Get(id); ok {
			out = append(out, s)
		}
	}
	return out
}
