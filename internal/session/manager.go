// Package session holds playback sessions: one player per viewer, loaded in
// the background from a booking's playback record and the segment cache,
// and exposed over HTTP.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"puja-player/internal/blob"
	"puja-player/internal/orchestrator"
	"puja-player/internal/playback"
	"puja-player/internal/player"
	"puja-player/internal/platform/logger"
	"puja-player/internal/platform/metrics"
	"puja-player/internal/segcache"
)

// Loader loads playback metadata for a booking.
type Loader interface {
	LoadForBooking(ctx context.Context, bookingID string) (*playback.Metadata, error)
}

// Synchronizer resolves segments to playable cached segments.
type Synchronizer interface {
	Synchronize(ctx context.Context, segs []playback.Segment, progress orchestrator.ProgressFunc) ([]*segcache.CachedSegment, error)
}

// Manager creates sessions and runs their background loads. Each load runs
// in its own goroutine and is cancelled when the session is reset, reloaded
// or deleted, or when the manager is closed.
type Manager struct {
	repo   Repository
	loader Loader
	syncer Synchronizer
	urls   *blob.Registry
	log    *slog.Logger
	met    *metrics.Metrics
	now    func() time.Time

	loads singleflight.Group
	base  context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup
}

// NewManager returns a Manager. urls is the registry cached segment URLs
// live in; they are revoked when a session lets go of them.
func NewManager(repo Repository, loader Loader, syncer Synchronizer, urls *blob.Registry, log *slog.Logger, m *metrics.Metrics) *Manager {
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		repo:   repo,
		loader: loader,
		syncer: syncer,
		urls:   urls,
		log:    logger.OrDiscard(log).With("component", "session"),
		met:    m,
		now:    time.Now,
		base:   base,
		stop:   stop,
	}
}

// Create starts a session for bookingID and begins loading it.
func (m *Manager) Create(bookingID string) (*Session, error) {
	if bookingID == "" {
		return nil, playback.ErrNoBookingSelected
	}

	id := ID(uuid.NewString())
	el := NewRemoteElement()
	s := &Session{
		ID:        id,
		BookingID: bookingID,
		CreatedAt: m.now().UTC(),
		Player:    player.New(el, m.log.With("session_id", string(id))),
		Element:   el,
		state:     LoadIdle,
	}
	if err := m.repo.Add(s); err != nil {
		return nil, fmt.Errorf("add session: %w", err)
	}
	m.met.IncSessionsCreated()
	m.log.Info("session created", "session_id", id, "booking_id", bookingID)

	m.start(s)
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id ID) (*Session, error) {
	s, ok := m.repo.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns all sessions.
func (m *Manager) List() []*Session {
	return m.repo.List()
}

// ListByBooking returns the sessions playing bookingID.
func (m *Manager) ListByBooking(bookingID string) []*Session {
	return m.repo.ListByBooking(bookingID)
}

// ActiveSessionCount returns the number of sessions held.
func (m *Manager) ActiveSessionCount() int {
	return m.repo.ActiveSessionCount()
}

// Reset cancels any load in progress, releases the session's object URLs
// and returns its state to the initial values.
func (m *Manager) Reset(id ID) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	s.ops.Lock()
	defer s.ops.Unlock()

	m.release(s)
	s.setState(LoadIdle)
	m.log.Info("session reset", "session_id", id)
	return s, nil
}

// Reload resets the session and loads it again.
func (m *Manager) Reload(id ID) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	s.ops.Lock()
	defer s.ops.Unlock()

	m.release(s)
	m.log.Info("session reloading", "session_id", id, "booking_id", s.BookingID)
	m.start(s)
	return s, nil
}

// Delete cancels the session's load, releases its object URLs and forgets it.
func (m *Manager) Delete(id ID) error {
	s, ok := m.repo.Remove(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.ops.Lock()
	defer s.ops.Unlock()

	m.release(s)
	m.met.IncSessionsDeleted()
	m.log.Info("session deleted", "session_id", id)
	return nil
}

// Close cancels every load and waits for them to return.
func (m *Manager) Close() {
	m.stop()
	m.wg.Wait()
	for _, s := range m.repo.List() {
		m.revoke(s)
	}
}

func (m *Manager) start(s *Session) {
	ctx, cancel := context.WithCancel(m.base)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.state = LoadRunning
	s.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(done)
		defer cancel()
		m.load(ctx, s)
	}()
}

// release stops the current load, revokes the session's URLs and resets its
// player. Caller holds s.ops.
func (m *Manager) release(s *Session) {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	m.revoke(s)
	s.Player.Reset()
	s.setMetadata(nil)
}

func (m *Manager) revoke(s *Session) {
	for _, c := range s.Player.Snapshot().CachedSegments {
		if c != nil {
			m.urls.Revoke(c.URL)
		}
	}
}

func (m *Manager) load(ctx context.Context, s *Session) {
	log := m.log.With("session_id", string(s.ID), "booking_id", s.BookingID)
	start := m.now()

	// Sessions of the same booking share one metadata fetch, which is not
	// tied to any one session's lifetime. A cancelled session stops waiting
	// for it while the fetch carries on for the others.
	ch := m.loads.DoChan(s.BookingID, func() (any, error) {
		return m.loader.LoadForBooking(m.base, s.BookingID)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		s.setState(LoadCancelled)
		return
	case res = <-ch:
	}
	if ctx.Err() != nil {
		s.setState(LoadCancelled)
		return
	}
	v, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		log.Warn("playback load failed", "error", err)
		s.Player.SetError(err.Error())
		s.setState(LoadFailed)
		return
	}

	md := v.(*playback.Metadata)
	s.setMetadata(md)
	s.Player.SetSegments(md.Segments)
	log.Debug("playback metadata loaded", "segments", len(md.Segments), "shared", shared)

	cached, err := m.syncer.Synchronize(ctx, md.Segments, s.Player.SetProgress)
	if ctx.Err() != nil {
		for _, c := range cached {
			m.urls.Revoke(c.URL)
		}
		s.setState(LoadCancelled)
		log.Info("session load cancelled")
		return
	}
	if err != nil {
		log.Error("segment synchronization failed", "error", err)
		s.Player.SetError(err.Error())
		s.setState(LoadFailed)
		return
	}

	s.Player.SetCachedSegments(cached)
	s.setState(LoadDone)
	log.Info("session ready", "segments", len(cached), "duration_ms", m.now().Sub(start).Milliseconds())
}
