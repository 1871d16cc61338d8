package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"puja-player/internal/blob"
	"puja-player/internal/orchestrator"
	"puja-player/internal/playback"
	"puja-player/internal/segcache"
)

// fakeLoader serves metadata from mds. When gate is set it blocks until the
// gate closes or ctx ends.
type fakeLoader struct {
	mu    sync.Mutex
	calls int
	mds   map[string]*playback.Metadata
	gate  chan struct{}
}

func (l *fakeLoader) LoadForBooking(ctx context.Context, bookingID string) (*playback.Metadata, error) {
	l.mu.Lock()
	l.calls++
	gate := l.gate
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if bookingID == "" {
		return nil, playback.ErrNoBookingSelected
	}
	md, ok := l.mds[bookingID]
	if !ok {
		return nil, playback.ErrPlaybackNotFound
	}
	return md, nil
}

// fakeSync resolves every segment to an in-memory blob. When gate is set it
// blocks until the gate closes or ctx ends.
type fakeSync struct {
	urls *blob.Registry
	gate chan struct{}
	err  error
}

func (f *fakeSync) Synchronize(ctx context.Context, segs []playback.Segment, progress orchestrator.ProgressFunc) ([]*segcache.CachedSegment, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*segcache.CachedSegment, len(segs))
	for i, s := range segs {
		b := blob.New([]byte("media "+s.ID), "video/mp4")
		out[i] = &segcache.CachedSegment{ID: s.ID, Blob: b, URL: f.urls.Create(b), SourceURL: s.URL}
		progress(float64(i+1) / float64(len(segs)) * 100)
	}
	return out, nil
}

type fixture struct {
	mgr    *Manager
	loader *fakeLoader
	sync   *fakeSync
	urls   *blob.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	urls := blob.NewRegistry("")
	md := playback.Normalize(playback.Record{
		ID:        "pb1",
		BookingID: "b1",
		PujaType:  "Ganesh Puja",
		Segments: []playback.MediaEntry{
			{Type: playback.MediaVideo, URL: "https://cdn.example/1.mp4", Duration: 10},
			{Type: playback.MediaVideo, URL: "https://cdn.example/2.mp4", Duration: 20},
			{Type: playback.MediaVideo, URL: "https://cdn.example/3.mp4", Duration: 15},
		},
	})
	f := &fixture{
		loader: &fakeLoader{mds: map[string]*playback.Metadata{"b1": md}},
		sync:   &fakeSync{urls: urls},
		urls:   urls,
	}
	f.mgr = NewManager(NewInMemoryRepository(), f.loader, f.sync, urls, nil, nil)
	t.Cleanup(f.mgr.Close)
	return f
}

func waitLoaded(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session %s did not finish loading", s.ID)
	}
}

type fakeCache struct {
	cleared int
	err     error
}

func (c *fakeCache) ClearAll(context.Context) error {
	c.cleared++
	return c.err
}

func mustCreate(t *testing.T, m *Manager, booking string) *Session {
	t.Helper()
	s, err := m.Create(booking)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}
