package session

import (
	"sync"
	"time"

	"puja-player/internal/playback"
	"puja-player/internal/player"
)

// ID uniquely identifies a playback session.
type ID string

// LoadState describes the background load of a session.
type LoadState string

const (
	LoadIdle      LoadState = "idle"
	LoadRunning   LoadState = "loading"
	LoadDone      LoadState = "done"
	LoadFailed    LoadState = "failed"
	LoadCancelled LoadState = "cancelled"
)

// Session is one viewer's playback of a booking.
type Session struct {
	ID        ID
	BookingID string
	CreatedAt time.Time

	Player  *player.Player
	Element *RemoteElement

	// ops serializes lifecycle operations (reset, reload, delete).
	ops sync.Mutex

	mu       sync.Mutex
	state    LoadState
	metadata *playback.Metadata
	cancel   func()
	done     chan struct{}
}

// LoadState returns the state of the background load.
func (s *Session) LoadState() LoadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Metadata returns the loaded playback metadata, or nil before it arrives.
func (s *Session) Metadata() *playback.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metadata
}

// Done returns a channel closed when the current background load finishes.
// It is nil if no load was ever started.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Session) setState(st LoadState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) setMetadata(md *playback.Metadata) {
	s.mu.Lock()
	s.metadata = md
	s.mu.Unlock()
}

// View is the JSON representation of a session.
type View struct {
	ID        ID                `json:"id"`
	BookingID string            `json:"bookingId"`
	CreatedAt time.Time         `json:"createdAt"`
	Load      LoadState         `json:"load"`
	PujaType  string            `json:"pujaType,omitempty"`
	State     player.Snapshot   `json:"state"`
	Media     ElementDirectives `json:"media"`
}

// View returns a copy of the session for rendering.
func (s *Session) View() View {
	v := View{
		ID:        s.ID,
		BookingID: s.BookingID,
		CreatedAt: s.CreatedAt,
		Load:      s.LoadState(),
		State:     s.Player.Snapshot(),
		Media:     s.Element.Directives(),
	}
	if md := s.Metadata(); md != nil {
		v.PujaType = md.Record.PujaType
	}
	return v
}
