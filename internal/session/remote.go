package session

import "sync"

// ElementDirectives is what a remote client should apply to its media
// element. SeekSeq increases on every seek so clients can tell a new seek
// from one they already applied.
type ElementDirectives struct {
	Src     string  `json:"src"`
	Playing bool    `json:"playing"`
	SeekTo  float64 `json:"seekTo"`
	SeekSeq uint64  `json:"seekSeq"`
	Volume  float64 `json:"volume"`
	Muted   bool    `json:"muted"`
}

// RemoteElement is a player.MediaElement whose real counterpart lives in an
// HTTP client. It records directives; the client polls them and reports
// native events back.
type RemoteElement struct {
	mu sync.Mutex
	d  ElementDirectives
}

// NewRemoteElement returns an unloaded element at full volume.
func NewRemoteElement() *RemoteElement {
	return &RemoteElement{d: ElementDirectives{Volume: 1}}
}

func (e *RemoteElement) Load(url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.d.Src = url
	e.d.Playing = false
	e.d.SeekTo = 0
}

func (e *RemoteElement) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.d.Playing = e.d.Src != ""
}

func (e *RemoteElement) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.d.Playing = false
}

func (e *RemoteElement) Seek(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.d.SeekTo = seconds
	e.d.SeekSeq++
}

func (e *RemoteElement) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.d.Volume = v
}

func (e *RemoteElement) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.d.Muted = muted
}

// Directives returns the current directives.
func (e *RemoteElement) Directives() ElementDirectives {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.d
}
