// Package player presents a list of cached segments as one continuous
// timeline. It owns the playback session state and drives a single
// MediaElement; the element's native events come back in through Handle.
package player

import (
	"fmt"
	"log/slog"
	"sync"

	"puja-player/internal/playback"
	"puja-player/internal/platform/logger"
	"puja-player/internal/segcache"
)

// Phase is the state of the playback state machine.
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseReady
	PhasePlaying
	PhaseSeeking
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhasePlaying:
		return "playing"
	case PhaseSeeking:
		return "seeking"
	case PhaseEnded:
		return "ended"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// MarshalText renders the phase by name.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for _, c := range []Phase{PhaseLoading, PhaseReady, PhasePlaying, PhaseSeeking, PhaseEnded} {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// PendingSeek is a seek waiting for its segment's metadata.
type PendingSeek struct {
	SegmentIndex int     `json:"segmentIndex"`
	SegmentTime  float64 `json:"segmentTime"`
	Resume       bool    `json:"resume"`
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	Phase               Phase                     `json:"phase"`
	Segments            []playback.Segment        `json:"segments"`
	CachedSegments      []*segcache.CachedSegment `json:"cachedSegments"`
	CurrentSegmentIndex int                       `json:"currentSegmentIndex"`
	CurrentTime         float64                   `json:"currentTime"`
	TotalDuration       float64                   `json:"totalDuration"`
	MeasuredDurations   []float64                 `json:"measuredDurations"`
	IsPlaying           bool                      `json:"isPlaying"`
	Volume              float64                   `json:"volume"`
	IsMuted             bool                      `json:"isMuted"`
	DownloadProgress    float64                   `json:"downloadProgress"`
	Error               string                    `json:"error,omitempty"`
	PendingSeek         *PendingSeek              `json:"pendingSeek,omitempty"`
}

const defaultVolume = 1.0

// Player is the virtual timeline state machine. It is safe for concurrent
// use; calls are serialized.
type Player struct {
	mu  sync.Mutex
	el  MediaElement
	log *slog.Logger

	phase     Phase
	segments  []playback.Segment
	cached    []*segcache.CachedSegment
	measured  []float64
	index     int
	current   float64
	total     float64
	playing   bool
	volume    float64
	muted     bool
	progress  float64
	err       string
	metaReady bool
	pending   *PendingSeek
}

// New returns a Player in the loading phase driving el.
func New(el MediaElement, log *slog.Logger) *Player {
	return &Player{
		el:     el,
		log:    logger.OrDiscard(log).With("component", "player"),
		volume: defaultVolume,
	}
}

// SetSegments replaces the segment list. Cached segments and playback
// position are dropped.
func (p *Player) SetSegments(segs []playback.Segment) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.segments = append([]playback.Segment(nil), segs...)
	p.measured = make([]float64, len(segs))
	p.cached = nil
	p.index = 0
	p.current = 0
	p.playing = false
	p.metaReady = false
	p.pending = nil
	p.phase = PhaseLoading
	p.recomputeTotal()
}

// SetCachedSegments installs the playable segments, index-aligned with the
// segment list, and loads the current one into the element. Population alone
// does not start playback.
func (p *Player) SetCachedSegments(cs []*segcache.CachedSegment) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(cs) != len(p.segments) {
		p.log.Warn("cached segments not aligned with segment list", "cached", len(cs), "segments", len(p.segments))
	}
	p.cached = append([]*segcache.CachedSegment(nil), cs...)
	p.metaReady = false
	p.pending = nil
	if !p.ready() {
		p.phase = PhaseLoading
		return
	}
	if p.index >= len(p.cached) {
		p.index = 0
	}
	p.el.Load(p.cached[p.index].URL)
	p.phase = PhaseLoading
}

// SetProgress records download progress, clamped to [0, 100].
func (p *Player) SetProgress(percent float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = clamp(percent, 0, 100)
}

// SetError records a session error. A non-empty error stops playback.
func (p *Player) SetError(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = msg
	if msg != "" {
		p.stopLocked()
	}
}

// Play starts playback. It returns false when no segment is ready. Playing
// from the ended phase restarts at the beginning.
func (p *Player) Play() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready() {
		return false
	}

	if p.phase == PhaseEnded {
		p.playing = true
		p.seekLocked(0)
		return true
	}

	p.playing = true
	if p.pending != nil {
		p.pending.Resume = true
		return true
	}
	p.el.Play()
	p.phase = PhasePlaying
	return true
}

// Pause stops playback. It returns false when no segment is ready.
func (p *Player) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready() {
		return false
	}
	p.stopLocked()
	return true
}

// Seek moves the playhead to global time t, clamped to [0, total]. It
// returns false when no segment is ready.
func (p *Player) Seek(t float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready() {
		return false
	}
	p.seekLocked(t)
	return true
}

// SetSegmentIndex jumps to the start of segment i.
func (p *Player) SetSegmentIndex(i int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready() || i < 0 || i >= len(p.cached) {
		return false
	}
	if i == p.index && p.phase != PhaseEnded {
		return true
	}
	p.current = Offset(p.durations(), i)
	p.switchTo(i, 0)
	return true
}

// SetVolume sets the volume, clamped to [0, 1].
func (p *Player) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = clamp(v, 0, 1)
	p.el.SetVolume(p.volume)
}

// SetMuted mutes or unmutes the element.
func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
	p.el.SetMuted(muted)
}

// Reset returns every field to its initial value and unloads the element.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ready() {
		p.el.Pause()
	}
	p.el.Load("")
	p.el.SetVolume(defaultVolume)
	p.el.SetMuted(false)

	p.phase = PhaseLoading
	p.segments = nil
	p.cached = nil
	p.measured = nil
	p.index = 0
	p.current = 0
	p.total = 0
	p.playing = false
	p.volume = defaultVolume
	p.muted = false
	p.progress = 0
	p.err = ""
	p.metaReady = false
	p.pending = nil
}

// Handle applies a native media event. Events raised by a segment other
// than the current one are dropped.
func (p *Player) Handle(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready() || ev.Segment != p.index {
		p.log.Debug("dropping media event", "type", ev.Type, "segment", ev.Segment, "current", p.index)
		return
	}

	switch ev.Type {
	case EventTimeUpdate:
		p.onTimeUpdate(ev.Time)
	case EventLoadedMetadata:
		p.onLoadedMetadata(ev.Duration)
	case EventEnded:
		p.onEnded()
	case EventError:
		p.onError(ev.Message)
	default:
		p.log.Debug("unknown media event", "type", ev.Type)
	}
}

// Snapshot returns a copy of the current state.
func (p *Player) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Snapshot{
		Phase:               p.phase,
		Segments:            append([]playback.Segment(nil), p.segments...),
		CachedSegments:      append([]*segcache.CachedSegment(nil), p.cached...),
		CurrentSegmentIndex: p.index,
		CurrentTime:         p.current,
		TotalDuration:       p.total,
		MeasuredDurations:   append([]float64(nil), p.measured...),
		IsPlaying:           p.playing,
		Volume:              p.volume,
		IsMuted:             p.muted,
		DownloadProgress:    p.progress,
		Error:               p.err,
	}
	if p.pending != nil {
		ps := *p.pending
		s.PendingSeek = &ps
	}
	return s
}

// Durations returns the best-known duration of every segment.
func (p *Player) Durations() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.durations()
}

func (p *Player) onTimeUpdate(t float64) {
	if p.pending != nil || p.phase == PhaseEnded {
		return
	}
	p.current = clamp(Offset(p.durations(), p.index)+t, 0, p.total)
}

func (p *Player) onLoadedMetadata(d float64) {
	if BestKnown(d, 0) > 0 && p.index < len(p.measured) {
		p.measured[p.index] = d
		p.recomputeTotal()
		p.current = clamp(p.current, 0, p.total)
	}
	p.metaReady = true

	if ps := p.pending; ps != nil && ps.SegmentIndex == p.index {
		// The target was computed with the durations known at seek time.
		p.pending = nil
		p.el.Seek(ps.SegmentTime)
		p.current = clamp(Offset(p.durations(), p.index)+ps.SegmentTime, 0, p.total)
		p.playing = ps.Resume
		p.resumeOrPause()
		return
	}

	if p.phase == PhaseEnded {
		return
	}
	p.resumeOrPause()
}

func (p *Player) onEnded() {
	if p.index < len(p.cached)-1 {
		next := p.index + 1
		p.current = Offset(p.durations(), next)
		p.switchTo(next, 0)
		return
	}

	p.playing = false
	p.pending = nil
	p.current = p.total
	p.phase = PhaseEnded
	p.log.Info("playback ended", "segments", len(p.cached), "total_duration", p.total)
}

func (p *Player) onError(msg string) {
	if msg == "" {
		msg = "unknown media error"
	}
	p.err = fmt.Sprintf("media error on segment %d: %s", p.index+1, msg)
	p.log.Error("media element error", "segment", p.index, "error", msg)
	p.stopLocked()
}

// seekLocked implements Seek. Caller holds p.mu and has checked ready().
func (p *Player) seekLocked(t float64) {
	t = clamp(t, 0, p.total)
	durations := p.durations()
	idx, offset := Locate(durations, t)
	if idx >= len(p.cached) {
		idx = len(p.cached) - 1
		offset = 0
	}
	p.current = t

	if idx != p.index {
		p.switchTo(idx, offset)
		return
	}

	if p.metaReady {
		p.pending = nil
		p.el.Seek(offset)
		p.resumeOrPause()
		return
	}
	p.pending = &PendingSeek{SegmentIndex: idx, SegmentTime: offset, Resume: p.playing}
	p.phase = PhaseSeeking
}

// switchTo makes segment i current and defers positioning until its
// metadata arrives.
func (p *Player) switchTo(i int, offset float64) {
	p.index = i
	p.metaReady = false
	p.pending = &PendingSeek{SegmentIndex: i, SegmentTime: offset, Resume: p.playing}
	p.phase = PhaseSeeking
	p.el.Load(p.cached[i].URL)
	p.log.Debug("switched segment", "segment", i, "offset", offset, "resume", p.playing)
}

func (p *Player) resumeOrPause() {
	if p.playing {
		p.el.Play()
		p.phase = PhasePlaying
		return
	}
	p.phase = PhaseReady
}

func (p *Player) stopLocked() {
	p.playing = false
	if p.pending != nil {
		p.pending.Resume = false
	}
	if !p.ready() {
		return
	}
	p.el.Pause()
	switch p.phase {
	case PhasePlaying:
		p.phase = PhaseReady
	case PhaseEnded, PhaseSeeking:
	default:
		if p.metaReady {
			p.phase = PhaseReady
		}
	}
}

func (p *Player) ready() bool {
	return len(p.cached) > 0
}

func (p *Player) durations() []float64 {
	out := make([]float64, len(p.segments))
	for i, s := range p.segments {
		var m float64
		if i < len(p.measured) {
			m = p.measured[i]
		}
		out[i] = BestKnown(m, s.Duration)
	}
	return out
}

func (p *Player) recomputeTotal() {
	var sum float64
	for _, d := range p.durations() {
		sum += d
	}
	p.total = sum
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
