package player

// MediaElement is the single media element the player drives. It plays one
// segment at a time. Implementations must not call back into the Player
// from these methods; native events are delivered through Player.Handle.
type MediaElement interface {
	// Load replaces the element's source. An empty url unloads it.
	Load(url string)
	Play()
	Pause()
	// Seek sets the position within the current source, in seconds.
	Seek(seconds float64)
	SetVolume(v float64)
	SetMuted(muted bool)
}

// EventType names a native media event.
type EventType string

const (
	EventTimeUpdate     EventType = "timeupdate"
	EventLoadedMetadata EventType = "loadedmetadata"
	EventEnded          EventType = "ended"
	EventError          EventType = "error"
)

// Event is a native media event raised while Segment was the element's
// source. Time is used by timeupdate, Duration by loadedmetadata and Message
// by error.
type Event struct {
	Type     EventType `json:"type"`
	Segment  int       `json:"segment"`
	Time     float64   `json:"time,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Message  string    `json:"message,omitempty"`
}

func TimeUpdate(segment int, t float64) Event {
	return Event{Type: EventTimeUpdate, Segment: segment, Time: t}
}

func LoadedMetadata(segment int, duration float64) Event {
	return Event{Type: EventLoadedMetadata, Segment: segment, Duration: duration}
}

func Ended(segment int) Event {
	return Event{Type: EventEnded, Segment: segment}
}

func MediaError(segment int, msg string) Event {
	return Event{Type: EventError, Segment: segment, Message: msg}
}
