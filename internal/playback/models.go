package playback

import "time"

// MediaType is the kind of a media entry in a playback record.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// MediaEntry is one raw entry of a playback record as returned by the
// playback API. Every field except Type is optional.
type MediaEntry struct {
	Type         MediaType `json:"type"`
	URL          string    `json:"url,omitempty"`
	Duration     float64   `json:"duration,omitempty"`
	Order        *int      `json:"order,omitempty"`
	Personalized *bool     `json:"isPersonalized,omitempty"`
}

// Record is the playback record of a booking.
type Record struct {
	ID        string       `json:"id"`
	BookingID string       `json:"bookingId"`
	PujaType  string       `json:"pujaType"`
	Segments  []MediaEntry `json:"segments"`
	CreatedAt time.Time    `json:"createdAt,omitempty"`
}

// Segment is a playable video segment derived from a Record.
type Segment struct {
	ID       string  `json:"id"`
	URL      string  `json:"url"`
	Order    int     `json:"order"`
	Duration float64 `json:"duration"`
	Title    string  `json:"title,omitempty"`
}

// Metadata is the result of loading a booking: the untouched record plus its
// ordered playable segments.
type Metadata struct {
	Record        Record    `json:"record"`
	Segments      []Segment `json:"segments"`
	TotalDuration float64   `json:"totalDuration"`
}
