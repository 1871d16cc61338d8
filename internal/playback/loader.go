// Package playback loads ceremony playback records and turns them into an
// ordered list of playable segments.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"puja-player/internal/platform/logger"
)

var (
	// ErrNoBookingSelected is returned when no booking id is supplied.
	ErrNoBookingSelected = errors.New("no booking selected")

	// ErrPlaybackNotFound is returned when a booking has no playback record.
	ErrPlaybackNotFound = errors.New("playback data not found for this booking")
)

// Source fetches the raw playback record for a booking. Implementations
// return ErrPlaybackNotFound (possibly wrapped) when none exists.
type Source interface {
	FetchByBooking(ctx context.Context, bookingID string) (*Record, error)
}

// Loader turns playback records into segment lists.
type Loader struct {
	src Source
	log *slog.Logger
}

// NewLoader returns a Loader reading from src.
func NewLoader(src Source, log *slog.Logger) *Loader {
	return &Loader{src: src, log: logger.OrDiscard(log).With("component", "playback")}
}

// LoadForBooking fetches the booking's record and normalizes it.
func (l *Loader) LoadForBooking(ctx context.Context, bookingID string) (*Metadata, error) {
	if bookingID == "" {
		return nil, ErrNoBookingSelected
	}

	rec, err := l.src.FetchByBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, ErrPlaybackNotFound) {
			l.log.Warn("no playback record", "booking_id", bookingID)
			return nil, err
		}
		return nil, fmt.Errorf("fetch playback for booking %s: %w", bookingID, err)
	}
	if rec == nil {
		return nil, ErrPlaybackNotFound
	}

	md := Normalize(*rec)
	l.log.Info("playback loaded",
		"booking_id", bookingID, "playback_id", rec.ID,
		"entries", len(rec.Segments), "segments", len(md.Segments), "total_duration", md.TotalDuration)
	return md, nil
}

// Normalize filters rec down to video entries with a URL, orders them, and
// derives ids and titles. Entries without an order take their position in
// the playable list plus one. The record itself is kept unchanged.
func Normalize(rec Record) *Metadata {
	segs := make([]Segment, 0, len(rec.Segments))
	for _, e := range rec.Segments {
		if e.Type != MediaVideo || e.URL == "" {
			continue
		}
		order := len(segs) + 1
		if e.Order != nil {
			order = *e.Order
		}
		segs = append(segs, Segment{
			URL:      e.URL,
			Order:    order,
			Duration: e.Duration,
		})
	}

	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Order < segs[j].Order })

	var total float64
	for i := range segs {
		segs[i].ID = SegmentID(rec.ID, segs[i].Order)
		segs[i].Title = fmt.Sprintf("%s - Part %d", rec.PujaType, segs[i].Order)
		total += segs[i].Duration
	}

	return &Metadata{Record: rec, Segments: segs, TotalDuration: total}
}

// SegmentID is the stable cache key of a segment.
func SegmentID(playbackID string, order int) string {
	return fmt.Sprintf("%s-segment-%d", playbackID, order)
}
