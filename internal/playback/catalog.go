package playback

import (
	"context"
	"fmt"
	"os"
	"sync"

	json "github.com/goccy/go-json"
)

// CatalogSource serves playback records from memory, optionally loaded from
// a JSON file holding an array of records. It is meant for development and
// offline use.
type CatalogSource struct {
	mu        sync.RWMutex
	byBooking map[string]Record
}

// NewCatalogSource returns a catalog holding recs.
func NewCatalogSource(recs ...Record) *CatalogSource {
	c := &CatalogSource{byBooking: make(map[string]Record, len(recs))}
	for _, r := range recs {
		c.byBooking[r.BookingID] = r
	}
	return c
}

// LoadCatalogFile reads a catalog from path.
func LoadCatalogFile(path string) (*CatalogSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playback catalog: %w", err)
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decode playback catalog %s: %w", path, err)
	}
	return NewCatalogSource(recs...), nil
}

// Put adds or replaces the record for rec.BookingID.
func (c *CatalogSource) Put(rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byBooking[rec.BookingID] = rec
}

// Len returns the number of records.
func (c *CatalogSource) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byBooking)
}

// FetchByBooking implements Source.
func (c *CatalogSource) FetchByBooking(ctx context.Context, bookingID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byBooking[bookingID]
	if !ok {
		return nil, ErrPlaybackNotFound
	}
	rec.Segments = append([]MediaEntry(nil), rec.Segments...)
	return &rec, nil
}
