// Package segcache is the local cache of downloaded ceremony video segments.
//
// Blob bytes, a lightweight metadata index, and an id-to-URL-identity map are
// kept in separate backends so validity checks never have to read segment
// bodies. Writes are best effort: a full or failing backend is logged and the
// caller carries on with the bytes it already holds.
package segcache

import (
	"context"
	"errors"
	"time"

	"puja-player/internal/blob"
)

// DefaultMaxAge is how long a cached segment stays valid.
const DefaultMaxAge = 24 * time.Hour

var (
	// ErrNotFound is returned by backends when a key is absent.
	ErrNotFound = errors.New("segment not cached")

	// ErrQuotaExceeded is returned by backends that ran out of space.
	ErrQuotaExceeded = errors.New("segment cache quota exceeded")
)

// Meta is the small per-segment record stored beside the blob bytes.
type Meta struct {
	SegmentID         string    `json:"segmentId"`
	MimeType          string    `json:"mimeType"`
	Size              int       `json:"size"`
	CachedAt          time.Time `json:"cachedAt"`
	SourceURL         string    `json:"sourceUrl"`
	SourceURLIdentity string    `json:"sourceUrlIdentity,omitempty"`
}

// CachedSegment is a cached segment ready to play. URL is an object URL in
// the store's blob.Registry and must be revoked when the segment is dropped.
type CachedSegment struct {
	ID                string     `json:"id"`
	Blob              *blob.Blob `json:"-"`
	URL               string     `json:"url"`
	CachedAt          time.Time  `json:"cachedAt"`
	SourceURL         string     `json:"sourceUrl"`
	SourceURLIdentity string     `json:"sourceUrlIdentity,omitempty"`
}

// BlobStore persists raw segment bytes.
type BlobStore interface {
	GetBlob(ctx context.Context, id string) ([]byte, error)
	PutBlob(ctx context.Context, id string, data []byte) error
	DeleteBlob(ctx context.Context, id string) error
	ClearBlobs(ctx context.Context) error
}

// MetaIndex persists Meta records.
type MetaIndex interface {
	GetMeta(ctx context.Context, id string) (Meta, error)
	PutMeta(ctx context.Context, m Meta) error
	DeleteMeta(ctx context.Context, id string) error
	ClearMeta(ctx context.Context) error
}

// EntryWriter is implemented by backends that serve as both BlobStore and
// MetaIndex and can write the two records atomically.
type EntryWriter interface {
	PutEntry(ctx context.Context, m Meta, data []byte) error
}

// IdentityIndex maps segment ids to the last URL identity seen for them. It
// validates entries written before Meta carried SourceURLIdentity.
type IdentityIndex interface {
	Identity(id string) (string, bool)
	SetIdentity(id, identity string) error
	DeleteIdentity(id string) error
	ClearIdentities() error
}
