package segcache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"puja-player/internal/blob"
	"puja-player/internal/platform/logger"
	"puja-player/internal/platform/metrics"
)

// Config wires a Store to its backends. Blobs and Meta are required; the
// remaining fields have defaults.
type Config struct {
	Blobs      BlobStore
	Meta       MetaIndex
	Identities IdentityIndex
	URLs       *blob.Registry
	MaxAge     time.Duration
	Now        func() time.Time
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Stats counts store activity since creation.
type Stats struct {
	Hits          int64
	Misses        int64
	Writes        int64
	SkippedWrites int64
	FailedWrites  int64
	Evictions     int64
}

// Store is the segment cache. All methods are safe for concurrent use as long
// as the backends are.
type Store struct {
	blobs  BlobStore
	meta   MetaIndex
	ids    IdentityIndex
	urls   *blob.Registry
	maxAge time.Duration
	now    func() time.Time
	log    *slog.Logger
	met    *metrics.Metrics

	hits, misses, writes, skipped, failed, evictions atomic.Int64
}

// New builds a Store from cfg.
func New(cfg Config) *Store {
	s := &Store{
		blobs:  cfg.Blobs,
		meta:   cfg.Meta,
		ids:    cfg.Identities,
		urls:   cfg.URLs,
		maxAge: cfg.MaxAge,
		now:    cfg.Now,
		log:    logger.OrDiscard(cfg.Logger).With("component", "segcache"),
		met:    cfg.Metrics,
	}
	if s.ids == nil {
		s.ids = NewMemoryIdentityIndex()
	}
	if s.urls == nil {
		s.urls = blob.NewRegistry("")
	}
	if s.maxAge <= 0 {
		s.maxAge = DefaultMaxAge
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// URLs returns the registry in which Get creates object URLs.
func (s *Store) URLs() *blob.Registry { return s.urls }

// Get returns a playable copy of the cached segment. Expired entries and
// metadata without a blob are evicted and reported as misses. The returned
// URL is new on every call.
func (s *Store) Get(ctx context.Context, id string) (*CachedSegment, bool) {
	m, err := s.meta.GetMeta(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.dropOrphanBlob(ctx, id)
		} else {
			s.log.Warn("cache metadata read failed", "segment_id", id, "error", err)
		}
		s.misses.Add(1)
		return nil, false
	}

	if s.expired(m) {
		s.log.Debug("cache entry expired", "segment_id", id, "cached_at", m.CachedAt)
		s.evict(ctx, id)
		s.misses.Add(1)
		return nil, false
	}

	data, err := s.blobs.GetBlob(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.log.Warn("cache metadata without blob", "segment_id", id)
			s.evict(ctx, id)
		} else {
			s.log.Warn("cache blob read failed", "segment_id", id, "error", err)
		}
		s.misses.Add(1)
		return nil, false
	}

	b := blob.New(data, m.MimeType)
	s.hits.Add(1)
	return &CachedSegment{
		ID:                id,
		Blob:              b,
		URL:               s.urls.Create(b),
		CachedAt:          m.CachedAt,
		SourceURL:         m.SourceURL,
		SourceURLIdentity: m.SourceURLIdentity,
	}, true
}

// Put stores b for id unless a live entry already exists. Failures, including
// ErrQuotaExceeded, are logged and reported only through the return value:
// the caller still holds b and can play it.
func (s *Store) Put(ctx context.Context, id string, b *blob.Blob, sourceURL, identity string) bool {
	if s.live(ctx, id) {
		s.log.Debug("segment already cached, skipping write", "segment_id", id)
		s.skipped.Add(1)
		return true
	}

	m := Meta{
		SegmentID:         id,
		MimeType:          b.Type(),
		Size:              b.Size(),
		CachedAt:          s.now().UTC(),
		SourceURL:         sourceURL,
		SourceURLIdentity: identity,
	}

	var err error
	if w, ok := s.blobs.(EntryWriter); ok && !s.splitBackends() {
		err = w.PutEntry(ctx, m, b.Bytes())
	} else if err = s.blobs.PutBlob(ctx, id, b.Bytes()); err == nil {
		// Metadata goes last so an index hit always has bytes behind it.
		if err = s.meta.PutMeta(ctx, m); err != nil {
			if derr := s.blobs.DeleteBlob(ctx, id); derr != nil {
				s.log.Warn("orphan blob cleanup failed", "segment_id", id, "error", derr)
			}
		}
	}

	if err != nil {
		s.failed.Add(1)
		if errors.Is(err, ErrQuotaExceeded) {
			s.log.Warn("cache quota exceeded, segment will play uncached", "segment_id", id, "size", b.Size(), "error", err)
			s.met.IncCacheWriteFailure("quota")
		} else {
			s.log.Error("cache write failed", "segment_id", id, "error", err)
			s.met.IncCacheWriteFailure("error")
		}
		return false
	}

	s.writes.Add(1)
	s.log.Debug("segment cached", "segment_id", id, "size", b.Size(), "identity", identity)
	return true
}

// Remove deletes the blob and metadata for id.
func (s *Store) Remove(ctx context.Context, id string) {
	if err := s.blobs.DeleteBlob(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.Warn("cache blob delete failed", "segment_id", id, "error", err)
	}
	if err := s.meta.DeleteMeta(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.Warn("cache metadata delete failed", "segment_id", id, "error", err)
	}
}

// URLIdentity returns the last identity recorded for id.
func (s *Store) URLIdentity(id string) (string, bool) {
	return s.ids.Identity(id)
}

// SetURLIdentity records identity for id. Persist errors are logged.
func (s *Store) SetURLIdentity(id, identity string) {
	if err := s.ids.SetIdentity(id, identity); err != nil {
		s.log.Warn("identity index write failed", "segment_id", id, "error", err)
	}
}

// DeleteURLIdentity forgets id in the identity index.
func (s *Store) DeleteURLIdentity(id string) {
	if err := s.ids.DeleteIdentity(id); err != nil {
		s.log.Warn("identity index delete failed", "segment_id", id, "error", err)
	}
}

// ClearAll wipes blobs, metadata and the identity index. Object URLs already
// handed out stay valid until their owners revoke them.
func (s *Store) ClearAll(ctx context.Context) error {
	err := errors.Join(
		s.blobs.ClearBlobs(ctx),
		s.meta.ClearMeta(ctx),
		s.ids.ClearIdentities(),
	)
	if err != nil {
		s.log.Error("cache clear failed", "error", err)
		return err
	}
	s.log.Info("segment cache cleared")
	return nil
}

// Stats returns a snapshot of the counters.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:          s.hits.Load(),
		Misses:        s.misses.Load(),
		Writes:        s.writes.Load(),
		SkippedWrites: s.skipped.Load(),
		FailedWrites:  s.failed.Load(),
		Evictions:     s.evictions.Load(),
	}
}

func (s *Store) expired(m Meta) bool {
	return s.now().Sub(m.CachedAt) > s.maxAge
}

// live reports whether id has unexpired metadata.
func (s *Store) live(ctx context.Context, id string) bool {
	m, err := s.meta.GetMeta(ctx, id)
	if err != nil {
		return false
	}
	return !s.expired(m)
}

func (s *Store) evict(ctx context.Context, id string) {
	s.Remove(ctx, id)
	s.evictions.Add(1)
	s.met.IncCacheEviction()
}

// splitBackends reports whether blobs and metadata live in different stores,
// in which case metadata can disappear on its own (a Redis TTL) and leave the
// blob behind.
func (s *Store) splitBackends() bool {
	return any(s.blobs) != any(s.meta)
}

// dropOrphanBlob deletes a blob whose metadata is gone so it stops counting
// against the blob store's byte budget.
func (s *Store) dropOrphanBlob(ctx context.Context, id string) {
	if !s.splitBackends() {
		return
	}
	if err := s.blobs.DeleteBlob(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		s.log.Warn("orphan blob cleanup failed", "segment_id", id, "error", err)
	}
}
