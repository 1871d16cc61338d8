// Package orchestrator reconciles a playback's segment list with the local
// segment cache, downloading whatever is missing or stale.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"puja-player/internal/blob"
	"puja-player/internal/playback"
	"puja-player/internal/platform/logger"
	"puja-player/internal/platform/metrics"
	"puja-player/internal/segcache"
)

// SegmentCache is the part of segcache.Store the orchestrator uses.
type SegmentCache interface {
	Get(ctx context.Context, id string) (*segcache.CachedSegment, bool)
	Put(ctx context.Context, id string, b *blob.Blob, sourceURL, identity string) bool
	Remove(ctx context.Context, id string)
	URLIdentity(id string) (string, bool)
	SetURLIdentity(id, identity string)
	DeleteURLIdentity(id string)
}

// Downloader fetches one segment.
type Downloader interface {
	Download(ctx context.Context, url string) (*blob.Blob, error)
}

// ProgressFunc receives download progress in percent, 0 to 100.
type ProgressFunc func(percent float64)

// Service synchronizes segment lists with the cache. Segments are processed
// one at a time, in list order.
type Service struct {
	cache SegmentCache
	dl    Downloader
	urls  *blob.Registry
	log   *slog.Logger
	met   *metrics.Metrics
	now   func() time.Time
}

// NewService returns a Service. urls must be the registry the cache creates
// object URLs in, so that URLs of discarded segments can be revoked.
func NewService(cache SegmentCache, dl Downloader, urls *blob.Registry, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		cache: cache,
		dl:    dl,
		urls:  urls,
		log:   logger.OrDiscard(log).With("component", "orchestrator"),
		met:   m,
		now:   time.Now,
	}
}

// Synchronize returns a cached segment for every entry of segs, in the same
// order. When every segment is already cached with a matching identity no
// download happens. Otherwise segments are resolved sequentially, reporting
// progress after each one. The first download error aborts the batch: object
// URLs created by this call are revoked, segments cached so far stay cached.
func (s *Service) Synchronize(ctx context.Context, segs []playback.Segment, progress ProgressFunc) ([]*segcache.CachedSegment, error) {
	start := s.now()
	defer func() { s.met.ObserveSync(s.now().Sub(start)) }()
	if progress == nil {
		progress = func(float64) {}
	}

	out := make([]*segcache.CachedSegment, len(segs))
	if len(segs) == 0 {
		progress(100)
		return out, nil
	}

	identities := make([]string, len(segs))
	hits := 0
	for i, seg := range segs {
		identities[i] = segcache.NormalizeURL(seg.URL)
		if c := s.lookup(ctx, seg, identities[i]); c != nil {
			out[i] = c
			hits++
		}
	}

	if hits == len(segs) {
		s.met.IncSyncFastPath()
		s.log.Info("all segments cached", "segments", len(segs))
		progress(100)
		return out, nil
	}

	s.log.Info("downloading segments", "segments", len(segs), "cached", hits)
	for i, seg := range segs {
		if err := ctx.Err(); err != nil {
			s.discard(out)
			return nil, err
		}

		if out[i] == nil {
			// An earlier entry may have resolved the same id.
			if c := s.lookup(ctx, seg, identities[i]); c != nil {
				out[i] = c
			} else {
				c, err := s.fetch(ctx, seg, identities[i])
				if err != nil {
					s.discard(out)
					s.log.Error("segment synchronization failed",
						"segment_id", seg.ID, "position", i+1, "segments", len(segs), "error", err)
					return nil, fmt.Errorf("segment %d of %d (%s): %w", i+1, len(segs), seg.ID, err)
				}
				out[i] = c
			}
		}

		progress(float64(i+1) / float64(len(segs)) * 100)
	}

	return out, nil
}

// lookup returns a valid cache entry for seg, evicting a stale one.
func (s *Service) lookup(ctx context.Context, seg playback.Segment, identity string) *segcache.CachedSegment {
	c, ok := s.cache.Get(ctx, seg.ID)
	if !ok {
		s.met.IncCacheMiss()
		return nil
	}
	if s.matches(c, identity) {
		s.met.IncCacheHit()
		return c
	}

	s.log.Info("cached segment is stale",
		"segment_id", seg.ID, "cached_identity", c.SourceURLIdentity, "identity", identity)
	s.urls.Revoke(c.URL)
	s.cache.Remove(ctx, seg.ID)
	s.cache.DeleteURLIdentity(seg.ID)
	s.met.IncCacheMiss()
	return nil
}

// matches compares the entry's identity with want. Entries written without
// an identity fall back to the identity index; no identity at all is stale.
func (s *Service) matches(c *segcache.CachedSegment, want string) bool {
	if c.SourceURLIdentity != "" {
		return c.SourceURLIdentity == want
	}
	legacy, ok := s.cache.URLIdentity(c.ID)
	return ok && legacy == want
}

func (s *Service) fetch(ctx context.Context, seg playback.Segment, identity string) (*segcache.CachedSegment, error) {
	b, err := s.dl.Download(ctx, seg.URL)
	if err != nil {
		return nil, err
	}

	if !s.cache.Put(ctx, seg.ID, b, seg.URL, identity) {
		s.log.Warn("segment not cached, playing from memory", "segment_id", seg.ID)
	}
	s.cache.SetURLIdentity(seg.ID, identity)

	return &segcache.CachedSegment{
		ID:                seg.ID,
		Blob:              b,
		URL:               s.urls.Create(b),
		CachedAt:          s.now().UTC(),
		SourceURL:         seg.URL,
		SourceURLIdentity: identity,
	}, nil
}

func (s *Service) discard(segs []*segcache.CachedSegment) {
	for _, c := range segs {
		if c != nil {
			s.urls.Revoke(c.URL)
		}
	}
}
