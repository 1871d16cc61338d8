package segcache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces metadata hashes.
const DefaultRedisPrefix = "segmeta:"

// RedisMetaIndex stores one hash per segment:
//
//	<prefix><segment id> -> mime, size, cached_at, source_url, identity
//
// With a positive TTL the hash expires on its own after the cache max age.
type RedisMetaIndex struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisMetaIndex wraps an existing client. An empty prefix uses
// DefaultRedisPrefix.
func NewRedisMetaIndex(client *redis.Client, prefix string, ttl time.Duration) *RedisMetaIndex {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisMetaIndex{client: client, prefix: prefix, ttl: ttl}
}

// DialRedisMetaIndex connects to addr and verifies the connection.
func DialRedisMetaIndex(ctx context.Context, addr, prefix string, ttl time.Duration) (*RedisMetaIndex, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisMetaIndex(client, prefix, ttl), nil
}

// Close closes the Redis connection.
func (r *RedisMetaIndex) Close() error {
	return r.client.Close()
}

func (r *RedisMetaIndex) key(id string) string {
	return r.prefix + id
}

// GetMeta implements MetaIndex.
func (r *RedisMetaIndex) GetMeta(ctx context.Context, id string) (Meta, error) {
	fields, err := r.client.HGetAll(ctx, r.key(id)).Result()
	if err != nil {
		return Meta{}, err
	}
	if len(fields) == 0 {
		return Meta{}, ErrNotFound
	}

	m := Meta{
		SegmentID:         id,
		MimeType:          fields["mime"],
		SourceURL:         fields["source_url"],
		SourceURLIdentity: fields["identity"],
	}
	if v, err := strconv.Atoi(fields["size"]); err == nil {
		m.Size = v
	}
	if v, err := strconv.ParseInt(fields["cached_at"], 10, 64); err == nil {
		m.CachedAt = time.UnixMilli(v).UTC()
	}
	return m, nil
}

// PutMeta implements MetaIndex.
func (r *RedisMetaIndex) PutMeta(ctx context.Context, m Meta) error {
	key := r.key(m.SegmentID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			"mime":       m.MimeType,
			"size":       m.Size,
			"cached_at":  m.CachedAt.UnixMilli(),
			"source_url": m.SourceURL,
			"identity":   m.SourceURLIdentity,
		})
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	return mapRedisErr(err)
}

// DeleteMeta implements MetaIndex.
func (r *RedisMetaIndex) DeleteMeta(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

// ClearMeta implements MetaIndex. Only keys under the prefix are removed.
func (r *RedisMetaIndex) ClearMeta(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func mapRedisErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "OOM") {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}
