package segcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisMetaIndex) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisMetaIndex(client, "", ttl)
}

func TestRedisMetaIndex_PutGet(t *testing.T) {
	ctx := context.Background()
	_, idx := setupMiniRedis(t, 0)

	_, err := idx.GetMeta(ctx, "seg")
	assert.ErrorIs(t, err, ErrNotFound)

	m := Meta{
		SegmentID:         "seg",
		MimeType:          "video/mp4",
		Size:              42,
		CachedAt:          time.UnixMilli(1_700_000_000_123).UTC(),
		SourceURL:         "https://cdn.example/v1?sig=x",
		SourceURLIdentity: "https://cdn.example/v1",
	}
	require.NoError(t, idx.PutMeta(ctx, m))

	got, err := idx.GetMeta(ctx, "seg")
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestRedisMetaIndex_ttl(t *testing.T) {
	ctx := context.Background()
	mr, idx := setupMiniRedis(t, time.Hour)

	require.NoError(t, idx.PutMeta(ctx, Meta{SegmentID: "seg", CachedAt: time.Now()}))
	assert.Equal(t, time.Hour, mr.TTL(DefaultRedisPrefix+"seg"))

	mr.FastForward(2 * time.Hour)
	_, err := idx.GetMeta(ctx, "seg")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisMetaIndex_Clear_only_touches_prefix(t *testing.T) {
	ctx := context.Background()
	mr, idx := setupMiniRedis(t, 0)

	require.NoError(t, mr.Set("unrelated", "keep"))
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, idx.PutMeta(ctx, Meta{SegmentID: id}))
	}
	require.NoError(t, idx.ClearMeta(ctx))

	for _, id := range []string{"a", "b", "c"} {
		_, err := idx.GetMeta(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisMetaIndex_with_store(t *testing.T) {
	ctx := context.Background()
	_, idx := setupMiniRedis(t, 0)
	db, err := OpenBadger("", 0)
	require.NoError(t, err)
	defer db.Close()

	s := New(Config{Blobs: db, Meta: idx})
	b := newVideo("payload")
	require.True(t, s.Put(ctx, "seg", b, "u", "i"))

	got, ok := s.Get(ctx, "seg")
	require.True(t, ok)
	assert.Equal(t, "payload", string(got.Blob.Bytes()))

	require.NoError(t, idx.DeleteMeta(ctx, "seg"))
	_, ok = s.Get(ctx, "seg")
	assert.False(t, ok, "blob without metadata is invisible")
}

func TestRedisMetaIndex_expiry_releases_blob_quota(t *testing.T) {
	ctx := context.Background()
	mr, idx := setupMiniRedis(t, time.Hour)
	db, err := OpenBadger("", 10)
	require.NoError(t, err)
	defer db.Close()

	s := New(Config{Blobs: db, Meta: idx, MaxAge: 24 * time.Hour})
	require.True(t, s.Put(ctx, "a", newVideo("aaaaaaaa"), "u", "i"))
	assert.Equal(t, int64(8), db.Used())

	mr.FastForward(2 * time.Hour)
	_, ok := s.Get(ctx, "a")
	assert.False(t, ok)
	assert.Zero(t, db.Used(), "blob behind expired metadata is deleted")

	assert.True(t, s.Put(ctx, "b", newVideo("bbbbbbbb"), "u", "i"))
	assert.Equal(t, int64(8), db.Used())
}
