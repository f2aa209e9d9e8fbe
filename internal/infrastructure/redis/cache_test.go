package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	rediscache "github.com/popforge/popup-service/internal/infrastructure/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*rediscache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return rediscache.NewFromClient(client), mr
}

func TestImpressions_RecordAndCheck(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	visitorID := "visitor-1"
	campaignID := uuid.New()

	assert.False(t, cache.HasImpression(ctx, visitorID, campaignID))

	cache.RecordImpression(ctx, visitorID, campaignID)
	assert.True(t, cache.HasImpression(ctx, visitorID, campaignID))

	// Key carries the 24h TTL.
	key := "impression:" + visitorID + ":" + campaignID.String()
	require.True(t, mr.Exists(key))
	assert.Equal(t, 24*time.Hour, mr.TTL(key))

	// Different campaign, same visitor: independent record.
	assert.False(t, cache.HasImpression(ctx, visitorID, uuid.New()))
}

func TestImpressions_RecordIsIdempotent(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	visitorID := "visitor-1"
	campaignID := uuid.New()
	key := "impression:" + visitorID + ":" + campaignID.String()

	cache.RecordImpression(ctx, visitorID, campaignID)
	mr.FastForward(12 * time.Hour)

	// Second record overwrites and refreshes the TTL rather than erroring.
	cache.RecordImpression(ctx, visitorID, campaignID)
	assert.Equal(t, 24*time.Hour, mr.TTL(key))
	assert.True(t, cache.HasImpression(ctx, visitorID, campaignID))
}

func TestImpressions_ExpireViaTTL(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	campaignID := uuid.New()
	cache.RecordImpression(ctx, "visitor-1", campaignID)

	mr.FastForward(24*time.Hour + time.Second)
	assert.False(t, cache.HasImpression(ctx, "visitor-1", campaignID))
}

func TestImpressions_FailOpen(t *testing.T) {
	ctx := context.Background()
	campaignID := uuid.New()

	t.Run("backend down", func(t *testing.T) {
		cache, mr := newTestCache(t)
		mr.Close()

		// Writes are swallowed, reads report true.
		cache.RecordImpression(ctx, "visitor-1", campaignID)
		assert.True(t, cache.HasImpression(ctx, "visitor-1", campaignID))
	})

	t.Run("nil client", func(t *testing.T) {
		cache := rediscache.NewFromClient(nil)
		cache.RecordImpression(ctx, "visitor-1", campaignID)
		assert.True(t, cache.HasImpression(ctx, "visitor-1", campaignID))
	})

	t.Run("nil cache", func(t *testing.T) {
		var cache *rediscache.Cache
		cache.RecordImpression(ctx, "visitor-1", campaignID)
		assert.True(t, cache.HasImpression(ctx, "visitor-1", campaignID))
	})
}

func TestTriggerCounts(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	visitorID := "visitor-1"
	campaignID := uuid.New()

	sess, day, cool := cache.TriggerCounts(ctx, visitorID, campaignID)
	assert.Zero(t, sess)
	assert.Zero(t, day)
	assert.False(t, cool)

	cache.MarkTriggered(ctx, visitorID, campaignID, 0)
	cache.MarkTriggered(ctx, visitorID, campaignID, 0)

	sess, day, cool = cache.TriggerCounts(ctx, visitorID, campaignID)
	assert.Equal(t, 2, sess)
	assert.Equal(t, 2, day)
	assert.False(t, cool)

	// Session window lapses, day window survives.
	mr.FastForward(31 * time.Minute)
	sess, day, _ = cache.TriggerCounts(ctx, visitorID, campaignID)
	assert.Zero(t, sess)
	assert.Equal(t, 2, day)
}

func TestMarkTriggered_CooldownStamp(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	visitorID := "visitor-1"
	campaignID := uuid.New()

	cache.MarkTriggered(ctx, visitorID, campaignID, 7*24*time.Hour)
	_, _, cool := cache.TriggerCounts(ctx, visitorID, campaignID)
	assert.True(t, cool)

	mr.FastForward(7*24*time.Hour + time.Second)
	_, _, cool = cache.TriggerCounts(ctx, visitorID, campaignID)
	assert.False(t, cool)
}

func TestAllowRequest(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := cache.AllowRequest(ctx, "10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := cache.AllowRequest(ctx, "10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Other IPs are unaffected; window reset clears the counter.
	ok, _ = cache.AllowRequest(ctx, "10.0.0.2", 3, time.Minute)
	assert.True(t, ok)

	mr.FastForward(61 * time.Second)
	ok, _ = cache.AllowRequest(ctx, "10.0.0.1", 3, time.Minute)
	assert.True(t, ok)
}

func TestAllowRequest_FailOpen(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()

	ok, err := cache.AllowRequest(context.Background(), "10.0.0.1", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
