package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// ImpressionTTL is the window within which "this visitor saw this
	// campaign" stays answerable.
	ImpressionTTL = 24 * time.Hour

	// SessionWindow bounds the per-session trigger counter.
	SessionWindow = 30 * time.Minute

	// DayWindow bounds the per-day trigger counter.
	DayWindow = 24 * time.Hour
)

// Cache is the visitor-state store. Availability beats strictness
// throughout: a down or absent Redis degrades bot filtering and frequency
// capping, it never blocks a storefront request.
type Cache struct {
	Client *redis.Client
}

func New(addr, pass string, db int) *Cache {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr, Password: pass, DB: db,
	})
	return &Cache{Client: rdb}
}

// NewFromClient wraps an existing client (tests use this with miniredis).
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{Client: client}
}

func (c *Cache) unavailable() bool {
	return c == nil || c.Client == nil
}

func impressionKey(visitorID string, campaignID uuid.UUID) string {
	return "impression:" + visitorID + ":" + campaignID.String()
}

// RecordImpression notes that a visitor was shown a campaign. Best-effort:
// a failed write only makes later validation more permissive, so errors
// are swallowed and re-recording simply refreshes the TTL.
func (c *Cache) RecordImpression(ctx context.Context, visitorID string, campaignID uuid.UUID) {
	if c.unavailable() {
		return
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	_ = c.Client.SetEx(ctx, impressionKey(visitorID, campaignID), ts, ImpressionTTL).Err()
}

// HasImpression reports whether the visitor saw the campaign within the
// TTL window. Fails open: unavailable backend reports true rather than
// locking out a legitimate visitor.
func (c *Cache) HasImpression(ctx context.Context, visitorID string, campaignID uuid.UUID) bool {
	if c.unavailable() {
		return true
	}
	n, err := c.Client.Exists(ctx, impressionKey(visitorID, campaignID)).Result()
	if err != nil {
		return true
	}
	return n > 0
}

func sessKey(visitorID string, campaignID uuid.UUID) string {
	return "freq:sess:" + visitorID + ":" + campaignID.String()
}

func dayKey(visitorID string, campaignID uuid.UUID) string {
	return "freq:day:" + visitorID + ":" + campaignID.String()
}

func coolKey(visitorID string, campaignID uuid.UUID) string {
	return "freq:cool:" + visitorID + ":" + campaignID.String()
}

// TriggerCounts returns the visitor's session/day trigger counters and
// whether a cooldown stamp is active. Errors read as "never shown", which
// errs toward displaying the popup.
func (c *Cache) TriggerCounts(ctx context.Context, visitorID string, campaignID uuid.UUID) (session, day int, inCooldown bool) {
	if c.unavailable() {
		return 0, 0, false
	}

	if v, err := c.Client.Get(ctx, sessKey(visitorID, campaignID)).Result(); err == nil {
		session, _ = strconv.Atoi(v)
	}
	if v, err := c.Client.Get(ctx, dayKey(visitorID, campaignID)).Result(); err == nil {
		day, _ = strconv.Atoi(v)
	}
	if n, err := c.Client.Exists(ctx, coolKey(visitorID, campaignID)).Result(); err == nil {
		inCooldown = n > 0
	}
	return session, day, inCooldown
}

// MarkTriggered bumps the frequency counters after a popup display and,
// for gamified templates, stamps the cooldown. Best-effort.
func (c *Cache) MarkTriggered(ctx context.Context, visitorID string, campaignID uuid.UUID, cooldown time.Duration) {
	if c.unavailable() {
		return
	}

	sk := sessKey(visitorID, campaignID)
	if n, err := c.Client.Incr(ctx, sk).Result(); err == nil && n == 1 {
		_ = c.Client.Expire(ctx, sk, SessionWindow).Err()
	}

	dk := dayKey(visitorID, campaignID)
	if n, err := c.Client.Incr(ctx, dk).Result(); err == nil && n == 1 {
		_ = c.Client.Expire(ctx, dk, DayWindow).Err()
	}

	if cooldown > 0 {
		_ = c.Client.SetEx(ctx, coolKey(visitorID, campaignID), "1", cooldown).Err()
	}
}

// AllowRequest: simple fixed window rate limit, fail open.
func (c *Cache) AllowRequest(ctx context.Context, ip string, limit int, window time.Duration) (bool, error) {
	if c.unavailable() {
		return true, nil
	}
	key := "ratelimit:" + ip
	count, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		return true, nil
	}
	if count == 1 {
		_ = c.Client.Expire(ctx, key, window).Err()
	}
	return count <= int64(limit), nil
}
