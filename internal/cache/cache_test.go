package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestPresenceKeys(t *testing.T) {
	p := NewPresence(nil, "cc", time.Minute)
	assert.Equal(t, "cc:conn:u1", p.connKey("u1"))
	assert.Equal(t, "cc:presence:u1", p.presenceKey("u1"))

	r := NewRateLimiter(nil, "cc", 10, time.Minute, nil)
	assert.Equal(t, "cc:ratelimit:u1", r.key("u1"))
}

func TestPresence_MultiDevice(t *testing.T) {
	mr, rdb := newRedis(t)
	p := NewPresence(rdb, "cc", time.Minute)
	ctx := context.Background()

	require.NoError(t, p.AddConnection(ctx, "alice", "phone"))
	require.NoError(t, p.AddConnection(ctx, "alice", "laptop"))
	members, err := mr.SMembers("cc:conn:alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"phone", "laptop"}, members)

	seen := time.Unix(1700000000, 0)
	require.NoError(t, p.RemoveConnection(ctx, "alice", "phone", seen))
	st, err := p.Get(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, st.Online, "one device is still connected")

	require.NoError(t, p.RemoveConnection(ctx, "alice", "laptop", seen))
	st, err = p.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, st.Online)
	assert.Equal(t, int64(1700000000), st.LastSeen)
	assert.Equal(t, time.Duration(0), mr.TTL("cc:presence:alice"), "offline status is kept without expiry")
}

func TestPresence_TTLAndRefresh(t *testing.T) {
	mr, rdb := newRedis(t)
	p := NewPresence(rdb, "cc", time.Minute)
	ctx := context.Background()

	require.NoError(t, p.AddConnection(ctx, "alice", "a1"))
	assert.Equal(t, time.Minute, mr.TTL("cc:conn:alice"))
	assert.Equal(t, time.Minute, mr.TTL("cc:presence:alice"))

	mr.FastForward(50 * time.Second)
	require.NoError(t, p.Refresh(ctx, "alice", "a1"))
	assert.Equal(t, time.Minute, mr.TTL("cc:presence:alice"))

	mr.FastForward(50 * time.Second)
	st, err := p.Get(ctx, "alice")
	require.NoError(t, err, "a refreshed user outlives the original ttl")
	assert.True(t, st.Online)

	mr.FastForward(time.Minute)
	_, err = p.Get(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoPresence, "an unrefreshed entry expires")
	assert.False(t, mr.Exists("cc:conn:alice"))
}

func TestPresence_GetMissing(t *testing.T) {
	_, rdb := newRedis(t)
	_, err := NewPresence(rdb, "cc", time.Minute).Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNoPresence)
}

func limitedApp(r *RateLimiter) *fiber.App {
	app := fiber.New()
	app.Use(r.Middleware(func(c *fiber.Ctx) string { return c.Get("X-User") }))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func hit(t *testing.T, app *fiber.App, user string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User", user)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	mr, rdb := newRedis(t)
	app := limitedApp(NewRateLimiter(rdb, "cc", 2, time.Minute, zap.NewNop().Sugar()))

	assert.Equal(t, http.StatusOK, hit(t, app, "alice"))
	assert.Equal(t, http.StatusOK, hit(t, app, "alice"))
	assert.Equal(t, http.StatusTooManyRequests, hit(t, app, "alice"))
	assert.Equal(t, http.StatusOK, hit(t, app, "bob"), "keys are independent")
	assert.Equal(t, time.Minute, mr.TTL("cc:ratelimit:alice"))

	mr.FastForward(time.Minute)
	assert.Equal(t, http.StatusOK, hit(t, app, "alice"), "the window resets")
}

func TestRateLimiter_RepairsCounterWithoutExpiry(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set("cc:ratelimit:alice", "5"))
	app := limitedApp(NewRateLimiter(rdb, "cc", 2, time.Minute, zap.NewNop().Sugar()))

	assert.Equal(t, http.StatusTooManyRequests, hit(t, app, "alice"))
	assert.Equal(t, time.Minute, mr.TTL("cc:ratelimit:alice"))

	mr.FastForward(time.Minute)
	assert.Equal(t, http.StatusOK, hit(t, app, "alice"))
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	mr, rdb := newRedis(t)
	app := limitedApp(NewRateLimiter(rdb, "cc", 1, time.Minute, zap.NewNop().Sugar()))
	mr.Close()

	assert.Equal(t, http.StatusOK, hit(t, app, "alice"))
	assert.Equal(t, http.StatusOK, hit(t, app, "alice"))
}
