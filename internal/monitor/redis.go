package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// redisPinger is the Redis surface the check needs.
type redisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Info(ctx context.Context, section ...string) *redis.StringCmd
	Close() error
}

// RedisCheck verifies Redis answers PING and extracts the server
// version from INFO.
type RedisCheck struct {
	addr     string
	password string
	critical bool

	// dial overrides client construction in tests.
	dial func() redisPinger
}

// NewRedisCheck creates a Redis connectivity check. The password is
// resolved by the caller (from Vault), never from config.
func NewRedisCheck(addr, password string, critical bool) *RedisCheck {
	c := &RedisCheck{addr: addr, password: password, critical: critical}
	c.dial = func() redisPinger {
		return redis.NewClient(&redis.Options{Addr: addr, Password: password})
	}
	return c
}

// Name implements Check.
func (c *RedisCheck) Name() string { return "redis:" + c.addr }

// Critical implements Check.
func (c *RedisCheck) Critical() bool { return c.critical }

// Run implements Check.
func (c *RedisCheck) Run(ctx context.Context) Result {
	if c.addr == "" {
		return fail(c.Name(), c.critical, 0, "no redis address configured")
	}

	client := c.dial()
	defer func() { _ = client.Close() }()

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		return fail(c.Name(), c.critical, time.Since(start), fmt.Sprintf("ping failed: %v", err))
	}
	latency := time.Since(start)

	result := ok(c.Name(), c.critical, latency, fmt.Sprintf("PONG %s", latency.Round(time.Millisecond)))
	if info, err := client.Info(ctx, "server").Result(); err == nil {
		if version := redisInfoField(info, "redis_version"); version != "" {
			result.Details = map[string]string{"version": version}
		}
	}
	return result
}

// redisInfoField pulls one field out of an INFO section response.
func redisInfoField(info, field string) string {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if value, found := strings.CutPrefix(line, field+":"); found {
			return value
		}
	}
	return ""
}
