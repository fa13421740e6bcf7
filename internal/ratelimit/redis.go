package ratelimit

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// admitScript trims the sorted set to the window, then records the admission
// if there is room. Running it as one script keeps check-and-record atomic
// across every process sharing the Redis instance.
var admitScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// RedisWindow is a Limiter whose windows live in Redis sorted sets, for
// deployments running more than one dispatcher process.
type RedisWindow struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisWindow(client redis.UniversalClient) *RedisWindow {
	return &RedisWindow{client: client, now: time.Now}
}

func (l *RedisWindow) WithClock(now func() time.Time) *RedisWindow {
	l.now = now
	return l
}

func (l *RedisWindow) Allow(ctx context.Context, scopeKey string, capacity int) (bool, error) {
	if capacity <= 0 {
		return true, nil
	}

	nowMs := l.now().UnixMilli()
	cutoff := "(" + strconv.FormatInt(nowMs-Window.Milliseconds(), 10)

	res, err := admitScript.Run(ctx, l.client, []string{keyPrefix + scopeKey},
		nowMs, cutoff, capacity, strconv.FormatInt(nowMs, 10)+"-"+uuid.NewString(), Window.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return res == 1, nil
}

// NewRedisClient parses a redis:// or rediss:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = time.Second

	if opts.TLSConfig == nil && strings.HasPrefix(redisURL, "rediss://") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var _ Limiter = (*RedisWindow)(nil)
