// Package keyusage throttles last_used_at bookkeeping for agent API keys so
// a busy agent does not turn every exchange into a registry write.
package keyusage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisThrottle remembers, per agent, that a touch happened recently.
type RedisThrottle struct {
	client   *redis.Client
	prefix   string
	interval time.Duration
}

// NewRedisThrottle connects to redisURL and verifies the connection.
func NewRedisThrottle(redisURL string, interval time.Duration) (*RedisThrottle, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisThrottleWithClient(client, interval), nil
}

// NewRedisThrottleWithClient wraps an existing client.
func NewRedisThrottleWithClient(client *redis.Client, interval time.Duration) *RedisThrottle {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RedisThrottle{
		client:   client,
		prefix:   "agent-touch:",
		interval: interval,
	}
}

func (t *RedisThrottle) key(agentID string) string {
	return t.prefix + agentID
}

// Allow reports whether the caller should write last_used_at now. The first
// call in each interval wins.
func (t *RedisThrottle) Allow(ctx context.Context, agentID string) (bool, error) {
	ok, err := t.client.SetNX(ctx, t.key(agentID), time.Now().Unix(), t.interval).Result()
	if err != nil {
		return false, fmt.Errorf("throttle touch: %w", err)
	}
	return ok, nil
}

// Reset forgets the last touch for agentID.
func (t *RedisThrottle) Reset(ctx context.Context, agentID string) error {
	if err := t.client.Del(ctx, t.key(agentID)).Err(); err != nil {
		return fmt.Errorf("reset touch: %w", err)
	}
	return nil
}

func (t *RedisThrottle) Close() error {
	return t.client.Close()
}

func (t *RedisThrottle) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}
