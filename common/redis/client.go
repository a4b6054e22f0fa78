package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Client wraps redis.Client with the subset of operations flowcore needs:
// pub/sub for trace event fan-out and a sorted set for alarm scheduling.
type Client struct {
	redis  *redis.Client
	logger Logger
}

// NewClient creates a new Redis client wrapper
func NewClient(redisClient *redis.Client, logger Logger) *Client {
	return &Client{
		redis:  redisClient,
		logger: logger,
	}
}

// GetUnderlying returns the underlying redis.Client for advanced operations
func (c *Client) GetUnderlying() *redis.Client {
	return c.redis
}

// Set sets a key with expiration. Expiry of 0 means no expiry.
func (c *Client) Set(ctx context.Context, key, value string, expiry time.Duration) error {
	if err := c.redis.Set(ctx, key, value, expiry).Err(); err != nil {
		c.logger.Error("redis SET failed", "key", key, "error", err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Get retrieves a value by key
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("key not found: %s", key)
	}
	if err != nil {
		c.logger.Error("redis GET failed", "key", key, "error", err)
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, nil
}

// Delete removes one or more keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Error("redis DEL failed", "keys", keys, "error", err)
		return fmt.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// PublishEvent publishes a trace event payload to a channel. Fire-and-forget:
// callers log a publish failure but never fail the calling operation on it.
func (c *Client) PublishEvent(ctx context.Context, channel string, message string) error {
	if err := c.redis.Publish(ctx, channel, message).Err(); err != nil {
		c.logger.Error("redis PUBLISH failed", "channel", channel, "error", err)
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens a subscription to one or more channels. Caller owns the
// returned PubSub and must Close it.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.redis.Subscribe(ctx, channels...)
}

// ScheduleAlarm adds a member to a sorted set keyed by the time it should
// fire, for cross-instance alarm scheduling (fan-in waits, timeouts).
func (c *Client) ScheduleAlarm(ctx context.Context, key string, member string, fireAt time.Time) error {
	if err := c.redis.ZAdd(ctx, key, redis.Z{Score: float64(fireAt.UnixMilli()), Member: member}).Err(); err != nil {
		c.logger.Error("redis ZADD failed", "key", key, "error", err)
		return fmt.Errorf("failed to schedule alarm: %w", err)
	}
	return nil
}

// DueAlarms returns members scored at or before now, for a sweep cycle.
func (c *Client) DueAlarms(ctx context.Context, key string, now time.Time) ([]string, error) {
	members, err := c.redis.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		c.logger.Error("redis ZRANGEBYSCORE failed", "key", key, "error", err)
		return nil, fmt.Errorf("failed to fetch due alarms: %w", err)
	}
	return members, nil
}

// RemoveAlarm removes a member from the alarm sorted set once it has fired
// or been superseded.
func (c *Client) RemoveAlarm(ctx context.Context, key string, member string) error {
	if err := c.redis.ZRem(ctx, key, member).Err(); err != nil {
		c.logger.Error("redis ZREM failed", "key", key, "error", err)
		return fmt.Errorf("failed to remove alarm: %w", err)
	}
	return nil
}
