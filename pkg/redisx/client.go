package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danghamo/haulnav/pkg/logger"
)

// Client wraps redis.Client with logging helpers used by the stores
type Client struct {
	*redis.Client
	logger *logger.Logger
}

// NewClient creates a new Redis client from URL and verifies the connection
func NewClient(redisURL string, log *logger.Logger) (*Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL cannot be empty")
	}

	if log == nil {
		log = logger.GetGlobalLogger()
	}

	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := Wrap(redis.NewClient(redisOptions), log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client.logger.Info("Redis client connected successfully",
		zap.String("addr", redisOptions.Addr),
		zap.Int("db", redisOptions.DB),
		zap.Int("pool_size", redisOptions.PoolSize),
	)

	return client, nil
}

// Wrap adds the logging helpers to an existing go-redis client
func Wrap(rdb *redis.Client, log *logger.Logger) *Client {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Client{Client: rdb, logger: log.WithComponent("redisx")}
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")
	return c.Client.Close()
}

// HealthCheck performs a health check on the Redis connection
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := c.Ping(ctx).Err()
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("Redis health check failed",
			zap.Error(err),
			zap.Duration("duration", duration),
		)
		return err
	}

	c.logger.Debug("Redis health check passed", zap.Duration("duration", duration))
	return nil
}

// SetWithExpiration sets a key-value pair with expiration
func (c *Client) SetWithExpiration(ctx context.Context, key string, value any, expiration time.Duration) error {
	start := time.Now()
	err := c.Set(ctx, key, value, expiration).Err()
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("Failed to set key with expiration",
			zap.String("key", key),
			zap.Duration("expiration", expiration),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return err
	}

	c.logger.Debug("Set key with expiration",
		zap.String("key", key),
		zap.Duration("expiration", expiration),
		zap.Duration("duration", duration),
	)
	return nil
}

// GetWithLogging gets a value with logging. A missing key returns redis.Nil.
func (c *Client) GetWithLogging(ctx context.Context, key string) (string, error) {
	start := time.Now()
	result := c.Get(ctx, key)
	duration := time.Since(start)

	if err := result.Err(); err != nil {
		if err == redis.Nil {
			c.logger.Debug("Key not found",
				zap.String("key", key),
				zap.Duration("duration", duration),
			)
		} else {
			c.logger.Error("Failed to get key",
				zap.String("key", key),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		}
		return "", err
	}

	return result.Val(), nil
}

// XAddWithLogging appends an entry to a capped stream and returns its ID
func (c *Client) XAddWithLogging(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error) {
	start := time.Now()
	id, err := c.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Result()
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("Failed to append to stream",
			zap.String("stream", stream),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return "", err
	}

	c.logger.Debug("Appended to stream",
		zap.String("stream", stream),
		zap.String("id", id),
		zap.Duration("duration", duration),
	)
	return id, nil
}

// XRevRangeWithLogging reads the newest count entries of a stream, newest first
func (c *Client) XRevRangeWithLogging(ctx context.Context, stream string, count int64) ([]redis.XMessage, error) {
	start := time.Now()
	messages, err := c.XRevRangeN(ctx, stream, "+", "-", count).Result()
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("Failed to read stream",
			zap.String("stream", stream),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}

	c.logger.Debug("Read stream",
		zap.String("stream", stream),
		zap.Int("entries", len(messages)),
		zap.Duration("duration", duration),
	)
	return messages, nil
}
