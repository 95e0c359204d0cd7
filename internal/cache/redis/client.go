package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rfp-agent/backend/internal/storage/models"
	"github.com/rfp-agent/backend/pkg/config"
	"github.com/rfp-agent/backend/pkg/logger"
)

// Client is a read-through tier for persisted recommendations. Recommendations are frozen once
// stored, so entries only ever expire; nothing invalidates them.
type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", cfg.Addr()), zap.Duration("ttl", cfg.TTL()))

	return &Client{client: client, ttl: cfg.TTL()}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func recommendationKey(rfpID int64) string {
	return fmt.Sprintf("recommendation:%d", rfpID)
}

func (c *Client) SetRecommendation(ctx context.Context, rfpID int64, rec *models.Recommendation) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendation: %w", err)
	}

	if err := c.client.Set(ctx, recommendationKey(rfpID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set recommendation cache: %w", err)
	}

	logger.Debug("Recommendation cached", zap.Int64("rfp_id", rfpID), zap.Duration("ttl", c.ttl))
	return nil
}

// GetRecommendation reports a miss as (nil, false, nil).
func (c *Client) GetRecommendation(ctx context.Context, rfpID int64) (*models.Recommendation, bool, error) {
	data, err := c.client.Get(ctx, recommendationKey(rfpID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get recommendation cache: %w", err)
	}

	var rec models.Recommendation
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal recommendation: %w", err)
	}

	logger.Debug("Recommendation cache hit", zap.Int64("rfp_id", rfpID))
	return &rec, true, nil
}
