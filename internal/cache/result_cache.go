package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"braillescan/internal/model"
)

// ResultCache keeps each session's detection records in redis. A short-lived
// dirty marker blocks repopulation while a new record is being written.
type ResultCache struct {
	client         *redisv9.Client
	resultsTTL     time.Duration
	dirtyMarkerTTL time.Duration
}

func NewResultCache(client *redisv9.Client, resultsTTL, dirtyMarkerTTL time.Duration) *ResultCache {
	if resultsTTL <= 0 {
		resultsTTL = 60 * time.Second
	}
	if dirtyMarkerTTL <= 0 {
		dirtyMarkerTTL = 5 * time.Second
	}
	return &ResultCache{
		client:         client,
		resultsTTL:     resultsTTL,
		dirtyMarkerTTL: dirtyMarkerTTL,
	}
}

func (c *ResultCache) GetResults(ctx context.Context, sessionID string) ([]model.DetectionRecord, bool, error) {
	raw, err := c.client.Get(ctx, c.resultsKey(sessionID)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get results failed: %w", err)
	}

	var records []model.DetectionRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached results failed: %w", err)
	}
	return records, true, nil
}

func (c *ResultCache) SetResults(ctx context.Context, sessionID string, records []model.DetectionRecord) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal results cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.resultsKey(sessionID), payload, c.resultsTTL).Err(); err != nil {
		return fmt.Errorf("redis set results failed: %w", err)
	}
	return nil
}

func (c *ResultCache) DeleteResults(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.resultsKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete results failed: %w", err)
	}
	return nil
}

func (c *ResultCache) MarkDirty(ctx context.Context, sessionID string) error {
	if err := c.client.Set(ctx, c.dirtyKey(sessionID), "1", c.dirtyMarkerTTL).Err(); err != nil {
		return fmt.Errorf("redis set dirty marker failed: %w", err)
	}
	return nil
}

func (c *ResultCache) ClearDirty(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.dirtyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis clear dirty marker failed: %w", err)
	}
	return nil
}

func (c *ResultCache) IsDirty(ctx context.Context, sessionID string) (bool, error) {
	exists, err := c.client.Exists(ctx, c.dirtyKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func (c *ResultCache) resultsKey(sessionID string) string {
	return "braille:results:" + sessionID
}

func (c *ResultCache) dirtyKey(sessionID string) string {
	return "braille:results:dirty:" + sessionID
}
