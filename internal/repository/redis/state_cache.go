package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key patterns for cached game snapshots.
func snapshotKey(gameID int64) string { return "game:" + strconv.FormatInt(gameID, 10) + ":snapshot" }

const recentKey = "games:recent_snapshots"

// recentLimit caps how many snapshots the recent list keeps.
const recentLimit = 50

// SaveSnapshot stores a game's state snapshot and pushes it onto the recent
// list. The per-game key expires after ttl; the recent list is trimmed.
func (c *Client) SaveSnapshot(ctx context.Context, gameID int64, snapshot json.RawMessage, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, snapshotKey(gameID), []byte(snapshot), ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	pipe := c.rdb.Pipeline()
	pipe.LPush(ctx, recentKey, []byte(snapshot))
	pipe.LTrim(ctx, recentKey, 0, recentLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push recent snapshot: %w", err)
	}
	return nil
}

// GetSnapshot retrieves a game's latest cached snapshot, or nil if none.
func (c *Client) GetSnapshot(ctx context.Context, gameID int64) (json.RawMessage, error) {
	data, err := c.rdb.Get(ctx, snapshotKey(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return json.RawMessage(data), nil
}

// RecentSnapshots returns the most recently saved snapshots, newest first.
func (c *Client) RecentSnapshots(ctx context.Context, limit int64) ([]json.RawMessage, error) {
	if limit <= 0 || limit > recentLimit {
		limit = recentLimit
	}
	items, err := c.rdb.LRange(ctx, recentKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("recent snapshots: %w", err)
	}
	snapshots := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		snapshots = append(snapshots, json.RawMessage(item))
	}
	return snapshots, nil
}

// DeleteSnapshot removes a game's cached snapshot (on game deletion).
func (c *Client) DeleteSnapshot(ctx context.Context, gameID int64) error {
	return c.rdb.Del(ctx, snapshotKey(gameID)).Err()
}
