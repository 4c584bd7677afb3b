package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mpt-warrior/ranking-engine/internal/dto"
	"github.com/redis/go-redis/v9"
)

const (
	LeaderboardKey = "leaderboard:top100:v1"
	userKeyPrefix  = "user:ranking:"

	DefaultTTL = time.Hour
)

// RankingCache fronts the leaderboard snapshot and per-user ranking views.
// A nil Redis client or any Redis error degrades to a cache miss so callers
// always fall back to the source of truth; cache trouble is never an error.
type RankingCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRankingCache(rdb *redis.Client, ttl time.Duration) *RankingCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RankingCache{rdb: rdb, ttl: ttl}
}

func UserKey(userID uuid.UUID) string {
	return userKeyPrefix + userID.String()
}

func (c *RankingCache) GetLeaderboard(ctx context.Context) (*dto.LeaderboardSnapshot, bool) {
	var snapshot dto.LeaderboardSnapshot
	if !c.get(ctx, LeaderboardKey, &snapshot) {
		return nil, false
	}
	return &snapshot, true
}

// SetLeaderboard replaces the snapshot wholesale. A single SET keeps the
// replacement atomic from readers' perspective.
func (c *RankingCache) SetLeaderboard(ctx context.Context, snapshot *dto.LeaderboardSnapshot) {
	c.set(ctx, LeaderboardKey, snapshot)
}

func (c *RankingCache) DeleteLeaderboard(ctx context.Context) {
	c.delete(ctx, LeaderboardKey)
}

func (c *RankingCache) GetUserRanking(ctx context.Context, userID uuid.UUID) (*dto.UserRankingResponse, bool) {
	var view dto.UserRankingResponse
	if !c.get(ctx, UserKey(userID), &view) {
		return nil, false
	}
	return &view, true
}

func (c *RankingCache) SetUserRanking(ctx context.Context, userID uuid.UUID, view *dto.UserRankingResponse) {
	c.set(ctx, UserKey(userID), view)
}

func (c *RankingCache) DeleteUserRanking(ctx context.Context, userID uuid.UUID) {
	c.delete(ctx, UserKey(userID))
}

func (c *RankingCache) get(ctx context.Context, key string, out interface{}) bool {
	if c.rdb == nil {
		return false
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("cache get %s failed: %v", key, err)
		}
		return false
	}

	if err := json.Unmarshal(raw, out); err != nil {
		log.Printf("cache entry %s is corrupt, dropping: %v", key, err)
		c.delete(ctx, key)
		return false
	}

	return true
}

func (c *RankingCache) set(ctx context.Context, key string, value interface{}) {
	if c.rdb == nil {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		log.Printf("cache marshal %s failed: %v", key, err)
		return
	}

	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Printf("cache set %s failed: %v", key, err)
	}
}

func (c *RankingCache) delete(ctx context.Context, key string) {
	if c.rdb == nil {
		return
	}

	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		log.Printf("cache delete %s failed: %v", key, err)
	}
}

// IsEventProcessed reports whether the event id is already marked. Only a
// positive answer is trusted; a miss or a Redis error falls through to the
// point log index.
func (c *RankingCache) IsEventProcessed(ctx context.Context, eventID string) bool {
	if c.rdb == nil || eventID == "" {
		return false
	}

	n, err := c.rdb.Exists(ctx, fmt.Sprintf("processed_event:%s", eventID)).Result()
	if err != nil {
		log.Printf("event dedup probe degraded for %s: %v", eventID, err)
		return false
	}

	return n > 0
}

// MarkEventProcessed records a committed source event id so later
// deliveries can short-circuit. Must only be called after the point log row
// is in; a marker without a log row would swallow the producer's retry.
func (c *RankingCache) MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	if c.rdb == nil || eventID == "" {
		return nil
	}

	return c.rdb.Set(ctx, fmt.Sprintf("processed_event:%s", eventID), "1", ttl).Err()
}

// AcquireRunLock takes the shared batch-run lock so only one service instance
// drives a recalculation at a time. Without Redis there is nothing to share,
// so the caller proceeds alone.
func (c *RankingCache) AcquireRunLock(ctx context.Context, ttl time.Duration) (bool, error) {
	if c.rdb == nil {
		return true, nil
	}

	return c.rdb.SetNX(ctx, "leaderboard:recalc:lock", "locked", ttl).Result()
}

func (c *RankingCache) ReleaseRunLock(ctx context.Context) {
	if c.rdb == nil {
		return
	}

	if err := c.rdb.Del(ctx, "leaderboard:recalc:lock").Err(); err != nil {
		log.Printf("failed to release recalc lock: %v", err)
	}
}
