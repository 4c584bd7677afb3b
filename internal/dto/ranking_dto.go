package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/mpt-warrior/ranking-engine/internal/model"
)

// SyncPointsRequest is the write-path input emitted by activity producers
// (quiz, journal, comment subsystems). Username, when present, provisions
// the ranking row for a warrior seen for the first time.
type SyncPointsRequest struct {
	UserID        uuid.UUID `json:"user_id" binding:"required"`
	Username      string    `json:"username" binding:"omitempty,max=50"`
	PointType     string    `json:"point_type" binding:"required,oneof=quiz journal comment"`
	Points        float64   `json:"points" binding:"gte=0"`
	SourceEventID string    `json:"source_event_id" binding:"required,max=64"`
}

type SyncPointsResponse struct {
	UserID      uuid.UUID  `json:"user_id"`
	TotalPoints int        `json:"total_points"`
	Tier        model.Tier `json:"tier"`
	TierChanged bool       `json:"tier_changed"`
	Duplicate   bool       `json:"duplicate,omitempty"`
}

// RecalculateRequest triggers either a single-user or a full batch
// recalculation. Exactly one of UserID / BatchMode must be set.
type RecalculateRequest struct {
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	BatchMode bool       `json:"batch_mode,omitempty"`
}

type RecalculateUserResponse struct {
	UserID      uuid.UUID `json:"user_id"`
	NewRank     int       `json:"new_rank"`
	RankChange  int       `json:"rank_change"`
	TotalPoints int       `json:"total_points"`
}

type RecalculateBatchResponse struct {
	UpdatedCount int `json:"updated_count"`
	FailedCount  int `json:"failed_count"`
	TotalCount   int `json:"total_count"`
}

// LeaderboardEntry is one row of the cached top-N snapshot.
type LeaderboardEntry struct {
	UserID            uuid.UUID  `json:"user_id"`
	Username          string     `json:"username"`
	Rank              int        `json:"rank"`
	TotalPoints       int        `json:"total_points"`
	Tier              model.Tier `json:"tier"`
	RankChange        int        `json:"rank_change"`
	QuizPoints        float64    `json:"quiz_points"`
	ConsistencyPoints float64    `json:"consistency_points"`
	CommunityPoints   float64    `json:"community_points"`
}

// LeaderboardSnapshot is the derived top-N view. It is rebuilt wholesale by
// the rank engine and replaced in the cache atomically, never patched.
type LeaderboardSnapshot struct {
	Entries      []LeaderboardEntry `json:"entries"`
	TotalUsers   int                `json:"total_users"`
	MeanPoints   float64            `json:"mean_points"`
	MedianPoints float64            `json:"median_points"`
	GeneratedAt  time.Time          `json:"generated_at"`
}

// UserRankingResponse is the per-user read view.
type UserRankingResponse struct {
	UserID           uuid.UUID  `json:"user_id"`
	Username         string     `json:"username"`
	TotalPoints      int        `json:"total_points"`
	Tier             model.Tier `json:"tier"`
	CurrentRank      int        `json:"current_rank"`
	PreviousRank     int        `json:"previous_rank"`
	RankChange       int        `json:"rank_change"`
	Percentile       float64    `json:"percentile"`
	PointsToNextTier int        `json:"points_to_next_tier"`
	Badges           []string   `json:"badges"`
	LastRankUpdate   time.Time  `json:"last_rank_update"`

	QuizPoints        float64 `json:"quiz_points"`
	ConsistencyPoints float64 `json:"consistency_points"`
	CommunityPoints   float64 `json:"community_points"`
}

// ScheduleControlRequest drives the leaderboard scheduler.
type ScheduleControlRequest struct {
	Action          string `json:"action" binding:"required,oneof=start stop run_now"`
	IntervalMinutes int    `json:"interval_minutes" binding:"omitempty,min=1,max=1440"`
}

type ScheduleStatusResponse struct {
	Enabled         bool       `json:"enabled"`
	IntervalMinutes int        `json:"interval_minutes"`
	LastRunAt       *time.Time `json:"last_run_at"`
	NextRunAt       *time.Time `json:"next_run_at"`
	RunCount        int64      `json:"run_count"`
}
