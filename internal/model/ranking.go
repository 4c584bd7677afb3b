package model

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the ordered classification band derived from total points.
type Tier string

const (
	TierRecruit         Tier = "RECRUIT"
	TierEliteWarrior    Tier = "ELITE_WARRIOR"
	TierCommander       Tier = "COMMANDER"
	TierLegendaryMentor Tier = "LEGENDARY_MENTOR"
)

// Tier band upper bounds (inclusive on the lower band's edge).
const (
	TierRecruitMax      = 500
	TierEliteWarriorMax = 1500
	TierCommanderMax    = 3000
)

// DetermineTier maps total points to a tier. Monotonic: more points never
// means a lower tier. Boundary values belong to the lower band.
func DetermineTier(totalPoints int) Tier {
	switch {
	case totalPoints <= TierRecruitMax:
		return TierRecruit
	case totalPoints <= TierEliteWarriorMax:
		return TierEliteWarrior
	case totalPoints <= TierCommanderMax:
		return TierCommander
	default:
		return TierLegendaryMentor
	}
}

// Order returns the tier's position in the band ordering, starting at 0.
func (t Tier) Order() int {
	switch t {
	case TierRecruit:
		return 0
	case TierEliteWarrior:
		return 1
	case TierCommander:
		return 2
	case TierLegendaryMentor:
		return 3
	}
	return -1
}

// PointsToNextTier returns how many points are still needed to leave the
// current band, or 0 at the top band.
func PointsToNextTier(totalPoints int) int {
	var target int
	switch DetermineTier(totalPoints) {
	case TierRecruit:
		target = TierRecruitMax + 1
	case TierEliteWarrior:
		target = TierEliteWarriorMax + 1
	case TierCommander:
		target = TierCommanderMax + 1
	default:
		return 0
	}
	if target <= totalPoints {
		return 0
	}
	return target - totalPoints
}

// UserRanking is the mutable per-user ranking record. It is owned by the
// point ledger (per event) and the rank engine (per recalculation cycle).
type UserRanking struct {
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	Username string    `gorm:"size:50;not null" json:"username"`

	// Capped category breakdown. TotalPoints is always the weighted sum of
	// these three and is never mutated independently.
	QuizPoints        float64 `gorm:"default:0" json:"quiz_points"`
	ConsistencyPoints float64 `gorm:"default:0" json:"consistency_points"`
	CommunityPoints   float64 `gorm:"default:0" json:"community_points"`
	TotalPoints       int     `gorm:"default:0;index:idx_total_points,sort:desc" json:"total_points"`
	Tier              Tier    `gorm:"size:20;default:RECRUIT" json:"tier"`

	CurrentRank    int       `gorm:"default:0" json:"current_rank"`
	PreviousRank   int       `gorm:"default:0" json:"previous_rank"`
	RankChange     int       `gorm:"default:0" json:"rank_change"`
	LastRankUpdate time.Time `json:"last_rank_update"`

	// Calculator inputs maintained by the ledger.
	ModulesCompleted  int        `gorm:"default:0" json:"modules_completed"`
	AverageScore      float64    `gorm:"default:0" json:"average_score"`
	EntriesThisWeek   int        `gorm:"default:0" json:"entries_this_week"`
	ConsecutiveDays   int        `gorm:"default:0" json:"consecutive_days"`
	AllTimeEntries    int        `gorm:"default:0" json:"all_time_entries"`
	LastEntryDate     *time.Time `json:"last_entry_date,omitempty"`
	CommentsThisWeek  int        `gorm:"default:0" json:"comments_this_week"`
	CommentsThisMonth int        `gorm:"default:0" json:"comments_this_month"`
	CommentsAllTime   int        `gorm:"default:0" json:"comments_all_time"`
	LastCommentDate   *time.Time `json:"last_comment_date,omitempty"`

	// Optimistic concurrency token. Every write bumps it; conditional
	// updates compare against the value read.
	Version int64 `gorm:"default:0" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PointLog is the append-only audit record for every point mutation.
// Rows are created once and never updated or deleted.
type PointLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uuid.UUID `gorm:"type:uuid;index:idx_pointlog_user_date,priority:1;not null" json:"user_id"`
	Action         string    `gorm:"size:50;not null" json:"action"` // 'quiz', 'journal', 'comment', 'recalculation'
	Points         int       `gorm:"not null" json:"points"`
	PreviousPoints int       `json:"previous_points"`
	NewPoints      int       `json:"new_points"`
	PreviousTier   Tier      `gorm:"size:20" json:"previous_tier"`
	NewTier        Tier      `gorm:"size:20" json:"new_tier"`
	SourceEventID  string    `gorm:"size:64;uniqueIndex:idx_pointlog_source,where:source_event_id <> ''" json:"source_event_id"`
	CreatedAt      time.Time `gorm:"index:idx_pointlog_user_date,priority:2" json:"created_at"`
}

// RankHistory holds one row per user per recalculation date. The unique
// user+date index makes repeated batch runs on the same day upsert rather
// than duplicate, which keeps batch recalculation idempotent.
type RankHistory struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_rankhistory_user_date,priority:1;not null" json:"user_id"`
	Date        time.Time `gorm:"type:date;uniqueIndex:idx_rankhistory_user_date,priority:2" json:"date"`
	Rank        int       `gorm:"not null" json:"rank"`
	TotalPoints int       `gorm:"not null" json:"total_points"`
	Tier        Tier      `gorm:"size:20" json:"tier"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
