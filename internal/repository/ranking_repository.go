package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mpt-warrior/ranking-engine/internal/model"
	"github.com/mpt-warrior/ranking-engine/pkg/apperror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RankingRepository interface {
	EnsureUser(ctx context.Context, userID uuid.UUID, username string) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*model.UserRanking, error)
	GetAllRanked(ctx context.Context) ([]model.UserRanking, error)
	CountUsers(ctx context.Context) (int64, error)

	// UpdateWithLog persists a ranking mutation and its audit log entry in
	// one transaction, guarded by the optimistic version check. Returns
	// apperror.ErrConflict when another writer got there first.
	UpdateWithLog(ctx context.Context, ranking *model.UserRanking, expectedVersion int64, logEntry *model.PointLog) error

	// UpdateRankState persists the derived score and rank columns only,
	// guarded by the optimistic version check. Raw activity counters are
	// never written here, so a point event committed while the rank engine
	// held its snapshot survives; the stale row surfaces as
	// apperror.ErrConflict instead.
	UpdateRankState(ctx context.Context, ranking *model.UserRanking, expectedVersion int64) error

	AppendPointLog(ctx context.Context, logEntry *model.PointLog) error
	HasProcessedEvent(ctx context.Context, sourceEventID string) (bool, error)

	UpsertRankHistory(ctx context.Context, entry *model.RankHistory) error
	GetRankHistorySince(ctx context.Context, userID uuid.UUID, since time.Time) ([]model.RankHistory, error)

	// CountRankedAhead returns how many users sort strictly ahead of the
	// given user under the points-desc, created-asc, id-asc ordering.
	CountRankedAhead(ctx context.Context, ranking *model.UserRanking) (int64, error)
}

type rankingRepository struct {
	db *gorm.DB
}

func NewRankingRepository(db *gorm.DB) RankingRepository {
	return &rankingRepository{db: db}
}

func (r *rankingRepository) EnsureUser(ctx context.Context, userID uuid.UUID, username string) error {
	ranking := &model.UserRanking{
		UserID:   userID,
		Username: username,
		Tier:     model.TierRecruit,
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(ranking).Error
}

func (r *rankingRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*model.UserRanking, error) {
	var ranking model.UserRanking
	err := r.db.WithContext(ctx).First(&ranking, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.ErrNotFound
		}
		return nil, err
	}
	return &ranking, nil
}

func (r *rankingRepository) GetAllRanked(ctx context.Context) ([]model.UserRanking, error) {
	var rankings []model.UserRanking
	err := r.db.WithContext(ctx).
		Order("total_points DESC, created_at ASC, user_id ASC").
		Find(&rankings).Error
	return rankings, err
}

func (r *rankingRepository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.UserRanking{}).Count(&count).Error
	return count, err
}

func (r *rankingRepository) UpdateWithLog(ctx context.Context, ranking *model.UserRanking, expectedVersion int64, logEntry *model.PointLog) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.UserRanking{}).
			Where("user_id = ? AND version = ?", ranking.UserID, expectedVersion).
			Updates(map[string]interface{}{
				"quiz_points":         ranking.QuizPoints,
				"consistency_points":  ranking.ConsistencyPoints,
				"community_points":    ranking.CommunityPoints,
				"total_points":        ranking.TotalPoints,
				"tier":                ranking.Tier,
				"modules_completed":   ranking.ModulesCompleted,
				"average_score":       ranking.AverageScore,
				"entries_this_week":   ranking.EntriesThisWeek,
				"consecutive_days":    ranking.ConsecutiveDays,
				"all_time_entries":    ranking.AllTimeEntries,
				"last_entry_date":     ranking.LastEntryDate,
				"comments_this_week":  ranking.CommentsThisWeek,
				"comments_this_month": ranking.CommentsThisMonth,
				"comments_all_time":   ranking.CommentsAllTime,
				"last_comment_date":   ranking.LastCommentDate,
				"version":             expectedVersion + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperror.ErrConflict
		}

		if err := tx.Create(logEntry).Error; err != nil {
			if isUniqueViolation(err) {
				// Lost the dedup race to a concurrent delivery of the
				// same event; roll the state update back too.
				return apperror.ErrConflict
			}
			return err
		}

		return nil
	})
}

func (r *rankingRepository) UpdateRankState(ctx context.Context, ranking *model.UserRanking, expectedVersion int64) error {
	res := r.db.WithContext(ctx).Model(&model.UserRanking{}).
		Where("user_id = ? AND version = ?", ranking.UserID, expectedVersion).
		Updates(map[string]interface{}{
			"quiz_points":        ranking.QuizPoints,
			"consistency_points": ranking.ConsistencyPoints,
			"community_points":   ranking.CommunityPoints,
			"total_points":       ranking.TotalPoints,
			"tier":               ranking.Tier,
			"previous_rank":      ranking.PreviousRank,
			"current_rank":       ranking.CurrentRank,
			"rank_change":        ranking.RankChange,
			"last_rank_update":   ranking.LastRankUpdate,
			"version":            expectedVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.ErrConflict
	}
	return nil
}

func (r *rankingRepository) AppendPointLog(ctx context.Context, logEntry *model.PointLog) error {
	return r.db.WithContext(ctx).Create(logEntry).Error
}

func (r *rankingRepository) HasProcessedEvent(ctx context.Context, sourceEventID string) (bool, error) {
	if sourceEventID == "" {
		return false, nil
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&model.PointLog{}).
		Where("source_event_id = ?", sourceEventID).
		Count(&count).Error
	return count > 0, err
}

func (r *rankingRepository) UpsertRankHistory(ctx context.Context, entry *model.RankHistory) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"rank":         entry.Rank,
			"total_points": entry.TotalPoints,
			"tier":         entry.Tier,
		}),
	}).Create(entry).Error
}

func (r *rankingRepository) GetRankHistorySince(ctx context.Context, userID uuid.UUID, since time.Time) ([]model.RankHistory, error) {
	var history []model.RankHistory
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND date >= ?", userID, since).
		Order("date ASC").
		Find(&history).Error
	return history, err
}

func (r *rankingRepository) CountRankedAhead(ctx context.Context, ranking *model.UserRanking) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.UserRanking{}).
		Where(`total_points > ?
			OR (total_points = ? AND created_at < ?)
			OR (total_points = ? AND created_at = ? AND user_id < ?)`,
			ranking.TotalPoints,
			ranking.TotalPoints, ranking.CreatedAt,
			ranking.TotalPoints, ranking.CreatedAt, ranking.UserID,
		).
		Count(&count).Error
	return count, err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// pgconn surfaces SQLSTATE 23505 in the error text
	return err != nil && strings.Contains(err.Error(), "23505")
}
