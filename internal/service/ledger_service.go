package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/mpt-warrior/ranking-engine/internal/dto"
	"github.com/mpt-warrior/ranking-engine/internal/model"
	"github.com/mpt-warrior/ranking-engine/internal/repository"
	"github.com/mpt-warrior/ranking-engine/pkg/apperror"
)

// Point event kinds accepted on the sync path.
const (
	PointTypeQuiz    = "quiz"
	PointTypeJournal = "journal"
	PointTypeComment = "comment"
)

const (
	conflictRetryAttempts = 3
	conflictRetryDelay    = 50 * time.Millisecond
)

// Cache is the slice of the ranking cache the services depend on.
type Cache interface {
	GetLeaderboard(ctx context.Context) (*dto.LeaderboardSnapshot, bool)
	SetLeaderboard(ctx context.Context, snapshot *dto.LeaderboardSnapshot)
	DeleteLeaderboard(ctx context.Context)
	GetUserRanking(ctx context.Context, userID uuid.UUID) (*dto.UserRankingResponse, bool)
	SetUserRanking(ctx context.Context, userID uuid.UUID, view *dto.UserRankingResponse)
	DeleteUserRanking(ctx context.Context, userID uuid.UUID)
	IsEventProcessed(ctx context.Context, eventID string) bool
	MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) error
	AcquireRunLock(ctx context.Context, ttl time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context)
}

// LedgerService applies point events to user rankings and keeps the
// append-only point log in step with them.
type LedgerService interface {
	SyncPoints(ctx context.Context, req dto.SyncPointsRequest) (*dto.SyncPointsResponse, error)
}

type ledgerService struct {
	repo       repository.RankingRepository
	cache      Cache
	milestones *MilestoneService
	dedupTTL   time.Duration
}

func NewLedgerService(repo repository.RankingRepository, cache Cache, milestones *MilestoneService, dedupTTL time.Duration) LedgerService {
	return &ledgerService{
		repo:       repo,
		cache:      cache,
		milestones: milestones,
		dedupTTL:   dedupTTL,
	}
}

func (s *ledgerService) SyncPoints(ctx context.Context, req dto.SyncPointsRequest) (*dto.SyncPointsResponse, error) {
	switch req.PointType {
	case PointTypeQuiz, PointTypeJournal, PointTypeComment:
	default:
		return nil, apperror.ErrInvalidPointType
	}

	// First event for an unseen warrior provisions the zero-score row.
	if req.Username != "" {
		if err := s.repo.EnsureUser(ctx, req.UserID, req.Username); err != nil {
			return nil, fmt.Errorf("failed to provision user ranking: %w", err)
		}
	}

	// Fast-path dedup probe through Redis; the unique index on
	// point_logs.source_event_id stays authoritative when Redis is down.
	if s.cache.IsEventProcessed(ctx, req.SourceEventID) {
		return s.duplicateResponse(ctx, req.UserID)
	}

	processed, err := s.repo.HasProcessedEvent(ctx, req.SourceEventID)
	if err != nil {
		return nil, fmt.Errorf("failed to check processed events: %w", err)
	}
	if processed {
		return s.duplicateResponse(ctx, req.UserID)
	}

	var result *dto.SyncPointsResponse
	err = retry.Do(
		func() error {
			var applyErr error
			result, applyErr = s.applyOnce(ctx, req)
			return applyErr
		},
		retry.Context(ctx),
		retry.Attempts(conflictRetryAttempts),
		retry.Delay(conflictRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, apperror.ErrConflict) }),
	)
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			// A concurrent delivery of the same event may have won the race
			// on the log index.
			if done, checkErr := s.repo.HasProcessedEvent(ctx, req.SourceEventID); checkErr == nil && done {
				return s.duplicateResponse(ctx, req.UserID)
			}
		}
		return nil, err
	}

	// Mark only after the transaction committed. A marker without a log row
	// would send the producer's retry down the duplicate fast path and the
	// event would never be applied.
	if err := s.cache.MarkEventProcessed(ctx, req.SourceEventID, s.dedupTTL); err != nil {
		log.Printf("failed to mark event %s processed: %v", req.SourceEventID, err)
	}

	// Persist first, then invalidate. The deletes are best-effort; the TTL
	// bounds any staleness if they fail.
	s.cache.DeleteUserRanking(ctx, req.UserID)
	s.cache.DeleteLeaderboard(ctx)

	return result, nil
}

// applyOnce runs one read-modify-write attempt against the ranking record.
// A version mismatch surfaces as apperror.ErrConflict and is retried by the
// caller with a fresh read.
func (s *ledgerService) applyOnce(ctx context.Context, req dto.SyncPointsRequest) (*dto.SyncPointsResponse, error) {
	ranking, err := s.repo.GetByUserID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	previousPoints := ranking.TotalPoints
	previousTier := ranking.Tier
	expectedVersion := ranking.Version

	s.applyEvent(ranking, req.PointType, req.Points, time.Now())

	tierChanged := ranking.Tier != previousTier

	logEntry := &model.PointLog{
		UserID:         ranking.UserID,
		Action:         req.PointType,
		Points:         ranking.TotalPoints - previousPoints,
		PreviousPoints: previousPoints,
		NewPoints:      ranking.TotalPoints,
		PreviousTier:   previousTier,
		NewTier:        ranking.Tier,
		SourceEventID:  req.SourceEventID,
		CreatedAt:      time.Now(),
	}

	if err := s.repo.UpdateWithLog(ctx, ranking, expectedVersion, logEntry); err != nil {
		return nil, err
	}

	s.milestones.EvaluateAsync(MilestoneContext{
		UserID:      ranking.UserID,
		Username:    ranking.Username,
		PrevTier:    previousTier,
		NewTier:     ranking.Tier,
		PrevRank:    ranking.CurrentRank,
		NewRank:     ranking.CurrentRank,
		TotalPoints: ranking.TotalPoints,
	})

	return &dto.SyncPointsResponse{
		UserID:      ranking.UserID,
		TotalPoints: ranking.TotalPoints,
		Tier:        ranking.Tier,
		TierChanged: tierChanged,
	}, nil
}

// applyEvent folds one point event into the ranking's counters, then
// re-derives the category value through the score calculator. Re-deriving
// (instead of accumulating the delta) is what keeps the per-category caps
// intact under duplicated or reordered events.
func (s *ledgerService) applyEvent(ranking *model.UserRanking, pointType string, points float64, now time.Time) {
	switch pointType {
	case PointTypeQuiz:
		// points carries the graded module score (0-100).
		sum := ranking.AverageScore * float64(ranking.ModulesCompleted)
		ranking.ModulesCompleted++
		ranking.AverageScore = (sum + points) / float64(ranking.ModulesCompleted)
		ranking.QuizPoints = QuizContribution(ranking.ModulesCompleted, ranking.AverageScore)

	case PointTypeJournal:
		// Weekly counters restart on the first event of a new ISO week.
		if ranking.LastEntryDate != nil && !sameWeek(*ranking.LastEntryDate, now) {
			ranking.EntriesThisWeek = 0
		}

		today := truncateToDay(now)
		switch {
		case ranking.LastEntryDate == nil:
			ranking.ConsecutiveDays = 1
		case truncateToDay(*ranking.LastEntryDate).Equal(today):
			// Second entry the same day keeps the streak as-is.
		case truncateToDay(*ranking.LastEntryDate).Equal(today.AddDate(0, 0, -1)):
			ranking.ConsecutiveDays++
		default:
			ranking.ConsecutiveDays = 1
		}
		ranking.LastEntryDate = &today
		ranking.EntriesThisWeek++
		ranking.AllTimeEntries++
		ranking.ConsistencyPoints = ConsistencyContribution(ranking.EntriesThisWeek)

	case PointTypeComment:
		if ranking.LastCommentDate != nil {
			if !sameWeek(*ranking.LastCommentDate, now) {
				ranking.CommentsThisWeek = 0
			}
			if !sameMonth(*ranking.LastCommentDate, now) {
				ranking.CommentsThisMonth = 0
			}
		}

		today := truncateToDay(now)
		ranking.LastCommentDate = &today
		ranking.CommentsThisWeek++
		ranking.CommentsThisMonth++
		ranking.CommentsAllTime++
		ranking.CommunityPoints = CommunityContribution(ranking.CommentsThisWeek)
	}

	ranking.TotalPoints = WeightedTotal(ranking.QuizPoints, ranking.ConsistencyPoints, ranking.CommunityPoints)
	ranking.Tier = model.DetermineTier(ranking.TotalPoints)
}

// duplicateResponse reports the current state for an already-applied event,
// with no mutation.
func (s *ledgerService) duplicateResponse(ctx context.Context, userID uuid.UUID) (*dto.SyncPointsResponse, error) {
	ranking, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &dto.SyncPointsResponse{
		UserID:      ranking.UserID,
		TotalPoints: ranking.TotalPoints,
		Tier:        ranking.Tier,
		TierChanged: false,
		Duplicate:   true,
	}, nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameWeek(a, b time.Time) bool {
	ay, aw := a.ISOWeek()
	by, bw := b.ISOWeek()
	return ay == by && aw == bw
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
