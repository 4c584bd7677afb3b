package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/mpt-warrior/ranking-engine/internal/dto"
	"github.com/mpt-warrior/ranking-engine/internal/model"
	"github.com/mpt-warrior/ranking-engine/internal/repository"
	"github.com/mpt-warrior/ranking-engine/pkg/apperror"
)

const badgeHistoryWindow = 28 * 24 * time.Hour

// RankService orders the population, assigns dense ranks and keeps the
// leaderboard snapshot and per-day rank history up to date.
type RankService interface {
	RecalculateUser(ctx context.Context, userID uuid.UUID) (*dto.RecalculateUserResponse, error)
	RecalculateAll(ctx context.Context) (*dto.RecalculateBatchResponse, error)
	GetLeaderboard(ctx context.Context, limit, offset int) (*dto.LeaderboardSnapshot, error)
	GetUserRanking(ctx context.Context, userID uuid.UUID) (*dto.UserRankingResponse, error)
}

type rankService struct {
	repo            repository.RankingRepository
	cache           Cache
	milestones      *MilestoneService
	leaderboardSize int
	totalModules    int
}

func NewRankService(repo repository.RankingRepository, cache Cache, milestones *MilestoneService, leaderboardSize, totalModules int) RankService {
	if leaderboardSize <= 0 {
		leaderboardSize = 100
	}
	if totalModules <= 0 {
		totalModules = 10
	}
	return &rankService{
		repo:            repo,
		cache:           cache,
		milestones:      milestones,
		leaderboardSize: leaderboardSize,
		totalModules:    totalModules,
	}
}

// RecalculateUser recomputes one user's contributions and derives their
// position against the stored ordering without a full sort. A point event
// landing between the read and the write surfaces as a version conflict,
// which restarts the attempt with a fresh read.
func (s *rankService) RecalculateUser(ctx context.Context, userID uuid.UUID) (*dto.RecalculateUserResponse, error) {
	var result *dto.RecalculateUserResponse
	err := retry.Do(
		func() error {
			var applyErr error
			result, applyErr = s.recalculateUserOnce(ctx, userID)
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
		return nil, err
	}
	return result, nil
}

func (s *rankService) recalculateUserOnce(ctx context.Context, userID uuid.UUID) (*dto.RecalculateUserResponse, error) {
	ranking, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	previousPoints := ranking.TotalPoints
	previousTier := ranking.Tier
	expectedVersion := ranking.Version
	recomputeFromCounters(ranking)

	ahead, err := s.repo.CountRankedAhead(ctx, ranking)
	if err != nil {
		return nil, fmt.Errorf("failed to derive rank for user %s: %w", userID, err)
	}

	newRank := int(ahead) + 1
	previousRank := ranking.CurrentRank

	ranking.PreviousRank = previousRank
	ranking.CurrentRank = newRank
	if previousRank > 0 {
		ranking.RankChange = previousRank - newRank
	} else {
		ranking.RankChange = 0
	}
	ranking.LastRankUpdate = time.Now()

	if err := s.repo.UpdateRankState(ctx, ranking, expectedVersion); err != nil {
		return nil, err
	}

	if ranking.TotalPoints != previousPoints {
		s.appendRecalculationLog(ctx, ranking, previousPoints, previousTier)
	}

	s.cache.DeleteUserRanking(ctx, userID)
	s.cache.DeleteLeaderboard(ctx)

	s.milestones.EvaluateAsync(MilestoneContext{
		UserID:      ranking.UserID,
		Username:    ranking.Username,
		PrevTier:    previousTier,
		NewTier:     ranking.Tier,
		PrevRank:    previousRank,
		NewRank:     newRank,
		RankChange:  ranking.RankChange,
		TotalPoints: ranking.TotalPoints,
	})

	return &dto.RecalculateUserResponse{
		UserID:      userID,
		NewRank:     newRank,
		RankChange:  ranking.RankChange,
		TotalPoints: ranking.TotalPoints,
	}, nil
}

// RecalculateAll re-sorts the whole population and reassigns dense ranks.
// Individual user failures are counted and skipped, never fatal to the run.
// With no intervening events, running it twice produces identical output.
func (s *rankService) RecalculateAll(ctx context.Context) (*dto.RecalculateBatchResponse, error) {
	rankings, err := s.repo.GetAllRanked(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ranked users: %w", err)
	}

	previousTiers := make(map[uuid.UUID]model.Tier, len(rankings))
	for i := range rankings {
		previousTiers[rankings[i].UserID] = rankings[i].Tier
		recomputeFromCounters(&rankings[i])
	}

	// Points descending; ties broken by earliest registration, then user id,
	// so repeated runs keep a stable order.
	sort.SliceStable(rankings, func(i, j int) bool {
		a, b := &rankings[i], &rankings[j]
		if a.TotalPoints != b.TotalPoints {
			return a.TotalPoints > b.TotalPoints
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.UserID.String() < b.UserID.String()
	})

	now := time.Now()
	today := truncateToDay(now)
	updated, failed := 0, 0

	for i := range rankings {
		ranking := &rankings[i]

		previousRank := ranking.CurrentRank
		previousTier := previousTiers[ranking.UserID]
		newRank := i + 1

		ranking.PreviousRank = previousRank
		ranking.CurrentRank = newRank
		if previousRank > 0 {
			ranking.RankChange = previousRank - newRank
		} else {
			ranking.RankChange = 0
		}
		ranking.LastRankUpdate = now

		if err := s.repo.UpdateRankState(ctx, ranking, ranking.Version); err != nil {
			if errors.Is(err, apperror.ErrConflict) {
				// A point event committed after our snapshot read; leave
				// the row alone and let the next cycle pick it up.
				log.Printf("batch recalculation: user %s changed mid-run, deferred to next cycle", ranking.UserID)
			} else {
				log.Printf("batch recalculation: failed to update user %s: %v", ranking.UserID, err)
			}
			failed++
			continue
		}

		if err := s.repo.UpsertRankHistory(ctx, &model.RankHistory{
			UserID:      ranking.UserID,
			Date:        today,
			Rank:        newRank,
			TotalPoints: ranking.TotalPoints,
			Tier:        ranking.Tier,
		}); err != nil {
			log.Printf("batch recalculation: failed to write rank history for user %s: %v", ranking.UserID, err)
		}

		s.cache.DeleteUserRanking(ctx, ranking.UserID)
		updated++

		if previousRank != newRank || previousTier != ranking.Tier {
			s.milestones.EvaluateAsync(MilestoneContext{
				UserID:      ranking.UserID,
				Username:    ranking.Username,
				PrevTier:    previousTier,
				NewTier:     ranking.Tier,
				PrevRank:    previousRank,
				NewRank:     newRank,
				RankChange:  ranking.RankChange,
				TotalPoints: ranking.TotalPoints,
			})
		}
	}

	// Replace the snapshot wholesale only after the rows are persisted.
	snapshot := s.buildSnapshot(rankings, now)
	s.cache.SetLeaderboard(ctx, snapshot)

	log.Printf("batch recalculation complete: %d updated, %d failed, %d total", updated, failed, len(rankings))

	return &dto.RecalculateBatchResponse{
		UpdatedCount: updated,
		FailedCount:  failed,
		TotalCount:   len(rankings),
	}, nil
}

func (s *rankService) GetLeaderboard(ctx context.Context, limit, offset int) (*dto.LeaderboardSnapshot, error) {
	snapshot, ok := s.cache.GetLeaderboard(ctx)
	if !ok {
		rankings, err := s.repo.GetAllRanked(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load leaderboard: %w", err)
		}
		snapshot = s.buildSnapshot(rankings, time.Now())
		s.cache.SetLeaderboard(ctx, snapshot)
	}

	return sliceSnapshot(snapshot, limit, offset), nil
}

func (s *rankService) GetUserRanking(ctx context.Context, userID uuid.UUID) (*dto.UserRankingResponse, error) {
	if view, ok := s.cache.GetUserRanking(ctx, userID); ok {
		return view, nil
	}

	ranking, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	total, err := s.repo.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}

	history, err := s.repo.GetRankHistorySince(ctx, userID, time.Now().Add(-badgeHistoryWindow))
	if err != nil {
		log.Printf("failed to load rank history for user %s, skipping badges: %v", userID, err)
		history = nil
	}

	view := &dto.UserRankingResponse{
		UserID:            ranking.UserID,
		Username:          ranking.Username,
		TotalPoints:       ranking.TotalPoints,
		Tier:              ranking.Tier,
		CurrentRank:       ranking.CurrentRank,
		PreviousRank:      ranking.PreviousRank,
		RankChange:        ranking.RankChange,
		Percentile:        percentile(ranking.CurrentRank, int(total)),
		PointsToNextTier:  model.PointsToNextTier(ranking.TotalPoints),
		Badges:            ComputeBadges(ranking, history, s.totalModules),
		LastRankUpdate:    ranking.LastRankUpdate,
		QuizPoints:        ranking.QuizPoints,
		ConsistencyPoints: ranking.ConsistencyPoints,
		CommunityPoints:   ranking.CommunityPoints,
	}

	s.cache.SetUserRanking(ctx, userID, view)
	return view, nil
}

func (s *rankService) buildSnapshot(rankings []model.UserRanking, generatedAt time.Time) *dto.LeaderboardSnapshot {
	size := len(rankings)
	if size > s.leaderboardSize {
		size = s.leaderboardSize
	}

	entries := make([]dto.LeaderboardEntry, 0, size)
	points := make([]int, 0, len(rankings))
	sum := 0

	for i, ranking := range rankings {
		points = append(points, ranking.TotalPoints)
		sum += ranking.TotalPoints

		if i < size {
			rank := ranking.CurrentRank
			if rank == 0 {
				rank = i + 1
			}
			entries = append(entries, dto.LeaderboardEntry{
				UserID:            ranking.UserID,
				Username:          ranking.Username,
				Rank:              rank,
				TotalPoints:       ranking.TotalPoints,
				Tier:              ranking.Tier,
				RankChange:        ranking.RankChange,
				QuizPoints:        ranking.QuizPoints,
				ConsistencyPoints: ranking.ConsistencyPoints,
				CommunityPoints:   ranking.CommunityPoints,
			})
		}
	}

	return &dto.LeaderboardSnapshot{
		Entries:      entries,
		TotalUsers:   len(rankings),
		MeanPoints:   mean(sum, len(rankings)),
		MedianPoints: median(points),
		GeneratedAt:  generatedAt,
	}
}

func (s *rankService) appendRecalculationLog(ctx context.Context, ranking *model.UserRanking, previousPoints int, previousTier model.Tier) {
	err := s.repo.AppendPointLog(ctx, &model.PointLog{
		UserID:         ranking.UserID,
		Action:         "recalculation",
		Points:         ranking.TotalPoints - previousPoints,
		PreviousPoints: previousPoints,
		NewPoints:      ranking.TotalPoints,
		PreviousTier:   previousTier,
		NewTier:        ranking.Tier,
		CreatedAt:      time.Now(),
	})
	if err != nil {
		log.Printf("failed to append recalculation log for user %s: %v", ranking.UserID, err)
	}
}

// recomputeFromCounters re-derives the full breakdown, total and tier from
// the stored activity counters.
func recomputeFromCounters(ranking *model.UserRanking) {
	ranking.QuizPoints = QuizContribution(ranking.ModulesCompleted, ranking.AverageScore)
	ranking.ConsistencyPoints = ConsistencyContribution(ranking.EntriesThisWeek)
	ranking.CommunityPoints = CommunityContribution(ranking.CommentsThisWeek)
	ranking.TotalPoints = WeightedTotal(ranking.QuizPoints, ranking.ConsistencyPoints, ranking.CommunityPoints)
	ranking.Tier = model.DetermineTier(ranking.TotalPoints)
}

func sliceSnapshot(snapshot *dto.LeaderboardSnapshot, limit, offset int) *dto.LeaderboardSnapshot {
	if limit <= 0 {
		limit = len(snapshot.Entries)
	}
	if offset < 0 {
		offset = 0
	}

	out := *snapshot
	if offset >= len(snapshot.Entries) {
		out.Entries = []dto.LeaderboardEntry{}
		return &out
	}

	end := offset + limit
	if end > len(snapshot.Entries) {
		end = len(snapshot.Entries)
	}
	out.Entries = snapshot.Entries[offset:end]
	return &out
}

func percentile(rank, total int) float64 {
	if rank <= 0 || total <= 0 {
		return 0
	}
	return float64(int(float64(total-rank)/float64(total)*1000+0.5)) / 10
}

func mean(sum, n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// median expects points already ordered descending (snapshot build order).
func median(points []int) float64 {
	n := len(points)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return float64(points[n/2])
	}
	return float64(points[n/2-1]+points[n/2]) / 2
}
