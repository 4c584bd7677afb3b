package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mpt-warrior/ranking-engine/internal/dto"
	"github.com/mpt-warrior/ranking-engine/internal/model"
	"github.com/mpt-warrior/ranking-engine/pkg/apperror"
)

// fakeRepo is an in-memory RankingRepository with the same conflict and
// duplicate semantics as the real one.
type fakeRepo struct {
	mu       sync.Mutex
	rankings map[uuid.UUID]*model.UserRanking
	logs     []model.PointLog
	history  map[uuid.UUID][]model.RankHistory

	conflictsLeft int                // next N guarded writes fail with ErrConflict
	failSaveFor   map[uuid.UUID]bool // UpdateRankState fails for these users

	onGetAllRanked func() // invoked once after a snapshot read, outside the lock
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rankings:    make(map[uuid.UUID]*model.UserRanking),
		history:     make(map[uuid.UUID][]model.RankHistory),
		failSaveFor: make(map[uuid.UUID]bool),
	}
}

func (f *fakeRepo) addUser(username string, createdAt time.Time) *model.UserRanking {
	f.mu.Lock()
	defer f.mu.Unlock()

	ranking := &model.UserRanking{
		UserID:    uuid.New(),
		Username:  username,
		Tier:      model.TierRecruit,
		CreatedAt: createdAt,
	}
	f.rankings[ranking.UserID] = ranking
	return copyRanking(ranking)
}

func (f *fakeRepo) EnsureUser(_ context.Context, userID uuid.UUID, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.rankings[userID]; !ok {
		f.rankings[userID] = &model.UserRanking{
			UserID:    userID,
			Username:  username,
			Tier:      model.TierRecruit,
			CreatedAt: time.Now(),
		}
	}
	return nil
}

func (f *fakeRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*model.UserRanking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ranking, ok := f.rankings[userID]
	if !ok {
		return nil, apperror.ErrNotFound
	}
	return copyRanking(ranking), nil
}

func (f *fakeRepo) GetAllRanked(_ context.Context) ([]model.UserRanking, error) {
	f.mu.Lock()

	rankings := make([]model.UserRanking, 0, len(f.rankings))
	for _, r := range f.rankings {
		rankings = append(rankings, *copyRanking(r))
	}
	hook := f.onGetAllRanked
	f.onGetAllRanked = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	sort.Slice(rankings, func(i, j int) bool {
		if rankings[i].TotalPoints != rankings[j].TotalPoints {
			return rankings[i].TotalPoints > rankings[j].TotalPoints
		}
		if !rankings[i].CreatedAt.Equal(rankings[j].CreatedAt) {
			return rankings[i].CreatedAt.Before(rankings[j].CreatedAt)
		}
		return rankings[i].UserID.String() < rankings[j].UserID.String()
	})
	return rankings, nil
}

func (f *fakeRepo) CountUsers(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.rankings)), nil
}

func (f *fakeRepo) UpdateWithLog(_ context.Context, ranking *model.UserRanking, expectedVersion int64, logEntry *model.PointLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return apperror.ErrConflict
	}

	stored, ok := f.rankings[ranking.UserID]
	if !ok {
		return apperror.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return apperror.ErrConflict
	}

	if logEntry.SourceEventID != "" {
		for _, entry := range f.logs {
			if entry.SourceEventID == logEntry.SourceEventID {
				return apperror.ErrConflict
			}
		}
	}

	updated := copyRanking(ranking)
	updated.Version = expectedVersion + 1
	f.rankings[ranking.UserID] = updated
	f.logs = append(f.logs, *logEntry)
	return nil
}

func (f *fakeRepo) UpdateRankState(_ context.Context, ranking *model.UserRanking, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSaveFor[ranking.UserID] {
		return errors.New("simulated save failure")
	}
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return apperror.ErrConflict
	}

	stored, ok := f.rankings[ranking.UserID]
	if !ok {
		return apperror.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return apperror.ErrConflict
	}

	stored.QuizPoints = ranking.QuizPoints
	stored.ConsistencyPoints = ranking.ConsistencyPoints
	stored.CommunityPoints = ranking.CommunityPoints
	stored.TotalPoints = ranking.TotalPoints
	stored.Tier = ranking.Tier
	stored.PreviousRank = ranking.PreviousRank
	stored.CurrentRank = ranking.CurrentRank
	stored.RankChange = ranking.RankChange
	stored.LastRankUpdate = ranking.LastRankUpdate
	stored.Version++
	return nil
}

func (f *fakeRepo) AppendPointLog(_ context.Context, logEntry *model.PointLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, *logEntry)
	return nil
}

func (f *fakeRepo) HasProcessedEvent(_ context.Context, sourceEventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sourceEventID == "" {
		return false, nil
	}
	for _, entry := range f.logs {
		if entry.SourceEventID == sourceEventID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) UpsertRankHistory(_ context.Context, entry *model.RankHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing := f.history[entry.UserID]
	for i := range existing {
		if existing[i].Date.Equal(entry.Date) {
			existing[i] = *entry
			return nil
		}
	}
	f.history[entry.UserID] = append(existing, *entry)
	return nil
}

func (f *fakeRepo) GetRankHistorySince(_ context.Context, userID uuid.UUID, since time.Time) ([]model.RankHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.RankHistory
	for _, entry := range f.history[userID] {
		if !entry.Date.Before(since) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (f *fakeRepo) CountRankedAhead(_ context.Context, ranking *model.UserRanking) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for _, other := range f.rankings {
		if other.UserID == ranking.UserID {
			continue
		}
		switch {
		case other.TotalPoints > ranking.TotalPoints:
			count++
		case other.TotalPoints == ranking.TotalPoints && other.CreatedAt.Before(ranking.CreatedAt):
			count++
		case other.TotalPoints == ranking.TotalPoints && other.CreatedAt.Equal(ranking.CreatedAt) &&
			other.UserID.String() < ranking.UserID.String():
			count++
		}
	}
	return count, nil
}

func copyRanking(r *model.UserRanking) *model.UserRanking {
	clone := *r
	if r.LastEntryDate != nil {
		d := *r.LastEntryDate
		clone.LastEntryDate = &d
	}
	if r.LastCommentDate != nil {
		d := *r.LastCommentDate
		clone.LastCommentDate = &d
	}
	return &clone
}

// fakeCache is an in-memory Cache that records invalidations.
type fakeCache struct {
	mu sync.Mutex

	leaderboard *dto.LeaderboardSnapshot
	users       map[uuid.UUID]*dto.UserRankingResponse
	processed   map[string]bool

	leaderboardDeletes int
	userDeletes        map[uuid.UUID]int

	runLockHeld  bool
	denyRunLock  bool
	runLockTaken int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		users:       make(map[uuid.UUID]*dto.UserRankingResponse),
		processed:   make(map[string]bool),
		userDeletes: make(map[uuid.UUID]int),
	}
}

func (f *fakeCache) GetLeaderboard(context.Context) (*dto.LeaderboardSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaderboard == nil {
		return nil, false
	}
	return f.leaderboard, true
}

func (f *fakeCache) SetLeaderboard(_ context.Context, snapshot *dto.LeaderboardSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaderboard = snapshot
}

func (f *fakeCache) DeleteLeaderboard(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaderboard = nil
	f.leaderboardDeletes++
}

func (f *fakeCache) GetUserRanking(_ context.Context, userID uuid.UUID) (*dto.UserRankingResponse, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	view, ok := f.users[userID]
	return view, ok
}

func (f *fakeCache) SetUserRanking(_ context.Context, userID uuid.UUID, view *dto.UserRankingResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID] = view
}

func (f *fakeCache) DeleteUserRanking(_ context.Context, userID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, userID)
	f.userDeletes[userID]++
}

func (f *fakeCache) IsEventProcessed(_ context.Context, eventID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.processed[eventID]
}

func (f *fakeCache) MarkEventProcessed(_ context.Context, eventID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if eventID != "" {
		f.processed[eventID] = true
	}
	return nil
}

func (f *fakeCache) AcquireRunLock(context.Context, time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.runLockTaken++
	if f.denyRunLock || f.runLockHeld {
		return false, nil
	}
	f.runLockHeld = true
	return true, nil
}

func (f *fakeCache) ReleaseRunLock(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runLockHeld = false
}

// recordingDispatcher collects milestone events for assertions.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []MilestoneEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event MilestoneEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) all() []MilestoneEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]MilestoneEvent, len(d.events))
	copy(out, d.events)
	return out
}

func (d *recordingDispatcher) ofType(eventType string) []MilestoneEvent {
	var out []MilestoneEvent
	for _, event := range d.all() {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// fakeEngine is a controllable BatchRecalculator for scheduler tests.
type fakeEngine struct {
	mu      sync.Mutex
	runs    int
	block   chan struct{} // when set, RecalculateAll waits until closed
	started chan struct{} // signalled when a run begins
}

func (e *fakeEngine) RecalculateAll(context.Context) (*dto.RecalculateBatchResponse, error) {
	e.mu.Lock()
	e.runs++
	block := e.block
	started := e.started
	e.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return &dto.RecalculateBatchResponse{}, nil
}

func (e *fakeEngine) runCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs
}
