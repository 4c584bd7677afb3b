package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mpt-warrior/ranking-engine/internal/dto"
	"github.com/mpt-warrior/ranking-engine/pkg/apperror"
	"github.com/robfig/cron/v3"
)

// BatchRecalculator is the slice of the rank engine the scheduler drives.
type BatchRecalculator interface {
	RecalculateAll(ctx context.Context) (*dto.RecalculateBatchResponse, error)
}

// Scheduler drives periodic full recalculation. Start, Stop, RunNow and
// Status are safe to call concurrently with each other and with an in-flight
// run; overlapping runs are rejected, never interleaved. Before each run the
// shared Redis lock elects a single effective runner across instances.
type Scheduler struct {
	engine     BatchRecalculator
	cache      Cache
	runLockTTL time.Duration

	cron *cron.Cron

	mu              sync.Mutex
	entryID         cron.EntryID
	enabled         bool
	intervalMinutes int
	lastRunAt       *time.Time
	nextRunAt       *time.Time
	runCount        int64
	running         bool
}

func NewScheduler(engine BatchRecalculator, cache Cache, runLockTTL time.Duration) *Scheduler {
	if runLockTTL <= 0 {
		runLockTTL = 10 * time.Minute
	}
	return &Scheduler{
		engine:     engine,
		cache:      cache,
		runLockTTL: runLockTTL,
		cron:       cron.New(),
	}
}

// Start launches the recurring trigger and fires one immediate run. Calling
// Start while enabled restarts the timer with the new interval.
func (s *Scheduler) Start(ctx context.Context, intervalMinutes int) (dto.ScheduleStatusResponse, error) {
	if intervalMinutes <= 0 {
		return s.Status(), apperror.ErrInvalidInput
	}

	s.mu.Lock()
	if s.enabled {
		s.cron.Remove(s.entryID)
	}

	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %dm", intervalMinutes), func() {
		s.trigger(context.Background())
	})
	if err != nil {
		s.mu.Unlock()
		return s.Status(), fmt.Errorf("failed to schedule recalculation: %w", err)
	}

	s.entryID = entryID
	s.enabled = true
	s.intervalMinutes = intervalMinutes
	next := time.Now().Add(time.Duration(intervalMinutes) * time.Minute)
	s.nextRunAt = &next
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("leaderboard scheduler started (every %d minutes)", intervalMinutes)

	// One immediate run, off the caller's request path.
	go s.trigger(ctx)

	return s.Status(), nil
}

// Stop cancels the recurring trigger. No further ticks fire after it
// returns; an in-flight run is allowed to complete.
func (s *Scheduler) Stop() dto.ScheduleStatusResponse {
	s.mu.Lock()
	if s.enabled {
		s.cron.Remove(s.entryID)
		s.enabled = false
		s.nextRunAt = nil
		log.Printf("leaderboard scheduler stopped")
	}
	s.mu.Unlock()

	return s.Status()
}

// RunNow triggers an out-of-band recalculation without disturbing the timer.
func (s *Scheduler) RunNow(ctx context.Context) (dto.ScheduleStatusResponse, error) {
	if err := s.trigger(ctx); err != nil {
		return s.Status(), err
	}
	return s.Status(), nil
}

func (s *Scheduler) Status() dto.ScheduleStatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	return dto.ScheduleStatusResponse{
		Enabled:         s.enabled,
		IntervalMinutes: s.intervalMinutes,
		LastRunAt:       s.lastRunAt,
		NextRunAt:       s.nextRunAt,
		RunCount:        s.runCount,
	}
}

// trigger runs one batch recalculation unless one is already in flight.
func (s *Scheduler) trigger(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Printf("skipping recalculation: previous run still in progress")
		return apperror.ErrRunInProgress
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	acquired, err := s.cache.AcquireRunLock(ctx, s.runLockTTL)
	if err != nil {
		log.Printf("run lock check degraded, proceeding: %v", err)
		acquired = true
	}
	if !acquired {
		log.Printf("skipping recalculation: another instance holds the run lock")
		return nil
	}
	defer s.cache.ReleaseRunLock(ctx)

	result, err := s.engine.RecalculateAll(ctx)
	if err != nil {
		log.Printf("scheduled recalculation failed: %v", err)
		return err
	}

	now := time.Now()
	s.mu.Lock()
	s.lastRunAt = &now
	s.runCount++
	if s.enabled {
		next := now.Add(time.Duration(s.intervalMinutes) * time.Minute)
		s.nextRunAt = &next
	}
	s.mu.Unlock()

	log.Printf("scheduled recalculation complete: %d updated, %d failed", result.UpdatedCount, result.FailedCount)
	return nil
}
