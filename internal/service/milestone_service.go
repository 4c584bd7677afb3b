package service

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mpt-warrior/ranking-engine/internal/model"
)

// Milestone event types.
const (
	EventTierPromotion = "tier_promotion"
	EventTierDemotion  = "tier_demotion"
	EventRankThreshold = "rank_threshold"
	EventRankSurge     = "rank_surge"
)

// Rank thresholds worth celebrating, largest first.
var rankThresholds = []int{10, 5, 3, 1}

// MilestoneEvent is a typed notification emitted when a user crosses a
// milestone. Delivery reliability is the dispatcher's problem, not ours.
type MilestoneEvent struct {
	Type        string     `json:"type"`
	UserID      uuid.UUID  `json:"user_id"`
	Username    string     `json:"username"`
	PrevTier    model.Tier `json:"previous_tier,omitempty"`
	NewTier     model.Tier `json:"new_tier,omitempty"`
	PrevRank    int        `json:"previous_rank,omitempty"`
	NewRank     int        `json:"new_rank,omitempty"`
	Threshold   int        `json:"threshold,omitempty"`
	RankChange  int        `json:"rank_change,omitempty"`
	TotalPoints int        `json:"total_points"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// Dispatcher hands milestone events to the notification collaborator.
type Dispatcher interface {
	Dispatch(ctx context.Context, event MilestoneEvent) error
}

// LogDispatcher is the default sink when no real collaborator is wired in.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, event MilestoneEvent) error {
	log.Printf("milestone: %s user=%s rank=%d->%d tier=%s->%s",
		event.Type, event.UserID, event.PrevRank, event.NewRank, event.PrevTier, event.NewTier)
	return nil
}

// MilestoneContext captures the before/after state of one ranking update.
type MilestoneContext struct {
	UserID      uuid.UUID
	Username    string
	PrevTier    model.Tier
	NewTier     model.Tier
	PrevRank    int
	NewRank     int
	RankChange  int
	TotalPoints int
}

type MilestoneService struct {
	dispatcher Dispatcher
	// Minimum absolute rank swing that counts as a surge.
	surgeMinSwing int
}

func NewMilestoneService(dispatcher Dispatcher, surgeMinSwing int) *MilestoneService {
	if dispatcher == nil {
		dispatcher = LogDispatcher{}
	}
	if surgeMinSwing <= 0 {
		surgeMinSwing = 5
	}
	return &MilestoneService{dispatcher: dispatcher, surgeMinSwing: surgeMinSwing}
}

// Evaluate emits at most one event per condition met by this update.
func (s *MilestoneService) Evaluate(ctx context.Context, mc MilestoneContext) []MilestoneEvent {
	events := s.collect(mc)

	for _, event := range events {
		if err := s.dispatcher.Dispatch(ctx, event); err != nil {
			log.Printf("failed to dispatch %s event for user %s: %v", event.Type, mc.UserID, err)
		}
	}

	return events
}

// EvaluateAsync runs Evaluate on its own goroutine so ranking writes never
// block on notification emission.
func (s *MilestoneService) EvaluateAsync(mc MilestoneContext) {
	go func() {
		s.Evaluate(context.Background(), mc)
	}()
}

func (s *MilestoneService) collect(mc MilestoneContext) []MilestoneEvent {
	now := time.Now()
	var events []MilestoneEvent

	base := MilestoneEvent{
		UserID:      mc.UserID,
		Username:    mc.Username,
		TotalPoints: mc.TotalPoints,
		OccurredAt:  now,
	}

	if mc.PrevTier != "" && mc.NewTier != "" && mc.PrevTier != mc.NewTier {
		event := base
		event.PrevTier = mc.PrevTier
		event.NewTier = mc.NewTier
		if mc.NewTier.Order() > mc.PrevTier.Order() {
			event.Type = EventTierPromotion
		} else {
			event.Type = EventTierDemotion
		}
		events = append(events, event)
	}

	// A rank of 0 means "never ranked"; threshold crossings need both sides.
	if mc.PrevRank > 0 && mc.NewRank > 0 {
		for _, threshold := range rankThresholds {
			if mc.PrevRank > threshold && mc.NewRank <= threshold {
				event := base
				event.Type = EventRankThreshold
				event.Threshold = threshold
				event.PrevRank = mc.PrevRank
				event.NewRank = mc.NewRank
				events = append(events, event)
			}
		}

		if abs(mc.RankChange) >= s.surgeMinSwing {
			event := base
			event.Type = EventRankSurge
			event.PrevRank = mc.PrevRank
			event.NewRank = mc.NewRank
			event.RankChange = mc.RankChange
			events = append(events, event)
		}
	}

	return events
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
