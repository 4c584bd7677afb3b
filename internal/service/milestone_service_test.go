package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/mpt-warrior/ranking-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMilestoneTierPromotion(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	svc := NewMilestoneService(dispatcher, 5)

	events := svc.Evaluate(context.Background(), MilestoneContext{
		UserID:      uuid.New(),
		PrevTier:    model.TierRecruit,
		NewTier:     model.TierEliteWarrior,
		TotalPoints: 600,
	})

	require.Len(t, events, 1)
	assert.Equal(t, EventTierPromotion, events[0].Type)
	assert.Equal(t, model.TierRecruit, events[0].PrevTier)
	assert.Equal(t, model.TierEliteWarrior, events[0].NewTier)
}

func TestMilestoneTierDemotion(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	svc := NewMilestoneService(dispatcher, 5)

	events := svc.Evaluate(context.Background(), MilestoneContext{
		UserID:   uuid.New(),
		PrevTier: model.TierCommander,
		NewTier:  model.TierEliteWarrior,
	})

	require.Len(t, events, 1)
	assert.Equal(t, EventTierDemotion, events[0].Type)
}

func TestMilestoneNoEventWithoutChange(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	svc := NewMilestoneService(dispatcher, 5)

	events := svc.Evaluate(context.Background(), MilestoneContext{
		UserID:   uuid.New(),
		PrevTier: model.TierRecruit,
		NewTier:  model.TierRecruit,
		PrevRank: 12,
		NewRank:  11,
	})

	assert.Empty(t, events)
	assert.Empty(t, dispatcher.all())
}

func TestMilestoneRankThresholds(t *testing.T) {
	tests := []struct {
		name     string
		prevRank int
		newRank  int
		want     []int
	}{
		{"enter top ten", 15, 8, []int{10}},
		{"enter top five and top three", 9, 2, []int{5, 3}},
		{"straight to first from outside", 20, 1, []int{10, 5, 3, 1}},
		{"already inside threshold", 8, 6, nil},
		{"falling out emits nothing", 4, 12, nil},
		{"never ranked before emits nothing", 0, 5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher := &recordingDispatcher{}
			svc := NewMilestoneService(dispatcher, 100)

			svc.Evaluate(context.Background(), MilestoneContext{
				UserID:     uuid.New(),
				PrevTier:   model.TierRecruit,
				NewTier:    model.TierRecruit,
				PrevRank:   tt.prevRank,
				NewRank:    tt.newRank,
				RankChange: tt.prevRank - tt.newRank,
			})

			var got []int
			for _, event := range dispatcher.ofType(EventRankThreshold) {
				got = append(got, event.Threshold)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMilestoneRankSurge(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	svc := NewMilestoneService(dispatcher, 5)

	// Improvement of 7 positions is a surge at threshold 5.
	svc.Evaluate(context.Background(), MilestoneContext{
		UserID:     uuid.New(),
		PrevTier:   model.TierRecruit,
		NewTier:    model.TierRecruit,
		PrevRank:   27,
		NewRank:    20,
		RankChange: 7,
	})
	require.Len(t, dispatcher.ofType(EventRankSurge), 1)

	// A decline of the same magnitude also counts.
	svc.Evaluate(context.Background(), MilestoneContext{
		UserID:     uuid.New(),
		PrevTier:   model.TierRecruit,
		NewTier:    model.TierRecruit,
		PrevRank:   20,
		NewRank:    27,
		RankChange: -7,
	})
	assert.Len(t, dispatcher.ofType(EventRankSurge), 2)

	// Small moves stay quiet.
	svc.Evaluate(context.Background(), MilestoneContext{
		UserID:     uuid.New(),
		PrevTier:   model.TierRecruit,
		NewTier:    model.TierRecruit,
		PrevRank:   20,
		NewRank:    18,
		RankChange: 2,
	})
	assert.Len(t, dispatcher.ofType(EventRankSurge), 2)
}

func TestMilestoneCombinedConditionsOneEventEach(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	svc := NewMilestoneService(dispatcher, 5)

	events := svc.Evaluate(context.Background(), MilestoneContext{
		UserID:     uuid.New(),
		PrevTier:   model.TierRecruit,
		NewTier:    model.TierEliteWarrior,
		PrevRank:   15,
		NewRank:    8,
		RankChange: 7,
	})

	types := make(map[string]int)
	for _, event := range events {
		types[event.Type]++
	}
	assert.Equal(t, 1, types[EventTierPromotion])
	assert.Equal(t, 1, types[EventRankThreshold])
	assert.Equal(t, 1, types[EventRankSurge])
	assert.Len(t, events, 3)
}
