package service

import (
	"time"

	"github.com/mpt-warrior/ranking-engine/internal/model"
)

// Achievement badge names surfaced on the user ranking view.
const (
	BadgeConsistencyKing   = "CONSISTENCY_KING"
	BadgeKnowledgeMaster   = "KNOWLEDGE_MASTER"
	BadgeCommunityChampion = "COMMUNITY_CHAMPION"
	BadgeTopPerformer      = "TOP_PERFORMER"
	BadgeComebackWarrior   = "COMEBACK_WARRIOR"
)

const (
	consistencyKingDays      = 30
	knowledgeMasterAvgScore  = 80.0
	communityChampionAmount  = 100
	topPerformerRank         = 3
	topPerformerSpan         = 14 * 24 * time.Hour
	comebackWarriorPositions = 20
	comebackWarriorWindow    = 7 * 24 * time.Hour
)

// ComputeBadges evaluates all badge qualifiers against the ranking record
// and its recent rank history.
func ComputeBadges(ranking *model.UserRanking, history []model.RankHistory, totalModules int) []string {
	badges := []string{}

	if QualifiesForConsistencyKing(ranking.ConsecutiveDays) {
		badges = append(badges, BadgeConsistencyKing)
	}
	if QualifiesForKnowledgeMaster(ranking.ModulesCompleted, totalModules, ranking.AverageScore) {
		badges = append(badges, BadgeKnowledgeMaster)
	}
	if QualifiesForCommunityChampion(ranking.CommentsAllTime) {
		badges = append(badges, BadgeCommunityChampion)
	}
	if QualifiesForTopPerformer(history) {
		badges = append(badges, BadgeTopPerformer)
	}
	if QualifiesForComebackWarrior(history) {
		badges = append(badges, BadgeComebackWarrior)
	}

	return badges
}

// QualifiesForConsistencyKing: 30+ consecutive days with a journal entry.
func QualifiesForConsistencyKing(consecutiveDays int) bool {
	return consecutiveDays >= consistencyKingDays
}

// QualifiesForKnowledgeMaster: every module completed with an average of 80+.
func QualifiesForKnowledgeMaster(modulesCompleted, totalModules int, averageScore float64) bool {
	return totalModules > 0 && modulesCompleted >= totalModules && averageScore >= knowledgeMasterAvgScore
}

// QualifiesForCommunityChampion: 100+ all-time comments.
func QualifiesForCommunityChampion(allTimeComments int) bool {
	return allTimeComments >= communityChampionAmount
}

// QualifiesForTopPerformer: held rank 1-3 continuously for two weeks of
// recorded history. History is expected in ascending date order.
func QualifiesForTopPerformer(history []model.RankHistory) bool {
	var runStart *time.Time

	for i := range history {
		entry := &history[i]
		if entry.Rank > topPerformerRank || entry.Rank <= 0 {
			runStart = nil
			continue
		}
		if runStart == nil {
			runStart = &entry.Date
		}
		if entry.Date.Sub(*runStart) >= topPerformerSpan {
			return true
		}
	}

	return false
}

// QualifiesForComebackWarrior: rose 20+ positions within one week. History
// is expected in ascending date order.
func QualifiesForComebackWarrior(history []model.RankHistory) bool {
	if len(history) < 2 {
		return false
	}

	newest := history[len(history)-1]
	cutoff := newest.Date.Add(-comebackWarriorWindow)

	for i := range history {
		entry := &history[i]
		if entry.Date.Before(cutoff) {
			continue
		}
		if entry.Rank-newest.Rank >= comebackWarriorPositions {
			return true
		}
	}

	return false
}
