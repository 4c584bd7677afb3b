package service

import "math"

// Point weights per category. Quiz 40%, consistency 35%, community 25%.
const (
	WeightQuiz        = 0.40
	WeightConsistency = 0.35
	WeightCommunity   = 0.25
)

// Category caps. Quiz is capped at 40 everywhere; the per-day journal amount
// and per-comment amount cap out at 35 and 20 respectively.
const (
	MaxQuizPoints        = 40.0
	MaxConsistencyPoints = 35.0
	MaxCommunityPoints   = 20.0

	PointsPerJournalDay = 5
	MaxJournalDays      = 7

	PointsPerComment   = 2
	MaxCountedComments = 10
)

// QuizContribution converts quiz stats into the quiz category score.
// Zero completed modules contribute nothing regardless of average score.
func QuizContribution(modulesCompleted int, averageScore float64) float64 {
	if modulesCompleted <= 0 {
		return 0
	}
	if averageScore < 0 {
		averageScore = 0
	}

	contribution := averageScore * WeightQuiz
	return math.Min(contribution, MaxQuizPoints)
}

// ConsistencyContribution converts journal entries this week into the
// consistency category score. 5 points per unique day, at most 7 days.
func ConsistencyContribution(entriesThisWeek int) float64 {
	if entriesThisWeek < 0 {
		entriesThisWeek = 0
	}

	days := entriesThisWeek
	if days > MaxJournalDays {
		days = MaxJournalDays
	}

	return math.Min(float64(days*PointsPerJournalDay), MaxConsistencyPoints)
}

// CommunityContribution converts comments this week into the community
// category score. 2 points per comment, at most 10 comments counted.
func CommunityContribution(commentsThisWeek int) float64 {
	if commentsThisWeek < 0 {
		commentsThisWeek = 0
	}

	comments := commentsThisWeek
	if comments > MaxCountedComments {
		comments = MaxCountedComments
	}

	return math.Min(float64(comments*PointsPerComment), MaxCommunityPoints)
}

// WeightedTotal combines the three category scores into the user's total
// points. Inputs are clamped to their caps first so the result holds the
// per-category invariants even for values that bypassed the contribution
// functions.
func WeightedTotal(quiz, consistency, community float64) int {
	quiz = clamp(quiz, MaxQuizPoints)
	consistency = clamp(consistency, MaxConsistencyPoints)
	community = clamp(community, MaxCommunityPoints)

	total := quiz*WeightQuiz + consistency*WeightConsistency + community*WeightCommunity
	return int(math.Round(total))
}

func clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
