package game

import (
	"mathquest/internal/domain"
)

// computeScore applies the time-penalty scoring rule. Elapsed time must come
// from the session's own timer state; client-reported timings are never
// accepted here.
func computeScore(rule domain.ScoringRule, correct bool, elapsedMs int64) int {
	if !correct {
		return 0
	}
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	// floor(elapsedSeconds * penaltyPerSecond) via integer math on ms.
	penalty := int(elapsedMs * int64(rule.PenaltyPerSecond) / 1000)
	score := rule.BaseScore - penalty
	if score < 0 {
		return 0
	}
	return score
}

// isCorrect reports whether the selection matches the question's correct
// option set exactly.
func isCorrect(q domain.Question, selected []string) bool {
	correct := make(map[string]bool)
	for _, opt := range q.Options {
		if opt.Correct {
			correct[opt.ID] = true
		}
	}
	if len(correct) == 0 || len(selected) != len(correct) {
		return false
	}
	seen := make(map[string]bool, len(selected))
	for _, id := range selected {
		if seen[id] {
			return false
		}
		seen[id] = true
		if !correct[id] {
			return false
		}
	}
	return true
}

// validOptions reports whether every selected ID exists on the question.
func validOptions(q domain.Question, selected []string) bool {
	if len(selected) == 0 {
		return false
	}
	known := make(map[string]bool, len(q.Options))
	for _, opt := range q.Options {
		known[opt.ID] = true
	}
	for _, id := range selected {
		if !known[id] {
			return false
		}
	}
	return true
}

// statsLocked aggregates option counts for a question from the immutable
// answer records. Caller holds the session lock.
func (s *Session) statsLocked(questionUID string) domain.AnswerStats {
	stats := domain.AnswerStats{
		QuestionUID: questionUID,
		Counts:      make(map[string]int),
	}
	for _, p := range s.participants {
		record, ok := p.answers[questionUID]
		if !ok {
			continue
		}
		stats.Answered++
		for _, optionID := range record.Selected {
			stats.Counts[optionID]++
		}
	}
	return stats
}
