package game

import (
	"sort"

	"mathquest/internal/domain"
)

// leaderboardLocked recomputes the ranked scoreboard. Order is score
// descending with ties broken by join order, then user ID, so ranks are
// deterministic across recomputation. Caller holds the session lock; ranks
// are written back onto the participants.
func (s *Session) leaderboardLocked() domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, 0, len(s.participants))
	order := make(map[string]int, len(s.participants))
	for _, p := range s.participants {
		order[p.UserID] = p.JoinOrder
		entries = append(entries, domain.LeaderboardEntry{
			UserID:      p.UserID,
			Username:    p.Username,
			AvatarEmoji: p.AvatarEmoji,
			Score:       p.Score,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if order[entries[i].UserID] != order[entries[j].UserID] {
			return order[entries[i].UserID] < order[entries[j].UserID]
		}
		return entries[i].UserID < entries[j].UserID
	})

	for i := range entries {
		entries[i].Rank = i + 1
		if p, ok := s.participants[entries[i].UserID]; ok {
			p.Rank = i + 1
		}
	}

	return domain.Leaderboard{
		AccessCode: s.accessCode,
		Entries:    entries,
		UpdatedAt:  s.now(),
	}
}
