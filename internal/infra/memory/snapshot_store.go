package memory

import (
	"context"
	"sync"

	"mathquest/internal/domain"
)

// SnapshotStore is the in-memory implementation of game.SnapshotStore, used
// when no Redis is configured and in tests. State does not survive restarts.
type SnapshotStore struct {
	mu           sync.RWMutex
	games        map[string]domain.GameSnapshot
	timers       map[string]domain.TimerSnapshot
	lobbies      map[string][]domain.LobbyParticipant
	leaderboards map[string]domain.Leaderboard
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		games:        make(map[string]domain.GameSnapshot),
		timers:       make(map[string]domain.TimerSnapshot),
		lobbies:      make(map[string][]domain.LobbyParticipant),
		leaderboards: make(map[string]domain.Leaderboard),
	}
}

func (s *SnapshotStore) SaveGame(_ context.Context, snap domain.GameSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[snap.AccessCode] = snap
	return nil
}

func (s *SnapshotStore) SaveTimer(_ context.Context, accessCode string, snap domain.TimerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[accessCode+":"+snap.QuestionUID] = snap
	return nil
}

func (s *SnapshotStore) SaveLobby(_ context.Context, accessCode string, roster []domain.LobbyParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lobbies[accessCode] = append([]domain.LobbyParticipant(nil), roster...)
	return nil
}

func (s *SnapshotStore) SaveLeaderboard(_ context.Context, lb domain.Leaderboard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderboards[lb.AccessCode] = lb
	return nil
}

func (s *SnapshotStore) LoadGame(_ context.Context, accessCode string) (domain.GameSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.games[accessCode]
	if !ok {
		return domain.GameSnapshot{}, domain.ErrGameNotFound
	}
	return snap, nil
}

// Cleanup drops every entry for an access code across all namespaces.
func (s *SnapshotStore) Cleanup(_ context.Context, accessCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.games, accessCode)
	delete(s.lobbies, accessCode)
	delete(s.leaderboards, accessCode)
	prefix := accessCode + ":"
	for key := range s.timers {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(s.timers, key)
		}
	}
	return nil
}
