package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mathquest/internal/domain"
)

// Key namespaces per access code. cleanupPatterns must cover every one of
// them, including the legacy deferred-session variants older deployments
// wrote: partial cleanup leaks stale state into a reused access code.
const (
	keyPrefix = "mathquest"

	gameKeyFmt            = keyPrefix + ":game:%s"
	timerKeyFmt           = keyPrefix + ":timer:%s:%s"
	lobbyKeyFmt           = keyPrefix + ":lobby:%s"
	leaderboardKeyFmt     = keyPrefix + ":leaderboard:%s"
	leaderboardMetaKeyFmt = keyPrefix + ":leaderboard:%s:meta"
)

var cleanupPatterns = []string{
	keyPrefix + ":game:%s*",
	keyPrefix + ":timer:%s*",
	keyPrefix + ":lobby:%s*",
	keyPrefix + ":leaderboard:%s*",
	keyPrefix + ":deferred_session:%s*",
	keyPrefix + ":deferred_timer:%s*",
}

// SnapshotStore persists session state to Redis so a restarted process can
// reload a session from the store on first touch.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewSnapshotStore(client *redis.Client, ttl time.Duration, log *zap.Logger) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl, log: log}
}

func (s *SnapshotStore) SaveGame(ctx context.Context, snap domain.GameSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal game snapshot: %w", err)
	}
	key := fmt.Sprintf(gameKeyFmt, snap.AccessCode)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save game snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) LoadGame(ctx context.Context, accessCode string) (domain.GameSnapshot, error) {
	key := fmt.Sprintf(gameKeyFmt, accessCode)
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return domain.GameSnapshot{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.GameSnapshot{}, fmt.Errorf("load game snapshot: %w", err)
	}
	var snap domain.GameSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.GameSnapshot{}, fmt.Errorf("unmarshal game snapshot: %w", err)
	}
	return snap, nil
}

func (s *SnapshotStore) SaveTimer(ctx context.Context, accessCode string, snap domain.TimerSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal timer snapshot: %w", err)
	}
	key := fmt.Sprintf(timerKeyFmt, accessCode, snap.QuestionUID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save timer snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStore) SaveLobby(ctx context.Context, accessCode string, roster []domain.LobbyParticipant) error {
	data, err := json.Marshal(roster)
	if err != nil {
		return fmt.Errorf("marshal lobby roster: %w", err)
	}
	key := fmt.Sprintf(lobbyKeyFmt, accessCode)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save lobby roster: %w", err)
	}
	return nil
}

// SaveLeaderboard mirrors scores into a sorted set plus a meta hash with the
// display fields, so a projection can be rebuilt without the engine.
func (s *SnapshotStore) SaveLeaderboard(ctx context.Context, lb domain.Leaderboard) error {
	zkey := fmt.Sprintf(leaderboardKeyFmt, lb.AccessCode)
	mkey := fmt.Sprintf(leaderboardMetaKeyFmt, lb.AccessCode)

	pipe := s.client.Pipeline()
	for _, entry := range lb.Entries {
		pipe.ZAdd(ctx, zkey, redis.Z{Score: float64(entry.Score), Member: entry.UserID})
		meta, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal leaderboard entry: %w", err)
		}
		pipe.HSet(ctx, mkey, entry.UserID, meta)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, zkey, s.ttl)
		pipe.Expire(ctx, mkey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save leaderboard: %w", err)
	}
	return nil
}

// LoadLeaderboard rebuilds the scoreboard ordering from the sorted set.
func (s *SnapshotStore) LoadLeaderboard(ctx context.Context, accessCode string) (domain.Leaderboard, error) {
	zkey := fmt.Sprintf(leaderboardKeyFmt, accessCode)
	res, err := s.client.ZRevRangeWithScores(ctx, zkey, 0, -1).Result()
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("load leaderboard: %w", err)
	}

	lb := domain.Leaderboard{AccessCode: accessCode}
	mkey := fmt.Sprintf(leaderboardMetaKeyFmt, accessCode)
	for i, z := range res {
		entry := domain.LeaderboardEntry{
			UserID: z.Member.(string),
			Score:  int(z.Score),
			Rank:   i + 1,
		}
		if meta, err := s.client.HGet(ctx, mkey, entry.UserID).Bytes(); err == nil {
			var full domain.LeaderboardEntry
			if json.Unmarshal(meta, &full) == nil {
				full.Score = entry.Score
				full.Rank = entry.Rank
				entry = full
			}
		}
		lb.Entries = append(lb.Entries, entry)
	}
	return lb, nil
}

// Cleanup deletes every key pattern associated with an access code. Full
// coverage is a correctness requirement, so each pattern is scanned to
// exhaustion and the first error aborts with a report for the retry loop.
func (s *SnapshotStore) Cleanup(ctx context.Context, accessCode string) error {
	for _, pattern := range cleanupPatterns {
		match := fmt.Sprintf(pattern, accessCode)
		var cursor uint64
		for {
			keys, next, err := s.client.Scan(ctx, cursor, match, 100).Result()
			if err != nil {
				return fmt.Errorf("scan %s: %w", match, err)
			}
			if len(keys) > 0 {
				if err := s.client.Del(ctx, keys...).Err(); err != nil {
					return fmt.Errorf("delete %s: %w", match, err)
				}
			}
			cursor = next
			if cursor == 0 {
				break
			}
		}
	}
	s.log.Info("session keys cleaned", zap.String("accessCode", accessCode))
	return nil
}
