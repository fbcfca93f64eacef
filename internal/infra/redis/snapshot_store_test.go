package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mathquest/internal/domain"
)

func newTestStore(t *testing.T) (*SnapshotStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSnapshotStore(client, time.Minute, zap.NewNop()), mr
}

func TestSnapshotStoreGameRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	snap := domain.GameSnapshot{
		AccessCode:   "MATH42",
		Creator:      "t1",
		PlayMode:     domain.PlayModeLive,
		Status:       domain.GameStatusRunning,
		QuestionUIDs: []string{"q1", "q2"},
		CurrentIndex: 1,
	}
	if err := store.SaveGame(ctx, snap); err != nil {
		t.Fatalf("save game: %v", err)
	}
	if !mr.Exists("mathquest:game:MATH42") {
		t.Fatalf("expected game key to be set")
	}

	loaded, err := store.LoadGame(ctx, "MATH42")
	if err != nil {
		t.Fatalf("load game: %v", err)
	}
	if loaded.Creator != "t1" || loaded.CurrentIndex != 1 || len(loaded.QuestionUIDs) != 2 {
		t.Fatalf("unexpected snapshot %+v", loaded)
	}

	if _, err := store.LoadGame(ctx, "NOPE"); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected game not found, got %v", err)
	}
}

func TestSnapshotStoreLeaderboardRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	lb := domain.Leaderboard{
		AccessCode: "MATH42",
		Entries: []domain.LeaderboardEntry{
			{UserID: "u1", Username: "Alice", Score: 975, Rank: 1},
			{UserID: "u2", Username: "Bob", Score: 500, Rank: 2},
		},
	}
	if err := store.SaveLeaderboard(ctx, lb); err != nil {
		t.Fatalf("save leaderboard: %v", err)
	}

	loaded, err := store.LoadLeaderboard(ctx, "MATH42")
	if err != nil {
		t.Fatalf("load leaderboard: %v", err)
	}
	if len(loaded.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(loaded.Entries))
	}
	if loaded.Entries[0].UserID != "u1" || loaded.Entries[0].Score != 975 || loaded.Entries[0].Rank != 1 {
		t.Fatalf("ordering from sorted set is wrong: %+v", loaded.Entries[0])
	}
	if loaded.Entries[0].Username != "Alice" {
		t.Fatalf("meta hash must restore display fields: %+v", loaded.Entries[0])
	}
}

func TestSnapshotStoreCleanupRemovesEveryNamespace(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	if err := store.SaveGame(ctx, domain.GameSnapshot{AccessCode: "MATH42"}); err != nil {
		t.Fatalf("save game: %v", err)
	}
	if err := store.SaveTimer(ctx, "MATH42", domain.TimerSnapshot{QuestionUID: "q1"}); err != nil {
		t.Fatalf("save timer: %v", err)
	}
	if err := store.SaveLobby(ctx, "MATH42", []domain.LobbyParticipant{{Username: "Alice"}}); err != nil {
		t.Fatalf("save lobby: %v", err)
	}
	if err := store.SaveLeaderboard(ctx, domain.Leaderboard{
		AccessCode: "MATH42",
		Entries:    []domain.LeaderboardEntry{{UserID: "u1", Score: 10}},
	}); err != nil {
		t.Fatalf("save leaderboard: %v", err)
	}
	// Legacy keys older deployments wrote must be covered too.
	mr.Set("mathquest:deferred_session:MATH42:u1", "{}")
	mr.Set("mathquest:deferred_timer:MATH42:u1:q1", "{}")

	// An unrelated session must survive the cleanup.
	if err := store.SaveGame(ctx, domain.GameSnapshot{AccessCode: "OTHER1"}); err != nil {
		t.Fatalf("save other game: %v", err)
	}

	if err := store.Cleanup(ctx, "MATH42"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	for _, key := range mr.Keys() {
		if key != "mathquest:game:OTHER1" {
			t.Fatalf("cleanup left stale key %s", key)
		}
	}
	if !mr.Exists("mathquest:game:OTHER1") {
		t.Fatalf("cleanup must not touch other sessions")
	}
}

func TestSnapshotStoreAppliesTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	if err := store.SaveGame(ctx, domain.GameSnapshot{AccessCode: "MATH42"}); err != nil {
		t.Fatalf("save game: %v", err)
	}
	if mr.TTL("mathquest:game:MATH42") <= 0 {
		t.Fatalf("expected TTL on game key")
	}

	if err := store.SaveLeaderboard(ctx, domain.Leaderboard{
		AccessCode: "MATH42",
		Entries:    []domain.LeaderboardEntry{{UserID: "u1", Score: 10}},
	}); err != nil {
		t.Fatalf("save leaderboard: %v", err)
	}
	if mr.TTL("mathquest:leaderboard:MATH42") <= 0 {
		t.Fatalf("expected TTL on leaderboard key")
	}
}
