package memory

import (
	"context"
	"errors"
	"testing"

	"mathquest/internal/domain"
)

func TestSnapshotStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewSnapshotStore()

	if err := store.SaveGame(ctx, domain.GameSnapshot{AccessCode: "MATH42", Creator: "t1"}); err != nil {
		t.Fatalf("save game: %v", err)
	}
	if err := store.SaveTimer(ctx, "MATH42", domain.TimerSnapshot{QuestionUID: "q1"}); err != nil {
		t.Fatalf("save timer: %v", err)
	}
	if err := store.SaveLobby(ctx, "MATH42", []domain.LobbyParticipant{{Username: "Alice"}}); err != nil {
		t.Fatalf("save lobby: %v", err)
	}
	if err := store.SaveLeaderboard(ctx, domain.Leaderboard{AccessCode: "MATH42"}); err != nil {
		t.Fatalf("save leaderboard: %v", err)
	}

	snap, err := store.LoadGame(ctx, "MATH42")
	if err != nil {
		t.Fatalf("load game: %v", err)
	}
	if snap.Creator != "t1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if err := store.Cleanup(ctx, "MATH42"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := store.LoadGame(ctx, "MATH42"); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected game removed, got %v", err)
	}
}

func TestSnapshotStoreCleanupScopedToCode(t *testing.T) {
	ctx := context.Background()
	store := NewSnapshotStore()

	_ = store.SaveGame(ctx, domain.GameSnapshot{AccessCode: "MATH42"})
	_ = store.SaveGame(ctx, domain.GameSnapshot{AccessCode: "OTHER1"})

	if err := store.Cleanup(ctx, "MATH42"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := store.LoadGame(ctx, "OTHER1"); err != nil {
		t.Fatalf("cleanup must not touch other codes: %v", err)
	}
}
