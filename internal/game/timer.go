package game

import (
	"time"

	"mathquest/internal/domain"
)

const defaultQuestionDurationMs = 30_000

// questionTimer is the checkpoint-based countdown for one question. Remaining
// time is computed on demand from wall-clock deltas instead of a background
// tick, so the state survives process restarts and a session only ever owns
// one scheduled expiry check per active question.
//
// All methods must be called with the owning session's lock held.
type questionTimer struct {
	questionUID string
	durationMs  int64
	remainingMs int64 // remaining at the last checkpoint
	checkpoint  time.Time
	status      domain.TimerStatus
	expiry      *time.Timer
}

func newQuestionTimer(questionUID string, durationMs int64) *questionTimer {
	if durationMs <= 0 {
		durationMs = defaultQuestionDurationMs
	}
	return &questionTimer{
		questionUID: questionUID,
		durationMs:  durationMs,
		remainingMs: durationMs,
		status:      domain.TimerStatusStop,
	}
}

// remainingAt computes the live remaining time, clamped to [0, duration].
func (t *questionTimer) remainingAt(now time.Time) int64 {
	remaining := t.remainingMs
	if t.status == domain.TimerStatusPlay {
		remaining -= now.Sub(t.checkpoint).Milliseconds()
	}
	if remaining < 0 {
		return 0
	}
	if remaining > t.durationMs {
		return t.durationMs
	}
	return remaining
}

// elapsedAt is the server-measured time since the question started, excluding
// paused intervals. This is the only elapsed value scoring may use.
func (t *questionTimer) elapsedAt(now time.Time) int64 {
	return t.durationMs - t.remainingAt(now)
}

// start transitions stop → play with a fresh allotment, or resumes an
// explicitly provided remaining value (differed-mode reload).
func (t *questionTimer) start(now time.Time, remainingMs int64, onExpire func()) error {
	if t.status != domain.TimerStatusStop {
		return domain.ErrInvalidTransition
	}
	if remainingMs <= 0 || remainingMs > t.durationMs {
		remainingMs = t.durationMs
	}
	t.remainingMs = remainingMs
	t.checkpoint = now
	t.status = domain.TimerStatusPlay
	t.scheduleExpiry(onExpire)
	return nil
}

// restorePaused places the timer directly in the paused state with the given
// remaining allotment, so a persisted pause survives a session rebuild.
func (t *questionTimer) restorePaused(now time.Time, remainingMs int64) {
	if remainingMs <= 0 || remainingMs > t.durationMs {
		remainingMs = t.durationMs
	}
	t.remainingMs = remainingMs
	t.checkpoint = now
	t.status = domain.TimerStatusPause
}

// pause freezes the computed remaining time.
func (t *questionTimer) pause(now time.Time) error {
	if t.status != domain.TimerStatusPlay {
		return domain.ErrInvalidTransition
	}
	t.remainingMs = t.remainingAt(now)
	t.checkpoint = now
	t.status = domain.TimerStatusPause
	t.cancelExpiry()
	return nil
}

// resume restarts the countdown from the frozen remaining value.
func (t *questionTimer) resume(now time.Time, onExpire func()) error {
	if t.status != domain.TimerStatusPause {
		return domain.ErrInvalidTransition
	}
	t.checkpoint = now
	t.status = domain.TimerStatusPlay
	t.scheduleExpiry(onExpire)
	return nil
}

// stop ends the countdown for this question. Natural expiry and forced end
// both land here; remaining is clamped to zero either way.
func (t *questionTimer) stop(now time.Time) error {
	if t.status == domain.TimerStatusStop {
		return domain.ErrInvalidTransition
	}
	t.remainingMs = 0
	t.checkpoint = now
	t.status = domain.TimerStatusStop
	t.cancelExpiry()
	return nil
}

func (t *questionTimer) scheduleExpiry(onExpire func()) {
	t.cancelExpiry()
	if onExpire == nil {
		return
	}
	t.expiry = time.AfterFunc(time.Duration(t.remainingMs)*time.Millisecond, onExpire)
}

func (t *questionTimer) cancelExpiry() {
	if t.expiry != nil {
		t.expiry.Stop()
		t.expiry = nil
	}
}

func (t *questionTimer) snapshot(now time.Time) domain.TimerSnapshot {
	return domain.TimerSnapshot{
		QuestionUID: t.questionUID,
		Status:      t.status,
		DurationMs:  t.durationMs,
		RemainingMs: t.remainingAt(now),
		Checkpoint:  t.checkpoint,
	}
}
