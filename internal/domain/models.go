package domain

import "time"

// PlayMode controls whether a shared timer is enforced and how answers
// are scored.
type PlayMode string

const (
	PlayModeLive     PlayMode = "live"
	PlayModePractice PlayMode = "practice"
	PlayModeDiffered PlayMode = "differed"
)

// GameStatus is the lifecycle state of a game session.
type GameStatus string

const (
	GameStatusLobby   GameStatus = "lobby"
	GameStatusRunning GameStatus = "running"
	GameStatusPaused  GameStatus = "paused"
	GameStatusStopped GameStatus = "stopped"
	GameStatusEnded   GameStatus = "ended"
)

// TimerStatus is the state of a per-question countdown.
type TimerStatus string

const (
	TimerStatusPlay  TimerStatus = "play"
	TimerStatusPause TimerStatus = "pause"
	TimerStatusStop  TimerStatus = "stop"
)

// ParticipationType distinguishes players on the shared clock from players
// replaying a finished tournament on their own clock.
type ParticipationType string

const (
	ParticipationLive     ParticipationType = "LIVE"
	ParticipationDeferred ParticipationType = "DEFERRED"
)

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question. Multiple correct options are allowed;
// a submission is correct when it selects exactly the correct set.
type Question struct {
	UID        string   `json:"uid"`
	Text       string   `json:"text"`
	Options    []Option `json:"options"`
	DurationMs int64    `json:"durationMs"` // defaults to 30s if zero
}

// QuizTemplate is the ordered question content a game is created from.
type QuizTemplate struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Questions []Question `json:"questions"`
}

// GameConfig is the creation request for a game session. Malformed configs
// abort creation; everything after creation degrades gracefully.
type GameConfig struct {
	AccessCode string   `json:"accessCode,omitempty"` // generated when empty
	Creator    string   `json:"creator"`
	PlayMode   PlayMode `json:"playMode"`
	TemplateID string   `json:"templateId"`
}

// GameSummary is the public, non-sensitive view served before a socket
// connection is established.
type GameSummary struct {
	AccessCode string     `json:"accessCode"`
	PlayMode   PlayMode   `json:"playMode"`
	Status     GameStatus `json:"status"`
	TemplateID string     `json:"templateId,omitempty"`
}

// GameSnapshot is the persisted state of a session, enough to reload the
// session from the store on first touch after a restart.
type GameSnapshot struct {
	AccessCode   string     `json:"accessCode"`
	Creator      string     `json:"creator"`
	PlayMode     PlayMode   `json:"playMode"`
	Status       GameStatus `json:"status"`
	TemplateID   string     `json:"templateId,omitempty"`
	QuestionUIDs []string   `json:"questionUids"`
	CurrentIndex int        `json:"currentIndex"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// TimerSnapshot is the checkpoint representation of a question countdown.
// Remaining time is always recomputed from the checkpoint, never counted
// down in the background.
type TimerSnapshot struct {
	QuestionUID string      `json:"questionUid"`
	Status      TimerStatus `json:"status"`
	DurationMs  int64       `json:"durationMs"`
	RemainingMs int64       `json:"remainingMs"`
	Checkpoint  time.Time   `json:"checkpoint"`
}

// LobbyParticipant is the lightweight pre-game roster entry, superseded by
// a full Participant once the session starts.
type LobbyParticipant struct {
	UserID      string    `json:"userId,omitempty"`
	Username    string    `json:"username"`
	AvatarEmoji string    `json:"avatarEmoji,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// Participant is a player inside a running session.
type Participant struct {
	UserID      string            `json:"userId"`
	Username    string            `json:"username"`
	AvatarEmoji string            `json:"avatarEmoji,omitempty"`
	Type        ParticipationType `json:"participationType"`
	Score       int               `json:"score"`
	Rank        int               `json:"rank"`
	JoinOrder   int               `json:"joinOrder"`
}

// AnswerRecord is the immutable result of the first valid submission for a
// (participant, question) pair. Practice mode may reset it on request.
type AnswerRecord struct {
	QuestionUID string    `json:"questionUid"`
	Selected    []string  `json:"selected"`
	ElapsedMs   int64     `json:"elapsedMs"` // server-measured, never client-reported
	Correct     bool      `json:"correct"`
	Score       int       `json:"score"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// ScoreResult is returned to the submitter.
type ScoreResult struct {
	QuestionUID     string `json:"questionUid"`
	Correct         bool   `json:"correct"`
	Score           int    `json:"score"`
	TotalScore      int    `json:"totalScore"`
	ElapsedMs       int64  `json:"elapsedMs"`
	AlreadyAnswered bool   `json:"alreadyAnswered"`
}

// ScoringRule is the per-mode scoring configuration.
type ScoringRule struct {
	BaseScore        int  `json:"baseScore"`
	PenaltyPerSecond int  `json:"penaltyPerSecond"`
	AllowRetry       bool `json:"allowRetry"`
}

// ScoringForMode returns the default scoring rule of a play mode.
func ScoringForMode(mode PlayMode) ScoringRule {
	rule := ScoringRule{BaseScore: 1000, PenaltyPerSecond: 10}
	if mode == PlayModePractice {
		rule.AllowRetry = true
	}
	return rule
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	AvatarEmoji string `json:"avatarEmoji,omitempty"`
	Score       int    `json:"score"`
	Rank        int    `json:"rank"`
}

// Leaderboard captures the ordered scoreboard for a session.
type Leaderboard struct {
	AccessCode string             `json:"accessCode"`
	Entries    []LeaderboardEntry `json:"entries"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// AnswerStats maps an answer option ID to the number of participants who
// selected it, computed on demand from answer records.
type AnswerStats struct {
	QuestionUID string         `json:"questionUid"`
	Counts      map[string]int `json:"stats"`
	Answered    int            `json:"answered"`
}
