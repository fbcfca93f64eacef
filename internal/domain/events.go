package domain

// Room identifies a logical broadcast audience within a session.
type Room string

const (
	RoomLobby      Room = "lobby"
	RoomPlayers    Room = "game"
	RoomProjection Room = "projection"
	RoomDashboard  Room = "dashboard"
)

// Inbound socket event names. These are part of the compatibility surface.
const (
	EventJoinLobby              = "join_lobby"
	EventLeaveLobby             = "leave_lobby"
	EventJoinGame               = "join_game"
	EventStartTournament        = "start_tournament"
	EventGameAnswer             = "game_answer"
	EventRetryQuestion          = "retry_question"
	EventTournamentPause        = "tournament_pause"
	EventTournamentResume       = "tournament_resume"
	EventTournamentNextQuestion = "tournament_next_question"
	EventProjectionShowStats    = "projection_show_stats"
	EventRequestLeaderboard     = "request_leaderboard"
)

// Outbound socket event names.
const (
	EventLobbyParticipantsUpdate = "lobby_participants_update"
	EventGameJoined              = "game_joined"
	EventError                   = "error"
	EventAnswerReceived          = "answer_received"
	EventParticipantScoreUpdate  = "participant_score_update"
	EventLeaderboardUpdate       = "leaderboard_update"
	EventTimerUpdate             = "timer_update"
	EventQuestionChanged         = "question_changed"
	EventGameEnded               = "game_ended"
)
