package http

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"mathquest/internal/domain"
	"mathquest/internal/game"
)

// dispatch maps inbound event names to their handlers. Each handler decodes
// its payload, calls one engine use case and queues the resulting frames;
// there is exactly one canonical path per event.
var dispatch = map[string]func(h *WSHandler, c *wsConn, data json.RawMessage){
	domain.EventJoinLobby:              (*WSHandler).handleJoinLobby,
	domain.EventLeaveLobby:             (*WSHandler).handleLeaveLobby,
	domain.EventJoinGame:               (*WSHandler).handleJoinGame,
	domain.EventStartTournament:        (*WSHandler).handleStartTournament,
	domain.EventGameAnswer:             (*WSHandler).handleGameAnswer,
	domain.EventRetryQuestion:          (*WSHandler).handleRetryQuestion,
	domain.EventTournamentPause:        (*WSHandler).handleTournamentPause,
	domain.EventTournamentResume:       (*WSHandler).handleTournamentResume,
	domain.EventTournamentNextQuestion: (*WSHandler).handleTournamentNextQuestion,
	domain.EventProjectionShowStats:    (*WSHandler).handleProjectionShowStats,
	domain.EventRequestLeaderboard:     (*WSHandler).handleRequestLeaderboard,
}

type joinLobbyPayload struct {
	AccessCode  string `json:"accessCode"`
	Username    string `json:"username"`
	AvatarEmoji string `json:"avatarEmoji"`
	UserID      string `json:"userId"`
}

func (h *WSHandler) handleJoinLobby(c *wsConn, data json.RawMessage) {
	var p joinLobbyPayload
	if err := json.Unmarshal(data, &p); err != nil || p.AccessCode == "" || p.Username == "" {
		c.emit(domain.EventError, errorPayload{Code: "invalid_payload", Message: "accessCode and username are required"})
		return
	}
	if p.UserID == "" {
		p.UserID = c.userID
	}

	h.subscribe(c, p.AccessCode, domain.RoomLobby)

	_, err := h.service.JoinLobby(context.Background(), p.AccessCode, domain.LobbyParticipant{
		UserID:      p.UserID,
		Username:    p.Username,
		AvatarEmoji: p.AvatarEmoji,
	})
	if err != nil {
		h.emitError(c, err)
	}
}

type leaveLobbyPayload struct {
	AccessCode string `json:"accessCode"`
	Username   string `json:"username"`
	UserID     string `json:"userId"`
}

func (h *WSHandler) handleLeaveLobby(c *wsConn, data json.RawMessage) {
	var p leaveLobbyPayload
	if err := json.Unmarshal(data, &p); err != nil || p.AccessCode == "" {
		return
	}
	if p.UserID == "" {
		p.UserID = c.userID
	}
	_ = h.service.LeaveLobby(context.Background(), p.AccessCode, p.UserID, p.Username)
}

type joinGamePayload struct {
	AccessCode  string `json:"accessCode"`
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	AvatarEmoji string `json:"avatarEmoji"`
}

func (h *WSHandler) handleJoinGame(c *wsConn, data json.RawMessage) {
	var p joinGamePayload
	if err := json.Unmarshal(data, &p); err != nil || p.AccessCode == "" {
		c.emit(domain.EventError, errorPayload{Code: "invalid_payload", Message: "accessCode is required"})
		return
	}
	if p.UserID == "" {
		p.UserID = c.userID
	}

	state, err := h.service.JoinGame(p.AccessCode, p.UserID, p.Username, p.AvatarEmoji)
	if err != nil {
		h.emitError(c, err)
		return
	}

	room := c.role
	if room == domain.RoomDashboard {
		// Dashboard frames include control-level detail; only the creator
		// may receive them. Anyone else is silently treated as a player.
		if creator, err := h.service.Creator(p.AccessCode); err != nil || creator != p.UserID {
			h.log.Warn("dashboard subscription rejected",
				zap.String("accessCode", p.AccessCode), zap.String("userId", p.UserID))
			room = domain.RoomPlayers
		}
	}
	h.subscribe(c, p.AccessCode, room)

	c.emit(domain.EventGameJoined, state)
}

type codePayload struct {
	Code       string `json:"code"`
	AccessCode string `json:"accessCode"`
}

func (p codePayload) code() string {
	if p.Code != "" {
		return p.Code
	}
	return p.AccessCode
}

func (h *WSHandler) handleStartTournament(c *wsConn, data json.RawMessage) {
	var p codePayload
	if err := json.Unmarshal(data, &p); err != nil || p.code() == "" {
		return
	}
	h.control(c, p.code(), "start", func(code string) error {
		return h.service.StartGame(context.Background(), code, c.userID)
	})
}

type gameAnswerPayload struct {
	AccessCode  string          `json:"accessCode"`
	UserID      string          `json:"userId"`
	QuestionUID string          `json:"questionUid"`
	Answer      json.RawMessage `json:"answer"`
	// ClientTimestamp is accepted for wire compatibility and deliberately
	// ignored: elapsed time comes from the server's timer state only.
	ClientTimestamp int64 `json:"clientTimestamp"`
}

func (h *WSHandler) handleGameAnswer(c *wsConn, data json.RawMessage) {
	var p gameAnswerPayload
	if err := json.Unmarshal(data, &p); err != nil || p.AccessCode == "" || p.QuestionUID == "" {
		c.emit(domain.EventError, errorPayload{Code: "invalid_payload", Message: "accessCode and questionUid are required"})
		return
	}
	if p.UserID == "" {
		p.UserID = c.userID
	}

	selected := decodeAnswer(p.Answer)
	result, err := h.service.SubmitAnswer(context.Background(), p.AccessCode, p.UserID, p.QuestionUID, selected)
	if err != nil {
		h.emitError(c, err)
		return
	}
	c.emit(domain.EventAnswerReceived, result)
}

// decodeAnswer accepts a single option ID or an array of option IDs.
func decodeAnswer(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil && one != "" {
		return []string{one}
	}
	return nil
}

type retryQuestionPayload struct {
	AccessCode  string `json:"accessCode"`
	UserID      string `json:"userId"`
	QuestionUID string `json:"questionUid"`
}

func (h *WSHandler) handleRetryQuestion(c *wsConn, data json.RawMessage) {
	var p retryQuestionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.AccessCode == "" || p.QuestionUID == "" {
		return
	}
	if p.UserID == "" {
		p.UserID = c.userID
	}
	if err := h.service.RetryQuestion(p.AccessCode, p.UserID, p.QuestionUID); err != nil {
		if !game.IsSilent(err) {
			h.emitError(c, err)
		}
		return
	}
}

func (h *WSHandler) handleTournamentPause(c *wsConn, data json.RawMessage) {
	var p codePayload
	if err := json.Unmarshal(data, &p); err != nil || p.code() == "" {
		return
	}
	h.control(c, p.code(), "pause", func(code string) error {
		return h.service.Pause(context.Background(), code, c.userID)
	})
}

func (h *WSHandler) handleTournamentResume(c *wsConn, data json.RawMessage) {
	var p codePayload
	if err := json.Unmarshal(data, &p); err != nil || p.code() == "" {
		return
	}
	h.control(c, p.code(), "resume", func(code string) error {
		return h.service.Resume(context.Background(), code, c.userID)
	})
}

func (h *WSHandler) handleTournamentNextQuestion(c *wsConn, data json.RawMessage) {
	var p codePayload
	if err := json.Unmarshal(data, &p); err != nil || p.code() == "" {
		return
	}
	h.control(c, p.code(), "next_question", func(code string) error {
		return h.service.NextQuestion(context.Background(), code, c.userID)
	})
}

type showStatsPayload struct {
	AccessCode  string `json:"accessCode"`
	Code        string `json:"code"`
	QuestionUID string `json:"questionUid"`
	Show        bool   `json:"show"`
}

func (h *WSHandler) handleProjectionShowStats(c *wsConn, data json.RawMessage) {
	var p showStatsPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	code := p.AccessCode
	if code == "" {
		code = p.Code
	}
	if code == "" {
		return
	}
	h.control(c, code, "show_stats", func(code string) error {
		_, err := h.service.ShowStats(code, c.userID, p.QuestionUID, p.Show)
		return err
	})
}

func (h *WSHandler) handleRequestLeaderboard(c *wsConn, data json.RawMessage) {
	var p codePayload
	if err := json.Unmarshal(data, &p); err != nil || p.code() == "" {
		return
	}
	lb, err := h.service.Leaderboard(p.code())
	if err != nil {
		h.emitError(c, err)
		return
	}
	c.emit(domain.EventLeaderboardUpdate, lb)
}

// control runs a creator-only action. Every failure is swallowed: surfacing
// errors here would tell a non-creator whether the session exists.
func (h *WSHandler) control(c *wsConn, accessCode, action string, fn func(code string) error) {
	if err := fn(accessCode); err != nil {
		h.log.Info("control action ignored",
			zap.String("action", action),
			zap.String("accessCode", accessCode),
			zap.String("userId", c.userID),
			zap.Error(err))
	}
}

// emitError maps engine errors onto benign client frames.
func (h *WSHandler) emitError(c *wsConn, err error) {
	switch {
	case errors.Is(err, domain.ErrGameNotFound):
		c.emit(domain.EventError, errorPayload{Code: "game_not_found", Message: "game not found"})
	case errors.Is(err, domain.ErrParticipantNotFound):
		c.emit(domain.EventError, errorPayload{Code: "not_joined", Message: "join the game first"})
	case errors.Is(err, domain.ErrQuestionNotActive):
		c.emit(domain.EventError, errorPayload{Code: "question_not_active", Message: "question is not open for answers"})
	case errors.Is(err, domain.ErrQuestionNotFound):
		c.emit(domain.EventError, errorPayload{Code: "question_not_found", Message: "unknown question"})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.emit(domain.EventError, errorPayload{Code: "not_available", Message: "action not available right now"})
	default:
		h.log.Error("ws handler error", zap.Error(err))
		c.emit(domain.EventError, errorPayload{Code: "internal", Message: "something went wrong"})
	}
}
