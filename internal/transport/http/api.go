package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"mathquest/internal/domain"
	"mathquest/internal/game"
)

// APIHandler is the minimal HTTP boundary of the engine: session creation
// and end, plus the public read-only summary lobby pages fetch before a
// socket connection exists.
type APIHandler struct {
	service *game.Service
	log     *zap.Logger
}

func NewAPIHandler(service *game.Service, log *zap.Logger) *APIHandler {
	return &APIHandler{service: service, log: log}
}

func (a *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/games", a.createGame)
	mux.HandleFunc("GET /api/games/{code}", a.getGame)
	mux.HandleFunc("POST /api/games/{code}/end", a.endGame)
}

func (a *APIHandler) createGame(w http.ResponseWriter, r *http.Request) {
	var cfg domain.GameConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	summary, err := a.service.CreateGame(r.Context(), cfg)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, summary)
	case errors.Is(err, domain.ErrInvalidConfig), errors.Is(err, domain.ErrTemplateNotFound):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrDuplicateAccessCode):
		writeError(w, http.StatusConflict, "access code already in use")
	default:
		a.log.Error("create game failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create game")
	}
}

func (a *APIHandler) getGame(w http.ResponseWriter, r *http.Request) {
	summary, err := a.service.Summary(r.PathValue("code"))
	if err != nil {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type endGameRequest struct {
	UserID string `json:"userId"`
}

func (a *APIHandler) endGame(w http.ResponseWriter, r *http.Request) {
	var req endGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	err := a.service.EndGame(r.Context(), r.PathValue("code"), req.UserID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
	case errors.Is(err, domain.ErrGameNotFound):
		writeError(w, http.StatusNotFound, "game not found")
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "only the creator can end the game")
	default:
		a.log.Error("end game failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not end game")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
