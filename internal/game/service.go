package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mathquest/internal/domain"
)

// TemplateRepository loads quiz content (from cache/backing store).
type TemplateRepository interface {
	GetTemplate(ctx context.Context, templateID string) (domain.QuizTemplate, error)
}

// SnapshotStore is the external persistence layer keyed by access code. All
// writes are best-effort from the engine's point of view: a store outage is
// logged loudly but never blocks scoring or timers.
type SnapshotStore interface {
	SaveGame(ctx context.Context, snap domain.GameSnapshot) error
	SaveTimer(ctx context.Context, accessCode string, snap domain.TimerSnapshot) error
	SaveLobby(ctx context.Context, accessCode string, roster []domain.LobbyParticipant) error
	SaveLeaderboard(ctx context.Context, lb domain.Leaderboard) error
	LoadGame(ctx context.Context, accessCode string) (domain.GameSnapshot, error)
	// Cleanup deletes every key pattern associated with an access code,
	// including legacy deferred-session variants. Partial cleanup leaks stale
	// state into a reused code, so implementations must cover all namespaces.
	Cleanup(ctx context.Context, accessCode string) error
}

const (
	cleanupAttempts = 3
	cleanupBackoff  = 500 * time.Millisecond
)

// Service contains the game engine use cases consumed by the transport
// layer. It mediates every session access through the registry.
type Service struct {
	registry  *Registry
	templates TemplateRepository
	store     SnapshotStore
	log       *zap.Logger
}

func NewService(registry *Registry, templates TemplateRepository, store SnapshotStore, log *zap.Logger) *Service {
	return &Service{
		registry:  registry,
		templates: templates,
		store:     store,
		log:       log,
	}
}

// CreateGame validates the config, allocates an access code and registers a
// new session in the lobby state. Malformed configuration is the one fatal
// path: it aborts creation with an explicit error.
func (s *Service) CreateGame(ctx context.Context, cfg domain.GameConfig) (domain.GameSummary, error) {
	if cfg.Creator == "" || cfg.TemplateID == "" {
		return domain.GameSummary{}, fmt.Errorf("%w: creator and templateId are required", domain.ErrInvalidConfig)
	}
	switch cfg.PlayMode {
	case domain.PlayModeLive, domain.PlayModePractice, domain.PlayModeDiffered:
	case "":
		cfg.PlayMode = domain.PlayModeLive
	default:
		return domain.GameSummary{}, fmt.Errorf("%w: unknown play mode %q", domain.ErrInvalidConfig, cfg.PlayMode)
	}

	template, err := s.templates.GetTemplate(ctx, cfg.TemplateID)
	if err != nil {
		return domain.GameSummary{}, fmt.Errorf("load template %s: %w", cfg.TemplateID, err)
	}
	if len(template.Questions) == 0 {
		return domain.GameSummary{}, fmt.Errorf("%w: template %s has no questions", domain.ErrInvalidConfig, cfg.TemplateID)
	}

	if cfg.AccessCode == "" {
		for attempt := 0; attempt < 5; attempt++ {
			code, err := GenerateAccessCode()
			if err != nil {
				return domain.GameSummary{}, fmt.Errorf("generate access code: %w", err)
			}
			if s.registry.Reserve(code) {
				cfg.AccessCode = code
				break
			}
		}
		if cfg.AccessCode == "" {
			return domain.GameSummary{}, domain.ErrDuplicateAccessCode
		}
	}

	session := newSession(cfg, template.Questions, s.log, nil)
	if err := s.registry.Add(session); err != nil {
		return domain.GameSummary{}, err
	}

	s.persistGame(ctx, session)
	s.log.Info("game created",
		zap.String("accessCode", cfg.AccessCode),
		zap.String("playMode", string(cfg.PlayMode)),
		zap.String("templateId", cfg.TemplateID))
	return session.Summary(), nil
}

// session resolves an access code, reloading a persisted session from the
// store on first touch after a restart. Answers live only in memory, so a
// reloaded session restarts the current question with a full allotment and
// participants resync through the usual join path.
func (s *Service) session(ctx context.Context, accessCode string) (*Session, error) {
	session, err := s.registry.Get(accessCode)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, domain.ErrGameNotFound) || s.store == nil {
		return nil, err
	}

	snap, loadErr := s.store.LoadGame(ctx, accessCode)
	if loadErr != nil || snap.Status == domain.GameStatusEnded {
		return nil, err
	}
	template, tErr := s.templates.GetTemplate(ctx, snap.TemplateID)
	if tErr != nil {
		s.log.Warn("session reload failed: template unavailable",
			zap.String("accessCode", accessCode), zap.Error(tErr))
		return nil, err
	}

	session = newSession(domain.GameConfig{
		AccessCode: snap.AccessCode,
		Creator:    snap.Creator,
		PlayMode:   snap.PlayMode,
		TemplateID: snap.TemplateID,
	}, template.Questions, s.log, nil)
	session.restoreSnapshot(snap)
	if addErr := s.registry.Add(session); addErr != nil {
		// Lost the reload race; use the winner.
		return s.registry.Get(accessCode)
	}
	s.log.Info("session reloaded from store", zap.String("accessCode", accessCode))
	return session, nil
}

// Summary returns the public session view for lobby pages.
func (s *Service) Summary(accessCode string) (domain.GameSummary, error) {
	session, err := s.session(context.Background(), accessCode)
	if err != nil {
		return domain.GameSummary{}, err
	}
	return session.Summary(), nil
}

// JoinLobby registers a participant in the waiting room.
func (s *Service) JoinLobby(ctx context.Context, accessCode string, p domain.LobbyParticipant) ([]domain.LobbyParticipant, error) {
	session, err := s.session(ctx, accessCode)
	if err != nil {
		return nil, err
	}
	roster, err := session.JoinLobby(p)
	if err != nil {
		return nil, err
	}
	s.persistLobby(ctx, accessCode, roster)
	return roster, nil
}

// LeaveLobby removes a participant from the waiting room.
func (s *Service) LeaveLobby(ctx context.Context, accessCode, userID, username string) error {
	session, err := s.session(ctx, accessCode)
	if err != nil {
		return err
	}
	roster := session.LeaveLobby(userID, username)
	s.persistLobby(ctx, accessCode, roster)
	return nil
}

// StartGame transitions lobby → running. Creator-only.
func (s *Service) StartGame(ctx context.Context, accessCode, userID string) error {
	session, err := s.session(ctx, accessCode)
	if err != nil {
		return err
	}
	if err := session.Start(userID); err != nil {
		return err
	}
	s.persistGame(ctx, session)
	s.persistCurrentTimer(ctx, session)
	return nil
}

// JoinGame admits or resyncs a participant in a running session.
func (s *Service) JoinGame(accessCode, userID, username, avatar string) (JoinState, error) {
	session, err := s.session(context.Background(), accessCode)
	if err != nil {
		return JoinState{}, err
	}
	return session.JoinGame(userID, username, avatar)
}

// SubmitAnswer scores a submission and mirrors the leaderboard to the store.
func (s *Service) SubmitAnswer(ctx context.Context, accessCode, userID, questionUID string, selected []string) (domain.ScoreResult, error) {
	session, err := s.session(ctx, accessCode)
	if err != nil {
		return domain.ScoreResult{}, err
	}
	result, err := session.SubmitAnswer(userID, questionUID, selected)
	if err != nil {
		return domain.ScoreResult{}, err
	}
	if !result.AlreadyAnswered {
		s.persistLeaderboard(ctx, session)
	}
	return result, nil
}

// RetryQuestion resets a practice answer for another attempt.
func (s *Service) RetryQuestion(accessCode, userID, questionUID string) error {
	session, err := s.session(context.Background(), accessCode)
	if err != nil {
		return err
	}
	return session.RetryQuestion(userID, questionUID)
}

// Pause freezes the shared timer. Creator-only.
func (s *Service) Pause(ctx context.Context, accessCode, userID string) error {
	session, err := s.session(ctx, accessCode)
	if err != nil {
		return err
	}
	if err := session.Pause(userID); err != nil {
		return err
	}
	s.persistGame(ctx, session)
	s.persistCurrentTimer(ctx, session)
	return nil
}

// Resume restarts a paused shared timer. Creator-only.
func (s *Service) Resume(ctx context.Context, accessCode, userID string) error {
	session, err := s.session(ctx, accessCode)
	if err != nil {
		return err
	}
	if err := session.Resume(userID); err != nil {
		return err
	}
	s.persistGame(ctx, session)
	s.persistCurrentTimer(ctx, session)
	return nil
}

// NextQuestion advances the shared question progression. Creator-only.
func (s *Service) NextQuestion(ctx context.Context, accessCode, userID string) error {
	session, err := s.session(ctx, accessCode)
	if err != nil {
		return err
	}
	if err := session.NextQuestion(userID); err != nil {
		return err
	}
	s.persistGame(ctx, session)
	s.persistCurrentTimer(ctx, session)
	return nil
}

// ShowStats pushes answer-distribution stats to the projection view.
func (s *Service) ShowStats(accessCode, userID, questionUID string, show bool) (domain.AnswerStats, error) {
	session, err := s.session(context.Background(), accessCode)
	if err != nil {
		return domain.AnswerStats{}, err
	}
	return session.ShowStats(userID, questionUID, show)
}

// Leaderboard returns the full ranked scoreboard.
func (s *Service) Leaderboard(accessCode string) (domain.Leaderboard, error) {
	session, err := s.session(context.Background(), accessCode)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return session.Leaderboard(), nil
}

// Subscribe attaches a listener to a session room.
func (s *Service) Subscribe(accessCode string, room domain.Room) (<-chan Envelope, func(), error) {
	session, err := s.session(context.Background(), accessCode)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.Subscribe(room)
	return ch, cancel, nil
}

// Creator returns the controlling user of a session.
func (s *Service) Creator(accessCode string) (string, error) {
	session, err := s.session(context.Background(), accessCode)
	if err != nil {
		return "", err
	}
	return session.Creator(), nil
}

// EndGame terminates a session: final broadcast, persistence flush, full
// store cleanup with backoff, and delayed eviction after the grace period so
// late stat queries still resolve.
func (s *Service) EndGame(ctx context.Context, accessCode, userID string) error {
	session, err := s.session(ctx, accessCode)
	if err != nil {
		return err
	}
	if userID != session.Creator() {
		s.log.Warn("end game rejected: not creator",
			zap.String("accessCode", accessCode), zap.String("userId", userID))
		return domain.ErrUnauthorized
	}

	lb := session.End()
	s.persistGame(ctx, session)
	if s.store != nil {
		if err := s.store.SaveLeaderboard(ctx, lb); err != nil {
			s.log.Error("final leaderboard flush failed", zap.String("accessCode", accessCode), zap.Error(err))
		}
	}
	s.cleanupStore(accessCode)
	s.registry.ScheduleEviction(accessCode)
	return nil
}

// cleanupStore runs the full-coverage key deletion with retry and backoff,
// detached from the caller so gameplay paths never wait on the store.
func (s *Service) cleanupStore(accessCode string) {
	if s.store == nil {
		return
	}
	go func() {
		backoff := cleanupBackoff
		for attempt := 1; attempt <= cleanupAttempts; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.store.Cleanup(ctx, accessCode)
			cancel()
			if err == nil {
				return
			}
			s.log.Error("store cleanup failed",
				zap.String("accessCode", accessCode),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if attempt < cleanupAttempts {
				time.Sleep(backoff)
				backoff *= 2
			}
		}
	}()
}

func (s *Service) persistGame(ctx context.Context, session *Session) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveGame(ctx, session.Snapshot()); err != nil {
		s.log.Error("game snapshot write failed",
			zap.String("accessCode", session.AccessCode()), zap.Error(err))
	}
}

func (s *Service) persistCurrentTimer(ctx context.Context, session *Session) {
	if s.store == nil {
		return
	}
	snap := session.Snapshot()
	if snap.CurrentIndex < 0 || snap.CurrentIndex >= len(snap.QuestionUIDs) {
		return
	}
	timer, ok := session.TimerState(snap.QuestionUIDs[snap.CurrentIndex])
	if !ok {
		return
	}
	if err := s.store.SaveTimer(ctx, session.AccessCode(), timer); err != nil {
		s.log.Error("timer snapshot write failed",
			zap.String("accessCode", session.AccessCode()), zap.Error(err))
	}
}

func (s *Service) persistLobby(ctx context.Context, accessCode string, roster []domain.LobbyParticipant) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveLobby(ctx, accessCode, roster); err != nil {
		s.log.Error("lobby write failed", zap.String("accessCode", accessCode), zap.Error(err))
	}
}

func (s *Service) persistLeaderboard(ctx context.Context, session *Session) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveLeaderboard(ctx, session.Leaderboard()); err != nil {
		s.log.Error("leaderboard write failed",
			zap.String("accessCode", session.AccessCode()), zap.Error(err))
	}
}

// IsSilent reports whether an error must be swallowed at the transport
// boundary instead of surfacing to the actor (unauthorized control attempts
// and impossible transitions leak information or add noise).
func IsSilent(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrInvalidTransition)
}
