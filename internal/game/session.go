package game

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"mathquest/internal/domain"
)

// participantState is a Participant plus the engine-private bookkeeping the
// wire types never see: answer records and, for self-paced modes, the
// per-participant timers and question cursor.
type participantState struct {
	domain.Participant
	answers map[string]*domain.AnswerRecord
	timers  map[string]*questionTimer
	cursor  int
}

// Session owns all mutable state of one running game. Every mutation is
// serialized by s.mu, so two concurrent answer submissions can never
// double-count a score; different sessions proceed fully in parallel.
type Session struct {
	accessCode string
	creator    string
	mode       domain.PlayMode
	templateID string
	scoring    domain.ScoringRule
	questions  []domain.Question
	log        *zap.Logger
	now        func() time.Time
	hub        *roomHub

	mu           sync.Mutex
	status       domain.GameStatus
	index        int
	lobby        []domain.LobbyParticipant
	participants map[string]*participantState
	joinSeq      int
	timers       map[string]*questionTimer // shared clock, live mode
	touchedAt    time.Time
	endedAt      time.Time
}

func newSession(cfg domain.GameConfig, questions []domain.Question, log *zap.Logger, clock func() time.Time) *Session {
	if clock == nil {
		clock = time.Now
	}
	return &Session{
		accessCode:   cfg.AccessCode,
		creator:      cfg.Creator,
		mode:         cfg.PlayMode,
		templateID:   cfg.TemplateID,
		scoring:      domain.ScoringForMode(cfg.PlayMode),
		questions:    questions,
		log:          log.With(zap.String("accessCode", cfg.AccessCode)),
		now:          clock,
		hub:          newRoomHub(),
		status:       domain.GameStatusLobby,
		participants: make(map[string]*participantState),
		timers:       make(map[string]*questionTimer),
		touchedAt:    clock(),
	}
}

// touchLocked records activity for the idle sweep.
func (s *Session) touchLocked() {
	s.touchedAt = s.now()
}

// LastActivity reports when the session last saw a participant or control
// action; the registry's janitor evicts sessions idle past its timeout.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchedAt
}

// AccessCode returns the session's shareable identifier.
func (s *Session) AccessCode() string { return s.accessCode }

// Creator returns the user ID that controls the session.
func (s *Session) Creator() string { return s.creator }

// Subscribe attaches a listener to one of the session's logical rooms.
func (s *Session) Subscribe(room domain.Room) (<-chan Envelope, func()) {
	return s.hub.Subscribe(room)
}

// Summary is the public, non-sensitive session view.
func (s *Session) Summary() domain.GameSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.GameSummary{
		AccessCode: s.accessCode,
		PlayMode:   s.mode,
		Status:     s.status,
		TemplateID: s.templateID,
	}
}

// Snapshot is the persistable session state.
func (s *Session) Snapshot() domain.GameSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	uids := make([]string, len(s.questions))
	for i, q := range s.questions {
		uids[i] = q.UID
	}
	return domain.GameSnapshot{
		AccessCode:   s.accessCode,
		Creator:      s.creator,
		PlayMode:     s.mode,
		Status:       s.status,
		TemplateID:   s.templateID,
		QuestionUIDs: uids,
		CurrentIndex: s.index,
		UpdatedAt:    s.now(),
	}
}

// publicQuestion strips the correct flags before a question goes on the wire.
type publicQuestion struct {
	UID        string         `json:"uid"`
	Text       string         `json:"text"`
	Options    []publicOption `json:"options"`
	DurationMs int64          `json:"durationMs"`
	Index      int            `json:"index"`
	Total      int            `json:"total"`
}

type publicOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (s *Session) publicQuestionLocked(i int) publicQuestion {
	q := s.questions[i]
	pq := publicQuestion{
		UID:        q.UID,
		Text:       q.Text,
		Options:    make([]publicOption, 0, len(q.Options)),
		DurationMs: q.DurationMs,
		Index:      i,
		Total:      len(s.questions),
	}
	for _, opt := range q.Options {
		pq.Options = append(pq.Options, publicOption{ID: opt.ID, Text: opt.Text})
	}
	return pq
}

// JoinState is the full-state snapshot sent as game_joined, the resync path
// for fresh joins and reconnects alike.
type JoinState struct {
	AccessCode string                `json:"accessCode"`
	PlayMode   domain.PlayMode       `json:"playMode"`
	Status     domain.GameStatus     `json:"status"`
	Question   *publicQuestion       `json:"question,omitempty"`
	Timer      *domain.TimerSnapshot `json:"timer,omitempty"`
	You        domain.Participant    `json:"you"`
	Creator    string                `json:"creator"`
}

// Start moves the session from lobby to running: the lobby roster seeds the
// participant set, the lobby state is discarded, and in live mode the shared
// timer for the first question starts.
func (s *Session) Start(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID != s.creator {
		s.log.Warn("start rejected: not creator", zap.String("userId", userID))
		return domain.ErrUnauthorized
	}
	if s.status != domain.GameStatusLobby {
		s.log.Info("start ignored: not in lobby", zap.String("status", string(s.status)))
		return domain.ErrInvalidTransition
	}

	s.touchLocked()
	s.seedParticipantsLocked()
	s.status = domain.GameStatusRunning
	s.index = 0

	if s.mode == domain.PlayModeLive {
		s.startSharedTimerLocked(0)
	}

	s.publishQuestionLocked()
	return nil
}

// JoinGame admits a participant into a running session, or resyncs one that
// reconnected. In self-paced modes (practice, differed) the participant gets
// their own clock starting at their current question.
func (s *Session) JoinGame(userID, username, avatar string) (JoinState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case domain.GameStatusLobby:
		return JoinState{}, domain.ErrInvalidTransition
	case domain.GameStatusEnded:
		return JoinState{}, domain.ErrGameNotFound
	}
	s.touchLocked()

	p, ok := s.participants[userID]
	if !ok {
		ptype := domain.ParticipationLive
		if s.mode == domain.PlayModeDiffered {
			ptype = domain.ParticipationDeferred
		}
		if username == "" {
			username = userID
		}
		s.joinSeq++
		p = &participantState{
			Participant: domain.Participant{
				UserID:      userID,
				Username:    username,
				AvatarEmoji: avatar,
				Type:        ptype,
				JoinOrder:   s.joinSeq,
			},
			answers: make(map[string]*domain.AnswerRecord),
			timers:  make(map[string]*questionTimer),
		}
		s.participants[userID] = p

		if s.selfPaced() {
			s.startParticipantTimerLocked(p)
		}
	}

	return s.joinStateLocked(p), nil
}

func (s *Session) joinStateLocked(p *participantState) JoinState {
	state := JoinState{
		AccessCode: s.accessCode,
		PlayMode:   s.mode,
		Status:     s.status,
		You:        p.Participant,
		Creator:    s.creator,
	}

	idx := s.index
	if s.selfPaced() {
		idx = p.cursor
	}
	if idx >= 0 && idx < len(s.questions) {
		pq := s.publicQuestionLocked(idx)
		state.Question = &pq
		if t := s.timerForLocked(p, s.questions[idx].UID); t != nil {
			snap := t.snapshot(s.now())
			state.Timer = &snap
		}
	}
	return state
}

func (s *Session) selfPaced() bool {
	return s.mode == domain.PlayModePractice || s.mode == domain.PlayModeDiffered
}

// timerForLocked resolves the timer that governs a (participant, question)
// pair: the shared clock in live mode, the participant's own otherwise.
func (s *Session) timerForLocked(p *participantState, questionUID string) *questionTimer {
	if s.selfPaced() {
		return p.timers[questionUID]
	}
	return s.timers[questionUID]
}

func (s *Session) questionByUIDLocked(uid string) (int, *domain.Question) {
	for i := range s.questions {
		if s.questions[i].UID == uid {
			return i, &s.questions[i]
		}
	}
	return -1, nil
}

// startSharedTimerLocked opens the shared clock for the question at index i.
func (s *Session) startSharedTimerLocked(i int) {
	q := s.questions[i]
	t, ok := s.timers[q.UID]
	if !ok {
		t = newQuestionTimer(q.UID, q.DurationMs)
		s.timers[q.UID] = t
	}
	uid := q.UID
	if err := t.start(s.now(), 0, func() { s.expireQuestion(uid) }); err != nil {
		s.log.Warn("timer start ignored", zap.String("questionUid", uid), zap.Error(err))
	}
}

// startParticipantTimerLocked opens the participant's own clock for the
// question at their cursor. Practice mode measures elapsed time but never
// expires naturally.
func (s *Session) startParticipantTimerLocked(p *participantState) {
	if p.cursor < 0 || p.cursor >= len(s.questions) {
		return
	}
	q := s.questions[p.cursor]
	t, ok := p.timers[q.UID]
	if !ok {
		t = newQuestionTimer(q.UID, q.DurationMs)
		p.timers[q.UID] = t
	}
	var onExpire func()
	if s.mode == domain.PlayModeDiffered {
		uid, userID := q.UID, p.UserID
		onExpire = func() { s.expireParticipantQuestion(userID, uid) }
	}
	if err := t.start(s.now(), 0, onExpire); err != nil {
		s.log.Warn("participant timer start ignored",
			zap.String("userId", p.UserID), zap.String("questionUid", q.UID), zap.Error(err))
	}
}

// SubmitAnswer validates and scores a submission exactly once per
// (participant, question). Elapsed time comes from the session's own timer
// state; the client's clock is never trusted. A duplicate submission is an
// idempotent no-op returning the prior result.
func (s *Session) SubmitAnswer(userID, questionUID string, selected []string) (domain.ScoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if !ok {
		return domain.ScoreResult{}, domain.ErrParticipantNotFound
	}
	s.touchLocked()
	_, q := s.questionByUIDLocked(questionUID)
	if q == nil {
		return domain.ScoreResult{}, domain.ErrQuestionNotFound
	}

	if prior, answered := p.answers[questionUID]; answered {
		s.log.Info("duplicate answer ignored",
			zap.String("userId", userID), zap.String("questionUid", questionUID))
		return domain.ScoreResult{
			QuestionUID:     questionUID,
			Correct:         prior.Correct,
			Score:           prior.Score,
			TotalScore:      p.Score,
			ElapsedMs:       prior.ElapsedMs,
			AlreadyAnswered: true,
		}, nil
	}

	now := s.now()
	t := s.timerForLocked(p, questionUID)
	if err := s.checkActiveLocked(p, questionUID, t, now); err != nil {
		return domain.ScoreResult{}, err
	}

	if !validOptions(*q, selected) {
		return domain.ScoreResult{}, domain.ErrQuestionNotFound
	}

	elapsed := t.elapsedAt(now)
	correct := isCorrect(*q, selected)
	score := computeScore(s.scoring, correct, elapsed)

	record := &domain.AnswerRecord{
		QuestionUID: questionUID,
		Selected:    append([]string(nil), selected...),
		ElapsedMs:   elapsed,
		Correct:     correct,
		Score:       score,
		SubmittedAt: now,
	}
	p.answers[questionUID] = record
	p.Score += score

	lb := s.leaderboardLocked()

	s.hub.Publish(domain.RoomPlayers, domain.EventParticipantScoreUpdate, map[string]any{
		"userId": userID,
		"score":  p.Score,
		"rank":   p.Rank,
	})
	s.hub.PublishAll(domain.EventLeaderboardUpdate, lb, domain.RoomProjection, domain.RoomDashboard)

	if s.selfPaced() {
		s.advanceParticipantLocked(p, questionUID)
	}

	return domain.ScoreResult{
		QuestionUID: questionUID,
		Correct:     correct,
		Score:       score,
		TotalScore:  p.Score,
		ElapsedMs:   elapsed,
	}, nil
}

// checkActiveLocked decides whether a question is open for this participant.
// A late answer racing the natural expiry is settled by the computed
// remaining time, not by arrival order.
func (s *Session) checkActiveLocked(p *participantState, questionUID string, t *questionTimer, now time.Time) error {
	if s.status == domain.GameStatusEnded || s.status == domain.GameStatusStopped {
		return domain.ErrQuestionNotActive
	}

	if s.selfPaced() {
		if p.cursor >= len(s.questions) || s.questions[p.cursor].UID != questionUID {
			return domain.ErrQuestionNotActive
		}
		if s.mode == domain.PlayModeDiffered {
			if t == nil || t.status != domain.TimerStatusPlay || t.remainingAt(now) <= 0 {
				return domain.ErrQuestionNotActive
			}
		}
		return nil
	}

	if s.status != domain.GameStatusRunning {
		return domain.ErrQuestionNotActive
	}
	if s.index >= len(s.questions) || s.questions[s.index].UID != questionUID {
		return domain.ErrQuestionNotActive
	}
	if t == nil || t.status != domain.TimerStatusPlay || t.remainingAt(now) <= 0 {
		return domain.ErrQuestionNotActive
	}
	return nil
}

// advanceParticipantLocked moves a self-paced participant to their next
// question and opens its clock.
func (s *Session) advanceParticipantLocked(p *participantState, answeredUID string) {
	if t := p.timers[answeredUID]; t != nil && t.status != domain.TimerStatusStop {
		_ = t.stop(s.now())
	}
	p.cursor++
	if p.cursor < len(s.questions) {
		s.startParticipantTimerLocked(p)
	}
}

// RetryQuestion resets the participant's answer record for a question so it
// can be answered again. Only modes that explicitly allow retry accept it.
func (s *Session) RetryQuestion(userID, questionUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.scoring.AllowRetry {
		return domain.ErrInvalidTransition
	}
	p, ok := s.participants[userID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	s.touchLocked()
	record, ok := p.answers[questionUID]
	if !ok {
		return domain.ErrQuestionNotFound
	}

	p.Score -= record.Score
	delete(p.answers, questionUID)
	delete(p.timers, questionUID)

	if i, _ := s.questionByUIDLocked(questionUID); i >= 0 {
		p.cursor = i
		s.startParticipantTimerLocked(p)
	}
	s.leaderboardLocked()
	return nil
}

// Pause freezes the shared clock. Creator-only; anything else is logged and
// ignored without leaking whether the session exists.
func (s *Session) Pause(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID != s.creator {
		s.log.Warn("pause rejected: not creator", zap.String("userId", userID))
		return domain.ErrUnauthorized
	}
	if s.status != domain.GameStatusRunning || s.mode != domain.PlayModeLive {
		s.log.Info("pause ignored", zap.String("status", string(s.status)))
		return domain.ErrInvalidTransition
	}
	s.touchLocked()

	t := s.currentTimerLocked()
	if t == nil {
		return domain.ErrInvalidTransition
	}
	if err := t.pause(s.now()); err != nil {
		s.log.Info("timer pause ignored", zap.Error(err))
		return err
	}
	s.status = domain.GameStatusPaused
	s.publishTimerLocked(t)
	return nil
}

// Resume restarts the shared clock from its frozen remaining time.
func (s *Session) Resume(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID != s.creator {
		s.log.Warn("resume rejected: not creator", zap.String("userId", userID))
		return domain.ErrUnauthorized
	}
	if s.status != domain.GameStatusPaused {
		s.log.Info("resume ignored", zap.String("status", string(s.status)))
		return domain.ErrInvalidTransition
	}
	s.touchLocked()

	t := s.currentTimerLocked()
	if t == nil {
		return domain.ErrInvalidTransition
	}
	uid := t.questionUID
	if err := t.resume(s.now(), func() { s.expireQuestion(uid) }); err != nil {
		s.log.Info("timer resume ignored", zap.Error(err))
		return err
	}
	s.status = domain.GameStatusRunning
	s.publishTimerLocked(t)
	return nil
}

// NextQuestion closes the current question and opens the next. Past the last
// question the session stops and the final leaderboard goes out.
func (s *Session) NextQuestion(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID != s.creator {
		s.log.Warn("next question rejected: not creator", zap.String("userId", userID))
		return domain.ErrUnauthorized
	}
	if s.status != domain.GameStatusRunning && s.status != domain.GameStatusPaused {
		s.log.Info("next question ignored", zap.String("status", string(s.status)))
		return domain.ErrInvalidTransition
	}
	s.touchLocked()

	if t := s.currentTimerLocked(); t != nil && t.status != domain.TimerStatusStop {
		_ = t.stop(s.now())
	}

	if s.index+1 >= len(s.questions) {
		s.finishLocked()
		return nil
	}

	s.index++
	s.status = domain.GameStatusRunning
	if s.mode == domain.PlayModeLive {
		s.startSharedTimerLocked(s.index)
	}
	s.publishQuestionLocked()
	return nil
}

func (s *Session) currentTimerLocked() *questionTimer {
	if s.index < 0 || s.index >= len(s.questions) {
		return nil
	}
	return s.timers[s.questions[s.index].UID]
}

// finishLocked stops the session once every question has been played.
func (s *Session) finishLocked() {
	s.status = domain.GameStatusStopped
	lb := s.leaderboardLocked()
	s.hub.PublishAll(domain.EventGameEnded, map[string]any{
		"accessCode":  s.accessCode,
		"status":      s.status,
		"leaderboard": lb,
	}, domain.RoomPlayers, domain.RoomProjection, domain.RoomDashboard)
}

// expireQuestion fires when the shared clock runs out. The timer state is
// re-validated under the lock: a pause or forced stop that beat this
// callback wins.
func (s *Session) expireQuestion(questionUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.timers[questionUID]
	if t == nil || t.status != domain.TimerStatusPlay {
		return
	}
	if t.remainingAt(s.now()) > 0 {
		return
	}
	_ = t.stop(s.now())
	s.log.Info("question expired", zap.String("questionUid", questionUID))
	s.publishTimerLocked(t)
	stats := s.statsLocked(questionUID)
	s.hub.PublishAll(domain.EventProjectionShowStats, map[string]any{
		"questionUid": questionUID,
		"show":        true,
		"stats":       stats.Counts,
		"timestamp":   s.now().UnixMilli(),
	}, domain.RoomProjection, domain.RoomDashboard)
}

// expireParticipantQuestion is the differed-mode counterpart: only that
// player's clock stops, and their cursor moves on.
func (s *Session) expireParticipantQuestion(userID, questionUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if !ok {
		return
	}
	t := p.timers[questionUID]
	if t == nil || t.status != domain.TimerStatusPlay || t.remainingAt(s.now()) > 0 {
		return
	}
	_ = t.stop(s.now())
	if p.cursor < len(s.questions) && s.questions[p.cursor].UID == questionUID {
		p.cursor++
		if p.cursor < len(s.questions) {
			s.startParticipantTimerLocked(p)
		}
	}
}

// ShowStats aggregates per-option answer counts and pushes them to the
// projection view. Creator-only.
func (s *Session) ShowStats(userID, questionUID string, show bool) (domain.AnswerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if userID != s.creator {
		s.log.Warn("show stats rejected: not creator", zap.String("userId", userID))
		return domain.AnswerStats{}, domain.ErrUnauthorized
	}
	if questionUID == "" {
		if s.index < 0 || s.index >= len(s.questions) {
			return domain.AnswerStats{}, domain.ErrQuestionNotFound
		}
		questionUID = s.questions[s.index].UID
	} else if _, q := s.questionByUIDLocked(questionUID); q == nil {
		return domain.AnswerStats{}, domain.ErrQuestionNotFound
	}

	stats := s.statsLocked(questionUID)
	s.hub.Publish(domain.RoomProjection, domain.EventProjectionShowStats, map[string]any{
		"questionUid": questionUID,
		"show":        show,
		"stats":       stats.Counts,
		"timestamp":   s.now().UnixMilli(),
	})
	return stats, nil
}

// Leaderboard returns the current ranked scoreboard.
func (s *Session) Leaderboard() domain.Leaderboard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboardLocked()
}

// TimerState exposes the snapshot of the clock governing a question for the
// shared timer, primarily for persistence and resync.
func (s *Session) TimerState(questionUID string) (domain.TimerSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.timers[questionUID]
	if t == nil {
		return domain.TimerSnapshot{}, false
	}
	return t.snapshot(s.now()), true
}

// End terminates the session: all scheduled expiry checks are cancelled and
// a final game_ended frame goes out to every room.
func (s *Session) End() domain.Leaderboard {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == domain.GameStatusEnded {
		return s.leaderboardLocked()
	}
	s.touchLocked()

	for _, t := range s.timers {
		t.cancelExpiry()
	}
	for _, p := range s.participants {
		for _, t := range p.timers {
			t.cancelExpiry()
		}
	}

	s.status = domain.GameStatusEnded
	s.endedAt = s.now()

	lb := s.leaderboardLocked()
	s.hub.PublishAll(domain.EventGameEnded, map[string]any{
		"accessCode":  s.accessCode,
		"status":      s.status,
		"leaderboard": lb,
	}, domain.RoomPlayers, domain.RoomProjection, domain.RoomDashboard, domain.RoomLobby)
	return lb
}

// restoreSnapshot applies persisted lifecycle state to a freshly built
// session. Participants rejoin through the usual resync path; in live mode
// the current question reopens with a full allotment, frozen when the
// snapshot was taken mid-pause so a later resume picks it up.
func (s *Session) restoreSnapshot(snap domain.GameSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = snap.Status
	s.index = snap.CurrentIndex
	if s.index < 0 || s.index >= len(s.questions) {
		s.index = 0
	}
	s.touchLocked()
	if s.mode != domain.PlayModeLive {
		return
	}
	switch s.status {
	case domain.GameStatusRunning:
		s.startSharedTimerLocked(s.index)
	case domain.GameStatusPaused:
		q := s.questions[s.index]
		t := newQuestionTimer(q.UID, q.DurationMs)
		t.restorePaused(s.now(), q.DurationMs)
		s.timers[q.UID] = t
	}
}

// Ended reports whether the session reached its terminal state, and when.
func (s *Session) Ended() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt, s.status == domain.GameStatusEnded
}

// shutdown cancels pending expiry checks and drops every room listener.
// Called on eviction, which may hit a session that never reached End.
func (s *Session) shutdown() {
	s.mu.Lock()
	for _, t := range s.timers {
		t.cancelExpiry()
	}
	for _, p := range s.participants {
		for _, t := range p.timers {
			t.cancelExpiry()
		}
	}
	s.mu.Unlock()
	s.hub.closeAll()
}

// publishQuestionLocked announces the current question to all rooms, with a
// timer snapshot when a shared clock is running.
func (s *Session) publishQuestionLocked() {
	pq := s.publicQuestionLocked(s.index)
	s.hub.PublishAll(domain.EventQuestionChanged, pq,
		domain.RoomPlayers, domain.RoomProjection, domain.RoomDashboard)
	if t := s.currentTimerLocked(); t != nil {
		s.publishTimerLocked(t)
	}
}

func (s *Session) publishTimerLocked(t *questionTimer) {
	s.hub.PublishAll(domain.EventTimerUpdate, t.snapshot(s.now()),
		domain.RoomPlayers, domain.RoomProjection, domain.RoomDashboard)
}
