package domain

import "errors"

var (
	// ErrGameNotFound is returned when no session exists for an access code.
	ErrGameNotFound = errors.New("game not found")
	// ErrDuplicateAccessCode is returned when creating a session whose access code is taken.
	ErrDuplicateAccessCode = errors.New("access code already in use")
	// ErrParticipantNotFound is returned when a user acts before joining the game.
	ErrParticipantNotFound = errors.New("participant not found in game")
	// ErrQuestionNotFound indicates a submitted question UID is not part of the game.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrQuestionNotActive indicates the question is not currently open for answers.
	ErrQuestionNotActive = errors.New("question not active")
	// ErrUnauthorized indicates a control action from someone other than the
	// creator. It is logged and swallowed, never surfaced to the actor.
	ErrUnauthorized = errors.New("not the game creator")
	// ErrInvalidTransition indicates an impossible timer or status transition.
	// Logged, no-op, never fatal.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidConfig aborts session creation on a malformed configuration.
	ErrInvalidConfig = errors.New("invalid game configuration")
	// ErrTemplateNotFound indicates the quiz template could not be loaded.
	ErrTemplateNotFound = errors.New("quiz template not found")
)
