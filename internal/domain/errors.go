package domain

import "errors"

var (
	// ErrGameNotFound is returned when no session exists for an access code.
	ErrGameNotFound = errors.New("game not found")
	// ErrNotAuthorized is returned for host actions on a session the caller
	// does not own. No state is mutated.
	ErrNotAuthorized = errors.New("not authorized to control this game")
	// ErrInvalidAction is returned for malformed action payloads, before any
	// store access.
	ErrInvalidAction = errors.New("invalid action payload")
	// ErrStateConflict is returned when a game state write lost a race with a
	// concurrent writer.
	ErrStateConflict = errors.New("game state version conflict")
	// ErrAnswersLocked is returned when an answer arrives after the lock.
	ErrAnswersLocked = errors.New("answers are locked")
	// ErrReplayRunning is returned when a user already has a deferred replay
	// in progress.
	ErrReplayRunning = errors.New("deferred replay already running")
)

// ErrorCode maps a rejection to the stable code surfaced to the host
// console. Unknown errors map to STATE_ERROR.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrGameNotFound):
		return "GAME_NOT_FOUND"
	case errors.Is(err, ErrNotAuthorized):
		return "NOT_AUTHORIZED"
	case errors.Is(err, ErrInvalidAction):
		return "VALIDATION_ERROR"
	default:
		return "STATE_ERROR"
	}
}
