package domain

import "fmt"

// TimerActionKind enumerates the host-issued timer actions.
type TimerActionKind string

const (
	TimerActionStart       TimerActionKind = "start"
	TimerActionPause       TimerActionKind = "pause"
	TimerActionResume      TimerActionKind = "resume"
	TimerActionStop        TimerActionKind = "stop"
	TimerActionSetDuration TimerActionKind = "set_duration"
)

// TimerAction is the tagged variant carried by the host's timer events.
// Only the fields relevant to its kind are consulted.
type TimerAction struct {
	Kind       TimerActionKind `json:"action"`
	AccessCode string          `json:"accessCode"`
	// QuestionUID optionally targets a question other than the active one.
	QuestionUID string `json:"questionUid,omitempty"`
	// DurationMs is honoured by start and set_duration when positive.
	DurationMs int64 `json:"durationMs,omitempty"`
}

// Validate rejects malformed actions before any store access.
func (a TimerAction) Validate() error {
	if a.AccessCode == "" {
		return fmt.Errorf("%w: missing access code", ErrInvalidAction)
	}
	switch a.Kind {
	case TimerActionStart, TimerActionPause, TimerActionResume, TimerActionStop:
	case TimerActionSetDuration:
		if a.DurationMs <= 0 {
			return fmt.Errorf("%w: set_duration requires a positive duration", ErrInvalidAction)
		}
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidAction, a.Kind)
	}
	return nil
}
