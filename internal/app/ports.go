package app

import (
	"context"

	"mathquest-live-service/internal/domain"
)

// GameRepository loads the durable game record (from cache/backing store).
type GameRepository interface {
	GetByAccessCode(ctx context.Context, accessCode string) (domain.GameInstance, error)
}

// StateStore is the authoritative snapshot of a session's progress.
type StateStore interface {
	Get(ctx context.Context, accessCode string) (*domain.GameState, error)
	Set(ctx context.Context, accessCode string, state *domain.GameState) error
	Initialize(ctx context.Context, game domain.GameInstance) (*domain.GameState, error)
	Delete(ctx context.Context, accessCode string) error
}

// TimerEngine drives the pausable countdown clock for each question.
type TimerEngine interface {
	Start(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string, durationMs int64) (*domain.TimerState, error)
	Pause(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string) (*domain.TimerState, error)
	Stop(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string) (*domain.TimerState, error)
	Reset(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string) error
	ElapsedMs(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string) (int64, error)
	EditDuration(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string, durationMs int64) (*domain.TimerState, error)
	Snapshot(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string, durationMs int64) (*domain.TimerSnapshot, error)
}

// Leaderboard aggregates scores and participant metadata.
type Leaderboard interface {
	UpsertParticipant(ctx context.Context, accessCode string, p domain.Participant) error
	Participant(ctx context.Context, accessCode, userID string) (domain.Participant, bool, error)
	AssignJoinOrderBonus(ctx context.Context, accessCode, userID string) (float64, error)
	AddScore(ctx context.Context, accessCode, userID string, points float64) error
	Calculate(ctx context.Context, accessCode string) ([]domain.LeaderboardEntry, error)
}

// AnswerLog records and replays per-question answers.
type AnswerLog interface {
	Record(ctx context.Context, accessCode string, rec domain.AnswerRecord) error
	ForQuestion(ctx context.Context, accessCode, questionUID string) ([]domain.AnswerRecord, error)
}

// AttemptMarkers persists deferred per-attempt session markers.
type AttemptMarkers interface {
	NextAttempt(ctx context.Context, accessCode, userID string) (int, error)
	MarkAttempt(ctx context.Context, accessCode, userID string, attempt int) error
	MarkExplanationSent(ctx context.Context, accessCode, userID string, attempt int) error
}

// Rooms tracks shared-store room membership and the per-session
// connection/user identity maps.
type Rooms interface {
	Join(ctx context.Context, room string, member domain.RoomMember) error
	Leave(ctx context.Context, room, connID string) error
	LeaveAll(ctx context.Context, connID string, rooms []string) error
	Members(ctx context.Context, room string) ([]domain.RoomMember, error)
	Count(ctx context.Context, room string) (int, error)
	BindIdentity(ctx context.Context, accessCode, connID, userID string) error
	UnbindIdentity(ctx context.Context, accessCode, connID string) error
}

// Cleaner reclaims ephemeral keys when sessions or attempts end.
type Cleaner interface {
	CleanupSession(ctx context.Context, accessCode string) error
	CleanupDeferredAttempt(ctx context.Context, accessCode, userID string, attempt int) error
}

// Broadcaster fans events out to a named room of connections. The transport
// owns delivery; no ordering is guaranteed between recipients.
type Broadcaster interface {
	Emit(room, event string, payload any)
	EmitExcept(room, exceptConnID, event string, payload any)
}
