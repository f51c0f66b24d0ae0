package domain

// PlayMode distinguishes how a game session is driven.
type PlayMode string

const (
	// PlayModeQuiz is a teacher-paced live session.
	PlayModeQuiz PlayMode = "quiz"
	// PlayModeTournament is a server-paced live session that can later be
	// replayed in deferred mode.
	PlayModeTournament PlayMode = "tournament"
	// PlayModePractice is self-paced and has no timer at all.
	PlayModePractice PlayMode = "practice"
)

// TimerStatus uses the wire values shared with every connected client.
type TimerStatus string

const (
	TimerStatusRun   TimerStatus = "run"
	TimerStatusPause TimerStatus = "pause"
	TimerStatusStop  TimerStatus = "stop"
)

// TimerState is the persisted form of one question's countdown clock.
// Remaining time is always derivable as
// durationMs - totalPlayTimeMs - (now - lastStateChange, if running).
type TimerState struct {
	QuestionUID     string      `json:"questionUid"`
	Status          TimerStatus `json:"status"`
	StartedAt       int64       `json:"startedAt"`
	TotalPlayTimeMs int64       `json:"totalPlayTimeMs"`
	LastStateChange int64       `json:"lastStateChange"`
	DurationMs      int64       `json:"durationMs"`
	// TimeLeftMs is only meaningful while paused.
	TimeLeftMs int64 `json:"timeLeftMs,omitempty"`
	// TimerEndDateMs is only meaningful while running.
	TimerEndDateMs int64 `json:"timerEndDateMs,omitempty"`
}

// TimerSnapshot is the derived view broadcast to rooms. It is computed from
// TimerState at emission time and never stored.
type TimerSnapshot struct {
	Status         TimerStatus `json:"status"`
	QuestionUID    string      `json:"questionUid"`
	TimeLeftMs     int64       `json:"timeLeftMs"`
	DurationMs     int64       `json:"durationMs"`
	TimerEndDateMs int64       `json:"timerEndDateMs"`
	Timestamp      int64       `json:"timestamp"`
}

// GameStatus tracks where a session is in its lifecycle.
type GameStatus string

const (
	GameStatusPending   GameStatus = "pending"
	GameStatusActive    GameStatus = "active"
	GameStatusPaused    GameStatus = "paused"
	GameStatusCompleted GameStatus = "completed"
)

// GameState is the authoritative ephemeral snapshot of one session, stored
// as a single record in the shared store. Writers must read-modify-write the
// whole record; Version makes the single-owner discipline enforceable.
type GameState struct {
	GameID               string            `json:"gameId"`
	AccessCode           string            `json:"accessCode"`
	Status               GameStatus        `json:"status"`
	CurrentQuestionIndex int               `json:"currentQuestionIndex"`
	QuestionUIDs         []string          `json:"questionUids"`
	AnswersLocked        bool              `json:"answersLocked"`
	PlayMode             PlayMode          `json:"playMode"`
	// QuestionDurationsMs records per-question duration overrides issued by
	// the host, keyed by question UID.
	QuestionDurationsMs map[string]int64 `json:"questionDurationsMs,omitempty"`
	// Timer mirrors the engine state for display convenience only; the
	// timer keys remain authoritative.
	Timer            TimerSnapshot `json:"timer"`
	ParticipantCount int           `json:"participantCount"`
	Version          int64         `json:"version"`
}

// CurrentQuestionUID returns the UID at the active pointer, or "" when the
// pointer is out of range.
func (s *GameState) CurrentQuestionUID() string {
	if s.CurrentQuestionIndex < 0 || s.CurrentQuestionIndex >= len(s.QuestionUIDs) {
		return ""
	}
	return s.QuestionUIDs[s.CurrentQuestionIndex]
}

// Question is one entry of a session's ordered question list. The list is
// read-only as far as this service is concerned.
type Question struct {
	UID             string   `json:"uid"`
	Text            string   `json:"text"`
	Answers         []string `json:"answers"`
	CorrectAnswers  []bool   `json:"correctAnswers"`
	TimeLimitSec    int      `json:"timeLimit"`
	Explanation     string   `json:"explanation,omitempty"`
	FeedbackWaitSec float64  `json:"feedbackWaitTime,omitempty"`
}

// DurationMs returns the question's countdown duration, falling back to the
// given default when the question carries no limit.
func (q Question) DurationMs(fallback int64) int64 {
	if q.TimeLimitSec > 0 {
		return int64(q.TimeLimitSec) * 1000
	}
	return fallback
}

// ClientQuestion is the question shape sent to players: correctness and
// explanation stripped so they cannot leak before the reveal.
type ClientQuestion struct {
	UID          string   `json:"uid"`
	Text         string   `json:"text"`
	Answers      []string `json:"answers"`
	TimeLimitSec int      `json:"timeLimit"`
}

// ForClient strips the fields a player must not see while answering.
func (q Question) ForClient() ClientQuestion {
	return ClientQuestion{
		UID:          q.UID,
		Text:         q.Text,
		Answers:      q.Answers,
		TimeLimitSec: q.TimeLimitSec,
	}
}

// GameInstance is the durable session record, consumed read-only from the
// relational store.
type GameInstance struct {
	ID              string     `json:"id"`
	AccessCode      string     `json:"accessCode"`
	PlayMode        PlayMode   `json:"playMode"`
	Status          GameStatus `json:"status"`
	InitiatorUserID string     `json:"initiatorUserId"`
	Questions       []Question `json:"questions"`
}

// QuestionByUID returns the question with the given UID, if present.
func (g GameInstance) QuestionByUID(uid string) (Question, bool) {
	for _, q := range g.Questions {
		if q.UID == uid {
			return q, true
		}
	}
	return Question{}, false
}

// Participant is the per-user record kept in the session's participant hash.
type Participant struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	AvatarEmoji string `json:"avatarEmoji,omitempty"`
	// Deferred marks a late joiner replaying on a private clock.
	Deferred bool `json:"deferred,omitempty"`
	// LifetimeAttempts counts every replay this user ever started, across
	// bookkeeping this service does not own. It is never used to derive the
	// current session attempt number.
	LifetimeAttempts int   `json:"lifetimeAttempts,omitempty"`
	JoinedAt         int64 `json:"joinedAt"`
}

// LeaderboardEntry is one row of a ranked standings snapshot. Scores are
// floats because the join-order bonus is fractional.
type LeaderboardEntry struct {
	UserID        string  `json:"userId"`
	Username      string  `json:"username"`
	AvatarEmoji   string  `json:"avatarEmoji,omitempty"`
	Score         float64 `json:"score"`
	Rank          int     `json:"rank"`
	Participation string  `json:"participation"` // "live" or "deferred"
	AttemptCount  int     `json:"attemptCount,omitempty"`
}

// AnswerRecord is the persisted form of one user's answer to one question.
type AnswerRecord struct {
	UserID      string `json:"userId"`
	QuestionUID string `json:"questionUid"`
	Answer      int    `json:"answer"`
	SubmittedAt int64  `json:"submittedAt"`
}

// RoomMember describes one connection's membership in a broadcast room.
type RoomMember struct {
	ConnID   string            `json:"connId"`
	UserID   string            `json:"userId"`
	Role     string            `json:"role"`
	JoinedAt int64             `json:"joinedAt"`
	Extra    map[string]string `json:"extra,omitempty"`
}
