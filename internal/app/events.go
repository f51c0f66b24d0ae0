package app

import "fmt"

// Event names on the wire. These are shared with every client build, so the
// strings are frozen.
const (
	EventGameQuestion          = "game_question"
	EventGameTimerUpdated      = "game_timer_updated"
	EventDashboardTimerUpdated = "dashboard_timer_updated"
	EventCorrectAnswers        = "correct_answers"
	EventFeedback              = "feedback"
	EventGameEnded             = "game_ended"
	EventGameStarted           = "game_started"
	EventGameJoined            = "game_joined"
	EventAnswerReceived        = "answer_received"
	EventGameError             = "game_error"

	EventLeaderboardUpdate           = "leaderboard_update"
	EventProjectionLeaderboardUpdate = "projection_leaderboard_update"
	EventDashboardLeaderboardUpdate  = "dashboard_leaderboard_update"
)

// Room naming. Dashboard, projector and projection rooms key on the durable
// game id; the player room keys on the access code.
func GameRoom(accessCode string) string {
	return fmt.Sprintf("game_%s", accessCode)
}

func LobbyRoom(accessCode string) string {
	return fmt.Sprintf("lobby_%s", accessCode)
}

func DashboardRoom(gameID string) string {
	return fmt.Sprintf("dashboard_%s", gameID)
}

// ProjectorRoom receives the passive display feed: questions and timers.
func ProjectorRoom(gameID string) string {
	return fmt.Sprintf("projector_%s", gameID)
}

// ProjectionRoom receives leaderboard-specific broadcasts only.
func ProjectionRoom(gameID string) string {
	return fmt.Sprintf("projection_%s", gameID)
}

// DeferredRoom is private to one user's replay of one session.
func DeferredRoom(accessCode, userID string) string {
	return fmt.Sprintf("deferred_%s_%s", accessCode, userID)
}

// ErrorPayload is the uniform shape of every game_error emission.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
