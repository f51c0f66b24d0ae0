package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"mathquest-live-service/internal/domain"
)

// Config carries the session tuning knobs the flows run with.
type Config struct {
	// DefaultQuestionDurationMs applies when a question carries no time limit.
	DefaultQuestionDurationMs int64
	// CorrectAnswersWaitMs is how long the reveal stays on screen before
	// feedback (or the next question) in server-paced flows.
	CorrectAnswersWaitMs int64
	// FeedbackWaitMs is the default feedback display time when the question
	// does not set its own.
	FeedbackWaitMs int64
	// PointsPerQuestion is the credit for one correct answer.
	PointsPerQuestion float64
	// StateRetries bounds optimistic-write retries on the game state record.
	StateRetries int
}

func (c Config) withDefaults() Config {
	if c.DefaultQuestionDurationMs <= 0 {
		c.DefaultQuestionDurationMs = 30000
	}
	if c.CorrectAnswersWaitMs <= 0 {
		c.CorrectAnswersWaitMs = 1500
	}
	if c.FeedbackWaitMs <= 0 {
		c.FeedbackWaitMs = 5000
	}
	if c.PointsPerQuestion <= 0 {
		c.PointsPerQuestion = 1000
	}
	if c.StateRetries <= 0 {
		c.StateRetries = 5
	}
	return c
}

// Controller orchestrates live sessions: joins, answers, host timer actions
// and the server-paced flows. All shared state lives behind the store ports;
// the controller itself holds nothing a second instance could not rebuild.
type Controller struct {
	games       GameRepository
	states      StateStore
	timers      TimerEngine
	leaderboard Leaderboard
	answers     AnswerLog
	markers     AttemptMarkers
	rooms       Rooms
	cleaner     Cleaner
	bus         Broadcaster
	clock       clockwork.Clock
	cfg         Config

	deferred *deferredGuard
}

func NewController(
	games GameRepository,
	states StateStore,
	timers TimerEngine,
	leaderboard Leaderboard,
	answers AnswerLog,
	markers AttemptMarkers,
	rooms Rooms,
	cleaner Cleaner,
	bus Broadcaster,
	clock clockwork.Clock,
	cfg Config,
) *Controller {
	return &Controller{
		games:       games,
		states:      states,
		timers:      timers,
		leaderboard: leaderboard,
		answers:     answers,
		markers:     markers,
		rooms:       rooms,
		cleaner:     cleaner,
		bus:         bus,
		clock:       clock,
		cfg:         cfg.withDefaults(),
		deferred:    newDeferredGuard(),
	}
}

// Game exposes the durable record, for transports that route on game id.
func (c *Controller) Game(ctx context.Context, accessCode string) (domain.GameInstance, error) {
	return c.games.GetByAccessCode(ctx, accessCode)
}

// JoinRequest is one player's request to enter a session.
type JoinRequest struct {
	AccessCode  string
	UserID      string
	Username    string
	AvatarEmoji string
	ConnID      string
}

// JoinResult is what the joining connection gets back. Lobby is set when the
// session has not started yet and the player should also watch the lobby room.
type JoinResult struct {
	Game     domain.GameInstance
	State    *domain.GameState
	Bonus    float64
	Deferred bool
	Room     string
	Lobby    string
}

// JoinGame registers a player in a session: roster upsert, join-order bonus,
// room membership and a participant-count bump on the shared state. Joining
// a completed tournament routes the player to a deferred replay instead.
func (c *Controller) JoinGame(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	game, err := c.games.GetByAccessCode(ctx, req.AccessCode)
	if err != nil {
		return nil, err
	}

	deferred := game.PlayMode == domain.PlayModeTournament && game.Status == domain.GameStatusCompleted

	participant := domain.Participant{
		UserID:      req.UserID,
		Username:    req.Username,
		AvatarEmoji: req.AvatarEmoji,
		Deferred:    deferred,
		JoinedAt:    c.clock.Now().UnixMilli(),
	}
	if prev, ok, err := c.leaderboard.Participant(ctx, req.AccessCode, req.UserID); err != nil {
		return nil, err
	} else if ok {
		// Rejoin keeps the original arrival time and attempt bookkeeping.
		participant.JoinedAt = prev.JoinedAt
		participant.LifetimeAttempts = prev.LifetimeAttempts
	}
	if err := c.leaderboard.UpsertParticipant(ctx, req.AccessCode, participant); err != nil {
		return nil, err
	}

	var bonus float64
	if !deferred {
		if bonus, err = c.leaderboard.AssignJoinOrderBonus(ctx, req.AccessCode, req.UserID); err != nil {
			return nil, err
		}
	}

	room := GameRoom(req.AccessCode)
	if deferred {
		room = DeferredRoom(req.AccessCode, req.UserID)
	}
	if err := c.rooms.Join(ctx, room, domain.RoomMember{
		ConnID: req.ConnID,
		UserID: req.UserID,
		Role:   "player",
	}); err != nil {
		return nil, err
	}
	if err := c.rooms.BindIdentity(ctx, req.AccessCode, req.ConnID, req.UserID); err != nil {
		return nil, err
	}

	// Players arriving before the host starts the session wait in the lobby
	// room; game_started is announced there when the flow begins.
	var lobby string
	if !deferred && game.Status == domain.GameStatusPending {
		lobby = LobbyRoom(req.AccessCode)
		if err := c.rooms.Join(ctx, lobby, domain.RoomMember{
			ConnID: req.ConnID,
			UserID: req.UserID,
			Role:   "player",
		}); err != nil {
			return nil, err
		}
	}

	state, err := c.bumpParticipantCount(ctx, req.AccessCode, game)
	if err != nil {
		return nil, err
	}

	log.Info().Str("accessCode", req.AccessCode).Str("userId", req.UserID).
		Bool("deferred", deferred).Float64("bonus", bonus).Msg("player joined")

	// The joining connection is acknowledged directly by the transport; the
	// room broadcast is for everyone already there.
	c.bus.EmitExcept(room, req.ConnID, EventGameJoined, map[string]any{
		"accessCode": req.AccessCode,
		"userId":     req.UserID,
		"username":   req.Username,
	})
	return &JoinResult{Game: game, State: state, Bonus: bonus, Deferred: deferred, Room: room, Lobby: lobby}, nil
}

// bumpParticipantCount rewrites the shared state with a refreshed roster
// count, retrying on concurrent-writer conflicts.
func (c *Controller) bumpParticipantCount(ctx context.Context, accessCode string, game domain.GameInstance) (*domain.GameState, error) {
	count, err := c.rooms.Count(ctx, GameRoom(accessCode))
	if err != nil {
		return nil, err
	}
	var state *domain.GameState
	err = c.withState(ctx, accessCode, game, func(s *domain.GameState) error {
		s.ParticipantCount = count
		state = s
		return nil
	})
	return state, err
}

// withState runs one read-modify-write cycle on the session state, retrying
// the whole cycle when another writer got there first.
func (c *Controller) withState(ctx context.Context, accessCode string, game domain.GameInstance, mutate func(*domain.GameState) error) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.StateRetries; attempt++ {
		state, err := c.states.Get(ctx, accessCode)
		if errors.Is(err, domain.ErrGameNotFound) {
			state, err = c.states.Initialize(ctx, game)
		}
		if err != nil {
			return err
		}
		if err := mutate(state); err != nil {
			return err
		}
		if err := c.states.Set(ctx, accessCode, state); err != nil {
			if errors.Is(err, domain.ErrStateConflict) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("state write for %s kept conflicting: %w", accessCode, lastErr)
}

// AnswerRequest is one player's submission for the active question.
type AnswerRequest struct {
	AccessCode  string
	UserID      string
	QuestionUID string
	Answer      int
}

// SubmitAnswer records a player's answer. Submissions never touch the score
// directly; scoring happens in one pass when the question's timer elapses.
func (c *Controller) SubmitAnswer(ctx context.Context, req AnswerRequest) error {
	state, err := c.states.Get(ctx, req.AccessCode)
	if err != nil {
		return err
	}
	if state.AnswersLocked {
		return fmt.Errorf("answers for %s: %w", req.AccessCode, domain.ErrAnswersLocked)
	}
	if uid := state.CurrentQuestionUID(); uid != "" && uid != req.QuestionUID {
		return fmt.Errorf("question %s is not active: %w", req.QuestionUID, domain.ErrInvalidAction)
	}

	if err := c.answers.Record(ctx, req.AccessCode, domain.AnswerRecord{
		UserID:      req.UserID,
		QuestionUID: req.QuestionUID,
		Answer:      req.Answer,
	}); err != nil {
		return err
	}
	log.Debug().Str("accessCode", req.AccessCode).Str("userId", req.UserID).
		Str("questionUid", req.QuestionUID).Msg("answer recorded")
	return nil
}

// scoreQuestion replays every recorded answer against the question's
// correctness mask and credits points in one pass.
func (c *Controller) scoreQuestion(ctx context.Context, accessCode string, q domain.Question) error {
	records, err := c.answers.ForQuestion(ctx, accessCode, q.UID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Answer < 0 || rec.Answer >= len(q.CorrectAnswers) {
			continue
		}
		if !q.CorrectAnswers[rec.Answer] {
			continue
		}
		if err := c.leaderboard.AddScore(ctx, accessCode, rec.UserID, c.cfg.PointsPerQuestion); err != nil {
			return err
		}
	}
	return nil
}

// questionDuration resolves the effective countdown for one question: host
// override first, then the question's own limit, then the default.
func (c *Controller) questionDuration(state *domain.GameState, q domain.Question) int64 {
	if state != nil {
		if override, ok := state.QuestionDurationsMs[q.UID]; ok && override > 0 {
			return override
		}
	}
	return q.DurationMs(c.cfg.DefaultQuestionDurationMs)
}
