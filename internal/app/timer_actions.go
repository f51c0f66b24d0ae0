package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"mathquest-live-service/internal/domain"
)

// HandleTimerAction applies a host timer action to the active (or targeted)
// question and broadcasts the resulting clock to the dashboard, player and
// projection rooms. Only the session initiator may drive the timer; a
// rejected caller mutates nothing.
func (c *Controller) HandleTimerAction(ctx context.Context, userID string, action domain.TimerAction) (*domain.TimerSnapshot, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}

	game, err := c.games.GetByAccessCode(ctx, action.AccessCode)
	if err != nil {
		return nil, err
	}
	if game.InitiatorUserID != userID {
		return nil, fmt.Errorf("user %s cannot control timer for %s: %w", userID, action.AccessCode, domain.ErrNotAuthorized)
	}

	state, err := c.states.Get(ctx, action.AccessCode)
	if errors.Is(err, domain.ErrGameNotFound) {
		state, err = c.states.Initialize(ctx, game)
	}
	if err != nil {
		return nil, err
	}

	questionUID := action.QuestionUID
	if questionUID == "" {
		questionUID = state.CurrentQuestionUID()
	}
	if questionUID == "" {
		return nil, fmt.Errorf("no active question in %s: %w", action.AccessCode, domain.ErrInvalidAction)
	}
	question, ok := game.QuestionByUID(questionUID)
	if !ok {
		return nil, fmt.Errorf("question %s not in game %s: %w", questionUID, action.AccessCode, domain.ErrInvalidAction)
	}
	duration := c.questionDuration(state, question)

	switch action.Kind {
	case domain.TimerActionStart:
		if action.DurationMs > 0 {
			duration = action.DurationMs
		}
		_, err = c.timers.Start(ctx, action.AccessCode, questionUID, game.PlayMode, false, "", duration)
	case domain.TimerActionPause:
		_, err = c.timers.Pause(ctx, action.AccessCode, questionUID, game.PlayMode, false, "")
	case domain.TimerActionResume:
		// Resume is start-on-paused; the engine resumes a paused clock and
		// starts a fresh one otherwise.
		_, err = c.timers.Start(ctx, action.AccessCode, questionUID, game.PlayMode, false, "", duration)
	case domain.TimerActionStop:
		_, err = c.timers.Stop(ctx, action.AccessCode, questionUID, game.PlayMode, false, "")
	case domain.TimerActionSetDuration:
		duration = action.DurationMs
		_, err = c.timers.EditDuration(ctx, action.AccessCode, questionUID, game.PlayMode, false, "", duration)
	}
	if err != nil {
		return nil, err
	}

	snap, err := c.timers.Snapshot(ctx, action.AccessCode, questionUID, game.PlayMode, false, "", duration)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		// Practice sessions carry no clock; nothing to persist or emit.
		return nil, nil
	}

	err = c.withState(ctx, action.AccessCode, game, func(s *domain.GameState) error {
		s.Timer = *snap
		if action.Kind == domain.TimerActionSetDuration {
			if s.QuestionDurationsMs == nil {
				s.QuestionDurationsMs = make(map[string]int64)
			}
			s.QuestionDurationsMs[questionUID] = duration
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("accessCode", action.AccessCode).Str("questionUid", questionUID).
		Str("action", string(action.Kind)).Str("status", string(snap.Status)).
		Int64("timeLeftMs", snap.TimeLeftMs).Msg("timer action applied")

	c.broadcastTimer(game, action.AccessCode, snap)
	return snap, nil
}

// broadcastTimer emits the same derived clock to all three audiences.
func (c *Controller) broadcastTimer(game domain.GameInstance, accessCode string, snap *domain.TimerSnapshot) {
	c.bus.Emit(DashboardRoom(game.ID), EventDashboardTimerUpdated, snap)
	c.bus.Emit(GameRoom(accessCode), EventGameTimerUpdated, snap)
	c.bus.Emit(ProjectorRoom(game.ID), EventGameTimerUpdated, snap)
}
