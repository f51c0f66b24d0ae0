package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"mathquest-live-service/internal/domain"
)

// pausePollInterval is how often a waiting flow re-checks a paused clock.
const pausePollInterval = 500 * time.Millisecond

// RunLiveFlow drives a server-paced tournament from first question to
// game_ended. Each question runs through the same cycle: present, wait for
// the clock, lock answers, score, reveal, feedback. The standings are only
// ever broadcast after a question's timer has fully elapsed.
func (c *Controller) RunLiveFlow(ctx context.Context, accessCode string) error {
	game, err := c.games.GetByAccessCode(ctx, accessCode)
	if err != nil {
		return err
	}

	err = c.withState(ctx, accessCode, game, func(s *domain.GameState) error {
		s.Status = domain.GameStatusActive
		return nil
	})
	if err != nil {
		return err
	}

	c.bus.Emit(LobbyRoom(accessCode), EventGameStarted, map[string]any{
		"accessCode": accessCode,
		"gameId":     game.ID,
	})
	log.Info().Str("accessCode", accessCode).Int("questions", len(game.Questions)).
		Msg("live flow starting")

	for i, question := range game.Questions {
		if err := c.runLiveQuestion(ctx, game, accessCode, i, question); err != nil {
			return fmt.Errorf("question %s: %w", question.UID, err)
		}
	}

	return c.finishLiveSession(ctx, game, accessCode)
}

func (c *Controller) runLiveQuestion(ctx context.Context, game domain.GameInstance, accessCode string, index int, question domain.Question) error {
	if err := c.timers.Reset(ctx, accessCode, question.UID, game.PlayMode, false, ""); err != nil {
		return err
	}

	var state *domain.GameState
	err := c.withState(ctx, accessCode, game, func(s *domain.GameState) error {
		s.CurrentQuestionIndex = index
		s.AnswersLocked = false
		if len(s.QuestionUIDs) == 0 {
			for _, q := range game.Questions {
				s.QuestionUIDs = append(s.QuestionUIDs, q.UID)
			}
		}
		state = s
		return nil
	})
	if err != nil {
		return err
	}

	duration := c.questionDuration(state, question)
	timer, err := c.timers.Start(ctx, accessCode, question.UID, game.PlayMode, false, "", duration)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"question":       question.ForClient(),
		"questionIndex":  index,
		"totalQuestions": len(game.Questions),
	}
	if timer != nil {
		payload["timer"] = timer
	}
	c.bus.Emit(GameRoom(accessCode), EventGameQuestion, payload)
	c.bus.Emit(ProjectorRoom(game.ID), EventGameQuestion, payload)
	c.bus.Emit(DashboardRoom(game.ID), EventGameQuestion, payload)

	if err := c.waitForTimer(ctx, accessCode, question.UID, game.PlayMode, false, "", duration, nil); err != nil {
		return err
	}

	err = c.withState(ctx, accessCode, game, func(s *domain.GameState) error {
		s.AnswersLocked = true
		return nil
	})
	if err != nil {
		return err
	}
	if _, err := c.timers.Stop(ctx, accessCode, question.UID, game.PlayMode, false, ""); err != nil {
		return err
	}

	if err := c.scoreQuestion(ctx, accessCode, question); err != nil {
		return err
	}
	if err := c.broadcastLeaderboard(ctx, game, accessCode); err != nil {
		log.Warn().Err(err).Str("accessCode", accessCode).Msg("leaderboard broadcast failed")
	}

	c.bus.Emit(GameRoom(accessCode), EventCorrectAnswers, map[string]any{
		"questionUid":    question.UID,
		"correctAnswers": question.CorrectAnswers,
	})
	if err := c.sleep(ctx, time.Duration(c.cfg.CorrectAnswersWaitMs)*time.Millisecond); err != nil {
		return err
	}

	if question.Explanation != "" {
		wait := time.Duration(c.cfg.FeedbackWaitMs) * time.Millisecond
		if question.FeedbackWaitSec > 0 {
			wait = time.Duration(question.FeedbackWaitSec * float64(time.Second))
		}
		c.bus.Emit(GameRoom(accessCode), EventFeedback, map[string]any{
			"questionUid": question.UID,
			"explanation": question.Explanation,
		})
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) finishLiveSession(ctx context.Context, game domain.GameInstance, accessCode string) error {
	err := c.withState(ctx, accessCode, game, func(s *domain.GameState) error {
		s.Status = domain.GameStatusCompleted
		s.AnswersLocked = true
		return nil
	})
	if err != nil {
		return err
	}

	entries, err := c.leaderboard.Calculate(ctx, accessCode)
	if err != nil {
		return err
	}
	c.bus.Emit(GameRoom(accessCode), EventGameEnded, map[string]any{
		"accessCode":  accessCode,
		"leaderboard": entries,
	})
	log.Info().Str("accessCode", accessCode).Msg("live flow finished")
	return nil
}

// EndSession tears down a finished session's shared-store footprint. It is
// invoked explicitly (host action or retention sweep), never implicitly at
// game_ended, so deferred replays keep their durable inputs.
func (c *Controller) EndSession(ctx context.Context, accessCode string) error {
	if err := c.cleaner.CleanupSession(ctx, accessCode); err != nil {
		return err
	}
	return nil
}

// waitForTimer blocks until the question's clock has fully elapsed or been
// stopped. Every wake re-reads the stored clock before trusting its own
// schedule: a pause, set_duration or stop issued while sleeping invalidates
// the deadline the wait was armed with. The optional done channel short-
// circuits the wait (a deferred player finishing early).
func (c *Controller) waitForTimer(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string, durationMs int64, done <-chan struct{}) error {
	for {
		snap, err := c.timers.Snapshot(ctx, accessCode, questionUID, mode, deferred, userID, durationMs)
		if err != nil {
			return err
		}
		if snap == nil || snap.Status == domain.TimerStatusStop {
			return nil
		}

		var wait time.Duration
		switch snap.Status {
		case domain.TimerStatusRun:
			if snap.TimeLeftMs <= 0 {
				return nil
			}
			wait = time.Duration(snap.TimeLeftMs) * time.Millisecond
		case domain.TimerStatusPause:
			wait = pausePollInterval
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		case <-c.clock.After(wait):
		}
	}
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}
