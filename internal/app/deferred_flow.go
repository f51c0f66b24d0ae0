package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mathquest-live-service/internal/domain"
)

// deferredGuard serialises replays per (session, user). A user may replay a
// tournament any number of times, but never two attempts concurrently.
type deferredGuard struct {
	mu      sync.Mutex
	running map[string]*deferredSession
}

// deferredSession is the in-process handle for one running replay.
type deferredSession struct {
	answered chan struct{}
}

func newDeferredGuard() *deferredGuard {
	return &deferredGuard{running: make(map[string]*deferredSession)}
}

func deferredKey(accessCode, userID string) string {
	return accessCode + ":" + userID
}

func (g *deferredGuard) acquire(accessCode, userID string) (*deferredSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := deferredKey(accessCode, userID)
	if _, ok := g.running[key]; ok {
		return nil, fmt.Errorf("replay of %s by %s: %w", accessCode, userID, domain.ErrReplayRunning)
	}
	session := &deferredSession{answered: make(chan struct{}, 1)}
	g.running[key] = session
	return session, nil
}

func (g *deferredGuard) release(accessCode, userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, deferredKey(accessCode, userID))
}

func (g *deferredGuard) lookup(accessCode, userID string) (*deferredSession, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.running[deferredKey(accessCode, userID)]
	return session, ok
}

// RunDeferredFlow replays a completed tournament for one user on a private
// clock in a private room. The attempt number is derived from the session
// markers still present in the shared store, never from the user's lifetime
// replay count.
func (c *Controller) RunDeferredFlow(ctx context.Context, accessCode, userID string) error {
	game, err := c.games.GetByAccessCode(ctx, accessCode)
	if err != nil {
		return err
	}
	if game.PlayMode != domain.PlayModeTournament {
		return fmt.Errorf("game %s is not a tournament: %w", accessCode, domain.ErrInvalidAction)
	}

	session, err := c.deferred.acquire(accessCode, userID)
	if err != nil {
		return err
	}
	defer c.deferred.release(accessCode, userID)

	attempt, err := c.markers.NextAttempt(ctx, accessCode, userID)
	if err != nil {
		return err
	}
	if err := c.markers.MarkAttempt(ctx, accessCode, userID, attempt); err != nil {
		return err
	}

	if p, ok, err := c.leaderboard.Participant(ctx, accessCode, userID); err == nil && ok {
		p.Deferred = true
		p.LifetimeAttempts++
		if err := c.leaderboard.UpsertParticipant(ctx, accessCode, p); err != nil {
			log.Warn().Err(err).Str("userId", userID).Msg("deferred attempt bookkeeping failed")
		}
	}

	room := DeferredRoom(accessCode, userID)
	log.Info().Str("accessCode", accessCode).Str("userId", userID).
		Int("attempt", attempt).Msg("deferred replay starting")

	for i, question := range game.Questions {
		if err := c.runDeferredQuestion(ctx, game, accessCode, userID, room, session, attempt, i, question); err != nil {
			return fmt.Errorf("deferred question %s: %w", question.UID, err)
		}
	}

	entries, err := c.leaderboard.Calculate(ctx, accessCode)
	if err != nil {
		return err
	}
	c.bus.Emit(room, EventGameEnded, map[string]any{
		"accessCode":  accessCode,
		"attempt":     attempt,
		"leaderboard": entries,
	})

	if err := c.cleaner.CleanupDeferredAttempt(ctx, accessCode, userID, attempt); err != nil {
		return err
	}
	log.Info().Str("accessCode", accessCode).Str("userId", userID).
		Int("attempt", attempt).Msg("deferred replay finished")
	return nil
}

func (c *Controller) runDeferredQuestion(ctx context.Context, game domain.GameInstance, accessCode, userID, room string, session *deferredSession, attempt, index int, question domain.Question) error {
	if err := c.timers.Reset(ctx, accessCode, question.UID, game.PlayMode, true, userID); err != nil {
		return err
	}

	duration := c.questionDuration(nil, question)
	timer, err := c.timers.Start(ctx, accessCode, question.UID, game.PlayMode, true, userID, duration)
	if err != nil {
		return err
	}

	// Drain any stale early-finish signal from the previous question.
	select {
	case <-session.answered:
	default:
	}

	c.bus.Emit(room, EventGameQuestion, map[string]any{
		"question":       question.ForClient(),
		"questionIndex":  index,
		"totalQuestions": len(game.Questions),
		"timer":          timer,
	})

	if err := c.waitForTimer(ctx, accessCode, question.UID, game.PlayMode, true, userID, duration, session.answered); err != nil {
		return err
	}
	if _, err := c.timers.Stop(ctx, accessCode, question.UID, game.PlayMode, true, userID); err != nil {
		return err
	}

	if err := c.scoreUserAnswer(ctx, accessCode, question, userID); err != nil {
		return err
	}

	c.bus.Emit(room, EventCorrectAnswers, map[string]any{
		"questionUid":    question.UID,
		"correctAnswers": question.CorrectAnswers,
	})
	// The replaying user sees their own standing refreshed, still only once
	// the question's clock is done.
	if entries, err := c.leaderboard.Calculate(ctx, accessCode); err == nil {
		c.bus.Emit(room, EventLeaderboardUpdate, map[string]any{"leaderboard": entries})
	}

	if question.Explanation != "" {
		wait := time.Duration(c.cfg.FeedbackWaitMs) * time.Millisecond
		if question.FeedbackWaitSec > 0 {
			wait = time.Duration(question.FeedbackWaitSec * float64(time.Second))
		}
		// The marker must be durable before the explanation goes out, so a
		// reconnect during the attempt never replays it.
		if err := c.markers.MarkExplanationSent(ctx, accessCode, userID, attempt); err != nil {
			log.Warn().Err(err).Str("accessCode", accessCode).Msg("explanation marker write failed")
		}
		c.bus.Emit(room, EventFeedback, map[string]any{
			"questionUid": question.UID,
			"explanation": question.Explanation,
		})
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
	return nil
}

// SubmitDeferredAnswer records a replaying user's answer and releases the
// flow's wait so the replay can advance without sitting out the full clock.
func (c *Controller) SubmitDeferredAnswer(ctx context.Context, req AnswerRequest) error {
	session, ok := c.deferred.lookup(req.AccessCode, req.UserID)
	if !ok {
		return fmt.Errorf("no replay running for %s/%s: %w", req.AccessCode, req.UserID, domain.ErrInvalidAction)
	}

	snap, err := c.timers.Snapshot(ctx, req.AccessCode, req.QuestionUID, domain.PlayModeTournament, true, req.UserID, 0)
	if err != nil {
		return err
	}
	if snap == nil || snap.Status != domain.TimerStatusRun {
		return fmt.Errorf("question %s is not active: %w", req.QuestionUID, domain.ErrInvalidAction)
	}

	if err := c.answers.Record(ctx, req.AccessCode, domain.AnswerRecord{
		UserID:      req.UserID,
		QuestionUID: req.QuestionUID,
		Answer:      req.Answer,
	}); err != nil {
		return err
	}

	select {
	case session.answered <- struct{}{}:
	default:
	}
	return nil
}

// scoreUserAnswer credits one user's recorded answer for a question,
// leaving everyone else's standing untouched.
func (c *Controller) scoreUserAnswer(ctx context.Context, accessCode string, q domain.Question, userID string) error {
	records, err := c.answers.ForQuestion(ctx, accessCode, q.UID)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.UserID != userID {
			continue
		}
		if rec.Answer < 0 || rec.Answer >= len(q.CorrectAnswers) {
			continue
		}
		if q.CorrectAnswers[rec.Answer] {
			return c.leaderboard.AddScore(ctx, accessCode, userID, c.cfg.PointsPerQuestion)
		}
	}
	return nil
}
