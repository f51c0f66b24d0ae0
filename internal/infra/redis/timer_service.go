package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"mathquest-live-service/internal/domain"
)

// TimerService manages the countdown clock for every play mode:
//
//   - quiz and live tournament: one clock per (session, question), shared by
//     every connection in the room
//   - deferred tournament: one private clock per (session, question, user)
//   - practice: no timer, every operation is a no-op
//
// The key derivation in timerKey is the only branching point between the two
// sharing policies; the state transitions themselves are identical.
type TimerService struct {
	client *redis.Client
	clock  clockwork.Clock
}

func NewTimerService(client *redis.Client, clock clockwork.Clock) *TimerService {
	return &TimerService{client: client, clock: clock}
}

func (s *TimerService) nowMs() int64 {
	return s.clock.Now().UnixMilli()
}

// load fetches a stored timer. Absent keys yield (nil, nil); malformed JSON
// is an error rather than a partially trusted record.
func (s *TimerService) load(ctx context.Context, key string) (*domain.TimerState, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load timer %s: %w", key, err)
	}
	var timer domain.TimerState
	if err := json.Unmarshal([]byte(raw), &timer); err != nil {
		return nil, fmt.Errorf("decode timer %s: %w", key, err)
	}
	return &timer, nil
}

func (s *TimerService) store(ctx context.Context, key string, timer *domain.TimerState) error {
	data, err := json.Marshal(timer)
	if err != nil {
		return fmt.Errorf("encode timer %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("store timer %s: %w", key, err)
	}
	return nil
}

// Start starts or resumes the clock. A fresh timer begins running with zero
// accumulated time; a paused timer resumes with its accumulated time
// preserved (recomputed from duration and the persisted remainder).
func (s *TimerService) Start(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string, durationMs int64) (*domain.TimerState, error) {
	if mode == domain.PlayModePractice {
		return nil, nil
	}
	key := timerKey(accessCode, questionUID, userID, deferred)
	now := s.nowMs()

	prev, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}

	var timer *domain.TimerState
	if prev != nil && prev.Status == domain.TimerStatusPause {
		duration := prev.DurationMs
		if duration <= 0 {
			duration = durationMs
		}
		played := prev.TotalPlayTimeMs
		if prev.TimeLeftMs >= 0 && duration > 0 {
			played = max64(0, duration-prev.TimeLeftMs)
		}
		timer = &domain.TimerState{
			QuestionUID:     prev.QuestionUID,
			Status:          domain.TimerStatusRun,
			StartedAt:       prev.StartedAt,
			TotalPlayTimeMs: played,
			LastStateChange: now,
			DurationMs:      duration,
			TimerEndDateMs:  now + max64(0, duration-played),
		}
	} else {
		timer = &domain.TimerState{
			QuestionUID:     questionUID,
			Status:          domain.TimerStatusRun,
			StartedAt:       now,
			TotalPlayTimeMs: 0,
			LastStateChange: now,
			DurationMs:      durationMs,
			TimerEndDateMs:  now + durationMs,
		}
	}

	if err := s.store(ctx, key, timer); err != nil {
		return nil, err
	}
	log.Debug().Str("accessCode", accessCode).Str("questionUid", questionUID).
		Bool("deferred", deferred).Int64("durationMs", timer.DurationMs).
		Msg("timer started")
	return timer, nil
}

// Pause freezes a running clock, banking the active span into
// TotalPlayTimeMs and persisting the remaining time. Pausing an already
// paused or absent timer returns the current state unchanged.
func (s *TimerService) Pause(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string) (*domain.TimerState, error) {
	if mode == domain.PlayModePractice {
		return nil, nil
	}
	key := timerKey(accessCode, questionUID, userID, deferred)
	timer, err := s.load(ctx, key)
	if err != nil || timer == nil {
		return timer, err
	}
	if timer.Status != domain.TimerStatusRun {
		return timer, nil
	}

	now := s.nowMs()
	timer.TotalPlayTimeMs += now - timer.LastStateChange
	timer.Status = domain.TimerStatusPause
	timer.LastStateChange = now
	timer.TimeLeftMs = max64(0, timer.DurationMs-timer.TotalPlayTimeMs)
	timer.TimerEndDateMs = 0

	if err := s.store(ctx, key, timer); err != nil {
		return nil, err
	}
	log.Debug().Str("accessCode", accessCode).Str("questionUid", questionUID).
		Int64("timeLeftMs", timer.TimeLeftMs).Msg("timer paused")
	return timer, nil
}

// Stop overwrites the timer with a terminal stop record.
func (s *TimerService) Stop(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string) (*domain.TimerState, error) {
	if mode == domain.PlayModePractice {
		return nil, nil
	}
	key := timerKey(accessCode, questionUID, userID, deferred)
	now := s.nowMs()
	timer := &domain.TimerState{
		QuestionUID:     questionUID,
		Status:          domain.TimerStatusStop,
		StartedAt:       now,
		TotalPlayTimeMs: 0,
		LastStateChange: now,
	}
	if err := s.store(ctx, key, timer); err != nil {
		return nil, err
	}
	return timer, nil
}

// Reset deletes the stored state entirely, as when a new question begins.
func (s *TimerService) Reset(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string) error {
	if mode == domain.PlayModePractice {
		return nil
	}
	key := timerKey(accessCode, questionUID, userID, deferred)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset timer %s: %w", key, err)
	}
	return nil
}

// ElapsedMs reports accumulated active time: the banked total while paused
// or stopped, plus the live delta while running. Absent timers and practice
// mode report 0.
func (s *TimerService) ElapsedMs(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string) (int64, error) {
	if mode == domain.PlayModePractice {
		return 0, nil
	}
	key := timerKey(accessCode, questionUID, userID, deferred)
	timer, err := s.load(ctx, key)
	if err != nil {
		return 0, err
	}
	if timer == nil || timer.Status == domain.TimerStatusStop {
		return 0, nil
	}
	if timer.Status == domain.TimerStatusRun {
		return timer.TotalPlayTimeMs + (s.nowMs() - timer.LastStateChange), nil
	}
	return timer.TotalPlayTimeMs, nil
}

// EditDuration rewrites the canonical duration without changing the run
// state, clamping any persisted remainder to the new duration.
func (s *TimerService) EditDuration(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string, durationMs int64) (*domain.TimerState, error) {
	if mode == domain.PlayModePractice {
		return nil, nil
	}
	key := timerKey(accessCode, questionUID, userID, deferred)
	now := s.nowMs()
	timer, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if timer == nil {
		timer = &domain.TimerState{
			QuestionUID:     questionUID,
			Status:          domain.TimerStatusStop,
			StartedAt:       now,
			LastStateChange: now,
			DurationMs:      durationMs,
			TimeLeftMs:      durationMs,
		}
	} else {
		timer.DurationMs = durationMs
		switch timer.Status {
		case domain.TimerStatusRun:
			elapsed := timer.TotalPlayTimeMs + (now - timer.LastStateChange)
			timer.TimerEndDateMs = now + max64(0, durationMs-elapsed)
		case domain.TimerStatusPause:
			if timer.TimeLeftMs > durationMs {
				timer.TimeLeftMs = durationMs
			}
		default:
			timer.TimeLeftMs = durationMs
		}
	}
	if err := s.store(ctx, key, timer); err != nil {
		return nil, err
	}
	return timer, nil
}

// Snapshot derives the emission view from stored state. Absent timers yield
// a stop snapshot carrying the full duration; a running timer whose time has
// fully elapsed is reported as stopped.
func (s *TimerService) Snapshot(ctx context.Context, accessCode, questionUID string, mode domain.PlayMode, deferred bool, userID string, durationMs int64) (*domain.TimerSnapshot, error) {
	if mode == domain.PlayModePractice {
		return nil, nil
	}
	key := timerKey(accessCode, questionUID, userID, deferred)
	now := s.nowMs()
	timer, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	if timer == nil {
		return &domain.TimerSnapshot{
			Status:      domain.TimerStatusStop,
			QuestionUID: questionUID,
			TimeLeftMs:  durationMs,
			DurationMs:  durationMs,
			Timestamp:   now,
		}, nil
	}

	duration := timer.DurationMs
	if duration <= 0 {
		duration = durationMs
	}

	snap := &domain.TimerSnapshot{
		Status:      timer.Status,
		QuestionUID: timer.QuestionUID,
		DurationMs:  duration,
		Timestamp:   now,
	}
	switch timer.Status {
	case domain.TimerStatusRun:
		elapsed := timer.TotalPlayTimeMs + (now - timer.LastStateChange)
		snap.TimeLeftMs = max64(0, duration-elapsed)
		snap.TimerEndDateMs = now + snap.TimeLeftMs
		if snap.TimeLeftMs <= 0 {
			snap.Status = domain.TimerStatusStop
			snap.TimeLeftMs = 0
			snap.TimerEndDateMs = 0
		}
	case domain.TimerStatusPause:
		if timer.TimeLeftMs > 0 {
			snap.TimeLeftMs = timer.TimeLeftMs
		} else {
			snap.TimeLeftMs = max64(0, duration-timer.TotalPlayTimeMs)
		}
	default:
		snap.TimeLeftMs = duration
	}
	return snap, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
