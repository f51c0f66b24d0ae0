package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"mathquest-live-service/internal/domain"
)

// GameStateStore holds the authoritative per-session snapshot. The store
// offers no field-level transactions, so writers read-modify-write the full
// record; Set enforces the single-owner discipline with an optimistic
// version check under WATCH.
type GameStateStore struct {
	client *redis.Client
}

func NewGameStateStore(client *redis.Client) *GameStateStore {
	return &GameStateStore{client: client}
}

// Get returns the stored state, or domain.ErrGameNotFound when the session
// has no snapshot yet.
func (s *GameStateStore) Get(ctx context.Context, accessCode string) (*domain.GameState, error) {
	raw, err := s.client.Get(ctx, gameStateKey(accessCode)).Result()
	if err == redis.Nil {
		return nil, domain.ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get game state %s: %w", accessCode, err)
	}
	var state domain.GameState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode game state %s: %w", accessCode, err)
	}
	return &state, nil
}

// Set persists the record if and only if the stored version still matches
// the version the caller read. On success the caller's copy carries the
// incremented version, so consecutive writes by the same owner keep working.
func (s *GameStateStore) Set(ctx context.Context, accessCode string, state *domain.GameState) error {
	key := gameStateKey(accessCode)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err != redis.Nil {
			var current domain.GameState
			if err := json.Unmarshal([]byte(raw), &current); err != nil {
				return fmt.Errorf("decode game state %s: %w", accessCode, err)
			}
			if current.Version != state.Version {
				return domain.ErrStateConflict
			}
		}
		state.Version++
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("encode game state %s: %w", accessCode, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	if err == redis.TxFailedErr {
		return domain.ErrStateConflict
	}
	if err != nil {
		return err
	}
	return nil
}

// Initialize seeds a fresh snapshot for a session about to start.
func (s *GameStateStore) Initialize(ctx context.Context, game domain.GameInstance) (*domain.GameState, error) {
	uids := make([]string, 0, len(game.Questions))
	for _, q := range game.Questions {
		uids = append(uids, q.UID)
	}
	state := &domain.GameState{
		GameID:               game.ID,
		AccessCode:           game.AccessCode,
		Status:               domain.GameStatusPending,
		CurrentQuestionIndex: -1,
		QuestionUIDs:         uids,
		PlayMode:             game.PlayMode,
	}
	if err := s.Set(ctx, game.AccessCode, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Delete removes the snapshot outright. Cleanup normally handles this; it is
// exposed for deferred session state that lives under its own access code.
func (s *GameStateStore) Delete(ctx context.Context, accessCode string) error {
	return s.client.Del(ctx, gameStateKey(accessCode)).Err()
}
