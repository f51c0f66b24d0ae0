package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"mathquest-live-service/internal/domain"
)

// GameLoader loads game instance JSONB from Postgres.
type GameLoader struct {
	pool *pgxpool.Pool
}

func NewGameLoader(pool *pgxpool.Pool) *GameLoader {
	return &GameLoader{pool: pool}
}

func (l *GameLoader) LoadGame(ctx context.Context, accessCode string) (domain.GameInstance, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM game_instances WHERE access_code=$1`, accessCode).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GameInstance{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.GameInstance{}, fmt.Errorf("load game: %w", err)
	}
	var game domain.GameInstance
	if err := json.Unmarshal(raw, &game); err != nil {
		return domain.GameInstance{}, fmt.Errorf("unmarshal game: %w", err)
	}
	return game, nil
}

// AccessCodeExists reports whether a code is already taken, for
// collision-checked code generation.
func (l *GameLoader) AccessCodeExists(ctx context.Context, accessCode string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM game_instances WHERE access_code=$1)`, accessCode).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check access code: %w", err)
	}
	return exists, nil
}
