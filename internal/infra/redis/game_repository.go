package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"mathquest-live-service/internal/domain"
)

// GameLoader fetches the durable game record from a backing store.
type GameLoader interface {
	LoadGame(ctx context.Context, accessCode string) (domain.GameInstance, error)
}

// GameRepository caches game instances in Redis (JSON per session) and falls
// back to the loader on cache miss. Singleflight collapses concurrent misses
// for the same session into one load.
type GameRepository struct {
	client *redis.Client
	loader GameLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewGameRepository(client *redis.Client, loader GameLoader, ttl time.Duration) *GameRepository {
	return &GameRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *GameRepository) GetByAccessCode(ctx context.Context, accessCode string) (domain.GameInstance, error) {
	key := instanceKey(accessCode)

	if game, ok, err := r.fromCache(ctx, key); err == nil && ok {
		return game, nil
	}

	result, err, _ := r.sf.Do(accessCode, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if game, ok, err := r.fromCache(ctx, key); err == nil && ok {
			return game, nil
		}

		game, err := r.loader.LoadGame(ctx, accessCode)
		if err != nil {
			return domain.GameInstance{}, err
		}

		data, err := json.Marshal(game)
		if err != nil {
			return domain.GameInstance{}, fmt.Errorf("encode game %s: %w", accessCode, err)
		}
		_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()
		return game, nil
	})
	if err != nil {
		return domain.GameInstance{}, err
	}
	return result.(domain.GameInstance), nil
}

func (r *GameRepository) fromCache(ctx context.Context, key string) (domain.GameInstance, bool, error) {
	raw, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return domain.GameInstance{}, false, nil
	}
	if err != nil {
		return domain.GameInstance{}, false, err
	}
	var game domain.GameInstance
	if err := json.Unmarshal([]byte(raw), &game); err != nil {
		// A corrupt cache entry is treated as a miss; the loader is truth.
		return domain.GameInstance{}, false, nil
	}
	return game, true, nil
}

func (r *GameRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
