package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mathquest-live-service/internal/domain"
)

// GameLoader fetches the durable game record from a backing store.
type GameLoader interface {
	LoadGame(ctx context.Context, accessCode string) (domain.GameInstance, error)
}

// GameRepository caches game instances with TTL to avoid repeated DB hits.
type GameRepository struct {
	loader GameLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedGame
}

type cachedGame struct {
	game      domain.GameInstance
	expiresAt time.Time
}

func NewGameRepository(loader GameLoader, ttl time.Duration) *GameRepository {
	return &GameRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedGame),
	}
}

func (r *GameRepository) GetByAccessCode(ctx context.Context, accessCode string) (domain.GameInstance, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[accessCode]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.game, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(accessCode, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[accessCode]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.game, nil
		}
		r.mu.RUnlock()

		game, err := r.loader.LoadGame(ctx, accessCode)
		if err != nil {
			return domain.GameInstance{}, err
		}

		r.mu.Lock()
		r.cache[accessCode] = cachedGame{
			game:      game,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return game, nil
	})
	if err != nil {
		return domain.GameInstance{}, err
	}
	return result.(domain.GameInstance), nil
}

// StaticGameLoader serves games from an in-memory map (tests/demos).
type StaticGameLoader struct {
	games map[string]domain.GameInstance
}

func NewStaticGameLoader(games map[string]domain.GameInstance) *StaticGameLoader {
	return &StaticGameLoader{games: games}
}

func (l *StaticGameLoader) LoadGame(_ context.Context, accessCode string) (domain.GameInstance, error) {
	if game, ok := l.games[accessCode]; ok {
		return game, nil
	}
	return domain.GameInstance{}, domain.ErrGameNotFound
}

func (r *GameRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
