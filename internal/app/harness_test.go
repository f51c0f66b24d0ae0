package app_test

import (
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"mathquest-live-service/internal/app"
	"mathquest-live-service/internal/domain"
	"mathquest-live-service/internal/infra/memory"
	redisstore "mathquest-live-service/internal/infra/redis"
)

type emission struct {
	Room    string
	Event   string
	Payload any
	At      time.Time
}

// fakeBus records emissions in order and signals each one on a channel so
// tests can synchronise with flows running in goroutines.
type fakeBus struct {
	mu     sync.Mutex
	events []emission
	notify chan emission
}

func newFakeBus() *fakeBus {
	return &fakeBus{notify: make(chan emission, 256)}
}

func (b *fakeBus) Emit(room, event string, payload any) {
	e := emission{Room: room, Event: event, Payload: payload, At: time.Now()}
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
	select {
	case b.notify <- e:
	default:
	}
}

func (b *fakeBus) EmitExcept(room, exceptConnID, event string, payload any) {
	b.Emit(room, event, payload)
}

func (b *fakeBus) all() []emission {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]emission, len(b.events))
	copy(out, b.events)
	return out
}

func (b *fakeBus) count(room, event string) int {
	n := 0
	for _, e := range b.all() {
		if e.Room == room && e.Event == event {
			n++
		}
	}
	return n
}

func (b *fakeBus) waitFor(t *testing.T, room, event string) emission {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-b.notify:
			if e.Room == room && e.Event == event {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s in %s; saw %+v", event, room, b.all())
		}
	}
}

type harness struct {
	controller  *app.Controller
	bus         *fakeBus
	mr          *miniredis.Miniredis
	client      *goredis.Client
	states      *redisstore.GameStateStore
	timers      *redisstore.TimerService
	leaderboard *redisstore.LeaderboardService
	markers     *redisstore.DeferredMarkerStore
}

func newHarness(t *testing.T, games map[string]domain.GameInstance, clock clockwork.Clock, cfg app.Config) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	repo := redisstore.NewGameRepository(client, memory.NewStaticGameLoader(games), time.Minute)
	states := redisstore.NewGameStateStore(client)
	timers := redisstore.NewTimerService(client, clock)
	leaderboard := redisstore.NewLeaderboardService(client)
	answers := redisstore.NewAnswerStore(client, clock)
	markers := redisstore.NewDeferredMarkerStore(client)
	rooms := redisstore.NewRoomRegistry(client, clock)
	cleaner := redisstore.NewCleanupService(client)
	bus := newFakeBus()

	controller := app.NewController(repo, states, timers, leaderboard, answers, markers, rooms, cleaner, bus, clock, cfg)
	return &harness{
		controller:  controller,
		bus:         bus,
		mr:          mr,
		client:      client,
		states:      states,
		timers:      timers,
		leaderboard: leaderboard,
		markers:     markers,
	}
}

func tournamentGame(accessCode string, status domain.GameStatus) domain.GameInstance {
	return domain.GameInstance{
		ID:              "game-" + accessCode,
		AccessCode:      accessCode,
		PlayMode:        domain.PlayModeTournament,
		Status:          status,
		InitiatorUserID: "host-1",
		Questions: []domain.Question{
			{
				UID:            "q1",
				Text:           "What is 7 + 5?",
				Answers:        []string{"10", "11", "12"},
				CorrectAnswers: []bool{false, false, true},
				Explanation:    "7 + 5 = 12.",
			},
			{
				UID:            "q2",
				Text:           "What is 6 x 4?",
				Answers:        []string{"24", "26"},
				CorrectAnswers: []bool{true, false},
			},
		},
	}
}

func quizGame(accessCode string) domain.GameInstance {
	game := tournamentGame(accessCode, domain.GameStatusActive)
	game.PlayMode = domain.PlayModeQuiz
	return game
}
