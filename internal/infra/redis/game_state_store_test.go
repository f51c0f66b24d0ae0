package redis

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mathquest-live-service/internal/domain"
)

func newStateFixture(t *testing.T) (*GameStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewGameStateStore(client), mr
}

func testGame() domain.GameInstance {
	return domain.GameInstance{
		ID:              "game-1",
		AccessCode:      "7912",
		PlayMode:        domain.PlayModeTournament,
		InitiatorUserID: "teacher-1",
		Questions: []domain.Question{
			{UID: "q1", Text: "2+2?", Answers: []string{"3", "4"}, CorrectAnswers: []bool{false, true}, TimeLimitSec: 30},
			{UID: "q2", Text: "3+3?", Answers: []string{"5", "6"}, CorrectAnswers: []bool{false, true}, TimeLimitSec: 30},
		},
	}
}

func TestGameStateInitializeAndGet(t *testing.T) {
	store, mr := newStateFixture(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "7912"); !errors.Is(err, domain.ErrGameNotFound) {
		t.Fatalf("expected ErrGameNotFound, got %v", err)
	}

	state, err := store.Initialize(ctx, testGame())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if state.CurrentQuestionIndex != -1 {
		t.Fatalf("fresh state index = %d", state.CurrentQuestionIndex)
	}
	if !mr.Exists("mathquest:game:gameState:7912") {
		t.Fatalf("expected state key to be set")
	}

	got, err := store.Get(ctx, "7912")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.GameID != "game-1" || len(got.QuestionUIDs) != 2 {
		t.Fatalf("round-tripped state = %+v", got)
	}
}

func TestGameStateVersionConflict(t *testing.T) {
	store, _ := newStateFixture(t)
	ctx := context.Background()

	if _, err := store.Initialize(ctx, testGame()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// Two owners read the same version; the second write must lose.
	first, err := store.Get(ctx, "7912")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := store.Get(ctx, "7912")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	first.CurrentQuestionIndex = 0
	if err := store.Set(ctx, "7912", first); err != nil {
		t.Fatalf("first set: %v", err)
	}

	second.AnswersLocked = true
	if err := store.Set(ctx, "7912", second); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}

	// The winning write survived intact.
	got, err := store.Get(ctx, "7912")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentQuestionIndex != 0 || got.AnswersLocked {
		t.Fatalf("stored state = %+v", got)
	}

	// The same owner keeps writing with the refreshed version.
	first.AnswersLocked = true
	if err := store.Set(ctx, "7912", first); err != nil {
		t.Fatalf("second write by owner: %v", err)
	}
}
