package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"mathquest-live-service/internal/domain"
)

func newTimerFixture(t *testing.T) (*TimerService, *miniredis.Miniredis, *clockwork.FakeClock) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	return NewTimerService(client, clock), mr, clock
}

func TestTimerPauseResumeAccumulatesPlayTime(t *testing.T) {
	svc, _, clock := newTimerFixture(t)
	ctx := context.Background()

	timer, err := svc.Start(ctx, "7912", "q1", domain.PlayModeQuiz, false, "", 30000)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if timer.Status != domain.TimerStatusRun {
		t.Fatalf("expected run, got %s", timer.Status)
	}

	clock.Advance(10 * time.Second)
	timer, err = svc.Pause(ctx, "7912", "q1", domain.PlayModeQuiz, false, "")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if timer.TotalPlayTimeMs != 10000 {
		t.Fatalf("expected 10000ms played, got %d", timer.TotalPlayTimeMs)
	}
	if timer.TimeLeftMs != 20000 {
		t.Fatalf("expected 20000ms left, got %d", timer.TimeLeftMs)
	}

	// Time spent paused must not count.
	clock.Advance(42 * time.Second)
	timer, err = svc.Start(ctx, "7912", "q1", domain.PlayModeQuiz, false, "", 30000)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if timer.TotalPlayTimeMs != 10000 {
		t.Fatalf("resume should keep played time, got %d", timer.TotalPlayTimeMs)
	}

	clock.Advance(5 * time.Second)
	elapsed, err := svc.ElapsedMs(ctx, "7912", "q1", domain.PlayModeQuiz, false, "")
	if err != nil {
		t.Fatalf("elapsed: %v", err)
	}
	if elapsed != 15000 {
		t.Fatalf("expected 15000ms elapsed, got %d", elapsed)
	}

	if _, err := svc.Stop(ctx, "7912", "q1", domain.PlayModeQuiz, false, ""); err != nil {
		t.Fatalf("stop: %v", err)
	}
	elapsed, err = svc.ElapsedMs(ctx, "7912", "q1", domain.PlayModeQuiz, false, "")
	if err != nil {
		t.Fatalf("elapsed after stop: %v", err)
	}
	if elapsed != 0 {
		t.Fatalf("stopped timer must report 0 elapsed, got %d", elapsed)
	}
}

func TestTimerPracticeModeWritesNothing(t *testing.T) {
	svc, mr, _ := newTimerFixture(t)
	ctx := context.Background()

	timer, err := svc.Start(ctx, "5000", "q1", domain.PlayModePractice, false, "", 30000)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if timer != nil {
		t.Fatalf("practice start must be a no-op, got %+v", timer)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("practice mode must not touch the store, found keys %v", mr.Keys())
	}

	elapsed, err := svc.ElapsedMs(ctx, "5000", "q1", domain.PlayModePractice, false, "")
	if err != nil || elapsed != 0 {
		t.Fatalf("practice elapsed = %d, %v; want 0, nil", elapsed, err)
	}
}

func TestTimerSharedAndDeferredKeysAreIsolated(t *testing.T) {
	svc, mr, clock := newTimerFixture(t)
	ctx := context.Background()

	if _, err := svc.Start(ctx, "7912", "q1", domain.PlayModeTournament, false, "", 30000); err != nil {
		t.Fatalf("shared start: %v", err)
	}
	if _, err := svc.Start(ctx, "7912", "q1", domain.PlayModeTournament, true, "user-1", 30000); err != nil {
		t.Fatalf("deferred start: %v", err)
	}

	if !mr.Exists("timer:7912:q1") {
		t.Fatalf("expected shared timer key")
	}
	if !mr.Exists("timer:7912:q1:user:user-1") {
		t.Fatalf("expected per-user timer key")
	}

	// Pausing the deferred clock must not disturb the shared one.
	clock.Advance(5 * time.Second)
	if _, err := svc.Pause(ctx, "7912", "q1", domain.PlayModeTournament, true, "user-1"); err != nil {
		t.Fatalf("pause deferred: %v", err)
	}
	shared, err := svc.Snapshot(ctx, "7912", "q1", domain.PlayModeTournament, false, "", 30000)
	if err != nil {
		t.Fatalf("shared snapshot: %v", err)
	}
	if shared.Status != domain.TimerStatusRun {
		t.Fatalf("shared timer should still run, got %s", shared.Status)
	}
}

func TestTimerSnapshotDerivation(t *testing.T) {
	svc, _, clock := newTimerFixture(t)
	ctx := context.Background()

	// Absent timer reports stop with the full duration.
	snap, err := svc.Snapshot(ctx, "7912", "q9", domain.PlayModeQuiz, false, "", 25000)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != domain.TimerStatusStop || snap.TimeLeftMs != 25000 {
		t.Fatalf("absent timer snapshot = %+v", snap)
	}

	if _, err := svc.Start(ctx, "7912", "q9", domain.PlayModeQuiz, false, "", 25000); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(10 * time.Second)
	snap, err = svc.Snapshot(ctx, "7912", "q9", domain.PlayModeQuiz, false, "", 25000)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != domain.TimerStatusRun || snap.TimeLeftMs != 15000 {
		t.Fatalf("running snapshot = %+v", snap)
	}
	if snap.TimerEndDateMs != clock.Now().UnixMilli()+15000 {
		t.Fatalf("end date = %d", snap.TimerEndDateMs)
	}

	// A fully elapsed running timer is reported as stopped.
	clock.Advance(20 * time.Second)
	snap, err = svc.Snapshot(ctx, "7912", "q9", domain.PlayModeQuiz, false, "", 25000)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != domain.TimerStatusStop || snap.TimeLeftMs != 0 {
		t.Fatalf("elapsed snapshot = %+v", snap)
	}
}

func TestTimerEditDurationWhileRunning(t *testing.T) {
	svc, _, clock := newTimerFixture(t)
	ctx := context.Background()

	if _, err := svc.Start(ctx, "7912", "q2", domain.PlayModeQuiz, false, "", 30000); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(10 * time.Second)

	timer, err := svc.EditDuration(ctx, "7912", "q2", domain.PlayModeQuiz, false, "", 45000)
	if err != nil {
		t.Fatalf("edit duration: %v", err)
	}
	if timer.DurationMs != 45000 {
		t.Fatalf("duration = %d", timer.DurationMs)
	}
	if timer.TimerEndDateMs != clock.Now().UnixMilli()+35000 {
		t.Fatalf("end date after extension = %d", timer.TimerEndDateMs)
	}
}
