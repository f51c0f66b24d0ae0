package redis

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"mathquest-live-service/internal/domain"
)

func newRoomFixture(t *testing.T) (*RoomRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRoomRegistry(client, clockwork.NewRealClock()), mr
}

func TestRoomJoinLeaveCount(t *testing.T) {
	reg, mr := newRoomFixture(t)
	ctx := context.Background()

	if err := reg.Join(ctx, "game_7912", domain.RoomMember{ConnID: "c1", UserID: "alice", Role: "player"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := reg.Join(ctx, "game_7912", domain.RoomMember{ConnID: "c2", UserID: "bob", Role: "player"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	// Re-join must not duplicate.
	if err := reg.Join(ctx, "game_7912", domain.RoomMember{ConnID: "c1", UserID: "alice", Role: "player"}); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !mr.Exists("mathquest:game:rooms:game_7912") {
		t.Fatalf("expected room hash")
	}

	n, err := reg.Count(ctx, "game_7912")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	if err := reg.Leave(ctx, "game_7912", "c1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	members, err := reg.Members(ctx, "game_7912")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 || members[0].UserID != "bob" {
		t.Fatalf("members = %+v", members)
	}
	if members[0].JoinedAt == 0 {
		t.Fatalf("join time not stamped")
	}
}

func TestIdentityBindingMaps(t *testing.T) {
	reg, mr := newRoomFixture(t)
	ctx := context.Background()

	if err := reg.BindIdentity(ctx, "7912", "c1", "alice"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if got := mr.HGet("mathquest:game:socketIdToUserId:7912", "c1"); got != "alice" {
		t.Fatalf("socket map = %q", got)
	}
	if got := mr.HGet("mathquest:game:userIdToSocketId:7912", "alice"); got != "c1" {
		t.Fatalf("user map = %q", got)
	}

	// A reconnect rebinds the user to the new connection.
	if err := reg.BindIdentity(ctx, "7912", "c2", "alice"); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if got := mr.HGet("mathquest:game:userIdToSocketId:7912", "alice"); got != "c2" {
		t.Fatalf("user map after rebind = %q", got)
	}

	// Unbinding the stale connection must not clear the fresh binding.
	if err := reg.UnbindIdentity(ctx, "7912", "c1"); err != nil {
		t.Fatalf("unbind stale: %v", err)
	}
	if got := mr.HGet("mathquest:game:userIdToSocketId:7912", "alice"); got != "c2" {
		t.Fatalf("user map after stale unbind = %q", got)
	}
	if got := mr.HGet("mathquest:game:socketIdToUserId:7912", "c1"); got != "" {
		t.Fatalf("stale socket entry survived: %q", got)
	}

	// Unbinding the live connection clears both directions.
	if err := reg.UnbindIdentity(ctx, "7912", "c2"); err != nil {
		t.Fatalf("unbind: %v", err)
	}
	if got := mr.HGet("mathquest:game:userIdToSocketId:7912", "alice"); got != "" {
		t.Fatalf("user map after unbind = %q", got)
	}

	// Unbinding an unknown connection is a no-op.
	if err := reg.UnbindIdentity(ctx, "7912", "c9"); err != nil {
		t.Fatalf("unbind unknown: %v", err)
	}
}

func TestRoomLeaveAllSpansRooms(t *testing.T) {
	reg, _ := newRoomFixture(t)
	ctx := context.Background()

	for _, room := range []string{"game_7912", "dashboard_game-1"} {
		if err := reg.Join(ctx, room, domain.RoomMember{ConnID: "c1", UserID: "alice"}); err != nil {
			t.Fatalf("join %s: %v", room, err)
		}
	}
	if err := reg.LeaveAll(ctx, "c1", []string{"game_7912", "dashboard_game-1"}); err != nil {
		t.Fatalf("leave all: %v", err)
	}
	for _, room := range []string{"game_7912", "dashboard_game-1"} {
		n, err := reg.Count(ctx, room)
		if err != nil {
			t.Fatalf("count %s: %v", room, err)
		}
		if n != 0 {
			t.Fatalf("room %s still has %d members", room, n)
		}
	}
}
