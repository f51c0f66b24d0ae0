package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"mathquest-live-service/internal/domain"
)

// RoomRegistry tracks which connections belong to which broadcast room.
// Membership lives in the shared store so any server process can enumerate a
// room's occupants; actual fan-out goes through the transport's hub.
type RoomRegistry struct {
	client *redis.Client
	clock  clockwork.Clock
}

func NewRoomRegistry(client *redis.Client, clock clockwork.Clock) *RoomRegistry {
	return &RoomRegistry{client: client, clock: clock}
}

// Join records a connection in a room. Re-joining overwrites the existing
// record rather than duplicating it.
func (r *RoomRegistry) Join(ctx context.Context, room string, member domain.RoomMember) error {
	if member.JoinedAt == 0 {
		member.JoinedAt = r.clock.Now().UnixMilli()
	}
	data, err := json.Marshal(member)
	if err != nil {
		return fmt.Errorf("encode room member: %w", err)
	}
	if err := r.client.HSet(ctx, roomKey(room), member.ConnID, data).Err(); err != nil {
		return fmt.Errorf("join room %s: %w", room, err)
	}
	return nil
}

// Leave removes a connection from a room. Leaving a room the connection is
// not in is a no-op.
func (r *RoomRegistry) Leave(ctx context.Context, room, connID string) error {
	if err := r.client.HDel(ctx, roomKey(room), connID).Err(); err != nil {
		return fmt.Errorf("leave room %s: %w", room, err)
	}
	return nil
}

// LeaveAll removes a connection from every given room, as on disconnect.
func (r *RoomRegistry) LeaveAll(ctx context.Context, connID string, rooms []string) error {
	pipe := r.client.Pipeline()
	for _, room := range rooms {
		pipe.HDel(ctx, roomKey(room), connID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leave rooms: %w", err)
	}
	return nil
}

// BindIdentity records the two-way connection/user mapping for a session.
// Rebinding a user to a new connection overwrites the reverse entry.
func (r *RoomRegistry) BindIdentity(ctx context.Context, accessCode, connID, userID string) error {
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, socketToUserKey(accessCode), connID, userID)
	pipe.HSet(ctx, userToSocketKey(accessCode), userID, connID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bind identity %s/%s: %w", accessCode, userID, err)
	}
	return nil
}

// UnbindIdentity removes a disconnecting connection from both identity maps.
// The reverse entry is only cleared while it still points at this connection,
// so a reconnect that already rebound the user is left alone.
func (r *RoomRegistry) UnbindIdentity(ctx context.Context, accessCode, connID string) error {
	userID, err := r.client.HGet(ctx, socketToUserKey(accessCode), connID).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unbind identity %s: %w", accessCode, err)
	}
	if err := r.client.HDel(ctx, socketToUserKey(accessCode), connID).Err(); err != nil {
		return fmt.Errorf("unbind identity %s: %w", accessCode, err)
	}
	current, err := r.client.HGet(ctx, userToSocketKey(accessCode), userID).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unbind identity %s: %w", accessCode, err)
	}
	if current == connID {
		if err := r.client.HDel(ctx, userToSocketKey(accessCode), userID).Err(); err != nil {
			return fmt.Errorf("unbind identity %s: %w", accessCode, err)
		}
	}
	return nil
}

// Members lists a room's current occupants.
func (r *RoomRegistry) Members(ctx context.Context, room string) ([]domain.RoomMember, error) {
	raw, err := r.client.HGetAll(ctx, roomKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("list room %s: %w", room, err)
	}
	members := make([]domain.RoomMember, 0, len(raw))
	for _, v := range raw {
		var m domain.RoomMember
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("decode room member in %s: %w", room, err)
		}
		members = append(members, m)
	}
	return members, nil
}

// Count reports how many connections a room currently has.
func (r *RoomRegistry) Count(ctx context.Context, room string) (int, error) {
	n, err := r.client.HLen(ctx, roomKey(room)).Result()
	if err != nil {
		return 0, fmt.Errorf("count room %s: %w", room, err)
	}
	return int(n), nil
}
