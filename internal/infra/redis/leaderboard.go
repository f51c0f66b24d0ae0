package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"mathquest-live-service/internal/domain"
)

// Join-order bonus tuning. The bonus exists only to give the earliest
// arrivals a stable nonzero rank before anyone has scored; it stays
// fractional so it can never reorder users holding earned points.
const (
	JoinBonusBase      = 0.01
	JoinBonusDecrement = 0.0004
	JoinBonusFloor     = 0.0001
	JoinBonusMaxCount  = 20

	joinOrderTTL = 24 * time.Hour
)

// LeaderboardService aggregates scores and participant metadata into ranked
// snapshots. Standings are always recomputed from the full persisted record,
// never incrementally drifted.
type LeaderboardService struct {
	client *redis.Client
}

func NewLeaderboardService(client *redis.Client) *LeaderboardService {
	return &LeaderboardService{client: client}
}

// UpsertParticipant records or refreshes a user's roster entry.
func (s *LeaderboardService) UpsertParticipant(ctx context.Context, accessCode string, p domain.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}
	if err := s.client.HSet(ctx, participantsKey(accessCode), p.UserID, data).Err(); err != nil {
		return fmt.Errorf("upsert participant %s: %w", p.UserID, err)
	}
	return nil
}

// Participant fetches one roster entry, reporting whether it exists.
func (s *LeaderboardService) Participant(ctx context.Context, accessCode, userID string) (domain.Participant, bool, error) {
	raw, err := s.client.HGet(ctx, participantsKey(accessCode), userID).Result()
	if err == redis.Nil {
		return domain.Participant{}, false, nil
	}
	if err != nil {
		return domain.Participant{}, false, fmt.Errorf("get participant %s: %w", userID, err)
	}
	var p domain.Participant
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.Participant{}, false, fmt.Errorf("decode participant %s: %w", userID, err)
	}
	return p, true, nil
}

// AssignJoinOrderBonus appends the user to the session's join-order list and
// returns their micro-bonus, also applied to the score set. Users already in
// the list, or joining after the cap, get 0. The bonus is strictly
// decreasing by position.
func (s *LeaderboardService) AssignJoinOrderBonus(ctx context.Context, accessCode, userID string) (float64, error) {
	key := joinOrderKey(accessCode)

	order, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("read join order %s: %w", accessCode, err)
	}
	for _, id := range order {
		if id == userID {
			return 0, nil
		}
	}
	if len(order) >= JoinBonusMaxCount {
		return 0, nil
	}

	position := len(order)
	if err := s.client.RPush(ctx, key, userID).Err(); err != nil {
		return 0, fmt.Errorf("append join order %s: %w", accessCode, err)
	}
	if position == 0 {
		// Expiry only matters on first write; re-arming it on every join
		// would let an abandoned session's list live forever.
		_ = s.client.Expire(ctx, key, joinOrderTTL).Err()
	}

	bonus := JoinBonusBase - float64(position)*JoinBonusDecrement
	if bonus < JoinBonusFloor {
		bonus = JoinBonusFloor
	}
	if err := s.client.ZIncrBy(ctx, leaderboardKey(accessCode), bonus, userID).Err(); err != nil {
		return 0, fmt.Errorf("apply join bonus %s: %w", accessCode, err)
	}
	return bonus, nil
}

// AddScore credits earned points to a user's standing.
func (s *LeaderboardService) AddScore(ctx context.Context, accessCode, userID string, points float64) error {
	if err := s.client.ZIncrBy(ctx, leaderboardKey(accessCode), points, userID).Err(); err != nil {
		return fmt.Errorf("add score %s: %w", accessCode, err)
	}
	return nil
}

// Calculate rebuilds the full standings: score descending, ties resolved by
// join-order position then username. Ranks are assigned after sorting and
// the snapshot cache is refreshed as a side effect.
func (s *LeaderboardService) Calculate(ctx context.Context, accessCode string) ([]domain.LeaderboardEntry, error) {
	scores, err := s.client.ZRevRangeWithScores(ctx, leaderboardKey(accessCode), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read leaderboard %s: %w", accessCode, err)
	}
	participants, err := s.client.HGetAll(ctx, participantsKey(accessCode)).Result()
	if err != nil {
		return nil, fmt.Errorf("read participants %s: %w", accessCode, err)
	}
	order, err := s.client.LRange(ctx, joinOrderKey(accessCode), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read join order %s: %w", accessCode, err)
	}
	joinPos := make(map[string]int, len(order))
	for i, id := range order {
		joinPos[id] = i
	}

	entries := make([]domain.LeaderboardEntry, 0, len(scores))
	for _, z := range scores {
		userID, _ := z.Member.(string)
		entry := domain.LeaderboardEntry{
			UserID:        userID,
			Score:         z.Score,
			Participation: "live",
		}
		if raw, ok := participants[userID]; ok {
			var p domain.Participant
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				return nil, fmt.Errorf("decode participant %s: %w", userID, err)
			}
			entry.Username = p.Username
			entry.AvatarEmoji = p.AvatarEmoji
			if p.Deferred {
				entry.Participation = "deferred"
				entry.AttemptCount = p.LifetimeAttempts
			}
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		pi, iKnown := joinPos[entries[i].UserID]
		pj, jKnown := joinPos[entries[j].UserID]
		if iKnown && jKnown && pi != pj {
			return pi < pj
		}
		if iKnown != jKnown {
			return iKnown
		}
		return entries[i].Username < entries[j].Username
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	if err := s.writeSnapshot(ctx, accessCode, entries); err != nil {
		log.Warn().Err(err).Str("accessCode", accessCode).Msg("leaderboard snapshot write failed")
	}
	return entries, nil
}

func (s *LeaderboardService) writeSnapshot(ctx context.Context, accessCode string, entries []domain.LeaderboardEntry) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, snapshotKey(accessCode), data, 0).Err()
}

// Snapshot returns the cached standings from the last Calculate, if any.
func (s *LeaderboardService) Snapshot(ctx context.Context, accessCode string) ([]domain.LeaderboardEntry, error) {
	raw, err := s.client.Get(ctx, snapshotKey(accessCode)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", accessCode, err)
	}
	var entries []domain.LeaderboardEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", accessCode, err)
	}
	return entries, nil
}
