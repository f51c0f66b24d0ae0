package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DeferredMarkerStore persists one marker per deferred attempt. The current
// session attempt number is derived by scanning these markers and taking the
// highest recorded number, not from the lifetime attempt counter on the
// participant record, which unrelated bookkeeping may already have advanced.
type DeferredMarkerStore struct {
	client *redis.Client
}

func NewDeferredMarkerStore(client *redis.Client) *DeferredMarkerStore {
	return &DeferredMarkerStore{client: client}
}

// NextAttempt returns 1 + the highest marker number for (session, user),
// or 1 when no markers exist.
func (s *DeferredMarkerStore) NextAttempt(ctx context.Context, accessCode, userID string) (int, error) {
	highest, err := s.highestAttempt(ctx, accessCode, userID)
	if err != nil {
		return 0, err
	}
	return highest + 1, nil
}

func (s *DeferredMarkerStore) highestAttempt(ctx context.Context, accessCode, userID string) (int, error) {
	pattern := deferredSessionPattern(accessCode, userID)
	highest := 0
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		idx := strings.LastIndex(key, ":")
		if idx < 0 {
			continue
		}
		n, err := strconv.Atoi(key[idx+1:])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan deferred markers %s/%s: %w", accessCode, userID, err)
	}
	return highest, nil
}

// MarkAttempt records that an attempt has started.
func (s *DeferredMarkerStore) MarkAttempt(ctx context.Context, accessCode, userID string, attempt int) error {
	key := deferredSessionKey(accessCode, userID, attempt)
	if err := s.client.Set(ctx, key, "1", 0).Err(); err != nil {
		return fmt.Errorf("mark deferred attempt %s: %w", key, err)
	}
	return nil
}

// MarkExplanationSent remembers that a question's explanation already went
// out during this attempt, so reconnects do not replay it.
func (s *DeferredMarkerStore) MarkExplanationSent(ctx context.Context, accessCode, userID string, attempt int) error {
	key := explanationSentKey(accessCode, userID, attempt)
	if err := s.client.Set(ctx, key, "1", 0).Err(); err != nil {
		return fmt.Errorf("mark explanation sent %s: %w", key, err)
	}
	return nil
}
