package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// auditSampleLimit bounds how many deleted key names one cleanup logs.
const auditSampleLimit = 25

// CleanupService reclaims every ephemeral key a session (or one deferred
// attempt) left behind. Wildcard patterns are resolved to concrete keys
// before deletion; a storage failure logs the progress so far and aborts the
// remaining batch.
type CleanupService struct {
	client *redis.Client
}

func NewCleanupService(client *redis.Client) *CleanupService {
	return &CleanupService{client: client}
}

// CleanupSession deletes all ephemeral state for one session. Keys for other
// sessions are never touched.
func (s *CleanupService) CleanupSession(ctx context.Context, accessCode string) error {
	exact := []string{
		participantsKey(accessCode),
		leaderboardKey(accessCode),
		joinOrderKey(accessCode),
		gameStateKey(accessCode),
		snapshotKey(accessCode),
		projectionDisplayKey(accessCode),
		socketToUserKey(accessCode),
		userToSocketKey(accessCode),
		instanceKey(accessCode),
	}
	patterns := []string{
		gamePrefix + "answers:" + accessCode + ":*",
		"timer:" + accessCode + ":*",
		gamePrefix + "deferred_session:" + accessCode + ":*",
		gamePrefix + "explanation_sent:" + accessCode + ":*",
	}
	return s.run(ctx, "session", accessCode, exact, patterns)
}

// CleanupDeferredAttempt deletes one user's one attempt: their private
// timers, the attempt's session marker and its explanation-sent marker.
// Other attempts and the live session state are untouched.
func (s *CleanupService) CleanupDeferredAttempt(ctx context.Context, accessCode, userID string, attempt int) error {
	exact := []string{
		deferredSessionKey(accessCode, userID, attempt),
		explanationSentKey(accessCode, userID, attempt),
	}
	patterns := []string{
		"timer:" + accessCode + ":*:user:" + userID,
	}
	return s.run(ctx, "deferred attempt", fmt.Sprintf("%s/%s/%d", accessCode, userID, attempt), exact, patterns)
}

func (s *CleanupService) run(ctx context.Context, scope, subject string, exact, patterns []string) error {
	deleted := 0
	sample := make([]string, 0, auditSampleLimit)

	record := func(keys ...string) {
		deleted += len(keys)
		for _, k := range keys {
			if len(sample) < auditSampleLimit {
				sample = append(sample, k)
			}
		}
	}
	fail := func(err error) error {
		log.Error().Err(err).Str("scope", scope).Str("subject", subject).
			Int("deleted", deleted).Strs("sample", sample).
			Msg("cleanup aborted part way through")
		return err
	}

	for _, key := range exact {
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return fail(fmt.Errorf("delete %s: %w", key, err))
		}
		if n > 0 {
			record(key)
		}
	}
	for _, pattern := range patterns {
		keys, err := s.resolve(ctx, pattern)
		if err != nil {
			return fail(err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fail(fmt.Errorf("delete %s batch: %w", pattern, err))
		}
		record(keys...)
	}

	log.Info().Str("scope", scope).Str("subject", subject).
		Int("deleted", deleted).Strs("sample", sample).
		Msg("cleanup complete")
	return nil
}

func (s *CleanupService) resolve(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", pattern, err)
	}
	return keys, nil
}
