package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"mathquest-live-service/internal/domain"
)

// AnswerStore keeps the per-question answer record each scoring pass is
// rebuilt from. One hash per (session, question), keyed by user: a player's
// latest submission before the lock wins.
type AnswerStore struct {
	client *redis.Client
	clock  clockwork.Clock
}

func NewAnswerStore(client *redis.Client, clock clockwork.Clock) *AnswerStore {
	return &AnswerStore{client: client, clock: clock}
}

// Record stores a user's answer for a question.
func (s *AnswerStore) Record(ctx context.Context, accessCode string, rec domain.AnswerRecord) error {
	if rec.SubmittedAt == 0 {
		rec.SubmittedAt = s.clock.Now().UnixMilli()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	if err := s.client.HSet(ctx, answersKey(accessCode, rec.QuestionUID), rec.UserID, data).Err(); err != nil {
		return fmt.Errorf("record answer %s/%s: %w", accessCode, rec.QuestionUID, err)
	}
	return nil
}

// ForQuestion returns every recorded answer for one question.
func (s *AnswerStore) ForQuestion(ctx context.Context, accessCode, questionUID string) ([]domain.AnswerRecord, error) {
	raw, err := s.client.HGetAll(ctx, answersKey(accessCode, questionUID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read answers %s/%s: %w", accessCode, questionUID, err)
	}
	records := make([]domain.AnswerRecord, 0, len(raw))
	for _, v := range raw {
		var rec domain.AnswerRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("decode answer %s/%s: %w", accessCode, questionUID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
