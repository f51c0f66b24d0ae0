package app

import (
	"context"
	"fmt"

	"mathquest-live-service/internal/domain"
)

// Practice mode is fully player-paced: no clock ever runs, the next question
// appears when the player asks for it, and correctness comes back on every
// submission. These are plain request/response calls; the transport delivers
// the returned payloads to the asking connection only.

// PracticeQuestion is what a practicing player receives for one step.
type PracticeQuestion struct {
	Question       domain.ClientQuestion `json:"question"`
	QuestionIndex  int                   `json:"questionIndex"`
	TotalQuestions int                   `json:"totalQuestions"`
	Done           bool                  `json:"done"`
}

// PracticeFeedback is the immediate response to a practice submission.
type PracticeFeedback struct {
	QuestionUID    string `json:"questionUid"`
	Correct        bool   `json:"correct"`
	CorrectAnswers []bool `json:"correctAnswers"`
	Explanation    string `json:"explanation,omitempty"`
}

// NextPracticeQuestion returns the question at the given index, or a Done
// marker once the player has walked off the end of the list.
func (c *Controller) NextPracticeQuestion(ctx context.Context, accessCode string, index int) (*PracticeQuestion, error) {
	game, err := c.games.GetByAccessCode(ctx, accessCode)
	if err != nil {
		return nil, err
	}
	if game.PlayMode != domain.PlayModePractice {
		return nil, fmt.Errorf("game %s is not a practice session: %w", accessCode, domain.ErrInvalidAction)
	}
	if index < 0 {
		return nil, fmt.Errorf("question index %d: %w", index, domain.ErrInvalidAction)
	}
	if index >= len(game.Questions) {
		return &PracticeQuestion{QuestionIndex: index, TotalQuestions: len(game.Questions), Done: true}, nil
	}
	return &PracticeQuestion{
		Question:       game.Questions[index].ForClient(),
		QuestionIndex:  index,
		TotalQuestions: len(game.Questions),
	}, nil
}

// SubmitPracticeAnswer records the answer and immediately reveals
// correctness and the explanation.
func (c *Controller) SubmitPracticeAnswer(ctx context.Context, req AnswerRequest) (*PracticeFeedback, error) {
	game, err := c.games.GetByAccessCode(ctx, req.AccessCode)
	if err != nil {
		return nil, err
	}
	question, ok := game.QuestionByUID(req.QuestionUID)
	if !ok {
		return nil, fmt.Errorf("question %s not in game %s: %w", req.QuestionUID, req.AccessCode, domain.ErrInvalidAction)
	}

	if err := c.answers.Record(ctx, req.AccessCode, domain.AnswerRecord{
		UserID:      req.UserID,
		QuestionUID: req.QuestionUID,
		Answer:      req.Answer,
	}); err != nil {
		return nil, err
	}

	correct := req.Answer >= 0 && req.Answer < len(question.CorrectAnswers) && question.CorrectAnswers[req.Answer]
	return &PracticeFeedback{
		QuestionUID:    question.UID,
		Correct:        correct,
		CorrectAnswers: question.CorrectAnswers,
		Explanation:    question.Explanation,
	}, nil
}
