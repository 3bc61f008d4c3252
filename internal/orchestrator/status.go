package orchestrator

import (
	"context"
	"fmt"

	"pillarscope/internal/review"
)

// StatusDescriptor is the polling view of a session.
type StatusDescriptor struct {
	SessionID          string           `json:"session_id"`
	Status             review.Status    `json:"status"`
	TotalQuestions     int              `json:"total_questions"`
	AnsweredQuestions  int              `json:"answered_questions"`
	RemainingQuestions int              `json:"remaining_questions"`
	NextQuestion       *review.Question `json:"next_question,omitempty"`
	IsComplete         bool             `json:"is_complete"`
	Progress           int              `json:"progress"`
	PipelineProgress   review.Progress  `json:"pipeline_progress"`
	Error              string           `json:"error,omitempty"`
}

// ReviewStatus returns the status descriptor for a session. Progress is
// recomputed from answer counts on every call.
func (o *Orchestrator) ReviewStatus(ctx context.Context, sessionID string) (*StatusDescriptor, error) {
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	questions, err := o.store.ListQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load question bank: %w", err)
	}
	answers, err := o.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}

	remaining := unanswered(questions, answers)
	desc := &StatusDescriptor{
		SessionID:          sess.ID,
		Status:             sess.Status,
		TotalQuestions:     len(questions),
		AnsweredQuestions:  len(answers),
		RemainingQuestions: len(remaining),
		IsComplete:         sess.Status == review.StatusCompleted,
		Progress:           review.ProgressPercent(len(answers), len(questions)),
		PipelineProgress:   sess.Progress,
		Error:              sess.Error,
	}
	if len(remaining) > 0 {
		desc.NextQuestion = &remaining[0]
	}
	return desc, nil
}

// UnansweredQuestions returns every question without an answer in this
// session, ordered by descending priority with the stable pillar/category
// tie-break.
func (o *Orchestrator) UnansweredQuestions(ctx context.Context, sessionID string) ([]review.Question, error) {
	if _, err := o.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	questions, err := o.store.ListQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load question bank: %w", err)
	}
	answers, err := o.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	return unanswered(questions, answers), nil
}
