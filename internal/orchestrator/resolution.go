package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"pillarscope/internal/engine"
	"pillarscope/internal/interpret"
	"pillarscope/internal/review"
)

// SubmitResult is the response to one answer submission.
type SubmitResult struct {
	IsComplete        bool             `json:"is_complete"`
	AdditionalAnswers int              `json:"additional_answers_count"`
	NextQuestion      *review.Question `json:"next_question,omitempty"`
	TotalQuestions    int              `json:"total_questions"`
	AnsweredQuestions int              `json:"answered_questions"`
}

// SubmitAnswer records a user answer, derives answers to other open
// questions from the same text, and synthesizes the report when the last
// question falls.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, sessionID, questionKey, answerText string) (*SubmitResult, error) {
	if strings.TrimSpace(answerText) == "" {
		return nil, fmt.Errorf("answer text is empty: %w", review.ErrInvalidInput)
	}
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	question, err := o.store.GetQuestion(ctx, questionKey)
	if err != nil {
		return nil, err
	}

	// Direct human statement: fixed high confidence, last write wins.
	if err := o.store.UpsertAnswer(ctx, &review.Answer{
		SessionID:   sessionID,
		QuestionKey: questionKey,
		Text:        answerText,
		Confidence:  o.cfg.UserAnswerConfidence,
		Source:      review.SourceUser,
	}); err != nil {
		return nil, fmt.Errorf("failed to record answer: %w", err)
	}

	questions, err := o.store.ListQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load question bank: %w", err)
	}

	derivedCount := o.deriveAnswers(ctx, sessionID, question, answerText, questions)

	answers, err := o.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	remaining := unanswered(questions, answers)

	result := &SubmitResult{
		AdditionalAnswers: derivedCount,
		TotalQuestions:    len(questions),
		AnsweredQuestions: len(answers),
	}
	if len(remaining) > 0 {
		result.NextQuestion = &remaining[0]
		result.IsComplete = sess.Status == review.StatusCompleted
		return result, nil
	}

	completed, err := o.synthesizeReport(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	result.IsComplete = completed
	return result, nil
}

// deriveAnswers runs the question resolution step: candidates are the open
// questions other than the one just answered, so the engine can never
// target an already-answered question. Every failure path degrades to zero
// derived answers; the primary answer is already recorded.
func (o *Orchestrator) deriveAnswers(ctx context.Context, sessionID string, question *review.Question, answerText string, questions []review.Question) int {
	answers, err := o.store.ListAnswers(ctx, sessionID)
	if err != nil {
		o.logger.Warn("failed to list answers for derivation",
			zap.String("session_id", sessionID), zap.Error(err))
		return 0
	}

	var candidates []review.Question
	for _, q := range unanswered(questions, answers) {
		if q.Key != question.Key {
			candidates = append(candidates, q)
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	raw, err := o.engine.Invoke(ctx, engine.Request{
		System: derivationSystem,
		Prompt: buildDerivationPrompt(question, answerText, candidates),
		Mode:   engine.ModeSingle,
	})
	if err != nil {
		o.logger.Warn("derivation invocation failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return 0
	}

	payload, ok := interpret.DecodeDerivation(raw)
	if !ok {
		o.logger.Warn("derivation response not interpretable",
			zap.String("session_id", sessionID))
		return 0
	}

	candidateSet := questionSet(candidates)
	count := 0
	for _, d := range payload.Derived {
		if _, allowed := candidateSet[d.QuestionKey]; !allowed {
			o.logger.Debug("derived answer outside candidate set ignored",
				zap.String("session_id", sessionID),
				zap.String("question_key", d.QuestionKey))
			continue
		}
		if d.Answer == "" {
			continue
		}
		// Insert-if-absent: derivation never overwrites an existing
		// answer, whatever the engine returned for it.
		inserted, err := o.store.InsertAnswerIfAbsent(ctx, &review.Answer{
			SessionID:   sessionID,
			QuestionKey: d.QuestionKey,
			Text:        d.Answer,
			Confidence:  clampConfidence(d.Confidence, o.cfg.DerivedAnswerConfidence),
			Source:      review.SourceAgentDerived,
		})
		if err != nil {
			o.logger.Warn("failed to record derived answer",
				zap.String("session_id", sessionID),
				zap.String("question_key", d.QuestionKey),
				zap.Error(err))
			continue
		}
		if inserted {
			o.logger.Info("answer derived",
				zap.String("session_id", sessionID),
				zap.String("from", question.Key),
				zap.String("question_key", d.QuestionKey),
				zap.Float64("confidence", d.Confidence),
				zap.String("justification", d.Justification))
			count++
		}
	}
	return count
}
