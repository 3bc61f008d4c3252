package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"pillarscope/internal/engine"
	"pillarscope/internal/interpret"
	"pillarscope/internal/review"
)

// AnsweredQuestion joins an answer with its question metadata.
type AnsweredQuestion struct {
	Question review.Question `json:"question"`
	Answer   review.Answer   `json:"answer"`
}

// ReportResult is the final report plus the full answer set.
type ReportResult struct {
	SessionID string            `json:"session_id"`
	Report    *review.Report    `json:"report"`
	Answers   []AnsweredQuestion `json:"answers"`
}

// FinalReport returns the stored report for a completed session. Returns
// review.ErrNotReady while the session is still in progress.
func (o *Orchestrator) FinalReport(ctx context.Context, sessionID string) (*ReportResult, error) {
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != review.StatusCompleted {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, review.ErrNotReady)
	}

	answered, err := o.answeredQuestions(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &ReportResult{
		SessionID: sessionID,
		Report:    sess.Report,
		Answers:   answered,
	}, nil
}

// synthesizeReport runs report synthesis at most once per session. The
// store-level claim makes exactly one caller the winner; everyone else
// just reads the resulting status. Returns whether the session is
// completed after this call.
func (o *Orchestrator) synthesizeReport(ctx context.Context, sessionID string) (bool, error) {
	claimed, err := o.store.ClaimReport(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !claimed {
		sess, err := o.store.GetSession(ctx, sessionID)
		if err != nil {
			return false, err
		}
		if sess.Status == review.StatusCompleted {
			return true, nil
		}
		if sess.Report != nil {
			// The winner stored a report but lost the completed transition
			// (the claim landed while the session was still processing).
			// Finish the transition on its behalf.
			return o.completeSession(ctx, sessionID, sess.Report.Fallback)
		}
		return false, nil
	}

	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	pillars, err := o.store.ListPillars(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load pillars: %w", err)
	}
	answered, err := o.answeredQuestions(ctx, sessionID)
	if err != nil {
		return false, err
	}

	report := o.generateReport(ctx, sessionID, answered, pillars, sess.Snapshot)
	if err := o.store.SetReport(ctx, sessionID, report); err != nil {
		return false, fmt.Errorf("failed to store report: %w", err)
	}
	return o.completeSession(ctx, sessionID, report.Fallback)
}

// completeSession attempts the in_progress -> completed transition and
// returns whether the session is actually completed. A false return means
// the session is still processing; the pipeline-end coverage check will
// finish the transition once the report is found stored.
func (o *Orchestrator) completeSession(ctx context.Context, sessionID string, fallback bool) (bool, error) {
	ok, err := o.store.TransitionStatus(ctx, sessionID, review.StatusInProgress, review.StatusCompleted)
	if err != nil {
		return false, err
	}
	if ok {
		o.logger.Info("review completed",
			zap.String("session_id", sessionID),
			zap.Bool("fallback_report", fallback))
		return true, nil
	}

	// Lost the transition: either a concurrent caller completed the session
	// first, or it is still processing.
	sess, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if sess.Status == review.StatusCompleted {
		return true, nil
	}
	o.logger.Warn("report stored but session not yet completable",
		zap.String("session_id", sessionID),
		zap.String("status", string(sess.Status)))
	return false, nil
}

// generateReport invokes the engine for the structured report, falling
// back to a minimal placeholder on invocation or parse failure. The
// session must always end up with some report.
func (o *Orchestrator) generateReport(ctx context.Context, sessionID string, answered []AnsweredQuestion, pillars []review.Pillar, snapshot []byte) *review.Report {
	raw, err := o.engine.Invoke(ctx, engine.Request{
		System: reportSystem,
		Prompt: buildReportPrompt(answered, pillars, snapshot),
		Mode:   engine.ModeAgent,
	})
	if err != nil {
		o.logger.Warn("report invocation failed, emitting placeholder",
			zap.String("session_id", sessionID), zap.Error(err))
		return interpret.FallbackReport(pillars)
	}

	report, ok := interpret.DecodeReport(raw)
	if !ok {
		o.logger.Warn("report response not interpretable, emitting placeholder",
			zap.String("session_id", sessionID))
		return interpret.FallbackReport(pillars)
	}
	return report
}

// answeredQuestions joins the session's answers with question metadata,
// ordered by pillar, category, then question key.
func (o *Orchestrator) answeredQuestions(ctx context.Context, sessionID string) ([]AnsweredQuestion, error) {
	questions, err := o.store.ListQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load question bank: %w", err)
	}
	answers, err := o.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}

	byKey := questionSet(questions)
	joined := make([]AnsweredQuestion, 0, len(answers))
	for _, a := range answers {
		q, ok := byKey[a.QuestionKey]
		if !ok {
			continue
		}
		joined = append(joined, AnsweredQuestion{Question: q, Answer: a})
	}
	sort.Slice(joined, func(i, j int) bool {
		a, b := joined[i].Question, joined[j].Question
		if a.Pillar != b.Pillar {
			return a.Pillar < b.Pillar
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Key < b.Key
	})
	return joined, nil
}
