// Package orchestrator drives a review session from start through
// environment collection, AI auto-answering, interactive resolution, and
// report synthesis.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pillarscope/internal/collector"
	"pillarscope/internal/engine"
	"pillarscope/internal/interpret"
	"pillarscope/internal/review"
)

// Store is the session/question/answer persistence the orchestrator needs.
// Implemented by *store.Store; faked in tests.
type Store interface {
	CreateSession(ctx context.Context, sess *review.Session) error
	GetSession(ctx context.Context, id string) (*review.Session, error)
	UpdateProgress(ctx context.Context, id string, p review.Progress) error
	SetAnalysis(ctx context.Context, id string, snapshot []byte, engineLog string) error
	TransitionStatus(ctx context.Context, id string, from, to review.Status) (bool, error)
	SetFailed(ctx context.Context, id string, detail string) error
	ClaimReport(ctx context.Context, id string) (bool, error)
	SetReport(ctx context.Context, id string, r *review.Report) error

	ListQuestions(ctx context.Context) ([]review.Question, error)
	GetQuestion(ctx context.Context, key string) (*review.Question, error)
	ListPillars(ctx context.Context) ([]review.Pillar, error)

	UpsertAnswer(ctx context.Context, a *review.Answer) error
	InsertAnswerIfAbsent(ctx context.Context, a *review.Answer) (bool, error)
	ListAnswers(ctx context.Context, sessionID string) ([]review.Answer, error)
}

// Provider runs comprehensive environment collection.
type Provider interface {
	Collect(ctx context.Context) (*collector.Snapshot, error)
}

// Config carries the orchestrator's tunables. The confidence defaults are
// conventions, not load-bearing logic.
type Config struct {
	// UserAnswerConfidence is recorded for direct human statements.
	UserAnswerConfidence float64
	// DerivedAnswerConfidence is used when the engine omits a confidence
	// for a derived answer.
	DerivedAnswerConfidence float64
	// PipelineTimeout bounds one background run end to end.
	PipelineTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.UserAnswerConfidence <= 0 {
		c.UserAnswerConfidence = 0.9
	}
	if c.DerivedAnswerConfidence <= 0 {
		c.DerivedAnswerConfidence = 0.8
	}
	if c.PipelineTimeout <= 0 {
		c.PipelineTimeout = 10 * time.Minute
	}
}

// Orchestrator owns the session state machine. All collaborators are
// injected; it holds no global state.
type Orchestrator struct {
	store    Store
	provider Provider
	engine   engine.Engine
	cfg      Config
	logger   *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
}

// New builds an orchestrator over the given collaborators.
func New(st Store, provider Provider, eng engine.Engine, cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.withDefaults()
	return &Orchestrator{
		store:    st,
		provider: provider,
		engine:   eng,
		cfg:      cfg,
		logger:   logger,
		active:   make(map[string]struct{}),
	}
}

// Close waits for all background pipelines to drain.
func (o *Orchestrator) Close() {
	o.wg.Wait()
}

// StartResult is the immediate response to StartReview.
type StartResult struct {
	SessionID string        `json:"session_id"`
	Status    review.Status `json:"status"`
}

// StartReview allocates a session in processing status, returns its id
// immediately, and launches the background pipeline. Pipeline failures are
// recorded on the session, never raised from this call.
func (o *Orchestrator) StartReview(ctx context.Context) (StartResult, error) {
	sess := &review.Session{
		ID:       uuid.NewString(),
		Status:   review.StatusProcessing,
		Progress: stepProgress(0),
	}
	if err := o.store.CreateSession(ctx, sess); err != nil {
		return StartResult{}, fmt.Errorf("failed to create session: %w", err)
	}

	o.logger.Info("review started", zap.String("session_id", sess.ID))
	o.launch(sess.ID)
	return StartResult{SessionID: sess.ID, Status: review.StatusProcessing}, nil
}

// launch starts the background pipeline for a session. A second launch for
// the same id while one is running is a logged no-op.
func (o *Orchestrator) launch(id string) {
	o.mu.Lock()
	if _, running := o.active[id]; running {
		o.mu.Unlock()
		o.logger.Warn("pipeline already running", zap.String("session_id", id))
		return
	}
	o.active[id] = struct{}{}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.active, id)
			o.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PipelineTimeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				o.failSession(ctx, id, fmt.Sprintf("pipeline panic: %v", r))
			}
		}()

		if err := o.runPipeline(ctx, id); err != nil {
			o.failSession(ctx, id, err.Error())
		}
	}()
}

func (o *Orchestrator) failSession(ctx context.Context, id, detail string) {
	o.logger.Error("pipeline failed", zap.String("session_id", id), zap.String("detail", detail))
	if ctx.Err() != nil {
		// The pipeline context may already be dead; failure recording
		// must still land.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if err := o.store.SetFailed(ctx, id, detail); err != nil {
		o.logger.Error("failed to record session failure",
			zap.String("session_id", id), zap.Error(err))
	}
}

// Pipeline steps, in order. Progress percentages are fixed per step and
// strictly increasing across a run.
var (
	pipelineSteps = []string{
		"initialize",
		"collect_environment",
		"auto_answer",
		"persist_analysis",
		"prepare_questions",
		"ready",
	}
	stepPercents = []int{10, 30, 60, 80, 90, 100}
	stepMessages = []string{
		"Initializing review session",
		"Collecting environment data",
		"Answering questions from environment data",
		"Persisting analysis results",
		"Preparing remaining questions",
		"Ready for interactive review",
	}
)

func stepProgress(idx int) review.Progress {
	steps := make([]review.ProgressStep, len(pipelineSteps))
	for i, name := range pipelineSteps {
		steps[i] = review.ProgressStep{Name: name, Done: i <= idx}
	}
	return review.Progress{
		StepIndex: idx,
		Message:   stepMessages[idx],
		Percent:   stepPercents[idx],
		Steps:     steps,
	}
}

func (o *Orchestrator) setStep(ctx context.Context, id string, idx int) {
	if err := o.store.UpdateProgress(ctx, id, stepProgress(idx)); err != nil {
		o.logger.Warn("failed to update progress",
			zap.String("session_id", id), zap.Int("step", idx), zap.Error(err))
	}
}

// runPipeline executes the six background steps. Only a top-level
// collection failure (or a store failure) aborts; everything downstream of
// the engine degrades softly.
func (o *Orchestrator) runPipeline(ctx context.Context, id string) error {
	o.setStep(ctx, id, 0)

	o.setStep(ctx, id, 1)
	snapshot, err := o.provider.Collect(ctx)
	if err != nil {
		return fmt.Errorf("environment collection failed: %w", err)
	}
	for _, w := range snapshot.Warnings() {
		o.logger.Warn("environment finding", zap.String("session_id", id), zap.String("finding", w))
	}

	o.setStep(ctx, id, 2)
	questions, err := o.store.ListQuestions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load question bank: %w", err)
	}
	rawOutput, autoAnswered := o.autoAnswer(ctx, id, snapshot, questions)

	o.setStep(ctx, id, 3)
	snapJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := o.store.SetAnalysis(ctx, id, snapJSON, rawOutput); err != nil {
		return fmt.Errorf("failed to persist analysis: %w", err)
	}

	o.setStep(ctx, id, 4)
	next, answered, err := o.nextQuestion(ctx, id, questions)
	if err != nil {
		return err
	}
	if next != nil {
		o.logger.Info("first question prepared",
			zap.String("session_id", id),
			zap.String("question_key", next.Key),
			zap.Int("auto_answered", autoAnswered),
			zap.Int("answered", answered))
	}

	o.setStep(ctx, id, 5)
	ok, err := o.store.TransitionStatus(ctx, id, review.StatusProcessing, review.StatusInProgress)
	if err != nil {
		return err
	}
	if !ok {
		o.logger.Warn("session left processing before ready transition",
			zap.String("session_id", id))
	}

	// Auto-answering may have covered the whole bank, and answers may have
	// arrived while the session was still processing. Recheck coverage after
	// the transition: if nothing is left, the unanswered count crossed to
	// zero during this run and no submission will ever trigger synthesis.
	postNext, _, err := o.nextQuestion(ctx, id, questions)
	if err != nil {
		return err
	}
	if postNext == nil {
		completed, err := o.synthesizeReport(ctx, id)
		if err != nil {
			return err
		}
		if completed {
			o.logger.Info("review completed without interaction",
				zap.String("session_id", id))
		}
	}
	return nil
}

// autoAnswer asks the engine to answer as many questions as the snapshot
// justifies. Invocation or parse failure degrades to zero auto-answers.
func (o *Orchestrator) autoAnswer(ctx context.Context, id string, snapshot *collector.Snapshot, questions []review.Question) (string, int) {
	prompt, err := buildAutoAnswerPrompt(snapshot, questions)
	if err != nil {
		o.logger.Warn("failed to build auto-answer prompt", zap.String("session_id", id), zap.Error(err))
		return "", 0
	}

	raw, err := o.engine.Invoke(ctx, engine.Request{
		System: autoAnswerSystem,
		Prompt: prompt,
		Mode:   engine.ModeSingle,
	})
	if err != nil {
		o.logger.Warn("auto-answer invocation failed",
			zap.String("session_id", id), zap.Error(err))
		return "", 0
	}

	payload, ok := interpret.DecodeAutoAnswers(raw)
	if !ok {
		o.logger.Warn("auto-answer response not interpretable", zap.String("session_id", id))
		return raw, 0
	}

	known := questionSet(questions)
	count := 0
	for _, a := range payload.Answers {
		if _, exists := known[a.QuestionKey]; !exists {
			o.logger.Debug("auto-answer for unknown question ignored",
				zap.String("session_id", id), zap.String("question_key", a.QuestionKey))
			continue
		}
		if a.Answer == "" {
			continue
		}
		ans := &review.Answer{
			SessionID:   id,
			QuestionKey: a.QuestionKey,
			Text:        a.Answer,
			Confidence:  clampConfidence(a.Confidence, o.cfg.DerivedAnswerConfidence),
			Source:      review.SourceAgent,
		}
		if err := o.store.UpsertAnswer(ctx, ans); err != nil {
			o.logger.Warn("failed to record auto-answer",
				zap.String("session_id", id),
				zap.String("question_key", a.QuestionKey),
				zap.Error(err))
			continue
		}
		count++
	}

	o.logger.Info("auto-answering finished",
		zap.String("session_id", id),
		zap.Int("answered", count),
		zap.Int("declined", len(payload.Unanswered)))
	return raw, count
}

// nextQuestion returns the highest-priority unanswered question, or nil
// when every question has an answer, plus the answered count.
func (o *Orchestrator) nextQuestion(ctx context.Context, id string, questions []review.Question) (*review.Question, int, error) {
	answers, err := o.store.ListAnswers(ctx, id)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list answers: %w", err)
	}
	remaining := unanswered(questions, answers)
	if len(remaining) == 0 {
		return nil, len(answers), nil
	}
	return &remaining[0], len(answers), nil
}

// unanswered filters the bank down to questions without an answer in this
// session, in stable presentation order.
func unanswered(questions []review.Question, answers []review.Answer) []review.Question {
	answeredKeys := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		answeredKeys[a.QuestionKey] = struct{}{}
	}
	var remaining []review.Question
	for _, q := range questions {
		if _, ok := answeredKeys[q.Key]; !ok {
			remaining = append(remaining, q)
		}
	}
	review.SortQuestions(remaining)
	return remaining
}

func questionSet(questions []review.Question) map[string]review.Question {
	m := make(map[string]review.Question, len(questions))
	for _, q := range questions {
		m[q.Key] = q
	}
	return m
}

func clampConfidence(c, fallback float64) float64 {
	if c <= 0 {
		return fallback
	}
	if c > 1 {
		return 1
	}
	return c
}
