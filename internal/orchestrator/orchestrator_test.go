package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"pillarscope/internal/engine"
	"pillarscope/internal/review"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

func testQuestions() []review.Question {
	return []review.Question{
		{Key: "Q1", Text: "Is MFA enforced for all accounts?", Category: "identity", Pillar: "Security", Priority: 5},
		{Key: "Q2", Text: "Are budgets and alerts configured?", Category: "budgeting", Pillar: "Cost Optimization", Priority: 3},
		{Key: "Q3", Text: "Is data encrypted at rest?", Category: "encryption", Pillar: "Security", Priority: 3},
	}
}

func testPillars() []review.Pillar {
	return []review.Pillar{
		{Name: "Cost Optimization"},
		{Name: "Security"},
	}
}

const noAutoAnswers = `{"answers": [], "unanswered": [{"question_key": "Q1", "reason": "not visible in environment data"}]}`

func newTestOrchestrator(t *testing.T, st Store, eng engine.Engine) *Orchestrator {
	t.Helper()
	o := New(st, &mockProvider{}, eng, Config{}, zaptest.NewLogger(t))
	t.Cleanup(o.Close)
	return o
}

func TestStartReview_PipelineCompletes(t *testing.T) {
	st := newMemStore(testQuestions(), testPillars())
	eng := &mockEngine{responses: []string{
		`{"answers": [{"question_key": "Q1", "answer": "MFA enforced via policy", "confidence": 0.95}], "unanswered": []}`,
	}}
	o := newTestOrchestrator(t, st, eng)

	result, err := o.StartReview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, review.StatusProcessing, result.Status)
	assert.NotEmpty(t, result.SessionID)

	o.Close() // drain the background pipeline

	sess, err := st.GetSession(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusInProgress, sess.Status)
	assert.NotEmpty(t, sess.Snapshot)

	a, ok := st.answer(result.SessionID, "Q1")
	require.True(t, ok, "auto-answer must be recorded")
	assert.Equal(t, review.SourceAgent, a.Source)
	assert.Equal(t, 0.95, a.Confidence)
}

func TestStartReview_ProgressMonotone(t *testing.T) {
	st := newMemStore(testQuestions(), testPillars())
	o := newTestOrchestrator(t, st, &mockEngine{responses: []string{noAutoAnswers}})

	result, err := o.StartReview(context.Background())
	require.NoError(t, err)
	o.Close()

	history := st.progressHistory(result.SessionID)
	require.NotEmpty(t, history)
	last := -1
	for _, p := range history {
		assert.Greater(t, p.Percent, last, "progress must strictly increase")
		last = p.Percent
	}
	assert.Equal(t, 100, last)
}

func TestStartReview_CollectionFailureFailsSession(t *testing.T) {
	st := newMemStore(testQuestions(), testPillars())
	o := New(st, &mockProvider{err: errors.New("provider down")}, &mockEngine{}, Config{}, zaptest.NewLogger(t))

	result, err := o.StartReview(context.Background())
	require.NoError(t, err, "launch never surfaces pipeline failures")
	o.Close()

	sess, err := st.GetSession(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusFailed, sess.Status)
	assert.Contains(t, sess.Error, "provider down")
}

func TestStartReview_EngineFailureIsSoft(t *testing.T) {
	st := newMemStore(testQuestions(), testPillars())
	eng := &mockEngine{InvokeFunc: func(ctx context.Context, req engine.Request) (string, error) {
		return "", errors.New("model overloaded")
	}}
	o := newTestOrchestrator(t, st, eng)

	result, err := o.StartReview(context.Background())
	require.NoError(t, err)
	o.Close()

	sess, err := st.GetSession(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusInProgress, sess.Status,
		"auto-answer failure degrades to zero answers, never fails the session")

	answers, err := st.ListAnswers(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Empty(t, answers)
}

func TestStartReview_UnknownAutoAnswerKeyIgnored(t *testing.T) {
	st := newMemStore(testQuestions(), testPillars())
	eng := &mockEngine{responses: []string{
		`{"answers": [{"question_key": "HALLUCINATED-99", "answer": "yes"}, {"question_key": "Q2", "answer": "budgets set"}], "unanswered": []}`,
	}}
	o := newTestOrchestrator(t, st, eng)

	result, err := o.StartReview(context.Background())
	require.NoError(t, err)
	o.Close()

	answers, err := st.ListAnswers(context.Background(), result.SessionID)
	require.NoError(t, err)
	require.Len(t, answers, 1, "unknown question keys are dropped")
	assert.Equal(t, "Q2", answers[0].QuestionKey)
}

func TestStartReview_AllAutoAnsweredCompletesSession(t *testing.T) {
	st := newMemStore(testQuestions(), testPillars())
	eng := &mockEngine{InvokeFunc: func(ctx context.Context, req engine.Request) (string, error) {
		if req.Mode == engine.ModeAgent {
			return validReport, nil
		}
		return `{"answers": [
			{"question_key": "Q1", "answer": "MFA enforced", "confidence": 0.95},
			{"question_key": "Q2", "answer": "budgets with alerts", "confidence": 0.9},
			{"question_key": "Q3", "answer": "encrypted at rest", "confidence": 0.9}
		], "unanswered": []}`, nil
	}}
	o := newTestOrchestrator(t, st, eng)

	result, err := o.StartReview(context.Background())
	require.NoError(t, err)
	o.Close()

	// No interactive submission ever happens; the pipeline itself must
	// notice full coverage and synthesize.
	sess, err := st.GetSession(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusCompleted, sess.Status)
	require.NotNil(t, sess.Report)
	assert.False(t, sess.Report.Fallback)
	assert.Equal(t, 1, eng.agentCalls(), "synthesis runs exactly once")

	desc, err := o.ReviewStatus(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.True(t, desc.IsComplete)
	assert.Equal(t, 0, desc.RemainingQuestions)
	assert.Nil(t, desc.NextQuestion)

	report, err := o.FinalReport(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 70.0, report.Report.OverallScore)
	assert.Len(t, report.Answers, 3)
}

func TestReviewStatus(t *testing.T) {
	st := newMemStore(testQuestions(), testPillars())
	o := newTestOrchestrator(t, st, &mockEngine{responses: []string{noAutoAnswers}})

	result, err := o.StartReview(context.Background())
	require.NoError(t, err)
	o.Close()

	desc, err := o.ReviewStatus(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, review.StatusInProgress, desc.Status)
	assert.Equal(t, 3, desc.TotalQuestions)
	assert.Equal(t, 0, desc.AnsweredQuestions)
	assert.Equal(t, 3, desc.RemainingQuestions)
	assert.Equal(t, 0, desc.Progress)
	assert.False(t, desc.IsComplete)
	require.NotNil(t, desc.NextQuestion)
	assert.Equal(t, "Q1", desc.NextQuestion.Key, "highest priority question comes first")
}

func TestReviewStatus_NotFound(t *testing.T) {
	st := newMemStore(testQuestions(), testPillars())
	o := newTestOrchestrator(t, st, &mockEngine{})

	_, err := o.ReviewStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, review.ErrNotFound)
}

func TestUnansweredQuestions_Order(t *testing.T) {
	st := newMemStore(testQuestions(), testPillars())
	o := newTestOrchestrator(t, st, &mockEngine{responses: []string{noAutoAnswers}})

	result, err := o.StartReview(context.Background())
	require.NoError(t, err)
	o.Close()

	qs, err := o.UnansweredQuestions(context.Background(), result.SessionID)
	require.NoError(t, err)
	require.Len(t, qs, 3)
	// Q1 by priority, then Q2 before Q3 on the pillar tie-break.
	assert.Equal(t, "Q1", qs[0].Key)
	assert.Equal(t, "Q2", qs[1].Key)
	assert.Equal(t, "Q3", qs[2].Key)
}
