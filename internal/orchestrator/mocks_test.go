package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"pillarscope/internal/collector"
	"pillarscope/internal/engine"
	"pillarscope/internal/review"
)

// memStore is an in-memory Store with the same concurrency semantics as the
// SQLite-backed one: atomic status transitions and a single report claim.
type memStore struct {
	mu        sync.Mutex
	sessions  map[string]*review.Session
	claimed   map[string]bool
	questions []review.Question
	pillars   []review.Pillar
	answers   map[string]map[string]review.Answer // session -> question -> answer

	progressLog map[string][]review.Progress
}

func newMemStore(questions []review.Question, pillars []review.Pillar) *memStore {
	return &memStore{
		sessions:    make(map[string]*review.Session),
		claimed:     make(map[string]bool),
		questions:   questions,
		pillars:     pillars,
		answers:     make(map[string]map[string]review.Answer),
		progressLog: make(map[string][]review.Progress),
	}
}

func (m *memStore) CreateSession(ctx context.Context, sess *review.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *memStore) GetSession(ctx context.Context, id string) (*review.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, review.ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

func (m *memStore) UpdateProgress(ctx context.Context, id string, p review.Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, review.ErrNotFound)
	}
	sess.Progress = p
	m.progressLog[id] = append(m.progressLog[id], p)
	return nil
}

func (m *memStore) SetAnalysis(ctx context.Context, id string, snapshot []byte, engineLog string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, review.ErrNotFound)
	}
	sess.Snapshot = snapshot
	sess.EngineLog = engineLog
	return nil
}

func (m *memStore) TransitionStatus(ctx context.Context, id string, from, to review.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return false, fmt.Errorf("session %s: %w", id, review.ErrNotFound)
	}
	if sess.Status != from {
		return false, nil
	}
	sess.Status = to
	return true, nil
}

func (m *memStore) SetFailed(ctx context.Context, id string, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || sess.Status.Terminal() {
		return fmt.Errorf("session %s: %w", id, review.ErrNotFound)
	}
	sess.Status = review.StatusFailed
	sess.Error = detail
	return nil
}

func (m *memStore) ClaimReport(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed[id] {
		return false, nil
	}
	m.claimed[id] = true
	return true, nil
}

func (m *memStore) SetReport(ctx context.Context, id string, r *review.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, review.ErrNotFound)
	}
	sess.Report = r
	return nil
}

func (m *memStore) ListQuestions(ctx context.Context) ([]review.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]review.Question(nil), m.questions...), nil
}

func (m *memStore) GetQuestion(ctx context.Context, key string) (*review.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.questions {
		if q.Key == key {
			cp := q
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("question %s: %w", key, review.ErrNotFound)
}

func (m *memStore) ListPillars(ctx context.Context) ([]review.Pillar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]review.Pillar(nil), m.pillars...), nil
}

func (m *memStore) UpsertAnswer(ctx context.Context, a *review.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.answers[a.SessionID] == nil {
		m.answers[a.SessionID] = make(map[string]review.Answer)
	}
	m.answers[a.SessionID][a.QuestionKey] = *a
	return nil
}

func (m *memStore) InsertAnswerIfAbsent(ctx context.Context, a *review.Answer) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.answers[a.SessionID] == nil {
		m.answers[a.SessionID] = make(map[string]review.Answer)
	}
	if _, exists := m.answers[a.SessionID][a.QuestionKey]; exists {
		return false, nil
	}
	m.answers[a.SessionID][a.QuestionKey] = *a
	return true, nil
}

func (m *memStore) ListAnswers(ctx context.Context, sessionID string) ([]review.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []review.Answer
	for _, a := range m.answers[sessionID] {
		out = append(out, a)
	}
	return out, nil
}

func (m *memStore) progressHistory(id string) []review.Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]review.Progress(nil), m.progressLog[id]...)
}

func (m *memStore) answer(sessionID, key string) (review.Answer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.answers[sessionID][key]
	return a, ok
}

// mockProvider returns a canned snapshot or error.
type mockProvider struct {
	snapshot *collector.Snapshot
	err      error
}

func (p *mockProvider) Collect(ctx context.Context) (*collector.Snapshot, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.snapshot != nil {
		return p.snapshot, nil
	}
	return &collector.Snapshot{Results: map[collector.Category]collector.Result{
		collector.CategoryCost: {Category: collector.CategoryCost, OK: true},
	}}, nil
}

// gatedProvider blocks Collect until released, letting tests interleave
// submissions with a pipeline that is still collecting.
type gatedProvider struct {
	mockProvider
	release chan struct{}
}

func (p *gatedProvider) Collect(ctx context.Context) (*collector.Snapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.release:
	}
	return p.mockProvider.Collect(ctx)
}

// mockEngine scripts responses per invocation. InvokeFunc, when set, takes
// full control; otherwise responses are popped in order.
type mockEngine struct {
	mu         sync.Mutex
	InvokeFunc func(ctx context.Context, req engine.Request) (string, error)
	responses  []string
	calls      []engine.Request
}

func (e *mockEngine) Invoke(ctx context.Context, req engine.Request) (string, error) {
	e.mu.Lock()
	e.calls = append(e.calls, req)
	fn := e.InvokeFunc
	var next string
	if fn == nil {
		if len(e.responses) == 0 {
			e.mu.Unlock()
			return "", fmt.Errorf("mock engine: no scripted response")
		}
		next = e.responses[0]
		e.responses = e.responses[1:]
	}
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return next, nil
}

func (e *mockEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *mockEngine) agentCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c.Mode == engine.ModeAgent {
			n++
		}
	}
	return n
}
