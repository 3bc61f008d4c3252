// Package review defines the domain model for guided cloud reviews:
// sessions, the question framework, answers, and the synthesized report.
package review

import (
	"errors"
	"math"
	"sort"
	"time"
)

// Sentinel errors shared across the store, orchestrator and transport layers.
var (
	ErrNotFound     = errors.New("not found")
	ErrNotReady     = errors.New("report not ready")
	ErrInvalidInput = errors.New("invalid input")
)

// Status is the lifecycle state of a review session.
//
// Transitions: processing -> {in_progress, failed};
// in_progress -> {in_progress, completed}. completed and failed are terminal.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// AnswerSource tags who produced an answer.
type AnswerSource string

const (
	SourceUser         AnswerSource = "user"
	SourceAgent        AnswerSource = "agent"
	SourceAgentDerived AnswerSource = "agent_derived"
)

// Pillar groups questions under a named category of the review framework.
type Pillar struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Question is a static, framework-defined evaluation item. The bank is
// seeded once at startup and is read-only to a running session.
type Question struct {
	Key      string `yaml:"key" json:"key"`
	Text     string `yaml:"text" json:"text"`
	Category string `yaml:"category" json:"category"`
	Pillar   string `yaml:"pillar" json:"pillar"`
	Priority int    `yaml:"priority" json:"priority"`
}

// Answer is a session-scoped response to one question. (SessionID,
// QuestionKey) is the uniqueness key; resubmission replaces the prior row.
type Answer struct {
	SessionID   string       `json:"session_id"`
	QuestionKey string       `json:"question_key"`
	Text        string       `json:"answer"`
	Confidence  float64      `json:"confidence"`
	Source      AnswerSource `json:"source"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// ProgressStep is one named step of the background pipeline.
type ProgressStep struct {
	Name string `json:"name"`
	Done bool   `json:"done"`
}

// Progress describes where the background pipeline currently is.
type Progress struct {
	StepIndex int            `json:"step_index"`
	Message   string         `json:"message"`
	Percent   int            `json:"percent"`
	Steps     []ProgressStep `json:"steps"`
}

// Session is one run of the guided assessment.
type Session struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Progress  Progress  `json:"progress"`
	Snapshot  []byte    `json:"snapshot,omitempty"`   // environment snapshot, may be partial
	EngineLog string    `json:"engine_log,omitempty"` // raw narrative engine outputs
	Report    *Report   `json:"report,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PillarAssessment is the per-pillar section of the final report.
type PillarAssessment struct {
	Pillar          string   `json:"pillar"`
	Score           float64  `json:"score"`
	Status          string   `json:"status"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
}

// ActionPlan stages recommended work by horizon.
type ActionPlan struct {
	Immediate []string `json:"immediate"`
	ShortTerm []string `json:"short_term"`
	LongTerm  []string `json:"long_term"`
}

// Report is the synthesized assessment produced once every question has an
// answer. Fallback is set when synthesis failed and placeholder content was
// emitted instead.
type Report struct {
	OverallScore   float64            `json:"overall_score"`
	Pillars        []PillarAssessment `json:"pillars"`
	CriticalIssues []string           `json:"critical_issues"`
	QuickWins      []string           `json:"quick_wins"`
	ActionPlan     ActionPlan         `json:"action_plan"`
	CostImpact     string             `json:"cost_impact"`
	Fallback       bool               `json:"fallback,omitempty"`
	GeneratedAt    time.Time          `json:"generated_at"`
}

// SortQuestions orders questions by descending priority, then pillar name,
// then category, then key. The tie-break is total, so polling clients always
// see the same "next question".
func SortQuestions(qs []Question) {
	sort.SliceStable(qs, func(i, j int) bool {
		a, b := qs[i], qs[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Pillar != b.Pillar {
			return a.Pillar < b.Pillar
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Key < b.Key
	})
}

// ProgressPercent computes the answered/total percentage. It is always
// recomputed from counts, never stored independently.
func ProgressPercent(answered, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(answered) / float64(total)))
}
