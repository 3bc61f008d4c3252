package interpret

import (
	"encoding/json"
	"time"

	"pillarscope/internal/review"
)

// AutoAnswer is one answer the engine produced directly from environment
// data, before any user interaction.
type AutoAnswer struct {
	QuestionKey string  `json:"question_key"`
	Answer      string  `json:"answer"`
	Confidence  float64 `json:"confidence"`
}

// UnansweredNote explains why the engine could not answer a question.
type UnansweredNote struct {
	QuestionKey string `json:"question_key"`
	Reason      string `json:"reason"`
}

// AutoAnswerPayload is the structured result of the auto-answering step.
type AutoAnswerPayload struct {
	Answers    []AutoAnswer     `json:"answers"`
	Unanswered []UnansweredNote `json:"unanswered"`
}

// DerivedAnswer is an answer inferred from a different question's
// user-submitted text.
type DerivedAnswer struct {
	QuestionKey   string  `json:"question_key"`
	Answer        string  `json:"answer"`
	Confidence    float64 `json:"confidence"`
	Justification string  `json:"justification"`
}

// DerivationPayload is the structured result of the question resolution
// call: an assessment of the primary answer plus any derived answers.
type DerivationPayload struct {
	Assessment string          `json:"assessment"`
	Derived    []DerivedAnswer `json:"derived_answers"`
}

// reportPayload mirrors the JSON shape requested from the engine for the
// final report. Kept unexported; callers receive a review.Report.
type reportPayload struct {
	OverallScore   float64 `json:"overall_score"`
	Pillars        []struct {
		Pillar          string   `json:"pillar"`
		Score           float64  `json:"score"`
		Status          string   `json:"status"`
		Strengths       []string `json:"strengths"`
		Weaknesses      []string `json:"weaknesses"`
		Recommendations []string `json:"recommendations"`
	} `json:"pillars"`
	CriticalIssues []string `json:"critical_issues"`
	QuickWins      []string `json:"quick_wins"`
	ActionPlan     struct {
		Immediate []string `json:"immediate"`
		ShortTerm []string `json:"short_term"`
		LongTerm  []string `json:"long_term"`
	} `json:"action_plan"`
	CostImpact string `json:"cost_impact"`
}

// DecodeAutoAnswers extracts an auto-answer payload from raw engine output.
// The second return is false when nothing usable was found; the payload is
// then the empty fallback and the caller proceeds with zero auto-answers.
func DecodeAutoAnswers(raw string) (AutoAnswerPayload, bool) {
	var best AutoAnswerPayload
	found := false
	for _, candidate := range jsonCandidates(stripFences(raw)) {
		var p AutoAnswerPayload
		if err := json.Unmarshal([]byte(candidate), &p); err != nil {
			continue
		}
		if len(p.Answers) == 0 && len(p.Unanswered) == 0 {
			continue
		}
		// Later candidates win: models often emit a corrected payload
		// after reasoning text containing an earlier draft.
		best = p
		found = true
	}
	return best, found
}

// DecodeDerivation extracts a derivation payload. On failure the fallback
// carries zero derived answers so the primary answer is never blocked.
func DecodeDerivation(raw string) (DerivationPayload, bool) {
	var best DerivationPayload
	found := false
	for _, candidate := range jsonCandidates(stripFences(raw)) {
		var p DerivationPayload
		if err := json.Unmarshal([]byte(candidate), &p); err != nil {
			continue
		}
		if p.Assessment == "" && len(p.Derived) == 0 {
			continue
		}
		best = p
		found = true
	}
	return best, found
}

// DecodeReport extracts a report from raw engine output. The second return
// is false when extraction failed entirely; callers must then fall back to
// FallbackReport so the session can still complete.
func DecodeReport(raw string) (*review.Report, bool) {
	for _, candidate := range jsonCandidates(stripFences(raw)) {
		var p reportPayload
		if err := json.Unmarshal([]byte(candidate), &p); err != nil {
			continue
		}
		if len(p.Pillars) == 0 && p.OverallScore == 0 {
			continue
		}
		r := &review.Report{
			OverallScore:   p.OverallScore,
			CriticalIssues: p.CriticalIssues,
			QuickWins:      p.QuickWins,
			CostImpact:     p.CostImpact,
			GeneratedAt:    time.Now().UTC(),
		}
		r.ActionPlan = review.ActionPlan{
			Immediate: p.ActionPlan.Immediate,
			ShortTerm: p.ActionPlan.ShortTerm,
			LongTerm:  p.ActionPlan.LongTerm,
		}
		for _, pp := range p.Pillars {
			r.Pillars = append(r.Pillars, review.PillarAssessment{
				Pillar:          pp.Pillar,
				Score:           pp.Score,
				Status:          pp.Status,
				Strengths:       pp.Strengths,
				Weaknesses:      pp.Weaknesses,
				Recommendations: pp.Recommendations,
			})
		}
		return r, true
	}
	return nil, false
}

// FallbackReport builds a minimal well-formed report for the given pillars.
// Emitted when synthesis fails outright; report absence would leave the
// session permanently unfinishable.
func FallbackReport(pillars []review.Pillar) *review.Report {
	r := &review.Report{
		OverallScore:   0,
		CriticalIssues: []string{},
		QuickWins:      []string{},
		ActionPlan: review.ActionPlan{
			Immediate: []string{},
			ShortTerm: []string{},
			LongTerm:  []string{},
		},
		CostImpact:  "unavailable",
		Fallback:    true,
		GeneratedAt: time.Now().UTC(),
	}
	for _, p := range pillars {
		r.Pillars = append(r.Pillars, review.PillarAssessment{
			Pillar:          p.Name,
			Status:          "unassessed",
			Strengths:       []string{},
			Weaknesses:      []string{},
			Recommendations: []string{},
		})
	}
	return r
}
