package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"pillarscope/internal/collector"
	"pillarscope/internal/review"
)

const autoAnswerSystem = `You are a cloud architecture reviewer. You answer
framework questions strictly from the environment data you are given. Reply
with a single JSON object:
{"answers":[{"question_key":"...","answer":"...","confidence":0.0}],
 "unanswered":[{"question_key":"...","reason":"..."}]}
Only include an answer when the data justifies it. Confidence is in [0,1].`

const derivationSystem = `You are a cloud architecture reviewer processing an
interview answer. First assess the primary answer, then check which of the
listed open questions it also answers. Reply with a single JSON object:
{"assessment":"...",
 "derived_answers":[{"question_key":"...","answer":"...","confidence":0.0,"justification":"..."}]}
Only derive an answer when the text reasonably supports it. Never invent
question keys outside the provided list.`

const reportSystem = `You are a cloud architecture reviewer writing the final
assessment. Reply with a single JSON object:
{"overall_score":0.0,
 "pillars":[{"pillar":"...","score":0.0,"status":"...","strengths":[],"weaknesses":[],"recommendations":[]}],
 "critical_issues":[],"quick_wins":[],
 "action_plan":{"immediate":[],"short_term":[],"long_term":[]},
 "cost_impact":"..."}
Scores are in [0,10]. Ground every finding in the answers and environment
data provided.`

func buildAutoAnswerPrompt(snapshot *collector.Snapshot, questions []review.Question) (string, error) {
	snapJSON, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	var b strings.Builder
	b.WriteString("Environment data (some categories may be unavailable):\n")
	b.Write(snapJSON)
	b.WriteString("\n\nReview questions:\n")
	writeQuestionList(&b, questions)
	b.WriteString("\nAnswer every question the data supports; list the rest as unanswered with a reason.")
	return b.String(), nil
}

func buildDerivationPrompt(question *review.Question, answerText string, candidates []review.Question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question %s (%s / %s): %s\n", question.Key, question.Pillar, question.Category, question.Text)
	fmt.Fprintf(&b, "User answer:\n%s\n\n", answerText)
	b.WriteString("Open questions that may be answerable from the same text:\n")
	writeQuestionList(&b, candidates)
	return b.String()
}

func buildReportPrompt(answered []AnsweredQuestion, pillars []review.Pillar, snapshot []byte) string {
	var b strings.Builder
	b.WriteString("Pillars:\n")
	for _, p := range pillars {
		fmt.Fprintf(&b, "- %s: %s\n", p.Name, p.Description)
	}
	b.WriteString("\nCompleted interview (question, source, confidence, answer):\n")
	for _, aq := range answered {
		fmt.Fprintf(&b, "- [%s] %s (%s / %s)\n  source=%s confidence=%.2f\n  %s\n",
			aq.Question.Key, aq.Question.Text, aq.Question.Pillar, aq.Question.Category,
			aq.Answer.Source, aq.Answer.Confidence, aq.Answer.Text)
	}
	if len(snapshot) > 0 {
		b.WriteString("\nEnvironment snapshot:\n")
		b.Write(snapshot)
		b.WriteString("\n")
	}
	b.WriteString("\nWrite the full assessment report.")
	return b.String()
}

func writeQuestionList(b *strings.Builder, questions []review.Question) {
	for _, q := range questions {
		fmt.Fprintf(b, "- key=%s pillar=%s category=%s priority=%d: %s\n",
			q.Key, q.Pillar, q.Category, q.Priority, q.Text)
	}
}
