package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pillarscope/internal/review"
)

// UpsertAnswer writes an answer with last-write-wins semantics on the
// (session_id, question_key) pair. Resubmission replaces text, confidence,
// and source; created_at survives.
func (s *Store) UpsertAnswer(ctx context.Context, a *review.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (session_id, question_key, answer, confidence, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, question_key) DO UPDATE SET
			answer = excluded.answer,
			confidence = excluded.confidence,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		a.SessionID, a.QuestionKey, a.Text, a.Confidence, string(a.Source), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert answer %s/%s: %w", a.SessionID, a.QuestionKey, err)
	}

	s.logger.Debug("answer upserted",
		zap.String("session_id", a.SessionID),
		zap.String("question_key", a.QuestionKey),
		zap.String("source", string(a.Source)))
	return nil
}

// InsertAnswerIfAbsent writes an answer only when the (session, question)
// pair has none yet. It reports whether a row was written; an existing
// answer is never overwritten, whatever its source.
func (s *Store) InsertAnswerIfAbsent(ctx context.Context, a *review.Answer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (session_id, question_key, answer, confidence, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, question_key) DO NOTHING`,
		a.SessionID, a.QuestionKey, a.Text, a.Confidence, string(a.Source), now, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert answer %s/%s: %w", a.SessionID, a.QuestionKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListAnswers returns every answer recorded for a session, all sources.
func (s *Store) ListAnswers(ctx context.Context, sessionID string) ([]review.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, question_key, answer, confidence, source, created_at, updated_at
		 FROM answers WHERE session_id = ?`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query answers for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var answers []review.Answer
	for rows.Next() {
		var a review.Answer
		var source string
		if err := rows.Scan(&a.SessionID, &a.QuestionKey, &a.Text, &a.Confidence,
			&source, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Source = review.AnswerSource(source)
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
