package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pillarscope/internal/review"
)

// CreateSession inserts a new session row. The row exists before
// StartReview returns to the caller.
func (s *Store) CreateSession(ctx context.Context, sess *review.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	progress, err := json.Marshal(sess.Progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, status, progress_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.ID, string(sess.Status), string(progress), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", sess.ID, err)
	}
	sess.CreatedAt = now
	sess.UpdatedAt = now

	s.logger.Debug("session created", zap.String("session_id", sess.ID))
	return nil
}

// GetSession loads one session. Returns review.ErrNotFound for unknown ids.
func (s *Store) GetSession(ctx context.Context, id string) (*review.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sess          review.Session
		status        string
		progressJSON  string
		snapshotJSON  sql.NullString
		reportJSON    sql.NullString
		errMsg        string
		engineLog     string
		reportClaimed int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, progress_json, snapshot_json, engine_log, report_json, error, report_claimed, created_at, updated_at
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &status, &progressJSON, &snapshotJSON, &engineLog,
		&reportJSON, &errMsg, &reportClaimed, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, review.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	sess.Status = review.Status(status)
	sess.Error = errMsg
	sess.EngineLog = engineLog
	if err := json.Unmarshal([]byte(progressJSON), &sess.Progress); err != nil {
		s.logger.Warn("corrupt progress json", zap.String("session_id", id), zap.Error(err))
	}
	if snapshotJSON.Valid {
		sess.Snapshot = []byte(snapshotJSON.String)
	}
	if reportJSON.Valid && reportJSON.String != "" {
		var r review.Report
		if err := json.Unmarshal([]byte(reportJSON.String), &r); err != nil {
			s.logger.Warn("corrupt report json", zap.String("session_id", id), zap.Error(err))
		} else {
			sess.Report = &r
		}
	}
	return &sess, nil
}

// UpdateProgress persists the progress descriptor for a session.
func (s *Store) UpdateProgress(ctx context.Context, id string, p review.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	progress, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET progress_json = ?, updated_at = ? WHERE id = ?`,
		string(progress), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update progress for %s: %w", id, err)
	}
	return requireRow(res, id)
}

// SetAnalysis stores the environment snapshot and accumulated raw engine
// output on the session.
func (s *Store) SetAnalysis(ctx context.Context, id string, snapshot []byte, engineLog string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET snapshot_json = ?, engine_log = ?, updated_at = ? WHERE id = ?`,
		string(snapshot), engineLog, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to store analysis for %s: %w", id, err)
	}
	return requireRow(res, id)
}

// TransitionStatus moves a session from one status to another. It returns
// false when the session was not in the expected source status, which makes
// the state machine race-safe without in-process locks.
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to review.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition %s %s->%s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		s.logger.Info("session status changed",
			zap.String("session_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
	}
	return n > 0, nil
}

// SetFailed marks a session failed with an error detail. Failure is
// recorded from any non-terminal status so a session is never left stuck in
// processing.
func (s *Store) SetFailed(ctx context.Context, id string, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, error = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		string(review.StatusFailed), detail, time.Now().UTC(), id,
		string(review.StatusCompleted), string(review.StatusFailed),
	)
	if err != nil {
		return fmt.Errorf("failed to mark session %s failed: %w", id, err)
	}
	return requireRow(res, id)
}

// ClaimReport atomically claims report synthesis for a session. Exactly one
// caller per session ever gets true.
func (s *Store) ClaimReport(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET report_claimed = 1, updated_at = ? WHERE id = ? AND report_claimed = 0`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim report for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetReport stores the synthesized report.
func (s *Store) SetReport(ctx context.Context, id string, r *review.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET report_json = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to store report for %s: %w", id, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, review.ErrNotFound)
	}
	return nil
}
