package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"pillarscope/internal/review"
)

// SeedBank loads the question framework into the store. Seeding is
// idempotent: re-running with the same bank is a no-op, and text edits in
// the bank replace the stored copies.
func (s *Store) SeedBank(ctx context.Context, bank *review.Bank) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range bank.Pillars {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pillars (name, description) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET description = excluded.description`,
			p.Name, p.Description,
		); err != nil {
			return fmt.Errorf("failed to seed pillar %s: %w", p.Name, err)
		}
	}
	for _, q := range bank.Questions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO questions (key, text, category, pillar, priority) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET
				text = excluded.text,
				category = excluded.category,
				pillar = excluded.pillar,
				priority = excluded.priority`,
			q.Key, q.Text, q.Category, q.Pillar, q.Priority,
		); err != nil {
			return fmt.Errorf("failed to seed question %s: %w", q.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}

	s.logger.Info("question bank seeded",
		zap.Int("pillars", len(bank.Pillars)),
		zap.Int("questions", len(bank.Questions)))
	return nil
}

// ListQuestions returns the full question bank.
func (s *Store) ListQuestions(ctx context.Context) ([]review.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, text, category, pillar, priority FROM questions`)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	var qs []review.Question
	for rows.Next() {
		var q review.Question
		if err := rows.Scan(&q.Key, &q.Text, &q.Category, &q.Pillar, &q.Priority); err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	return qs, rows.Err()
}

// GetQuestion loads one question by key. Returns review.ErrNotFound for
// unknown keys.
func (s *Store) GetQuestion(ctx context.Context, key string) (*review.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var q review.Question
	err := s.db.QueryRowContext(ctx,
		`SELECT key, text, category, pillar, priority FROM questions WHERE key = ?`, key,
	).Scan(&q.Key, &q.Text, &q.Category, &q.Pillar, &q.Priority)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("question %s: %w", key, review.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load question %s: %w", key, err)
	}
	return &q, nil
}

// ListPillars returns the pillar reference data.
func (s *Store) ListPillars(ctx context.Context) ([]review.Pillar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT name, description FROM pillars ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pillars: %w", err)
	}
	defer rows.Close()

	var ps []review.Pillar
	for rows.Next() {
		var p review.Pillar
		if err := rows.Scan(&p.Name, &p.Description); err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, rows.Err()
}
