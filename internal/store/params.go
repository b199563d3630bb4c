package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"inss-case-tracker/internal/models"
)

// ActiveParams returns the active analysis thresholds, creating the default
// row on first use so the analyzer never runs without parameters.
func (s *Store) ActiveParams(ctx context.Context) (models.AnalysisParams, error) {
	p, err := s.activeParams(ctx)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.AnalysisParams{}, err
	}

	def := models.DefaultAnalysisParams()
	// ON CONFLICT covers a concurrent first-use race on the partial index.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO analysis_params (review_window_days, tolerance_days, post_deadline_window_days, first_action_window_days, active, notes)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		ON CONFLICT DO NOTHING
	`, def.ReviewWindowDays, def.ToleranceDays, def.PostDeadlineWindowDays, def.FirstActionWindowDays, def.Notes)
	if err != nil {
		return models.AnalysisParams{}, fmt.Errorf("insert default params: %w", err)
	}
	return s.activeParams(ctx)
}

func (s *Store) activeParams(ctx context.Context) (models.AnalysisParams, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, review_window_days, tolerance_days, post_deadline_window_days, first_action_window_days,
		       active, notes, updated_by, created_at, updated_at
		FROM analysis_params WHERE active
	`)
	var p models.AnalysisParams
	if err := row.Scan(&p.ID, &p.ReviewWindowDays, &p.ToleranceDays, &p.PostDeadlineWindowDays, &p.FirstActionWindowDays,
		&p.Active, &p.Notes, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.AnalysisParams{}, pgx.ErrNoRows
		}
		return models.AnalysisParams{}, fmt.Errorf("scan active params: %w", err)
	}
	return p, nil
}

// SaveParams deactivates the current row, inserts the new thresholds as the
// single active set and writes one audit row per changed field, all in one
// transaction.
func (s *Store) SaveParams(ctx context.Context, p models.AnalysisParams, reason string) (models.AnalysisParams, error) {
	if err := p.Validate(); err != nil {
		return models.AnalysisParams{}, err
	}

	prev, err := s.ActiveParams(ctx)
	if err != nil {
		return models.AnalysisParams{}, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.AnalysisParams{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if _, err := tx.Exec(ctx, `UPDATE analysis_params SET active = FALSE, updated_at = NOW() WHERE active`); err != nil {
		return models.AnalysisParams{}, fmt.Errorf("deactivate params: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO analysis_params (review_window_days, tolerance_days, post_deadline_window_days, first_action_window_days, active, notes, updated_by)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6)
		RETURNING id
	`, p.ReviewWindowDays, p.ToleranceDays, p.PostDeadlineWindowDays, p.FirstActionWindowDays, p.Notes, p.UpdatedBy).Scan(&id)
	if err != nil {
		return models.AnalysisParams{}, fmt.Errorf("insert params: %w", err)
	}

	changes := []struct {
		field    string
		old, new int
	}{
		{"review_window_days", prev.ReviewWindowDays, p.ReviewWindowDays},
		{"tolerance_days", prev.ToleranceDays, p.ToleranceDays},
		{"post_deadline_window_days", prev.PostDeadlineWindowDays, p.PostDeadlineWindowDays},
		{"first_action_window_days", prev.FirstActionWindowDays, p.FirstActionWindowDays},
	}
	for _, c := range changes {
		if c.old == c.new {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO analysis_params_audit (params_id, field, old_value, new_value, changed_by, reason)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, c.field, c.old, c.new, p.UpdatedBy, reason); err != nil {
			return models.AnalysisParams{}, fmt.Errorf("insert params audit: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.AnalysisParams{}, fmt.Errorf("commit: %w", err)
	}
	return s.ActiveParams(ctx)
}

// ParamsAuditLog lists recorded threshold changes, newest first.
func (s *Store) ParamsAuditLog(ctx context.Context, limit int) ([]models.ParamsAudit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, params_id, field, old_value, new_value, changed_by, reason, changed_at
		FROM analysis_params_audit ORDER BY changed_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query params audit: %w", err)
	}
	defer rows.Close()

	var out []models.ParamsAudit
	for rows.Next() {
		var a models.ParamsAudit
		if err := rows.Scan(&a.ID, &a.ParamsID, &a.Field, &a.OldValue, &a.NewValue, &a.ChangedBy, &a.Reason, &a.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan params audit: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
