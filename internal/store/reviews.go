package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"inss-case-tracker/internal/models"
)

// ErrReviewNotFound is returned when a justification or help request id is unknown.
var ErrReviewNotFound = errors.New("review not found")

// CreateJustification files a justification and flags the task so the
// dashboard shows it immediately, before review.
func (s *Store) CreateJustification(ctx context.Context, j models.Justification) (models.Justification, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Justification{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	err = tx.QueryRow(ctx, `
		INSERT INTO justifications (protocol, siape, reason, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, j.Protocol, j.SIAPE, j.Reason, models.JustificationPending).Scan(&j.ID, &j.CreatedAt)
	if err != nil {
		return models.Justification{}, fmt.Errorf("insert justification: %w", err)
	}
	j.Status = models.JustificationPending

	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET has_active_justification = TRUE, updated_at = NOW() WHERE protocol = $1
	`, j.Protocol); err != nil {
		return models.Justification{}, fmt.Errorf("flag task justification: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Justification{}, fmt.Errorf("commit: %w", err)
	}
	return j, nil
}

// ReviewJustification applies an APPROVED or REJECTED decision and re-syncs
// the task flag from the remaining open or approved justifications.
func (s *Store) ReviewJustification(ctx context.Context, id int64, status, reviewedBy, note string) error {
	if status != models.JustificationApproved && status != models.JustificationRejected {
		return fmt.Errorf("invalid justification status %q", status)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var protocol string
	err = tx.QueryRow(ctx, `
		UPDATE justifications SET status = $2, reviewed_by = $3, review_note = $4, reviewed_at = NOW()
		WHERE id = $1
		RETURNING protocol
	`, id, status, reviewedBy, note).Scan(&protocol)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrReviewNotFound
	}
	if err != nil {
		return fmt.Errorf("review justification: %w", err)
	}

	// Active means pending or approved; a rejection alone does not clear it
	// while another justification is still open. Only the approved flag feeds
	// the analyzer.
	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET
			has_active_justification = EXISTS (
				SELECT 1 FROM justifications
				WHERE protocol = $1 AND status IN ($2, $3)
			),
			has_approved_justification = EXISTS (
				SELECT 1 FROM justifications
				WHERE protocol = $1 AND status = $3
			),
			updated_at = NOW()
		WHERE protocol = $1
	`, protocol, models.JustificationPending, models.JustificationApproved); err != nil {
		return fmt.Errorf("sync task justification flag: %w", err)
	}

	return tx.Commit(ctx)
}

// HasApprovedJustification reports whether the protocol currently carries an
// approved justification, which suppresses critical classification.
func (s *Store) HasApprovedJustification(ctx context.Context, protocol string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM justifications WHERE protocol = $1 AND status = $2)
	`, protocol, models.JustificationApproved).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("query approved justification: %w", err)
	}
	return ok, nil
}

// ApprovedJustificationProtocols returns every protocol with an approved
// justification, for bulk recomputes.
func (s *Store) ApprovedJustificationProtocols(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT protocol FROM justifications WHERE status = $1
	`, models.JustificationApproved)
	if err != nil {
		return nil, fmt.Errorf("query approved protocols: %w", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan protocol: %w", err)
		}
		out[p] = true
	}
	return out, rows.Err()
}

// ListJustifications returns justifications filtered by status; empty status
// means all.
func (s *Store) ListJustifications(ctx context.Context, status string, limit int) ([]models.Justification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, protocol, siape, reason, status, reviewed_by, review_note, created_at, reviewed_at
		FROM justifications
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query justifications: %w", err)
	}
	defer rows.Close()

	var out []models.Justification
	for rows.Next() {
		var j models.Justification
		var reviewedBy, note pgtype.Text
		if err := rows.Scan(&j.ID, &j.Protocol, &j.SIAPE, &j.Reason, &j.Status, &reviewedBy, &note, &j.CreatedAt, &j.ReviewedAt); err != nil {
			return nil, fmt.Errorf("scan justification: %w", err)
		}
		j.ReviewedBy = textPtr(reviewedBy)
		j.ReviewNote = textPtr(note)
		out = append(out, j)
	}
	return out, rows.Err()
}

// CreateHelpRequest files a help request and flags the task.
func (s *Store) CreateHelpRequest(ctx context.Context, h models.HelpRequest) (models.HelpRequest, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.HelpRequest{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	err = tx.QueryRow(ctx, `
		INSERT INTO help_requests (protocol, siape, message, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, h.Protocol, h.SIAPE, h.Message, models.HelpPending).Scan(&h.ID, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return models.HelpRequest{}, fmt.Errorf("insert help request: %w", err)
	}
	h.Status = models.HelpPending

	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET has_help_request = TRUE, updated_at = NOW() WHERE protocol = $1
	`, h.Protocol); err != nil {
		return models.HelpRequest{}, fmt.Errorf("flag task help request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.HelpRequest{}, fmt.Errorf("commit: %w", err)
	}
	return h, nil
}

// UpdateHelpRequest transitions a help request and clears the task flag once
// no open request remains.
func (s *Store) UpdateHelpRequest(ctx context.Context, id int64, status, handledBy string) error {
	switch status {
	case models.HelpPending, models.HelpInProgress, models.HelpDone, models.HelpCancelled:
	default:
		return fmt.Errorf("invalid help request status %q", status)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	var protocol string
	err = tx.QueryRow(ctx, `
		UPDATE help_requests SET status = $2, handled_by = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING protocol
	`, id, status, emptyToNil(handledBy)).Scan(&protocol)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrReviewNotFound
	}
	if err != nil {
		return fmt.Errorf("update help request: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET has_help_request = EXISTS (
			SELECT 1 FROM help_requests
			WHERE protocol = $1 AND status IN ($2, $3)
		), updated_at = NOW()
		WHERE protocol = $1
	`, protocol, models.HelpPending, models.HelpInProgress); err != nil {
		return fmt.Errorf("sync task help flag: %w", err)
	}

	return tx.Commit(ctx)
}

// ListHelpRequests returns help requests filtered by status; empty means all.
func (s *Store) ListHelpRequests(ctx context.Context, status string, limit int) ([]models.HelpRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, protocol, siape, message, status, handled_by, created_at, updated_at
		FROM help_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("query help requests: %w", err)
	}
	defer rows.Close()

	var out []models.HelpRequest
	for rows.Next() {
		var h models.HelpRequest
		var handledBy pgtype.Text
		if err := rows.Scan(&h.ID, &h.Protocol, &h.SIAPE, &h.Message, &h.Status, &handledBy, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan help request: %w", err)
		}
		h.HandledBy = textPtr(handledBy)
		out = append(out, h)
	}
	return out, rows.Err()
}
