package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"inss-case-tracker/internal/models"
)

// ErrBatchNotFound is returned when an import batch id is unknown.
var ErrBatchNotFound = errors.New("import batch not found")

// CreateImportBatch registers an uploaded file as PENDING and returns it.
func (s *Store) CreateImportBatch(ctx context.Context, fileName, storedPath string, uploadedBy *string) (models.ImportBatch, error) {
	b := models.ImportBatch{
		ID:         uuid.New().String(),
		FileName:   fileName,
		StoredPath: storedPath,
		UploadedBy: uploadedBy,
		Status:     models.ImportPending,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_batches (id, file_name, stored_path, uploaded_by, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, b.ID, b.FileName, b.StoredPath, b.UploadedBy, b.Status, b.CreatedAt)
	if err != nil {
		return models.ImportBatch{}, fmt.Errorf("insert import batch: %w", err)
	}
	return b, nil
}

// ClaimImportBatch transitions the batch to PROCESSING. A batch already in
// PROCESSING is claimable too: that is a lease reclaimed from a crashed
// worker, and refusing it would strand the batch mid-state forever. Only
// COMPLETED and FAILED batches reject the claim.
func (s *Store) ClaimImportBatch(ctx context.Context, id string) (models.ImportBatch, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE import_batches SET status = $2, started_at = NOW()
		WHERE id = $1 AND status IN ($3, $2)
	`, id, models.ImportProcessing, models.ImportPending)
	if err != nil {
		return models.ImportBatch{}, fmt.Errorf("claim import batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		b, err := s.GetImportBatch(ctx, id)
		if err != nil {
			return models.ImportBatch{}, err
		}
		return b, fmt.Errorf("batch %s not claimable in status %s", id, b.Status)
	}
	return s.GetImportBatch(ctx, id)
}

// UpdateImportProgress advances the processed counters mid-import.
func (s *Store) UpdateImportProgress(ctx context.Context, id string, rowsTotal, rowsProcessed, created, updated, usersCreated int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_batches
		SET rows_total = $2, rows_processed = $3, created_count = $4, updated_count = $5, users_created = $6
		WHERE id = $1
	`, id, rowsTotal, rowsProcessed, created, updated, usersCreated)
	return err
}

// CompleteImportBatch marks the batch COMPLETED with final counters.
func (s *Store) CompleteImportBatch(ctx context.Context, id string, rowsTotal, rowsProcessed, created, updated, usersCreated int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_batches
		SET status = $2, rows_total = $3, rows_processed = $4, created_count = $5, updated_count = $6, users_created = $7,
		    finished_at = NOW(), error_message = NULL
		WHERE id = $1
	`, id, models.ImportCompleted, rowsTotal, rowsProcessed, created, updated, usersCreated)
	return err
}

// FailImportBatch marks the batch FAILED and records the cause.
func (s *Store) FailImportBatch(ctx context.Context, id, cause string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_batches SET status = $2, error_message = $3, finished_at = NOW()
		WHERE id = $1
	`, id, models.ImportFailed, cause)
	return err
}

// GetImportBatch fetches a batch by id.
func (s *Store) GetImportBatch(ctx context.Context, id string) (models.ImportBatch, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, file_name, stored_path, uploaded_by, status, rows_total, rows_processed,
		       created_count, updated_count, users_created, error_message, created_at, started_at, finished_at
		FROM import_batches WHERE id = $1
	`, id)
	b, err := scanImportBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ImportBatch{}, ErrBatchNotFound
	}
	if err != nil {
		return models.ImportBatch{}, fmt.Errorf("scan import batch: %w", err)
	}
	return b, nil
}

// ListImportBatches returns recent batches, newest first.
func (s *Store) ListImportBatches(ctx context.Context, limit int) ([]models.ImportBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, file_name, stored_path, uploaded_by, status, rows_total, rows_processed,
		       created_count, updated_count, users_created, error_message, created_at, started_at, finished_at
		FROM import_batches ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query import batches: %w", err)
	}
	defer rows.Close()

	var out []models.ImportBatch
	for rows.Next() {
		b, err := scanImportBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanImportBatch(row pgx.Row) (models.ImportBatch, error) {
	var b models.ImportBatch
	var uploadedBy, errMsg pgtype.Text
	if err := row.Scan(
		&b.ID, &b.FileName, &b.StoredPath, &uploadedBy, &b.Status, &b.RowsTotal, &b.RowsProcessed,
		&b.CreatedCount, &b.UpdatedCount, &b.UsersCreated, &errMsg, &b.CreatedAt, &b.StartedAt, &b.FinishedAt,
	); err != nil {
		return models.ImportBatch{}, err
	}
	b.UploadedBy = textPtr(uploadedBy)
	b.ErrorMessage = textPtr(errMsg)
	b.Progress()
	return b, nil
}
