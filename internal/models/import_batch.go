package models

import "time"

// ImportBatch lifecycle states persisted in Postgres.
const (
	ImportPending    = "PENDING"
	ImportProcessing = "PROCESSING"
	ImportCompleted  = "COMPLETED"
	ImportFailed     = "FAILED"
)

// ImportBatch tracks one uploaded CSV file through asynchronous processing.
type ImportBatch struct {
	ID              string     `json:"id"`
	FileName        string     `json:"file_name"`
	StoredPath      string     `json:"-"`
	UploadedBy      *string    `json:"uploaded_by,omitempty"`
	Status          string     `json:"status"`
	RowsTotal       int        `json:"rows_total"`
	RowsProcessed   int        `json:"rows_processed"`
	ProgressPercent float64    `json:"progress_percent"`
	CreatedCount    int        `json:"created_count"`
	UpdatedCount    int        `json:"updated_count"`
	UsersCreated    int        `json:"users_created_count"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// ElapsedSeconds reports processing wall time so far, or the final duration
// once the batch is finished.
func (b ImportBatch) ElapsedSeconds() float64 {
	if b.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if b.FinishedAt != nil {
		end = *b.FinishedAt
	}
	return end.Sub(*b.StartedAt).Seconds()
}

// Progress recomputes the processed percentage from the row counters.
func (b *ImportBatch) Progress() float64 {
	if b.RowsTotal <= 0 {
		return 0
	}
	b.ProgressPercent = float64(b.RowsProcessed) / float64(b.RowsTotal) * 100
	return b.ProgressPercent
}
