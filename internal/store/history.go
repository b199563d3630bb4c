package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"inss-case-tracker/internal/models"
)

// copyFromer is satisfied by both *pgxpool.Pool and pgx.Tx, so snapshots can
// join the chunk transaction.
type copyFromer interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// copySnapshots bulk-inserts history rows for one import batch. CopyFrom is
// used because a full extract snapshots every row every day.
func copySnapshots(ctx context.Context, db copyFromer, snaps []models.TaskHistory) error {
	if len(snaps) == 0 {
		return nil
	}
	_, err := db.CopyFrom(ctx,
		pgx.Identifier{"task_history"},
		[]string{
			"protocol", "batch_id", "status", "compliance_description",
			"assignee_siape", "assignee_cpf", "assignee_name", "assignee_unit_code", "assignee_unit_name",
			"distribution_date", "last_update_date", "deadline_date", "requirement_start", "requirement_end", "processed_at",
			"reopened", "days_last_requirement", "days_pending", "days_in_requirement", "days_to_last_distribution",
			"recorded_at",
		},
		pgx.CopyFromSlice(len(snaps), func(i int) ([]any, error) {
			h := snaps[i]
			return []any{
				h.Protocol, h.BatchID, h.Status, h.ComplianceDescription,
				h.AssigneeSIAPE, h.AssigneeCPF, h.AssigneeName, h.AssigneeUnitCode, h.AssigneeUnitName,
				h.DistributionDate, h.LastUpdateDate, h.DeadlineDate, h.RequirementStart, h.RequirementEnd, h.ProcessedAt,
				h.Reopened, h.DaysLastRequirement, h.DaysPending, h.DaysInRequirement, h.DaysToLastDistribution,
				h.RecordedAt,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy task history: %w", err)
	}
	return nil
}

// TaskHistoryFor returns snapshots for one protocol, newest first.
func (s *Store) TaskHistoryFor(ctx context.Context, protocol string, limit int) ([]models.TaskHistory, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, protocol, batch_id, status, compliance_description,
		       assignee_siape, assignee_cpf, assignee_name, assignee_unit_code, assignee_unit_name,
		       distribution_date, last_update_date, deadline_date, requirement_start, requirement_end, processed_at,
		       reopened, days_last_requirement, days_pending, days_in_requirement, days_to_last_distribution,
		       recorded_at
		FROM task_history WHERE protocol = $1 ORDER BY recorded_at DESC LIMIT $2
	`, protocol, limit)
	if err != nil {
		return nil, fmt.Errorf("query task history: %w", err)
	}
	defer rows.Close()

	var out []models.TaskHistory
	for rows.Next() {
		var h models.TaskHistory
		if err := rows.Scan(
			&h.ID, &h.Protocol, &h.BatchID, &h.Status, &h.ComplianceDescription,
			&h.AssigneeSIAPE, &h.AssigneeCPF, &h.AssigneeName, &h.AssigneeUnitCode, &h.AssigneeUnitName,
			&h.DistributionDate, &h.LastUpdateDate, &h.DeadlineDate, &h.RequirementStart, &h.RequirementEnd, &h.ProcessedAt,
			&h.Reopened, &h.DaysLastRequirement, &h.DaysPending, &h.DaysInRequirement, &h.DaysToLastDistribution,
			&h.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task history: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
