package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"inss-case-tracker/internal/models"
)

// ErrTaskNotFound is returned when a protocol has no row.
var ErrTaskNotFound = errors.New("task not found")

const taskColumns = `
	protocol, pending_subtasks, unit_code, service_name, status, compliance_description,
	assignee_siape, assignee_cpf, assignee_name, assignee_unit_code, assignee_unit_name,
	distribution_date, last_update_date, deadline_date, requirement_start, requirement_end, processed_at,
	reopened, days_last_requirement, days_pending, days_in_requirement, days_to_last_distribution,
	criticality_level, applied_rule, alert, description, days_pending_calc, deadline_limit_calc, score, color, calculated_at,
	has_active_justification, has_approved_justification, has_help_request, service_excluded,
	active, queue_type`

func scanTask(row pgx.Row) (models.Task, error) {
	var t models.Task
	var siape, cpf, name, auc, aun pgtype.Text
	if err := row.Scan(
		&t.Protocol, &t.PendingSubtasks, &t.UnitCode, &t.ServiceName, &t.Status, &t.ComplianceDescription,
		&siape, &cpf, &name, &auc, &aun,
		&t.DistributionDate, &t.LastUpdateDate, &t.DeadlineDate, &t.RequirementStart, &t.RequirementEnd, &t.ProcessedAt,
		&t.Reopened, &t.DaysLastRequirement, &t.DaysPending, &t.DaysInRequirement, &t.DaysToLastDistribution,
		&t.CriticalityLevel, &t.AppliedRule, &t.Alert, &t.Description, &t.DaysPendingCalc, &t.DeadlineLimitCalc, &t.Score, &t.Color, &t.CalculatedAt,
		&t.HasActiveJustification, &t.HasApprovedJustification, &t.HasHelpRequest, &t.ServiceExcluded,
		&t.Active, &t.QueueType,
	); err != nil {
		return models.Task{}, err
	}
	t.AssigneeSIAPE = textPtr(siape)
	t.AssigneeCPF = textPtr(cpf)
	t.AssigneeName = textPtr(name)
	t.AssigneeUnitCode = textPtr(auc)
	t.AssigneeUnitName = textPtr(aun)
	return t, nil
}

// GetTask fetches one task by protocol.
func (s *Store) GetTask(ctx context.Context, protocol string) (models.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE protocol = $1`, protocol)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("scan task %s: %w", protocol, err)
	}
	return t, nil
}

// ExistingProtocols reports which of the given protocols already have rows.
func (s *Store) ExistingProtocols(ctx context.Context, protocols []string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT protocol FROM tasks WHERE protocol = ANY($1)`, protocols)
	if err != nil {
		return nil, fmt.Errorf("query existing protocols: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool, len(protocols))
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan protocol: %w", err)
		}
		out[p] = true
	}
	return out, rows.Err()
}

// ApplyChunk reconciles one import chunk atomically. The mirror-field upsert,
// the analyzer cache rewrite, and the history snapshots commit or roll back
// together, so a crash mid-chunk never leaves tasks overwritten with stale
// criticality or missing history. Returns created and updated counts.
func (s *Store) ApplyChunk(ctx context.Context, tasks []models.Task, snaps []models.TaskHistory) (int, int, error) {
	if len(tasks) == 0 {
		return 0, 0, nil
	}

	protocols := make([]string, len(tasks))
	for i, t := range tasks {
		protocols[i] = t.Protocol
	}
	existing, err := s.ExistingProtocols(ctx, protocols)
	if err != nil {
		return 0, 0, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	batch := &pgx.Batch{}
	created, updated := 0, 0
	for _, t := range tasks {
		if existing[t.Protocol] {
			batch.Queue(`
				UPDATE tasks SET
					pending_subtasks = $2, unit_code = $3, service_name = $4, status = $5, compliance_description = $6,
					assignee_siape = $7, assignee_cpf = $8, assignee_name = $9, assignee_unit_code = $10, assignee_unit_name = $11,
					distribution_date = $12, last_update_date = $13, deadline_date = $14, requirement_start = $15, requirement_end = $16, processed_at = $17,
					reopened = $18, days_last_requirement = $19, days_pending = $20, days_in_requirement = $21, days_to_last_distribution = $22,
					queue_type = $23, active = TRUE, updated_at = NOW()
				WHERE protocol = $1
			`, t.Protocol, t.PendingSubtasks, t.UnitCode, t.ServiceName, t.Status, t.ComplianceDescription,
				t.AssigneeSIAPE, t.AssigneeCPF, t.AssigneeName, t.AssigneeUnitCode, t.AssigneeUnitName,
				t.DistributionDate, t.LastUpdateDate, t.DeadlineDate, t.RequirementStart, t.RequirementEnd, t.ProcessedAt,
				t.Reopened, t.DaysLastRequirement, t.DaysPending, t.DaysInRequirement, t.DaysToLastDistribution,
				t.QueueType)
			updated++
		} else {
			batch.Queue(`
				INSERT INTO tasks (
					protocol, pending_subtasks, unit_code, service_name, status, compliance_description,
					assignee_siape, assignee_cpf, assignee_name, assignee_unit_code, assignee_unit_name,
					distribution_date, last_update_date, deadline_date, requirement_start, requirement_end, processed_at,
					reopened, days_last_requirement, days_pending, days_in_requirement, days_to_last_distribution,
					queue_type, active)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,TRUE)
				ON CONFLICT (protocol) DO NOTHING
			`, t.Protocol, t.PendingSubtasks, t.UnitCode, t.ServiceName, t.Status, t.ComplianceDescription,
				t.AssigneeSIAPE, t.AssigneeCPF, t.AssigneeName, t.AssigneeUnitCode, t.AssigneeUnitName,
				t.DistributionDate, t.LastUpdateDate, t.DeadlineDate, t.RequirementStart, t.RequirementEnd, t.ProcessedAt,
				t.Reopened, t.DaysLastRequirement, t.DaysPending, t.DaysInRequirement, t.DaysToLastDistribution,
				t.QueueType)
			created++
		}
		queueComputedUpdate(batch, t)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, 0, fmt.Errorf("exec reconcile batch: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, 0, fmt.Errorf("close batch: %w", err)
	}
	if err := copySnapshots(ctx, tx, snaps); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return created, updated, nil
}

// queueComputedUpdate appends the analyzer cache rewrite for one task. The
// suppression flags are part of the cache: the recalculate path re-reads them
// from these columns, so skipping them would desynchronize import and recalc.
func queueComputedUpdate(batch *pgx.Batch, t models.Task) {
	batch.Queue(`
		UPDATE tasks SET
			criticality_level = $2, applied_rule = $3, alert = $4, description = $5,
			days_pending_calc = $6, deadline_limit_calc = $7, score = $8, color = $9,
			calculated_at = $10, service_excluded = $11, has_approved_justification = $12,
			updated_at = NOW()
		WHERE protocol = $1
	`, t.Protocol, t.CriticalityLevel, t.AppliedRule, t.Alert, t.Description,
		t.DaysPendingCalc, t.DeadlineLimitCalc, t.Score, t.Color, t.CalculatedAt,
		t.ServiceExcluded, t.HasApprovedJustification)
}

// UpdateComputed writes the analyzer output cache for a set of tasks. Used by
// the recalculate path, where tasks were read from the table and already carry
// their suppression flags.
func (s *Store) UpdateComputed(ctx context.Context, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range tasks {
		queueComputedUpdate(batch, t)
	}
	br := s.pool.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("exec computed batch: %w", err)
		}
	}
	return br.Close()
}

// ArchiveMissing deactivates every active task whose protocol is not in the
// given extract. Returns the number of archived rows.
func (s *Store) ArchiveMissing(ctx context.Context, extractProtocols []string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET active = FALSE, updated_at = NOW()
		WHERE active AND NOT (protocol = ANY($1))
	`, extractProtocols)
	if err != nil {
		return 0, fmt.Errorf("archive missing tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ActiveProtocols lists every active protocol, for archival diagnostics.
func (s *Store) ActiveProtocols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT protocol FROM tasks WHERE active`)
	if err != nil {
		return nil, fmt.Errorf("query active protocols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan protocol: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// TaskFilter narrows ListTasks. Zero values mean no restriction.
type TaskFilter struct {
	Level           string
	QueueType       string
	AssigneeSIAPE   string
	ServiceName     string
	UnitCode        int
	Search          string
	IncludeArchived bool
	Limit           int
	Offset          int
}

// ListTasks returns tasks matching the filter ordered by score then days
// pending, both descending, so the most urgent work comes first.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}
	n := 0
	add := func(cond string, v any) {
		n++
		q += fmt.Sprintf(" AND "+cond, n)
		args = append(args, v)
	}

	if !f.IncludeArchived {
		q += " AND active"
	}
	if f.Level != "" {
		add("criticality_level = $%d", f.Level)
	}
	if f.QueueType != "" {
		add("queue_type = $%d", f.QueueType)
	}
	if f.AssigneeSIAPE != "" {
		add("assignee_siape = $%d", f.AssigneeSIAPE)
	}
	if f.ServiceName != "" {
		add("service_name = $%d", f.ServiceName)
	}
	if f.UnitCode != 0 {
		add("unit_code = $%d", f.UnitCode)
	}
	if f.Search != "" {
		n++
		q += fmt.Sprintf(" AND (protocol ILIKE $%d OR assignee_name ILIKE $%d)", n, n)
		args = append(args, "%"+f.Search+"%")
	}

	q += " ORDER BY score DESC, days_pending DESC, protocol"
	if f.Limit > 0 {
		n++
		q += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, f.Limit)
	}
	if f.Offset > 0 {
		n++
		q += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LevelCounts aggregates active tasks per criticality level.
func (s *Store) LevelCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT criticality_level, COUNT(*) FROM tasks WHERE active GROUP BY criticality_level
	`)
	if err != nil {
		return nil, fmt.Errorf("count levels: %w", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var level string
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("scan level count: %w", err)
		}
		out[level] = n
	}
	return out, rows.Err()
}

// QueueCounts aggregates active tasks per queue, split by criticality.
type QueueCount struct {
	QueueType string `json:"queue_type"`
	Total     int64  `json:"total"`
	Critical  int64  `json:"critical"`
}

func (s *Store) QueueCounts(ctx context.Context) ([]QueueCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT queue_type,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE criticality_level = $1)
		FROM tasks WHERE active GROUP BY queue_type
	`, models.LevelCritical)
	if err != nil {
		return nil, fmt.Errorf("count queues: %w", err)
	}
	defer rows.Close()

	var out []QueueCount
	for rows.Next() {
		var qc QueueCount
		if err := rows.Scan(&qc.QueueType, &qc.Total, &qc.Critical); err != nil {
			return nil, fmt.Errorf("scan queue count: %w", err)
		}
		out = append(out, qc)
	}
	return out, rows.Err()
}

// AssigneeCount is per-servidor workload for the coordination dashboard.
type AssigneeCount struct {
	SIAPE    string `json:"siape"`
	Name     string `json:"name"`
	Total    int64  `json:"total"`
	Critical int64  `json:"critical"`
}

func (s *Store) AssigneeCounts(ctx context.Context) ([]AssigneeCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT assignee_siape, COALESCE(MAX(assignee_name), ''),
		       COUNT(*),
		       COUNT(*) FILTER (WHERE criticality_level = $1)
		FROM tasks
		WHERE active AND assignee_siape IS NOT NULL
		GROUP BY assignee_siape
		ORDER BY COUNT(*) FILTER (WHERE criticality_level = $1) DESC, COUNT(*) DESC
	`, models.LevelCritical)
	if err != nil {
		return nil, fmt.Errorf("count assignees: %w", err)
	}
	defer rows.Close()

	var out []AssigneeCount
	for rows.Next() {
		var ac AssigneeCount
		if err := rows.Scan(&ac.SIAPE, &ac.Name, &ac.Total, &ac.Critical); err != nil {
			return nil, fmt.Errorf("scan assignee count: %w", err)
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

// TasksForRecalc streams every active task through fn in pages, so a full
// recompute does not hold the whole table in memory.
func (s *Store) TasksForRecalc(ctx context.Context, pageSize int, fn func([]models.Task) error) error {
	if pageSize <= 0 {
		pageSize = 2000
	}
	last := ""
	for {
		rows, err := s.pool.Query(ctx, `
			SELECT `+taskColumns+` FROM tasks
			WHERE active AND protocol > $1
			ORDER BY protocol LIMIT $2
		`, last, pageSize)
		if err != nil {
			return fmt.Errorf("query recalc page: %w", err)
		}
		page := make([]models.Task, 0, pageSize)
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("scan recalc task: %w", err)
			}
			page = append(page, t)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		last = page[len(page)-1].Protocol
		if len(page) < pageSize {
			return nil
		}
	}
}

// TouchCalculatedAt stamps calculated_at for protocols that were analyzed but
// unchanged, so staleness checks stay honest.
func (s *Store) TouchCalculatedAt(ctx context.Context, protocols []string, at time.Time) error {
	if len(protocols) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE tasks SET calculated_at = $2 WHERE protocol = ANY($1)
	`, protocols, at)
	return err
}
