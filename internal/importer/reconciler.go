package importer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"inss-case-tracker/internal/criticality"
	"inss-case-tracker/internal/models"
	"inss-case-tracker/internal/workqueue"
)

// Datastore is the persistence slice the reconciler drives. *store.Store
// satisfies it; tests use a fake.
type Datastore interface {
	ExistingSIAPEs(ctx context.Context, siapes []string) (map[string]bool, error)
	ProvisionServidor(ctx context.Context, sv models.Servidor) (bool, error)
	BackfillServidor(ctx context.Context, sv models.Servidor) error
	ApplyChunk(ctx context.Context, tasks []models.Task, snaps []models.TaskHistory) (int, int, error)
	ArchiveMissing(ctx context.Context, extractProtocols []string) (int64, error)
	UpdateImportProgress(ctx context.Context, id string, rowsTotal, rowsProcessed, created, updated, usersCreated int) error
	ActiveParams(ctx context.Context) (models.AnalysisParams, error)
	QueueRules(ctx context.Context) ([]workqueue.Rule, error)
	ApprovedJustificationProtocols(ctx context.Context) (map[string]bool, error)
	ExcludedServices(ctx context.Context) (map[string]bool, error)
}

// Reconciler turns one CSV extract into the new authoritative task state:
// parse, dedupe, classify, upsert, analyze, snapshot, then archive every
// active task the extract no longer mentions.
type Reconciler struct {
	store     Datastore
	parser    *Parser
	batchSize int
	pgbUnit   int
	log       *logrus.Logger

	// OnChunk runs after each persisted chunk; the worker uses it to extend
	// its queue lease on large files.
	OnChunk func(ctx context.Context)
}

// NewReconciler wires a reconciler with the given chunk size.
func NewReconciler(st Datastore, parser *Parser, batchSize, pgbUnit int, log *logrus.Logger) *Reconciler {
	if batchSize <= 0 {
		batchSize = 2000
	}
	return &Reconciler{store: st, parser: parser, batchSize: batchSize, pgbUnit: pgbUnit, log: log}
}

// Result summarizes one reconciled import.
type Result struct {
	RowsTotal    int
	RowsSkipped  int
	Deduplicated int
	Created      int
	Updated      int
	UsersCreated int
	Archived     int64
}

// Run processes the whole extract. Malformed rows are skipped and counted,
// never fatal; a storage error aborts and surfaces to the caller so the batch
// can be retried or dead-lettered.
func (r *Reconciler) Run(ctx context.Context, batchID string, file io.Reader, now time.Time) (Result, error) {
	var res Result

	tasks, skipped, err := r.parser.Read(file)
	if err != nil {
		return res, fmt.Errorf("parse extract: %w", err)
	}
	res.RowsTotal = len(tasks) + skipped
	res.RowsSkipped = skipped

	tasks, dropped := dedupeLastWins(tasks)
	res.Deduplicated = dropped

	params, err := r.store.ActiveParams(ctx)
	if err != nil {
		return res, fmt.Errorf("load params: %w", err)
	}
	rules, err := r.store.QueueRules(ctx)
	if err != nil {
		return res, fmt.Errorf("load queue rules: %w", err)
	}
	ruleSet := workqueue.NewRuleSet(r.pgbUnit, rules)
	approved, err := r.store.ApprovedJustificationProtocols(ctx)
	if err != nil {
		return res, fmt.Errorf("load approved justifications: %w", err)
	}
	excluded, err := r.store.ExcludedServices(ctx)
	if err != nil {
		return res, fmt.Errorf("load excluded services: %w", err)
	}

	allProtocols := make([]string, 0, len(tasks))
	// Skipped and deduplicated rows are already consumed, so the progress
	// counter reaches rows_total by the final chunk.
	processed := res.RowsSkipped + res.Deduplicated
	for start := 0; start < len(tasks); start += r.batchSize {
		end := start + r.batchSize
		if end > len(tasks) {
			end = len(tasks)
		}
		chunk := tasks[start:end]

		for i := range chunk {
			chunk[i].QueueType = ruleSet.Classify(chunk[i].ServiceName, chunk[i].UnitCode)
			chunk[i].ServiceExcluded = excluded[chunk[i].ServiceName]
			chunk[i].HasApprovedJustification = approved[chunk[i].Protocol]
		}

		users, err := r.provisionUsers(ctx, chunk)
		if err != nil {
			return res, err
		}
		res.UsersCreated += users

		snaps := make([]models.TaskHistory, len(chunk))
		for i := range chunk {
			out := criticality.Analyze(chunk[i], params, now)
			criticality.Apply(&chunk[i], out, now)
			snaps[i] = models.SnapshotOf(chunk[i], batchID, now)
			allProtocols = append(allProtocols, chunk[i].Protocol)
		}

		created, updated, err := r.store.ApplyChunk(ctx, chunk, snaps)
		if err != nil {
			return res, fmt.Errorf("apply chunk: %w", err)
		}
		res.Created += created
		res.Updated += updated

		processed += len(chunk)
		if err := r.store.UpdateImportProgress(ctx, batchID, res.RowsTotal, processed, res.Created, res.Updated, res.UsersCreated); err != nil {
			return res, fmt.Errorf("update progress: %w", err)
		}
		if r.OnChunk != nil {
			r.OnChunk(ctx)
		}
		if r.log != nil {
			r.log.WithFields(logrus.Fields{
				"batch_id":  batchID,
				"processed": processed,
				"total":     len(tasks),
			}).Debug("import chunk persisted")
		}
	}

	archived, err := r.store.ArchiveMissing(ctx, allProtocols)
	if err != nil {
		return res, fmt.Errorf("archive missing: %w", err)
	}
	res.Archived = archived

	return res, nil
}

// dedupeLastWins keeps the last occurrence of each protocol, preserving the
// relative order of survivors. Daily extracts occasionally repeat a protocol
// when the source system emits a row per update.
func dedupeLastWins(tasks []models.Task) ([]models.Task, int) {
	last := make(map[string]int, len(tasks))
	for i, t := range tasks {
		last[t.Protocol] = i
	}
	if len(last) == len(tasks) {
		return tasks, 0
	}
	out := make([]models.Task, 0, len(last))
	for i, t := range tasks {
		if last[t.Protocol] == i {
			out = append(out, t)
		}
	}
	return out, len(tasks) - len(out)
}

// provisionUsers creates accounts for assignees not seen before and refreshes
// identity fields for known ones. Returns how many accounts were created.
func (r *Reconciler) provisionUsers(ctx context.Context, chunk []models.Task) (int, error) {
	bySIAPE := map[string]models.Servidor{}
	for _, t := range chunk {
		if t.AssigneeSIAPE == nil || *t.AssigneeSIAPE == "" {
			continue
		}
		sv := models.Servidor{SIAPE: *t.AssigneeSIAPE}
		if t.AssigneeName != nil {
			sv.Name = *t.AssigneeName
		}
		sv.CPF = t.AssigneeCPF
		sv.UnitCode = t.AssigneeUnitCode
		sv.UnitName = t.AssigneeUnitName
		bySIAPE[sv.SIAPE] = sv
	}
	if len(bySIAPE) == 0 {
		return 0, nil
	}

	siapes := make([]string, 0, len(bySIAPE))
	for s := range bySIAPE {
		siapes = append(siapes, s)
	}
	existing, err := r.store.ExistingSIAPEs(ctx, siapes)
	if err != nil {
		return 0, fmt.Errorf("check existing siapes: %w", err)
	}

	created := 0
	for siape, sv := range bySIAPE {
		if existing[siape] {
			if err := r.store.BackfillServidor(ctx, sv); err != nil {
				return created, fmt.Errorf("backfill servidor %s: %w", siape, err)
			}
			continue
		}
		ok, err := r.store.ProvisionServidor(ctx, sv)
		if err != nil {
			return created, fmt.Errorf("provision servidor %s: %w", siape, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}
