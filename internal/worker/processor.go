package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"inss-case-tracker/internal/archive"
	"inss-case-tracker/internal/config"
	"inss-case-tracker/internal/importer"
	"inss-case-tracker/internal/models"
	"inss-case-tracker/internal/queue"
	"inss-case-tracker/internal/telemetry"
)

// Datastore is the persistence surface the worker needs: the reconciler's
// slice plus the batch lifecycle and the critical-count gauge source.
// *store.Store satisfies it.
type Datastore interface {
	importer.Datastore
	ClaimImportBatch(ctx context.Context, id string) (models.ImportBatch, error)
	CompleteImportBatch(ctx context.Context, id string, rowsTotal, rowsProcessed, created, updated, usersCreated int) error
	FailImportBatch(ctx context.Context, id, cause string) error
	LevelCounts(ctx context.Context) (map[string]int64, error)
}

// Processor drives the import worker loop: lease a batch, claim it, run the
// reconciler over its file, then complete or dead-letter it.
type Processor struct {
	cfg      config.Config
	queue    *queue.ImportQueue
	store    Datastore
	archiver *archive.Archiver
	log      *logrus.Logger
}

func NewProcessor(cfg config.Config, q *queue.ImportQueue, st Datastore, arch *archive.Archiver, log *logrus.Logger) *Processor {
	return &Processor{cfg: cfg, queue: q, store: st, archiver: arch, log: log}
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			telemetry.InFlightGauge.Sub(float64(len(reclaimed)))
			p.log.WithField("batches", reclaimed).Warn("reclaimed expired import leases")
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		batchID, err := p.queue.DequeueWithLease(ctx)
		if err != nil {
			p.log.WithError(err).Error("dequeue failed")
			time.Sleep(p.cfg.WorkerPollInterval)
			continue
		}
		if batchID == "" {
			time.Sleep(p.cfg.WorkerPollInterval)
			continue
		}

		telemetry.InFlightGauge.Inc()
		p.processBatch(ctx, batchID)
		telemetry.InFlightGauge.Dec()
	}
}

func (p *Processor) processBatch(ctx context.Context, batchID string) {
	log := p.log.WithField("batch_id", batchID)

	batch, err := p.store.ClaimImportBatch(ctx, batchID)
	if err != nil {
		// Already completed or failed; this is a duplicate delivery, not a
		// reclaimed lease, so dropping it loses nothing.
		log.WithError(err).Warn("batch not claimable, acking")
		_ = p.queue.Ack(ctx, batchID)
		return
	}
	telemetry.ImportsStarted.Inc()
	log.WithField("file", batch.FileName).Info("import started")

	body, err := os.ReadFile(batch.StoredPath)
	if err != nil {
		p.failBatch(ctx, batchID, fmt.Errorf("read upload: %w", err))
		return
	}

	rec := importer.NewReconciler(p.store, &importer.Parser{Delimiter: p.cfg.CSVDelimiter}, p.cfg.ImportBatchSize, p.cfg.PGBUnitCode, p.log)
	rec.OnChunk = func(ctx context.Context) {
		_ = p.queue.ExtendLease(ctx, batchID, p.cfg.VisibilityTimeout)
	}

	res, err := rec.Run(ctx, batchID, bytes.NewReader(body), time.Now().UTC())
	if err != nil {
		p.failBatch(ctx, batchID, err)
		return
	}

	// Every row was consumed one way or another, so a completed batch always
	// reports 100% progress; the reconciled-row count feeds the metric below.
	reconciled := res.RowsTotal - res.RowsSkipped - res.Deduplicated
	if err := p.store.CompleteImportBatch(ctx, batchID, res.RowsTotal, res.RowsTotal, res.Created, res.Updated, res.UsersCreated); err != nil {
		p.failBatch(ctx, batchID, fmt.Errorf("complete batch: %w", err))
		return
	}
	_ = p.queue.Ack(ctx, batchID)

	telemetry.ImportsCompleted.Inc()
	telemetry.RowsProcessed.Add(float64(reconciled))
	telemetry.RowsSkipped.Add(float64(res.RowsSkipped))
	telemetry.TasksArchived.Add(float64(res.Archived))
	p.refreshCriticalGauge(ctx)

	if p.archiver != nil {
		if loc, err := p.archiver.Store(ctx, batchID, batch.FileName, body, time.Now()); err != nil {
			log.WithError(err).Warn("archive upload failed")
		} else {
			log.WithField("location", loc).Debug("extract archived")
			_ = os.Remove(batch.StoredPath)
		}
	}

	log.WithFields(logrus.Fields{
		"rows":     res.RowsTotal,
		"created":  res.Created,
		"updated":  res.Updated,
		"archived": res.Archived,
		"users":    res.UsersCreated,
		"skipped":  res.RowsSkipped,
	}).Info("import completed")
}

func (p *Processor) failBatch(ctx context.Context, batchID string, cause error) {
	p.log.WithField("batch_id", batchID).WithError(cause).Error("import failed")
	_ = p.store.FailImportBatch(ctx, batchID, cause.Error())
	_ = p.queue.DLQPush(ctx, batchID)
	telemetry.ImportsFailed.Inc()
}

func (p *Processor) refreshCriticalGauge(ctx context.Context) {
	counts, err := p.store.LevelCounts(ctx)
	if err != nil {
		return
	}
	telemetry.CriticalGauge.Set(float64(counts[models.LevelCritical]))
}
