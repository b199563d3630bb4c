package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"inss-case-tracker/internal/actions"
	"inss-case-tracker/internal/config"
	"inss-case-tracker/internal/criticality"
	"inss-case-tracker/internal/models"
	"inss-case-tracker/internal/queue"
	"inss-case-tracker/internal/ratelimit"
	"inss-case-tracker/internal/store"
	"inss-case-tracker/internal/telemetry"
	"inss-case-tracker/internal/workqueue"
)

// Server wires HTTP handlers for uploads, dashboards, and admin operations.
type Server struct {
	cfg      config.Config
	store    *store.Store
	queue    *queue.ImportQueue
	limiter  *ratelimit.FixedWindow
	exporter *actions.Exporter
	log      *logrus.Logger
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, q *queue.ImportQueue, limiter *ratelimit.FixedWindow, log *logrus.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		queue:    q,
		limiter:  limiter,
		exporter: actions.NewExporter(st),
		log:      log,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/imports", s.handleUpload)
	r.Get("/imports", s.handleListImports)
	r.Get("/imports/dlq", s.handleDLQ)
	r.Get("/imports/{id}", s.handleImportStatus)

	r.Get("/tasks", s.handleListTasks)
	r.Post("/tasks/recalculate", s.handleRecalculate)
	r.Get("/tasks/{protocol}", s.handleGetTask)
	r.Get("/tasks/{protocol}/history", s.handleTaskHistory)

	r.Get("/queues", s.handleQueues)
	r.Get("/assignees", s.handleAssignees)

	r.Post("/actions/export", s.handleActionExport)

	r.Get("/params", s.handleGetParams)
	r.Put("/params", s.handleUpdateParams)
	r.Get("/params/audit", s.handleParamsAudit)

	r.Post("/justifications", s.handleCreateJustification)
	r.Get("/justifications", s.handleListJustifications)
	r.Post("/justifications/{id}/review", s.handleReviewJustification)

	r.Post("/help-requests", s.handleCreateHelpRequest)
	r.Get("/help-requests", s.handleListHelpRequests)
	r.Post("/help-requests/{id}/status", s.handleUpdateHelpRequest)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "postgres": err.Error()})
		return
	}
	if err := s.queue.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "redis": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUpload accepts a CSV file, stores it on disk, registers the batch,
// and enqueues background processing. Returns 202 immediately.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	requester := requesterFromRequest(r)
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), "upload:"+requester)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		http.Error(w, "only .csv files are accepted", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		http.Error(w, "upload storage unavailable", http.StatusInternalServerError)
		return
	}
	storedPath := filepath.Join(s.cfg.UploadDir, uuid.New().String()+".csv")
	dst, err := os.Create(storedPath)
	if err != nil {
		http.Error(w, "upload storage unavailable", http.StatusInternalServerError)
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		_ = os.Remove(storedPath)
		http.Error(w, "store upload failed", http.StatusInternalServerError)
		return
	}
	dst.Close()

	batch, err := s.store.CreateImportBatch(r.Context(), header.Filename, storedPath, emptyToNil(requester))
	if err != nil {
		_ = os.Remove(storedPath)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.queue.Enqueue(r.Context(), batch.ID); err != nil {
		_ = s.store.FailImportBatch(r.Context(), batch.ID, "enqueue failed: "+err.Error())
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}

	s.log.WithFields(logrus.Fields{"batch_id": batch.ID, "file": batch.FileName, "by": requester}).Info("import enqueued")
	writeJSON(w, http.StatusAccepted, batch)
}

type importStatusResponse struct {
	models.ImportBatch
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

func (s *Server) handleImportStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batch, err := s.store.GetImportBatch(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			http.Error(w, "import not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, importStatusResponse{ImportBatch: batch, ElapsedSeconds: batch.ElapsedSeconds()})
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	batches, err := s.store.ListImportBatches(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": batches})
}

func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.DLQPeek(r.Context(), 100)
	if err != nil {
		http.Error(w, "failed to read dlq", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset, _ := strconv.Atoi(q.Get("offset"))
	unitCode, _ := strconv.Atoi(q.Get("unit_code"))

	tasks, err := s.store.ListTasks(r.Context(), store.TaskFilter{
		Level:           q.Get("level"),
		QueueType:       q.Get("queue"),
		AssigneeSIAPE:   q.Get("siape"),
		ServiceName:     q.Get("service"),
		UnitCode:        unitCode,
		Search:          q.Get("search"),
		IncludeArchived: q.Get("include_archived") == "true",
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	protocol := chi.URLParam(r, "protocol")
	task, err := s.store.GetTask(r.Context(), protocol)
	if err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	protocol := chi.URLParam(r, "protocol")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	history, err := s.store.TaskHistoryFor(r.Context(), protocol, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

type recalculateResponse struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// handleRecalculate reapplies the analyzer to every active task using the
// current thresholds. Pages keep memory bounded on large tables.
func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	params, err := s.store.ActiveParams(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	now := time.Now().UTC()

	var resp recalculateResponse
	err = s.store.TasksForRecalc(ctx, s.cfg.ImportBatchSize, func(page []models.Task) error {
		for i := range page {
			out := criticality.Analyze(page[i], params, now)
			criticality.Apply(&page[i], out, now)
		}
		if err := s.store.UpdateComputed(ctx, page); err != nil {
			resp.Errors += len(page)
			s.log.WithError(err).Error("recalculate page failed")
			return nil
		}
		resp.Processed += len(page)
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.log.WithFields(logrus.Fields{"processed": resp.Processed, "errors": resp.Errors}).Info("recalculation finished")
	writeJSON(w, http.StatusOK, resp)
}

type queueSummary struct {
	workqueue.Info
	Total    int64 `json:"total"`
	Critical int64 `json:"critical"`
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.QueueCounts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	byQueue := map[string]store.QueueCount{}
	for _, c := range counts {
		byQueue[c.QueueType] = c
	}

	out := make([]queueSummary, 0, len(workqueue.DisplayOrder))
	for _, code := range workqueue.DisplayOrder {
		c := byQueue[code]
		out = append(out, queueSummary{Info: workqueue.Lookup(code), Total: c.Total, Critical: c.Critical})
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": out})
}

func (s *Server) handleAssignees(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.AssigneeCounts(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignees": counts})
}

func (s *Server) handleActionExport(w http.ResponseWriter, r *http.Request) {
	var req actions.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	body, name, err := s.exporter.Export(r.Context(), req)
	if err != nil {
		if errors.Is(err, actions.ErrInvalidSelection) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, actions.ErrNoTasksSelected) {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	params, err := s.store.ActiveParams(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, params)
}

type updateParamsRequest struct {
	ReviewWindowDays       int    `json:"review_window_days"`
	ToleranceDays          int    `json:"tolerance_days"`
	PostDeadlineWindowDays int    `json:"post_deadline_window_days"`
	FirstActionWindowDays  int    `json:"first_action_window_days"`
	Notes                  string `json:"notes"`
	Reason                 string `json:"reason"`
}

func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	var req updateParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	saved, err := s.store.SaveParams(r.Context(), models.AnalysisParams{
		ReviewWindowDays:       req.ReviewWindowDays,
		ToleranceDays:          req.ToleranceDays,
		PostDeadlineWindowDays: req.PostDeadlineWindowDays,
		FirstActionWindowDays:  req.FirstActionWindowDays,
		Notes:                  req.Notes,
		UpdatedBy:              requesterFromRequest(r),
	}, req.Reason)
	if err != nil {
		var invalid models.ErrInvalidParams
		if errors.As(err, &invalid) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleParamsAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	audit, err := s.store.ParamsAuditLog(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": audit})
}

type createJustificationRequest struct {
	Protocol string `json:"protocol"`
	Reason   string `json:"reason"`
}

func (s *Server) handleCreateJustification(w http.ResponseWriter, r *http.Request) {
	var req createJustificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Protocol == "" || req.Reason == "" {
		http.Error(w, "protocol and reason are required", http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetTask(r.Context(), req.Protocol); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	j, err := s.store.CreateJustification(r.Context(), models.Justification{
		Protocol: req.Protocol,
		SIAPE:    requesterFromRequest(r),
		Reason:   req.Reason,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (s *Server) handleListJustifications(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.store.ListJustifications(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"justifications": items})
}

type reviewJustificationRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

func (s *Server) handleReviewJustification(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req reviewJustificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	err = s.store.ReviewJustification(r.Context(), id, req.Status, requesterFromRequest(r), req.Note)
	if err != nil {
		if errors.Is(err, store.ErrReviewNotFound) {
			http.Error(w, "justification not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

type createHelpRequestRequest struct {
	Protocol string `json:"protocol"`
	Message  string `json:"message"`
}

func (s *Server) handleCreateHelpRequest(w http.ResponseWriter, r *http.Request) {
	var req createHelpRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Protocol == "" || req.Message == "" {
		http.Error(w, "protocol and message are required", http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetTask(r.Context(), req.Protocol); err != nil {
		if errors.Is(err, store.ErrTaskNotFound) {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h, err := s.store.CreateHelpRequest(r.Context(), models.HelpRequest{
		Protocol: req.Protocol,
		SIAPE:    requesterFromRequest(r),
		Message:  req.Message,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (s *Server) handleListHelpRequests(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.store.ListHelpRequests(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"help_requests": items})
}

type updateHelpRequestRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateHelpRequest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req updateHelpRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	err = s.store.UpdateHelpRequest(r.Context(), id, req.Status, requesterFromRequest(r))
	if err != nil {
		if errors.Is(err, store.ErrReviewNotFound) {
			http.Error(w, "help request not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

func requesterFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-User-Siape"); v != "" {
		return v
	}
	return "anonymous"
}

func emptyToNil(v string) *string {
	if v == "" || v == "anonymous" {
		return nil
	}
	return &v
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
