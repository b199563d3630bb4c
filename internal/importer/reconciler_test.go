package importer

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"inss-case-tracker/internal/criticality"
	"inss-case-tracker/internal/models"
	"inss-case-tracker/internal/workqueue"
)

// fakeStore implements Datastore in memory.
type fakeStore struct {
	tasks     map[string]models.Task
	active    map[string]bool
	servidors map[string]models.Servidor
	snapshots []models.TaskHistory
	rules     []workqueue.Rule
	approved  map[string]bool
	excluded  map[string]bool

	progressCalls     int
	lastRowsTotal     int
	lastRowsProcessed int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:     map[string]models.Task{},
		active:    map[string]bool{},
		servidors: map[string]models.Servidor{},
		approved:  map[string]bool{},
		excluded:  map[string]bool{},
	}
}

func (f *fakeStore) ExistingSIAPEs(_ context.Context, siapes []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, s := range siapes {
		if _, ok := f.servidors[s]; ok {
			out[s] = true
		}
	}
	return out, nil
}

func (f *fakeStore) ProvisionServidor(_ context.Context, sv models.Servidor) (bool, error) {
	if _, ok := f.servidors[sv.SIAPE]; ok {
		return false, nil
	}
	if sv.Email == "" {
		sv.Email = models.PlaceholderEmail(sv.SIAPE)
	}
	sv.MustResetPassword = true
	f.servidors[sv.SIAPE] = sv
	return true, nil
}

func (f *fakeStore) BackfillServidor(_ context.Context, sv models.Servidor) error {
	existing, ok := f.servidors[sv.SIAPE]
	if !ok {
		return nil
	}
	if sv.Name != "" {
		existing.Name = sv.Name
	}
	f.servidors[sv.SIAPE] = existing
	return nil
}

// ApplyChunk mirrors the SQL column split: everything from the extract plus
// the analyzer cache is rewritten, while the review-owned display flags on an
// existing row stay untouched.
func (f *fakeStore) ApplyChunk(_ context.Context, tasks []models.Task, snaps []models.TaskHistory) (int, int, error) {
	created, updated := 0, 0
	for _, t := range tasks {
		if prev, ok := f.tasks[t.Protocol]; ok {
			updated++
			t.HasActiveJustification = prev.HasActiveJustification
			t.HasHelpRequest = prev.HasHelpRequest
		} else {
			created++
		}
		t.Active = true
		f.tasks[t.Protocol] = t
		f.active[t.Protocol] = true
	}
	f.snapshots = append(f.snapshots, snaps...)
	return created, updated, nil
}

func (f *fakeStore) ArchiveMissing(_ context.Context, extract []string) (int64, error) {
	keep := map[string]bool{}
	for _, p := range extract {
		keep[p] = true
	}
	var archived int64
	for p, isActive := range f.active {
		if isActive && !keep[p] {
			f.active[p] = false
			archived++
		}
	}
	return archived, nil
}

func (f *fakeStore) UpdateImportProgress(_ context.Context, _ string, rowsTotal, rowsProcessed, _, _, _ int) error {
	f.progressCalls++
	f.lastRowsTotal = rowsTotal
	f.lastRowsProcessed = rowsProcessed
	return nil
}

func (f *fakeStore) ActiveParams(_ context.Context) (models.AnalysisParams, error) {
	return models.DefaultAnalysisParams(), nil
}

func (f *fakeStore) QueueRules(_ context.Context) ([]workqueue.Rule, error) {
	return f.rules, nil
}

func (f *fakeStore) ApprovedJustificationProtocols(_ context.Context) (map[string]bool, error) {
	return f.approved, nil
}

func (f *fakeStore) ExcludedServices(_ context.Context) (map[string]bool, error) {
	return f.excluded, nil
}

func (f *fakeStore) activeProtocols() []string {
	var out []string
	for p, ok := range f.active {
		if ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

const csvHeader = "protocolo,subtarefas,unidade,servico,status,cumprimento,siape,cpf,nome,cod_unidade,nome_unidade,distribuicao,atualizacao,prazo,inicio_exigencia,fim_exigencia,reaberta,dias_ultima_exigencia,dias_pendente,dias_exigencia,dias_ultima_distribuicao,processado"

func extractRow(protocol, siape, name, service string) string {
	cols := []string{
		protocol, "0", "23150521", service, "Pendente", "",
		siape, "", name, "", "",
		"01062025", "15062025", "", "", "",
		"0", "", "30", "0", "10", "20250615120000000000",
	}
	return strings.Join(cols, ",")
}

func extract(rows ...string) string {
	return csvHeader + "\n" + strings.Join(rows, "\n") + "\n"
}

func newTestReconciler(fs *fakeStore) *Reconciler {
	return NewReconciler(fs, NewParser(), 2, 23150003, nil)
}

func TestRunCreatesTasksAndUsers(t *testing.T) {
	fs := newFakeStore()
	rec := newTestReconciler(fs)
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)

	file := extract(
		extractRow("1001", "111", "Ana", "Pensao por Morte Urbana"),
		extractRow("1002", "222", "Bruno", "Aposentadoria por Idade Urbana"),
		extractRow("1003", "111", "Ana", "Revisao"),
	)
	res, err := rec.Run(context.Background(), "batch-1", strings.NewReader(file), now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Created != 3 || res.Updated != 0 {
		t.Fatalf("expected 3 created got created=%d updated=%d", res.Created, res.Updated)
	}
	if res.UsersCreated != 2 {
		t.Fatalf("expected 2 users created got %d", res.UsersCreated)
	}
	if len(fs.snapshots) != 3 {
		t.Fatalf("expected 3 snapshots got %d", len(fs.snapshots))
	}
	sv, ok := fs.servidors["111"]
	if !ok {
		t.Fatalf("expected servidor 111 provisioned")
	}
	if !sv.MustResetPassword {
		t.Fatalf("expected provisioned account flagged for password reset")
	}
	if sv.Email != models.PlaceholderEmail("111") {
		t.Fatalf("expected placeholder email got %q", sv.Email)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	rec := newTestReconciler(fs)
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	file := extract(
		extractRow("1001", "111", "Ana", "Revisao"),
		extractRow("1002", "222", "Bruno", "Revisao"),
	)

	if _, err := rec.Run(context.Background(), "batch-1", strings.NewReader(file), now); err != nil {
		t.Fatalf("first run: %v", err)
	}
	res, err := rec.Run(context.Background(), "batch-2", strings.NewReader(file), now)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if res.Created != 0 || res.Updated != 2 {
		t.Fatalf("expected pure update on rerun got created=%d updated=%d", res.Created, res.Updated)
	}
	if res.UsersCreated != 0 {
		t.Fatalf("expected no new users on rerun got %d", res.UsersCreated)
	}
	if res.Archived != 0 {
		t.Fatalf("expected nothing archived on identical rerun got %d", res.Archived)
	}
}

func TestRunArchivesMissingProtocols(t *testing.T) {
	fs := newFakeStore()
	rec := newTestReconciler(fs)
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)

	first := extract(
		extractRow("1001", "111", "Ana", "Revisao"),
		extractRow("1002", "222", "Bruno", "Revisao"),
		extractRow("1003", "333", "Carla", "Revisao"),
	)
	if _, err := rec.Run(context.Background(), "batch-1", strings.NewReader(first), now); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := extract(
		extractRow("1002", "222", "Bruno", "Revisao"),
		extractRow("1004", "444", "Davi", "Revisao"),
	)
	res, err := rec.Run(context.Background(), "batch-2", strings.NewReader(second), now)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if res.Archived != 2 {
		t.Fatalf("expected 2 archived got %d", res.Archived)
	}
	// Active set must equal exactly the protocols of the newest extract.
	got := fs.activeProtocols()
	want := []string{"1002", "1004"}
	if len(got) != len(want) {
		t.Fatalf("active set mismatch: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("active set mismatch: got %v want %v", got, want)
		}
	}
}

func TestRunDedupesLastWins(t *testing.T) {
	fs := newFakeStore()
	rec := newTestReconciler(fs)
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)

	file := extract(
		extractRow("1001", "111", "Ana", "Revisao"),
		extractRow("1001", "222", "Bruno", "Revisao"),
	)
	res, err := rec.Run(context.Background(), "batch-1", strings.NewReader(file), now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Deduplicated != 1 {
		t.Fatalf("expected 1 deduplicated got %d", res.Deduplicated)
	}
	task := fs.tasks["1001"]
	if task.AssigneeSIAPE == nil || *task.AssigneeSIAPE != "222" {
		t.Fatalf("expected last duplicate to win, assignee=%v", task.AssigneeSIAPE)
	}
}

func TestRunSkipsRowsWithoutProtocol(t *testing.T) {
	fs := newFakeStore()
	rec := newTestReconciler(fs)
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)

	file := extract(
		extractRow("1001", "111", "Ana", "Revisao"),
		extractRow("", "222", "Bruno", "Revisao"),
	)
	res, err := rec.Run(context.Background(), "batch-1", strings.NewReader(file), now)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.RowsSkipped != 1 {
		t.Fatalf("expected 1 skipped got %d", res.RowsSkipped)
	}
	if res.Created != 1 {
		t.Fatalf("expected 1 created got %d", res.Created)
	}
}

func TestRunClassifiesQueues(t *testing.T) {
	fs := newFakeStore()
	unit := 23150521
	fs.rules = []workqueue.Rule{
		{ServiceName: "Revisao", UnitCode: &unit, QueueType: "CEABRD-23150521", Priority: 10, Active: true},
	}
	rec := newTestReconciler(fs)
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)

	file := extract(
		extractRow("1001", "111", "Ana", "Revisao"),
		extractRow("1002", "222", "Bruno", "Servico Desconhecido"),
	)
	if _, err := rec.Run(context.Background(), "batch-1", strings.NewReader(file), now); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := fs.tasks["1001"].QueueType; got != "CEABRD-23150521" {
		t.Fatalf("expected rule queue got %q", got)
	}
	if got := fs.tasks["1002"].QueueType; got != workqueue.QueueOthers {
		t.Fatalf("expected fallback queue got %q", got)
	}
}

func TestRunPersistsSuppressionFlags(t *testing.T) {
	fs := newFakeStore()
	fs.excluded["Seguro Defeso"] = true
	fs.approved["1002"] = true
	rec := newTestReconciler(fs)
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)

	file := extract(
		extractRow("1001", "111", "Ana", "Seguro Defeso"),
		extractRow("1002", "222", "Bruno", "Revisao"),
	)
	if _, err := rec.Run(context.Background(), "batch-1", strings.NewReader(file), now); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := fs.tasks["1001"]; !got.ServiceExcluded || got.CriticalityLevel != models.LevelExcluded {
		t.Fatalf("excluded service not persisted: excluded=%v level=%s", got.ServiceExcluded, got.CriticalityLevel)
	}
	if got := fs.tasks["1002"]; !got.HasApprovedJustification || got.CriticalityLevel != models.LevelJustified {
		t.Fatalf("approved justification not persisted: approved=%v level=%s", got.HasApprovedJustification, got.CriticalityLevel)
	}

	// Reanalyzing the stored rows, as the recalculate endpoint does, must
	// reproduce the import's classification from the persisted flags alone.
	params := models.DefaultAnalysisParams()
	for _, p := range []string{"1001", "1002"} {
		stored := fs.tasks[p]
		out := criticality.Analyze(stored, params, now)
		if out.Level != stored.CriticalityLevel {
			t.Fatalf("recalculation of %s diverges from import: %s vs %s", p, out.Level, stored.CriticalityLevel)
		}
	}
}

func TestRunProgressReachesRowsTotal(t *testing.T) {
	fs := newFakeStore()
	rec := newTestReconciler(fs)
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)

	file := extract(
		extractRow("1001", "111", "Ana", "Revisao"),
		extractRow("", "222", "Bruno", "Revisao"),
		extractRow("1001", "333", "Carla", "Revisao"),
	)
	if _, err := rec.Run(context.Background(), "batch-1", strings.NewReader(file), now); err != nil {
		t.Fatalf("run: %v", err)
	}

	if fs.lastRowsProcessed != fs.lastRowsTotal {
		t.Fatalf("skipped and deduplicated rows must count as consumed: processed=%d total=%d",
			fs.lastRowsProcessed, fs.lastRowsTotal)
	}
}

func TestRunComputesCriticality(t *testing.T) {
	fs := newFakeStore()
	rec := newTestReconciler(fs)
	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)

	file := extract(extractRow("1001", "111", "Ana", "Revisao"))
	if _, err := rec.Run(context.Background(), "batch-1", strings.NewReader(file), now); err != nil {
		t.Fatalf("run: %v", err)
	}

	task := fs.tasks["1001"]
	if task.CriticalityLevel == "" || task.AppliedRule == "" {
		t.Fatalf("expected analyzer output persisted, got level=%q rule=%q", task.CriticalityLevel, task.AppliedRule)
	}
	if task.CalculatedAt == nil {
		t.Fatalf("expected calculated_at stamped")
	}
}
