// Package criticality classifies tasks against the configured SLA
// thresholds. Analyze is a pure function of a task snapshot, the active
// parameter set, and a reference date; persisting the result is the
// caller's job.
package criticality

import (
	"fmt"
	"strings"
	"time"

	"inss-case-tracker/internal/models"
)

// Result is one classification outcome.
type Result struct {
	Level         string `json:"level"`
	Rule          string `json:"rule"`
	Alert         string `json:"alert"`
	Description   string `json:"description"`
	DaysPending   int    `json:"days_pending"`
	DeadlineLimit int    `json:"deadline_limit"`
	Score         int    `json:"score"`
	Color         string `json:"color"`
}

// Score ordering: critical tasks sort first, then suppressed ones, then
// regular. Monotonic with severity so the database can order by it.
var scores = map[string]int{
	models.LevelCritical:  100,
	models.LevelJustified: 40,
	models.LevelExcluded:  20,
	models.LevelRegular:   0,
}

var colors = map[string]string{
	models.LevelCritical:  "#dc3545",
	models.LevelRegular:   "#28a745",
	models.LevelJustified: "#0d6efd",
	models.LevelExcluded:  "#6c757d",
}

// Analyze classifies a single task. It never fails: absent or unparseable
// dates simply make the corresponding rule inapplicable.
func Analyze(t models.Task, p models.AnalysisParams, ref time.Time) Result {
	ref = dateOnly(ref)

	// Pending subtasks mean someone is already acting on the case.
	if t.PendingSubtasks > 0 {
		return finish(models.LevelRegular, models.RuleHasSubtasks,
			"Tarefa com subtarefa pendente",
			fmt.Sprintf("Tarefa possui %d subtarefa(s) pendente(s); criticidade suspensa.", t.PendingSubtasks),
			0, 0)
	}
	if t.ServiceExcluded {
		return finish(models.LevelExcluded, models.RuleServiceExcluded,
			"Serviço excluído da análise de criticidade",
			fmt.Sprintf("O serviço %q não entra no cálculo de criticidade.", t.ServiceName),
			0, 0)
	}
	if t.HasApprovedJustification {
		return finish(models.LevelJustified, models.RuleJustificationApproved,
			"Justificativa aprovada",
			"Tarefa possui justificativa aprovada pela Equipe Volante; criticidade suspensa.",
			0, 0)
	}

	if r, ok := rule1(t, p, ref); ok {
		return r
	}
	if r, ok := rule4(t, p, ref); ok {
		return r
	}
	if r, ok := rule2(t, p, ref); ok {
		return r
	}
	if r, ok := rule3(t, p); ok {
		return r
	}

	return finish(models.LevelRegular, models.RuleNone,
		"Sem classificação",
		"Tarefa não se enquadra em nenhuma regra de criticidade.",
		0, 0)
}

// rule1: requirement fulfilled after assignment, awaiting the assignee's
// review. Deadline is the fulfillment date plus the review window.
func rule1(t models.Task, p models.AnalysisParams, ref time.Time) (Result, bool) {
	if !fulfilledPending(t) {
		return Result{}, false
	}
	if t.RequirementEnd == nil || t.RequirementStart == nil || t.DistributionDate == nil {
		return Result{}, false
	}
	// Requirement opened before assignment belongs to rule 4.
	if t.RequirementStart.Before(dateOnly(*t.DistributionDate)) {
		return Result{}, false
	}
	days := daysBetween(*t.RequirementEnd, ref)
	deadline := dateOnly(*t.RequirementEnd).AddDate(0, 0, p.ReviewWindowDays)
	if ref.After(deadline) {
		return finish(models.LevelCritical, models.Rule1,
			"Exigência cumprida sem movimentação",
			fmt.Sprintf("Exigência cumprida há %d dias. Prazo de análise de %d dias excedido.", days, p.ReviewWindowDays),
			days, p.ReviewWindowDays), true
	}
	return finish(models.LevelRegular, models.Rule1,
		"Exigência cumprida aguardando análise",
		fmt.Sprintf("Exigência cumprida há %d dias. Prazo para análise: %d dias.", days, p.ReviewWindowDays),
		days, p.ReviewWindowDays), true
}

// rule4: requirement fulfilled before the task reached the current assignee.
// The clock runs from the distribution date.
func rule4(t models.Task, p models.AnalysisParams, ref time.Time) (Result, bool) {
	if !fulfilledPending(t) {
		return Result{}, false
	}
	if t.RequirementStart == nil || t.DistributionDate == nil {
		return Result{}, false
	}
	if !t.RequirementStart.Before(dateOnly(*t.DistributionDate)) {
		return Result{}, false
	}
	days := daysBetween(*t.DistributionDate, ref)
	deadline := dateOnly(*t.DistributionDate).AddDate(0, 0, p.FirstActionWindowDays)
	if ref.After(deadline) {
		return finish(models.LevelCritical, models.Rule4,
			"Exigência cumprida antes da atribuição - sem análise",
			fmt.Sprintf("Tarefa atribuída há %d dias com exigência já cumprida. Prazo de %d dias excedido.", days, p.FirstActionWindowDays),
			days, p.FirstActionWindowDays), true
	}
	return finish(models.LevelRegular, models.Rule4,
		"Exigência cumprida antes da atribuição",
		fmt.Sprintf("Tarefa atribuída há %d dias com exigência já cumprida. Prazo para análise: %d dias.", days, p.FirstActionWindowDays),
		days, p.FirstActionWindowDays), true
}

// rule2: requirement open, citizen compliance window running. The total
// deadline stacks the legal date, the tolerance, and the post-deadline
// window the assignee has to close the case.
func rule2(t models.Task, p models.AnalysisParams, ref time.Time) (Result, bool) {
	if isFulfilled(t) {
		return Result{}, false
	}
	inRequirement := (t.RequirementStart != nil && t.RequirementEnd == nil) ||
		strings.Contains(strings.ToLower(t.Status), "exigência")
	if !inRequirement || t.DeadlineDate == nil {
		return Result{}, false
	}
	limit := p.ToleranceDays + p.PostDeadlineWindowDays
	total := dateOnly(*t.DeadlineDate).AddDate(0, 0, limit)
	overdue := daysBetween(*t.DeadlineDate, ref)
	if overdue < 0 {
		overdue = 0
	}
	if ref.After(total) {
		return finish(models.LevelCritical, models.Rule2,
			"Prazo de exigência e conclusão vencidos",
			fmt.Sprintf("Prazo vencido há %d dias, além da tolerância de %d dias.", overdue, limit),
			overdue, limit), true
	}
	return finish(models.LevelRegular, models.Rule2,
		"Em cumprimento de exigência",
		fmt.Sprintf("Prazo total para cumprimento e conclusão: %s.", total.Format("02/01/2006")),
		overdue, limit), true
}

// rule3: no requirement was ever opened. The assignee-held day counters from
// the export drive this rule, not date arithmetic, matching how the export
// accounts for redistribution.
func rule3(t models.Task, p models.AnalysisParams) (Result, bool) {
	if t.RequirementStart != nil || t.DistributionDate == nil {
		return Result{}, false
	}
	days := t.DaysWithAssignee()
	if days > p.FirstActionWindowDays {
		return finish(models.LevelCritical, models.Rule3,
			fmt.Sprintf("Puxada sem nenhuma ação - %d dias sem movimentação", days),
			fmt.Sprintf("Tarefa com o servidor há %d dias sem nenhuma ação. Prazo de %d dias excedido.", days, p.FirstActionWindowDays),
			days, p.FirstActionWindowDays), true
	}
	return finish(models.LevelRegular, models.Rule3,
		"Dentro do prazo inicial",
		fmt.Sprintf("Tarefa com o servidor há %d dias. Prazo para primeira ação: %d dias.", days, p.FirstActionWindowDays),
		days, p.FirstActionWindowDays), true
}

func fulfilledPending(t models.Task) bool {
	return strings.Contains(strings.ToLower(t.Status), "pendente") && isFulfilled(t)
}

func isFulfilled(t models.Task) bool {
	return strings.Contains(strings.ToLower(t.ComplianceDescription), "exigência cumprida")
}

func finish(level, rule, alert, desc string, days, limit int) Result {
	return Result{
		Level:         level,
		Rule:          rule,
		Alert:         alert,
		Description:   desc,
		DaysPending:   days,
		DeadlineLimit: limit,
		Score:         scores[level],
		Color:         colors[level],
	}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(dateOnly(to).Sub(dateOnly(from)).Hours() / 24)
}

// Apply writes a result into a task's cached fields.
func Apply(t *models.Task, r Result, now time.Time) {
	t.CriticalityLevel = r.Level
	t.AppliedRule = r.Rule
	t.Alert = r.Alert
	t.Description = r.Description
	t.DaysPendingCalc = r.DaysPending
	t.DeadlineLimitCalc = r.DeadlineLimit
	t.Score = r.Score
	t.Color = r.Color
	t.CalculatedAt = &now
}
