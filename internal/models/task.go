package models

import (
	"time"
)

// Criticality levels persisted on a task. CRITICAL/REGULAR is the primary
// axis; JUSTIFIED and EXCLUDED suppress CRITICAL for display and sorting.
const (
	LevelCritical  = "CRITICAL"
	LevelRegular   = "REGULAR"
	LevelJustified = "JUSTIFIED"
	LevelExcluded  = "EXCLUDED"
)

// Rule codes recorded alongside the computed level.
const (
	RuleHasSubtasks           = "HAS_SUBTASKS"
	RuleServiceExcluded       = "SERVICE_EXCLUDED"
	RuleJustificationApproved = "JUSTIFICATION_APPROVED"
	Rule1                     = "RULE_1"
	Rule2                     = "RULE_2"
	Rule3                     = "RULE_3"
	Rule4                     = "RULE_4"
	RuleNone                  = "NONE"
)

// Task is a unit of case work keyed by protocol number. Everything up to
// ProcessedAt mirrors the CSV export verbatim; the computed block below it
// is a cache of the criticality analyzer and queue classifier outputs and is
// rewritten on every import.
type Task struct {
	Protocol              string `json:"protocol"`
	PendingSubtasks       int    `json:"pending_subtasks"`
	UnitCode              int    `json:"unit_code"`
	ServiceName           string `json:"service_name"`
	Status                string `json:"status"`
	ComplianceDescription string `json:"compliance_description"`

	AssigneeSIAPE    *string `json:"assignee_siape,omitempty"`
	AssigneeCPF      *string `json:"assignee_cpf,omitempty"`
	AssigneeName     *string `json:"assignee_name,omitempty"`
	AssigneeUnitCode *string `json:"assignee_unit_code,omitempty"`
	AssigneeUnitName *string `json:"assignee_unit_name,omitempty"`

	DistributionDate *time.Time `json:"distribution_date,omitempty"`
	LastUpdateDate   *time.Time `json:"last_update_date,omitempty"`
	DeadlineDate     *time.Time `json:"deadline_date,omitempty"`
	RequirementStart *time.Time `json:"requirement_start,omitempty"`
	RequirementEnd   *time.Time `json:"requirement_end,omitempty"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`

	Reopened               int  `json:"reopened"`
	DaysLastRequirement    *int `json:"days_last_requirement,omitempty"`
	DaysPending            int  `json:"days_pending"`
	DaysInRequirement      int  `json:"days_in_requirement"`
	DaysToLastDistribution int  `json:"days_to_last_distribution"`

	CriticalityLevel   string     `json:"criticality_level"`
	AppliedRule        string     `json:"applied_rule"`
	Alert              string     `json:"alert"`
	Description        string     `json:"description"`
	DaysPendingCalc    int        `json:"days_pending_calculated"`
	DeadlineLimitCalc  int        `json:"deadline_limit_calculated"`
	Score              int        `json:"score"`
	Color              string     `json:"color"`
	CalculatedAt       *time.Time `json:"last_calculated_at,omitempty"`

	// HasActiveJustification is a display flag covering pending and approved
	// justifications; only HasApprovedJustification feeds the analyzer.
	HasActiveJustification   bool `json:"has_active_justification"`
	HasApprovedJustification bool `json:"has_approved_justification"`
	HasHelpRequest           bool `json:"has_help_request"`
	ServiceExcluded          bool `json:"service_excluded_from_criticality"`

	Active    bool   `json:"active"`
	QueueType string `json:"queue_type"`
}

// DaysWithAssignee is how long the current assignee has held the task,
// derived from the export's running day counters.
func (t Task) DaysWithAssignee() int {
	d := t.DaysPending - t.DaysToLastDistribution
	if d < 0 {
		return 0
	}
	return d
}

// TaskHistory is an append-only snapshot of a task's mutable fields taken
// once per import batch.
type TaskHistory struct {
	ID       int64  `json:"id"`
	Protocol string `json:"protocol"`
	BatchID  string `json:"batch_id"`

	Status                string  `json:"status"`
	ComplianceDescription string  `json:"compliance_description"`
	AssigneeSIAPE         *string `json:"assignee_siape,omitempty"`
	AssigneeCPF           *string `json:"assignee_cpf,omitempty"`
	AssigneeName          *string `json:"assignee_name,omitempty"`
	AssigneeUnitCode      *string `json:"assignee_unit_code,omitempty"`
	AssigneeUnitName      *string `json:"assignee_unit_name,omitempty"`

	DistributionDate *time.Time `json:"distribution_date,omitempty"`
	LastUpdateDate   *time.Time `json:"last_update_date,omitempty"`
	DeadlineDate     *time.Time `json:"deadline_date,omitempty"`
	RequirementStart *time.Time `json:"requirement_start,omitempty"`
	RequirementEnd   *time.Time `json:"requirement_end,omitempty"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`

	Reopened               int  `json:"reopened"`
	DaysLastRequirement    *int `json:"days_last_requirement,omitempty"`
	DaysPending            int  `json:"days_pending"`
	DaysInRequirement      int  `json:"days_in_requirement"`
	DaysToLastDistribution int  `json:"days_to_last_distribution"`

	RecordedAt time.Time `json:"recorded_at"`
}

// SnapshotOf copies the mutable fields of a task into a history row.
func SnapshotOf(t Task, batchID string, now time.Time) TaskHistory {
	return TaskHistory{
		Protocol:               t.Protocol,
		BatchID:                batchID,
		Status:                 t.Status,
		ComplianceDescription:  t.ComplianceDescription,
		AssigneeSIAPE:          t.AssigneeSIAPE,
		AssigneeCPF:            t.AssigneeCPF,
		AssigneeName:           t.AssigneeName,
		AssigneeUnitCode:       t.AssigneeUnitCode,
		AssigneeUnitName:       t.AssigneeUnitName,
		DistributionDate:       t.DistributionDate,
		LastUpdateDate:         t.LastUpdateDate,
		DeadlineDate:           t.DeadlineDate,
		RequirementStart:       t.RequirementStart,
		RequirementEnd:         t.RequirementEnd,
		ProcessedAt:            t.ProcessedAt,
		Reopened:               t.Reopened,
		DaysLastRequirement:    t.DaysLastRequirement,
		DaysPending:            t.DaysPending,
		DaysInRequirement:      t.DaysInRequirement,
		DaysToLastDistribution: t.DaysToLastDistribution,
		RecordedAt:             now,
	}
}
