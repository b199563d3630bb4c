package models

import "time"

// AnalysisParams holds the configurable day thresholds used by the
// criticality analyzer. At most one row is active at a time.
type AnalysisParams struct {
	ID                     int64     `json:"id"`
	ReviewWindowDays       int       `json:"review_window_days"`        // rule 1
	ToleranceDays          int       `json:"tolerance_days"`            // rule 2
	PostDeadlineWindowDays int       `json:"post_deadline_window_days"` // rule 2
	FirstActionWindowDays  int       `json:"first_action_window_days"`  // rules 3 and 4
	Active                 bool      `json:"active"`
	Notes                  string    `json:"notes"`
	UpdatedBy              string    `json:"updated_by"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// DefaultAnalysisParams returns the threshold set the system starts with.
func DefaultAnalysisParams() AnalysisParams {
	return AnalysisParams{
		ReviewWindowDays:       7,
		ToleranceDays:          5,
		PostDeadlineWindowDays: 7,
		FirstActionWindowDays:  10,
		Active:                 true,
		Notes:                  "created automatically with default thresholds",
	}
}

// Validate rejects thresholds that would make the analyzer nonsensical.
func (p AnalysisParams) Validate() error {
	if p.ReviewWindowDays < 1 {
		return ErrInvalidParams("review_window_days must be at least 1")
	}
	if p.ToleranceDays < 0 {
		return ErrInvalidParams("tolerance_days cannot be negative")
	}
	if p.PostDeadlineWindowDays < 1 {
		return ErrInvalidParams("post_deadline_window_days must be at least 1")
	}
	if p.FirstActionWindowDays < 1 {
		return ErrInvalidParams("first_action_window_days must be at least 1")
	}
	return nil
}

// ErrInvalidParams flags a rejected parameter update.
type ErrInvalidParams string

func (e ErrInvalidParams) Error() string { return string(e) }

// ParamsAudit is one recorded threshold change, kept for coordination audits.
type ParamsAudit struct {
	ID        int64     `json:"id"`
	ParamsID  int64     `json:"params_id"`
	Field     string    `json:"field"`
	OldValue  int       `json:"old_value"`
	NewValue  int       `json:"new_value"`
	ChangedBy string    `json:"changed_by"`
	Reason    string    `json:"reason"`
	ChangedAt time.Time `json:"changed_at"`
}
