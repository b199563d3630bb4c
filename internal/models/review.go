package models

import "time"

// Justification states. An approved justification suppresses CRITICAL
// classification for its task until the next recompute says otherwise.
const (
	JustificationPending  = "PENDING"
	JustificationApproved = "APPROVED"
	JustificationRejected = "REJECTED"
)

// Justification is a servidor-submitted explanation for a critical task,
// reviewed by the roving team.
type Justification struct {
	ID         int64      `json:"id"`
	Protocol   string     `json:"protocol"`
	SIAPE      string     `json:"siape"`
	Reason     string     `json:"reason"`
	Status     string     `json:"status"`
	ReviewedBy *string    `json:"reviewed_by,omitempty"`
	ReviewNote *string    `json:"review_note,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// Help request states.
const (
	HelpPending    = "PENDING"
	HelpInProgress = "IN_PROGRESS"
	HelpDone       = "DONE"
	HelpCancelled  = "CANCELLED"
)

// HelpRequest asks the roving team to step in on a task.
type HelpRequest struct {
	ID        int64     `json:"id"`
	Protocol  string    `json:"protocol"`
	SIAPE     string    `json:"siape"`
	Message   string    `json:"message"`
	Status    string    `json:"status"`
	HandledBy *string   `json:"handled_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
