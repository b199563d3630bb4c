package models

import "time"

// Servidor is a case-worker account keyed by SIAPE (federal civil-servant
// identifier). Accounts are auto-provisioned during import when a CSV row
// references an unknown assignee.
type Servidor struct {
	SIAPE             string    `json:"siape"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	CPF               *string   `json:"cpf,omitempty"`
	UnitCode          *string   `json:"unit_code,omitempty"`
	UnitName          *string   `json:"unit_name,omitempty"`
	Role              string    `json:"role"`
	MustResetPassword bool      `json:"must_reset_password"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
}

// RoleAssignee is the default role for auto-provisioned accounts.
const RoleAssignee = "servidor"

// PlaceholderEmail synthesizes the address used when the email side table has
// no entry for a SIAPE. The account is created anyway and flagged for reset.
func PlaceholderEmail(siape string) string {
	return "sem.email." + siape + "@temporario.inss.gov.br"
}
