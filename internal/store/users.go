package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"inss-case-tracker/internal/models"
)

// ErrServidorNotFound is returned when a SIAPE has no account.
var ErrServidorNotFound = errors.New("servidor not found")

// ExistingSIAPEs reports which of the given SIAPEs already have accounts.
func (s *Store) ExistingSIAPEs(ctx context.Context, siapes []string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT siape FROM servidores WHERE siape = ANY($1)`, siapes)
	if err != nil {
		return nil, fmt.Errorf("query existing siapes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool, len(siapes))
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan siape: %w", err)
		}
		out[v] = true
	}
	return out, rows.Err()
}

// RegisteredEmail looks up the SIAPE->email side table loaded by HR. Returns
// empty when no entry exists.
func (s *Store) RegisteredEmail(ctx context.Context, siape string) (string, error) {
	var email string
	err := s.pool.QueryRow(ctx, `SELECT email FROM siape_emails WHERE siape = $1`, siape).Scan(&email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query registered email: %w", err)
	}
	return email, nil
}

// ProvisionServidor auto-creates an account for an assignee seen in a CSV.
// The password is random and unusable until the servidor resets it. Returns
// true when a new row was created.
func (s *Store) ProvisionServidor(ctx context.Context, sv models.Servidor) (bool, error) {
	if sv.Email == "" {
		registered, err := s.RegisteredEmail(ctx, sv.SIAPE)
		if err != nil {
			return false, err
		}
		if registered != "" {
			sv.Email = registered
		} else {
			sv.Email = models.PlaceholderEmail(sv.SIAPE)
		}
	}
	if sv.Role == "" {
		sv.Role = models.RoleAssignee
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO servidores (siape, name, email, cpf, unit_code, unit_name, role, password_hash, must_reset_password, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, TRUE)
		ON CONFLICT (siape) DO NOTHING
	`, sv.SIAPE, sv.Name, sv.Email, sv.CPF, sv.UnitCode, sv.UnitName, sv.Role, unusablePassword())
	if err != nil {
		return false, fmt.Errorf("provision servidor %s: %w", sv.SIAPE, err)
	}
	return tag.RowsAffected() > 0, nil
}

// BackfillServidor refreshes name and unit fields from the latest extract
// without touching credentials.
func (s *Store) BackfillServidor(ctx context.Context, sv models.Servidor) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE servidores SET
			name = CASE WHEN $2 <> '' THEN $2 ELSE name END,
			cpf = COALESCE($3, cpf),
			unit_code = COALESCE($4, unit_code),
			unit_name = COALESCE($5, unit_name)
		WHERE siape = $1
	`, sv.SIAPE, sv.Name, sv.CPF, sv.UnitCode, sv.UnitName)
	return err
}

// GetServidor fetches one account by SIAPE.
func (s *Store) GetServidor(ctx context.Context, siape string) (models.Servidor, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT siape, name, email, cpf, unit_code, unit_name, role, must_reset_password, active, created_at
		FROM servidores WHERE siape = $1
	`, siape)

	var sv models.Servidor
	var cpf, uc, un pgtype.Text
	if err := row.Scan(&sv.SIAPE, &sv.Name, &sv.Email, &cpf, &uc, &un, &sv.Role, &sv.MustResetPassword, &sv.Active, &sv.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Servidor{}, ErrServidorNotFound
		}
		return models.Servidor{}, fmt.Errorf("scan servidor: %w", err)
	}
	sv.CPF = textPtr(cpf)
	sv.UnitCode = textPtr(uc)
	sv.UnitName = textPtr(un)
	return sv, nil
}

// unusablePassword fills the hash column with random bytes that no password
// can ever verify against, forcing a reset flow before first login.
func unusablePassword() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return "!" + hex.EncodeToString(buf)
}
