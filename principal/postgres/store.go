// Package postgres implements principal.Store on PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/panelAuth/permission"
	"github.com/MrEthical07/panelAuth/principal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

type Store struct {
	db *sql.DB
}

// Open parses dsn, opens a pooled connection and pings it.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty DSN")
	}
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse DSN: %w", err)
	}

	db := stdlib.OpenDB(*cfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectPrincipal = `SELECT id, tenant_id, username, role, credential_hash, status, locked_until FROM principals`

func (s *Store) FindByUsername(ctx context.Context, username string) (*principal.Principal, error) {
	row := s.db.QueryRowContext(ctx, selectPrincipal+` WHERE lower(username) = lower($1)`, username)
	return scanPrincipal(row)
}

func (s *Store) FindByID(ctx context.Context, id string) (*principal.Principal, error) {
	row := s.db.QueryRowContext(ctx, selectPrincipal+` WHERE id = $1`, id)
	return scanPrincipal(row)
}

func (s *Store) UpdateCredentialHash(ctx context.Context, id, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE principals SET credential_hash = $2, updated_at = now() WHERE id = $1`,
		id, hash,
	)
	if err != nil {
		return fmt.Errorf("update credential hash: %w", err)
	}
	return expectOneRow(res)
}

func (s *Store) SetStatus(ctx context.Context, id string, status principal.Status, lockedUntil time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("set status: invalid status %q", status)
	}
	var until sql.NullTime
	if status == principal.StatusLocked && !lockedUntil.IsZero() {
		until = sql.NullTime{Time: lockedUntil.UTC(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE principals SET status = $2, locked_until = $3, updated_at = now() WHERE id = $1`,
		id, string(status), until,
	)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return expectOneRow(res)
}

// Create inserts p. It is used by provisioning tooling, not by the engine.
func (s *Store) Create(ctx context.Context, p principal.Principal) error {
	if !p.Role.Valid() {
		return permission.ErrUnknownRole
	}
	if p.Status == "" {
		p.Status = principal.StatusActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO principals (id, tenant_id, username, role, credential_hash, status) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.TenantID, p.Username, p.Role.String(), p.CredentialHash, string(p.Status),
	)
	if err != nil {
		return fmt.Errorf("create principal: %w", err)
	}
	return nil
}

func scanPrincipal(row *sql.Row) (*principal.Principal, error) {
	var (
		p      principal.Principal
		role   string
		status string
		until  sql.NullTime
	)
	err := row.Scan(&p.ID, &p.TenantID, &p.Username, &role, &p.CredentialHash, &status, &until)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, principal.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan principal: %w", err)
	}

	p.Role, err = permission.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("principal %s: %w", p.ID, err)
	}
	p.Status = principal.Status(status)
	if until.Valid {
		p.LockedUntil = until.Time
	}
	return &p, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return principal.ErrNotFound
	}
	return nil
}

var _ principal.Store = (*Store)(nil)
