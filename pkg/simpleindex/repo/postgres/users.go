package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/tendant/simple-index/pkg/simpleindex"
	"github.com/tendant/simple-index/pkg/simpleindex/identity"
)

// UserStore keeps index accounts in the users table and verifies their
// passwords.
type UserStore struct {
	db DBTX
}

// NewUserStore creates a user store on top of db
func NewUserStore(db DBTX) *UserStore {
	return &UserStore{db: db}
}

var _ simpleindex.IdentityVerifier = (*UserStore)(nil)

// Verify implements simpleindex.IdentityVerifier
func (s *UserStore) Verify(ctx context.Context, username, password string) (simpleindex.Identity, error) {
	var hash string
	err := s.db.QueryRow(ctx, `SELECT password_hash FROM users WHERE username = $1`, username).Scan(&hash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return simpleindex.Identity{}, handlePostgresError("verify user", err)
	}
	if !identity.CheckPassword(hash, password) {
		return simpleindex.Identity{}, simpleindex.ErrInvalidCredentials
	}
	return simpleindex.Identity{Username: username}, nil
}

// SetPassword creates the user or replaces its password
func (s *UserStore) SetPassword(ctx context.Context, username, password string) error {
	if username == "" {
		return errors.New("username must not be empty")
	}
	hash, err := identity.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO users (username, password_hash) VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET password_hash = EXCLUDED.password_hash`,
		username, hash)
	if err != nil {
		return handlePostgresError("set password", err)
	}
	return nil
}

// ListUsers returns all usernames in order
func (s *UserStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT username FROM users ORDER BY username`)
	if err != nil {
		return nil, handlePostgresError("list users", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
