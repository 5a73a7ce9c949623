// Package identity verifies index users' passwords against bcrypt hashes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tendant/simple-index/pkg/simpleindex"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when a username is unknown so that missing
// users and wrong passwords take the same time to reject.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3m8fRM4SAEYbJzX4CYb.Jta")

// HashPassword returns a bcrypt hash suitable for Static or the users table.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash. An empty hash
// never matches but still costs one bcrypt comparison.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Static verifies credentials against a fixed set of bcrypt hashes.
type Static struct {
	hashes map[string]string
}

// NewStatic builds a verifier from username -> bcrypt hash.
func NewStatic(hashes map[string]string) *Static {
	s := &Static{hashes: make(map[string]string, len(hashes))}
	for user, hash := range hashes {
		s.hashes[user] = hash
	}
	return s
}

// ParseStatic parses comma-separated "user:bcrypt-hash" entries, the format
// of the INDEX_USERS setting. Whitespace around entries is ignored.
func ParseStatic(users string) (*Static, error) {
	hashes := make(map[string]string)
	for _, entry := range strings.Split(users, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		user, hash, ok := strings.Cut(entry, ":")
		if !ok || user == "" || hash == "" {
			return nil, fmt.Errorf("invalid user entry %q: want user:bcrypt-hash", entry)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("invalid bcrypt hash for user %q: %w", user, err)
		}
		hashes[user] = hash
	}
	return NewStatic(hashes), nil
}

var _ simpleindex.IdentityVerifier = (*Static)(nil)

// Verify implements simpleindex.IdentityVerifier.
func (s *Static) Verify(ctx context.Context, username, password string) (simpleindex.Identity, error) {
	if !CheckPassword(s.hashes[username], password) {
		return simpleindex.Identity{}, simpleindex.ErrInvalidCredentials
	}
	return simpleindex.Identity{Username: username}, nil
}

// Len returns the number of configured users.
func (s *Static) Len() int {
	return len(s.hashes)
}

// Chain tries each verifier in turn. A verifier answering
// ErrInvalidCredentials passes the request on; any other error stops the
// chain.
type Chain []simpleindex.IdentityVerifier

var _ simpleindex.IdentityVerifier = Chain(nil)

// Verify implements simpleindex.IdentityVerifier.
func (c Chain) Verify(ctx context.Context, username, password string) (simpleindex.Identity, error) {
	for _, v := range c {
		id, err := v.Verify(ctx, username, password)
		if errors.Is(err, simpleindex.ErrInvalidCredentials) {
			continue
		}
		return id, err
	}
	return simpleindex.Identity{}, simpleindex.ErrInvalidCredentials
}
