// Package basicauth extracts HTTP Basic credentials from a raw Authorization
// header and verifies them.
package basicauth

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/tendant/simple-index/pkg/simpleindex"
)

// Outcome is the result class of an authentication attempt.
type Outcome int

const (
	// NoCredentials means no Basic credentials were supplied.
	NoCredentials Outcome = iota
	// InvalidCredentials means Basic credentials were supplied but are
	// malformed or do not verify.
	InvalidCredentials
	// Authenticated means the credentials verified. Only Authenticate
	// reports it.
	Authenticated
	// VerifierFailed means the verifier could not answer, e.g. its store was
	// unreachable. The caller did nothing wrong.
	VerifierFailed
	// CredentialsFound means ParseHeader decoded a username/password pair.
	// Nothing has been verified yet.
	CredentialsFound
)

func (o Outcome) String() string {
	switch o {
	case NoCredentials:
		return "no_credentials"
	case InvalidCredentials:
		return "invalid_credentials"
	case Authenticated:
		return "authenticated"
	case VerifierFailed:
		return "verifier_failed"
	case CredentialsFound:
		return "credentials_found"
	default:
		return "unknown"
	}
}

// Credentials is a username/password pair taken from one request.
type Credentials struct {
	Username string
	Password string
}

// Result is returned by Authenticate.
type Result struct {
	Outcome  Outcome
	Identity simpleindex.Identity
	// Err is set for VerifierFailed.
	Err error
}

// ParseHeader decodes an Authorization header value.
//
// An empty header or a scheme other than Basic yields NoCredentials. A Basic
// header whose payload is not base64 or lacks the ':' separator yields
// InvalidCredentials. Otherwise the outcome is CredentialsFound; ParseHeader
// never reports Authenticated.
func ParseHeader(header string) (Credentials, Outcome) {
	header = strings.TrimSpace(header)
	if header == "" {
		return Credentials{}, NoCredentials
	}

	scheme, payload, _ := strings.Cut(header, " ")
	if !strings.EqualFold(scheme, "basic") {
		return Credentials{}, NoCredentials
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return Credentials{}, InvalidCredentials
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return Credentials{}, InvalidCredentials
	}
	return Credentials{Username: username, Password: password}, CredentialsFound
}

// Authenticate parses header and checks the credentials with verifier.
func Authenticate(ctx context.Context, header string, verifier simpleindex.IdentityVerifier) Result {
	creds, outcome := ParseHeader(header)
	if outcome != CredentialsFound {
		return Result{Outcome: outcome}
	}
	if creds.Username == "" {
		return Result{Outcome: InvalidCredentials}
	}

	id, err := verifier.Verify(ctx, creds.Username, creds.Password)
	switch {
	case errors.Is(err, simpleindex.ErrInvalidCredentials):
		return Result{Outcome: InvalidCredentials}
	case err != nil:
		return Result{Outcome: VerifierFailed, Err: err}
	case id.Username == "":
		return Result{Outcome: InvalidCredentials}
	}
	return Result{Outcome: Authenticated, Identity: id}
}

// Encode builds a Basic Authorization header value.
func Encode(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
