package distutils

import (
	"net/http"

	"github.com/tendant/simple-index/pkg/simpleindex"
	"github.com/tendant/simple-index/pkg/simpleindex/form"
)

// Action is the value of the :action field.
type Action int

const (
	ActionUnknown Action = iota
	// ActionSubmit registers or updates release metadata.
	ActionSubmit
	// ActionVerify checks metadata without storing anything.
	ActionVerify
	// ActionFileUpload registers the release and attaches an archive.
	ActionFileUpload
)

// ParseAction maps an :action value to an Action.
func ParseAction(s string) (Action, bool) {
	switch s {
	case "submit":
		return ActionSubmit, true
	case "verify":
		return ActionVerify, true
	case "file_upload":
		return ActionFileUpload, true
	}
	return ActionUnknown, false
}

func (a Action) String() string {
	switch a {
	case ActionSubmit:
		return "submit"
	case ActionVerify:
		return "verify"
	case ActionFileUpload:
		return "file_upload"
	default:
		return "unknown"
	}
}

// State is a step of request processing.
type State int

const (
	StateReceived State = iota
	StateDecoded
	StateAuthenticated
	StateValidated
	StateCommitted
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateDecoded:
		return "decoded"
	case StateAuthenticated:
		return "authenticated"
	case StateValidated:
		return "validated"
	case StateCommitted:
		return "committed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the protocol level result of a request.
type Outcome int

const (
	// OutcomeUnset is the zero value; a Result that never reached a
	// decision reports it and is not a success.
	OutcomeUnset Outcome = iota
	// Committed means the release was stored.
	Committed
	// Verified means a verify request passed validation.
	Verified
	BadRequest
	Unauthorized
	Forbidden
	ValidationFailed
	InternalError
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Verified:
		return "verified"
	case BadRequest:
		return "bad_request"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case ValidationFailed:
		return "validation_errors"
	case InternalError:
		return "internal_error"
	default:
		return "unknown"
	}
}

// StatusCode returns the HTTP status for the outcome.
func (o Outcome) StatusCode() int {
	switch o {
	case Committed, Verified:
		return http.StatusOK
	case BadRequest, ValidationFailed:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Success reports whether the outcome acknowledges the request.
func (o Outcome) Success() bool {
	return o == Committed || o == Verified
}

// Response messages.
const (
	MsgRegistered       = "Successfully registered."
	MsgValid            = "Metadata is valid."
	MsgMalformedBody    = "Malformed request body."
	MsgPostOnly         = "Only POST is supported."
	MsgLoginRequired    = "Authentication required."
	MsgInvalidLogin     = "Not logged in, or invalid username/password."
	MsgOwnedBySomeone   = "That project is owned by someone else!"
	MsgInternal         = "Internal server error."
	msgAlreadyExistsFmt = "Release %s %s already exists."
)

// Request is the raw input of one legacy POST.
type Request struct {
	Method        string
	Body          []byte
	Authorization string
}

// Result is what Handle returns for every request.
type Result struct {
	Outcome Outcome
	// State is the last state reached; StateRejected for rejections.
	State State
	// RejectedAt is the state the request was in when it was rejected.
	RejectedAt State
	Action     Action
	Message    string
	Errors     ValidationErrors
	Identity   simpleindex.Identity
	Release    *simpleindex.Release
	Skipped    []form.SkippedPart
	// Err is the underlying error for InternalError results.
	Err error
}

// StatusCode is a shortcut for r.Outcome.StatusCode.
func (r *Result) StatusCode() int {
	return r.Outcome.StatusCode()
}
