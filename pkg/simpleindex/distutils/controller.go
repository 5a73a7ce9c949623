// Package distutils implements the legacy distutils register/upload
// protocol on top of a simpleindex.Registry.
//
// Every POST moves through received, decoded, authenticated, validated and
// committed, or stops at the first failing step with a rejection. Handle
// never returns a Go error: every failure is an Outcome.
package distutils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tendant/simple-index/pkg/simpleindex"
	"github.com/tendant/simple-index/pkg/simpleindex/basicauth"
	"github.com/tendant/simple-index/pkg/simpleindex/form"
)

// Controller handles legacy register/upload requests.
type Controller struct {
	registry  simpleindex.Registry
	verifier  simpleindex.IdentityVerifier
	validator Validator
	logger    *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithValidator replaces the default MetadataValidator.
func WithValidator(v Validator) Option {
	return func(c *Controller) {
		c.validator = v
	}
}

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates a controller that stores into registry and checks
// credentials with verifier.
func New(registry simpleindex.Registry, verifier simpleindex.IdentityVerifier, opts ...Option) (*Controller, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if verifier == nil {
		return nil, errors.New("identity verifier is required")
	}
	c := &Controller{
		registry:  registry,
		verifier:  verifier,
		validator: MetadataValidator{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Handle processes one request.
func (c *Controller) Handle(ctx context.Context, req Request) *Result {
	res := &Result{State: StateReceived}

	if req.Method != "" && req.Method != http.MethodPost {
		return res.reject(BadRequest, MsgPostOnly)
	}

	// received -> decoded
	decoded, err := form.Decode(req.Body)
	if err != nil {
		c.logger.Debug("rejecting undecodable body", "error", err, "size", len(req.Body))
		return res.reject(BadRequest, MsgMalformedBody)
	}
	res.Skipped = decoded.Skipped
	for _, s := range decoded.Skipped {
		c.logger.Debug("skipped multipart part", "index", s.Index, "reason", s.Reason)
	}
	res.State = StateDecoded

	// decoded -> authenticated
	auth := basicauth.Authenticate(ctx, req.Authorization, c.verifier)
	switch auth.Outcome {
	case basicauth.Authenticated:
	case basicauth.NoCredentials:
		return res.reject(Unauthorized, MsgLoginRequired)
	case basicauth.InvalidCredentials:
		c.logger.Info("rejected credentials")
		return res.reject(Unauthorized, MsgInvalidLogin)
	default:
		c.logger.Error("identity verification failed", "error", auth.Err)
		res.Err = auth.Err
		return res.reject(InternalError, MsgInternal)
	}
	res.Identity = auth.Identity
	res.State = StateAuthenticated

	// authenticated -> validated
	raw := decoded.Value(":action")
	action, ok := ParseAction(raw)
	res.Action = action
	if !ok {
		errs := make(ValidationErrors)
		if raw == "" {
			errs.Add(":action", "This field is required.")
		} else {
			errs.Add(":action", "Unsupported action %q.", raw)
		}
		return res.invalid(errs)
	}

	sub, errs := c.validator.Validate(action, decoded)
	if len(errs) > 0 {
		c.logger.Info("validation failed", "action", action.String(), "user", res.Identity.Username, "errors", errs.Error())
		return res.invalid(errs)
	}
	res.State = StateValidated

	if action == ActionVerify {
		res.Outcome = Verified
		res.Message = MsgValid
		return res
	}

	// validated -> committed
	release, err := c.registry.CreateOrUpdateRelease(ctx, sub.ReleaseRequest(res.Identity))
	switch {
	case errors.Is(err, simpleindex.ErrPermissionDenied):
		c.logger.Info("ownership conflict", "project", sub.Project, "user", res.Identity.Username)
		return res.reject(Forbidden, MsgOwnedBySomeone)
	case errors.Is(err, simpleindex.ErrAlreadyExists):
		c.logger.Info("duplicate release", "project", sub.Project, "version", sub.Version, "user", res.Identity.Username)
		return res.reject(Forbidden, fmt.Sprintf(msgAlreadyExistsFmt, sub.Project, sub.Version))
	case err != nil:
		c.logger.Error("failed to store release", "project", sub.Project, "version", sub.Version, "error", err)
		res.Err = err
		return res.reject(InternalError, MsgInternal)
	}

	c.logger.Info("release registered",
		"action", action.String(), "project", release.ProjectName, "version", release.Version, "user", res.Identity.Username)

	res.Release = release
	res.State = StateCommitted
	res.Outcome = Committed
	res.Message = MsgRegistered
	return res
}

func (r *Result) reject(outcome Outcome, msg string) *Result {
	r.RejectedAt = r.State
	r.State = StateRejected
	r.Outcome = outcome
	r.Message = msg
	return r
}

func (r *Result) invalid(errs ValidationErrors) *Result {
	r.Errors = errs
	return r.reject(ValidationFailed, errs.Error())
}
