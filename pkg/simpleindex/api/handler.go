// Package api exposes the index over HTTP: the legacy distutils POST
// endpoint, a read-only JSON listing of projects and releases, artifact
// downloads, health and metrics.
package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/tendant/simple-index/pkg/simpleindex"
	"github.com/tendant/simple-index/pkg/simpleindex/distutils"
)

const (
	// DefaultRealm is sent in WWW-Authenticate challenges.
	DefaultRealm = "pypi"
	// DefaultMaxBodyBytes caps legacy POST bodies.
	DefaultMaxBodyBytes int64 = 64 << 20
)

// ErrorBody is the JSON error payload.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse wraps ErrorBody.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ProjectResponse is a project with its releases, newest first.
type ProjectResponse struct {
	*simpleindex.Project
	Releases []*simpleindex.Release `json:"releases"`
}

// Handler serves the index endpoints.
type Handler struct {
	controller   *distutils.Controller
	registry     simpleindex.Registry
	metrics      *Metrics
	logger       *slog.Logger
	realm        string
	maxBodyBytes int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithRealm sets the Basic auth realm.
func WithRealm(realm string) Option {
	return func(h *Handler) {
		h.realm = realm
	}
}

// WithMaxBodyBytes caps the size of legacy POST bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		h.maxBodyBytes = n
	}
}

// WithMetrics sets the collectors used by the handler.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithLogger sets the handler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a Handler.
func NewHandler(controller *distutils.Controller, registry simpleindex.Registry, opts ...Option) *Handler {
	h := &Handler{
		controller:   controller,
		registry:     registry,
		realm:        DefaultRealm,
		maxBodyBytes: DefaultMaxBodyBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics()
	}
	return h
}

// Routes returns the router for all endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(h.logger))
	r.Use(RecoveryMiddleware(h.logger))
	r.Use(MetricsMiddleware(h.metrics))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	// distutils posts to the repository URL, which is configured as either
	// the server root or the /simple/ index.
	r.Post("/", h.Submit)
	r.Post("/pypi", h.Submit)
	r.Post("/simple/", h.Submit)

	r.Get("/simple/", h.ListProjects)
	r.Get("/simple/{project}/", h.ShowProject)
	r.Get("/simple/{project}/{version}/", h.ShowRelease)
	r.Get("/packages/{project}/{version}/{filename}", h.DownloadArtifact)
	return r
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// Submit handles a legacy register/upload POST.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.ObserveSubmission(distutils.ActionUnknown.String(), "too_large")
			writeText(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body exceeds %d bytes.", tooLarge.Limit))
			return
		}
		h.logger.Warn("failed to read request body", "request_id", RequestIDFromContext(r.Context()), "error", err)
		h.metrics.ObserveSubmission(distutils.ActionUnknown.String(), distutils.BadRequest.String())
		writeText(w, http.StatusBadRequest, distutils.MsgMalformedBody)
		return
	}

	res := h.controller.Handle(r.Context(), distutils.Request{
		Method:        r.Method,
		Body:          body,
		Authorization: r.Header.Get("Authorization"),
	})
	h.metrics.ObserveSubmission(res.Action.String(), res.Outcome.String())

	if res.Outcome == distutils.Unauthorized {
		w.Header().Set("WWW-Authenticate", "Basic realm="+strconv.Quote(h.realm))
	}
	writeText(w, res.StatusCode(), res.Message)
}

// ListProjects returns every project ordered by name.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.registry.ListProjects(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if projects == nil {
		projects = []*simpleindex.Project{}
	}
	render.JSON(w, r, projects)
}

// ShowProject returns a project and its releases.
func (h *Handler) ShowProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "project")

	project, err := h.registry.FindProject(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	releases, err := h.registry.ListReleases(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if releases == nil {
		releases = []*simpleindex.Release{}
	}
	render.JSON(w, r, ProjectResponse{Project: project, Releases: releases})
}

// ShowRelease returns one release.
func (h *Handler) ShowRelease(w http.ResponseWriter, r *http.Request) {
	release, err := h.registry.GetRelease(r.Context(), chi.URLParam(r, "project"), chi.URLParam(r, "version"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	render.JSON(w, r, release)
}

// DownloadArtifact redirects to the blob store when it can hand out URLs and
// streams the artifact otherwise.
func (h *Handler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	version := chi.URLParam(r, "version")
	filename := chi.URLParam(r, "filename")

	url, err := h.registry.ArtifactURL(r.Context(), project, version, filename)
	if err == nil {
		http.Redirect(w, r, url, http.StatusFound)
		return
	}
	if isNotFound(err) {
		h.writeError(w, r, err)
		return
	}

	dl, err := h.registry.OpenArtifact(r.Context(), project, version, filename)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer dl.Body.Close()

	w.Header().Set("Content-Type", dl.Artifact.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Artifact.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Artifact.Filename))
	if dl.Artifact.SHA256 != "" {
		w.Header().Set("ETag", strconv.Quote(dl.Artifact.SHA256))
	}
	if _, err := io.Copy(w, dl.Body); err != nil {
		h.logger.Warn("artifact stream interrupted",
			"request_id", RequestIDFromContext(r.Context()), "project", project, "version", version, "error", err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, simpleindex.ErrProjectNotFound) ||
		errors.Is(err, simpleindex.ErrReleaseNotFound) ||
		errors.Is(err, simpleindex.ErrArtifactNotFound)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := RequestIDFromContext(r.Context())
	body := ErrorBody{Code: "not_found", Message: err.Error(), RequestID: requestID}
	status := http.StatusNotFound
	if !isNotFound(err) {
		h.logger.Error("request failed", "request_id", requestID, "path", r.URL.Path, "error", err)
		body.Code = "internal_error"
		body.Message = "An internal server error occurred"
		status = http.StatusInternalServerError
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: body})
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, msg)
}
