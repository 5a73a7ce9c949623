package simpleindex

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-index/pkg/simpleindex/objectkey"
)

// DefaultArtifactContentType is used when an upload declares no content type.
const DefaultArtifactContentType = "application/octet-stream"

// Registry is the project registry: it looks projects up and applies
// ownership and uniqueness rules when releases are written.
type Registry interface {
	// FindProject returns the named project or ErrProjectNotFound.
	FindProject(ctx context.Context, name string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	GetRelease(ctx context.Context, project, version string) (*Release, error)
	// ListReleases returns a project's releases, newest version first.
	ListReleases(ctx context.Context, project string) ([]*Release, error)

	// CreateOrUpdateRelease creates the project (owned by req.ActingUser) if
	// needed and stores the release. It fails with ErrPermissionDenied when
	// the project belongs to someone else and with ErrAlreadyExists when a
	// concurrent writer won the race to create it. Nothing is persisted on
	// failure.
	CreateOrUpdateRelease(ctx context.Context, req ReleaseRequest) (*Release, error)

	// OpenArtifact streams the named artifact of a release.
	OpenArtifact(ctx context.Context, project, version, filename string) (*ArtifactDownload, error)
	// ArtifactURL returns a direct download URL when the backing store has one.
	ArtifactURL(ctx context.Context, project, version, filename string) (string, error)
}

// registry implements the Registry interface
type registry struct {
	repository       Repository
	blobStores       map[string]BlobStore
	defaultBlobStore string
	keyGenerator     objectkey.Generator
	eventSink        EventSink
	logger           *slog.Logger
	now              func() time.Time
}

// Option represents a functional option for configuring the registry
type Option func(*registry)

// WithRepository sets the repository for the registry
func WithRepository(repo Repository) Option {
	return func(r *registry) {
		r.repository = repo
	}
}

// WithBlobStore adds an artifact storage backend
func WithBlobStore(name string, store BlobStore) Option {
	return func(r *registry) {
		if r.blobStores == nil {
			r.blobStores = make(map[string]BlobStore)
		}
		r.blobStores[name] = store
	}
}

// WithDefaultBlobStore selects the backend new artifacts are written to
func WithDefaultBlobStore(name string) Option {
	return func(r *registry) {
		r.defaultBlobStore = name
	}
}

// WithObjectKeyGenerator sets the artifact key strategy
func WithObjectKeyGenerator(gen objectkey.Generator) Option {
	return func(r *registry) {
		r.keyGenerator = gen
	}
}

// WithEventSink sets the event sink for the registry
func WithEventSink(sink EventSink) Option {
	return func(r *registry) {
		r.eventSink = sink
	}
}

// WithLogger sets the logger for the registry
func WithLogger(logger *slog.Logger) Option {
	return func(r *registry) {
		r.logger = logger
	}
}

// New creates a new registry instance with the given options
func New(options ...Option) (Registry, error) {
	r := &registry{
		blobStores: make(map[string]BlobStore),
		now:        func() time.Time { return time.Now().UTC() },
	}

	for _, option := range options {
		option(r)
	}

	if r.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if r.defaultBlobStore == "" && len(r.blobStores) == 1 {
		for name := range r.blobStores {
			r.defaultBlobStore = name
		}
	}
	if r.defaultBlobStore != "" {
		if _, ok := r.blobStores[r.defaultBlobStore]; !ok {
			return nil, fmt.Errorf("default blob store %q is not configured", r.defaultBlobStore)
		}
	}
	if r.keyGenerator == nil {
		r.keyGenerator = objectkey.NewPathGenerator()
	}
	if r.eventSink == nil {
		r.eventSink = NewNoopEventSink()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}

	return r, nil
}

func (r *registry) FindProject(ctx context.Context, name string) (*Project, error) {
	return r.repository.GetProject(ctx, name)
}

func (r *registry) ListProjects(ctx context.Context) ([]*Project, error) {
	return r.repository.ListProjects(ctx)
}

func (r *registry) GetRelease(ctx context.Context, project, version string) (*Release, error) {
	return r.repository.GetRelease(ctx, project, version)
}

func (r *registry) ListReleases(ctx context.Context, project string) ([]*Release, error) {
	if _, err := r.repository.GetProject(ctx, project); err != nil {
		return nil, err
	}
	releases, err := r.repository.ListReleases(ctx, project)
	if err != nil {
		return nil, err
	}
	SortReleases(releases)
	return releases, nil
}

func (r *registry) CreateOrUpdateRelease(ctx context.Context, req ReleaseRequest) (*Release, error) {
	if req.Project == "" || req.Version == "" {
		return nil, &RegistryError{Project: req.Project, Version: req.Version, Op: "register",
			Err: errors.New("project name and version are required")}
	}
	if req.ActingUser.Username == "" {
		return nil, &RegistryError{Project: req.Project, Version: req.Version, Op: "register", Err: ErrPermissionDenied}
	}

	var (
		saved    *Release
		created  *Project
		stored   *Artifact
		replaced *Artifact
	)

	err := r.repository.WithinProject(ctx, req.Project, func(ctx context.Context, tx ProjectTx) error {
		now := r.now()

		project, err := tx.GetProject(ctx, req.Project)
		switch {
		case errors.Is(err, ErrProjectNotFound):
			project = &Project{
				Name:      req.Project,
				Owner:     req.ActingUser.Username,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.CreateProject(ctx, project); err != nil {
				return err
			}
			created = project
		case err != nil:
			return err
		case !project.OwnedBy(req.ActingUser):
			return ErrPermissionDenied
		}

		existing, err := tx.GetRelease(ctx, req.Project, req.Version)
		if err != nil && !errors.Is(err, ErrReleaseNotFound) {
			return err
		}

		release := &Release{
			ID:          uuid.New(),
			ProjectName: req.Project,
			Version:     req.Version,
			Metadata:    req.Metadata,
			Classifiers: ClassifierSet(req.Classifiers),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if existing != nil {
			release.ID = existing.ID
			release.CreatedAt = existing.CreatedAt
			release.Artifact = existing.Artifact
		}

		if req.Artifact != nil {
			artifact, err := r.storeArtifact(ctx, req)
			if err != nil {
				return err
			}
			stored = artifact
			if existing != nil && existing.Artifact != nil {
				replaced = existing.Artifact
			}
			release.Artifact = artifact
		}

		if err := tx.PutRelease(ctx, release); err != nil {
			return err
		}
		if created == nil {
			project.UpdatedAt = now
			if err := tx.TouchProject(ctx, project); err != nil {
				return err
			}
		}

		saved = release
		return nil
	})
	if err != nil {
		if stored != nil {
			r.deleteArtifact(ctx, stored)
		}
		return nil, &RegistryError{Project: req.Project, Version: req.Version, Op: "register", Err: err}
	}

	if replaced != nil {
		r.deleteArtifact(ctx, replaced)
	}

	if created != nil {
		if err := r.eventSink.ProjectCreated(ctx, created); err != nil {
			r.logger.Warn("event sink failed", "event", "project_created", "project", created.Name, "error", err)
		}
	}
	if err := r.eventSink.ReleaseRegistered(ctx, saved); err != nil {
		r.logger.Warn("event sink failed", "event", "release_registered", "project", saved.ProjectName, "error", err)
	}
	if stored != nil {
		if err := r.eventSink.ArtifactUploaded(ctx, saved); err != nil {
			r.logger.Warn("event sink failed", "event", "artifact_uploaded", "project", saved.ProjectName, "error", err)
		}
	}

	return saved.Clone(), nil
}

func (r *registry) storeArtifact(ctx context.Context, req ReleaseRequest) (*Artifact, error) {
	store, ok := r.blobStores[r.defaultBlobStore]
	if !ok {
		return nil, &StorageError{Backend: r.defaultBlobStore, Op: "upload", Err: errors.New("no blob store configured")}
	}

	upload := req.Artifact
	contentType := upload.ContentType
	if contentType == "" {
		contentType = DefaultArtifactContentType
	}

	key := r.keyGenerator.GenerateKey(uuid.New(), &objectkey.KeyMetadata{
		Project:  req.Project,
		Version:  req.Version,
		FileName: upload.Filename,
	})

	if err := store.UploadWithParams(ctx, bytes.NewReader(upload.Data), UploadParams{
		ObjectKey: key,
		MimeType:  contentType,
	}); err != nil {
		return nil, &StorageError{Backend: r.defaultBlobStore, Key: key, Op: "upload", Err: err}
	}

	sha := sha256.Sum256(upload.Data)
	sum := md5.Sum(upload.Data)
	return &Artifact{
		Filename:       upload.Filename,
		ContentType:    contentType,
		Size:           int64(len(upload.Data)),
		SHA256:         hex.EncodeToString(sha[:]),
		MD5:            hex.EncodeToString(sum[:]),
		FileType:       upload.FileType,
		PyVersion:      upload.PyVersion,
		ObjectKey:      key,
		StorageBackend: r.defaultBlobStore,
		UploadedAt:     r.now(),
	}, nil
}

// deleteArtifact removes an orphaned blob. Failures only leave garbage in the
// store, so they are logged rather than returned.
func (r *registry) deleteArtifact(ctx context.Context, a *Artifact) {
	store, ok := r.blobStores[a.StorageBackend]
	if !ok {
		return
	}
	if err := store.Delete(ctx, a.ObjectKey); err != nil {
		r.logger.Warn("failed to delete artifact blob", "backend", a.StorageBackend, "key", a.ObjectKey, "error", err)
	}
}

func (r *registry) lookupArtifact(ctx context.Context, project, version, filename string) (*Artifact, BlobStore, error) {
	release, err := r.repository.GetRelease(ctx, project, version)
	if err != nil {
		return nil, nil, err
	}
	a := release.Artifact
	if a == nil || (filename != "" && a.Filename != filename) {
		return nil, nil, ErrArtifactNotFound
	}
	store, ok := r.blobStores[a.StorageBackend]
	if !ok {
		return nil, nil, &StorageError{Backend: a.StorageBackend, Key: a.ObjectKey, Op: "lookup",
			Err: errors.New("blob store not configured")}
	}
	return a, store, nil
}

func (r *registry) OpenArtifact(ctx context.Context, project, version, filename string) (*ArtifactDownload, error) {
	a, store, err := r.lookupArtifact(ctx, project, version, filename)
	if err != nil {
		return nil, err
	}
	body, err := store.Download(ctx, a.ObjectKey)
	if err != nil {
		return nil, &StorageError{Backend: a.StorageBackend, Key: a.ObjectKey, Op: "download", Err: err}
	}
	return &ArtifactDownload{Artifact: a, Body: body}, nil
}

func (r *registry) ArtifactURL(ctx context.Context, project, version, filename string) (string, error) {
	a, store, err := r.lookupArtifact(ctx, project, version, filename)
	if err != nil {
		return "", err
	}
	return store.GetDownloadURL(ctx, a.ObjectKey, a.Filename)
}
