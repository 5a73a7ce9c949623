package simpleindex

import (
	"context"
	"io"
)

// BlobStore defines the interface for artifact storage backends
type BlobStore interface {
	// UploadWithParams stores the reader's bytes under params.ObjectKey
	UploadWithParams(ctx context.Context, reader io.Reader, params UploadParams) error

	// Download opens a stored object
	Download(ctx context.Context, objectKey string) (io.ReadCloser, error)

	// GetDownloadURL returns a direct URL for the object, when the backend
	// can serve one. Backends without URL support return an error.
	GetDownloadURL(ctx context.Context, objectKey string, downloadFilename string) (string, error)

	// Delete removes a stored object
	Delete(ctx context.Context, objectKey string) error
}

// UploadParams contains parameters for uploading an object
type UploadParams struct {
	ObjectKey string
	MimeType  string
}

// Repository defines project and release persistence.
//
// Writes only happen inside WithinProject, which gives the callback an
// exclusive, all-or-nothing view of one project: either every write made
// through the ProjectTx is committed or none is.
type Repository interface {
	GetProject(ctx context.Context, name string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	GetRelease(ctx context.Context, project, version string) (*Release, error)
	ListReleases(ctx context.Context, project string) ([]*Release, error)

	WithinProject(ctx context.Context, name string, fn func(ctx context.Context, tx ProjectTx) error) error
}

// ProjectTx is the write scope handed out by Repository.WithinProject.
type ProjectTx interface {
	GetProject(ctx context.Context, name string) (*Project, error)
	CreateProject(ctx context.Context, project *Project) error
	TouchProject(ctx context.Context, project *Project) error
	GetRelease(ctx context.Context, project, version string) (*Release, error)
	PutRelease(ctx context.Context, release *Release) error
}

// IdentityVerifier checks a username/password pair.
// It returns ErrInvalidCredentials when the pair does not verify.
type IdentityVerifier interface {
	Verify(ctx context.Context, username, password string) (Identity, error)
}

// IdentityVerifierFunc adapts a function to IdentityVerifier.
type IdentityVerifierFunc func(ctx context.Context, username, password string) (Identity, error)

func (f IdentityVerifierFunc) Verify(ctx context.Context, username, password string) (Identity, error) {
	return f(ctx, username, password)
}

// EventSink receives registry lifecycle events
type EventSink interface {
	// ProjectCreated is fired when a registration creates a new project
	ProjectCreated(ctx context.Context, project *Project) error

	// ReleaseRegistered is fired after a release is created or updated
	ReleaseRegistered(ctx context.Context, release *Release) error

	// ArtifactUploaded is fired after a release receives a new artifact
	ArtifactUploaded(ctx context.Context, release *Release) error
}
