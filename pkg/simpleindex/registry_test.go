package simpleindex_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-index/pkg/simpleindex"
	repomemory "github.com/tendant/simple-index/pkg/simpleindex/repo/memory"
	storagememory "github.com/tendant/simple-index/pkg/simpleindex/storage/memory"
)

var (
	u1 = simpleindex.Identity{Username: "u1"}
	u2 = simpleindex.Identity{Username: "u2"}
)

// recordingSink collects event names
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) record(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, name)
	return nil
}

func (s *recordingSink) ProjectCreated(ctx context.Context, project *simpleindex.Project) error {
	return s.record("project_created:" + project.Name)
}

func (s *recordingSink) ReleaseRegistered(ctx context.Context, release *simpleindex.Release) error {
	return s.record("release_registered:" + release.Version)
}

func (s *recordingSink) ArtifactUploaded(ctx context.Context, release *simpleindex.Release) error {
	return s.record("artifact_uploaded:" + release.Artifact.Filename)
}

func setupRegistry(t *testing.T, opts ...simpleindex.Option) (simpleindex.Registry, *storagememory.Backend) {
	t.Helper()
	blobs := storagememory.New()
	opts = append([]simpleindex.Option{
		simpleindex.WithRepository(repomemory.New()),
		simpleindex.WithBlobStore("memory", blobs),
	}, opts...)
	reg, err := simpleindex.New(opts...)
	require.NoError(t, err)
	return reg, blobs
}

func release(project, version string, user simpleindex.Identity, classifiers ...string) simpleindex.ReleaseRequest {
	return simpleindex.ReleaseRequest{
		Project:     project,
		Version:     version,
		Metadata:    simpleindex.Metadata{Summary: project + " " + version},
		Classifiers: classifiers,
		ActingUser:  user,
	}
}

func withArtifact(req simpleindex.ReleaseRequest, filename, data string) simpleindex.ReleaseRequest {
	req.Artifact = &simpleindex.ArtifactUpload{Filename: filename, Data: []byte(data)}
	return req
}

func TestNew_Validation(t *testing.T) {
	_, err := simpleindex.New()
	assert.Error(t, err)

	_, err = simpleindex.New(
		simpleindex.WithRepository(repomemory.New()),
		simpleindex.WithDefaultBlobStore("missing"),
	)
	assert.Error(t, err)

	_, err = simpleindex.New(
		simpleindex.WithRepository(repomemory.New()),
		simpleindex.WithBlobStore("a", storagememory.New()),
		simpleindex.WithBlobStore("b", storagememory.New()),
		simpleindex.WithDefaultBlobStore("b"),
	)
	assert.NoError(t, err)
}

func TestCreateOrUpdateRelease_NewProject(t *testing.T) {
	sink := &recordingSink{}
	reg, _ := setupRegistry(t, simpleindex.WithEventSink(sink))
	ctx := context.Background()

	rel, err := reg.CreateOrUpdateRelease(ctx, release("foo", "1.0", u1, "B", "A", "B"))
	require.NoError(t, err)
	assert.Equal(t, "foo", rel.ProjectName)
	assert.Equal(t, []string{"A", "B"}, rel.Classifiers)
	assert.False(t, rel.CreatedAt.IsZero())

	project, err := reg.FindProject(ctx, "foo")
	require.NoError(t, err)
	assert.Equal(t, "u1", project.Owner)
	assert.True(t, project.OwnedBy(u1))

	assert.Equal(t, []string{"project_created:foo", "release_registered:1.0"}, sink.events)
}

func TestCreateOrUpdateRelease_PermissionDenied(t *testing.T) {
	reg, blobs := setupRegistry(t)
	ctx := context.Background()

	_, err := reg.CreateOrUpdateRelease(ctx, release("foo", "1.0", u1, "A"))
	require.NoError(t, err)

	_, err = reg.CreateOrUpdateRelease(ctx, withArtifact(release("foo", "1.0", u2, "X"), "foo-1.0.tar.gz", "evil"))
	assert.ErrorIs(t, err, simpleindex.ErrPermissionDenied)
	var regErr *simpleindex.RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "foo", regErr.Project)

	_, err = reg.CreateOrUpdateRelease(ctx, release("foo", "2.0", u2))
	assert.ErrorIs(t, err, simpleindex.ErrPermissionDenied)

	rel, err := reg.GetRelease(ctx, "foo", "1.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, rel.Classifiers)
	assert.Nil(t, rel.Artifact)
	assert.Zero(t, blobs.Len(), "no blob is written before the ownership check")

	releases, err := reg.ListReleases(ctx, "foo")
	require.NoError(t, err)
	assert.Len(t, releases, 1)
}

func TestCreateOrUpdateRelease_OwnerOverwrites(t *testing.T) {
	reg, blobs := setupRegistry(t)
	ctx := context.Background()

	first, err := reg.CreateOrUpdateRelease(ctx, withArtifact(release("foo", "1.0", u1, "A"), "foo-1.0.tar.gz", "v1"))
	require.NoError(t, err)
	firstKey := mustArtifactKey(t, reg, "foo", "1.0")

	second, err := reg.CreateOrUpdateRelease(ctx, release("foo", "1.0", u1, "B"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, []string{"B"}, second.Classifiers)
	require.NotNil(t, second.Artifact, "metadata update keeps the artifact")
	assert.Equal(t, mustArtifactKey(t, reg, "foo", "1.0"), firstKey)

	third, err := reg.CreateOrUpdateRelease(ctx, withArtifact(release("foo", "1.0", u1, "B"), "foo-1.0.tar.gz", "v2"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), third.Artifact.Size)
	assert.NotEqual(t, first.Artifact.SHA256, third.Artifact.SHA256)

	assert.False(t, blobs.Has(firstKey), "replaced blob is removed")
	assert.Equal(t, 1, blobs.Len())

	dl, err := reg.OpenArtifact(ctx, "foo", "1.0", "foo-1.0.tar.gz")
	require.NoError(t, err)
	defer dl.Body.Close()
	data, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func mustArtifactKey(t *testing.T, reg simpleindex.Registry, project, version string) string {
	t.Helper()
	rel, err := reg.GetRelease(context.Background(), project, version)
	require.NoError(t, err)
	require.NotNil(t, rel.Artifact)
	return rel.Artifact.ObjectKey
}

func TestCreateOrUpdateRelease_ArtifactFields(t *testing.T) {
	sink := &recordingSink{}
	reg, blobs := setupRegistry(t, simpleindex.WithEventSink(sink))
	ctx := context.Background()

	rel, err := reg.CreateOrUpdateRelease(ctx, withArtifact(release("foo", "1.0", u1), "foo-1.0.tar.gz", "abc"))
	require.NoError(t, err)

	a := rel.Artifact
	require.NotNil(t, a)
	assert.Equal(t, simpleindex.DefaultArtifactContentType, a.ContentType)
	assert.Equal(t, int64(3), a.Size)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", a.SHA256)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", a.MD5)
	assert.Equal(t, "memory", a.StorageBackend)
	assert.True(t, blobs.Has(a.ObjectKey))
	assert.Equal(t, simpleindex.DefaultArtifactContentType, blobs.MimeType(a.ObjectKey))
	assert.Contains(t, sink.events, "artifact_uploaded:foo-1.0.tar.gz")

	_, err = reg.OpenArtifact(ctx, "foo", "1.0", "other.tar.gz")
	assert.ErrorIs(t, err, simpleindex.ErrArtifactNotFound)
	_, err = reg.ArtifactURL(ctx, "foo", "1.0", "foo-1.0.tar.gz")
	assert.Error(t, err, "memory store has no URLs")
}

// failingRepo fails every PutRelease after delegating the rest
type failingRepo struct {
	*repomemory.Repository
	err error
}

func (r *failingRepo) WithinProject(ctx context.Context, name string, fn func(ctx context.Context, tx simpleindex.ProjectTx) error) error {
	return r.Repository.WithinProject(ctx, name, func(ctx context.Context, tx simpleindex.ProjectTx) error {
		return fn(ctx, &failingTx{ProjectTx: tx, err: r.err})
	})
}

type failingTx struct {
	simpleindex.ProjectTx
	err error
}

func (t *failingTx) PutRelease(ctx context.Context, release *simpleindex.Release) error {
	return t.err
}

func TestCreateOrUpdateRelease_RollsBackBlobOnCommitFailure(t *testing.T) {
	errDisk := errors.New("disk full")
	repo := &failingRepo{Repository: repomemory.New(), err: errDisk}
	blobs := storagememory.New()
	reg, err := simpleindex.New(simpleindex.WithRepository(repo), simpleindex.WithBlobStore("memory", blobs))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = reg.CreateOrUpdateRelease(ctx, withArtifact(release("foo", "1.0", u1), "foo-1.0.tar.gz", "abc"))
	assert.ErrorIs(t, err, errDisk)
	assert.Zero(t, blobs.Len())

	_, err = reg.FindProject(ctx, "foo")
	assert.ErrorIs(t, err, simpleindex.ErrProjectNotFound, "project creation rolled back too")
}

// brokenStore rejects uploads
type brokenStore struct {
	*storagememory.Backend
}

func (brokenStore) UploadWithParams(ctx context.Context, reader io.Reader, params simpleindex.UploadParams) error {
	return errors.New("bucket unavailable")
}

func TestCreateOrUpdateRelease_UploadFailure(t *testing.T) {
	reg, err := simpleindex.New(
		simpleindex.WithRepository(repomemory.New()),
		simpleindex.WithBlobStore("s3", brokenStore{storagememory.New()}),
	)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = reg.CreateOrUpdateRelease(ctx, withArtifact(release("foo", "1.0", u1), "foo-1.0.tar.gz", "abc"))
	var storageErr *simpleindex.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "s3", storageErr.Backend)

	_, err = reg.FindProject(ctx, "foo")
	assert.ErrorIs(t, err, simpleindex.ErrProjectNotFound)
}

func TestCreateOrUpdateRelease_RequiresIdentity(t *testing.T) {
	reg, _ := setupRegistry(t)
	_, err := reg.CreateOrUpdateRelease(context.Background(), release("foo", "1.0", simpleindex.Identity{}))
	assert.ErrorIs(t, err, simpleindex.ErrPermissionDenied)

	_, err = reg.CreateOrUpdateRelease(context.Background(), release("", "1.0", u1))
	assert.Error(t, err)
}

func TestListReleases(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	for _, v := range []string{"1.0", "10.0", "2.0", "2.0-rc1", "dev"} {
		_, err := reg.CreateOrUpdateRelease(ctx, release("foo", v, u1))
		require.NoError(t, err)
	}

	releases, err := reg.ListReleases(ctx, "foo")
	require.NoError(t, err)
	var versions []string
	for _, r := range releases {
		versions = append(versions, r.Version)
	}
	assert.Equal(t, []string{"10.0", "2.0", "2.0-rc1", "1.0", "dev"}, versions)

	_, err = reg.ListReleases(ctx, "missing")
	assert.ErrorIs(t, err, simpleindex.ErrProjectNotFound)
}

func TestCreateOrUpdateRelease_ConcurrentSameUser(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = reg.CreateOrUpdateRelease(ctx, release("foo", "1.0", u1))
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	releases, err := reg.ListReleases(ctx, "foo")
	require.NoError(t, err)
	assert.Len(t, releases, 1)
}
