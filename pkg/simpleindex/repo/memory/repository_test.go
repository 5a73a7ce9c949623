package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-index/pkg/simpleindex"
)

func newRelease(project, version string) *simpleindex.Release {
	now := time.Now().UTC()
	return &simpleindex.Release{
		ID:          uuid.New(),
		ProjectName: project,
		Version:     version,
		Classifiers: []string{"A"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMemoryRepository_WithinProject(t *testing.T) {
	ctx := context.Background()

	t.Run("CommitsOnSuccess", func(t *testing.T) {
		repo := New()
		err := repo.WithinProject(ctx, "foo", func(ctx context.Context, tx simpleindex.ProjectTx) error {
			require.NoError(t, tx.CreateProject(ctx, &simpleindex.Project{Name: "foo", Owner: "u1"}))

			// staged project is visible inside the scope
			p, err := tx.GetProject(ctx, "foo")
			require.NoError(t, err)
			assert.Equal(t, "u1", p.Owner)

			return tx.PutRelease(ctx, newRelease("foo", "1.0"))
		})
		require.NoError(t, err)

		p, err := repo.GetProject(ctx, "foo")
		require.NoError(t, err)
		assert.Equal(t, "u1", p.Owner)

		rel, err := repo.GetRelease(ctx, "foo", "1.0")
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, rel.Classifiers)
	})

	t.Run("DiscardsOnError", func(t *testing.T) {
		repo := New()
		boom := errors.New("boom")
		err := repo.WithinProject(ctx, "foo", func(ctx context.Context, tx simpleindex.ProjectTx) error {
			require.NoError(t, tx.CreateProject(ctx, &simpleindex.Project{Name: "foo", Owner: "u1"}))
			require.NoError(t, tx.PutRelease(ctx, newRelease("foo", "1.0")))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = repo.GetProject(ctx, "foo")
		assert.ErrorIs(t, err, simpleindex.ErrProjectNotFound)
		_, err = repo.GetRelease(ctx, "foo", "1.0")
		assert.ErrorIs(t, err, simpleindex.ErrReleaseNotFound)
	})

	t.Run("CreateExistingProject", func(t *testing.T) {
		repo := New()
		create := func(ctx context.Context, tx simpleindex.ProjectTx) error {
			return tx.CreateProject(ctx, &simpleindex.Project{Name: "foo", Owner: "u1"})
		}
		require.NoError(t, repo.WithinProject(ctx, "foo", create))
		assert.ErrorIs(t, repo.WithinProject(ctx, "foo", create), simpleindex.ErrAlreadyExists)
	})

	t.Run("ReleaseRequiresProject", func(t *testing.T) {
		repo := New()
		err := repo.WithinProject(ctx, "foo", func(ctx context.Context, tx simpleindex.ProjectTx) error {
			return tx.PutRelease(ctx, newRelease("foo", "1.0"))
		})
		assert.ErrorIs(t, err, simpleindex.ErrProjectNotFound)
	})

	t.Run("ReturnedValuesAreCopies", func(t *testing.T) {
		repo := New()
		require.NoError(t, repo.WithinProject(ctx, "foo", func(ctx context.Context, tx simpleindex.ProjectTx) error {
			if err := tx.CreateProject(ctx, &simpleindex.Project{Name: "foo", Owner: "u1"}); err != nil {
				return err
			}
			return tx.PutRelease(ctx, newRelease("foo", "1.0"))
		}))

		rel, err := repo.GetRelease(ctx, "foo", "1.0")
		require.NoError(t, err)
		rel.Classifiers[0] = "mutated"

		again, err := repo.GetRelease(ctx, "foo", "1.0")
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, again.Classifiers)
	})
}

func TestMemoryRepository_SerialisesPerProject(t *testing.T) {
	repo := New()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.WithinProject(ctx, "foo", func(ctx context.Context, tx simpleindex.ProjectTx) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, repo.locks.size())
}

func TestMemoryRepository_LockRespectsContext(t *testing.T) {
	repo := New()
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = repo.WithinProject(context.Background(), "foo", func(ctx context.Context, tx simpleindex.ProjectTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := repo.WithinProject(ctx, "foo", func(ctx context.Context, tx simpleindex.ProjectTx) error {
		t.Fatal("should not enter while the project is locked")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// a different project is not blocked
	require.NoError(t, repo.WithinProject(context.Background(), "bar", func(ctx context.Context, tx simpleindex.ProjectTx) error {
		return nil
	}))

	close(release)
}

func TestMemoryRepository_Listing(t *testing.T) {
	repo := New()
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha"} {
		name := name
		require.NoError(t, repo.WithinProject(ctx, name, func(ctx context.Context, tx simpleindex.ProjectTx) error {
			if err := tx.CreateProject(ctx, &simpleindex.Project{Name: name, Owner: "u1"}); err != nil {
				return err
			}
			if err := tx.PutRelease(ctx, newRelease(name, "1.0")); err != nil {
				return err
			}
			return tx.PutRelease(ctx, newRelease(name, "0.9"))
		}))
	}

	projects, err := repo.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "alpha", projects[0].Name)
	assert.Equal(t, "zeta", projects[1].Name)

	releases, err := repo.ListReleases(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, releases, 2)

	releases, err = repo.ListReleases(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, releases)
}
