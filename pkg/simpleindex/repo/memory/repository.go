package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tendant/simple-index/pkg/simpleindex"
)

// Repository implements simpleindex.Repository using in-memory storage
type Repository struct {
	mu       sync.RWMutex
	projects map[string]*simpleindex.Project
	releases map[string]map[string]*simpleindex.Release // project -> version -> release

	locks *keyLocks
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		projects: make(map[string]*simpleindex.Project),
		releases: make(map[string]map[string]*simpleindex.Release),
		locks:    newKeyLocks(),
	}
}

var _ simpleindex.Repository = (*Repository)(nil)

func (r *Repository) GetProject(ctx context.Context, name string) (*simpleindex.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.projects[name]
	if !ok {
		return nil, simpleindex.ErrProjectNotFound
	}
	projectCopy := *p
	return &projectCopy, nil
}

func (r *Repository) ListProjects(ctx context.Context) ([]*simpleindex.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*simpleindex.Project, 0, len(r.projects))
	for _, p := range r.projects {
		projectCopy := *p
		result = append(result, &projectCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (r *Repository) GetRelease(ctx context.Context, project, version string) (*simpleindex.Release, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rel, ok := r.releases[project][version]
	if !ok {
		return nil, simpleindex.ErrReleaseNotFound
	}
	return rel.Clone(), nil
}

func (r *Repository) ListReleases(ctx context.Context, project string) ([]*simpleindex.Release, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*simpleindex.Release, 0, len(r.releases[project]))
	for _, rel := range r.releases[project] {
		result = append(result, rel.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result, nil
}

// WithinProject serialises writers per project name. Writes made through
// the ProjectTx are staged and applied only when fn returns nil.
func (r *Repository) WithinProject(ctx context.Context, name string, fn func(ctx context.Context, tx simpleindex.ProjectTx) error) error {
	unlock, err := r.locks.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	tx := &projectTx{repo: r, releases: make(map[string]*simpleindex.Release)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if tx.project != nil {
		projectCopy := *tx.project
		r.projects[projectCopy.Name] = &projectCopy
	}
	for _, rel := range tx.releases {
		versions, ok := r.releases[rel.ProjectName]
		if !ok {
			versions = make(map[string]*simpleindex.Release)
			r.releases[rel.ProjectName] = versions
		}
		versions[rel.Version] = rel.Clone()
	}
	return nil
}

// projectTx stages writes for one WithinProject call
type projectTx struct {
	repo     *Repository
	project  *simpleindex.Project
	releases map[string]*simpleindex.Release // version -> staged release
}

func (tx *projectTx) GetProject(ctx context.Context, name string) (*simpleindex.Project, error) {
	if tx.project != nil && tx.project.Name == name {
		projectCopy := *tx.project
		return &projectCopy, nil
	}
	return tx.repo.GetProject(ctx, name)
}

func (tx *projectTx) CreateProject(ctx context.Context, project *simpleindex.Project) error {
	if _, err := tx.GetProject(ctx, project.Name); err == nil {
		return simpleindex.ErrAlreadyExists
	}
	projectCopy := *project
	tx.project = &projectCopy
	return nil
}

func (tx *projectTx) TouchProject(ctx context.Context, project *simpleindex.Project) error {
	if _, err := tx.GetProject(ctx, project.Name); err != nil {
		return err
	}
	projectCopy := *project
	tx.project = &projectCopy
	return nil
}

func (tx *projectTx) GetRelease(ctx context.Context, project, version string) (*simpleindex.Release, error) {
	if rel, ok := tx.releases[version]; ok && rel.ProjectName == project {
		return rel.Clone(), nil
	}
	return tx.repo.GetRelease(ctx, project, version)
}

func (tx *projectTx) PutRelease(ctx context.Context, release *simpleindex.Release) error {
	if _, err := tx.GetProject(ctx, release.ProjectName); err != nil {
		return err
	}
	tx.releases[release.Version] = release.Clone()
	return nil
}
