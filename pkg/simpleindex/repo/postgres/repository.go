package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-index/pkg/simpleindex"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// DB is a DBTX that can also open transactions (*pgxpool.Pool, *pgx.Conn)
type DB interface {
	DBTX
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements simpleindex.Repository using PostgreSQL
type Repository struct {
	db DB
}

// New creates a new PostgreSQL repository
func New(db DB) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

var _ simpleindex.Repository = (*Repository)(nil)

// handlePostgresError maps driver errors onto the registry's error vocabulary
func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %w (%s)", operation, simpleindex.ErrAlreadyExists, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced record not found: %w", operation, simpleindex.ErrProjectNotFound)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: required field %s is missing", operation, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - database migration required", operation)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

const projectColumns = `name, owner, created_at, updated_at`

const releaseColumns = `
	id, project_name, version,
	metadata_version, summary, description, home_page, author, author_email,
	license, keywords, platform, download_url, classifiers,
	artifact_filename, artifact_content_type, artifact_size, artifact_sha256,
	artifact_md5, artifact_filetype, artifact_pyversion, artifact_object_key,
	artifact_storage_backend, artifact_uploaded_at,
	created_at, updated_at`

func scanProject(row pgx.Row) (*simpleindex.Project, error) {
	var p simpleindex.Project
	if err := row.Scan(&p.Name, &p.Owner, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanRelease(row pgx.Row) (*simpleindex.Release, error) {
	var (
		r simpleindex.Release
		m = &r.Metadata

		filename, contentType, sha, md5sum, filetype, pyversion, key, backend *string
		size                                                                   *int64
		uploadedAt                                                             *time.Time
	)
	err := row.Scan(
		&r.ID, &r.ProjectName, &r.Version,
		&m.MetadataVersion, &m.Summary, &m.Description, &m.HomePage, &m.Author, &m.AuthorEmail,
		&m.License, &m.Keywords, &m.Platform, &m.DownloadURL, &r.Classifiers,
		&filename, &contentType, &size, &sha,
		&md5sum, &filetype, &pyversion, &key,
		&backend, &uploadedAt,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if filename != nil && key != nil {
		r.Artifact = &simpleindex.Artifact{
			Filename:       *filename,
			ContentType:    deref(contentType),
			SHA256:         deref(sha),
			MD5:            deref(md5sum),
			FileType:       deref(filetype),
			PyVersion:      deref(pyversion),
			ObjectKey:      *key,
			StorageBackend: deref(backend),
		}
		if size != nil {
			r.Artifact.Size = *size
		}
		if uploadedAt != nil {
			r.Artifact.UploadedAt = *uploadedAt
		}
	}
	if r.Classifiers == nil {
		r.Classifiers = []string{}
	}
	return &r, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func getProject(ctx context.Context, db DBTX, name string, lockRow bool) (*simpleindex.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE name = $1`
	if lockRow {
		query += ` FOR UPDATE`
	}
	p, err := scanProject(db.QueryRow(ctx, query, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, simpleindex.ErrProjectNotFound
	}
	if err != nil {
		return nil, handlePostgresError("get project", err)
	}
	return p, nil
}

func getRelease(ctx context.Context, db DBTX, project, version string) (*simpleindex.Release, error) {
	query := `SELECT ` + releaseColumns + ` FROM releases WHERE project_name = $1 AND version = $2`
	r, err := scanRelease(db.QueryRow(ctx, query, project, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, simpleindex.ErrReleaseNotFound
	}
	if err != nil {
		return nil, handlePostgresError("get release", err)
	}
	return r, nil
}

func (r *Repository) GetProject(ctx context.Context, name string) (*simpleindex.Project, error) {
	return getProject(ctx, r.db, name, false)
}

func (r *Repository) ListProjects(ctx context.Context) ([]*simpleindex.Project, error) {
	rows, err := r.db.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY name`)
	if err != nil {
		return nil, handlePostgresError("list projects", err)
	}
	defer rows.Close()

	var projects []*simpleindex.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, handlePostgresError("list projects", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list projects", err)
	}
	return projects, nil
}

func (r *Repository) GetRelease(ctx context.Context, project, version string) (*simpleindex.Release, error) {
	return getRelease(ctx, r.db, project, version)
}

func (r *Repository) ListReleases(ctx context.Context, project string) ([]*simpleindex.Release, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+releaseColumns+` FROM releases WHERE project_name = $1 ORDER BY version`, project)
	if err != nil {
		return nil, handlePostgresError("list releases", err)
	}
	defer rows.Close()

	var releases []*simpleindex.Release
	for rows.Next() {
		rel, err := scanRelease(rows)
		if err != nil {
			return nil, handlePostgresError("list releases", err)
		}
		releases = append(releases, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list releases", err)
	}
	return releases, nil
}

// WithinProject runs fn in a transaction holding a transaction-scoped
// advisory lock on the project name, so the ownership check and the write
// cannot interleave with another registration of the same project, even
// before the project row exists.
func (r *Repository) WithinProject(ctx context.Context, name string, fn func(ctx context.Context, tx simpleindex.ProjectTx) error) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, name); err != nil {
			return handlePostgresError("lock project", err)
		}
		return fn(ctx, &projectTx{tx: tx})
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// raised by COMMIT itself, e.g. a deferred unique constraint
		return handlePostgresError("commit", err)
	}
	return err
}

// projectTx implements simpleindex.ProjectTx inside one transaction
type projectTx struct {
	tx pgx.Tx
}

func (t *projectTx) GetProject(ctx context.Context, name string) (*simpleindex.Project, error) {
	return getProject(ctx, t.tx, name, true)
}

func (t *projectTx) CreateProject(ctx context.Context, project *simpleindex.Project) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO projects (name, owner, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		project.Name, project.Owner, project.CreatedAt, project.UpdatedAt)
	if err != nil {
		return handlePostgresError("create project", err)
	}
	return nil
}

func (t *projectTx) TouchProject(ctx context.Context, project *simpleindex.Project) error {
	tag, err := t.tx.Exec(ctx, `UPDATE projects SET updated_at = $2 WHERE name = $1`, project.Name, project.UpdatedAt)
	if err != nil {
		return handlePostgresError("touch project", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleindex.ErrProjectNotFound
	}
	return nil
}

func (t *projectTx) GetRelease(ctx context.Context, project, version string) (*simpleindex.Release, error) {
	return getRelease(ctx, t.tx, project, version)
}

func (t *projectTx) PutRelease(ctx context.Context, release *simpleindex.Release) error {
	query := `
		INSERT INTO releases (` + releaseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		ON CONFLICT (project_name, version) DO UPDATE SET
			metadata_version = EXCLUDED.metadata_version,
			summary = EXCLUDED.summary,
			description = EXCLUDED.description,
			home_page = EXCLUDED.home_page,
			author = EXCLUDED.author,
			author_email = EXCLUDED.author_email,
			license = EXCLUDED.license,
			keywords = EXCLUDED.keywords,
			platform = EXCLUDED.platform,
			download_url = EXCLUDED.download_url,
			classifiers = EXCLUDED.classifiers,
			artifact_filename = EXCLUDED.artifact_filename,
			artifact_content_type = EXCLUDED.artifact_content_type,
			artifact_size = EXCLUDED.artifact_size,
			artifact_sha256 = EXCLUDED.artifact_sha256,
			artifact_md5 = EXCLUDED.artifact_md5,
			artifact_filetype = EXCLUDED.artifact_filetype,
			artifact_pyversion = EXCLUDED.artifact_pyversion,
			artifact_object_key = EXCLUDED.artifact_object_key,
			artifact_storage_backend = EXCLUDED.artifact_storage_backend,
			artifact_uploaded_at = EXCLUDED.artifact_uploaded_at,
			updated_at = EXCLUDED.updated_at`

	m := release.Metadata
	var (
		filename, contentType, sha, md5sum, filetype, pyversion, key, backend *string
		size                                                                   *int64
		uploadedAt                                                             *time.Time
	)
	if a := release.Artifact; a != nil {
		filename, contentType, sha, md5sum = &a.Filename, &a.ContentType, &a.SHA256, &a.MD5
		filetype, pyversion, key, backend = &a.FileType, &a.PyVersion, &a.ObjectKey, &a.StorageBackend
		size, uploadedAt = &a.Size, &a.UploadedAt
	}
	classifiers := release.Classifiers
	if classifiers == nil {
		classifiers = []string{}
	}

	_, err := t.tx.Exec(ctx, query,
		release.ID, release.ProjectName, release.Version,
		m.MetadataVersion, m.Summary, m.Description, m.HomePage, m.Author, m.AuthorEmail,
		m.License, m.Keywords, m.Platform, m.DownloadURL, classifiers,
		filename, contentType, size, sha,
		md5sum, filetype, pyversion, key,
		backend, uploadedAt,
		release.CreatedAt, release.UpdatedAt)
	if err != nil {
		return handlePostgresError("put release", err)
	}
	return nil
}
