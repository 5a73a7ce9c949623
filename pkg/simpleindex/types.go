package simpleindex

import (
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Identity is an authenticated index user.
type Identity struct {
	Username string `json:"username"`
}

// Project is a named package entry in the index.
type Project struct {
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OwnedBy reports whether the project belongs to the given identity.
func (p *Project) OwnedBy(id Identity) bool {
	return p != nil && p.Owner == id.Username
}

// Metadata is the descriptive part of a release, as sent in PKG-INFO
// fields by distutils.
type Metadata struct {
	MetadataVersion string `json:"metadata_version,omitempty"`
	Summary         string `json:"summary,omitempty"`
	Description     string `json:"description,omitempty"`
	HomePage        string `json:"home_page,omitempty"`
	Author          string `json:"author,omitempty"`
	AuthorEmail     string `json:"author_email,omitempty"`
	License         string `json:"license,omitempty"`
	Keywords        string `json:"keywords,omitempty"`
	Platform        string `json:"platform,omitempty"`
	DownloadURL     string `json:"download_url,omitempty"`
}

// Release is one version of a project.
type Release struct {
	ID          uuid.UUID `json:"id"`
	ProjectName string    `json:"project"`
	Version     string    `json:"version"`
	Metadata    Metadata  `json:"metadata"`
	Classifiers []string  `json:"classifiers"`
	Artifact    *Artifact `json:"artifact,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep copy so stored releases are never shared with callers.
func (r *Release) Clone() *Release {
	if r == nil {
		return nil
	}
	c := *r
	c.Classifiers = append([]string(nil), r.Classifiers...)
	if r.Artifact != nil {
		a := *r.Artifact
		c.Artifact = &a
	}
	return &c
}

// Artifact describes the distribution archive attached to a release.
// The bytes live in the blob store named by StorageBackend.
type Artifact struct {
	Filename       string    `json:"filename"`
	ContentType    string    `json:"content_type"`
	Size           int64     `json:"size"`
	SHA256         string    `json:"sha256"`
	MD5            string    `json:"md5"`
	FileType       string    `json:"filetype,omitempty"`
	PyVersion      string    `json:"pyversion,omitempty"`
	ObjectKey      string    `json:"-"`
	StorageBackend string    `json:"-"`
	UploadedAt     time.Time `json:"uploaded_at"`
}

// ArtifactUpload is an archive submitted with a release.
type ArtifactUpload struct {
	Filename    string
	ContentType string
	FileType    string
	PyVersion   string
	Data        []byte
}

// ReleaseRequest carries everything needed to create or update a release.
type ReleaseRequest struct {
	Project     string
	Version     string
	Metadata    Metadata
	Classifiers []string
	Artifact    *ArtifactUpload
	ActingUser  Identity
}

// ArtifactDownload is an open artifact stream and its description.
type ArtifactDownload struct {
	Artifact *Artifact
	Body     io.ReadCloser
}

// ClassifierSet collapses duplicates and returns the classifiers sorted.
func ClassifierSet(classifiers []string) []string {
	seen := make(map[string]struct{}, len(classifiers))
	out := make([]string, 0, len(classifiers))
	for _, c := range classifiers {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
