package objectkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator defines the interface for artifact object key strategies
type Generator interface {
	// GenerateKey creates an object key for storage backends. uploadID is
	// fresh for every upload so a replacement never overwrites the blob it
	// replaces.
	GenerateKey(uploadID uuid.UUID, metadata *KeyMetadata) string
}

// KeyMetadata contains information that influences key generation
type KeyMetadata struct {
	Project  string
	Version  string
	FileName string
}

// PathGenerator lays artifacts out by project and version, the way a
// classic index serves them:
// packages/{project}/{version}/{uploadID}/{filename}
type PathGenerator struct{}

func NewPathGenerator() *PathGenerator {
	return &PathGenerator{}
}

func (g *PathGenerator) GenerateKey(uploadID uuid.UUID, metadata *KeyMetadata) string {
	if metadata == nil {
		return fmt.Sprintf("packages/_/%s", uploadID)
	}
	key := fmt.Sprintf("packages/%s/%s/%s",
		sanitizePathComponent(metadata.Project),
		sanitizePathComponent(metadata.Version),
		uploadID)
	if metadata.FileName != "" {
		key += "/" + sanitizeFilename(metadata.FileName)
	}
	return key
}

// GitLikeGenerator provides Git-style sharded storage:
// objects/ab/cd1234ef5678_filename
type GitLikeGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewGitLikeGenerator() *GitLikeGenerator {
	return &GitLikeGenerator{
		ShardLength: 2,
	}
}

func (g *GitLikeGenerator) GenerateKey(uploadID uuid.UUID, metadata *KeyMetadata) string {
	idStr := strings.ReplaceAll(uploadID.String(), "-", "")

	shard := g.ShardLength
	if shard <= 0 || shard > len(idStr) {
		shard = 2
	}

	filename := idStr[shard:]
	if metadata != nil && metadata.FileName != "" {
		filename = fmt.Sprintf("%s_%s", filename, sanitizeFilename(metadata.FileName))
	}
	return fmt.Sprintf("objects/%s/%s", idStr[:shard], filename)
}

// FromName returns the generator registered under name ("path" or "git-like").
func FromName(name string) (Generator, error) {
	switch name {
	case "", "path":
		return NewPathGenerator(), nil
	case "git-like", "gitlike":
		return NewGitLikeGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown object key strategy: %s", name)
	}
}

func sanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(filename)
}

func sanitizePathComponent(s string) string {
	s = sanitizeFilename(s)
	s = strings.Trim(s, ".")
	if s == "" {
		return "_"
	}
	return s
}
