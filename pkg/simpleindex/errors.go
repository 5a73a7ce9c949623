package simpleindex

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrProjectNotFound indicates a project was not found
	ErrProjectNotFound = errors.New("project not found")

	// ErrReleaseNotFound indicates a release was not found
	ErrReleaseNotFound = errors.New("release not found")

	// ErrArtifactNotFound indicates a release carries no matching artifact
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrPermissionDenied indicates the project is owned by another identity
	ErrPermissionDenied = errors.New("project is owned by someone else")

	// ErrAlreadyExists indicates a concurrent writer created the same project or release first
	ErrAlreadyExists = errors.New("project or release already exists")

	// ErrInvalidCredentials indicates a username/password pair did not verify
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// RegistryError represents an error related to a registry operation
type RegistryError struct {
	Project string
	Version string
	Op      string
	Err     error
}

func (e *RegistryError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("registry operation %s failed for project %s: %v", e.Op, e.Project, e.Err)
	}
	return fmt.Sprintf("registry operation %s failed for %s %s: %v", e.Op, e.Project, e.Version, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to artifact storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
