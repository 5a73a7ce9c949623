// Package simpleindex provides a small package index that speaks the legacy
// distutils "register/upload" protocol.
//
// It exposes a Registry service that owns the Project -> Release model,
// enforces project ownership, and persists uploaded distribution archives
// through a pluggable BlobStore. Repository implementations (memory,
// Postgres) and blob stores (memory, filesystem, S3) live in subpackages.
//
// Protocol handling is split into three pieces: the tolerant multipart
// decoder in package form, HTTP Basic credential extraction in package
// basicauth, and the request state machine in package distutils.
//
// Ownership
//
// A Project is owned by the identity that first registered it. Only the
// owner may add or replace releases. Re-registering an existing version as
// the owner replaces its metadata and classifier set; the stored artifact is
// kept unless a new one is supplied.
package simpleindex
