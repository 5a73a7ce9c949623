package distutils

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/tendant/simple-index/pkg/simpleindex"
	"github.com/tendant/simple-index/pkg/simpleindex/form"
)

const (
	maxVersionLength = 128
	maxSummaryLength = 512
)

var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?$`)

// ValidationErrors maps a field name to its problems.
type ValidationErrors map[string][]string

// Add records a problem with field.
func (v ValidationErrors) Add(field, format string, args ...any) {
	v[field] = append(v[field], fmt.Sprintf(format, args...))
}

// Error renders "ERRORS: field: msg; field: msg" sorted by field.
func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(v))
	for _, f := range fields {
		for _, msg := range v[f] {
			parts = append(parts, f+": "+msg)
		}
	}
	return "ERRORS: " + strings.Join(parts, "; ")
}

// Submission is a validated request ready for the registry.
type Submission struct {
	Project     string
	Version     string
	Metadata    simpleindex.Metadata
	Classifiers []string
	Artifact    *simpleindex.ArtifactUpload
}

// ReleaseRequest turns the submission into a registry request for user.
func (s *Submission) ReleaseRequest(user simpleindex.Identity) simpleindex.ReleaseRequest {
	return simpleindex.ReleaseRequest{
		Project:     s.Project,
		Version:     s.Version,
		Metadata:    s.Metadata,
		Classifiers: s.Classifiers,
		Artifact:    s.Artifact,
		ActingUser:  user,
	}
}

// Validator checks a decoded form for an action.
type Validator interface {
	Validate(action Action, f *form.DecodedForm) (*Submission, ValidationErrors)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(action Action, f *form.DecodedForm) (*Submission, ValidationErrors)

func (fn ValidatorFunc) Validate(action Action, f *form.DecodedForm) (*Submission, ValidationErrors) {
	return fn(action, f)
}

// MetadataValidator checks PKG-INFO fields and, for uploads, the archive.
type MetadataValidator struct{}

// Validate implements Validator. The returned errors are nil when the form
// is valid.
func (MetadataValidator) Validate(action Action, f *form.DecodedForm) (*Submission, ValidationErrors) {
	errs := make(ValidationErrors)

	sub := &Submission{
		Project: strings.TrimSpace(f.Value("name")),
		Version: strings.TrimSpace(f.Value("version")),
		Metadata: simpleindex.Metadata{
			MetadataVersion: f.Value("metadata_version"),
			Summary:         f.Value("summary"),
			Description:     f.Value("description"),
			HomePage:        f.Value("home_page"),
			Author:          f.Value("author"),
			AuthorEmail:     f.Value("author_email"),
			License:         f.Value("license"),
			Keywords:        f.Value("keywords"),
			Platform:        f.Value("platform"),
			DownloadURL:     f.Value("download_url"),
		},
		Classifiers: f.Values("classifiers"),
	}

	switch {
	case sub.Project == "":
		errs.Add("name", "This field is required.")
	case !projectNamePattern.MatchString(sub.Project):
		errs.Add("name", "Must start and end with a letter or digit and contain only letters, digits, '.', '_' and '-'.")
	}

	switch {
	case sub.Version == "":
		errs.Add("version", "This field is required.")
	case len(sub.Version) > maxVersionLength:
		errs.Add("version", "Ensure this value has at most %d characters.", maxVersionLength)
	case strings.ContainsAny(sub.Version, " \t\r\n/"):
		errs.Add("version", "Must not contain whitespace or '/'.")
	}

	if len(sub.Metadata.Summary) > maxSummaryLength {
		errs.Add("summary", "Ensure this value has at most %d characters.", maxSummaryLength)
	}
	if strings.ContainsAny(sub.Metadata.Summary, "\r\n") {
		errs.Add("summary", "Must be a single line.")
	}
	if email := sub.Metadata.AuthorEmail; email != "" && !strings.Contains(email, "@") {
		errs.Add("author_email", "Enter a valid e-mail address.")
	}
	for _, c := range sub.Classifiers {
		if strings.TrimSpace(c) == "" || strings.ContainsAny(c, "\r\n") {
			errs.Add("classifiers", "Invalid classifier %q.", c)
		}
	}

	if action == ActionFileUpload {
		sub.Artifact = validateUpload(f, errs)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return sub, nil
}

func validateUpload(f *form.DecodedForm, errs ValidationErrors) *simpleindex.ArtifactUpload {
	file := f.File("content")
	if file == nil {
		errs.Add("content", "An archive is required for file_upload.")
		return nil
	}

	name := strings.TrimSpace(file.Filename)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		errs.Add("content", "Invalid filename %q.", file.Filename)
	}

	if want := f.Value("md5_digest"); want != "" {
		sum := md5.Sum(file.Data)
		if !strings.EqualFold(want, hex.EncodeToString(sum[:])) {
			errs.Add("md5_digest", "Digest does not match the uploaded file.")
		}
	}
	if want := f.Value("sha256_digest"); want != "" {
		sum := sha256.Sum256(file.Data)
		if !strings.EqualFold(want, hex.EncodeToString(sum[:])) {
			errs.Add("sha256_digest", "Digest does not match the uploaded file.")
		}
	}

	return &simpleindex.ArtifactUpload{
		Filename:    name,
		ContentType: file.ContentType,
		FileType:    f.Value("filetype"),
		PyVersion:   f.Value("pyversion"),
		Data:        file.Data,
	}
}
