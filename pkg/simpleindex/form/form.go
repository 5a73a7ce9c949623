// Package form decodes the multipart bodies sent by the distutils register
// and upload commands.
//
// Those clients build the body by hand: the boundary in the Content-Type
// header does not always match the body, line terminators are mixed, and
// parts can be truncated. mime/multipart rejects such bodies, so Decode takes
// the delimiter from the body itself and drops parts it cannot make sense of
// instead of failing the request.
package form

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Unknown is the placeholder distutils sends for fields it has no value for.
const Unknown = "UNKNOWN"

// FileContentType is the content type recorded for every decoded file part.
const FileContentType = "application/octet-stream"

var closeMarker = []byte("--")

var (
	// ErrEmptyBody is returned for a body with no content at all.
	ErrEmptyBody = errors.New("form: empty body")

	// ErrNoBoundary is returned when the body has no delimiter line.
	ErrNoBoundary = errors.New("form: no boundary line")
)

// Value is a field value that may be null.
type Value struct {
	String string
	Valid  bool
}

// File is a decoded file part.
type File struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// SkippedPart records a part that was dropped during decoding.
type SkippedPart struct {
	Index  int
	Reason string
}

func (s SkippedPart) String() string {
	return fmt.Sprintf("part %d: %s", s.Index, s.Reason)
}

// DecodedForm is the result of decoding one request body.
type DecodedForm struct {
	// Fields maps a field name to its values in body order.
	Fields map[string][]Value
	// Files maps a field name to the last file part sent under that name.
	Files map[string]*File
	// Skipped lists the parts that could not be decoded.
	Skipped []SkippedPart
}

// Get returns the first value of a field.
func (f *DecodedForm) Get(name string) (Value, bool) {
	values := f.Fields[name]
	if len(values) == 0 {
		return Value{}, false
	}
	return values[0], true
}

// Value returns the first value of a field, or "" when the field is absent
// or null.
func (f *DecodedForm) Value(name string) string {
	v, _ := f.Get(name)
	return v.String
}

// Values returns every non-null value of a field in order.
func (f *DecodedForm) Values(name string) []string {
	var out []string
	for _, v := range f.Fields[name] {
		if v.Valid {
			out = append(out, v.String)
		}
	}
	return out
}

// Has reports whether the field was sent at all, null or not.
func (f *DecodedForm) Has(name string) bool {
	return len(f.Fields[name]) > 0
}

// File returns the file sent under name, or nil.
func (f *DecodedForm) File(name string) *File {
	return f.Files[name]
}

// Decode parses a distutils multipart body.
//
// The delimiter is the body's second line. Each part must carry a
// Content-Disposition line with a name; parts without one, and parts with
// fewer than two lines, are recorded in Skipped. The payload follows the
// disposition line and one blank line, and loses exactly one trailing line
// terminator.
func Decode(body []byte) (*DecodedForm, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}

	_, rest, _ := nextLine(body)
	delim, _, _ := nextLine(rest)
	if len(bytes.TrimSpace(delim)) == 0 {
		return nil, ErrNoBoundary
	}

	form := &DecodedForm{
		Fields: make(map[string][]Value),
		Files:  make(map[string]*File),
	}

	for i, part := range bytes.Split(body, delim) {
		if trimmed := bytes.TrimSpace(part); len(trimmed) == 0 || bytes.Equal(trimmed, closeMarker) {
			continue
		}
		if reason := form.decodePart(part); reason != "" {
			form.Skipped = append(form.Skipped, SkippedPart{Index: i, Reason: reason})
		}
	}

	return form, nil
}

// decodePart adds one part to the form and returns a reason when it was dropped.
func (f *DecodedForm) decodePart(part []byte) string {
	_, rest, ok := nextLine(part)
	if !ok || len(rest) == 0 {
		return "fewer than two lines"
	}
	header, rest, _ := nextLine(rest)

	params := parseDisposition(string(header))
	name, ok := params["name"]
	if !ok || name == "" {
		return "no name in content disposition"
	}

	if blank, after, ok := nextLine(rest); ok && len(bytes.TrimSpace(blank)) == 0 {
		rest = after
	}
	payload := trimTerminator(rest)

	if filename, ok := params["filename"]; ok {
		f.Files[name] = &File{
			Field:       name,
			Filename:    filename,
			ContentType: FileContentType,
			Data:        bytes.Clone(payload),
		}
		return ""
	}

	value := Value{String: string(payload), Valid: true}
	if value.String == Unknown {
		value = Value{}
	}
	f.Fields[name] = append(f.Fields[name], value)
	return ""
}

// parseDisposition reads `Content-Disposition: form-data; name="a"; filename="b"`.
// The header name and the form-data token are both optional.
func parseDisposition(line string) map[string]string {
	line = strings.TrimSpace(line)
	if i := strings.IndexByte(line, ':'); i >= 0 && strings.EqualFold(strings.TrimSpace(line[:i]), "Content-Disposition") {
		line = line[i+1:]
	}

	params := make(map[string]string)
	for _, pair := range strings.Split(line, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		params[key] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return params
}

// nextLine splits b after its first line. ok is false when b has no line
// terminator, in which case line is all of b.
func nextLine(b []byte) (line, rest []byte, ok bool) {
	i := bytes.IndexAny(b, "\r\n")
	if i < 0 {
		return b, nil, false
	}
	if b[i] == '\r' && i+1 < len(b) && b[i+1] == '\n' {
		return b[:i], b[i+2:], true
	}
	return b[:i], b[i+1:], true
}

// trimTerminator drops the line terminator that precedes the next
// delimiter. A CRLF pair is removed whole, unlike the one-character trim
// older servers applied, which left a stray '\r' on every CRLF payload.
func trimTerminator(b []byte) []byte {
	switch {
	case bytes.HasSuffix(b, []byte("\r\n")):
		return b[:len(b)-2]
	case bytes.HasSuffix(b, []byte("\n")), bytes.HasSuffix(b, []byte("\r")):
		return b[:len(b)-1]
	}
	return b
}
