// Package formtest builds request bodies the way the distutils register
// and upload commands do, for use in tests.
package formtest

import (
	"bytes"
	"fmt"
)

// DefaultBoundary is the boundary distutils hard-codes.
const DefaultBoundary = "--------------GHSKFJDLGDS7543FJKLFHRE75642756743254"

// Body accumulates fields and files.
type Body struct {
	Boundary string
	// EOL is the line terminator, "\n" by default.
	EOL string

	buf bytes.Buffer
}

// New returns an empty body using the distutils boundary.
func New() *Body {
	return &Body{Boundary: DefaultBoundary, EOL: "\n"}
}

// Field appends a text part.
func (b *Body) Field(name, value string) *Body {
	fmt.Fprintf(&b.buf, "%s--%s%sContent-Disposition: form-data; name=\"%s\"%s%s%s",
		b.EOL, b.Boundary, b.EOL, name, b.EOL, b.EOL, value)
	return b
}

// Fields appends one text part per value.
func (b *Body) Fields(name string, values ...string) *Body {
	for _, v := range values {
		b.Field(name, v)
	}
	return b
}

// File appends a file part.
func (b *Body) File(name, filename string, data []byte) *Body {
	fmt.Fprintf(&b.buf, "%s--%s%sContent-Disposition: form-data; name=\"%s\"; filename=\"%s\"%s%s",
		b.EOL, b.Boundary, b.EOL, name, filename, b.EOL, b.EOL)
	b.buf.Write(data)
	return b
}

// Raw appends bytes verbatim, for building malformed bodies.
func (b *Body) Raw(s string) *Body {
	b.buf.WriteString(s)
	return b
}

// Bytes closes the body and returns it. The Body can keep being used; each
// call returns a freshly closed copy.
func (b *Body) Bytes() []byte {
	out := bytes.Clone(b.buf.Bytes())
	return append(out, []byte(b.EOL+"--"+b.Boundary+"--"+b.EOL)...)
}

// ContentType is the header value distutils sends with the body.
func (b *Body) ContentType() string {
	return "multipart/form-data; boundary=" + b.Boundary
}
