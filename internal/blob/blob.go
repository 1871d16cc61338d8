// Package blob holds downloaded media bytes and the revocable local URLs the
// rendering layer uses to play them.
package blob

import (
	"bytes"
	"io"
	"strings"
)

// DefaultVideoType is assigned to media whose declared type is not video/*.
const DefaultVideoType = "video/mp4"

// Blob is an immutable chunk of media bytes with its MIME type.
type Blob struct {
	data []byte
	typ  string
}

// New wraps data. The slice is owned by the Blob afterwards and must not be
// modified by the caller.
func New(data []byte, mimeType string) *Blob {
	return &Blob{data: data, typ: mimeType}
}

// Bytes returns the underlying bytes. Callers must treat them as read-only.
func (b *Blob) Bytes() []byte { return b.data }

// Type returns the MIME type.
func (b *Blob) Type() string { return b.typ }

// Size returns the length in bytes.
func (b *Blob) Size() int { return len(b.data) }

// Reader returns a seekable reader over the bytes.
func (b *Blob) Reader() io.ReadSeeker { return bytes.NewReader(b.data) }

// IsVideo reports whether the MIME type is a video/* type.
func (b *Blob) IsVideo() bool {
	return strings.HasPrefix(strings.ToLower(b.typ), "video/")
}

// AsVideo returns b unchanged when it is already typed video/*, otherwise a
// Blob sharing the same bytes typed DefaultVideoType.
func (b *Blob) AsVideo() *Blob {
	if b.IsVideo() {
		return b
	}
	return &Blob{data: b.data, typ: DefaultVideoType}
}
