// Package backend defines the narrow capability interface (C3) the upload
// engine drives. A backend is characterised by read-only numeric limits and
// five operations; everything else (credential discovery, wire format,
// checksumming scheme) is the backend's own business.
package backend

import (
	"context"
	"io"

	"github.com/wilsonzlin/ltsu/internal/part"
)

// Limits are the backend's structural constraints on a multipart upload.
type Limits struct {
	MinParts    int
	MaxParts    int
	MinPartSize int64
	MaxPartSize int64
}

// StreamFactory produces an independent, freshly-seeked byte stream of a
// part's range each time it is called. Backends that need to read a range
// twice (once to checksum, once as the request body) call it twice; callers
// must not assume the two streams share any buffering. A stream is always a
// bounded io.ReadSeeker (typically an io.SectionReader over the already-open
// source file) rather than an io.ReadCloser: ownership of the underlying
// file descriptor stays with whoever opened the file, not with the part
// upload.
type StreamFactory func() (io.ReadSeeker, error)

// Backend is the capability surface the orchestrator/scheduler consume. A
// Backend value is already authenticated by the time it is constructed
// (construction is backend-specific, e.g. glacier.New/b2.New, standing in for
// the spec's generic from_options).
type Backend interface {
	// Limits returns the backend's structural constraints.
	Limits() Limits

	// IdealPartSize recommends a part size for a file of the given size. It
	// may be non-deterministic (e.g. a server-supplied recommendation); once
	// a session records a part size, this is never consulted again for that
	// session.
	IdealPartSize(ctx context.Context, size int64) (int64, error)

	// Initiate starts a new multipart upload and returns its opaque id.
	Initiate(ctx context.Context, name string, partSize int64) (uploadID string, err error)

	// UploadPart uploads one part's bytes and returns the backend-defined
	// part hash (opaque to the caller beyond being persisted and later
	// echoed back in Complete).
	UploadPart(ctx context.Context, uploadID string, p part.Part, newStream StreamFactory) (hash []byte, err error)

	// Complete finalises the upload given the ordered vector of all part
	// hashes. It must not be called until every part has succeeded.
	Complete(ctx context.Context, uploadID string, size int64, partHashes [][]byte) error
}
