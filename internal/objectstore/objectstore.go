// Package objectstore wraps the object store operations MigrationPipeline
// and ValidationPipeline consume: streaming multipart upload with tags and
// server-side encryption, HeadObject, and ranged GetObject. It extends the
// Upload/Download/Delete shape of an in-memory blob store with the
// multipart part-size/tagging/SSE options real object storage needs.
package objectstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by GetRange when the requested object does not
// exist.
var ErrNotFound = errors.New("objectstore: object not found")

// PutOptions configures a streaming multipart upload.
type PutOptions struct {
	Bucket   string
	Key      string
	Body     io.Reader
	Metadata map[string]string
	Tags     map[string]string

	// SSE is the server-side encryption algorithm ("", "AES256", "aws:kms").
	SSE string
	// SSEKMSKeyID is only meaningful when SSE == "aws:kms".
	SSEKMSKeyID string

	// PartSize is the size of each multipart part in bytes, computed by
	// PartSize (see partsize.go) from the pre-upload byte estimate.
	PartSize int64
	// Concurrency is the number of parts uploaded in parallel.
	Concurrency int
}

// HeadResult is the subset of HeadObject's response the pipelines need.
type HeadResult struct {
	Exists        bool
	ContentLength int64
	Metadata      map[string]string
}

// Store is the S3 surface the migrate/validate pipelines consume.
// Implementations: awss3 (real S3) and memory (tests).
type Store interface {
	// Put streams opts.Body to the object store as a multipart upload,
	// returning once the upload is committed (or aborted on error, leaving
	// no orphaned parts).
	Put(ctx context.Context, opts PutOptions) error

	// Head reports whether an object exists and, if so, its size and
	// metadata. A missing object is not an error; callers check
	// HeadResult.Exists.
	Head(ctx context.Context, bucket, key string) (HeadResult, error)

	// GetRange opens a ranged read of an object starting at offset and
	// running length bytes (length < 0 reads to the end).
	GetRange(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error)
}
