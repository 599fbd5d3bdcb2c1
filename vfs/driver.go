package vfs

import (
	"context"
	"io"
	"time"
)

// Driver is the backend-specific access layer behind one mounted source.
// Paths are always absolute VFS paths ("/a/b.txt"); each driver maps them
// onto its own namespace. Connection state inside a driver must be safe for
// concurrent use — the engine only sequences at the operation level.
type Driver interface {
	// Capabilities reports what the backend can do natively.
	Capabilities() CapabilitySet
	// PartSize is the preferred transfer part size for this backend.
	PartSize() int64

	Stat(ctx context.Context, path string) (*FileEntry, error)
	List(ctx context.Context, path string) ([]FileEntry, error)
	// OpenRange reads length bytes starting at offset. length < 0 reads
	// to the end of the file.
	OpenRange(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error)
	// BeginWrite starts a (possibly multipart) write of totalSize bytes.
	BeginWrite(ctx context.Context, path string, totalSize int64) (PartWriter, error)
	// ResumeWrite reattaches to an interrupted write using the token a
	// previous PartWriter reported.
	ResumeWrite(ctx context.Context, path string, totalSize int64, token string) (PartWriter, error)
	Remove(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	MkdirAll(ctx context.Context, path string) error
}

// PartWriter receives sequential parts of one file. Complete makes the
// destination durable; Abort discards staged data. Neither is called after
// the other.
type PartWriter interface {
	WritePart(ctx context.Context, index int, r io.Reader, size int64) error
	Complete(ctx context.Context) error
	Abort(ctx context.Context) error
	// Token identifies the in-flight write for crash/resume recovery.
	Token() string
}

// Presigner is implemented by drivers whose backend can mint presigned URLs
// for direct client access without proxying bytes through this process.
type Presigner interface {
	PresignGet(ctx context.Context, path string, expiry time.Duration) (string, error)
}

// TierDriver is implemented by drivers whose backend exposes storage tiers.
type TierDriver interface {
	// Warm promotes path to the hot tier, reporting progress until done.
	Warm(ctx context.Context, path string, priority int, progress func(done, total int64)) error
	// SetTier moves path to the target tier.
	SetTier(ctx context.Context, path string, target TierStatus) error
	// RetrievalETA estimates, in seconds, how long a warm of path takes.
	RetrievalETA(ctx context.Context, path string) (int64, error)
}

// Transcoder is implemented by drivers whose backend can transcode media
// server-side. The engine never decodes media in-process.
type Transcoder interface {
	Transcode(ctx context.Context, path, format string, progress func(pct int)) (outputPath string, err error)
}
