package vfs

import (
	"errors"
	"fmt"
)

// Sentinel errors for single-file operations. Batch operations never fail
// atomically; they collect these per path instead.
var (
	ErrSourceNotFound   = errors.New("source not found")
	ErrClipboardEmpty   = errors.New("clipboard empty")
	ErrPermissionDenied = errors.New("permission denied")
	ErrDestinationFull  = errors.New("destination full")
	ErrAlreadyExists    = errors.New("already exists")
	// ErrNameConflict is only surfaced when disambiguation itself fails;
	// ordinary conflicts are resolved with a " copy" suffix.
	ErrNameConflict = errors.New("name conflict")
)

// RetrievalRequiredError is returned when an operation touches a non-hot
// file and the caller opted out of blocking on the warm. EtaSec lets the
// caller show "this will take ~Nh" instead of silently stalling.
type RetrievalRequiredError struct {
	Path   string
	EtaSec int64
}

func (e *RetrievalRequiredError) Error() string {
	return fmt.Sprintf("retrieval required for %s (estimated %ds)", e.Path, e.EtaSec)
}

// PathError ties a failed path to its error inside a batch result.
type PathError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// PartialFailure reports a batch that finished with some paths failed.
// Completed paths are never rolled back because of a later failure.
type PartialFailure struct {
	Succeeded []string    `json:"succeeded"`
	Errors    []PathError `json:"errors"`
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%d succeeded, %d failed", len(e.Succeeded), len(e.Errors))
}
