package vfs

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"
)

// PasteResult is the partial-failure-tolerant outcome of a paste. Every
// input path lands exactly once in PastedPaths or Errors; completed files
// are never rolled back because of a later failure.
type PasteResult struct {
	FilesPasted int         `json:"filesPasted"`
	FilesFailed int         `json:"filesFailed"`
	PastedPaths []string    `json:"pastedPaths"`
	Errors      []PathError `json:"errors"`
}

// Clipboard holds the single process-wide pending copy/cut intent and runs
// the paste algorithm. It is an injectable service with a single-writer
// contract: copy/cut/clear are mutually exclusive with a concurrent paste
// read, which always sees a consistent snapshot.
type Clipboard struct {
	mu      sync.Mutex
	payload *ClipboardPayload

	registry *Registry
	engine   *Engine
	ops      *FileOps
}

// NewClipboard creates the clipboard manager.
func NewClipboard(registry *Registry, engine *Engine, ops *FileOps) *Clipboard {
	return &Clipboard{registry: registry, engine: engine, ops: ops}
}

// Copy stages paths for a later paste. Overwrites any prior payload:
// last writer wins, no merge.
func (c *Clipboard) Copy(sourceID string, paths []string) error {
	return c.stage(ClipCopy, sourceID, paths)
}

// Cut stages paths to be moved by the next paste.
func (c *Clipboard) Cut(sourceID string, paths []string) error {
	return c.stage(ClipCut, sourceID, paths)
}

func (c *Clipboard) stage(op ClipboardOp, sourceID string, paths []string) error {
	if _, err := c.registry.Resolve(sourceID); err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no paths given")
	}
	normalized := lo.Map(paths, func(p string, _ int) string { return NormalizeTarget(p) })
	c.mu.Lock()
	c.payload = &ClipboardPayload{Operation: op, SourceID: sourceID, Paths: normalized}
	c.mu.Unlock()
	sub("clipboard").Info("clipboard staged", "op", op, "source", sourceID, "paths", len(paths))
	return nil
}

// HasFiles reports whether a payload is pending.
func (c *Clipboard) HasFiles() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payload != nil
}

// Get returns a copy of the pending payload, or nil.
func (c *Clipboard) Get() *ClipboardPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.payload == nil {
		return nil
	}
	out := *c.payload
	out.Paths = append([]string(nil), c.payload.Paths...)
	return &out
}

// Clear drops the pending payload (e.g. on an Escape gesture).
func (c *Clipboard) Clear() {
	c.mu.Lock()
	c.payload = nil
	c.mu.Unlock()
}

// Paste applies the pending payload to a destination folder.
// For a cut, the clipboard is cleared only when every path succeeded; on
// partial failure the failed paths are retained so a retry is possible.
// For a copy, the payload persists so a second paste works.
func (c *Clipboard) Paste(ctx context.Context, destSourceID, destPath string, opts TransferOptions) (*PasteResult, error) {
	c.mu.Lock()
	snapshot := c.payload
	c.mu.Unlock()
	if snapshot == nil {
		return nil, ErrClipboardEmpty
	}

	result, err := c.pastePayload(ctx, snapshot, destSourceID, destPath, opts)
	if err != nil {
		return nil, err
	}

	if snapshot.Operation == ClipCut {
		failed := lo.Map(result.Errors, func(e PathError, _ int) string { return e.Path })
		c.mu.Lock()
		// Only touch the payload if no copy/cut replaced it meanwhile.
		if c.payload == snapshot {
			if len(failed) == 0 {
				c.payload = nil
			} else {
				c.payload = &ClipboardPayload{
					Operation: ClipCut,
					SourceID:  snapshot.SourceID,
					Paths:     failed,
				}
			}
		}
		c.mu.Unlock()
	}
	return result, nil
}

// pastePayload runs the paste algorithm for an explicit payload. The native
// bridge reuses it with the OS-clipboard pseudo-source.
func (c *Clipboard) pastePayload(ctx context.Context, payload *ClipboardPayload, destSourceID, destPath string, opts TransferOptions) (*PasteResult, error) {
	l := sub("clipboard")
	destDir := NormalizeTarget(destPath)

	srcDrv, err := c.registry.Driver(payload.SourceID)
	if err != nil {
		return nil, err
	}
	destDrv, err := c.registry.Driver(destSourceID)
	if err != nil {
		return nil, err
	}

	sameSource := c.registry.SameSource(payload.SourceID, destSourceID)
	result := &PasteResult{}

	l.Info("paste", "op", payload.Operation, "from", payload.SourceID, "to", destSourceID,
		"dest", destDir, "paths", len(payload.Paths))

	for _, src := range payload.Paths {
		// A folder pasted into itself or its own subtree would recurse
		// forever; reject and keep going with the rest of the batch.
		if sameSource && IsSelfOrDescendant(destDir, src) {
			result.Errors = append(result.Errors, PathError{
				Path: src,
				Err:  fmt.Sprintf("cannot paste %s into itself", src),
			})
			continue
		}

		entry, err := srcDrv.Stat(ctx, src)
		if err != nil {
			result.Errors = append(result.Errors, PathError{Path: src, Err: err.Error()})
			continue
		}

		target, err := c.resolveTarget(ctx, destSourceID, destDrv, destDir, src, entry.IsDirectory, payload, opts)
		if err != nil {
			l.Warn("paste path failed", "path", src, "err", err)
			result.Errors = append(result.Errors, PathError{Path: src, Err: err.Error()})
			continue
		}
		result.PastedPaths = append(result.PastedPaths, target)
	}

	result.FilesPasted = len(result.PastedPaths)
	result.FilesFailed = len(result.Errors)
	l.Info("paste done", "pasted", result.FilesPasted, "failed", result.FilesFailed)
	return result, nil
}

// resolveTarget disambiguates the destination name under the per-path
// write lock and applies the move or copy. Holding the lock across the
// whole write keeps two concurrent pastes from racing to create the same
// disambiguated name.
func (c *Clipboard) resolveTarget(ctx context.Context, destSourceID string, destDrv Driver, destDir, src string, isDir bool, payload *ClipboardPayload, opts TransferOptions) (string, error) {
	desired := DestPath(destDir, pathBase(src))
	unlock := c.engine.LockDest(destSourceID, desired)
	defer unlock()

	exists := func(p string) bool {
		_, err := destDrv.Stat(ctx, p)
		return err == nil
	}
	target, err := Disambiguate(desired, isDir, exists)
	if err != nil {
		return "", err
	}

	if payload.Operation == ClipCut {
		err = c.ops.MoveToSource(ctx, payload.SourceID, src, destSourceID, target, opts)
	} else {
		_, err = c.ops.CopyPath(ctx, payload.SourceID, src, destSourceID, target, true, opts)
	}
	if err != nil {
		return "", err
	}
	return target, nil
}
