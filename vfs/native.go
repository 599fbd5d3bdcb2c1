package vfs

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"
)

// NativeBridge connects the in-process clipboard to the OS clipboard so
// files can flow between this engine and other applications. The OS
// clipboard only carries file paths, so remote content has to be
// materialized to local disk first. That is a full download: copying a
// multi-gigabyte remote file "for native" costs the whole transfer up
// front, there is no lazy handoff.
type NativeBridge struct {
	registry   *Registry
	ops        *FileOps
	clip       *Clipboard
	stagingDir string

	// writeAll / readAll are seams for tests; headless CI has no
	// OS clipboard to talk to.
	writeAll func(string) error
	readAll  func() (string, error)
}

// NewNativeBridge creates the bridge. stagingDir receives materialized
// copies of remote files.
func NewNativeBridge(registry *Registry, ops *FileOps, clip *Clipboard, stagingDir string) *NativeBridge {
	return &NativeBridge{
		registry:   registry,
		ops:        ops,
		clip:       clip,
		stagingDir: stagingDir,
		writeAll:   clipboard.WriteAll,
		readAll:    clipboard.ReadAll,
	}
}

// CopyForNative places the given files on the OS clipboard as local paths.
// Files on the native source are referenced in place; anything remote is
// downloaded into the staging directory first. Returns the local paths
// written to the clipboard.
func (b *NativeBridge) CopyForNative(ctx context.Context, sourceID string, paths []string) ([]string, error) {
	l := sub("native")
	if _, err := b.registry.Resolve(sourceID); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths given")
	}

	var local []string
	if sourceID == NativeSourceID {
		for _, p := range paths {
			local = append(local, NormalizeTarget(p))
		}
	} else {
		batch := filepath.Join(b.stagingDir, uuid.NewString())
		l.Info("materializing for native clipboard", "source", sourceID, "paths", len(paths), "staging", batch)
		for _, p := range paths {
			dst := filepath.Join(batch, pathBase(p))
			if _, err := b.ops.CopyPath(ctx, sourceID, p, NativeSourceID, dst, true, TransferOptions{WaitForRetrieval: true}); err != nil {
				return nil, fmt.Errorf("materialize %s: %w", p, err)
			}
			local = append(local, dst)
		}
	}

	if err := b.writeAll(strings.Join(local, "\n")); err != nil {
		return nil, fmt.Errorf("write os clipboard: %w", err)
	}
	l.Info("native clipboard written", "paths", len(local))
	return local, nil
}

// ReadNative returns the local file paths currently on the OS clipboard,
// filtered to paths that actually exist.
func (b *NativeBridge) ReadNative(ctx context.Context) ([]string, error) {
	text, err := b.readAll()
	if err != nil {
		return nil, fmt.Errorf("read os clipboard: %w", err)
	}
	drv, err := b.registry.Driver(NativeSourceID)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, line := range strings.Split(text, "\n") {
		p := strings.TrimSpace(line)
		if p == "" || !strings.HasPrefix(p, "/") {
			continue
		}
		if _, err := drv.Stat(ctx, p); err != nil {
			sub("native").Debug("skipping clipboard entry, not a file", "path", p)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// PasteNativeIntoVFS pastes whatever file paths the OS clipboard holds into
// a destination folder, running the same paste algorithm as an in-process
// paste (disambiguation, partial failure, ledger records).
func (b *NativeBridge) PasteNativeIntoVFS(ctx context.Context, destSourceID, destPath string, opts TransferOptions) (*PasteResult, error) {
	paths, err := b.ReadNative(ctx)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, ErrClipboardEmpty
	}
	payload := &ClipboardPayload{
		Operation: ClipCopy,
		SourceID:  NativeSourceID,
		Paths:     paths,
	}
	return b.clip.pastePayload(ctx, payload, destSourceID, destPath, opts)
}
