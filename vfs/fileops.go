package vfs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/disk"
)

// FileOps orchestrates move/copy/rename/delete/mkdir across sources,
// consulting tiering before any byte is read and recording every outcome
// to the operation ledger.
type FileOps struct {
	registry *Registry
	engine   *Engine
	tiering  *Coordinator
	ledger   *Ledger
}

// NewFileOps wires the file operation orchestrator.
func NewFileOps(registry *Registry, engine *Engine, tiering *Coordinator, ledger *Ledger) *FileOps {
	return &FileOps{registry: registry, engine: engine, tiering: tiering, ledger: ledger}
}

// record appends a terminal ledger entry. Ledger failures are logged, never
// propagated: history must not fail a completed file operation.
func (f *FileOps) record(opType OperationType, sourceID, sourcePath, destPath string, bytes int64, started int64, opErr error) {
	category := CategoryCustom
	if src, err := f.registry.Resolve(sourceID); err == nil {
		category = src.Category
	}
	op := OperationRecord{
		ID:             uuid.NewString(),
		Type:           opType,
		SourceID:       sourceID,
		SourceCategory: category,
		SourcePath:     NormalizeTarget(sourcePath),
		BytesProcessed: bytes,
		Status:         OpCompleted,
		StartedAt:      timeFromNanos(started),
		CompletedAt:    nowFunc(),
	}
	if destPath != "" {
		op.DestPath = NormalizeTarget(destPath)
	}
	if opErr != nil {
		op.Status = OpFailed
		op.Error = opErr.Error()
	}
	if err := f.ledger.Record(op); err != nil {
		sub("fileops").Error("ledger record failed", "type", opType, "path", sourcePath, "err", err)
	}
}

// checkDestinationSpace fails fast with ErrDestinationFull when a local
// destination cannot hold the incoming bytes.
func checkDestinationSpace(drv Driver, needed int64) error {
	ld, ok := drv.(*LocalDriver)
	if !ok || needed <= 0 {
		return nil
	}
	if ld.fs.Name() != "OsFs" {
		return nil
	}
	usage, err := disk.Usage(ld.root)
	if err != nil {
		return nil
	}
	if usage.Free < uint64(needed) {
		return fmt.Errorf("%w: need %d bytes, %d free", ErrDestinationFull, needed, usage.Free)
	}
	return nil
}

// CopyPath copies a file or (when recursive) a directory tree between two
// paths, possibly across sources. Returns the bytes processed.
func (f *FileOps) CopyPath(ctx context.Context, fromSourceID, fromPath, toSourceID, toPath string, recursive bool, opts TransferOptions) (int64, error) {
	started := nowFunc().UnixNano()
	bytes, err := f.copyPath(ctx, fromSourceID, fromPath, toSourceID, toPath, recursive, opts)
	f.record(OpCopy, fromSourceID, fromPath, toPath, bytes, started, err)
	return bytes, err
}

func (f *FileOps) copyPath(ctx context.Context, fromSourceID, fromPath, toSourceID, toPath string, recursive bool, opts TransferOptions) (int64, error) {
	fromDrv, err := f.registry.Driver(fromSourceID)
	if err != nil {
		return 0, err
	}
	entry, err := fromDrv.Stat(ctx, fromPath)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", fromPath, err)
	}

	if entry.IsDirectory {
		if !recursive {
			return 0, fmt.Errorf("%s is a directory; pass recursive", fromPath)
		}
		return f.copyTree(ctx, fromDrv, fromSourceID, fromPath, toSourceID, toPath, opts)
	}
	return f.copyFile(ctx, fromSourceID, fromPath, toSourceID, toPath, entry.Size, opts)
}

func (f *FileOps) copyTree(ctx context.Context, fromDrv Driver, fromSourceID, fromPath, toSourceID, toPath string, opts TransferOptions) (int64, error) {
	toDrv, err := f.registry.Driver(toSourceID)
	if err != nil {
		return 0, err
	}
	if err := toDrv.MkdirAll(ctx, toPath); err != nil {
		return 0, fmt.Errorf("mkdir %s: %w", toPath, err)
	}

	children, err := fromDrv.List(ctx, fromPath)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", fromPath, err)
	}

	var total int64
	for _, child := range children {
		name := pathBase(child.Path)
		childDst := DestPath(toPath, name)
		if child.IsDirectory {
			n, err := f.copyTree(ctx, fromDrv, fromSourceID, child.Path, toSourceID, childDst, opts)
			total += n
			if err != nil {
				return total, err
			}
			continue
		}
		n, err := f.copyFile(ctx, fromSourceID, child.Path, toSourceID, childDst, child.Size, opts)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (f *FileOps) copyFile(ctx context.Context, fromSourceID, fromPath, toSourceID, toPath string, size int64, opts TransferOptions) (int64, error) {
	toDrv, err := f.registry.Driver(toSourceID)
	if err != nil {
		return 0, err
	}
	if err := checkDestinationSpace(toDrv, size); err != nil {
		return 0, err
	}
	rec, err := f.engine.Copy(ctx, fromSourceID, fromPath, toSourceID, toPath, opts)
	if err != nil {
		return 0, err
	}
	return rec.BytesTransferred, nil
}

// Move moves a path within one source: an atomic rename when the backend
// supports it, copy-then-delete otherwise.
func (f *FileOps) Move(ctx context.Context, sourceID, from, to string) error {
	started := nowFunc().UnixNano()
	err := f.move(ctx, sourceID, from, to)
	f.record(OpMove, sourceID, from, to, 0, started, err)
	return err
}

func (f *FileOps) move(ctx context.Context, sourceID, from, to string) error {
	l := sub("fileops")
	drv, err := f.registry.Driver(sourceID)
	if err != nil {
		return err
	}
	if drv.Capabilities().Has(CapAtomicRename) {
		l.Debug("move via rename", "source", sourceID, "from", from, "to", to)
		return drv.Rename(ctx, from, to)
	}
	l.Debug("move via copy+delete", "source", sourceID, "from", from, "to", to)
	if _, err := f.copyPath(ctx, sourceID, from, sourceID, to, true, TransferOptions{WaitForRetrieval: true}); err != nil {
		return err
	}
	return drv.Remove(ctx, from)
}

// MoveToSource moves a path, possibly across sources. A cross-source move
// is never atomic: it is copy-then-delete-source, and the source is removed
// only after the destination write is durable.
func (f *FileOps) MoveToSource(ctx context.Context, fromSourceID, fromPath, toSourceID, toPath string, opts TransferOptions) error {
	if f.registry.IsMove(fromSourceID, toSourceID) {
		return f.Move(ctx, fromSourceID, fromPath, toPath)
	}

	started := nowFunc().UnixNano()
	err := func() error {
		if _, err := f.copyPath(ctx, fromSourceID, fromPath, toSourceID, toPath, true, opts); err != nil {
			return err
		}
		fromDrv, err := f.registry.Driver(fromSourceID)
		if err != nil {
			return err
		}
		return fromDrv.Remove(ctx, fromPath)
	}()
	f.record(OpMove, fromSourceID, fromPath, toPath, 0, started, err)
	return err
}

// Rename renames a path in place. The destination must not already exist.
func (f *FileOps) Rename(ctx context.Context, sourceID, from, to string) error {
	started := nowFunc().UnixNano()
	err := func() error {
		drv, err := f.registry.Driver(sourceID)
		if err != nil {
			return err
		}
		if _, err := drv.Stat(ctx, to); err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, to)
		}
		return drv.Rename(ctx, from, to)
	}()
	f.record(OpMove, sourceID, from, to, 0, started, err)
	return err
}

// DeleteRecursive removes a path and everything under it. Deleting a path
// that does not exist succeeds: filesystem UIs expect delete to be
// idempotent, not to surface NotFound.
func (f *FileOps) DeleteRecursive(ctx context.Context, sourceID, path string) error {
	started := nowFunc().UnixNano()
	err := func() error {
		drv, err := f.registry.Driver(sourceID)
		if err != nil {
			return err
		}
		if _, err := drv.Stat(ctx, path); err != nil {
			sub("fileops").Debug("delete of absent path, treating as success", "source", sourceID, "path", path)
			return nil
		}
		return drv.Remove(ctx, path)
	}()
	f.record(OpDelete, sourceID, path, "", 0, started, err)
	return err
}

// Mkdir creates a directory, failing with ErrAlreadyExists when the path
// is already taken.
func (f *FileOps) Mkdir(ctx context.Context, sourceID, path string) error {
	drv, err := f.registry.Driver(sourceID)
	if err != nil {
		return err
	}
	if _, err := drv.Stat(ctx, path); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	return drv.MkdirAll(ctx, path)
}

func pathBase(p string) string {
	p = NormalizeTarget(p)
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
