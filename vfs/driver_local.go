package vfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const localPartSize = 4 << 20 // 4MB

const localTmpSuffix = ".vfs-tmp"

// LocalDriver serves a directory tree on a local (or locally mounted)
// filesystem. Writes are staged to a temp file and renamed into place, so a
// crash never leaves a half-written destination visible.
type LocalDriver struct {
	fs       afero.Fs
	root     string
	partSize int64
}

// NewLocalDriver creates a driver rooted at root on the OS filesystem.
func NewLocalDriver(root string) *LocalDriver {
	return &LocalDriver{fs: afero.NewOsFs(), root: root, partSize: localPartSize}
}

// newLocalDriverFs creates a driver over an arbitrary afero filesystem.
func newLocalDriverFs(fs afero.Fs, root string) *LocalDriver {
	return &LocalDriver{fs: fs, root: root, partSize: localPartSize}
}

func (d *LocalDriver) Capabilities() CapabilitySet {
	return CapabilitySet(CapAtomicRename)
}

func (d *LocalDriver) PartSize() int64 { return d.partSize }

// abs maps a VFS path onto the driver root.
func (d *LocalDriver) abs(p string) string {
	return filepath.Join(d.root, filepath.FromSlash(strings.TrimPrefix(NormalizeTarget(p), "/")))
}

func (d *LocalDriver) entry(vfsPath string, info os.FileInfo) FileEntry {
	size := info.Size()
	if info.IsDir() {
		size = 0
	}
	return FileEntry{
		Path:        NormalizeTarget(vfsPath),
		IsDirectory: info.IsDir(),
		Size:        size,
		Tier:        TierHot,
	}
}

func (d *LocalDriver) Stat(_ context.Context, p string) (*FileEntry, error) {
	info, err := d.fs.Stat(d.abs(p))
	if err != nil {
		return nil, err
	}
	e := d.entry(p, info)
	return &e, nil
}

func (d *LocalDriver) List(_ context.Context, p string) ([]FileEntry, error) {
	infos, err := afero.ReadDir(d.fs, d.abs(p))
	if err != nil {
		return nil, err
	}
	entries := make([]FileEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, d.entry(path.Join(NormalizeTarget(p), info.Name()), info))
	}
	return entries, nil
}

func (d *LocalDriver) OpenRange(_ context.Context, p string, offset, length int64) (io.ReadCloser, error) {
	f, err := d.fs.Open(d.abs(p))
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("seek %s: %w", p, err)
	}
	if length < 0 {
		return f, nil
	}
	return &limitedFile{Reader: io.LimitReader(f, length), f: f}, nil
}

type limitedFile struct {
	io.Reader
	f afero.File
}

func (l *limitedFile) Close() error { return l.f.Close() }

func (d *LocalDriver) BeginWrite(_ context.Context, p string, _ int64) (PartWriter, error) {
	dst := d.abs(p)
	if err := d.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return nil, fmt.Errorf("mkdir dst parent: %w", err)
	}
	tmp := dst + localTmpSuffix
	f, err := d.fs.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create tmp: %w", err)
	}
	return &localPartWriter{fs: d.fs, f: f, tmp: tmp, dst: dst, partSize: d.partSize}, nil
}

func (d *LocalDriver) ResumeWrite(_ context.Context, p string, _ int64, token string) (PartWriter, error) {
	f, err := d.fs.OpenFile(token, os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("reopen tmp: %w", err)
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("seek tmp end: %w", err)
	}
	// Drop any torn tail from a part that was interrupted mid-write; the
	// engine replays that part from its fixed offset.
	if rem := end % d.partSize; rem != 0 {
		if err := f.Truncate(end - rem); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncate torn part: %w", err)
		}
	}
	return &localPartWriter{fs: d.fs, f: f, tmp: token, dst: d.abs(p), partSize: d.partSize}, nil
}

func (d *LocalDriver) Remove(_ context.Context, p string) error {
	return d.fs.RemoveAll(d.abs(p))
}

func (d *LocalDriver) Rename(_ context.Context, oldPath, newPath string) error {
	dst := d.abs(newPath)
	if err := d.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("mkdir dst parent: %w", err)
	}
	return d.fs.Rename(d.abs(oldPath), dst)
}

func (d *LocalDriver) MkdirAll(_ context.Context, p string) error {
	return d.fs.MkdirAll(d.abs(p), 0755)
}

// localPartWriter writes each part at its fixed offset in a temp file, then
// renames it into place on Complete. Writing at index*partSize makes a part
// write idempotent: a retry or a resume overwrites whatever a failed attempt
// left behind instead of appending after it.
type localPartWriter struct {
	fs       afero.Fs
	f        afero.File
	tmp      string
	dst      string
	partSize int64
}

func (w *localPartWriter) WritePart(ctx context.Context, index int, r io.Reader, size int64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if _, err := w.f.Seek(int64(index)*w.partSize, io.SeekStart); err != nil {
		return fmt.Errorf("seek part %d: %w", index, err)
	}
	n, err := io.Copy(w.f, r)
	if err != nil {
		return fmt.Errorf("write part: %w", err)
	}
	if size >= 0 && n != size {
		return fmt.Errorf("write part: short write %d of %d", n, size)
	}
	return nil
}

func (w *localPartWriter) Complete(_ context.Context) error {
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close tmp: %w", err)
	}
	if err := w.fs.Rename(w.tmp, w.dst); err != nil {
		w.fs.Remove(w.tmp) //nolint:errcheck
		return fmt.Errorf("rename tmp to dst: %w", err)
	}
	return nil
}

func (w *localPartWriter) Abort(_ context.Context) error {
	w.f.Close() //nolint:errcheck
	return w.fs.Remove(w.tmp)
}

func (w *localPartWriter) Token() string { return w.tmp }
