package vfs

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// MemDriver is an in-memory driver used by tests and demo mounts. It layers
// configurable capabilities, a per-path tier map, and fault injection on top
// of an afero MemMapFs.
type MemDriver struct {
	*LocalDriver
	caps CapabilitySet

	mu        sync.Mutex
	tiers     map[string]TierStatus
	etas      map[TierStatus]int64
	failPaths map[string]error
	warmBytes int64 // fake bytes reported per warm, 0 = no byte transfer
}

// NewMemDriver creates an empty in-memory driver with the given capabilities.
func NewMemDriver(caps CapabilitySet) *MemDriver {
	ld := newLocalDriverFs(afero.NewMemMapFs(), "/")
	ld.partSize = 64 << 10
	return &MemDriver{
		LocalDriver: ld,
		caps:        caps,
		tiers:       make(map[string]TierStatus),
		etas: map[TierStatus]int64{
			TierWarm:     60,
			TierCold:     3600,
			TierNearline: 14400,
			TierArchive:  43200,
		},
		failPaths: make(map[string]error),
	}
}

func (d *MemDriver) Capabilities() CapabilitySet { return d.caps }

// SetPartSize overrides the part size, letting tests force multi-part runs.
func (d *MemDriver) SetPartSize(n int64) { d.LocalDriver.partSize = n }

// SetTierStatus marks a path as residing in the given tier.
func (d *MemDriver) SetTierStatus(path string, tier TierStatus) {
	d.mu.Lock()
	d.tiers[NormalizeTarget(path)] = tier
	d.mu.Unlock()
}

// FailPath makes any write or removal of path fail with err.
func (d *MemDriver) FailPath(path string, err error) {
	d.mu.Lock()
	d.failPaths[NormalizeTarget(path)] = err
	d.mu.Unlock()
}

func (d *MemDriver) failure(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failPaths[NormalizeTarget(path)]
}

func (d *MemDriver) tier(path string) TierStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.tiers[NormalizeTarget(path)]; ok {
		return t
	}
	return TierHot
}

// WriteFile seeds file content, creating parent directories.
func (d *MemDriver) WriteFile(path string, data []byte) error {
	w, err := d.LocalDriver.BeginWrite(context.Background(), path, int64(len(data)))
	if err != nil {
		return err
	}
	if err := w.WritePart(context.Background(), 0, strings.NewReader(string(data)), int64(len(data))); err != nil {
		return err
	}
	return w.Complete(context.Background())
}

func (d *MemDriver) Stat(ctx context.Context, path string) (*FileEntry, error) {
	e, err := d.LocalDriver.Stat(ctx, path)
	if err != nil {
		return nil, err
	}
	e.Tier = d.tier(path)
	e.CanWarm = d.caps.Has(CapTiering)
	e.CanTranscode = d.caps.Has(CapTranscode)
	return e, nil
}

func (d *MemDriver) OpenRange(ctx context.Context, path string, offset, length int64) (io.ReadCloser, error) {
	if t := d.tier(path); t != TierHot {
		return nil, fmt.Errorf("read %s: not resident (tier %s)", path, t)
	}
	return d.LocalDriver.OpenRange(ctx, path, offset, length)
}

func (d *MemDriver) BeginWrite(ctx context.Context, path string, totalSize int64) (PartWriter, error) {
	if err := d.failure(path); err != nil {
		return nil, err
	}
	return d.LocalDriver.BeginWrite(ctx, path, totalSize)
}

func (d *MemDriver) Remove(ctx context.Context, path string) error {
	if err := d.failure(path); err != nil {
		return err
	}
	return d.LocalDriver.Remove(ctx, path)
}

// --- TierDriver ---

func (d *MemDriver) Warm(ctx context.Context, path string, _ int, progress func(done, total int64)) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := d.failure(path); err != nil {
		return err
	}
	if progress != nil && d.warmBytes > 0 {
		progress(d.warmBytes/2, d.warmBytes)
		progress(d.warmBytes, d.warmBytes)
	}
	d.SetTierStatus(path, TierHot)
	return nil
}

func (d *MemDriver) SetTier(ctx context.Context, path string, target TierStatus) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := d.failure(path); err != nil {
		return err
	}
	if _, err := d.LocalDriver.Stat(ctx, path); err != nil {
		return err
	}
	d.SetTierStatus(path, target)
	return nil
}

func (d *MemDriver) RetrievalETA(_ context.Context, path string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tiers[NormalizeTarget(path)]
	if !ok {
		return 0, nil
	}
	return d.etas[t], nil
}

// --- Transcoder ---

func (d *MemDriver) Transcode(ctx context.Context, path, format string, progress func(pct int)) (string, error) {
	if err := d.failure(path); err != nil {
		return "", err
	}
	if progress != nil {
		progress(50)
	}
	ext := "." + strings.TrimPrefix(format, ".")
	out := strings.TrimSuffix(path, pathExt(path)) + ext
	if err := d.WriteFile(out, []byte("transcoded:"+format)); err != nil {
		return "", err
	}
	if progress != nil {
		progress(100)
	}
	return out, nil
}

func pathExt(p string) string {
	if i := strings.LastIndex(p, "."); i > strings.LastIndex(p, "/") {
		return p[i:]
	}
	return ""
}
