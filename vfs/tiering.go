package vfs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// tierCacheTTL bounds how long a cached tier status is trusted. Warm
// completions overwrite the cache immediately; everything else expires.
const tierCacheTTL = 30 * time.Second

// WarmHandle tracks one in-flight promotion to the hot tier.
type WarmHandle struct {
	RequestID string
	SourceID  string
	Path      string

	done chan struct{}
	err  error
}

// Wait blocks until the warm settles or ctx is cancelled.
func (h *WarmHandle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return h.err
	}
}

// TierResult is the partial-failure-tolerant outcome of a bulk tier change.
// Request echoes the settled request, with EstimatedRetrievalSec filled in
// so callers know what warming the moved files back would cost.
type TierResult struct {
	Request     TierRequest `json:"request"`
	FilesSynced int         `json:"filesSynced"`
	Synced      []string    `json:"synced"`
	Errors      []PathError `json:"errors"`
}

// Coordinator promotes files between storage tiers and answers residency
// questions for the rest of the engine.
type Coordinator struct {
	registry *Registry
	bus      *EventBus
	cache    *ttlcache.Cache[string, TierStatus]
}

// NewCoordinator creates a tiering coordinator.
func NewCoordinator(registry *Registry, bus *EventBus) *Coordinator {
	cache := ttlcache.New[string, TierStatus](
		ttlcache.WithTTL[string, TierStatus](tierCacheTTL),
	)
	go cache.Start()
	return &Coordinator{registry: registry, bus: bus, cache: cache}
}

func tierCacheKey(sourceID, path string) string {
	return sourceID + ":" + NormalizeTarget(path)
}

// TierStatusOf returns the current tier of a file, consulting the cache
// before the backend.
func (c *Coordinator) TierStatusOf(ctx context.Context, sourceID, path string) (TierStatus, error) {
	if item := c.cache.Get(tierCacheKey(sourceID, path)); item != nil {
		return item.Value(), nil
	}
	driver, err := c.registry.Driver(sourceID)
	if err != nil {
		return "", err
	}
	entry, err := driver.Stat(ctx, path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	c.cache.Set(tierCacheKey(sourceID, path), entry.Tier, ttlcache.DefaultTTL)
	return entry.Tier, nil
}

// Warm requests promotion of a file to the hot tier. A file already hot is
// a no-op success: the handle is settled and a completed event is emitted
// with no byte transfer. Progress streams on the warm-progress topic until
// terminal.
func (c *Coordinator) Warm(ctx context.Context, sourceID, path string, priority int) (*WarmHandle, error) {
	l := sub("tiering")
	driver, err := c.registry.Driver(sourceID)
	if err != nil {
		return nil, err
	}

	h := &WarmHandle{
		RequestID: uuid.NewString(),
		SourceID:  sourceID,
		Path:      NormalizeTarget(path),
		done:      make(chan struct{}),
	}

	tier, err := c.TierStatusOf(ctx, sourceID, path)
	if err != nil {
		return nil, err
	}
	if tier == TierHot {
		l.Debug("warm no-op, already hot", "source", sourceID, "path", path)
		close(h.done)
		c.bus.Publish(ProgressEvent{
			Topic:    TopicWarmProgress,
			ID:       h.RequestID,
			SourceID: sourceID,
			Path:     h.Path,
			Status:   "completed",
			Progress: 100,
		})
		return h, nil
	}

	td, ok := driver.(TierDriver)
	if !ok {
		return nil, fmt.Errorf("source %s does not support tiering", sourceID)
	}

	l.Info("warming", "source", sourceID, "path", path, "tier", tier, "priority", priority)
	c.bus.Publish(ProgressEvent{
		Topic:    TopicWarmProgress,
		ID:       h.RequestID,
		SourceID: sourceID,
		Path:     h.Path,
		Status:   "warming",
		Progress: 0,
	})

	// The caller's ctx only covers setup; over HTTP it dies as soon as the
	// handler returns, while the warm runs until terminal.
	warmCtx := context.WithoutCancel(ctx)
	go func() {
		err := td.Warm(warmCtx, path, priority, func(done, total int64) {
			c.bus.Publish(ProgressEvent{
				Topic:            TopicWarmProgress,
				ID:               h.RequestID,
				SourceID:         sourceID,
				Path:             h.Path,
				Status:           "warming",
				Progress:         ProgressPercentage(done, total),
				BytesTransferred: done,
				TotalBytes:       total,
			})
		})
		if err != nil {
			l.Error("warm failed", "source", sourceID, "path", path, "err", err)
			h.err = fmt.Errorf("warm %s: %w", path, err)
			c.bus.Publish(ProgressEvent{
				Topic:    TopicWarmProgress,
				ID:       h.RequestID,
				SourceID: sourceID,
				Path:     h.Path,
				Status:   "error",
				Error:    err.Error(),
			})
		} else {
			c.cache.Set(tierCacheKey(sourceID, path), TierHot, ttlcache.DefaultTTL)
			l.Info("warm complete", "source", sourceID, "path", path)
			c.bus.Publish(ProgressEvent{
				Topic:    TopicWarmProgress,
				ID:       h.RequestID,
				SourceID: sourceID,
				Path:     h.Path,
				Status:   "completed",
				Progress: 100,
			})
		}
		close(h.done)
	}()

	return h, nil
}

// ChangeTier moves paths to the target tier. Like every batch operation it
// never fails atomically; each input path lands in Synced or Errors.
// Failed paths are not retried automatically.
func (c *Coordinator) ChangeTier(ctx context.Context, sourceID string, paths []string, target TierStatus) (*TierResult, error) {
	l := sub("tiering")
	driver, err := c.registry.Driver(sourceID)
	if err != nil {
		return nil, err
	}
	td, ok := driver.(TierDriver)
	if !ok {
		return nil, fmt.Errorf("source %s does not support tiering", sourceID)
	}

	req := TierRequest{
		RequestID:  uuid.NewString(),
		SourceID:   sourceID,
		Paths:      paths,
		TargetTier: target,
	}
	l.Info("tier change", "requestId", req.RequestID, "source", sourceID, "paths", len(paths), "target", target)

	result := &TierResult{}
	for _, p := range paths {
		if err := td.SetTier(ctx, p, target); err != nil {
			l.Warn("tier change failed", "path", p, "err", err)
			result.Errors = append(result.Errors, PathError{Path: p, Err: err.Error()})
			continue
		}
		c.cache.Set(tierCacheKey(sourceID, p), target, ttlcache.DefaultTTL)
		result.Synced = append(result.Synced, p)
	}
	result.FilesSynced = len(result.Synced)

	// Worst case over the files that actually moved.
	for _, p := range result.Synced {
		if eta, err := td.RetrievalETA(ctx, p); err == nil && eta > req.EstimatedRetrievalSec {
			req.EstimatedRetrievalSec = eta
		}
	}
	result.Request = req
	return result, nil
}

// EnsureResident guarantees path is readable before a transfer touches it.
// Hot files return immediately. For colder files, block selects between a
// synchronous warm and failing fast with the estimated retrieval time, so a
// caller can surface "this will take ~12h" instead of stalling.
func (c *Coordinator) EnsureResident(ctx context.Context, sourceID, path string, block bool) error {
	tier, err := c.TierStatusOf(ctx, sourceID, path)
	if err != nil {
		return err
	}
	if tier == TierHot {
		return nil
	}

	driver, err := c.registry.Driver(sourceID)
	if err != nil {
		return err
	}
	td, ok := driver.(TierDriver)
	if !ok {
		return fmt.Errorf("source %s: file in tier %s but source cannot warm", sourceID, tier)
	}

	if !block {
		eta, err := td.RetrievalETA(ctx, path)
		if err != nil {
			return fmt.Errorf("retrieval eta for %s: %w", path, err)
		}
		return &RetrievalRequiredError{Path: NormalizeTarget(path), EtaSec: eta}
	}

	h, err := c.Warm(ctx, sourceID, path, 1)
	if err != nil {
		return err
	}
	return h.Wait(ctx)
}

// Stop shuts down the coordinator's cache janitor.
func (c *Coordinator) Stop() {
	c.cache.Stop()
}
