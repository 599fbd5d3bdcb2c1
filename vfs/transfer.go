package vfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/marusama/semaphore/v2"
)

// partRetries bounds per-part retry attempts before the whole transfer
// fails with the last error recorded.
const partRetries = 2 // 3 attempts total

// speedWindowSpan is the sliding window for the speed estimate. A short
// window keeps pauses from distorting the average.
const speedWindowSpan = 5 * time.Second

// progressInterval is how often an active transfer pushes a progress event
// even when no part completed.
const progressInterval = time.Second

// TransferOptions tweak a single enqueue.
type TransferOptions struct {
	// WaitForRetrieval blocks on warming a non-resident source file.
	// When false, a cold source fails fast with RetrievalRequiredError.
	WaitForRetrieval bool
}

// Engine runs uploads, downloads, and cross-source copies as persisted,
// resumable state machines: Pending → InProgress ⇄ Paused → terminal.
type Engine struct {
	registry *Registry
	store    *TransferStore
	tiering  *Coordinator
	bus      *EventBus

	perSourceLimit int

	mu    sync.Mutex
	tasks map[string]*transferTask
	sems  map[string]semaphore.Semaphore

	destMu    sync.Mutex
	destLocks map[string]*sync.Mutex
}

// NewEngine creates a transfer engine. perSourceLimit bounds concurrent
// transfers per source so a single backend's connection pool is not
// overwhelmed.
func NewEngine(registry *Registry, store *TransferStore, tiering *Coordinator, bus *EventBus, perSourceLimit int) *Engine {
	if perSourceLimit <= 0 {
		perSourceLimit = 4
	}
	return &Engine{
		registry:       registry,
		store:          store,
		tiering:        tiering,
		bus:            bus,
		perSourceLimit: perSourceLimit,
		tasks:          make(map[string]*transferTask),
		sems:           make(map[string]semaphore.Semaphore),
		destLocks:      make(map[string]*sync.Mutex),
	}
}

type transferTask struct {
	mu       sync.Mutex
	rec      TransferRecord
	paused   bool
	resumeCh chan struct{}
	runCtx   context.Context
	cancel   context.CancelFunc
	window   *speedWindow
	done     chan struct{}
	err      error
}

func (t *transferTask) snapshot() TransferRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec
}

// --- speed window ---

type speedSample struct {
	t time.Time
	n int64
}

type speedWindow struct {
	mu      sync.Mutex
	samples []speedSample
}

func (w *speedWindow) add(n int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := nowFunc()
	w.samples = append(w.samples, speedSample{t: now, n: n})
	cutoff := now.Add(-speedWindowSpan)
	for len(w.samples) > 0 && w.samples[0].t.Before(cutoff) {
		w.samples = w.samples[1:]
	}
}

// rate returns bytes/sec over the window, 0 when idle.
func (w *speedWindow) rate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) == 0 {
		return 0
	}
	var total int64
	for _, s := range w.samples {
		total += s.n
	}
	elapsed := nowFunc().Sub(w.samples[0].t)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	return float64(total) / elapsed.Seconds()
}

// --- public API ---

// EnqueueUpload starts an upload of a local file to a source.
func (e *Engine) EnqueueUpload(ctx context.Context, sourceID, localPath, remotePath string, opts TransferOptions) (*TransferRecord, error) {
	return e.enqueue(ctx, KindUpload, sourceID, localPath, remotePath, opts, false)
}

// EnqueueDownload starts a download of a source file to the local disk.
func (e *Engine) EnqueueDownload(ctx context.Context, sourceID, remotePath, localPath string, opts TransferOptions) (*TransferRecord, error) {
	return e.enqueue(ctx, KindDownload, sourceID, remotePath, localPath, opts, false)
}

// Copy streams one file between two sources (or within one) and blocks
// until the transfer settles. Used by paste and the move/copy operations.
func (e *Engine) Copy(ctx context.Context, fromSourceID, fromPath, toSourceID, toPath string, opts TransferOptions) (*TransferRecord, error) {
	rec, err := e.enqueueCopy(ctx, fromSourceID, fromPath, toSourceID, toPath, opts, true)
	if err != nil {
		return nil, err
	}
	if err := e.Wait(ctx, rec.ID); err != nil {
		return rec, err
	}
	final, err := e.store.Get(rec.ID)
	if err != nil || final == nil {
		return rec, err
	}
	if final.Status == TransferFailed {
		return final, errors.New(final.Error)
	}
	if final.Status == TransferCanceled {
		return final, context.Canceled
	}
	return final, nil
}

func (e *Engine) enqueue(ctx context.Context, kind TransferKind, sourceID, srcPath, dstPath string, opts TransferOptions, synchronous bool) (*TransferRecord, error) {
	rec := &TransferRecord{
		ID:        uuid.NewString(),
		Kind:      kind,
		SourceID:  sourceID,
		Status:    TransferPending,
		CreatedAt: nowFunc(),
	}
	switch kind {
	case KindUpload:
		rec.LocalPath, rec.RemotePath = srcPath, NormalizeTarget(dstPath)
	case KindDownload:
		rec.LocalPath, rec.RemotePath = dstPath, NormalizeTarget(srcPath)
	}
	return e.start(ctx, rec, opts, synchronous)
}

func (e *Engine) enqueueCopy(ctx context.Context, fromSourceID, fromPath, toSourceID, toPath string, opts TransferOptions, synchronous bool) (*TransferRecord, error) {
	rec := &TransferRecord{
		ID:           uuid.NewString(),
		Kind:         KindCopy,
		SourceID:     fromSourceID,
		DestSourceID: toSourceID,
		LocalPath:    NormalizeTarget(fromPath),
		RemotePath:   NormalizeTarget(toPath),
		Status:       TransferPending,
		CreatedAt:    nowFunc(),
	}
	return e.start(ctx, rec, opts, synchronous)
}

// endpoints maps a record onto its read and write sides.
func (e *Engine) endpoints(rec *TransferRecord) (readID, readPath, writeID, writePath string) {
	switch rec.Kind {
	case KindUpload:
		return NativeSourceID, rec.LocalPath, rec.SourceID, rec.RemotePath
	case KindDownload:
		return rec.SourceID, rec.RemotePath, NativeSourceID, rec.LocalPath
	default:
		return rec.SourceID, rec.LocalPath, rec.DestSourceID, rec.RemotePath
	}
}

func (e *Engine) start(ctx context.Context, rec *TransferRecord, opts TransferOptions, synchronous bool) (*TransferRecord, error) {
	l := sub("engine")
	readID, readPath, writeID, _ := e.endpoints(rec)

	readDrv, err := e.registry.Driver(readID)
	if err != nil {
		return nil, err
	}
	writeDrv, err := e.registry.Driver(writeID)
	if err != nil {
		return nil, err
	}

	// Cold source data must be resident before any byte is readable.
	if err := e.tiering.EnsureResident(ctx, readID, readPath, opts.WaitForRetrieval); err != nil {
		return nil, err
	}

	entry, err := readDrv.Stat(ctx, readPath)
	if err != nil {
		return nil, fmt.Errorf("stat source %s: %w", readPath, err)
	}
	if entry.IsDirectory {
		return nil, fmt.Errorf("%s is a directory; transfer files individually", readPath)
	}

	partSize := writeDrv.PartSize()
	rec.TotalSize = entry.Size
	rec.TotalParts = int((entry.Size + partSize - 1) / partSize)

	// Persist before the first byte moves: a crash leaves a resumable
	// record rather than silent data loss.
	if err := e.store.Save(rec); err != nil {
		return nil, err
	}

	task := e.newTask(*rec)
	l.Info("transfer enqueued", "id", rec.ID, "kind", rec.Kind, "source", rec.SourceID,
		"size", rec.TotalSize, "parts", rec.TotalParts)

	if synchronous {
		e.run(task)
	} else {
		go e.run(task)
	}
	out := task.snapshot()
	return &out, nil
}

func (e *Engine) newTask(rec TransferRecord) *transferTask {
	runCtx, cancel := context.WithCancel(context.Background())
	task := &transferTask{
		rec:      rec,
		resumeCh: make(chan struct{}, 1),
		cancel:   cancel,
		window:   &speedWindow{},
		done:     make(chan struct{}),
	}
	task.runCtx = runCtx
	e.mu.Lock()
	e.tasks[rec.ID] = task
	e.mu.Unlock()
	return task
}

// sourceSem returns the per-source concurrency semaphore.
func (e *Engine) sourceSem(sourceID string) semaphore.Semaphore {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sems[sourceID]
	if !ok {
		s = semaphore.New(e.perSourceLimit)
		e.sems[sourceID] = s
	}
	return s
}

// LockDest serializes writes to one destination path so two transfers never
// race to create the same disambiguated name. Returns the unlock func.
func (e *Engine) LockDest(sourceID, path string) func() {
	key := sourceID + ":" + NormalizeTarget(path)
	e.destMu.Lock()
	mu, ok := e.destLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		e.destLocks[key] = mu
	}
	e.destMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// --- state machine ---

func (e *Engine) run(task *transferTask) {
	l := sub("engine")
	defer close(task.done)

	rec := task.snapshot()
	readID, readPath, writeID, writePath := e.endpoints(&rec)

	sem := e.sourceSem(rec.SourceID)
	if err := sem.Acquire(task.runCtx, 1); err != nil {
		e.finalize(task, TransferCanceled, nil)
		return
	}
	defer sem.Release(1)

	readDrv, err := e.registry.Driver(readID)
	if err != nil {
		e.finalize(task, TransferFailed, err)
		return
	}
	writeDrv, err := e.registry.Driver(writeID)
	if err != nil {
		e.finalize(task, TransferFailed, err)
		return
	}

	e.transition(task, TransferInProgress)

	var writer PartWriter
	if rec.WriterToken != "" {
		writer, err = writeDrv.ResumeWrite(task.runCtx, writePath, rec.TotalSize, rec.WriterToken)
	} else {
		writer, err = writeDrv.BeginWrite(task.runCtx, writePath, rec.TotalSize)
	}
	if err != nil {
		e.finalize(task, TransferFailed, err)
		return
	}
	task.mu.Lock()
	task.rec.WriterToken = writer.Token()
	task.mu.Unlock()
	e.persist(task)

	// Push progress at >=1Hz even when no part completes.
	tickerDone := make(chan struct{})
	defer close(tickerDone)
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tickerDone:
				return
			case <-ticker.C:
				e.publishProgress(task, "in_progress")
			}
		}
	}()

	partSize := writeDrv.PartSize()
	for {
		task.mu.Lock()
		i := task.rec.PartIndex
		total := task.rec.TotalParts
		task.mu.Unlock()
		if i >= total {
			break
		}

		if !e.waitRunnable(task) {
			e.finalize(task, TransferCanceled, nil)
			return
		}

		offset := int64(i) * partSize
		length := partSize
		if offset+length > rec.TotalSize {
			length = rec.TotalSize - offset
		}

		attempt := func() error {
			r, err := readDrv.OpenRange(task.runCtx, readPath, offset, length)
			if err != nil {
				return err
			}
			defer r.Close()
			return writer.WritePart(task.runCtx, i, r, length)
		}
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), partRetries), task.runCtx)
		if err := backoff.Retry(attempt, bo); err != nil {
			if task.runCtx.Err() != nil {
				e.finalize(task, TransferCanceled, nil)
				return
			}
			l.Error("part failed after retries", "id", rec.ID, "part", i, "err", err)
			e.finalize(task, TransferFailed, fmt.Errorf("part %d: %w", i, err))
			return
		}

		if logEnabled(slog.LevelDebug) {
			l.Debug("part written", "id", rec.ID, "part", i, "bytes", length)
		}

		task.window.add(length)
		task.mu.Lock()
		task.rec.BytesTransferred += length
		task.rec.PartIndex = i + 1
		task.rec.SpeedBytesPerSec = task.window.rate()
		task.rec.EtaSec = etaSec(task.rec.TotalSize-task.rec.BytesTransferred, task.rec.SpeedBytesPerSec)
		task.mu.Unlock()
		e.persist(task)
		e.publishProgress(task, "in_progress")
	}

	if err := writer.Complete(task.runCtx); err != nil {
		e.finalize(task, TransferFailed, fmt.Errorf("complete: %w", err))
		return
	}
	e.finalize(task, TransferCompleted, nil)
	l.Info("transfer completed", "id", rec.ID, "kind", rec.Kind, "bytes", rec.TotalSize)
}

// etaSec derives the remaining-time estimate. Nil means unknown — the
// consumer must never render it as 0 or infinity.
func etaSec(remaining int64, speed float64) *int64 {
	if speed <= 0 {
		return nil
	}
	eta := int64(float64(remaining) / speed)
	return &eta
}

// waitRunnable parks while the task is paused. Returns false on cancel.
func (e *Engine) waitRunnable(task *transferTask) bool {
	for {
		select {
		case <-task.runCtx.Done():
			return false
		default:
		}
		task.mu.Lock()
		paused := task.paused
		task.mu.Unlock()
		if !paused {
			return true
		}
		select {
		case <-task.runCtx.Done():
			return false
		case <-task.resumeCh:
		}
	}
}

func (e *Engine) transition(task *transferTask, status TransferStatus) {
	task.mu.Lock()
	task.rec.Status = status
	task.mu.Unlock()
	e.persist(task)
	e.publishProgress(task, string(status))
}

func (e *Engine) finalize(task *transferTask, status TransferStatus, cause error) {
	task.mu.Lock()
	task.rec.Status = status
	if cause != nil {
		task.rec.Error = cause.Error()
		task.err = cause
	}
	if status == TransferCompleted || status == TransferFailed || status == TransferCanceled {
		now := nowFunc()
		task.rec.CompletedAt = &now
		task.rec.SpeedBytesPerSec = 0
		task.rec.EtaSec = nil
	}
	id := task.rec.ID
	task.mu.Unlock()
	e.persist(task)
	e.publishProgress(task, string(status))

	e.mu.Lock()
	delete(e.tasks, id)
	e.mu.Unlock()
}

func (e *Engine) persist(task *transferTask) {
	rec := task.snapshot()
	if err := e.store.Save(&rec); err != nil {
		sub("engine").Error("persist transfer failed", "id", rec.ID, "err", err)
	}
}

func (e *Engine) publishProgress(task *transferTask, status string) {
	rec := task.snapshot()
	e.bus.Publish(ProgressEvent{
		Topic:            TopicTransferProgress,
		ID:               rec.ID,
		SourceID:         rec.SourceID,
		Path:             rec.RemotePath,
		Status:           status,
		Progress:         ProgressPercentage(rec.BytesTransferred, rec.TotalSize),
		BytesTransferred: rec.BytesTransferred,
		TotalBytes:       rec.TotalSize,
		SpeedBytesPerSec: rec.SpeedBytesPerSec,
		EtaSec:           rec.EtaSec,
	})
}

// Pause suspends a running transfer before its next part. Pausing a
// transfer that is not in progress is a no-op, tolerating duplicate clicks.
func (e *Engine) Pause(id string) error {
	e.mu.Lock()
	task, ok := e.tasks[id]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	task.mu.Lock()
	if task.paused || task.rec.Status.Terminal() {
		task.mu.Unlock()
		return nil
	}
	task.paused = true
	task.rec.Status = TransferPaused
	task.mu.Unlock()
	e.persist(task)
	e.publishProgress(task, string(TransferPaused))
	sub("engine").Info("transfer paused", "id", id)
	return nil
}

// Resume continues a paused transfer from its persisted part index.
// sourceID is required because credentials or session context may have
// expired since the pause; it must match the record. Resuming a transfer
// that is not paused is a no-op.
func (e *Engine) Resume(ctx context.Context, id, sourceID string) error {
	e.mu.Lock()
	task, ok := e.tasks[id]
	e.mu.Unlock()

	if ok {
		task.mu.Lock()
		if !task.paused {
			task.mu.Unlock()
			return nil
		}
		task.paused = false
		task.rec.Status = TransferInProgress
		task.mu.Unlock()
		select {
		case task.resumeCh <- struct{}{}:
		default:
		}
		e.persist(task)
		sub("engine").Info("transfer resumed", "id", id)
		return nil
	}

	// Not in memory: recover the persisted record (e.g. after a restart).
	rec, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if rec == nil || rec.Status.Terminal() {
		return nil
	}
	if sourceID != "" && sourceID != rec.SourceID {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}
	if _, err := e.registry.Resolve(rec.SourceID); err != nil {
		return err
	}
	rec.Status = TransferPending
	restored := e.newTask(*rec)
	go e.run(restored)
	sub("engine").Info("transfer restored", "id", id, "partIndex", rec.PartIndex)
	return nil
}

// Cancel transitions a transfer to Canceled from any non-terminal state.
// Already-written destination bytes are left in place; cleanup is a caller
// decision, not engine responsibility.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	task, ok := e.tasks[id]
	e.mu.Unlock()
	if ok {
		task.cancel()
		// Unpark a paused task so it can observe the cancellation.
		select {
		case task.resumeCh <- struct{}{}:
		default:
		}
		sub("engine").Info("transfer canceled", "id", id)
		return nil
	}

	rec, err := e.store.Get(id)
	if err != nil || rec == nil || rec.Status.Terminal() {
		return err
	}
	rec.Status = TransferCanceled
	now := nowFunc()
	rec.CompletedAt = &now
	if err := e.store.Save(rec); err != nil {
		return err
	}
	e.bus.Publish(ProgressEvent{
		Topic:    TopicTransferProgress,
		ID:       rec.ID,
		SourceID: rec.SourceID,
		Status:   string(TransferCanceled),
	})
	return nil
}

// Wait blocks until the transfer settles or ctx is cancelled.
func (e *Engine) Wait(ctx context.Context, id string) error {
	e.mu.Lock()
	task, ok := e.tasks[id]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-task.done:
		return task.err
	}
}

// Get returns the persisted record for a transfer.
func (e *Engine) Get(id string) (*TransferRecord, error) {
	return e.store.Get(id)
}

// List returns transfer records, optionally filtered by kind.
func (e *Engine) List(kind TransferKind) ([]TransferRecord, error) {
	if kind == "" {
		return e.store.All()
	}
	return e.store.ByKind(kind)
}
