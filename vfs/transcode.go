package vfs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// TranscodeHandle tracks one in-flight server-side transcode.
type TranscodeHandle struct {
	RequestID string
	SourceID  string
	Path      string
	Format    string

	done       chan struct{}
	err        error
	outputPath string
}

// Wait blocks until the transcode settles or ctx is cancelled and returns
// the output path on success.
func (h *TranscodeHandle) Wait(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-h.done:
		return h.outputPath, h.err
	}
}

// TranscodeService requests server-side media transcodes from backends that
// support them. No media bytes are decoded in this process.
type TranscodeService struct {
	registry *Registry
	bus      *EventBus
}

// NewTranscodeService creates the transcode service.
func NewTranscodeService(registry *Registry, bus *EventBus) *TranscodeService {
	return &TranscodeService{registry: registry, bus: bus}
}

// Start kicks off a transcode of path into format. Progress streams on the
// transcode-progress topic until terminal.
func (s *TranscodeService) Start(ctx context.Context, sourceID, path, format string) (*TranscodeHandle, error) {
	l := sub("transcode")
	driver, err := s.registry.Driver(sourceID)
	if err != nil {
		return nil, err
	}
	if !driver.Capabilities().Has(CapTranscode) {
		return nil, fmt.Errorf("source %s does not support transcoding", sourceID)
	}
	tc, ok := driver.(Transcoder)
	if !ok {
		return nil, fmt.Errorf("source %s does not support transcoding", sourceID)
	}

	h := &TranscodeHandle{
		RequestID: uuid.NewString(),
		SourceID:  sourceID,
		Path:      NormalizeTarget(path),
		Format:    format,
		done:      make(chan struct{}),
	}

	l.Info("transcode requested", "source", sourceID, "path", h.Path, "format", format)
	s.bus.Publish(ProgressEvent{
		Topic:    TopicTranscodeProgress,
		ID:       h.RequestID,
		SourceID: sourceID,
		Path:     h.Path,
		Status:   "transcoding",
		Progress: 0,
	})

	// The caller's ctx only covers setup; the transcode outlives the request
	// that started it.
	tcCtx := context.WithoutCancel(ctx)
	go func() {
		out, err := tc.Transcode(tcCtx, h.Path, format, func(pct int) {
			s.bus.Publish(ProgressEvent{
				Topic:    TopicTranscodeProgress,
				ID:       h.RequestID,
				SourceID: sourceID,
				Path:     h.Path,
				Status:   "transcoding",
				Progress: pct,
			})
		})
		if err != nil {
			l.Error("transcode failed", "source", sourceID, "path", h.Path, "err", err)
			h.err = fmt.Errorf("transcode %s: %w", h.Path, err)
			s.bus.Publish(ProgressEvent{
				Topic:    TopicTranscodeProgress,
				ID:       h.RequestID,
				SourceID: sourceID,
				Path:     h.Path,
				Status:   "error",
				Error:    err.Error(),
			})
		} else {
			h.outputPath = out
			l.Info("transcode complete", "source", sourceID, "path", h.Path, "output", out)
			s.bus.Publish(ProgressEvent{
				Topic:    TopicTranscodeProgress,
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
