package vfs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscode_ProducesOutput(t *testing.T) {
	env := newTestEnv(t)
	svc := NewTranscodeService(env.registry, env.bus)
	require.NoError(t, env.alpha.WriteFile("/video.mov", testContent(100)))

	h, err := svc.Start(context.Background(), "alpha", "/video.mov", "mp4")
	require.NoError(t, err)

	out, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/video.mp4", out)

	entry, err := env.alpha.Stat(context.Background(), "/video.mp4")
	require.NoError(t, err)
	assert.False(t, entry.IsDirectory)
}

func TestTranscode_UnsupportedSource(t *testing.T) {
	env := newTestEnv(t)
	svc := NewTranscodeService(env.registry, env.bus)

	// beta was mounted without the transcode capability.
	_, err := svc.Start(context.Background(), "beta", "/x.mov", "mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcoding")
}

// ctxTranscodeDriver only transcodes when its context stays alive for a
// beat, like a real backend job would.
type ctxTranscodeDriver struct {
	*MemDriver
}

func (d *ctxTranscodeDriver) Transcode(ctx context.Context, path, format string, progress func(pct int)) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	return d.MemDriver.Transcode(ctx, path, format, progress)
}

func TestTranscode_OutlivesCallerContext(t *testing.T) {
	env := newTestEnv(t)
	mem := NewMemDriver(CapabilitySet(CapTranscode))
	require.NoError(t, mem.WriteFile("/clip.mov", testContent(10)))
	env.registry.MountDriver("media", "Media", CategoryCloud, &ctxTranscodeDriver{MemDriver: mem})
	svc := NewTranscodeService(env.registry, env.bus)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := svc.Start(ctx, "media", "/clip.mov", "mp4")
	require.NoError(t, err)
	cancel() // the request that started the transcode is gone

	out, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/clip.mp4", out)
}

func TestTranscode_FailurePublishesError(t *testing.T) {
	env := newTestEnv(t)
	svc := NewTranscodeService(env.registry, env.bus)
	require.NoError(t, env.alpha.WriteFile("/broken.mov", testContent(10)))
	env.alpha.FailPath("/broken.mov", errors.New("codec unavailable"))

	ch := env.bus.Subscribe(TopicTranscodeProgress)
	defer env.bus.Unsubscribe(ch)

	h, err := svc.Start(context.Background(), "alpha", "/broken.mov", "mp4")
	require.NoError(t, err)
	_, err = h.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "codec unavailable")

	// First event announces the start, a later one carries the error.
	var sawError bool
	for i := 0; i < 3 && !sawError; i++ {
		ev := <-ch
		sawError = ev.Status == "error"
	}
	assert.True(t, sawError)
}
