package vfs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiering_StatusOfDefaultsHot(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.alpha.WriteFile("/h.txt", testContent(10)))

	tier, err := env.tiering.TierStatusOf(context.Background(), "alpha", "/h.txt")
	require.NoError(t, err)
	assert.Equal(t, TierHot, tier)
}

func TestTiering_WarmHotIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.alpha.WriteFile("/hot.txt", testContent(10)))

	ch := env.bus.Subscribe(TopicWarmProgress)
	defer env.bus.Unsubscribe(ch)

	h, err := env.tiering.Warm(context.Background(), "alpha", "/hot.txt", 1)
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))

	// The no-op still settles with a completed event and no byte transfer.
	ev := <-ch
	assert.Equal(t, "completed", ev.Status)
	assert.Equal(t, 100, ev.Progress)
	assert.Zero(t, ev.BytesTransferred)
}

func TestTiering_WarmPromotesColdFile(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.alpha.WriteFile("/c.bin", testContent(10)))
	env.alpha.SetTierStatus("/c.bin", TierArchive)

	h, err := env.tiering.Warm(context.Background(), "alpha", "/c.bin", 1)
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))

	tier, err := env.tiering.TierStatusOf(context.Background(), "alpha", "/c.bin")
	require.NoError(t, err)
	assert.Equal(t, TierHot, tier)
}

func TestTiering_WarmFailureSettlesHandle(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.alpha.WriteFile("/bad.bin", testContent(10)))
	env.alpha.SetTierStatus("/bad.bin", TierCold)
	env.alpha.FailPath("/bad.bin", errors.New("restore failed"))

	h, err := env.tiering.Warm(context.Background(), "alpha", "/bad.bin", 1)
	require.NoError(t, err)
	err = h.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restore failed")
}

func TestTiering_EnsureResidentFastFail(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.alpha.WriteFile("/deep.bin", testContent(10)))
	env.alpha.SetTierStatus("/deep.bin", TierNearline)

	err := env.tiering.EnsureResident(context.Background(), "alpha", "/deep.bin", false)
	require.Error(t, err)

	var rr *RetrievalRequiredError
	require.ErrorAs(t, err, &rr)
	assert.Equal(t, int64(14400), rr.EtaSec)

	// File stays where it was; fast-fail never triggers a warm.
	assert.Equal(t, TierNearline, env.alpha.tier("/deep.bin"))
}

func TestTiering_EnsureResidentBlocks(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.alpha.WriteFile("/w.bin", testContent(10)))
	env.alpha.SetTierStatus("/w.bin", TierWarm)

	require.NoError(t, env.tiering.EnsureResident(context.Background(), "alpha", "/w.bin", true))
	assert.Equal(t, TierHot, env.alpha.tier("/w.bin"))
}

func TestTiering_ChangeTierPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.alpha.WriteFile("/t1.bin", testContent(10)))
	require.NoError(t, env.alpha.WriteFile("/t2.bin", testContent(10)))

	result, err := env.tiering.ChangeTier(context.Background(), "alpha",
		[]string{"/t1.bin", "/missing.bin", "/t2.bin"}, TierArchive)
	require.NoError(t, err)

	assert.Equal(t, 2, result.FilesSynced)
	assert.ElementsMatch(t, []string{"/t1.bin", "/t2.bin"}, result.Synced)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "/missing.bin", result.Errors[0].Path)

	assert.Equal(t, TierArchive, env.alpha.tier("/t1.bin"))
	assert.Equal(t, TierArchive, env.alpha.tier("/t2.bin"))

	assert.NotEmpty(t, result.Request.RequestID)
	assert.Equal(t, TierArchive, result.Request.TargetTier)
	assert.Equal(t, int64(43200), result.Request.EstimatedRetrievalSec)
}

// ctxWarmDriver only completes a warm whose context stays alive for a beat,
// like a backend poll loop would.
type ctxWarmDriver struct {
	*MemDriver
}

func (d *ctxWarmDriver) Warm(ctx context.Context, path string, _ int, _ func(done, total int64)) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}
	d.SetTierStatus(path, TierHot)
	return nil
}

func TestTiering_WarmOutlivesCallerContext(t *testing.T) {
	env := newTestEnv(t)
	mem := NewMemDriver(CapabilitySet(CapTiering))
	require.NoError(t, mem.WriteFile("/slow.bin", testContent(10)))
	mem.SetTierStatus("/slow.bin", TierCold)
	env.registry.MountDriver("slowtier", "SlowTier", CategoryCloud, &ctxWarmDriver{MemDriver: mem})

	ctx, cancel := context.WithCancel(context.Background())
	h, err := env.tiering.Warm(ctx, "slowtier", "/slow.bin", 1)
	require.NoError(t, err)
	cancel() // the request that started the warm is gone

	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, TierHot, mem.tier("/slow.bin"))
}

func TestTiering_SourceWithoutTiering(t *testing.T) {
	env := newTestEnv(t)
	// The native local source has no tier driver, but its files are always
	// hot, so residency checks pass without one.
	dir := t.TempDir()
	local, err := env.registry.Driver(NativeSourceID)
	require.NoError(t, err)
	w, err := local.BeginWrite(context.Background(), dir+"/f.txt", 1)
	require.NoError(t, err)
	require.NoError(t, w.WritePart(context.Background(), 0, strings.NewReader("x"), 1))
	require.NoError(t, w.Complete(context.Background()))

	require.NoError(t, env.tiering.EnsureResident(context.Background(), NativeSourceID, dir+"/f.txt", false))
}
