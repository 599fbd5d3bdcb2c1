package vfs

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_MountAndResolve(t *testing.T) {
	r := NewRegistry()
	src, err := r.Mount(context.Background(), SourceConfig{
		ID: "mem1", Name: "Memory One", Category: CategoryCustom, Type: "memory",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, src.Status)
	assert.True(t, src.Capabilities.Has(CapTiering))

	got, err := r.Resolve("mem1")
	require.NoError(t, err)
	assert.Equal(t, "Memory One", got.Name)
}

func TestRegistry_MountDuplicate(t *testing.T) {
	r := NewRegistry()
	_, err := r.Mount(context.Background(), SourceConfig{ID: "dup", Type: "memory"})
	require.NoError(t, err)
	_, err = r.Mount(context.Background(), SourceConfig{ID: "dup", Type: "memory"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRegistry_ConcurrentMountSameID(t *testing.T) {
	r := NewRegistry()
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Mount(context.Background(), SourceConfig{ID: "racy", Type: "memory"})
		}(i)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrAlreadyExists)
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one mount wins")
	require.Len(t, r.List(), 1)
}

func TestRegistry_NativeIDReserved(t *testing.T) {
	r := NewRegistry()
	_, err := r.Mount(context.Background(), SourceConfig{ID: NativeSourceID, Type: "memory"})
	assert.Error(t, err)
}

func TestRegistry_UnknownType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Mount(context.Background(), SourceConfig{ID: "x", Type: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("ghost")
	assert.ErrorIs(t, err, ErrSourceNotFound)
	_, err = r.Driver("ghost")
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestRegistry_Unmount(t *testing.T) {
	r := NewRegistry()
	_, err := r.Mount(context.Background(), SourceConfig{ID: "gone", Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, r.Unmount("gone"))

	_, err = r.Resolve("gone")
	assert.ErrorIs(t, err, ErrSourceNotFound)
	assert.ErrorIs(t, r.Unmount("gone"), ErrSourceNotFound)
}

func TestRegistry_ListNaturalOrderExcludesNative(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"disk10", "disk2", "disk1"} {
		_, err := r.Mount(context.Background(), SourceConfig{ID: name, Name: name, Type: "memory"})
		require.NoError(t, err)
	}

	sources := r.List()
	require.Len(t, sources, 3)
	assert.Equal(t, "disk1", sources[0].Name)
	assert.Equal(t, "disk2", sources[1].Name)
	assert.Equal(t, "disk10", sources[2].Name)
}

func TestRegistry_NativePreMounted(t *testing.T) {
	r := NewRegistry()
	src, err := r.Resolve(NativeSourceID)
	require.NoError(t, err)
	assert.Equal(t, CategoryLocal, src.Category)
	assert.True(t, src.Capabilities.Has(CapAtomicRename))
}

func TestRegistry_IsMove(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.IsMove("a", "a"))
	assert.False(t, r.IsMove("a", "b"), "cross-source transfers are copy-then-delete, never a move")
}

func TestRegistry_SetStatus(t *testing.T) {
	r := NewRegistry()
	_, err := r.Mount(context.Background(), SourceConfig{ID: "s", Type: "memory"})
	require.NoError(t, err)

	require.NoError(t, r.SetStatus("s", StatusDisconnected))
	src, err := r.Resolve("s")
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, src.Status)

	assert.ErrorIs(t, r.SetStatus("ghost", StatusError), ErrSourceNotFound)
}
