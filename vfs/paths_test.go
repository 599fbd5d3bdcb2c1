package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTarget_EmptyIsRoot(t *testing.T) {
	assert.Equal(t, "/", NormalizeTarget(""))
}

func TestNormalizeTarget_AddsLeadingSlash(t *testing.T) {
	assert.Equal(t, "/a/b", NormalizeTarget("a/b"))
}

func TestNormalizeTarget_CleansPath(t *testing.T) {
	assert.Equal(t, "/a/b", NormalizeTarget("/a//b/"))
	assert.Equal(t, "/a", NormalizeTarget("/a/b/.."))
}

func TestDestPath(t *testing.T) {
	assert.Equal(t, "/a", DestPath("/", "a"))
	assert.Equal(t, "/a/b/c", DestPath("/a/b", "c"))
	assert.Equal(t, "/c", DestPath("", "c"))
}

func TestIsSelfOrDescendant(t *testing.T) {
	assert.True(t, IsSelfOrDescendant("/d", "/d"))
	assert.True(t, IsSelfOrDescendant("/d/sub", "/d"))
	assert.False(t, IsSelfOrDescendant("/d2", "/d"))
	assert.False(t, IsSelfOrDescendant("/", "/d"))
}

func TestDisambiguate_NoConflict(t *testing.T) {
	got, err := Disambiguate("/doc.pdf", false, func(string) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, "/doc.pdf", got)
}

func TestDisambiguate_FileSuffixBeforeExtension(t *testing.T) {
	taken := map[string]bool{"/doc.pdf": true}
	got, err := Disambiguate("/doc.pdf", false, func(p string) bool { return taken[p] })
	require.NoError(t, err)
	assert.Equal(t, "/doc copy.pdf", got)

	taken[got] = true
	got, err = Disambiguate("/doc.pdf", false, func(p string) bool { return taken[p] })
	require.NoError(t, err)
	assert.Equal(t, "/doc copy 2.pdf", got)
}

func TestDisambiguate_DirSuffixOnFullName(t *testing.T) {
	taken := map[string]bool{"/my.photos": true}
	got, err := Disambiguate("/my.photos", true, func(p string) bool { return taken[p] })
	require.NoError(t, err)
	assert.Equal(t, "/my.photos copy", got)
}

func TestDisambiguate_Exhausted(t *testing.T) {
	_, err := Disambiguate("/a.txt", false, func(string) bool { return true })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNameConflict)
}

func TestProgressPercentage(t *testing.T) {
	assert.Equal(t, 0, ProgressPercentage(0, 0))
	assert.Equal(t, 0, ProgressPercentage(100, 0))
	assert.Equal(t, 50, ProgressPercentage(50, 100))
	assert.Equal(t, 100, ProgressPercentage(200, 100))
	assert.Equal(t, 0, ProgressPercentage(-5, 100))
}
