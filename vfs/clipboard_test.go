package vfs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClipboard_PasteEmpty(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.clip.Paste(context.Background(), "beta", "/", TransferOptions{})
	assert.ErrorIs(t, err, ErrClipboardEmpty)
}

func TestClipboard_StageUnknownSource(t *testing.T) {
	env := newTestEnv(t)
	err := env.clip.Copy("ghost", []string{"/a"})
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

func TestClipboard_LastWriterWins(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.clip.Copy("alpha", []string{"/a"}))
	require.NoError(t, env.clip.Cut("beta", []string{"/b"}))

	payload := env.clip.Get()
	require.NotNil(t, payload)
	assert.Equal(t, ClipCut, payload.Operation)
	assert.Equal(t, "beta", payload.SourceID)
	assert.Equal(t, []string{"/b"}, payload.Paths)
}

func TestClipboard_Clear(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.clip.Copy("alpha", []string{"/a"}))
	assert.True(t, env.clip.HasFiles())
	env.clip.Clear()
	assert.False(t, env.clip.HasFiles())
	assert.Nil(t, env.clip.Get())
}

func TestClipboard_CopyPaste_CrossSource(t *testing.T) {
	env := newTestEnv(t)
	content := testContent(1000)
	require.NoError(t, env.alpha.WriteFile("/doc.pdf", content))

	require.NoError(t, env.clip.Copy("alpha", []string{"/doc.pdf"}))
	result, err := env.clip.Paste(context.Background(), "beta", "/", TransferOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesPasted)
	assert.Zero(t, result.FilesFailed)
	assert.Equal(t, []string{"/doc.pdf"}, result.PastedPaths)
	assert.Equal(t, content, readFile(t, env.beta, "/doc.pdf"))

	// Source and payload both survive a copy-paste.
	assert.Equal(t, content, readFile(t, env.alpha, "/doc.pdf"))
	assert.True(t, env.clip.HasFiles())
}

func TestClipboard_SecondPasteDisambiguates(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.alpha.WriteFile("/doc.pdf", testContent(100)))
	require.NoError(t, env.clip.Copy("alpha", []string{"/doc.pdf"}))

	_, err := env.clip.Paste(context.Background(), "beta", "/", TransferOptions{})
	require.NoError(t, err)

	result, err := env.clip.Paste(context.Background(), "beta", "/", TransferOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/doc copy.pdf"}, result.PastedPaths)

	result, err = env.clip.Paste(context.Background(), "beta", "/", TransferOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/doc copy 2.pdf"}, result.PastedPaths)
}

func TestClipboard_CutPaste_SameSourceIsRename(t *testing.T) {
	env := newTestEnv(t)
	content := testContent(500)
	require.NoError(t, env.alpha.WriteFile("/f.txt", content))
	require.NoError(t, env.alpha.MkdirAll(context.Background(), "/sub"))

	require.NoError(t, env.clip.Cut("alpha", []string{"/f.txt"}))
	result, err := env.clip.Paste(context.Background(), "alpha", "/sub", TransferOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"/sub/f.txt"}, result.PastedPaths)
	assert.Equal(t, content, readFile(t, env.alpha, "/sub/f.txt"))
	_, err = env.alpha.Stat(context.Background(), "/f.txt")
	assert.Error(t, err)

	// No data re-transfer on a same-source cut: no transfer record exists.
	recs, err := env.engine.List("")
	require.NoError(t, err)
	assert.Empty(t, recs)

	// Full success clears a cut payload.
	assert.False(t, env.clip.HasFiles())
}

func TestClipboard_CutPaste_CrossSourceCopiesThenDeletes(t *testing.T) {
	env := newTestEnv(t)
	content := testContent(500)
	require.NoError(t, env.alpha.WriteFile("/m.bin", content))

	require.NoError(t, env.clip.Cut("alpha", []string{"/m.bin"}))
	result, err := env.clip.Paste(context.Background(), "beta", "/", TransferOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesPasted)
	assert.Equal(t, content, readFile(t, env.beta, "/m.bin"))
	_, err = env.alpha.Stat(context.Background(), "/m.bin")
	assert.Error(t, err, "cut source must be removed after durable copy")
	assert.False(t, env.clip.HasFiles())

	// The move lands in the ledger against the origin source.
	ops, err := env.ledger.List(nil)
	require.NoError(t, err)
	require.NotEmpty(t, ops)
	assert.Equal(t, OpMove, ops[0].Type)
	assert.Equal(t, "alpha", ops[0].SourceID)
}

func TestClipboard_PasteDirectoryRecursive(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.alpha.WriteFile("/d/one.txt", testContent(10)))
	require.NoError(t, env.alpha.WriteFile("/d/nested/two.txt", testContent(20)))

	require.NoError(t, env.clip.Copy("alpha", []string{"/d"}))
	result, err := env.clip.Paste(context.Background(), "beta", "/", TransferOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"/d"}, result.PastedPaths)
	assert.Len(t, readFile(t, env.beta, "/d/one.txt"), 10)
	assert.Len(t, readFile(t, env.beta, "/d/nested/two.txt"), 20)
}

func TestClipboard_PasteFolderIntoItselfRejected(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.alpha.WriteFile("/d/one.txt", testContent(10)))

	require.NoError(t, env.clip.Copy("alpha", []string{"/d"}))
	result, err := env.clip.Paste(context.Background(), "alpha", "/d", TransferOptions{})
	require.NoError(t, err)

	assert.Zero(t, result.FilesPasted)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "/d", result.Errors[0].Path)

	// A subtree of the cut path is rejected the same way.
	result, err = env.clip.Paste(context.Background(), "alpha", "/d/sub", TransferOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesFailed)
}

func TestClipboard_PartialFailure(t *testing.T) {
	env := newTestEnv(t)
	for _, name := range []string{"/a.txt", "/b.txt", "/c.txt"} {
		require.NoError(t, env.alpha.WriteFile(name, testContent(50)))
	}
	env.beta.FailPath("/b.txt", errors.New("quota exceeded"))

	require.NoError(t, env.clip.Copy("alpha", []string{"/a.txt", "/b.txt", "/c.txt"}))
	result, err := env.clip.Paste(context.Background(), "beta", "/", TransferOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.FilesPasted)
	assert.Equal(t, 1, result.FilesFailed)
	assert.ElementsMatch(t, []string{"/a.txt", "/c.txt"}, result.PastedPaths)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "/b.txt", result.Errors[0].Path)
	assert.Contains(t, result.Errors[0].Err, "quota exceeded")

	// Completed files stay in place.
	assert.Len(t, readFile(t, env.beta, "/a.txt"), 50)
	assert.Len(t, readFile(t, env.beta, "/c.txt"), 50)
}

func TestClipboard_CutPartialRetainsFailedPaths(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.alpha.WriteFile("/ok.txt", testContent(10)))
	require.NoError(t, env.alpha.WriteFile("/bad.txt", testContent(10)))
	env.beta.FailPath("/bad.txt", errors.New("nope"))

	require.NoError(t, env.clip.Cut("alpha", []string{"/ok.txt", "/bad.txt"}))
	result, err := env.clip.Paste(context.Background(), "beta", "/", TransferOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesPasted)

	payload := env.clip.Get()
	require.NotNil(t, payload, "cut with failures must keep a payload for retry")
	assert.Equal(t, ClipCut, payload.Operation)
	assert.Equal(t, []string{"/bad.txt"}, payload.Paths)
}

func TestClipboard_PasteMissingSourceFile(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.alpha.WriteFile("/real.txt", testContent(10)))
	require.NoError(t, env.clip.Copy("alpha", []string{"/real.txt"}))

	// The file disappears between stage and paste.
	require.NoError(t, env.alpha.Remove(context.Background(), "/real.txt"))

	result, err := env.clip.Paste(context.Background(), "beta", "/", TransferOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.FilesPasted)
	assert.Equal(t, 1, result.FilesFailed)
}
