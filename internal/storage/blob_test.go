package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStore_PutOpenDelete(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docs")
	b, err := NewBlobStore(dir)
	require.NoError(t, err)

	require.NoError(t, b.Put("doc:abc", []byte("%PDF-1.4 fake")))
	assert.True(t, b.Exists("doc:abc"))

	f, err := b.Open("doc:abc")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "%PDF-1.4 fake", string(data))

	uri, err := b.URI("doc:abc")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"))
	assert.True(t, strings.HasSuffix(uri, "/docs/doc:abc.pdf"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	require.NoError(t, b.Delete("doc:abc"))
	require.NoError(t, b.Delete("doc:abc"))
	assert.False(t, b.Exists("doc:abc"))
	_, err = b.Open("doc:abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlobStore_RejectsPathIDs(t *testing.T) {
	b, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)
	for _, id := range []string{"", "..", "../escape", "a/b", `a\b`} {
		assert.Error(t, b.Put(id, []byte("x")), "id %q", id)
	}
}

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()
	f1 := filepath.Join(dir, "f1.txt")
	require.NoError(t, os.WriteFile(f1, []byte("hello"), 0644))
	got, err := DiskUsageBytes(f1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "a"), []byte("ab"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "b"), []byte("c"), 0644))
	got, err = DiskUsageBytes(sub)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	got, err = DiskUsageBytes(f1, sub, filepath.Join(dir, "missing"), "", ":memory:")
	require.NoError(t, err)
	assert.Equal(t, int64(8), got)
}

func TestBlobStore_StageCommitDiscard(t *testing.T) {
	b, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, b.Put("doc:a", []byte("original")))

	staged, err := b.Stage("doc:a", []byte("replacement"))
	require.NoError(t, err)
	f, err := b.Open("doc:a")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "original", string(data), "staging must not touch the stored blob")

	require.NoError(t, staged.Discard())
	require.NoError(t, staged.Commit(), "commit after discard is a no-op")
	entries, err := os.ReadDir(b.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	staged, err = b.Stage("doc:b", []byte("second"))
	require.NoError(t, err)
	assert.False(t, b.Exists("doc:b"))
	require.NoError(t, staged.Commit())
	assert.True(t, b.Exists("doc:b"))
	require.NoError(t, staged.Discard())
	assert.True(t, b.Exists("doc:b"))

	_, err = b.Stage("../escape", []byte("x"))
	assert.Error(t, err)
}
