package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStoreWritesSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewLocal(dir)
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "sneakers/task-42.html", "text/html", []byte("<html/>"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "sneakers/task-42.html"), uri)

	data, err := os.ReadFile(filepath.Join(dir, "sneakers/task-42.html"))
	require.NoError(t, err)
	require.Equal(t, "<html/>", string(data))
}

func TestLocalStoreCreatesBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "snapshots")
	_, err := NewLocal(dir)
	require.NoError(t, err)
	require.DirExists(t, dir)
}

func TestLocalStoreRejectsEscape(t *testing.T) {
	t.Parallel()

	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../outside.html", "text/html", []byte("x"))
	require.Error(t, err)
}

func TestLocalStoreRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "  ", "text/html", []byte("x"))
	require.Error(t, err)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemory()
	uri, err := store.PutObject(context.Background(), "task-1.html", "text/html", []byte("<html/>"))
	require.NoError(t, err)
	require.Equal(t, "mem://task-1.html", uri)

	data, ok := store.Get("task-1.html")
	require.True(t, ok)
	require.Equal(t, "<html/>", string(data))
	require.Equal(t, 1, store.Len())
}
