// Package local_test tests the local filesystem blob store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
	"github.com/JakeFAU/wrc-harvester/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir(), Bucket: "raw"})
		require.NoError(t, err)
		assert.Equal(t, "raw", store.Bucket())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{Bucket: "raw"})
		assert.Error(t, err)
	})

	t.Run("BucketWithSeparator", func(t *testing.T) {
		_, err := local.New(local.Config{BaseDir: t.TempDir(), Bucket: "raw/../x"})
		assert.Error(t, err)
	})

	t.Run("BucketIsAFile", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "raw"), []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: dir, Bucket: "raw"})
		assert.Error(t, err)
	})
}

func TestPutGetListExists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir, Bucket: "raw"})
	require.NoError(t, err)

	key := "files/01-2025/15-01-2025/ADJ-1/ADJ-1.html"
	uri, err := store.Put(ctx, key, "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	assert.Equal(t, "storage://raw/"+key, uri)

	// #nosec G304 -- test reads from the controlled temp directory.
	onDisk, err := os.ReadFile(filepath.Join(dir, "raw", filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(onDisk))

	_, err = store.Put(ctx, "files/01-2025/15-01-2025/ADJ-1/a.pdf", "application/pdf", []byte("%PDF"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "files/01-2025/15-01-2025/ADJ-10/ADJ-10.html", "text/html", []byte("x"))
	require.NoError(t, err)

	keys, err := store.List(ctx, "files/01-2025/15-01-2025/ADJ-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"files/01-2025/15-01-2025/ADJ-1/ADJ-1.html",
		"files/01-2025/15-01-2025/ADJ-1/a.pdf",
	}, keys)

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.Exists(ctx, "files/01-2025/15-01-2025/ADJ-1")
	require.NoError(t, err)
	assert.False(t, ok, "directories are not objects")

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(got))

	_, err = store.Get(ctx, "files/missing.html")
	assert.ErrorIs(t, err, crawler.ErrObjectNotFound)
}

func TestListScopesToPrefixDirectory(t *testing.T) {
	ctx := context.Background()
	store, err := local.New(local.Config{BaseDir: t.TempDir(), Bucket: "raw"})
	require.NoError(t, err)

	for _, key := range []string{
		"files/01-2025/15-01-2025/ADJ-1/ADJ-1.html",
		"files/01-2025/16-01-2025/ADJ-2/ADJ-2.html",
		"files/02-2025/03-02-2025/ADJ-3/ADJ-3.html",
	} {
		_, err := store.Put(ctx, key, "text/html", []byte("x"))
		require.NoError(t, err)
	}

	keys, err := store.List(ctx, "files/01-2025/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"files/01-2025/15-01-2025/ADJ-1/ADJ-1.html",
		"files/01-2025/16-01-2025/ADJ-2/ADJ-2.html",
	}, keys)

	keys, err = store.List(ctx, "files/01-2025/15-01-2025/ADJ")
	require.NoError(t, err)
	assert.Equal(t, []string{"files/01-2025/15-01-2025/ADJ-1/ADJ-1.html"}, keys)

	keys, err = store.List(ctx, "files/12-2030/01-12-2030/ADJ-9/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	keys, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	_, err = store.List(ctx, "../other/")
	assert.Error(t, err)
}

func TestPathTraversalRejected(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir(), Bucket: "raw"})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape.txt", "text/plain", []byte("x"))
	assert.Error(t, err)
	_, err = store.Put(context.Background(), "", "text/plain", []byte("x"))
	assert.Error(t, err)
}
