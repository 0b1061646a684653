package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kiranshivaraju/picflow/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *storage.LocalBackend {
	t.Helper()
	b, err := storage.NewLocalBackend(t.TempDir(), "/files/")
	require.NoError(t, err)
	return b
}

// --- LocalBackend ---

func TestLocalBackend_SaveKeepsExtension(t *testing.T) {
	b := newLocal(t)
	token, err := b.Save(context.Background(), strings.NewReader("jpeg bytes"), "Holiday.JPG", "image/jpeg")
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(token))
	assert.Equal(t, ".jpg", filepath.Ext(token))
	assert.Equal(t, b.Root(), filepath.Dir(token))

	data, err := os.ReadFile(token)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))
}

func TestLocalBackend_SaveUniqueNames(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()
	a, err := b.Save(ctx, strings.NewReader("a"), "same.png", "image/png")
	require.NoError(t, err)
	c, err := b.Save(ctx, strings.NewReader("b"), "same.png", "image/png")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestLocalBackend_Exists(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()
	token, err := b.Save(ctx, strings.NewReader("x"), "a.jpg", "image/jpeg")
	require.NoError(t, err)

	ok, err := b.Exists(ctx, token)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, os.Remove(token))
	ok, err = b.Exists(ctx, token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalBackend_DeleteMissing(t *testing.T) {
	b := newLocal(t)
	err := b.Delete(context.Background(), filepath.Join(b.Root(), "gone.jpg"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLocalBackend_URL(t *testing.T) {
	b := newLocal(t)
	u, err := b.URL(context.Background(), filepath.Join(b.Root(), "my photo.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "/files/my%20photo.jpg", u)
}

func TestLocalBackend_DownloadCopiesToTemp(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()
	token, err := b.Save(ctx, strings.NewReader("original"), "a.png", "image/png")
	require.NoError(t, err)

	tmp, err := b.Download(ctx, token)
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmp) })

	assert.NotEqual(t, token, tmp)
	assert.Equal(t, ".png", filepath.Ext(tmp))
	data, err := os.ReadFile(tmp)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestLocalBackend_DownloadMissing(t *testing.T) {
	b := newLocal(t)
	_, err := b.Download(context.Background(), filepath.Join(b.Root(), "nope.jpg"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLocalBackend_LocalPath(t *testing.T) {
	b := newLocal(t)

	p, err := b.LocalPath("sub/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b.Root(), "sub", "a.jpg"), p)

	_, err = b.LocalPath("../../etc/passwd")
	assert.Error(t, err)

	_, err = b.LocalPath("")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// --- Registry ---

func TestRegistry_UnknownDefault(t *testing.T) {
	_, err := storage.NewRegistry("s3", newLocal(t))
	assert.ErrorIs(t, err, storage.ErrUnknownBackend)
}

func TestRegistry_Get(t *testing.T) {
	local := newLocal(t)
	r, err := storage.NewRegistry(storage.LocalBackendName, local)
	require.NoError(t, err)

	got, err := r.Get("local")
	require.NoError(t, err)
	assert.Same(t, local, got)
	assert.Same(t, local, r.Default())

	_, err = r.Get("ftp")
	assert.ErrorIs(t, err, storage.ErrUnknownBackend)
}

func TestRegistry_SourceExists(t *testing.T) {
	local := newLocal(t)
	r, err := storage.NewRegistry(storage.LocalBackendName, local)
	require.NoError(t, err)
	ctx := context.Background()

	token, err := local.Save(ctx, strings.NewReader("x"), "a.jpg", "image/jpeg")
	require.NoError(t, err)

	ok, err := r.SourceExists(ctx, "local", token)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = r.SourceExists(ctx, "s3", token)
	assert.ErrorIs(t, err, storage.ErrUnknownBackend)
}
