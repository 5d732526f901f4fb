package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flamegiraffe/pkg/config"
	apperrors "github.com/flamegiraffe/pkg/errors"
)

var _ Storage = (*LocalStorage)(nil)
var _ Storage = (*COSStorage)(nil)

func newLocal(t *testing.T) (*LocalStorage, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := NewLocalStorage(dir)
	require.NoError(t, err)
	return st, dir
}

func TestNewLocalStorage(t *testing.T) {
	t.Run("CreatesDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "storage")

		st, err := NewLocalStorage(path)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(path, "cpu.folded"), st.GetURL("cpu.folded"))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("FailsOnFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "occupied")
		require.NoError(t, os.WriteFile(file, nil, 0644))

		_, err := NewLocalStorage(file)
		assert.Error(t, err)
	})
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	st, dir := newLocal(t)
	ctx := context.Background()
	content := []byte("main;handler 10\n")

	require.NoError(t, st.Upload(ctx, "team/cpu.folded", bytes.NewReader(content)))

	data, err := os.ReadFile(filepath.Join(dir, "team", "cpu.folded"))
	require.NoError(t, err)
	assert.Equal(t, content, data)

	rc, err := st.Download(ctx, "team/cpu.folded")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestLocalStorage_DownloadMissing(t *testing.T) {
	st, _ := newLocal(t)

	_, err := st.Download(context.Background(), "nonexistent.folded")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestLocalStorage_CanceledContext(t *testing.T) {
	st, _ := newLocal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, st.Upload(ctx, "x", bytes.NewReader(nil)), context.Canceled)
	_, err := st.Download(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, st.Delete(ctx, "x"), context.Canceled)
	_, err = st.Exists(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalStorage_RejectsEscapingKeys(t *testing.T) {
	st, _ := newLocal(t)
	ctx := context.Background()

	for _, key := range []string{"", "../outside", "a/../../b", "a/../b", "/"} {
		t.Run(key, func(t *testing.T) {
			err := st.Upload(ctx, key, bytes.NewReader([]byte("x")))
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalidInput(err))
		})
	}

	require.NoError(t, st.Upload(ctx, "/leading/slash", bytes.NewReader([]byte("x"))))
	ok, err := st.Exists(ctx, "leading/slash")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalStorage_Delete(t *testing.T) {
	st, dir := newLocal(t)
	ctx := context.Background()
	path := filepath.Join(dir, "delete", "test.folded")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("a 1\n"), 0644))

	require.NoError(t, st.Delete(ctx, "delete/test.folded"))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Deleting again is not an error.
	assert.NoError(t, st.Delete(ctx, "delete/test.folded"))
}

func TestLocalStorage_Exists(t *testing.T) {
	st, dir := newLocal(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "exists.folded"), []byte("a 1\n"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0755))

	ok, err := st.Exists(ctx, "exists.folded")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.Exists(ctx, "missing.folded")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = st.Exists(ctx, "subdir")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorage_List(t *testing.T) {
	st, _ := newLocal(t)
	ctx := context.Background()
	for _, key := range []string{"hosts/b.folded", "hosts/a.folded", "hosts/deep/c.folded", "hosts-old/x.folded", "top.folded"} {
		require.NoError(t, st.Upload(ctx, key, bytes.NewReader([]byte("a 1\n"))))
	}

	tests := []struct {
		prefix string
		want   []string
	}{
		{"hosts/", []string{"hosts/a.folded", "hosts/b.folded", "hosts/deep/c.folded"}},
		{"/hosts/a", []string{"hosts/a.folded"}},
		{"hosts", []string{"hosts-old/x.folded", "hosts/a.folded", "hosts/b.folded", "hosts/deep/c.folded"}},
		{"", []string{"hosts-old/x.folded", "hosts/a.folded", "hosts/b.folded", "hosts/deep/c.folded", "top.folded"}},
		{"missing/", nil},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			keys, err := st.List(ctx, tt.prefix)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keys)
		})
	}

	_, err := st.List(ctx, "../")
	assert.True(t, apperrors.IsInvalidInput(err))
}

func TestLocalStorage_GetURL(t *testing.T) {
	st, dir := newLocal(t)
	assert.Equal(t, filepath.Join(dir, "path/to/file.folded"), st.GetURL("path/to/file.folded"))
}

func TestNewStorage_Local(t *testing.T) {
	dir := t.TempDir()

	st, err := NewStorage(&config.StorageConfig{Type: "local", LocalPath: dir})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, st)

	st, err = NewStorage(&config.StorageConfig{LocalPath: dir})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, st)

	_, err = NewStorage(&config.StorageConfig{Type: "unknown", LocalPath: dir})
	assert.Error(t, err)
}
