package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryNames(resp *ListDirResponse) []string {
	names := make([]string, 0, len(resp.Entries))
	for _, e := range resp.Entries {
		names = append(names, e.Name)
	}
	sort.Strings(names)
	return names
}

func TestLocalFileSystem_ListDirDanglingLinkIsFault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roads.sld"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(dir, "real"), filepath.Join(dir, "linked")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), filepath.Join(dir, "broken.sld")))

	resp, err := NewLocalFileSystem().ListDir(context.Background(), dir, ListDirOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"linked", "real", "roads.sld"}, entryNames(resp))

	require.Len(t, resp.Faults, 1)
	assert.Equal(t, "broken.sld", resp.Faults[0].Name)
	assert.ErrorIs(t, resp.Faults[0].Err, os.ErrNotExist)

	for _, e := range resp.Entries {
		if e.Name == "linked" {
			assert.True(t, e.IsDir, "links to folders stay expandable")
		}
	}
}

func TestLocalFileSystem_ListDirHidden(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.sld"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "shown.sld"), []byte("x"), 0o644))
	lfs := NewLocalFileSystem()

	resp, err := lfs.ListDir(context.Background(), dir, ListDirOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"shown.sld"}, entryNames(resp))

	resp, err = lfs.ListDir(context.Background(), dir, ListDirOptions{IncludeHidden: true})
	require.NoError(t, err)
	assert.Equal(t, []string{".git", ".hidden.sld", "shown.sld"}, entryNames(resp))
	assert.Empty(t, resp.Faults)
}

func TestLocalFileSystem_ListDirErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "roads.sld")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	lfs := NewLocalFileSystem()

	_, err := lfs.ListDir(context.Background(), file, ListDirOptions{})
	assert.ErrorContains(t, err, "not a directory")

	_, err = lfs.ListDir(context.Background(), filepath.Join(dir, "missing"), ListDirOptions{})
	assert.ErrorIs(t, err, os.ErrNotExist)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = lfs.ListDir(ctx, dir, ListDirOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalFileSystem_WriteReadRemove(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := filepath.Join(dir, "styles", "roads.sld")
	lfs := NewLocalFileSystem()

	w, err := lfs.OpenWrite(ctx, p, OpenWriteOptions{})
	require.NoError(t, err)
	_, err = io.WriteString(w, "<sld/>")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = lfs.OpenWrite(ctx, p, OpenWriteOptions{})
	assert.ErrorIs(t, err, os.ErrExist)

	r, err := lfs.OpenRead(ctx, p)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, r.Close())
	require.NoError(t, err)
	assert.Equal(t, "<sld/>", string(data))

	st, err := lfs.Stat(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "roads.sld", st.Name)
	assert.False(t, st.IsDir)

	require.NoError(t, lfs.Remove(ctx, p))
	_, err = lfs.Stat(ctx, p)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
