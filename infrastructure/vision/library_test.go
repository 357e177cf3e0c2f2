package vision

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateLibrary_SaveLoad(t *testing.T) {
	ctx := context.Background()
	lib, err := NewTemplateLibrary(t.TempDir(), nil)
	require.NoError(t, err)

	missing, err := lib.Load(ctx, "crm", "submit")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, lib.Save(ctx, "crm", "submit", pattern(40, 20)))
	_, err = os.Stat(lib.Path("crm", "submit"))
	require.NoError(t, err)

	got, err := lib.Load(ctx, "crm", "submit")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 40, got.Bounds().Dx())

	other, err := lib.Load(ctx, "erp", "submit")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestTemplateLibrary_LoadsFromDiskWithoutCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first, err := NewTemplateLibrary(dir, nil)
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, "crm", "sign in", pattern(32, 16)))

	second, err := NewTemplateLibrary(dir, nil)
	require.NoError(t, err)
	assert.False(t, second.Cached("crm", "sign in"))

	got, err := second.Load(ctx, "crm", "sign in")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 16, got.Bounds().Dy())
	assert.True(t, second.Cached("crm", "sign in"))
}

func TestTemplateLibrary_WatchEvictsRemovedFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lib, err := NewTemplateLibrary(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, lib.Save(ctx, "crm", "ok", pattern(16, 16)))
	require.NoError(t, lib.Watch(ctx))
	defer lib.Close()

	require.True(t, lib.Cached("crm", "ok"))
	require.NoError(t, os.Remove(lib.Path("crm", "ok")))

	assert.Eventually(t, func() bool { return !lib.Cached("crm", "ok") }, 5*time.Second, 20*time.Millisecond)

	got, err := lib.Load(ctx, "crm", "ok")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTemplateLibrary_ContextsDoNotAlias(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	lib, err := NewTemplateLibrary(dir, nil)
	require.NoError(t, err)

	contexts := []string{"Login", "login", "log in", "log_in", "log/in"}
	for i, c := range contexts {
		require.NoError(t, lib.Save(ctx, c, "submit", pattern(10+i, 10)))
	}
	seen := map[string]bool{}
	for i, c := range contexts {
		p := lib.Path(c, "submit")
		assert.False(t, seen[p], "path %s reused by %q", p, c)
		seen[p] = true

		fresh, err := NewTemplateLibrary(dir, nil)
		require.NoError(t, err)
		got, err := fresh.Load(ctx, c, "submit")
		require.NoError(t, err)
		require.NotNil(t, got, "context %q", c)
		assert.Equal(t, 10+i, got.Bounds().Dx(), "context %q", c)
	}
}

func TestTemplateLibrary_PathStaysUnderRoot(t *testing.T) {
	dir := t.TempDir()
	lib, err := NewTemplateLibrary(dir, nil)
	require.NoError(t, err)

	for _, c := range []string{"..", ".", "../..", "a/../../b", ""} {
		for _, target := range []string{"..", "ok", "../escape"} {
			p := lib.Path(c, target)
			rel, err := filepath.Rel(dir, p)
			require.NoError(t, err)
			assert.False(t, strings.HasPrefix(rel, ".."), "%q/%q escapes to %s", c, target, p)
			assert.Equal(t, dir, filepath.Dir(filepath.Dir(p)), "%q/%q nests at %s", c, target, p)
		}
	}
}
