package delivery

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFs(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()

	files := map[string]string{
		"/srv/packages/dlc/DLCIndex.zip":  "index archive bytes",
		"/srv/packages/app.js":            "console.log('hi');",
		"/srv/packages/fallback/only.zip": "fallback only",
	}
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
	}
	require.NoError(t, fsys.MkdirAll("/srv/packages/dir", 0o755))
	require.NoError(t, fsys.Chtimes("/srv/packages/app.js", time.Now(), time.Now()))

	return fsys
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(newTestFs(t),
		[]string{"/srv/packages", "/srv/packages/fallback"},
		"dlc/DLCIndex.zip")
	require.NoError(t, err)
	return r
}

func TestNewResolver_Validation(t *testing.T) {
	fsys := afero.NewMemMapFs()

	_, err := NewResolver(fsys, nil, "index.zip")
	assert.Error(t, err, "no roots should be rejected")

	_, err = NewResolver(fsys, []string{"relative/root"}, "index.zip")
	assert.Error(t, err, "relative roots should be rejected")
}

func TestResolve_PrimaryRoot(t *testing.T) {
	r := newTestResolver(t)

	file, err := r.Resolve("/app.js")
	require.NoError(t, err)
	assert.Equal(t, "/srv/packages/app.js", file.Path)
	assert.Equal(t, int64(len("console.log('hi');")), file.Size)
	assert.False(t, file.ModTime.IsZero())
}

func TestResolve_FallbackRoot(t *testing.T) {
	r := newTestResolver(t)

	file, err := r.Resolve("/only.zip")
	require.NoError(t, err)
	assert.Equal(t, "/srv/packages/fallback/only.zip", file.Path)
}

func TestResolve_DefaultResource(t *testing.T) {
	for _, path := range []string{"", "/"} {
		file, err := newTestResolver(t).Resolve(path)
		require.NoError(t, err, "path %q", path)
		assert.Equal(t, "/srv/packages/dlc/DLCIndex.zip", file.Path)
	}
}

func TestResolve_RepeatedSeparators(t *testing.T) {
	r := newTestResolver(t)

	file, err := r.Resolve("//dlc///DLCIndex.zip")
	require.NoError(t, err)
	assert.Equal(t, "/srv/packages/dlc/DLCIndex.zip", file.Path)
}

func TestResolve_NotFound(t *testing.T) {
	r := newTestResolver(t)

	_, err := r.Resolve("/missing.zip")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_DirectoryIsNotFound(t *testing.T) {
	// Directories must never be served or listed; they read as absent.
	r := newTestResolver(t)

	_, err := r.Resolve("/dir")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrForbidden)
}

func TestResolve_TraversalIsForbidden(t *testing.T) {
	r := newTestResolver(t)

	escaping := []string{
		"/../etc/passwd",
		"/../../etc/passwd",
		"/dlc/../../escape.zip",
		"/..",
	}
	for _, path := range escaping {
		_, err := r.Resolve(path)
		assert.ErrorIs(t, err, ErrForbidden, "path %q must not escape the sandbox", path)
	}
}

func TestResolve_TraversalWithinRootIsAllowed(t *testing.T) {
	// ".." that still resolves inside the root is harmless.
	r := newTestResolver(t)

	file, err := r.Resolve("/dlc/../app.js")
	require.NoError(t, err)
	assert.Equal(t, "/srv/packages/app.js", file.Path)
}

func TestResolve_SandboxInvariant(t *testing.T) {
	// Whatever the input, the result is never a file outside a root.
	r := newTestResolver(t)

	inputs := []string{
		"/..%2fetc/passwd",
		"/./../../srv/other",
		"/a/b/../../../x",
		"\\..\\..\\etc\\passwd",
	}
	for _, path := range inputs {
		file, err := r.Resolve(path)
		if err == nil {
			assert.Contains(t, file.Path, "/srv/packages")
			continue
		}
		assert.True(t,
			errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden),
			"path %q: unexpected error %v", path, err)
	}
}
