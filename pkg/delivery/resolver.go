// Package delivery implements the byte-stream delivery core of packserve:
// sandboxed path resolution over an ordered list of roots, content-type
// classification, single-range parsing, delivery planning and the streaming
// pipeline that moves file bytes (optionally gzip-encoded) to the client.
package delivery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// ResolvedFile describes a regular file found under one of the configured
// roots. The path is absolute and guaranteed to be lexically contained in
// the root that produced it.
//
// ResolvedFile is recomputed on every request; stat results are never cached.
type ResolvedFile struct {
	// Path is the absolute filesystem path of the file.
	Path string

	// Size is the file size in bytes at resolution time.
	Size int64

	// ModTime is the file's last modification time.
	ModTime time.Time
}

// Resolver turns request paths into validated absolute filesystem paths.
//
// Roots are tried in order; the first one holding a regular file at the
// requested relative path wins. Every candidate is checked against its root
// after full lexical resolution, so `..` segments can never escape the
// sandbox no matter how they are encoded in the request path.
type Resolver struct {
	fs    afero.Fs
	roots []string

	// defaultResource is served for empty or bare-slash request paths,
	// e.g. "dlc/DLCIndex.zip".
	defaultResource string
}

// NewResolver creates a Resolver over the given ordered roots.
//
// Roots must be absolute; they are cleaned but not required to exist yet
// (a missing root simply never matches). At least one root is required.
func NewResolver(fsys afero.Fs, roots []string, defaultResource string) (*Resolver, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one root is required")
	}

	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		if !filepath.IsAbs(root) {
			return nil, fmt.Errorf("root %q is not absolute", root)
		}
		cleaned = append(cleaned, filepath.Clean(root))
	}

	return &Resolver{
		fs:              fsys,
		roots:           cleaned,
		defaultResource: defaultResource,
	}, nil
}

// Resolve maps a request path to a regular file under one of the roots.
//
// Returns ErrForbidden if the lexically resolved path escapes the sandbox,
// ErrNotFound if no root holds a regular file at the path, and a wrapped
// filesystem error for anything unexpected (mapped to 500 by the caller).
func (r *Resolver) Resolve(requestPath string) (*ResolvedFile, error) {
	rel := normalize(requestPath)
	if rel == "" {
		rel = r.defaultResource
	}

	for _, root := range r.roots {
		candidate := filepath.Join(root, rel)

		// The containment check runs on the fully resolved path. filepath.Join
		// collapses "." and ".." segments, so a traversal attempt lands outside
		// the root prefix and is rejected here no matter what exists on disk.
		if !contained(root, candidate) {
			return nil, fmt.Errorf("%q: %w", requestPath, ErrForbidden)
		}

		info, err := r.fs.Stat(candidate)
		if err != nil {
			if os.IsNotExist(err) || os.IsPermission(err) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", candidate, err)
		}

		// Directories and non-regular files are never served.
		if !info.Mode().IsRegular() {
			continue
		}

		return &ResolvedFile{
			Path:    candidate,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}, nil
	}

	return nil, fmt.Errorf("%q: %w", requestPath, ErrNotFound)
}

// normalize collapses repeated separators and strips the leading slash,
// yielding a relative path suitable for joining onto a root.
func normalize(requestPath string) string {
	p := strings.ReplaceAll(requestPath, "\\", "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// contained reports whether candidate equals root or lies strictly below it.
func contained(root, candidate string) bool {
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}
