package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrPathEscapes  = errors.New("path escapes directory")
	ErrAbsolutePath = errors.New("absolute paths are not allowed")
	ErrEmptyPath    = errors.New("empty path not allowed")
	ErrNotRegular   = errors.New("not a regular file")
)

// PathValidator confines paths handed in by UI content to one directory,
// using Go 1.24's os.Root API for every filesystem access.
type PathValidator struct {
	root    *os.Root
	rootDir string
}

// New creates a PathValidator for dir, creating the directory if needed.
func New(dir string) (*PathValidator, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	// Symlinked parents (e.g. /tmp on macOS) would break prefix checks.
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}

	root, err := os.OpenRoot(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open root: %w", err)
	}

	return &PathValidator{
		root:    root,
		rootDir: absPath,
	}, nil
}

// Close releases resources held by the PathValidator.
func (pv *PathValidator) Close() error {
	if pv.root != nil {
		return pv.root.Close()
	}
	return nil
}

// Dir returns the absolute confining directory.
func (pv *PathValidator) Dir() string {
	return pv.rootDir
}

// ValidateAndNormalize validates a relative path and returns it cleaned,
// with forward slashes. It rejects:
// - Empty paths
// - Absolute paths
// - Paths that escape the directory (using ..)
// - Paths that are not local (using filepath.IsLocal)
func (pv *PathValidator) ValidateAndNormalize(userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}

	if !filepath.IsLocal(userPath) {
		if filepath.IsAbs(userPath) {
			return "", fmt.Errorf("%w: %s", ErrAbsolutePath, userPath)
		}
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	cleanPath := filepath.Clean(userPath)
	relPath, err := filepath.Rel(pv.rootDir, filepath.Join(pv.rootDir, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path: %w", err)
	}
	if relPath == "." || strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}

	return filepath.ToSlash(relPath), nil
}

// Relative converts a path that may be absolute into one relative to the
// directory. Absolute paths must lie inside it.
func (pv *PathValidator) Relative(userPath string) (string, error) {
	if userPath == "" {
		return "", ErrEmptyPath
	}
	if !filepath.IsAbs(userPath) {
		return pv.ValidateAndNormalize(userPath)
	}

	abs := filepath.Clean(userPath)
	if resolved, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(resolved, filepath.Base(abs))
	}
	rel, err := filepath.Rel(pv.rootDir, abs)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, userPath)
	}
	return pv.ValidateAndNormalize(rel)
}

// ResolveFile checks that userPath names an existing regular file inside
// the directory and returns its absolute path. Symlinks are refused.
func (pv *PathValidator) ResolveFile(userPath string) (string, error) {
	rel, err := pv.Relative(userPath)
	if err != nil {
		return "", err
	}
	info, err := pv.LstatInRoot(rel)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s", ErrNotRegular, userPath)
	}
	return filepath.Join(pv.rootDir, filepath.FromSlash(rel)), nil
}

// LstatInRoot stats a file within the directory without following a final
// symlink.
func (pv *PathValidator) LstatInRoot(path string) (os.FileInfo, error) {
	platformPath := filepath.FromSlash(path)
	if _, err := pv.ValidateAndNormalize(platformPath); err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	return pv.root.Lstat(platformPath)
}
