package security

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestPathValidator_ValidateAndNormalize(t *testing.T) {
	validator, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	defer validator.Close()

	tests := []struct {
		name      string
		input     string
		shouldErr bool
		errType   error
	}{
		// Valid paths
		{"simple file", "1700000000000", false, nil},
		{"file in subdirectory", "exports/test.txt", false, nil},
		{"hidden file", ".export", false, nil},

		// Path traversal attempts
		{"parent directory", "../test.txt", true, ErrPathEscapes},
		{"nested parent", "a/../../test.txt", true, ErrPathEscapes},
		{"multiple parents", "../../etc/passwd", true, ErrPathEscapes},
		{"absolute path unix", "/etc/passwd", true, ErrAbsolutePath},
		{"directory itself", ".", true, ErrPathEscapes},

		// Empty path
		{"empty path", "", true, ErrEmptyPath},

		// Clean should normalize these
		{"dot slash", "./test.txt", false, nil},
		{"redundant slashes", "a//b///test.txt", false, nil},
	}

	if runtime.GOOS == "windows" {
		tests = append(tests, struct {
			name      string
			input     string
			shouldErr bool
			errType   error
		}{"absolute path windows", "C:\\Windows\\System32\\config", true, ErrAbsolutePath})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := validator.ValidateAndNormalize(tt.input)

			if tt.shouldErr {
				if err == nil {
					t.Errorf("Expected error for input %q, got none", tt.input)
					return
				}
				if tt.errType != nil && !errors.Is(err, tt.errType) {
					t.Errorf("Expected error type %v, got %v", tt.errType, err)
				}
				return
			}

			if err != nil {
				t.Errorf("Unexpected error for input %q: %v", tt.input, err)
				return
			}
			if strings.Contains(result, "\\") {
				t.Errorf("Result should use forward slashes, got %q", result)
			}
			if strings.HasPrefix(result, "..") || filepath.IsAbs(result) {
				t.Errorf("Result must be local, got %q", result)
			}
		})
	}
}

func TestPathValidator_ResolveFile(t *testing.T) {
	cacheDir := t.TempDir()
	outside := t.TempDir()

	inside := filepath.Join(cacheDir, "1700000000000")
	if err := os.WriteFile(inside, []byte("export"), 0600); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(cacheDir, "sub"), 0700); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}
	outsideFile := filepath.Join(outside, "secret")
	if err := os.WriteFile(outsideFile, []byte("secret"), 0600); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	linkErr := os.Symlink(outsideFile, filepath.Join(cacheDir, "link"))

	validator, err := New(cacheDir)
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	defer validator.Close()

	tests := []struct {
		name      string
		path      string
		shouldErr bool
	}{
		{"absolute inside", inside, false},
		{"relative inside", "1700000000000", false},
		{"absolute outside", outsideFile, true},
		{"traversal out of cache", filepath.Join(cacheDir, "..", filepath.Base(outside), "secret"), true},
		{"relative traversal", "../secret", true},
		{"missing file", filepath.Join(cacheDir, "missing"), true},
		{"directory", filepath.Join(cacheDir, "sub"), true},
		{"cache dir itself", cacheDir, true},
		{"empty", "", true},
	}
	if linkErr == nil {
		tests = append(tests, struct {
			name      string
			path      string
			shouldErr bool
		}{"symlink to outside", filepath.Join(cacheDir, "link"), true})
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := validator.ResolveFile(tt.path)
			if tt.shouldErr {
				if err == nil {
					t.Errorf("Expected error for %q, got %q", tt.path, resolved)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error for %q: %v", tt.path, err)
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				t.Fatalf("Resolved path unreadable: %v", err)
			}
			if string(data) != "export" {
				t.Errorf("Resolved to wrong file: %q", resolved)
			}
		})
	}
}

func TestPathValidator_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache", "nested")

	validator, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	defer validator.Close()

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("Directory was not created at %q", dir)
	}
	if !filepath.IsAbs(validator.Dir()) {
		t.Errorf("Dir should be absolute, got %q", validator.Dir())
	}
}

func TestPathValidator_LstatInRoot(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "test.txt"), []byte("test"), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	validator, err := New(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create validator: %v", err)
	}
	defer validator.Close()

	tests := []struct {
		name      string
		path      string
		shouldErr bool
	}{
		{"valid file", "test.txt", false},
		{"nonexistent file", "missing.txt", true},
		{"path traversal", "../outside.txt", true},
		{"absolute path", "/etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := validator.LstatInRoot(tt.path)
			if tt.shouldErr {
				if err == nil {
					t.Errorf("Expected error when stat %q, got none", tt.path)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error stat %q: %v", tt.path, err)
				return
			}
			if info == nil {
				t.Error("Expected file info, got nil")
			}
		})
	}
}
