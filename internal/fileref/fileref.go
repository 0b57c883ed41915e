// Package fileref provides file references: revocable handles to files in
// the playground workspace that can be read in full and rewritten in full.
//
// All references are resolved against a Workspace, an afero file system
// rooted at the configured directory, so a reference can never point outside
// the workspace.
package fileref

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conneroisu/codepad/internal/errors"
	"github.com/spf13/afero"
)

// Reference is an opaque handle to a file that can be read and rewritten.
type Reference interface {
	// Name is the display name of the file (its base name).
	Name() string
	// Path is the slash separated path relative to the workspace root.
	Path() string
	// Read returns the full text of the file.
	Read(ctx context.Context) (string, error)
	// Write replaces the full contents of the file with text. Either the
	// whole text is written or the file is left untouched.
	Write(ctx context.Context, text string) error
}

// Workspace is the directory tree references are resolved in.
type Workspace struct {
	fs   afero.Fs
	root string
}

// NewWorkspace roots a workspace at dir on the OS file system.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeInvalidPath, "resolving workspace root", err).WithFile(dir)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeInvalidPath, "workspace root is not accessible", err).WithFile(abs)
	}
	if !info.IsDir() {
		return nil, errors.ErrInvalidPath(abs).WithContext("reason", "not a directory")
	}
	return &Workspace{fs: afero.NewBasePathFs(afero.NewOsFs(), abs), root: abs}, nil
}

// NewWorkspaceFs wraps an arbitrary afero file system, typically an
// in-memory one in tests.
func NewWorkspaceFs(fs afero.Fs) *Workspace {
	return &Workspace{fs: fs}
}

// Root returns the absolute OS directory of the workspace, or "" for a
// workspace that is not backed by the OS file system.
func (w *Workspace) Root() string {
	return w.root
}

// Abs maps a workspace-relative path to an OS path, or "" when the
// workspace is not OS backed.
func (w *Workspace) Abs(rel string) string {
	if w.root == "" {
		return ""
	}
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// Clean validates a workspace-relative path and returns its canonical form.
func Clean(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", errors.ErrInvalidPath(p)
	}
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", errors.ErrPathTraversal(p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", errors.ErrPathTraversal(p)
		}
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", errors.ErrInvalidPath(p)
	}
	return cleaned, nil
}

// Ref returns a reference to the file at rel. The file does not need to
// exist yet; a save creates it.
func (w *Workspace) Ref(rel string) (Reference, error) {
	cleaned, err := Clean(rel)
	if err != nil {
		return nil, err
	}
	return &file{fs: w.fs, path: cleaned}, nil
}

// exists reports whether rel names an existing regular file.
func (w *Workspace) exists(rel string) bool {
	cleaned, err := Clean(rel)
	if err != nil {
		return false
	}
	info, err := w.fs.Stat(cleaned)
	return err == nil && !info.IsDir()
}

// List returns the workspace-relative paths of regular files accepted by
// keep, sorted. Hidden directories and node_modules are skipped.
func (w *Workspace) List(keep func(name string) bool) ([]string, error) {
	var out []string
	err := afero.Walk(w.fs, ".", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		name := info.Name()
		if info.IsDir() {
			if p != "." && (strings.HasPrefix(name, ".") || name == "node_modules") {
				return filepath.SkipDir
			}
			return nil
		}
		if keep == nil || keep(name) {
			out = append(out, filepath.ToSlash(p))
		}
		return nil
	})
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, "listing workspace", err)
	}
	sort.Strings(out)
	return out, nil
}

type file struct {
	fs   afero.Fs
	path string
}

func (f *file) Name() string { return path.Base(f.path) }

func (f *file) Path() string { return f.path }

func (f *file) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fh, err := f.fs.Open(f.path)
	if err != nil {
		return "", errors.NewIOError(errors.ErrCodeReadFailed, "opening file", err).WithFile(f.path)
	}
	defer fh.Close()

	data, err := io.ReadAll(fh)
	if err != nil {
		return "", errors.NewIOError(errors.ErrCodeReadFailed, "reading file", err).WithFile(f.path)
	}
	return string(data), nil
}

// Write streams text into a temporary sibling and renames it over the
// target, so readers never observe a partially written file.
func (f *file) Write(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := path.Dir(f.path)
	if dir != "." {
		if err := f.fs.MkdirAll(dir, 0o755); err != nil {
			return errors.NewIOError(errors.ErrCodeWriteFailed, "creating directory", err).WithFile(f.path)
		}
	}

	tmp, err := afero.TempFile(f.fs, dir, "."+path.Base(f.path)+".*.tmp")
	if err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "creating temporary file", err).WithFile(f.path)
	}
	tmpName := tmp.Name()

	fail := func(msg string, cause error) error {
		_ = tmp.Close()
		_ = f.fs.Remove(tmpName)
		return errors.NewIOError(errors.ErrCodeWriteFailed, msg, cause).WithFile(f.path)
	}

	if _, err := io.WriteString(tmp, text); err != nil {
		return fail("writing file", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("flushing file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = f.fs.Remove(tmpName)
		return errors.NewIOError(errors.ErrCodeWriteFailed, "closing file", err).WithFile(f.path)
	}
	if err := ctx.Err(); err != nil {
		_ = f.fs.Remove(tmpName)
		return err
	}
	if err := f.fs.Rename(tmpName, f.path); err != nil {
		_ = f.fs.Remove(tmpName)
		return errors.NewIOError(errors.ErrCodeWriteFailed, "replacing file", err).WithFile(f.path)
	}
	return nil
}
