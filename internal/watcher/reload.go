package watcher

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/conneroisu/codepad/internal/logging"
)

// Reloader re-reads a workspace file that changed on disk.
type Reloader interface {
	Reload(ctx context.Context, path string) error
}

// ReloadHandler returns a handler that passes created and modified files
// below root to r as workspace-relative slash paths. Removals are ignored:
// the buffer keeps its text and a later save recreates the file.
func ReloadHandler(root string, r Reloader, logger logging.Logger) ChangeHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		absRoot = filepath.Clean(root)
	}

	return func(ctx context.Context, events []ChangeEvent) error {
		var firstErr error
		for _, event := range events {
			if event.Type != EventTypeCreated && event.Type != EventTypeModified {
				continue
			}
			rel, ok := relativeTo(absRoot, event.Path)
			if !ok {
				continue
			}
			logger.Debug(ctx, "File changed on disk", "path", rel, "type", event.Type)
			if err := r.Reload(ctx, rel); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
}

func relativeTo(root, path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
