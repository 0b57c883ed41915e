package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestFilters(t *testing.T) {
	testCases := []struct {
		path     string
		playable bool
		visible  bool
		outside  bool
	}{
		{"/ws/index.html", true, true, true},
		{"/ws/page.HTM", true, true, true},
		{"/ws/css/style.css", true, true, true},
		{"/ws/app.js", true, true, true},
		{"/ws/notes.txt", false, true, true},
		{"/ws/.index.html.123.tmp", false, false, true},
		{"/ws/.hidden.css", true, false, true},
		{"/ws/node_modules/lib/index.js", true, true, false},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.playable, PlayableFilter(tc.path))
			assert.Equal(t, tc.visible, NoHiddenFilter(tc.path))
			assert.Equal(t, tc.outside, NoNodeModulesFilter(tc.path))
		})
	}
}

func TestDebouncerCoalesces(t *testing.T) {
	d := NewDebouncer(100 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Add(ChangeEvent{Type: EventTypeCreated, Path: "b.css"})
	d.Add(ChangeEvent{Type: EventTypeModified, Path: "a.html"})
	d.Add(ChangeEvent{Type: EventTypeModified, Path: "b.css"})
	d.Add(ChangeEvent{Type: EventTypeDeleted, Path: "a.html"})

	select {
	case batch := <-d.Output():
		assert.Equal(t, []ChangeEvent{
			{Type: EventTypeDeleted, Path: "a.html"},
			{Type: EventTypeModified, Path: "b.css"},
		}, batch)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch")
	}

	select {
	case batch := <-d.Output():
		t.Fatalf("unexpected second batch %v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFileWatcherAddFilterAndHandler(t *testing.T) {
	fw, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	fw.AddFilter(PlayableFilter)
	fw.AddFilter(NoHiddenFilter)
	assert.Len(t, fw.filters, 2)

	fw.AddHandler(func(context.Context, []ChangeEvent) error { return nil })
	assert.Len(t, fw.handlers, 1)
}

type recorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *recorder) handle(_ context.Context, events []ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, filepath.Base(e.Path))
	}
	return out
}

func TestFileWatcherReportsChanges(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "node_modules"), 0o755))

	fw, err := NewFileWatcher(20*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	fw.AddFilter(PlayableFilter)
	fw.AddFilter(NoHiddenFilter)
	fw.AddFilter(NoNodeModulesFilter)
	rec := &recorder{}
	fw.AddHandler(rec.handle)
	require.NoError(t, fw.AddRecursive(root))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "lib.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<p>1</p>"), 0o644))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"index.html"}, dedupe(rec.paths()))
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFileWatcherFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()

	fw, err := NewFileWatcher(20*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	fw.AddFilter(PlayableFilter)
	rec := &recorder{}
	fw.AddHandler(rec.handle)
	require.NoError(t, fw.AddRecursive(root))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))

	sub := filepath.Join(root, "css")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// The new directory is watched once its create event has been handled.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(sub, "style.css"), []byte(fmt.Sprint(time.Now().UnixNano())), 0o644)
		for _, p := range rec.paths() {
			if p == "style.css" {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

type fakeReloader struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fakeReloader) Reload(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return f.err
}

func TestReloadHandler(t *testing.T) {
	root := t.TempDir()
	r := &fakeReloader{}
	handle := ReloadHandler(root, r, nil)

	err := handle(context.Background(), []ChangeEvent{
		{Type: EventTypeModified, Path: filepath.Join(root, "index.html")},
		{Type: EventTypeCreated, Path: filepath.Join(root, "css", "style.css")},
		{Type: EventTypeDeleted, Path: filepath.Join(root, "app.js")},
		{Type: EventTypeRenamed, Path: filepath.Join(root, "old.js")},
		{Type: EventTypeModified, Path: filepath.Join(filepath.Dir(root), "elsewhere.html")},
		{Type: EventTypeModified, Path: root},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"index.html", "css/style.css"}, r.paths)
}

func TestReloadHandlerReportsFirstError(t *testing.T) {
	root := t.TempDir()
	boom := fmt.Errorf("boom")
	r := &fakeReloader{err: boom}
	handle := ReloadHandler(root, r, nil)

	err := handle(context.Background(), []ChangeEvent{
		{Type: EventTypeModified, Path: filepath.Join(root, "a.html")},
		{Type: EventTypeModified, Path: filepath.Join(root, "b.html")},
	})
	assert.Same(t, boom, err)
	assert.Len(t, r.paths, 2)
}
