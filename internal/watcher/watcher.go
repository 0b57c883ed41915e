// Package watcher notices files in the workspace changing outside the
// playground.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/codepad/internal/buffer"
	"github.com/conneroisu/codepad/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// FileWatcher watches directories and reports debounced batches of changes.
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	filters   []FileFilter
	handlers  []ChangeHandler
	mutex     sync.RWMutex
	logger    logging.Logger
}

// ChangeEvent represents a file change event.
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change.
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType.
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter reports whether changes to path are of interest.
type FileFilter func(path string) bool

// ChangeHandler handles a batch of change events.
type ChangeHandler func(ctx context.Context, events []ChangeEvent) error

// NewFileWatcher creates a watcher that waits for debounceDelay of quiet
// before reporting a batch.
func NewFileWatcher(debounceDelay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &FileWatcher{
		watcher:   w,
		debouncer: NewDebouncer(debounceDelay),
		logger:    logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a file filter. A change is reported only when every filter
// accepts it.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler.
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddRecursive watches root and every directory below it except hidden
// ones and node_modules. Directories created later are picked up as they
// appear.
func (fw *FileWatcher) AddRecursive(root string) error {
	abs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return fmt.Errorf("resolving %s: %w", root, err)
	}
	return filepath.Walk(abs, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != abs && skipDir(info.Name()) {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules"
}

// Start runs the watcher until ctx is done.
func (fw *FileWatcher) Start(ctx context.Context) error {
	go fw.debouncer.Run(ctx)
	go fw.processEvents(ctx)
	go fw.watchLoop(ctx)
	return nil
}

// Stop releases the underlying watches.
func (fw *FileWatcher) Stop() error {
	fw.debouncer.Stop()
	return fw.watcher.Close()
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(ctx context.Context, event fsnotify.Event) {
	info, statErr := os.Stat(event.Name)

	if event.Op&fsnotify.Create == fsnotify.Create && statErr == nil && info.IsDir() {
		if !skipDir(info.Name()) {
			if err := fw.AddRecursive(event.Name); err != nil {
				fw.logger.Warn(ctx, err, "Failed to watch new directory", "path", event.Name)
			}
		}
		return
	}

	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()
	for _, filter := range filters {
		if !filter(event.Name) {
			return
		}
	}

	var eventType EventType
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		eventType = EventTypeCreated
	case event.Op&fsnotify.Write == fsnotify.Write:
		eventType = EventTypeModified
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		eventType = EventTypeDeleted
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		eventType = EventTypeRenamed
	default:
		// chmod
		return
	}

	change := ChangeEvent{Type: eventType, Path: event.Name}
	if statErr == nil {
		change.ModTime = info.ModTime()
		change.Size = info.Size()
	}
	fw.debouncer.Add(change)
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.debouncer.Output():
			fw.mutex.RLock()
			handlers := fw.handlers
			fw.mutex.RUnlock()

			for _, handler := range handlers {
				if err := handler(ctx, events); err != nil {
					fw.logger.Warn(ctx, err, "File change handler failed", "events", len(events))
				}
			}
		}
	}
}

// Debouncer groups rapid file changes together. Within a batch only the
// last event per path is kept.
type Debouncer struct {
	delay   time.Duration
	events  chan ChangeEvent
	output  chan []ChangeEvent
	timer   *time.Timer
	pending []ChangeEvent
	mutex   sync.Mutex
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:  delay,
		events: make(chan ChangeEvent, 100),
		output: make(chan []ChangeEvent, 10),
	}
}

// Add queues an event. It drops the event when the queue is full.
func (d *Debouncer) Add(event ChangeEvent) {
	select {
	case d.events <- event:
	default:
	}
}

// Output delivers the debounced batches.
func (d *Debouncer) Output() <-chan []ChangeEvent {
	return d.output
}

// Run collects queued events until ctx is done.
func (d *Debouncer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.Stop()
			return
		case event := <-d.events:
			d.addEvent(event)
		}
	}
}

// Stop cancels a pending flush.
func (d *Debouncer) Stop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

func (d *Debouncer) addEvent(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending = append(d.pending, event)
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *Debouncer) flush() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.pending) == 0 {
		return
	}

	latest := make(map[string]ChangeEvent, len(d.pending))
	for _, event := range d.pending {
		latest[event.Path] = event
	}
	events := make([]ChangeEvent, 0, len(latest))
	for _, event := range latest {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	select {
	case d.output <- events:
	default:
	}
	d.pending = d.pending[:0]
}

// PlayableFilter accepts files that can be opened into a buffer.
func PlayableFilter(path string) bool {
	_, ok := buffer.KindForName(path)
	return ok
}

// NoHiddenFilter rejects dot files, including the temporary files written
// while saving.
func NoHiddenFilter(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}

// NoNodeModulesFilter rejects anything under node_modules.
func NoNodeModulesFilter(path string) bool {
	return !strings.Contains(filepath.ToSlash(path), "/node_modules/")
}
