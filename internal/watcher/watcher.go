// Package watcher turns filesystem changes under a template directory into
// debounced batches and invalidates the affected compiled templates.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/validation"
)

// FileWatcher delivers batches of template file changes to its handlers.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	batch    *batcher
	filters  []FileFilter
	handlers []ChangeHandler
	logger   logging.Logger
	mutex    sync.RWMutex
	stopOnce sync.Once
}

// ChangeEvent is the last change seen for one path within a batch.
type ChangeEvent struct {
	Type EventType
	Path string
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
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

// eventType maps an fsnotify operation onto an EventType. Chmod and
// combined writes count as modifications.
func eventType(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventTypeCreated
	case op.Has(fsnotify.Remove):
		return EventTypeDeleted
	case op.Has(fsnotify.Rename):
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}

// FileFilter determines if a file should be watched
type FileFilter func(path string) bool

// ChangeHandler handles file change events
type ChangeHandler func(events []ChangeEvent) error

// NewFileWatcher creates a watcher that waits for debounceDelay of quiet
// before handing a batch to its handlers. A nil logger discards output.
func NewFileWatcher(debounceDelay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	fw := &FileWatcher{
		watcher: watcher,
		logger:  logger.WithComponent("watcher"),
	}
	fw.batch = newBatcher(debounceDelay, fw.dispatch)

	return fw, nil
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddPath adds a path to watch
func (fw *FileWatcher) AddPath(path string) error {
	if err := validation.ValidatePath(path); err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	return fw.watcher.Add(filepath.Clean(path))
}

// AddRecursive adds a directory and all subdirectories to watch. Hidden
// directories are skipped.
func (fw *FileWatcher) AddRecursive(root string) error {
	if err := validation.ValidatePath(root); err != nil {
		return fmt.Errorf("invalid root path: %w", err)
	}
	cleanRoot := filepath.Clean(root)

	return filepath.WalkDir(cleanRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != cleanRoot && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

// Start begins watching. It returns immediately; watching stops when ctx is
// cancelled or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	go fw.watchLoop(ctx)
	return nil
}

// Stop discards pending changes and releases the watcher. It is safe to
// call more than once.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		fw.batch.stop()
		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			fw.batch.stop()
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(ctx, event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		// New directories are watched as they appear
		if event.Op.Has(fsnotify.Create) {
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

	fw.batch.add(ChangeEvent{Type: eventType(event.Op), Path: event.Name})
}

// dispatch runs every handler over one batch. Batches are delivered one at
// a time by the batcher.
func (fw *FileWatcher) dispatch(events []ChangeEvent) {
	fw.mutex.RLock()
	handlers := fw.handlers
	fw.mutex.RUnlock()

	for _, handler := range handlers {
		if err := handler(events); err != nil {
			fw.logger.Error(context.Background(), err, "File watcher handler error", "events", len(events))
		}
	}
}

// batcher collects changes until delay passes without a new one, then
// hands the batch, one event per path sorted by path, to deliver.
type batcher struct {
	delay   time.Duration
	deliver func([]ChangeEvent)

	mutex   sync.Mutex
	pending map[string]ChangeEvent
	timer   *time.Timer
	stopped bool

	// serializes deliveries from successive timers
	delivering sync.Mutex
}

func newBatcher(delay time.Duration, deliver func([]ChangeEvent)) *batcher {
	return &batcher{
		delay:   delay,
		deliver: deliver,
		pending: make(map[string]ChangeEvent),
	}
}

// add records event, replacing any earlier change to the same path, and
// restarts the quiet period.
func (b *batcher) add(event ChangeEvent) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.stopped {
		return
	}
	b.pending[event.Path] = event
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, b.fire)
}

// drain removes and returns the pending batch.
func (b *batcher) drain() []ChangeEvent {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	events := make([]ChangeEvent, 0, len(b.pending))
	for _, event := range b.pending {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	clear(b.pending)

	return events
}

func (b *batcher) fire() {
	b.delivering.Lock()
	defer b.delivering.Unlock()

	if events := b.drain(); len(events) > 0 && b.deliver != nil {
		b.deliver(events)
	}
}

func (b *batcher) stop() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
	}
	clear(b.pending)
}

// ExtFilter accepts files with the given extension.
func ExtFilter(ext string) FileFilter {
	return func(path string) bool {
		return filepath.Ext(path) == ext
	}
}

// NoHiddenFilter rejects dotfiles and editor swap files.
func NoHiddenFilter(path string) bool {
	base := filepath.Base(path)
	return !strings.HasPrefix(base, ".") && !strings.HasSuffix(base, "~")
}
