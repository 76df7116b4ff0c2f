package watcher

import (
	"context"
	"sort"
	"time"

	"github.com/conneroisu/quill/internal/logging"
)

// DefaultDebounce is the quiet period before a batch of changes is handled.
const DefaultDebounce = 100 * time.Millisecond

// Invalidator drops compiled templates. *registry.Registry implements it.
type Invalidator interface {
	Invalidate(name string) bool
	Dependents(name string) []string
}

// Namer maps a file path to its logical template name.
// *loader.DirLoader implements it.
type Namer interface {
	Name(path string) (string, bool)
}

// InvalidateHandler returns a handler that invalidates the template behind
// every changed file. notify, when set, receives the changed templates and
// everything that includes them, sorted.
func InvalidateHandler(inv Invalidator, namer Namer, logger logging.Logger, notify func(names []string)) ChangeHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return func(events []ChangeEvent) error {
		affected := make(map[string]bool)
		for _, event := range events {
			name, ok := namer.Name(event.Path)
			if !ok {
				continue
			}
			affected[name] = true
			for _, dep := range inv.Dependents(name) {
				affected[dep] = true
			}
			removed := inv.Invalidate(name)
			logger.Debug(context.Background(), "Template source changed",
				"template", name, "change", event.Type.String(), "invalidated", removed)
		}
		if len(affected) == 0 || notify == nil {
			return nil
		}

		names := make([]string, 0, len(affected))
		for name := range affected {
			names = append(names, name)
		}
		sort.Strings(names)
		notify(names)

		return nil
	}
}

// WatchTemplates watches dir recursively for files with ext and invalidates
// their templates through inv. The returned watcher is already started.
func WatchTemplates(ctx context.Context, dir, ext string, inv Invalidator, namer Namer,
	logger logging.Logger, notify func(names []string)) (*FileWatcher, error) {
	fw, err := NewFileWatcher(DefaultDebounce, logger)
	if err != nil {
		return nil, err
	}

	fw.AddFilter(ExtFilter(ext))
	fw.AddFilter(NoHiddenFilter)
	fw.AddHandler(InvalidateHandler(inv, namer, logger, notify))

	if err := fw.AddRecursive(dir); err != nil {
		fw.Stop()
		return nil, err
	}
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return nil, err
	}

	return fw, nil
}
