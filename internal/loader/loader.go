// Package loader provides template sources for the registry: a directory
// loader for templates on disk and an in-memory loader for tests and
// embedding.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/conneroisu/quill/internal/validation"
)

// DefaultExt is the template file extension used when none is configured.
const DefaultExt = ".tpl"

// ErrNotFound reports that a loader has no source for a template name.
var ErrNotFound = errors.New("template source not found")

// Loader fetches template sources by logical name.
type Loader interface {
	Load(ctx context.Context, name string) (string, error)
}

// Lister is implemented by loaders that can enumerate their templates.
type Lister interface {
	Names(ctx context.Context) ([]string, error)
}

// DirLoader loads templates from files under Root. The logical name
// "partials/header" maps to Root/partials/header plus Ext.
type DirLoader struct {
	Root string
	Ext  string
}

// NewDirLoader creates a loader rooted at dir. An empty ext selects
// DefaultExt.
func NewDirLoader(dir, ext string) *DirLoader {
	if ext == "" {
		ext = DefaultExt
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	return &DirLoader{Root: dir, Ext: ext}
}

// Path returns the file that holds the template name.
func (l *DirLoader) Path(name string) (string, error) {
	if err := validation.ValidateTemplateName(name); err != nil {
		return "", fmt.Errorf("invalid template name: %w", err)
	}
	if !strings.HasSuffix(name, l.Ext) {
		name += l.Ext
	}

	return filepath.Join(l.Root, filepath.FromSlash(name)), nil
}

// Name maps a file path under Root back to its logical template name.
func (l *DirLoader) Name(path string) (string, bool) {
	if filepath.Ext(path) != l.Ext {
		return "", false
	}
	rel, err := filepath.Rel(l.Root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}

	return strings.TrimSuffix(filepath.ToSlash(rel), l.Ext), true
}

// Load implements Loader.
func (l *DirLoader) Load(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := l.Path(name)
	if err != nil {
		return "", err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("failed to read template %s: %w", name, err)
	}

	return string(content), nil
}

// Names implements Lister, returning every template under Root sorted.
func (l *DirLoader) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(l.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			// Skip hidden directories
			if path != l.Root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if name, ok := l.Name(path); ok {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk template directory %s: %w", l.Root, err)
	}
	sort.Strings(names)

	return names, nil
}

// MapLoader serves templates from memory. It is safe for concurrent use.
type MapLoader struct {
	sources map[string]string
	mutex   sync.RWMutex
}

// NewMapLoader creates a loader over a copy of sources.
func NewMapLoader(sources map[string]string) *MapLoader {
	m := &MapLoader{sources: make(map[string]string, len(sources))}
	for name, src := range sources {
		m.sources[name] = src
	}

	return m
}

// Set adds or replaces a source.
func (m *MapLoader) Set(name, source string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.sources[name] = source
}

// Delete removes a source.
func (m *MapLoader) Delete(name string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.sources, name)
}

// Load implements Loader.
func (m *MapLoader) Load(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	src, ok := m.sources[name]
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	return src, nil
}

// Names implements Lister.
func (m *MapLoader) Names(context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}
