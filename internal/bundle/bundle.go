// Package bundle stores precompiled templates on disk so a process can
// install them into a registry without parsing any source.
package bundle

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	qerrors "github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/registry"
)

// FormatVersion is the bundle layout written by this package. Bundles
// with any other version are rejected.
const FormatVersion = 1

// Bundle is the serialised form of a set of compiled templates.
type Bundle struct {
	Version   int                  `json:"version"`
	CreatedAt time.Time            `json:"created_at"`
	Templates []*registry.Template `json:"templates"`
}

// Write encodes templates as a bundle, sorted by name.
func Write(w io.Writer, templates []*registry.Template) error {
	sorted := make([]*registry.Template, len(templates))
	copy(sorted, templates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	b := Bundle{Version: FormatVersion, CreatedAt: time.Now().UTC(), Templates: sorted}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&b); err != nil {
		return fmt.Errorf("failed to encode bundle: %w", err)
	}

	return nil
}

// Read decodes a bundle and validates its templates.
func Read(r io.Reader) ([]*registry.Template, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, qerrors.NewInternalError(qerrors.ErrCodeBundleInvalid, "failed to decode bundle", err)
	}

	if b.Version != FormatVersion {
		return nil, qerrors.NewInternalError(qerrors.ErrCodeBundleInvalid,
			fmt.Sprintf("unsupported bundle version %d, want %d", b.Version, FormatVersion), nil)
	}

	seen := make(map[string]bool, len(b.Templates))
	for i, t := range b.Templates {
		switch {
		case t == nil || t.Name == "":
			return nil, qerrors.NewInternalError(qerrors.ErrCodeBundleInvalid,
				fmt.Sprintf("bundle entry %d has no name", i), nil)
		case t.Program == nil:
			return nil, qerrors.NewInternalError(qerrors.ErrCodeBundleInvalid,
				fmt.Sprintf("bundle entry %q has no program", t.Name), nil)
		case seen[t.Name]:
			return nil, qerrors.NewInternalError(qerrors.ErrCodeBundleInvalid,
				fmt.Sprintf("bundle entry %q appears twice", t.Name), nil)
		}
		seen[t.Name] = true
	}

	return b.Templates, nil
}

// Save writes templates to path, replacing any existing file only once the
// new bundle is fully written.
func Save(path string, templates []*registry.Template) error {
	// Ensure output directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return qerrors.NewIOError(qerrors.ErrCodeInvalidPath, "failed to create bundle directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".bundle-*")
	if err != nil {
		return qerrors.NewIOError(qerrors.ErrCodeInvalidPath, "failed to create bundle file", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, templates); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return qerrors.NewIOError(qerrors.ErrCodeInvalidPath, "failed to write bundle file", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return qerrors.NewIOError(qerrors.ErrCodeInvalidPath, "failed to set bundle permissions", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return qerrors.NewIOError(qerrors.ErrCodeInvalidPath, "failed to move bundle into place", err)
	}

	return nil
}

// Load reads the bundle at path.
func Load(path string) ([]*registry.Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, qerrors.NewIOError(qerrors.ErrCodeInvalidPath, fmt.Sprintf("failed to open bundle %s", path), err)
	}
	defer f.Close()

	return Read(f)
}

// Install loads the bundle at path into reg and returns the number of
// templates installed.
func Install(path string, reg *registry.Registry) (int, error) {
	templates, err := Load(path)
	if err != nil {
		return 0, err
	}
	if err := reg.Install(templates...); err != nil {
		return 0, err
	}

	return len(templates), nil
}
