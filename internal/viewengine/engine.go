// Package viewengine adapts the template registry to hosts that render views
// by file name and receive the result through a callback.
package viewengine

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"

	qerrors "github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/helpers"
	"github.com/conneroisu/quill/internal/loader"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/registry"
)

// Options carries the per-render inputs of RenderFile.
type Options struct {
	// Data is the render context.
	Data any
	// Helpers are consulted before the registry helpers.
	Helpers helpers.Lookup
	// Context bounds the render. Nil means context.Background.
	Context context.Context
}

// Callback receives the outcome of a render. out is empty when err is set.
type Callback func(err error, out string)

// Engine renders templates stored under a view directory.
type Engine struct {
	registry *registry.Registry
	views    *loader.DirLoader
	logger   logging.Logger
}

// New creates an engine over reg. views maps file paths to template names
// and may be nil when callers always pass logical names.
func New(reg *registry.Registry, views *loader.DirLoader, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Engine{
		registry: reg,
		views:    views,
		logger:   logger.WithComponent("viewengine"),
	}
}

// TemplateName maps file to the logical name it is registered under. Files
// under the view directory lose the directory and the extension; anything
// else only loses the extension.
func (e *Engine) TemplateName(file string) string {
	if e.views != nil {
		if name, ok := e.views.Name(file); ok {
			return name
		}
		return strings.TrimSuffix(filepath.ToSlash(file), e.views.Ext)
	}

	return strings.TrimSuffix(filepath.ToSlash(file), filepath.Ext(file))
}

// Render renders the template behind file with data.
func (e *Engine) Render(ctx context.Context, file string, data any) (string, error) {
	return e.registry.Render(ctx, e.TemplateName(file), data, nil)
}

// RenderFile renders file and hands the result to cb before returning.
func (e *Engine) RenderFile(file string, opts Options, cb Callback) {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	name := e.TemplateName(file)
	out, err := e.registry.Render(ctx, name, opts.Data, opts.Helpers)
	if err != nil {
		e.logger.Warn(ctx, err, "View render failed", "file", file, "template", name)
		cb(err, "")
		return
	}

	cb(nil, out)
}

// DataFunc builds the render context for a request.
type DataFunc func(r *http.Request) (any, error)

// Handler serves the template name as text/html. A nil data function
// renders with an empty context.
func (e *Engine) Handler(name string, data DataFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ctxData any
		if data != nil {
			d, err := data(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			ctxData = d
		}

		e.RenderFile(name, Options{Data: ctxData, Context: r.Context()}, func(err error, out string) {
			if err != nil {
				http.Error(w, err.Error(), StatusCode(err))
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(out))
		})
	})
}

// StatusCode maps a render error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case qerrors.IsNotFound(err):
		return http.StatusNotFound
	case qerrors.TypeOf(err) == qerrors.ErrorTypeIO:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
