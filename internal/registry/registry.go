// Package registry owns compiled templates: it compiles sources once per
// fingerprint, caches the results under LRU and TTL bounds, rejects import
// cycles, and dispatches renders.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/quill/internal/codegen"
	qerrors "github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/helpers"
	"github.com/conneroisu/quill/internal/loader"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/syntax"
)

// DefaultCapacity is the number of compiled templates kept when no
// capacity is configured.
const DefaultCapacity = 512

// Registry compiles, caches and renders templates. It is safe for
// concurrent use.
type Registry struct {
	cache    *templateCache
	graph    *importGraph
	loader   loader.Loader
	helpers  helpers.Lookup
	logger   logging.Logger
	now      func() time.Time
	group    singleflight.Group
	compiles int64

	watchMutex sync.Mutex
	watchers   []chan Event
}

// Event describes a change to the set of compiled templates.
type Event struct {
	Type      EventType
	Name      string
	Template  *Template
	Timestamp time.Time
}

// EventType represents the type of registry event
type EventType int

const (
	EventCompiled EventType = iota
	EventInstalled
	EventInvalidated
	EventEvicted
	EventCleared
)

func (t EventType) String() string {
	switch t {
	case EventCompiled:
		return "compiled"
	case EventInstalled:
		return "installed"
	case EventInvalidated:
		return "invalidated"
	case EventEvicted:
		return "evicted"
	case EventCleared:
		return "cleared"
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Stats is a point-in-time view of registry counters.
type Stats struct {
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Compiles  int64   `json:"compiles"`
	HitRate   float64 `json:"hit_rate"`
}

type options struct {
	loader   loader.Loader
	helpers  helpers.Lookup
	capacity int
	ttl      time.Duration
	clock    func() time.Time
	logger   logging.Logger
}

// Option configures a Registry.
type Option func(*options)

// WithLoader sets the source used by Render to fetch uncompiled templates
// and partials.
func WithLoader(l loader.Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithHelpers sets the helpers available to every render. Helpers passed to
// a render call take precedence.
func WithHelpers(h helpers.Lookup) Option {
	return func(o *options) { o.helpers = h }
}

// WithCapacity bounds the number of cached templates. n <= 0 removes the
// bound.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithTTL expires cached templates d after they were compiled.
func WithTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

// WithClock replaces the time source used for TTL and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a registry.
func New(opts ...Option) *Registry {
	o := options{capacity: DefaultCapacity, clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewNopLogger()
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	r := &Registry{
		cache:   newTemplateCache(o.capacity, o.ttl, o.clock),
		graph:   newImportGraph(),
		loader:  o.loader,
		helpers: o.helpers,
		logger:  o.logger.WithComponent("registry"),
		now:     o.clock,
	}
	r.cache.onEvict = r.evicted

	return r
}

// Compile compiles source under name, or returns the cached template when
// the fingerprint is unchanged. A new fingerprint replaces the cached entry
// on success; on failure the cache is left untouched.
func (r *Registry) Compile(ctx context.Context, name, source string) (*Template, error) {
	fp := Fingerprint(source)
	if t, ok := r.cache.peek(name); ok && t.Fingerprint == fp {
		return t, nil
	}

	v, err, _ := r.group.Do(name+"@"+fp, func() (interface{}, error) {
		// Another flight may have finished while this one was queued
		if t, ok := r.cache.peek(name); ok && t.Fingerprint == fp {
			return t, nil
		}
		return r.compile(ctx, name, source, fp)
	})
	if err != nil {
		return nil, err
	}

	return v.(*Template), nil
}

func (r *Registry) compile(ctx context.Context, name, source, fp string) (*Template, error) {
	perf := logging.StartOperation(r.logger, "compile")

	tmpl, err := r.build(ctx, name, source, fp)
	if err != nil {
		perf.EndWithError(ctx, err, "template", name)
		return nil, err
	}

	r.cache.put(tmpl)
	r.graph.set(name, tmpl.Imports)
	atomic.AddInt64(&r.compiles, 1)
	r.notify(Event{Type: EventCompiled, Name: name, Template: tmpl, Timestamp: tmpl.CompiledAt})
	perf.End(ctx, "template", name, "fingerprint", fp[:12])

	return tmpl, nil
}

// build runs the compiler pipeline without touching the cache.
func (r *Registry) build(ctx context.Context, name, source, fp string) (*Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, err := syntax.ParseString(source)
	if err != nil {
		return nil, stamp(err, name, source)
	}

	prog, err := codegen.Generate(root, codegen.Options{Helpers: r.helpers})
	if err != nil {
		return nil, stamp(err, name, source)
	}

	imports := syntax.Imports(root)
	if err := r.checkCycle(ctx, name, imports); err != nil {
		return nil, err
	}

	return &Template{
		Name:        name,
		Fingerprint: fp,
		Program:     prog,
		CompiledAt:  r.now(),
		Imports:     imports,
	}, nil
}

// stamp records the template name and, for errors located in the source,
// the line and column.
func stamp(err error, name, source string) error {
	var qe *qerrors.QuillError
	if !errors.As(err, &qe) {
		return err
	}
	qe.WithTemplate(name)
	if qe.Line == 0 && len(qe.Chain) == 0 && qerrors.IsCompileTime(qe) {
		qe.WithLocation(source)
	}

	return qe
}

// checkCycle rejects imports that lead back to name. Templates the graph
// has not seen are discovered through the loader by parsing only.
func (r *Registry) checkCycle(ctx context.Context, name string, imports []string) error {
	discovered := make(map[string][]string)
	next := func(ctx context.Context, n string) ([]string, error) {
		if n == name {
			return imports, nil
		}
		if deps, ok := r.graph.imports(n); ok {
			return deps, nil
		}
		if deps, ok := discovered[n]; ok {
			return deps, nil
		}
		deps, err := r.discover(ctx, n)
		if err != nil {
			return nil, err
		}
		discovered[n] = deps
		return deps, nil
	}

	cycle, err := findCycle(ctx, name, next)
	if err != nil {
		return err
	}
	if cycle != nil {
		return qerrors.NewCompileError(qerrors.ErrCodeImportCycle,
			fmt.Sprintf("template %q imports itself", name), cycle...).WithTemplate(name)
	}

	return nil
}

// discover returns the imports of a template that has not been compiled.
// Sources that are missing or do not parse contribute no edges; their own
// compile reports the problem.
func (r *Registry) discover(ctx context.Context, name string) ([]string, error) {
	if r.loader == nil {
		return nil, nil
	}

	source, err := r.loader.Load(ctx, name)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, nil
	}

	root, err := syntax.ParseString(source)
	if err != nil {
		return nil, nil
	}

	return syntax.Imports(root), nil
}

// Get returns the compiled template for name, loading and compiling it
// through the loader on a cache miss.
func (r *Registry) Get(ctx context.Context, name string) (*Template, error) {
	if t, ok := r.cache.get(name); ok {
		return t, nil
	}

	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		if t, ok := r.cache.peek(name); ok {
			return t, nil
		}
		source, err := r.load(ctx, name)
		if err != nil {
			return nil, err
		}
		return r.Compile(ctx, name, source)
	})
	if err != nil {
		return nil, err
	}

	return v.(*Template), nil
}

func (r *Registry) load(ctx context.Context, name string) (string, error) {
	if r.loader == nil {
		return "", qerrors.NewNotFoundError(name, loader.ErrNotFound)
	}

	source, err := r.loader.Load(ctx, name)
	if err != nil {
		if errors.Is(err, loader.ErrNotFound) {
			return "", qerrors.NewNotFoundError(name, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", qerrors.NewIOError(qerrors.ErrCodeInvalidPath,
			fmt.Sprintf("failed to load template %q", name), err).WithTemplate(name)
	}

	return source, nil
}

// Render renders the template name against data. hs, when non-nil, is
// consulted before the registry helpers.
func (r *Registry) Render(ctx context.Context, name string, data any, hs helpers.Lookup) (string, error) {
	tmpl, err := r.Get(ctx, name)
	if err != nil {
		return "", err
	}

	return r.RenderTemplate(ctx, tmpl, data, hs)
}

// RenderSource renders source under name, compiling it when the cached
// entry is missing or has a different fingerprint.
func (r *Registry) RenderSource(ctx context.Context, name, source string, data any, hs helpers.Lookup) (string, error) {
	tmpl, err := r.Compile(ctx, name, source)
	if err != nil {
		return "", err
	}

	return r.RenderTemplate(ctx, tmpl, data, hs)
}

// RenderTemplate renders an already compiled template. Partials it includes
// are resolved before execution begins.
func (r *Registry) RenderTemplate(ctx context.Context, tmpl *Template, data any, hs helpers.Lookup) (string, error) {
	if tmpl == nil || tmpl.Program == nil {
		return "", qerrors.NewInternalError(qerrors.ErrCodeBundleInvalid, "template has no program", nil)
	}

	partials, err := r.resolvePartials(ctx, tmpl)
	if err != nil {
		return "", err
	}

	out, err := tmpl.Program.Execute(data, r.lookup(hs), partials)
	if err != nil {
		var qe *qerrors.QuillError
		if errors.As(err, &qe) {
			qe.WithTemplate(tmpl.Name)
		}
		return "", err
	}

	return out, nil
}

func (r *Registry) lookup(hs helpers.Lookup) helpers.Lookup {
	switch {
	case hs == nil:
		return r.helpers
	case r.helpers == nil:
		return hs
	}

	return helpers.Chain{hs, r.helpers}
}

// resolvePartials fetches every partial reachable from tmpl. Partials the
// loader cannot supply, missing or invalid or unreadable, are left out so
// that execution reports them only when reached.
func (r *Registry) resolvePartials(ctx context.Context, tmpl *Template) (codegen.PartialMap, error) {
	queue := tmpl.Program.Partials()
	if len(queue) == 0 {
		return nil, nil
	}

	resolved := codegen.PartialMap{}
	seen := map[string]bool{tmpl.Name: true}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true

		partial, err := r.Get(ctx, name)
		if err != nil {
			if qerrors.IsNotFound(err) || qerrors.TypeOf(err) == qerrors.ErrorTypeIO {
				r.logger.Debug(ctx, "Partial unavailable", "template", tmpl.Name, "partial", name, "error", err)
				continue
			}
			return nil, err
		}
		resolved[name] = partial.Program
		queue = append(queue, partial.Program.Partials()...)
	}

	return resolved, nil
}

// Lookup returns the cached template for name without loading it.
func (r *Registry) Lookup(name string) (*Template, bool) {
	return r.cache.peek(name)
}

// Invalidate drops the compiled template for name. It reports whether an
// entry was removed.
func (r *Registry) Invalidate(name string) bool {
	removed := r.cache.delete(name)
	r.graph.remove(name)
	if removed {
		r.logger.Debug(context.Background(), "Template invalidated", "template", name)
		r.notify(Event{Type: EventInvalidated, Name: name, Timestamp: r.now()})
	}

	return removed
}

// Dependents returns the templates that include name directly or through
// other partials.
func (r *Registry) Dependents(name string) []string {
	return r.graph.dependents(name)
}

// Clear drops every compiled template.
func (r *Registry) Clear() {
	r.cache.clear()
	r.graph.clear()
	r.notify(Event{Type: EventCleared, Timestamp: r.now()})
}

// Install adds precompiled templates. The whole set is rejected if it
// would introduce an import cycle.
func (r *Registry) Install(templates ...*Template) error {
	overlay := make(map[string][]string, len(templates))
	for _, t := range templates {
		if t == nil || t.Program == nil || t.Name == "" {
			return qerrors.NewInternalError(qerrors.ErrCodeBundleInvalid, "template is missing a name or program", nil)
		}
		overlay[t.Name] = t.Program.Partials()
	}

	next := func(_ context.Context, n string) ([]string, error) {
		if deps, ok := overlay[n]; ok {
			return deps, nil
		}
		deps, _ := r.graph.imports(n)
		return deps, nil
	}
	for _, t := range templates {
		cycle, err := findCycle(context.Background(), t.Name, next)
		if err != nil {
			return err
		}
		if cycle != nil {
			return qerrors.NewCompileError(qerrors.ErrCodeImportCycle,
				fmt.Sprintf("template %q imports itself", t.Name), cycle...).WithTemplate(t.Name)
		}
	}

	for _, t := range templates {
		r.cache.put(t)
		r.graph.set(t.Name, overlay[t.Name])
		r.notify(Event{Type: EventInstalled, Name: t.Name, Template: t, Timestamp: r.now()})
	}
	r.logger.Debug(context.Background(), "Installed precompiled templates", "count", len(templates))

	return nil
}

// Templates returns the cached templates sorted by name.
func (r *Registry) Templates() []*Template {
	out := r.cache.snapshot()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Stats returns the registry counters.
func (r *Registry) Stats() Stats {
	hits := atomic.LoadInt64(&r.cache.hits)
	misses := atomic.LoadInt64(&r.cache.misses)
	s := Stats{
		Entries:   r.cache.len(),
		Hits:      hits,
		Misses:    misses,
		Evictions: atomic.LoadInt64(&r.cache.evictions),
		Compiles:  atomic.LoadInt64(&r.compiles),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}

	return s
}

func (r *Registry) evicted(name, reason string) {
	r.graph.remove(name)
	r.logger.Debug(context.Background(), "Template evicted", "template", name, "reason", reason)
	r.notify(Event{Type: EventEvicted, Name: name, Timestamp: r.now()})
}

// Watch returns a channel that receives registry events. Events are
// dropped for watchers that fall behind.
func (r *Registry) Watch() <-chan Event {
	r.watchMutex.Lock()
	defer r.watchMutex.Unlock()

	ch := make(chan Event, 100)
	r.watchers = append(r.watchers, ch)
	return ch
}

// Unwatch removes a watcher channel and closes it.
func (r *Registry) Unwatch(ch <-chan Event) {
	r.watchMutex.Lock()
	defer r.watchMutex.Unlock()

	for i, watcher := range r.watchers {
		if watcher == ch {
			close(watcher)
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			break
		}
	}
}

func (r *Registry) notify(event Event) {
	r.watchMutex.Lock()
	defer r.watchMutex.Unlock()

	for _, watcher := range r.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}
