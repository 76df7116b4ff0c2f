package registry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	qerrors "github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/helpers"
	"github.com/conneroisu/quill/internal/loader"
)

// countingLoader records how often each template is loaded.
type countingLoader struct {
	loader.Loader
	loads sync.Map
}

func (c *countingLoader) Load(ctx context.Context, name string) (string, error) {
	n, _ := c.loads.LoadOrStore(name, new(int64))
	atomic.AddInt64(n.(*int64), 1)
	return c.Loader.Load(ctx, name)
}

func (c *countingLoader) count(name string) int64 {
	n, ok := c.loads.Load(name)
	if !ok {
		return 0
	}
	return atomic.LoadInt64(n.(*int64))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRenderFromLoader(t *testing.T) {
	ctx := context.Background()
	src := loader.NewMapLoader(map[string]string{
		"page":   "<{{{ import header }}}|{body}>",
		"header": "H:{title}",
	})
	r := New(WithLoader(src))

	out, err := r.Render(ctx, "page", map[string]any{"title": "T", "body": "B"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "<H:T|B>", out)

	stats := r.Stats()
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(2), stats.Compiles)

	names := make([]string, 0)
	for _, tmpl := range r.Templates() {
		names = append(names, tmpl.Name)
	}
	assert.Equal(t, []string{"header", "page"}, names)
}

func TestConcurrentColdRendersCompileOnce(t *testing.T) {
	ctx := context.Background()
	src := &countingLoader{Loader: loader.NewMapLoader(map[string]string{
		"home": "{{{ each items }}}<{@value}>{{{ end }}}",
	})}
	r := New(WithLoader(src))

	const workers = 32
	outputs := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outputs[i], errs[i] = r.Render(ctx, "home", map[string]any{"items": []int{1, 2}}, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "<1><2>", outputs[i])
	}
	assert.Equal(t, int64(1), r.Stats().Compiles)
	assert.Equal(t, int64(1), src.count("home"))
}

func TestCompileIsStablePerFingerprint(t *testing.T) {
	ctx := context.Background()
	r := New()

	first, err := r.Compile(ctx, "a", "hello {name}")
	require.NoError(t, err)
	second, err := r.Compile(ctx, "a", "hello {name}")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, Fingerprint("hello {name}"), first.Fingerprint)

	third, err := r.Compile(ctx, "a", "bye {name}")
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	cached, ok := r.Lookup("a")
	require.True(t, ok)
	assert.Same(t, third, cached)
	assert.Equal(t, int64(2), r.Stats().Compiles)
}

func TestRenderSourceRecompilesOnChange(t *testing.T) {
	ctx := context.Background()
	r := New()
	data := map[string]any{"n": "x"}

	out, err := r.RenderSource(ctx, "s", "1{n}", data, nil)
	require.NoError(t, err)
	assert.Equal(t, "1x", out)

	out, err = r.RenderSource(ctx, "s", "1{n}", data, nil)
	require.NoError(t, err)
	assert.Equal(t, "1x", out)
	assert.Equal(t, int64(1), r.Stats().Compiles)

	out, err = r.RenderSource(ctx, "s", "2{n}", data, nil)
	require.NoError(t, err)
	assert.Equal(t, "2x", out)
	assert.Equal(t, int64(2), r.Stats().Compiles)
}

func TestEvictionDoesNotChangeOutput(t *testing.T) {
	ctx := context.Background()
	src := loader.NewMapLoader(map[string]string{
		"a": "A{v}",
		"b": "B{v}",
	})
	r := New(WithLoader(src), WithCapacity(1))
	data := map[string]any{"v": "!"}

	before, err := r.Render(ctx, "a", data, nil)
	require.NoError(t, err)
	_, err = r.Render(ctx, "b", data, nil)
	require.NoError(t, err)

	_, ok := r.Lookup("a")
	assert.False(t, ok, "a should have been evicted")

	after, err := r.Render(ctx, "a", data, nil)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	stats := r.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(2), stats.Evictions)
	assert.Equal(t, int64(3), stats.Compiles)
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	src := loader.NewMapLoader(map[string]string{"t": "v1"})
	r := New(WithLoader(src), WithTTL(time.Minute), WithClock(clock.Now))

	out, err := r.Render(ctx, "t", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "v1", out)

	src.Set("t", "v2")
	clock.Advance(30 * time.Second)
	out, err = r.Render(ctx, "t", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "v1", out, "entry is still fresh")

	clock.Advance(31 * time.Second)
	out, err = r.Render(ctx, "t", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", out, "entry expired and was reloaded")

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(2), stats.Compiles)
}

func TestImportCycleThroughLoader(t *testing.T) {
	ctx := context.Background()
	src := loader.NewMapLoader(map[string]string{
		"A": "a{{{ import B }}}",
		"B": "b{{{ import A }}}",
	})
	r := New(WithLoader(src))

	_, err := r.Render(ctx, "A", nil, nil)
	require.Error(t, err)
	assert.True(t, qerrors.IsCompileError(err))

	var qe *qerrors.QuillError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, qerrors.ErrCodeImportCycle, qe.Code)
	assert.Equal(t, []string{"A", "B", "A"}, qe.Chain)
	assert.Equal(t, 0, r.Stats().Entries)
}

func TestImportCycleThroughGraph(t *testing.T) {
	ctx := context.Background()
	r := New()

	_, err := r.Compile(ctx, "A", "{{{ import B }}}")
	require.NoError(t, err)
	_, err = r.Compile(ctx, "B", "{{{ import C }}}")
	require.NoError(t, err)

	_, err = r.Compile(ctx, "C", "{{{ import A }}}")
	var qe *qerrors.QuillError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, qerrors.ErrCodeImportCycle, qe.Code)
	assert.Equal(t, []string{"C", "A", "B", "C"}, qe.Chain)

	_, ok := r.Lookup("C")
	assert.False(t, ok)
}

func TestSelfImportIsACycle(t *testing.T) {
	_, err := New().Compile(context.Background(), "loop", "{{{ import loop }}}")
	var qe *qerrors.QuillError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, []string{"loop", "loop"}, qe.Chain)
}

func TestFailedCompileDoesNotPoisonCache(t *testing.T) {
	ctx := context.Background()
	r := New()

	good, err := r.Compile(ctx, "t", "ok {x}")
	require.NoError(t, err)

	_, err = r.Compile(ctx, "t", "line one\n{{{ if x }}}never closed")
	require.Error(t, err)
	assert.True(t, qerrors.IsParseError(err))

	var qe *qerrors.QuillError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, qerrors.ErrCodeUnclosedBlock, qe.Code)
	assert.Equal(t, "t", qe.Template)
	assert.Equal(t, 2, qe.Line)
	assert.Equal(t, 1, qe.Column)

	cached, ok := r.Lookup("t")
	require.True(t, ok)
	assert.Same(t, good, cached)

	out, err := r.RenderTemplate(ctx, cached, map[string]any{"x": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok 1", out)
}

func TestBrokenSourceCanBeFixed(t *testing.T) {
	ctx := context.Background()
	src := loader.NewMapLoader(map[string]string{"t": "{{{ each }}}"})
	r := New(WithLoader(src))

	_, err := r.Render(ctx, "t", nil, nil)
	require.Error(t, err)
	assert.True(t, qerrors.IsCompileTime(err))
	assert.Equal(t, 0, r.Stats().Entries)

	src.Set("t", "fixed")
	out, err := r.Render(ctx, "t", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "fixed", out)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()

	_, err := New().Render(ctx, "nothing", nil, nil)
	assert.True(t, qerrors.IsNotFound(err))

	r := New(WithLoader(loader.NewMapLoader(nil)))
	_, err = r.Render(ctx, "nothing", nil, nil)
	assert.True(t, qerrors.IsNotFound(err))
	assert.ErrorIs(t, err, loader.ErrNotFound)
}

func TestPartialNotFoundOnlyWhenReached(t *testing.T) {
	ctx := context.Background()
	src := loader.NewMapLoader(map[string]string{
		"page": "[{{{ if show }}}{{{ import missing }}}{{{ end }}}]",
	})
	r := New(WithLoader(src))

	out, err := r.Render(ctx, "page", map[string]any{"show": false}, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	_, err = r.Render(ctx, "page", map[string]any{"show": true}, nil)
	require.Error(t, err)
	assert.True(t, qerrors.IsPartialNotFound(err))

	var qe *qerrors.QuillError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "page", qe.Template)
}

// failingLoader fails every load of the names in broken.
type failingLoader struct {
	loader.Loader
	broken map[string]bool
}

func (f *failingLoader) Load(ctx context.Context, name string) (string, error) {
	if f.broken[name] {
		return "", errors.New("permission denied")
	}
	return f.Loader.Load(ctx, name)
}

func TestUnreadablePartialOnlyFailsWhenReached(t *testing.T) {
	ctx := context.Background()
	src := &failingLoader{
		Loader: loader.NewMapLoader(map[string]string{
			"page": "[{{{ if show }}}{{{ import locked }}}{{{ end }}}]",
		}),
		broken: map[string]bool{"locked": true},
	}
	r := New(WithLoader(src))

	out, err := r.Render(ctx, "page", map[string]any{"show": false}, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	_, err = r.Render(ctx, "page", map[string]any{"show": true}, nil)
	require.Error(t, err)
	assert.True(t, qerrors.IsPartialNotFound(err))
}

func TestTruncateWithHugeLengthRenders(t *testing.T) {
	ctx := context.Background()
	r := New(WithHelpers(helpers.Builtins(language.English)))

	for _, length := range []string{"1e300", "1e19"} {
		out, err := r.RenderSource(ctx, "t", `{truncate(name, "`+length+`")}`, map[string]any{"name": "hello"}, nil)
		require.NoError(t, err, length)
		assert.Equal(t, "hello", out, length)
	}

	_, err := r.RenderSource(ctx, "t", `{truncate(name, "NaN")}`, map[string]any{"name": "hello"}, nil)
	assert.Error(t, err)
}

func TestNestedPartialsAreResolved(t *testing.T) {
	ctx := context.Background()
	src := loader.NewMapLoader(map[string]string{
		"page":          "{{{ each users }}}{{{ import partials/card }}}{{{ end }}}",
		"partials/card": "<{{{ import partials/name with name }}}>",
		"partials/name": "{upper(@value)}",
	})
	r := New(WithLoader(src), WithHelpers(helpers.Builtins(language.English)))

	out, err := r.Render(ctx, "page", map[string]any{
		"users": []any{map[string]any{"name": "ada"}, map[string]any{"name": "bob"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "<ADA><BOB>", out)
}

func TestPartialErrorNamesInnerTemplate(t *testing.T) {
	ctx := context.Background()
	src := loader.NewMapLoader(map[string]string{
		"outer": "{{{ import inner }}}",
		"inner": "{nope()}",
	})
	r := New(WithLoader(src))

	_, err := r.Render(ctx, "outer", nil, nil)
	require.Error(t, err)
	assert.True(t, qerrors.IsHelperNotFound(err))

	var qe *qerrors.QuillError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "inner", qe.Template)
}

func TestHelperResolution(t *testing.T) {
	ctx := context.Background()
	base := helpers.NewRegistry()
	base.MustRegister("greet", func(args ...any) (any, error) { return "hello", nil })
	r := New(WithHelpers(base))

	out, err := r.RenderSource(ctx, "h", "{greet()}", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	override := helpers.Map{"greet": func(args ...any) (any, error) { return "hi", nil }}
	out, err = r.RenderSource(ctx, "h", "{greet()}", nil, override)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = r.RenderSource(ctx, "missing", "{shout()}", nil, nil)
	assert.True(t, qerrors.IsHelperNotFound(err))
}

func TestRenderErrorsAreIsolated(t *testing.T) {
	ctx := context.Background()
	hs := helpers.Map{"check": func(args ...any) (any, error) {
		if args[0] == "bad" {
			return nil, errors.New("refused")
		}
		return args[0], nil
	}}
	r := New(WithHelpers(hs))
	tmpl, err := r.Compile(ctx, "c", "{check(v)}")
	require.NoError(t, err)

	_, err = r.RenderTemplate(ctx, tmpl, map[string]any{"v": "bad"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")

	out, err := r.RenderTemplate(ctx, tmpl, map[string]any{"v": "good"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "good", out)
	assert.Equal(t, 1, r.Stats().Entries)
}

func TestInvalidateAndClear(t *testing.T) {
	ctx := context.Background()
	r := New()
	_, err := r.Compile(ctx, "header", "H")
	require.NoError(t, err)
	_, err = r.Compile(ctx, "page", "{{{ import header }}}")
	require.NoError(t, err)
	_, err = r.Compile(ctx, "site", "{{{ import page }}}")
	require.NoError(t, err)

	assert.Equal(t, []string{"page", "site"}, r.Dependents("header"))

	assert.True(t, r.Invalidate("header"))
	assert.False(t, r.Invalidate("header"))
	_, ok := r.Lookup("header")
	assert.False(t, ok)

	r.Clear()
	assert.Equal(t, 0, r.Stats().Entries)
	assert.Empty(t, r.Templates())
}

func TestInstallPrecompiled(t *testing.T) {
	ctx := context.Background()
	source := New()
	_, err := source.Compile(ctx, "card", "<{name}>")
	require.NoError(t, err)
	_, err = source.Compile(ctx, "list", "{{{ each people }}}{{{ import card }}}{{{ end }}}")
	require.NoError(t, err)

	encoded, err := json.Marshal(source.Templates())
	require.NoError(t, err)
	var decoded []*Template
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	r := New()
	require.NoError(t, r.Install(decoded...))
	assert.Equal(t, int64(0), r.Stats().Compiles)

	out, err := r.Render(ctx, "list", map[string]any{"people": []any{
		map[string]any{"name": "a"}, map[string]any{"name": "b"},
	}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "<a><b>", out)
	assert.Equal(t, int64(0), r.Stats().Compiles)
}

func TestInstallRejectsCyclesAndInvalid(t *testing.T) {
	ctx := context.Background()
	scratch := New()
	a, err := scratch.Compile(ctx, "A", "{{{ import B }}}")
	require.NoError(t, err)
	b, err := scratch.Compile(ctx, "B", "{{{ import A }}}.")
	require.Error(t, err)
	assert.Nil(t, b)

	other := New()
	b, err = other.Compile(ctx, "B", "{{{ import A }}}")
	require.NoError(t, err)

	r := New()
	err = r.Install(a, b)
	assert.True(t, qerrors.IsCompileError(err))
	assert.Equal(t, 0, r.Stats().Entries)

	err = r.Install(&Template{Name: "x"})
	assert.Error(t, err)
}

func TestWatchEvents(t *testing.T) {
	ctx := context.Background()
	r := New()
	events := r.Watch()

	_, err := r.Compile(ctx, "t", "x")
	require.NoError(t, err)
	r.Invalidate("t")

	var got []EventType
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			assert.Equal(t, "t", ev.Name)
			got = append(got, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, []EventType{EventCompiled, EventInvalidated}, got)

	r.Unwatch(events)
	_, open := <-events
	assert.False(t, open)
}

func TestCancelledContext(t *testing.T) {
	cctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(WithLoader(loader.NewMapLoader(map[string]string{"t": "x"})))
	_, err := r.Render(cctx, "t", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, r.Stats().Entries)
}

func TestHitRate(t *testing.T) {
	ctx := context.Background()
	r := New(WithLoader(loader.NewMapLoader(map[string]string{"t": strings.Repeat("x", 3)})))
	for i := 0; i < 4; i++ {
		_, err := r.Render(ctx, "t", nil, nil)
		require.NoError(t, err)
	}

	stats := r.Stats()
	assert.Equal(t, int64(3), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.75, stats.HitRate, 0.0001)
}
