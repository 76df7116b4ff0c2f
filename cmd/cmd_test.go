package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/quill/internal/bundle"
	qerrors "github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/loader"
	"github.com/conneroisu/quill/internal/registry"
	"github.com/conneroisu/quill/internal/testutils"
	"github.com/conneroisu/quill/internal/version"
)

// run executes the CLI with args and returns its standard output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("QUILL_CONFIG_FILE", "")

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

var siteFiles = map[string]string{
	"index.tpl":         "<h1>{upper(title)}</h1>{{{ import partials/list }}}",
	"partials/list.tpl": "<ul>{{{ each items as item }}}<li>{item}</li>{{{ end }}}</ul>",
}

func TestRenderCommand(t *testing.T) {
	dir := testutils.CreateTemplateDir(t, siteFiles)
	dataFile := filepath.Join(t.TempDir(), "data.yml")
	require.NoError(t, os.WriteFile(dataFile, []byte("title: home\nitems: [a, <b>]\n"), 0644))

	t.Run("stdout", func(t *testing.T) {
		out, err := run(t, "render", "index", "-t", dir, "--data", dataFile)
		require.NoError(t, err)
		assert.Equal(t, "<h1>HOME</h1><ul><li>a</li><li>&lt;b&gt;</li></ul>", out)
	})

	t.Run("json data", func(t *testing.T) {
		jsonFile := filepath.Join(t.TempDir(), "data.json")
		require.NoError(t, os.WriteFile(jsonFile, []byte(`{"title": "json", "items": []}`), 0644))

		out, err := run(t, "render", "index", "-t", dir, "-d", jsonFile)
		require.NoError(t, err)
		assert.Equal(t, "<h1>JSON</h1><ul></ul>", out)
	})

	t.Run("output file", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "index.html")
		out, err := run(t, "render", "index", "-t", dir, "--data", dataFile, "-o", target)
		require.NoError(t, err)
		assert.Empty(t, out)

		content, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Contains(t, string(content), "<h1>HOME</h1>")
	})

	t.Run("missing template", func(t *testing.T) {
		_, err := run(t, "render", "nope", "-t", dir)
		require.Error(t, err)
		assert.True(t, qerrors.IsNotFound(err))
	})

	t.Run("data file extension", func(t *testing.T) {
		_, err := run(t, "render", "index", "-t", dir, "--data", "data.txt")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowed")
	})

	t.Run("name required", func(t *testing.T) {
		_, err := run(t, "render", "-t", dir)
		assert.Error(t, err)
	})
}

func TestCheckCommand(t *testing.T) {
	good := testutils.CreateTemplateDir(t, siteFiles)

	out, err := run(t, "check", good)
	require.NoError(t, err)
	assert.Equal(t, "checked 2 templates, 0 failed\n", out)

	bad := testutils.CreateTemplateDir(t, map[string]string{
		"ok.tpl":     "fine",
		"broken.tpl": "line one\n{{{ each }}}",
		"a.tpl":      "{{{ import b }}}",
		"b.tpl":      "{{{ import a }}}",
	})

	out, err = run(t, "check", bad, "--workers", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 of 4 templates failed")
	assert.Contains(t, out, "FAIL a: ")
	assert.Contains(t, out, "FAIL b: ")
	assert.Contains(t, out, "FAIL broken: ")
	assert.Contains(t, out, "broken:2:1")
	assert.NotContains(t, out, "FAIL ok")

	_, err = run(t, "check", good, "--workers", "0")
	assert.Error(t, err, "worker count is validated")
}

func TestPrecompileAndRenderBundle(t *testing.T) {
	dir := testutils.CreateTemplateDir(t, siteFiles)
	output := filepath.Join(t.TempDir(), "dist", "bundle.json")

	out, err := run(t, "precompile", dir, "-o", output, "-w", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 2 templates to "+output)

	templates, err := bundle.Load(output)
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "index", templates[0].Name)
	assert.Equal(t, []string{"partials/list"}, templates[0].Imports)

	// No sources on disk: everything comes from the bundle.
	empty := t.TempDir()
	dataFile := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(dataFile, []byte(`{"title":"b","items":["x"]}`), 0644))

	out, err = run(t, "render", "index", "-t", empty, "--bundle", output, "--data", dataFile)
	require.NoError(t, err)
	assert.Equal(t, "<h1>B</h1><ul><li>x</li></ul>", out)
}

func TestPrecompileFailsOnBrokenTemplate(t *testing.T) {
	dir := testutils.CreateTemplateDir(t, map[string]string{"bad.tpl": "{{{ if x }}}"})
	output := filepath.Join(t.TempDir(), "bundle.json")

	_, err := run(t, "precompile", dir, "-o", output)
	require.Error(t, err)
	assert.True(t, qerrors.IsParseError(err))
	assert.NoFileExists(t, output)
}

func TestConfigSources(t *testing.T) {
	dir := testutils.CreateTemplateDir(t, map[string]string{"hello.tpl": "hello {name}"})

	t.Run("config file", func(t *testing.T) {
		cfgPath := filepath.Join(t.TempDir(), "quill.yml")
		require.NoError(t, os.WriteFile(cfgPath, []byte("templates:\n  dir: "+dir+"\n"), 0644))

		out, err := run(t, "render", "hello", "--config", cfgPath)
		require.NoError(t, err)
		assert.Equal(t, "hello ", out)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("QUILL_TEMPLATES_DIR", dir)

		out, err := run(t, "render", "hello")
		require.NoError(t, err)
		assert.Equal(t, "hello ", out)
	})

	t.Run("missing explicit config", func(t *testing.T) {
		_, err := run(t, "render", "hello", "--config", filepath.Join(t.TempDir(), "missing.yml"))
		require.Error(t, err)
		assert.Equal(t, qerrors.ErrorTypeConfig, qerrors.TypeOf(err))
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := run(t, "render", "hello", "-t", dir, "--log-level", "loud")
		require.Error(t, err)
		assert.Equal(t, qerrors.ErrorTypeConfig, qerrors.TypeOf(err))
	})
}

func TestCompileAll(t *testing.T) {
	src := loader.NewMapLoader(map[string]string{
		"a":    "{{{ import b }}}",
		"b":    "{{{ import a }}}",
		"c":    "plain",
		"d":    "{{{ import c }}}",
		"oops": "{{{ end }}}",
	})
	reg := registry.New(registry.WithLoader(src))

	templates, collector := compileAll(context.Background(), reg, []string{"a", "b", "c", "d", "oops"}, 2)

	names := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		names = append(names, tmpl.Name)
	}
	assert.Equal(t, []string{"c", "d"}, names, "order follows the input")
	assert.Equal(t, []string{"a", "b", "oops"}, collector.Templates())

	err, ok := collector.Get("a")
	require.True(t, ok)
	assert.True(t, qerrors.IsCompileError(err))
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version", "--format", "json")
	require.NoError(t, err)

	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Get().Version, info.Version)

	out, err = run(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, version.Get().Version+"\n", out)

	out, err = run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "quill "))

	_, err = run(t, "version", "--format", "xml")
	assert.Error(t, err)
}

func TestLoadData(t *testing.T) {
	data, err := loadData("")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, data)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	data, err = loadData(empty)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, data)

	broken := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte("{"), 0644))
	_, err = loadData(broken)
	assert.Error(t, err)

	_, err = loadData(filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestFlagValidators(t *testing.T) {
	assert.NoError(t, ValidatePort("8080"))
	assert.Error(t, ValidatePort("70000"))
	assert.Error(t, ValidatePort("http"))
	assert.NoError(t, ValidateWorkers("1"))
	assert.Error(t, ValidateWorkers("0"))
	assert.NoError(t, ValidateDataFile(""))
	assert.Error(t, ValidateDataFile("data.toml"))
}
