// Package testutils holds fixtures shared by the quill test suites.
package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// CreateTemplateDir creates a temporary template directory holding files,
// keyed by slash-separated path relative to the directory.
func CreateTemplateDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		CreateTemplate(t, dir, name, content)
	}

	return dir
}

// CreateTemplate writes content to dir/name, creating parent directories,
// and returns the file path.
func CreateTemplate(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	return path
}

// StandardTemplates is a small site: a layout importing a nav and a card
// partial. Keys are file names with the .tpl extension.
var StandardTemplates = map[string]string{
	"layout.tpl": `<!DOCTYPE html>
<html>
<head><title>{title}</title></head>
<body>{{{ import partials/nav }}}<main>{{body}}</main></body>
</html>`,
	"partials/nav.tpl": `<nav>{{{ each links as link, i }}}<a href="{link.href}"{{{ if @first }}} class="first"{{{ end }}}>{link.label}</a>{{{ end }}}</nav>`,
	"partials/card.tpl": `<div class="card"><h3>{title}</h3>{{{ if content }}}<p>{content}</p>{{{ else }}}<p>empty</p>{{{ end }}}</div>`,
	"button.tpl":        `<button class="btn btn-{variant}">{text}</button>`,
}

// SecurityTestCases provides common security test vectors. Every entry is
// a template name or path that must be rejected.
var SecurityTestCases = struct {
	PathTraversal    []string
	CommandInjection []string
	ScriptInjection  []string
}{
	PathTraversal: []string{
		"../../../etc/passwd",
		"..\\..\\..\\windows\\system32\\config\\sam",
		"/%2e%2e/%2e%2e/%2e%2e/etc/passwd",
		"/./../../etc/passwd",
		"../../../../../etc/passwd",
		"partials/../../secret",
	},
	CommandInjection: []string{
		"template; rm -rf /",
		"template && rm -rf /",
		"template | rm -rf /",
		"template`rm -rf /`",
		"template$(rm -rf /)",
		"template & del /s /q C:",
	},
	ScriptInjection: []string{
		"<script>alert('xss')</script>",
		"template<script>",
		"<img src=x onerror=alert('xss')>",
		"template\x00.tpl",
	},
}

// AssertFilePermissions checks that files have secure permissions
func AssertFilePermissions(t *testing.T, path string, expectedMode os.FileMode) {
	t.Helper()

	info, err := os.Stat(path)
	require.NoError(t, err)

	actualMode := info.Mode()
	require.Equal(t, expectedMode, actualMode&os.FileMode(0777),
		"File %s has incorrect permissions: got %o, want %o",
		path, actualMode&os.FileMode(0777), expectedMode)
}
