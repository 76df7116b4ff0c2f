//go:build integration
// +build integration

package integration_tests

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/conneroisu/quill/internal/config"
	"github.com/conneroisu/quill/internal/helpers"
	"github.com/conneroisu/quill/internal/loader"
	"github.com/conneroisu/quill/internal/registry"
	"github.com/conneroisu/quill/internal/server"
	"github.com/conneroisu/quill/internal/testutils"
)

// E2ETestSystem is a preview server backed by a real template directory.
type E2ETestSystem struct {
	Dir      string
	Registry *registry.Registry
	Server   *server.PreviewServer
	BaseURL  string
	Port     int

	cancel context.CancelFunc
	done   chan error
}

func NewE2ETestSystem(t *testing.T, files map[string]string) *E2ETestSystem {
	t.Helper()

	dir := testutils.CreateTemplateDir(t, files)
	views := loader.NewDirLoader(dir, ".tpl")
	reg := registry.New(
		registry.WithLoader(views),
		registry.WithHelpers(helpers.Builtins(language.English)),
	)

	port := freePort(t)
	cfg := &config.Config{
		Server: config.ServerConfig{
			Host:       "localhost",
			Port:       port,
			LiveReload: true,
		},
	}
	srv := server.New(cfg, reg, views, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sys := &E2ETestSystem{
		Dir:      dir,
		Registry: reg,
		Server:   srv,
		BaseURL:  fmt.Sprintf("http://localhost:%d", port),
		Port:     port,
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() { sys.done <- srv.Start(ctx) }()

	t.Cleanup(sys.Stop)
	waitForServer(t, sys.BaseURL, 5*time.Second)

	return sys
}

func (s *E2ETestSystem) Stop() {
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
	}
}

func (s *E2ETestSystem) Render(t *testing.T, name, data string) (int, string) {
	t.Helper()

	resp, err := http.Get(s.BaseURL + "/render/" + name + "?data=" + url.QueryEscape(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func (s *E2ETestSystem) Connect(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()

	before := s.Server.ClientCount()
	header := http.Header{}
	header.Set("Origin", s.BaseURL)
	conn, _, err := websocket.Dial(ctx, "ws://localhost:"+fmt.Sprint(s.Port)+"/ws",
		&websocket.DialOptions{HTTPHeader: header})
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	require.Eventually(t, func() bool { return s.Server.ClientCount() > before },
		5*time.Second, 10*time.Millisecond)

	return conn
}

func (s *E2ETestSystem) Write(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(s.Dir, filepath.FromSlash(name))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// readUntil reads messages until one of type kind arrives. A single save can
// surface as several debounced batches, so earlier messages are skipped.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, kind string) server.UpdateMessage {
	t.Helper()

	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)

		var msg server.UpdateMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == kind {
			return msg
		}
	}
}

func (s *E2ETestSystem) EventuallyRenders(t *testing.T, name, data, want string) {
	t.Helper()

	require.Eventually(t, func() bool {
		status, body := s.Render(t, name, data)
		return status == http.StatusOK && strings.Contains(body, want)
	}, 5*time.Second, 50*time.Millisecond)
}

func TestE2E_EditPartialReloadsDependents(t *testing.T) {
	sys := NewE2ETestSystem(t, map[string]string{
		"page.tpl":         "<main>{{{ import partials/nav }}}</main>",
		"partials/nav.tpl": "<nav>{{{ each links as link }}}<a>{link}</a>{{{ end }}}</nav>",
	})

	status, body := sys.Render(t, "page", `{"links": ["home"]}`)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "<main><nav><a>home</a></nav></main>")
	assert.Equal(t, []string{"page"}, sys.Registry.Dependents("partials/nav"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn := sys.Connect(t, ctx)

	sys.Write(t, "partials/nav.tpl", "<nav>{{{ each links as link }}}<b>{upper(link)}</b>{{{ end }}}</nav>")

	msg := readUntil(t, ctx, conn, server.MessageReload)
	assert.Equal(t, []string{"page", "partials/nav"}, msg.Targets)

	sys.EventuallyRenders(t, "page", `{"links": ["home"]}`, "<main><nav><b>HOME</b></nav></main>")
}

func TestE2E_BrokenEditPushesError(t *testing.T) {
	sys := NewE2ETestSystem(t, map[string]string{
		"hello.tpl": "<p>Hello {name}</p>",
	})

	status, _ := sys.Render(t, "hello", `{"name": "Ada"}`)
	require.Equal(t, http.StatusOK, status)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn := sys.Connect(t, ctx)

	sys.Write(t, "hello.tpl", "<p>{{{ if name }}}unterminated</p>")

	msg := readUntil(t, ctx, conn, server.MessageError)
	assert.Equal(t, []string{"hello"}, msg.Targets)
	assert.Contains(t, msg.Content, "hello:")

	status, body := sys.Render(t, "hello", `{"name": "Ada"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, body, "hello:")

	sys.Write(t, "hello.tpl", "<p>Hi {name}</p>")
	sys.EventuallyRenders(t, "hello", `{"name": "Ada"}`, "<p>Hi Ada</p>")
}

func TestE2E_CacheEndpoints(t *testing.T) {
	sys := NewE2ETestSystem(t, testutils.StandardTemplates)

	status, _ := sys.Render(t, "button", `{"variant": "primary", "text": "Go"}`)
	require.Equal(t, http.StatusOK, status)

	resp, err := http.Get(sys.BaseURL + "/api/cache")
	require.NoError(t, err)
	var stats registry.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, 1, stats.Entries)

	req, err := http.NewRequest(http.MethodDelete, sys.BaseURL+"/api/cache", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, sys.Registry.Stats().Entries)
}
