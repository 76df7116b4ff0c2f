package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/quill/internal/validation"
	"github.com/conneroisu/quill/internal/version"
	"github.com/conneroisu/quill/internal/viewengine"
)

// maxDataSize bounds render context bodies.
const maxDataSize = 1 << 20

const indexName = "quill/index"

// indexSource lists the available templates. It is itself a quill template
// rendered through the registry.
const indexSource = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>quill preview</title></head>
<body>
<h1>Templates</h1>
<ul>
{{{ each templates as name }}}<li><a href="/render/{name}">{name}</a></li>
{{{ else }}}<li>No templates found in {dir}</li>
{{{ end }}}</ul>
</body>
</html>
`

const reloadScript = `<script>
(function() {
  var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.onmessage = function(e) {
    var msg = JSON.parse(e.data);
    if (msg.type === "reload") { location.reload(); }
    if (msg.type === "error") { console.error("quill: " + msg.content); }
  };
})();
</script>`

func (s *PreviewServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	names, err := s.views.Names(r.Context())
	if err != nil {
		s.logger.Warn(r.Context(), err, "Failed to list templates", "dir", s.views.Root)
	}

	data := map[string]any{"templates": names, "dir": s.views.Root}
	page, err := s.registry.RenderSource(r.Context(), indexName, indexSource, data, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeHTML(w, page)
}

// handleRender renders /render/{name}. The render context comes from the
// request body on POST, or the data query parameter, as JSON or YAML.
func (s *PreviewServer) handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/render/")
	if name == "" {
		http.Error(w, "Template name required", http.StatusBadRequest)
		return
	}
	if err := validation.ValidateTemplateName(name); err != nil {
		http.Error(w, fmt.Sprintf("Invalid template name: %v", err), http.StatusBadRequest)
		return
	}

	data, err := requestData(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid render data: %v", err), http.StatusBadRequest)
		return
	}

	s.engine.RenderFile(name, viewengine.Options{Data: data, Context: r.Context()}, func(err error, out string) {
		if err != nil {
			s.writeRenderError(w, r, name, err)
			return
		}
		s.writeHTML(w, out)
	})
}

// requestData decodes the render context of r. JSON documents are valid
// YAML, so one decoder serves both.
func requestData(r *http.Request) (any, error) {
	var raw []byte
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxDataSize+1))
		if err != nil {
			return nil, err
		}
		if len(body) > maxDataSize {
			return nil, fmt.Errorf("body exceeds %d bytes", maxDataSize)
		}
		raw = body
	} else if q := r.URL.Query().Get("data"); q != "" {
		raw = []byte(q)
	}

	if len(strings.TrimSpace(string(raw))) == 0 {
		return map[string]any{}, nil
	}

	var data any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	return data, nil
}

func (s *PreviewServer) writeRenderError(w http.ResponseWriter, r *http.Request, name string, err error) {
	status := viewengine.StatusCode(err)
	if status >= http.StatusInternalServerError && s.config.Server.LiveReload {
		// Keep the reload script on the error page so fixing the source
		// refreshes the browser.
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		page := fmt.Sprintf("<!DOCTYPE html><html><body><h1>%s</h1><pre>%s</pre>%s</body></html>",
			html.EscapeString(name), html.EscapeString(err.Error()), reloadScript)
		if _, werr := io.WriteString(w, page); werr != nil {
			s.logger.Debug(r.Context(), "Failed to write error page", "error", werr.Error())
		}
		return
	}

	http.Error(w, err.Error(), status)
}

func (s *PreviewServer) writeHTML(w http.ResponseWriter, page string) {
	if s.config.Server.LiveReload {
		page = injectReload(page)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, page)
}

// injectReload places the reload script before the closing body tag, or at
// the end of fragments that have none.
func injectReload(page string) string {
	if i := strings.LastIndex(strings.ToLower(page), "</body>"); i >= 0 {
		return page[:i] + reloadScript + page[i:]
	}

	return page + reloadScript
}

func (s *PreviewServer) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names, err := s.views.Names(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	compiled := make(map[string]bool)
	for _, t := range s.registry.Templates() {
		compiled[t.Name] = true
	}

	type entry struct {
		Name       string   `json:"name"`
		Compiled   bool     `json:"compiled"`
		Dependents []string `json:"dependents,omitempty"`
	}
	entries := make([]entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, entry{
			Name:       name,
			Compiled:   compiled[name],
			Dependents: s.registry.Dependents(name),
		})
	}

	s.writeJSON(w, r, entries)
}

func (s *PreviewServer) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, r, s.registry.Stats())
	case http.MethodDelete:
		s.registry.Clear()
		s.Reload(nil)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleHealth returns the server health status for health checks
func (s *PreviewServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"version":   version.Get().Short(),
		"checks": map[string]interface{}{
			"registry":  map[string]interface{}{"status": "healthy", "templates": s.registry.Stats().Entries},
			"websocket": map[string]interface{}{"status": "healthy", "clients": s.ClientCount()},
		},
	}

	s.writeJSON(w, r, health)
}

func (s *PreviewServer) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn(r.Context(), err, "Failed to encode response", "path", r.URL.Path)
	}
}
