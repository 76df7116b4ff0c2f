// Package server provides the quill preview server: it renders templates
// from the configured directory over HTTP and pushes reload notifications to
// connected browsers over a websocket when template sources change.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/quill/internal/config"
	qerrors "github.com/conneroisu/quill/internal/errors"
	"github.com/conneroisu/quill/internal/loader"
	"github.com/conneroisu/quill/internal/logging"
	"github.com/conneroisu/quill/internal/registry"
	"github.com/conneroisu/quill/internal/version"
	"github.com/conneroisu/quill/internal/viewengine"
	"github.com/conneroisu/quill/internal/watcher"
)

// Client represents a WebSocket client
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *PreviewServer
}

// PreviewServer serves templates with live reload capability
type PreviewServer struct {
	config       *config.Config
	registry     *registry.Registry
	views        *loader.DirLoader
	engine       *viewengine.Engine
	logger       logging.Logger
	httpServer   *http.Server
	serverMutex  sync.RWMutex // Protects httpServer and watcher
	watcher      *watcher.FileWatcher
	clients      map[*websocket.Conn]*Client
	clientsMutex sync.RWMutex
	broadcast    chan []byte
	register     chan *Client
	unregister   chan *websocket.Conn
	hubDone      chan struct{}
	hubOnce      sync.Once
	stopHub      context.CancelFunc
	started      time.Time
	shutdownOnce sync.Once
}

// UpdateMessage represents a message sent to the browser
type UpdateMessage struct {
	Type      string    `json:"type"`
	Targets   []string  `json:"targets,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Message types pushed to browsers.
const (
	MessageReload = "reload"
	MessageError  = "error"
)

// New creates a preview server rendering templates from views through reg.
func New(cfg *config.Config, reg *registry.Registry, views *loader.DirLoader, logger logging.Logger) *PreviewServer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("server")

	return &PreviewServer{
		config:     cfg,
		registry:   reg,
		views:      views,
		engine:     viewengine.New(reg, views, logger),
		logger:     logger,
		clients:    make(map[*websocket.Conn]*Client),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn),
		hubDone:    make(chan struct{}),
		started:    time.Now(),
	}
}

// Start runs the server until ctx is cancelled or Shutdown is called.
func (s *PreviewServer) Start(ctx context.Context) error {
	s.startHub(ctx)

	if s.config.Server.LiveReload {
		fw, err := watcher.WatchTemplates(ctx, s.views.Root, s.views.Ext, s.registry, s.views, s.logger, s.templatesChanged)
		if err != nil {
			s.logger.Warn(ctx, err, "Live reload disabled", "dir", s.views.Root)
		} else {
			s.serverMutex.Lock()
			s.watcher = fw
			s.serverMutex.Unlock()
		}
	}

	addr := s.config.Address()
	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "Preview server listening", "addr", "http://"+addr,
		"templates", s.views.Root, "live_reload", s.config.Server.LiveReload)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Handler returns the server routes wrapped in middleware.
func (s *PreviewServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/render/", s.handleRender)
	mux.HandleFunc("/api/templates", s.handleTemplates)
	mux.HandleFunc("/api/cache", s.handleCache)
	mux.HandleFunc("/", s.handleIndex)

	return s.addMiddleware(mux)
}

// startHub launches the websocket hub once.
func (s *PreviewServer) startHub(ctx context.Context) {
	s.hubOnce.Do(func() {
		hubCtx, cancel := context.WithCancel(ctx)
		s.stopHub = cancel
		go s.runWebSocketHub(hubCtx)
	})
}

func (s *PreviewServer) addMiddleware(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Server", version.UserAgent())

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		start := time.Now()
		handler.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "Request served",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// templatesChanged recompiles the changed templates so authors see syntax
// errors in the browser, then asks every page to reload.
func (s *PreviewServer) templatesChanged(names []string) {
	ctx := context.Background()
	for _, name := range names {
		if _, err := s.registry.Get(ctx, name); err != nil && !qerrors.IsNotFound(err) {
			s.logger.Warn(ctx, err, "Changed template does not compile", "template", name)
			s.broadcastMessage(UpdateMessage{
				Type:      MessageError,
				Targets:   []string{name},
				Content:   err.Error(),
				Timestamp: time.Now(),
			})
		}
	}

	s.Reload(names)
}

// Reload tells connected browsers that the named templates changed.
func (s *PreviewServer) Reload(names []string) {
	s.broadcastMessage(UpdateMessage{
		Type:      MessageReload,
		Targets:   names,
		Timestamp: time.Now(),
	})
}

func (s *PreviewServer) broadcastMessage(msg UpdateMessage) {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error(context.Background(), err, "Failed to marshal message")
		jsonData = []byte(`{"type":"reload"}`)
	}

	select {
	case s.broadcast <- jsonData:
	case <-s.hubDone:
	}
}

// ClientCount returns the number of connected websocket clients.
func (s *PreviewServer) ClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()

	return len(s.clients)
}

// Shutdown gracefully shuts down the server and cleans up resources
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "Shutting down preview server")

		s.serverMutex.RLock()
		fw := s.watcher
		server := s.httpServer
		s.serverMutex.RUnlock()

		if fw != nil {
			if err := fw.Stop(); err != nil {
				s.logger.Warn(ctx, err, "Failed to stop file watcher")
			}
		}

		// The hub closes every client on its way out.
		if s.stopHub != nil {
			s.stopHub()
			select {
			case <-s.hubDone:
			case <-ctx.Done():
			}
		}

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}
	})

	return shutdownErr
}
