// Package introspect serves a read-mostly HTTP view of plugin states, running
// transitions and pending operations, plus liveness and readiness probes.
package introspect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heptiolabs/healthcheck"
	"github.com/leeforge/lifecycle/logging"
	"github.com/leeforge/lifecycle/plugin"
	"go.uber.org/zap"
)

// Registry is the plugin registry view the server reads.
type Registry interface {
	Plugins() []string
	Info(pluginID string) (*plugin.Info, error)
	LastError(pluginID string) error
	Enable(ctx context.Context, pluginID string) bool
	Disable(ctx context.Context, pluginID string) bool
}

// Stages exposes fine-grained lifecycle state.
type Stages interface {
	State(pluginID string) plugin.Stage
	IsUISetup(pluginID string) bool
	IsUIReady(pluginID string) bool
}

// Transitions exposes the coordinator's in-flight work.
type Transitions interface {
	ActiveTransition(pluginID string) string
	ActiveTransitions() map[string]string
	PendingOperations(pluginID string) []string
}

// Config holds configuration for creating a Server.
type Config struct {
	Registry    Registry
	Stages      Stages
	Transitions Transitions
	Logger      *zap.Logger
	// Metrics, when set, is mounted at /metrics.
	Metrics http.Handler
	// MaxGoroutines fails liveness above this count, default 10000.
	MaxGoroutines int
	// ReadOnly rejects enable and disable requests.
	ReadOnly bool
}

// PluginStatus is the JSON view of one plugin.
type PluginStatus struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	State      string   `json:"state"`
	Stage      string   `json:"stage"`
	AutoLoad   bool     `json:"autoLoad"`
	Optional   bool     `json:"optional"`
	Hooks      []string `json:"hooks,omitempty"`
	UISetup    bool     `json:"uiSetup"`
	UIReady    bool     `json:"uiReady"`
	Transition string   `json:"transition,omitempty"`
	Pending    []string `json:"pending,omitempty"`
	LastError  string   `json:"lastError,omitempty"`
}

// Server is the introspection HTTP server.
type Server struct {
	cfg    Config
	logger *zap.Logger
	health healthcheck.Handler
	router chi.Router
}

// NewServer builds the router.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxGoroutines <= 0 {
		cfg.MaxGoroutines = 10000
	}

	s := &Server{cfg: cfg, logger: cfg.Logger}

	s.health = healthcheck.NewHandler()
	s.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(cfg.MaxGoroutines))
	s.health.AddReadinessCheck("required-plugins", s.requiredPluginsActive)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(traceMiddleware)
	r.Use(logging.HTTPMiddleware(cfg.Logger))
	r.Use(logging.RecoveryMiddleware)

	r.Get("/live", s.health.LiveEndpoint)
	r.Get("/ready", s.health.ReadyEndpoint)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/plugins", func(r chi.Router) {
		r.Get("/", s.listPlugins)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getPlugin)
			r.Post("/enable", s.changeState(true))
			r.Post("/disable", s.changeState(false))
		})
	})
	r.Get("/transitions", s.listTransitions)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, "route not found")
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("introspection server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown introspection server: %w", err)
		}
		s.logger.Info("introspection server stopped")
		return nil
	}
}

func (s *Server) status(pluginID string) (*PluginStatus, error) {
	info, err := s.cfg.Registry.Info(pluginID)
	if err != nil {
		return nil, err
	}
	m := info.Manifest
	st := &PluginStatus{
		ID:       pluginID,
		Name:     m.Name,
		Version:  m.Version,
		State:    info.State().String(),
		AutoLoad: m.AutoLoad,
		Optional: m.Optional,
	}
	for _, k := range m.DeclaredHooks() {
		st.Hooks = append(st.Hooks, k.String())
	}
	if s.cfg.Stages != nil {
		st.Stage = s.cfg.Stages.State(pluginID).String()
		st.UISetup = s.cfg.Stages.IsUISetup(pluginID)
		st.UIReady = s.cfg.Stages.IsUIReady(pluginID)
	}
	if s.cfg.Transitions != nil {
		st.Transition = s.cfg.Transitions.ActiveTransition(pluginID)
		st.Pending = s.cfg.Transitions.PendingOperations(pluginID)
	}
	if err := s.cfg.Registry.LastError(pluginID); err != nil {
		st.LastError = err.Error()
	}
	return st, nil
}

func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	ids := s.cfg.Registry.Plugins()
	out := make([]*PluginStatus, 0, len(ids))
	for _, id := range ids {
		st, err := s.status(id)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	writeData(w, r, http.StatusOK, out)
}

func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.status(id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("plugin %q not found", id))
		return
	}
	writeData(w, r, http.StatusOK, st)
}

func (s *Server) changeState(enable bool) http.HandlerFunc {
	action := "disable"
	if enable {
		action = "enable"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if s.cfg.ReadOnly {
			writeError(w, r, http.StatusForbidden, ErrCodeConflict, "state changes are disabled")
			return
		}
		if _, err := s.cfg.Registry.Info(id); err != nil {
			writeError(w, r, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("plugin %q not found", id))
			return
		}

		var ok bool
		if enable {
			ok = s.cfg.Registry.Enable(r.Context(), id)
		} else {
			ok = s.cfg.Registry.Disable(r.Context(), id)
		}

		st, _ := s.status(id)
		if !ok {
			s.logger.Warn("state change requested over http failed", zap.String("plugin", id), zap.String("action", action))
			writeError(w, r, http.StatusConflict, ErrCodeConflict, fmt.Sprintf("%s %q failed", action, id))
			return
		}
		writeData(w, r, http.StatusOK, st)
	}
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	active := map[string]string{}
	if s.cfg.Transitions != nil {
		active = s.cfg.Transitions.ActiveTransitions()
	}
	writeData(w, r, http.StatusOK, active)
}

// requiredPluginsActive fails while a plugin that must load at startup is not active.
func (s *Server) requiredPluginsActive() error {
	var missing []string
	for _, id := range s.cfg.Registry.Plugins() {
		info, err := s.cfg.Registry.Info(id)
		if err != nil {
			continue
		}
		m := info.Manifest
		if m.AutoLoad && !m.Optional && info.State() != plugin.StateActive {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required plugins not active: %s", strings.Join(missing, ", "))
	}
	return nil
}
