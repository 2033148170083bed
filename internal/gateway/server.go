// Package gateway exposes the configuration lifecycle over a websocket
// control plane: config snapshot/patch, secret status, and the wizard
// session protocol consumed by the setup UI.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perchbot/perch/internal/config"
	"github.com/perchbot/perch/internal/observability"
	"github.com/perchbot/perch/internal/secretstore"
	"github.com/perchbot/perch/internal/wizard"
)

// Options configures a gateway server.
type Options struct {
	// Addr is the listen address, e.g. "127.0.0.1:8790".
	Addr string

	// AuthToken, when non-empty, is required from every client: either as a
	// Bearer header on the upgrade request or in the connect frame.
	AuthToken string

	// ConfigPath is the configuration document the server manages.
	ConfigPath string

	SecretStore secretstore.Store
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Server is the control-plane HTTP server. It owns the wizard session
// manager and relays config lifecycle events to connected clients.
type Server struct {
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics

	configMgr *config.Manager
	store     secretstore.Store
	wizards   *wizard.Manager
	watcher   *configWatcher

	httpServer *http.Server
	listener   net.Listener

	mu       sync.Mutex
	sessions map[*wsSession]struct{}
}

// NewServer wires the gateway: it owns the config manager (with the server
// as observer, so patch outcomes reach metrics and connected clients) and
// the wizard session manager on top of it.
func NewServer(opts Options) (*Server, error) {
	if opts.ConfigPath == "" {
		return nil, fmt.Errorf("gateway: config path is required")
	}
	if opts.SecretStore == nil {
		opts.SecretStore = secretstore.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store := instrumentStore(opts.SecretStore, opts.Metrics)
	s := &Server{
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
		store:    store,
		sessions: map[*wsSession]struct{}{},
	}
	s.configMgr = config.NewManager(opts.ConfigPath, store, logger, s)
	s.wizards = wizard.NewManager(s.configMgr, logger, s)
	return s, nil
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/ws", s.wsHandler())

	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	watcher, err := newConfigWatcher(s.configMgr.Path(), s, s.logger)
	if err != nil {
		s.logger.Warn("config watcher unavailable", "error", err)
	} else {
		s.watcher = watcher
		go watcher.run(ctx)
	}

	s.logger.Info("gateway listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound address after Run has started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) register(session *wsSession) {
	s.mu.Lock()
	s.sessions[session] = struct{}{}
	count := len(s.sessions)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.WSConnections.Set(float64(count))
	}
}

func (s *Server) unregister(session *wsSession) {
	s.mu.Lock()
	delete(s.sessions, session)
	count := len(s.sessions)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.WSConnections.Set(float64(count))
	}
}

// broadcast pushes an event frame to every connected client.
func (s *Server) broadcast(event string, payload any) {
	s.mu.Lock()
	sessions := make([]*wsSession, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		if !session.connected.Load() {
			continue
		}
		session.sendEvent(event, payload)
	}
}

// PatchApplied implements config.Observer.
func (s *Server) PatchApplied(result config.PatchResult) {
	if s.metrics != nil {
		s.metrics.PatchCounter.WithLabelValues("applied").Inc()
		s.metrics.PlaintextSecrets.Set(float64(len(result.PlaintextPaths)))
	}
	s.broadcast("config.changed", map[string]any{
		"hash":            result.Hash,
		"restartRequired": result.RestartRequired,
	})
}

// PatchRejected implements config.Observer.
func (s *Server) PatchRejected(reason string) {
	if s.metrics != nil {
		s.metrics.PatchCounter.WithLabelValues(reason).Inc()
	}
}

// PlaintextSecrets implements config.Observer.
func (s *Server) PlaintextSecrets(paths []string) {
	if s.metrics != nil {
		s.metrics.PlaintextSecrets.Set(float64(len(paths)))
	}
	s.broadcast("config.plaintextSecrets", map[string]any{"paths": paths})
}

// SessionStarted implements wizard.Observer.
func (s *Server) SessionStarted(flow string) {
	if s.metrics != nil {
		s.metrics.WizardActive.Set(float64(s.wizards.Active()))
	}
}

// SessionEnded implements wizard.Observer.
func (s *Server) SessionEnded(flow string, status wizard.Status) {
	if s.metrics != nil {
		s.metrics.WizardSessions.WithLabelValues(flow, string(status)).Inc()
		s.metrics.WizardActive.Set(float64(s.wizards.Active()))
	}
}
