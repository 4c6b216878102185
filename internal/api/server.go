package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/pdm-core/internal/audit"
	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/core"
	"github.com/nerrad567/pdm-core/internal/infrastructure/config"
	"github.com/nerrad567/pdm-core/internal/infrastructure/logging"
	"github.com/nerrad567/pdm-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HistoryStore reads and writes layout history. Satisfied by
// *audit.HistoryRepository.
type HistoryStore interface {
	Record(ctx context.Context, a *audit.LayoutApplied) error
	Recent(ctx context.Context, limit int) ([]audit.LayoutApplied, error)
}

// HealthChecker is a dependency whose health is reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Core     *core.Core

	// Optional collaborators. Routes that need a missing one answer 503.
	Events    audit.Repository
	History   HistoryStore
	Publisher *telemetry.Publisher
	Recorder  *telemetry.Recorder
	Ingress   *telemetry.Ingress

	// Health lists named dependencies checked by /health.
	Health map[string]HealthChecker

	Version string
}

// Server is the diagnostics HTTP API of the module.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	core      *core.Core
	events    audit.Repository
	history   HistoryStore
	publisher *telemetry.Publisher
	recorder  *telemetry.Recorder
	ingress   *telemetry.Ingress
	health    map[string]HealthChecker
	version   string
	startTime time.Time
	tickets   *ticketStore
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The hub is created here so publisher and recorder listeners can be wired
// before Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Core == nil {
		return nil, fmt.Errorf("core is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		core:      deps.Core,
		events:    deps.Events,
		history:   deps.History,
		publisher: deps.Publisher,
		recorder:  deps.Recorder,
		ingress:   deps.Ingress,
		health:    deps.Health,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.SetSnapshot(EventChannelState, func() any {
		out := make([]channelResponse, 0)
		for c := range s.core.Registry().List(channel.Visible()) {
			out = append(out, toChannelResponse(c))
		}
		return out
	})

	if s.publisher != nil {
		s.publisher.OnChannelChange(func(st telemetry.ChannelState) {
			s.hub.Broadcast(EventChannelState, st)
		})
	}
	if s.recorder != nil {
		s.recorder.OnEvent(func(e audit.Event) {
			s.hub.Broadcast(EventProtection, e)
		})
	}
	return s, nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router. Start serves the same handler.
func (s *Server) Handler() http.Handler { return s.buildRouter() }

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the ticket cleanup loop, then launches
// the HTTP listener in a background goroutine. Stop it with Close().
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, ticket cleanup)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
