package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/topicwire/topicwire/internal/audit"
	"github.com/topicwire/topicwire/internal/backend"
	"github.com/topicwire/topicwire/internal/broker"
	"github.com/topicwire/topicwire/internal/config"
	"github.com/topicwire/topicwire/internal/middleware"
)

// Server is the HTTP gateway in front of the pub/sub backend.
type Server struct {
	cfg         *config.Config
	backend     *backend.Backend
	broker      *broker.Client
	rateLimiter *middleware.RateLimiter
	auditLog    *audit.Logger
	server      *http.Server

	ctlCancel context.CancelFunc
}

// New creates a Server wired to an already connected broker client. The
// control consumer feeding configuration events into the backend starts
// immediately; every applied event lands in the audit trail.
func New(cfg *config.Config, b *backend.Backend, bc *broker.Client, auditLog *audit.Logger) *Server {
	rlCfg := middleware.DefaultRateLimitConfig()
	rlCfg.RatePerSecond = cfg.RateLimitAuth
	rlCfg.Burst = cfg.RateBurstAuth
	rlCfg.UnauthRatePerSecond = cfg.RateLimitUnauth
	rlCfg.UnauthBurst = cfg.RateBurstUnauth

	s := &Server{
		cfg:         cfg,
		backend:     b,
		broker:      bc,
		rateLimiter: middleware.NewRateLimiter(rlCfg),
		auditLog:    auditLog,
	}

	s.server = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: s.routes(),
	}

	ctlCtx, ctlCancel := context.WithCancel(context.Background())
	s.ctlCancel = ctlCancel

	var dispatcher broker.Dispatcher = b
	if auditLog != nil {
		dispatcher = audit.NewDispatcher(b, auditLog)
	}
	consumer := broker.NewControlConsumer(bc.CtlStream(), dispatcher)
	go func() {
		if err := consumer.Start(ctlCtx); err != nil && ctlCtx.Err() == nil {
			slog.Error("control consumer error", "error", err)
		}
	}()

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Serve starts the HTTP server on the given listener.
func (s *Server) Serve(l net.Listener) error {
	return s.server.Serve(l)
}

// Shutdown stops the control consumer and drains inflight HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.ctlCancel != nil {
		s.ctlCancel()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	// Drain inflight requests first, then close the audit trail. No
	// control events arrive after ctlCancel, so the channel is quiet.
	err := s.server.Shutdown(ctx)
	if s.auditLog != nil {
		s.auditLog.Close()
	}
	return err
}
