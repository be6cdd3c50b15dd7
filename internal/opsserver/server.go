// Package opsserver serves health, Prometheus metrics and pprof for the polling process.
package opsserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "reminderbot/internal/runtime/supervisor"
	"reminderbot/pkg/logx"
)

const (
	DefaultAddr       = "127.0.0.1:9464"
	readHeaderTimeout = 5 * time.Second
	shutdownGrace     = 2 * time.Second
)

// Config controls the ops HTTP server. A non-loopback Addr needs Token, or
// AllowInsecure to serve without one.
type Config struct {
	Enabled       bool
	Addr          string
	PprofPrefix   string
	Token         string
	AllowInsecure bool

	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

// HealthFunc reports nil while the process is healthy.
type HealthFunc func() error

// Server runs at most one listener at a time and can be reconfigured live.
type Server struct {
	log     logx.Logger
	metrics http.Handler
	health  HealthFunc

	mu    sync.Mutex
	cfg   Config
	sup   *rtsup.Supervisor // non-nil while started
	srv   *http.Server
	bound string
}

func New(cfg Config, metrics http.Handler, health HealthFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &Server{cfg: cfg, metrics: metrics, health: health, log: log}
}

// Addr is the address actually bound, empty when not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Reconfigure switches to cfg, starting, stopping or restarting as needed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	changed := s.cfg != cfg
	started := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	if started && (changed || !cfg.Enabled) {
		s.Stop(ctx)
		started = false
	}
	if !started && cfg.Enabled {
		s.Start(ctx)
	}
}

// Start launches the serve loop unless it is running or disabled.
func (s *Server) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "opsserver"))))
	s.sup.GoRestart("http.serve", s.serve, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

// Stop shuts the listener down, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	// Cancel first so the restart loop does not bring the listener back.
	sup.Cancel()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	}
	_ = sup.Wait(ctx)
	s.log.Info("ops server stopped")
}

// serve runs one listener until ctx ends or it fails.
func (s *Server) serve(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if err := checkBind(addr, cfg); err != nil {
		s.log.Error("ops server refused to start", logx.String("addr", addr), logx.Err(err))
		return err
	}
	if cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("ops server exposed without token", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return fmt.Errorf("ops listen %s: %w", addr, err)
	}

	prefix := normalizePrefix(cfg.PprofPrefix)
	srv := &http.Server{
		Handler:           s.routes(cfg.Token, prefix),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.setServing(srv, ln.Addr().String())
	defer s.setServing(nil, "")

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stop()

	s.log.Info("ops server started",
		logx.String("addr", ln.Addr().String()),
		logx.String("pprof_prefix", prefix),
		logx.Bool("token_set", cfg.Token != ""),
	)
	err = srv.Serve(ln)
	switch {
	case ctx.Err() != nil:
		return context.Canceled
	case err == nil, errors.Is(err, http.ErrServerClosed):
		return errors.New("ops server closed unexpectedly")
	}
	return err
}

func (s *Server) setServing(srv *http.Server, addr string) {
	s.mu.Lock()
	s.srv, s.bound = srv, addr
	s.mu.Unlock()
}

// checkBind rejects a non-loopback bind without a token unless explicitly allowed.
func checkBind(addr string, cfg Config) error {
	if cfg.Token != "" || cfg.AllowInsecure || isLoopbackAddr(addr) {
		return nil
	}
	return errors.New("non-loopback address requires ops.token or ops.allow_insecure")
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	host = strings.TrimSpace(host)
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
