// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 APC Contributors

// Package devd is a minimal stand-in daemon. It speaks the supervisor's wire
// protocol over WebSocket and exposes a small HTTP status API, which is
// enough to exercise the supervisor end to end without the real scheduler.
package devd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/apc-dev/apc/internal/discovery"
	"github.com/apc-dev/apc/internal/transport"
	apcerr "github.com/apc-dev/apc/pkg/errors"
)

const (
	DefaultReplayDelay = 50 * time.Millisecond
	shutdownTimeout    = 5 * time.Second
	writeTimeout       = 5 * time.Second
)

// Config configures a Daemon.
type Config struct {
	Listen      string
	ReplayDelay time.Duration
	CORSOrigins []string
	Version     string
	// Discovery, when set, receives the listening port on Start and is
	// removed again when Start returns.
	Discovery *discovery.Store
}

// Daemon serves the WebSocket protocol on "/" and the HTTP API under
// /health and /api/v1.
type Daemon struct {
	cfg      Config
	router   chi.Router
	api      huma.API
	upgrader websocket.Upgrader

	mu             sync.Mutex
	ready          bool
	checksComplete bool
	deps           []transport.Dependency
	coordinator    *transport.CoordinatorStatus
	subsystem      *transport.SubsystemStatus
	clients        map[*client]struct{}
	addr           net.Addr
	listening      chan struct{}
}

// New creates a Daemon that is not yet ready and reports no dependencies.
func New(cfg Config) (*Daemon, error) {
	if cfg.Listen == "" {
		return nil, apcerr.New(apcerr.CodeServerStartFailure, "listen address is required")
	}
	if cfg.ReplayDelay < 0 {
		cfg.ReplayDelay = DefaultReplayDelay
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.CORSOrigins))

	humaConfig := huma.DefaultConfig("apc devd", cfg.Version)
	humaConfig.Info.Description = "Reference daemon for the apc connection supervisor"
	api := humachi.New(r, humaConfig)

	d := &Daemon{
		cfg:       cfg,
		router:    r,
		api:       api,
		clients:   make(map[*client]struct{}),
		listening: make(chan struct{}),
		upgrader: websocket.Upgrader{
			// Loopback only; browsers are not expected to connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	d.registerRoutes()
	r.Get("/", d.serveWS)
	return d, nil
}

// Handler returns the root handler for use with httptest.
func (d *Daemon) Handler() http.Handler {
	return d.router
}

// API returns the huma API.
func (d *Daemon) API() huma.API {
	return d.api
}

// Listening is closed once Start has bound its listener.
func (d *Daemon) Listening() <-chan struct{} {
	return d.listening
}

// Addr returns the bound address, or nil before Start.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Start listens, publishes the discovery file, and serves until ctx is
// cancelled. The discovery file is removed on return.
func (d *Daemon) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.Listen)
	if err != nil {
		return apcerr.Wrapf(err, apcerr.CodeServerStartFailure, "listening on %s", d.cfg.Listen)
	}

	d.mu.Lock()
	d.addr = ln.Addr()
	d.mu.Unlock()

	if d.cfg.Discovery != nil {
		port := ln.Addr().(*net.TCPAddr).Port
		if err := d.cfg.Discovery.Write(port); err != nil {
			_ = ln.Close()
			return err
		}
		defer func() {
			if err := d.cfg.Discovery.Remove(); err != nil {
				slog.Warn("removing discovery file", "error", err)
			}
		}()
		slog.Info("devd listening", "addr", ln.Addr().String(), "discovery_file", d.cfg.Discovery.Path())
	} else {
		slog.Info("devd listening", "addr", ln.Addr().String())
	}
	close(d.listening)

	srv := &http.Server{
		Handler:           d.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return apcerr.Wrap(err, apcerr.CodeServerStartFailure, "serving")
		}
	}

	d.closeClients()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return apcerr.Wrap(err, apcerr.CodeServerShutdownFailure, "shutting down")
	}
	return <-errCh
}

// MarkStarting clears readiness and tells clients initialization restarted.
func (d *Daemon) MarkStarting() {
	d.mu.Lock()
	d.ready = false
	d.checksComplete = false
	d.mu.Unlock()
	d.broadcast(transport.EventStarting, struct{}{})
}

// MarkReady completes initialization and broadcasts the ready event.
func (d *Daemon) MarkReady() {
	d.mu.Lock()
	d.ready = true
	d.checksComplete = true
	d.mu.Unlock()
	d.broadcast(transport.EventReady, struct{}{})
}

// SetDependencies replaces the dependency report.
func (d *Daemon) SetDependencies(deps []transport.Dependency) {
	d.mu.Lock()
	d.deps = append([]transport.Dependency(nil), deps...)
	d.mu.Unlock()
}

// PublishCoordinatorStatus caches s for replay and broadcasts it.
func (d *Daemon) PublishCoordinatorStatus(s transport.CoordinatorStatus) {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now()
	}
	d.mu.Lock()
	d.coordinator = &s
	d.mu.Unlock()
	d.broadcast(transport.EventCoordinatorStatus, s)
}

// PublishSubsystemStatus caches s for replay and broadcasts it.
func (d *Daemon) PublishSubsystemStatus(s transport.SubsystemStatus) {
	d.mu.Lock()
	d.subsystem = &s
	d.mu.Unlock()
	d.broadcast(transport.EventSubsystemStatus, s)
}

// Shutdown announces an intentional shutdown and drops every client.
func (d *Daemon) Shutdown(reason string) {
	d.broadcast(transport.EventDaemonShutdown, transport.ShutdownNotice{Reason: reason})
	d.closeClients()
}

// Clients returns the number of connected clients.
func (d *Daemon) Clients() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

func (d *Daemon) status() transport.StatusResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return transport.StatusResult{
		Ready:          d.ready,
		ChecksComplete: d.checksComplete,
		Version:        d.cfg.Version,
		PID:            os.Getpid(),
	}
}

func (d *Daemon) dependencies() transport.DependencyStatusResult {
	d.mu.Lock()
	deps := append([]transport.Dependency(nil), d.deps...)
	d.mu.Unlock()

	res := transport.DependencyStatusResult{Dependencies: deps}
	res.MissingCount = res.Missing()
	if res.Dependencies == nil {
		res.Dependencies = []transport.Dependency{}
	}
	return res
}

func (d *Daemon) broadcast(name string, data any) {
	env, err := transport.NewEventEnvelope(name, data)
	if err != nil {
		slog.Error("encoding event", "event", name, "error", err)
		return
	}

	d.mu.Lock()
	targets := make([]*client, 0, len(d.clients))
	for c := range d.clients {
		targets = append(targets, c)
	}
	d.mu.Unlock()

	for _, c := range targets {
		c.send(env)
	}
}

func (d *Daemon) closeClients() {
	d.mu.Lock()
	targets := d.clients
	d.clients = make(map[*client]struct{})
	d.mu.Unlock()

	for c := range targets {
		c.close()
	}
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
}
