// Package server exposes the electric-moray API over HTTP. HTTP/2 cleartext
// (h2c) is enabled with HTTP/1.1 fallback for older clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/joyent/electric-moray/pkg/moray"
)

// ErrServerClosed is returned when starting an already-closed server.
var ErrServerClosed = errors.New("server is closed")

// Config configures the HTTP server.
type Config struct {
	Address string
	Port    int

	// MaxConcurrentStreams bounds concurrent HTTP/2 streams per
	// connection. Zero uses the http2 package default.
	MaxConcurrentStreams uint32

	ReadHeaderTimeout time.Duration
}

// Server is the HTTP API server.
type Server struct {
	config     *Config
	db         *moray.DB
	httpServer *http.Server
	closed     atomic.Bool
}

// New creates a server around an open database.
func New(cfg *Config, db *moray.DB) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 2020
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	return &Server{config: cfg, db: db}
}

// Start begins serving in a background goroutine. It returns once the
// listener is bound.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := s.routes()
	http2Config := &http2.Server{
		MaxConcurrentStreams: s.config.MaxConcurrentStreams,
	}

	s.httpServer = &http.Server{
		// h2c allows HTTP/2 over plain TCP, falling back to HTTP/1.1
		// for older clients.
		Handler:           h2c.NewHandler(s.withRequestID(mux), http2Config),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[server] serve error: %v", err)
		}
	}()

	log.Printf("[server] listening on %s (h2c enabled)", addr)
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
