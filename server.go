// Package chatrelay implements a presence-aware chat relay for short-lived
// conversations between anonymous visitors and a small staff pool. This
// file contains the Server struct managing the HTTP lifecycle around the
// hub and engine.
package chatrelay

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

type Server struct {
	httpServer *http.Server
	hub        *Hub
	engine     *Engine
	logger     *slog.Logger
	mutex      sync.RWMutex
	isRunning  bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewServer builds a relay server from configuration and collaborators.
// The store and feed are owned by the caller; the server only uses them.
func NewServer(cfg *Config, store ChatStore, feed Feed, logger *slog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	opts := cfg.options()
	hub := newHub(ctx, opts, logger)
	engine := NewEngine(hub, store, feed, opts, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", hub.HandleWS)

	return &Server{
		ctx:    ctx,
		cancel: cancel,
		hub:    hub,
		engine: engine,
		logger: logger.With("component", "server"),
		httpServer: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  2 * time.Minute,
		},
	}
}

// Engine exposes the engine, mainly for instrumentation and tests.
func (s *Server) Engine() *Engine { return s.engine }

// Start begins serving in the background and returns immediately.
func (s *Server) Start() error {
	s.mutex.Lock()
	if s.isRunning {
		s.mutex.Unlock()
		return conflict("", "server is already running")
	}
	s.isRunning = true
	s.mutex.Unlock()

	if err := s.engine.Start(); err != nil {
		return err
	}
	go func() {
		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", "error", err)
		}
		s.mutex.Lock()
		s.isRunning = false
		s.mutex.Unlock()
	}()
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	return nil
}

// Listen starts the server and blocks until SIGINT or SIGTERM, then shuts
// down gracefully.
func (s *Server) Listen() error {
	if err := s.Start(); err != nil {
		return err
	}
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	return s.Stop(30 * time.Second)
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.isRunning
}

// Stop shuts the server down, closing client connections and halting the
// engine loop.
func (s *Server) Stop(timeout time.Duration) error {
	s.mutex.Lock()
	if !s.isRunning {
		s.mutex.Unlock()
		return nil
	}
	s.mutex.Unlock()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.hub.closeAll()
	s.engine.Stop()
	s.cancel()
	s.logger.Info("stopped")
	return err
}
