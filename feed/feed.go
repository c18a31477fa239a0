// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package feed serves the public submission feed over HTTP.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/blinklabs-io/privabuild/index"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultListenAddress = ":8080"

// Source provides the indexed submissions to serve
type Source interface {
	List() []index.Entry
	Get(id common.Hash) (index.Entry, bool)
	ListBySubmitter(submitter common.Address) []index.Entry
}

// Config holds the feed server settings
type Config struct {
	ListenAddress string
	// GatewayURL maps a CID to a retrieval URL. Optional.
	GatewayURL func(cid string) string
	// Gatherer is exposed on /metrics when set
	Gatherer prometheus.Gatherer
}

// Server is the submission feed HTTP server
type Server struct {
	config     Config
	logger     *slog.Logger
	source     Source
	httpServer *http.Server
	listener   net.Listener
	mu         sync.Mutex
}

// New creates a feed server. It does not listen until Start is called.
func New(cfg Config, source Source, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	return &Server{
		config: cfg,
		logger: logger.With("component", "feed"),
		source: source,
	}
}

// Handler returns the routed handler without starting a listener
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/submissions", s.handleListSubmissions)
	mux.HandleFunc("GET /api/v1/submissions/{id}", s.handleGetSubmission)
	mux.HandleFunc(
		"GET /api/v1/builders/{address}/submissions",
		s.handleBuilderSubmissions,
	)
	if s.config.Gatherer != nil {
		mux.Handle(
			"GET /metrics",
			promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}),
		)
	}
	return mux
}

// Start binds the listener and serves in the background until Stop is
// called or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen for feed server: %w", err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	s.httpServer = server
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("feed server error", "error", err)
		}
	}()
	s.logger.Info("feed API listener started on " + ln.Addr().String())

	go func() {
		<-ctx.Done()
		//nolint:contextcheck
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		//nolint:contextcheck
		if err := s.Stop(shutdownCtx); err != nil {
			s.logger.Error("failed to shutdown feed server on context cancellation", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil when not started
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	s.logger.Debug("shutting down feed server")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown feed server: %w", err)
	}
	return nil
}
