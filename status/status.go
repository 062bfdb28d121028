// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package status serves the session status and metrics over HTTP.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/TheThingsNetwork/mqtt-telemetry-agent/types"
	"github.com/apex/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source of the status
type Source interface {
	Status() types.Status
}

// New returns a new status server on addr
func New(addr string, source Source, ctx log.Interface) *Server {
	return &Server{
		ctx:    ctx.WithField("Component", "Status").WithField("Address", addr),
		addr:   addr,
		source: source,
	}
}

// Server for status and metrics
type Server struct {
	ctx    log.Interface
	addr   string
	source Source

	mu         sync.RWMutex
	accessKeys []string
	server     *http.Server
}

// AddAccessKey adds an access key for a client. Once a key is added, the
// status endpoint requires an "Authorization: Key <key>" header.
func (s *Server) AddAccessKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessKeys = append(s.accessKeys, key)
}

func (s *Server) authorized(r *http.Request) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.accessKeys) == 0 {
		return true
	}
	key := strings.TrimPrefix(r.Header.Get("Authorization"), "Key ")
	for _, allowed := range s.accessKeys {
		if key == allowed {
			return true
		}
	}
	return false
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.Status()); err != nil {
		s.ctx.WithError(err).Warn("Could not write status")
	}
}

// Handler returns the http.Handler for /status and /metrics
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.getStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ListenAndServe serves until Shutdown is called
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	s.server = &http.Server{Addr: s.addr, Handler: s.Handler()}
	server := s.server
	s.mu.Unlock()
	s.ctx.Info("Serving status")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown the server
func (s *Server) Shutdown() error {
	s.mu.RLock()
	server := s.server
	s.mu.RUnlock()
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
