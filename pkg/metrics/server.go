// HTTP server for the Prometheus metrics endpoint
//
// Serves /metrics and /health. Basic auth is optional; the password is
// checked against a bcrypt hash so the config file never holds it in clear.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"klipper-go-movequeue/pkg/config"
	qerrors "klipper-go-movequeue/pkg/errors"
	"klipper-go-movequeue/pkg/log"
)

// SectionName is the config section read by LoadServerConfig.
const SectionName = "metrics"

// ServerConfig holds server configuration
type ServerConfig struct {
	Address      string
	Username     string
	PasswordHash string // bcrypt
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig listens on :9100 without auth
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      ":9100",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// LoadServerConfig reads [metrics]. ok is false when the section is absent.
func LoadServerConfig(cfg *config.Config) (out ServerConfig, ok bool, err error) {
	out = DefaultServerConfig()
	sec := cfg.GetSectionOptional(SectionName)
	if sec == nil {
		return out, false, nil
	}
	if out.Address, err = sec.Get("address", out.Address); err != nil {
		return out, true, err
	}
	if out.Username, err = sec.Get("username", ""); err != nil {
		return out, true, err
	}
	if out.PasswordHash, err = sec.Get("password_hash", ""); err != nil {
		return out, true, err
	}
	if out.Username != "" && out.PasswordHash == "" {
		return out, true, configError("password_hash", "required when username is set")
	}
	if out.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(out.PasswordHash)); err != nil {
			return out, true, configError("password_hash", "not a bcrypt hash")
		}
	}
	return out, true, nil
}

// Server serves metrics over HTTP
type Server struct {
	qm     *QueueMetrics
	cfg    ServerConfig
	server *http.Server
	log    *log.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a server for qm
func NewServer(qm *QueueMetrics, cfg ServerConfig) *Server {
	s := &Server{qm: qm, cfg: cfg, log: log.GetLogger("metrics")}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/health", s.handleHealth)
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the HTTP handler, for embedding or tests
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start listens on the configured address and serves in the background.
// It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.log.Info("serving metrics on %s", ln.Addr())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("metrics server stopped")
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	output := s.qm.Gather()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(output)))
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write([]byte(output))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK\n"))
}

func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.Username == "" {
		return true
	}
	username, password, ok := r.BasicAuth()
	if ok {
		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) == 1
		passOK := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password)) == nil
		if userOK && passOK {
			return true
		}
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="movequeue metrics"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

func configError(option, reason string) error {
	return qerrors.ConfigValidationError(SectionName, option, reason)
}
