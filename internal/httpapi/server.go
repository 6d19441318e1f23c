// Package httpapi exposes the HTTP/JSON API and serves the embedded
// SPA. Every route passes the middleware chain: panic recovery, CORS,
// request logging, and stats accounting; mutating routes add auth
// gating and rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/gamelist1990/FileShare/internal/auth"
	"github.com/gamelist1990/FileShare/internal/blocklist"
	"github.com/gamelist1990/FileShare/internal/files"
	"github.com/gamelist1990/FileShare/internal/ratelimit"
	"github.com/gamelist1990/FileShare/internal/stats"
	"github.com/gamelist1990/FileShare/internal/streamer"
	"github.com/gamelist1990/FileShare/internal/uploads"
	"github.com/gamelist1990/FileShare/internal/webui"
)

// Server wires handlers to the shared services.
type Server struct {
	Root     string // canonical share root
	BindAddr string
	Port     int

	Users    *auth.Store
	Block    *blocklist.List
	Stats    *stats.Stats
	Files    *files.Service
	Uploads  *uploads.Service
	Streamer *streamer.Streamer
	Limiter  *ratelimit.Limiter

	// ProxyV2 reports whether the proxy bridge is enforced; it decides
	// how client IPs are extracted.
	ProxyV2 func() bool

	IdleTimeout time.Duration
	Version     string
	Logger      *slog.Logger

	startedAt time.Time
}

// Handler builds the full route table wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.limited(ratelimit.TargetStatus, s.handleStatus))
	mux.HandleFunc("/api/list", s.limited(ratelimit.TargetList, s.handleList))
	mux.HandleFunc("/api/file", s.limited(ratelimit.TargetDownload, s.handleFile))
	mux.HandleFunc("/api/disk", s.limited(ratelimit.TargetDisk, s.handleDisk))
	mux.HandleFunc("/api/stats/top", s.limited(ratelimit.TargetStatus, s.handleTopDownloads))

	mux.HandleFunc("/api/stream/playlist", s.handleStreamPlaylist)
	mux.HandleFunc("/api/stream/file", s.handleStreamFile)

	mux.HandleFunc("/api/speedtest/download", s.handleSpeedtestDownload)
	mux.HandleFunc("/api/speedtest/upload", s.handleSpeedtestUpload)

	mux.HandleFunc("/api/auth/register", s.limited(ratelimit.TargetAuth, s.handleRegister))
	mux.HandleFunc("/api/auth/login", s.limited(ratelimit.TargetAuth, s.handleLogin))
	mux.HandleFunc("/api/auth/logout", s.handleLogout)
	mux.HandleFunc("/api/auth/status", s.handleAuthStatus)

	mux.HandleFunc("/api/upload", s.limited(ratelimit.TargetUpload, s.withUser(1, s.handleUpload)))
	mux.HandleFunc("/api/mkdir", s.limited(ratelimit.TargetFileOps, s.withUser(1, s.handleMkdir)))
	mux.HandleFunc("/api/rename", s.limited(ratelimit.TargetFileOps, s.withUser(1, s.handleRename)))
	mux.HandleFunc("/api/move", s.limited(ratelimit.TargetFileOps, s.withUser(1, s.handleMove)))
	mux.HandleFunc("/api/delete", s.limited(ratelimit.TargetFileOps, s.withUser(2, s.handleDelete)))

	mux.HandleFunc("/api/admin/", s.withUser(2, s.handleAdmin))

	mux.HandleFunc("/index.js", s.serveBundle)
	mux.HandleFunc("/", s.serveIndex)

	var h http.Handler = mux
	h = s.withStats(h)
	h = s.withRequestLog(h)
	h = withSecurityHeaders(h)
	h = withCORS(h)
	h = s.withRecover(h)
	return h
}

// ListenAndServe runs the HTTP server until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Users == nil || s.Files == nil {
		return errors.New("server is not fully wired")
	}
	s.startedAt = time.Now()
	idle := s.IdleTimeout
	if idle == 0 {
		idle = 120 * time.Second
	}
	srv := &http.Server{
		Addr:              s.BindAddr + ":" + strconv.Itoa(s.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       idle,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// serveIndex hands every unknown path to the SPA shell.
func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	b, err := webui.Index()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "web ui missing")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(b)
}

func (s *Server) serveBundle(w http.ResponseWriter, r *http.Request) {
	b, err := webui.Bundle()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "web ui missing")
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	_, _ = w.Write(b)
}

func (s *Server) proxyV2Enabled() bool {
	return s.ProxyV2 != nil && s.ProxyV2()
}

// clientIP runs the shared extraction with the bridge mode applied.
func (s *Server) clientIP(r *http.Request) string {
	return auth.ClientIP(r, s.proxyV2Enabled())
}
