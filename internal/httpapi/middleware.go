package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"

	"log/slog"
	"time"

	"github.com/gamelist1990/FileShare/internal/auth"
	"github.com/gamelist1990/FileShare/internal/files"
	"github.com/gamelist1990/FileShare/internal/fsutil"
	"github.com/gamelist1990/FileShare/internal/ratelimit"
	"github.com/gamelist1990/FileShare/internal/streamer"
	"github.com/gamelist1990/FileShare/internal/uploads"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the shared error kinds onto their status
// codes. Messages never contain filesystem paths.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fsutil.ErrPathTraversal):
		writeError(w, http.StatusForbidden, "Not found or access denied")
	case errors.Is(err, files.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, streamer.ErrTranscoderMissing):
		writeError(w, http.StatusNotImplemented, "transcoder not available")
	case errors.Is(err, streamer.ErrNotStreamable):
		writeError(w, http.StatusNotFound, "not streamable")
	case errors.Is(err, uploads.ErrInvalidFilename), errors.Is(err, uploads.ErrNotDirectory):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, uploads.ErrTooLarge), errors.Is(err, uploads.ErrQuotaExceeded):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, uploads.ErrInsufficientStorage):
		writeError(w, http.StatusInsufficientStorage, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server error")
	}
}

// withCORS applies the permissive cross-origin policy to every route
// and answers preflights.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET,HEAD,POST,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type,Range,Authorization")
		h.Set("Access-Control-Expose-Headers", "Content-Range,Content-Length,Accept-Ranges")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withSecurityHeaders hardens every response. HSTS is sent only when
// the request arrived over TLS on this listener.
func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'self'; object-src 'none'; base-uri 'self'; frame-ancestors 'none'; media-src 'self' blob:")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000")
		}
		next.ServeHTTP(w, r)
	})
}

// withRecover guards handlers against panics and returns a 500.
func (s *Server) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.Logger.Error("panic", "panic", v, "stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, "server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(sr, r)

		lvl := slog.LevelInfo
		if sr.status >= 500 {
			lvl = slog.LevelError
		} else if sr.status >= 400 {
			lvl = slog.LevelWarn
		}
		s.Logger.Log(r.Context(), lvl, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"bytes", sr.bytes,
			"remote_ip", s.clientIP(r),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// withStats maintains the in-flight gauge and the active client set on
// every request, including error paths.
func (s *Server) withStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Stats != nil {
			s.Stats.StartRequest(s.clientIP(r))
			defer s.Stats.EndRequest()
		}
		next.ServeHTTP(w, r)
	})
}

// limited enforces one rate-limit target per route. Denials carry
// Retry-After.
func (s *Server) limited(target ratelimit.Target, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter != nil {
			if ok, retry := s.Limiter.Allow(target, s.clientIP(r)); !ok {
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next(w, r)
	}
}

type ctxKey string

const (
	ctxUser    ctxKey = "user"
	ctxSession ctxKey = "session"
)

// withUser requires a valid bearer token and a minimum op level.
func (s *Server) withUser(minOpLevel int, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, user, err := s.Users.VerifyToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if user.OpLevel < minOpLevel {
			writeError(w, http.StatusForbidden, "insufficient privileges")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUser, user)
		ctx = context.WithValue(ctx, ctxSession, sess)
		next(w, r.WithContext(ctx))
	}
}

func requestUser(r *http.Request) *auth.User {
	u, _ := r.Context().Value(ctxUser).(*auth.User)
	return u
}
