// Package middleware provides HTTP middleware for the embed gateway.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"flexgate/internal/clientinfo"
	"flexgate/internal/session"
)

// Logging returns middleware that logs request details.
// Logs method, path, status, duration, and remote address.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", r.RemoteAddr),
				slog.String("session", SessionID(r.Context())),
			)
		})
	}
}

// Recovery returns middleware that recovers from panics.
// Logs the panic and stack trace, returns 500 Internal Server Error.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())),
					)

					// Avoid writing if headers already sent
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(wrapped(w), r)
		})
	}
}

// === Shopper session ===

type contextKey string

const (
	sessionIDKey  contextKey = "session_id"
	clientInfoKey contextKey = "client_info"
)

// sessionCookie carries the shopper id between requests.
const sessionCookie = "fp_session"

// Session returns middleware that binds each request to a shopper id. A
// missing or malformed cookie gets a fresh id, set on the response so the
// theme's next request carries it.
func Session() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(sessionCookie); err == nil && session.ValidSessionID(c.Value) {
				id = c.Value
			}
			if id == "" {
				id = session.NewSessionID()
				http.SetCookie(w, &http.Cookie{
					Name:     sessionCookie,
					Value:    id,
					Path:     "/",
					MaxAge:   int((180 * 24 * time.Hour).Seconds()),
					HttpOnly: true,
					Secure:   true,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), sessionIDKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionID returns the shopper id bound by Session, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey).(string)
	return id
}

// === Embed client info ===

// ClientInfo returns middleware that parses the FP-Client header and logs
// requests from script revisions older than minRev. Old revisions are still
// served; the log line is what makes a lagging theme cache visible.
func ClientInfo(minRev string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := clientinfo.Parse(r.Header.Get("FP-Client"))
			if err != nil {
				logger.Debug("unparseable FP-Client header",
					slog.String("header", r.Header.Get("FP-Client")))
			}
			if minRev != "" && !info.AtLeast(minRev) {
				logger.Warn("embed revision below minimum",
					slog.String("rev", info.Rev),
					slog.String("min_rev", minRev),
					slog.String("path", r.URL.Path),
				)
			}

			ctx := context.WithValue(r.Context(), clientInfoKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Client returns the parsed FP-Client info for the request.
func Client(ctx context.Context) clientinfo.ClientInfo {
	info, _ := ctx.Value(clientInfoKey).(clientinfo.ClientInfo)
	return info
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(status)
	}
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// wrapped returns a responseWriter, handling the case where w is already wrapped.
func wrapped(w http.ResponseWriter) http.ResponseWriter {
	if _, ok := w.(*responseWriter); ok {
		return w
	}
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

// Chain combines multiple middleware into a single middleware.
// Middleware is applied in order: first middleware wraps the last.
func Chain(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
