package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"walktrack/internal/shared/auth"
	"walktrack/internal/shared/logger"
	"walktrack/internal/shared/utils"
)

type contextKey string

const (
	contextKeyRequestID contextKey = "request_id"
	contextKeySessionID contextKey = "session_id"
	contextKeyIdentity  contextKey = "identity"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderSessionID = "X-Session-ID"
)

// Chain applies middlewares so the first one listed runs first.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RequestIDMiddleware keeps a caller supplied X-Request-ID or issues one.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" {
			id = utils.NewUUID()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyRequestID, id)))
	})
}

// SessionMiddleware resolves the tracking session of the request from the
// X-Session-ID header, falling back to the session_id query parameter.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderSessionID))
		if id == "" {
			id = strings.TrimSpace(r.URL.Query().Get("session_id"))
		}
		if id != "" {
			r = r.WithContext(context.WithValue(r.Context(), contextKeySessionID, id))
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityMiddleware extracts the caller from a bearer token when one is
// presented. Requests without a token pass through, authentication is
// enforced upstream. A token that does not validate is rejected.
// A nil jwtService disables the check.
func IdentityMiddleware(jwtService *auth.JWTService, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if jwtService == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, err := auth.BearerToken(header)
			if err == nil {
				var id auth.Identity
				if id, err = jwtService.Authenticate(token); err == nil {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyIdentity, id)))
					return
				}
			}

			log.Warn(logger.Entry{
				Action:    "identity_rejected",
				Message:   err.Error(),
				RequestID: RequestIDFromContext(r.Context()),
				Error:     &logger.ErrObj{Msg: err.Error()},
			})
			respondUnauthorized(w)
		})
	}
}

// LoggingMiddleware writes one line per request.
func LoggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			entry := logger.Entry{
				Action:    "http_request",
				Message:   r.Method + " " + r.URL.Path,
				RequestID: RequestIDFromContext(r.Context()),
				SessionID: SessionIDFromContext(r.Context()),
				Additional: map[string]any{
					"status":      rec.status,
					"duration_ms": time.Since(start).Milliseconds(),
					"remote_addr": r.RemoteAddr,
				},
			}
			if rec.status >= http.StatusInternalServerError {
				log.Error(entry)
				return
			}
			log.Debug(entry)
		})
	}
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeySessionID).(string)
	return id
}

func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(contextKeyIdentity).(auth.Identity)
	return id, ok
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets websocket upgrades pass through the logging middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
