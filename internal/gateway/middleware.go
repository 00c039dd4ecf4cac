package gateway

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/shopassist/internal/logging"
	"github.com/soyeahso/shopassist/internal/metrics"
)

type requestIDKey struct{}

// requestIDFrom returns the request ID stored by requestIDMiddleware.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withMiddleware applies, outermost first: access log, CORS, request ID
// and panic recovery.
func withMiddleware(handler http.Handler, log *logging.Logger, corsOrigins []string) http.Handler {
	layers := []func(http.Handler) http.Handler{
		func(h http.Handler) http.Handler { return recoverMiddleware(h, log) },
		requestIDMiddleware,
		func(h http.Handler) http.Handler { return corsMiddleware(h, corsOrigins) },
		func(h http.Handler) http.Handler { return loggingMiddleware(h, log) },
	}
	for _, wrap := range layers {
		handler = wrap(handler)
	}
	return handler
}

// metricsMiddleware counts requests per matched route. It must sit
// directly around the mux, which records the pattern on r.
func metricsMiddleware(mux http.Handler, m *metrics.Metrics) http.Handler {
	if m == nil {
		return mux
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		mux.ServeHTTP(sw, r)
		m.ObserveHTTP(r.Pattern, sw.status)
	})
}

// loggingMiddleware writes one access line per request: debug normally,
// warn for server errors.
func loggingMiddleware(next http.Handler, log *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		began := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		ev := log.Debug()
		if sw.status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("request", r.Method+" "+r.URL.Path).
			Str("requestId", w.Header().Get(requestIDHeader)).
			Int("code", sw.status).
			Dur("took", time.Since(began)).
			Str("peer", r.RemoteAddr).
			Msg("served")
	})
}

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware keeps a caller's X-Request-ID or mints one, echoes
// it and stores it on the context.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// recoverMiddleware turns a handler panic into a 500.
func recoverMiddleware(next http.Handler, log *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Error().
				Str("path", r.URL.Path).
				Str("requestId", requestIDFrom(r.Context())).
				Str("panic", fmt.Sprint(rec)).
				Msg("handler panic")
			writeError(w, http.StatusInternalServerError, "internal error")
		}()
		next.ServeHTTP(w, r)
	})
}

// originSet answers whether a browser origin may call the gateway. An
// empty set allows no cross-origin callers; "*" allows all.
type originSet struct {
	any    bool
	listed map[string]struct{}
}

func newOriginSet(allowed []string) originSet {
	s := originSet{listed: make(map[string]struct{}, len(allowed))}
	for _, o := range allowed {
		if o == "*" {
			s.any = true
		}
		s.listed[o] = struct{}{}
	}
	return s
}

func (s originSet) allows(origin string) bool {
	if s.any {
		return true
	}
	_, ok := s.listed[origin]
	return ok
}

// corsMiddleware answers preflights and marks responses readable by the
// storefront widget's origin.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	origins := newOriginSet(allowedOrigins)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && origins.allows(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter remembers the status code written through it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
