package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"identityrecon/internal/metrics"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type contextKeyRequestID struct{}

// RequestID returns the id assigned by the RequestID middleware, "" outside
// a request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID{}).(string)
	return id
}

func requestLogger(r *http.Request, log zerolog.Logger) zerolog.Logger {
	if id := RequestID(r.Context()); id != "" {
		return log.With().Str("request_id", id).Logger()
	}
	return log
}

// WithRequestID keeps an incoming X-Request-ID or assigns a new uuid, and
// echoes it on the response.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

// routeName is the matched mux path template, so /contacts/7 and /contacts/8
// share one label.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RequestLogger writes one access log line per request and records the
// request in m. m may be nil.
func RequestLogger(log zerolog.Logger, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			route := routeName(r)
			elapsed := time.Since(start)
			m.ObserveRequest(route, r.Method, strconv.Itoa(rec.status), elapsed)

			event := log.Info()
			if rec.status >= 500 {
				event = log.Error()
			} else if rec.status >= 400 {
				event = log.Warn()
			}
			event.
				Str("request_id", RequestID(r.Context())).
				Str("method", r.Method).
				Str("path", route).
				Int("status", rec.status).
				Dur("duration", elapsed).
				Str("client_ip", r.RemoteAddr).
				Int("bytes", rec.bytes).
				Msg("http_request")
		})
	}
}
