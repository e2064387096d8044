package http

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/robertarktes/bunk-reservations/internal/idempotency"
	"github.com/robertarktes/bunk-reservations/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelhttp "go.opentelemetry.io/otel/propagation"
)

// RequesterHeader identifies the requester for rate limiting.
const RequesterHeader = "X-Requester-ID"

type loggerKey struct{}

// LoggerFrom returns the request-scoped logger, if any.
func LoggerFrom(ctx context.Context) (observability.Logger, bool) {
	l, ok := ctx.Value(loggerKey{}).(observability.Logger)
	return l, ok
}

func RequestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}

func LoggerMiddleware(logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := middleware.GetReqID(r.Context())
			entry := logger.WithField("request_id", reqID)
			ctx := context.WithValue(r.Context(), loggerKey{}, entry)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(ctx))
			entry.WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", ww.Status()).
				WithField("duration_ms", time.Since(start).Milliseconds()).
				Debug("request handled")
		})
	}
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observability.RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status()), r.Method).Inc()
	})
}

// IdempotencyMiddleware requires an Idempotency-Key on the routes it wraps
// and replays the stored response of a repeated key. Only final outcomes
// are stored.
func IdempotencyMiddleware(idemp *idempotency.Idempotency, logger observability.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing Idempotency-Key", Code: "invalid_input"})
				return
			}
			if len(key) < 16 {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid Idempotency-Key", Code: "invalid_input"})
				return
			}

			ctx := idempotency.WithScope(r.Context(), r.Method+" "+r.URL.Path)
			existing, err := idemp.Get(ctx, key)
			if err != nil {
				logger.WithError(err).Warn("idempotency lookup failed")
			}
			if existing != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(existing.Status)
				w.Write(existing.Result)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			var body bytes.Buffer
			ww.Tee(&body)
			next.ServeHTTP(ww, r)

			if !idempotency.Cacheable(ww.Status()) {
				return
			}
			if err := idemp.Set(ctx, key, idempotency.Response{Status: ww.Status(), Result: body.Bytes()}); err != nil {
				logger.WithError(err).Warn("failed to store idempotent response")
			}
		})
	}
}

// Limiter admits or rejects one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string, rate int, period time.Duration) bool
}

// RateLimitMiddleware applies perMinute to the requester named in
// RequesterHeader and ten times that to the client address.
func RateLimitMiddleware(rl Limiter, perMinute int) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requester := r.Header.Get(RequesterHeader); requester != "" {
				if !rl.Allow(r.Context(), "requester:"+requester, perMinute, time.Minute) {
					writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Code: "rate_limited"})
					return
				}
			}
			if !rl.Allow(r.Context(), "ip:"+clientIP(r), perMinute*10, time.Minute) {
				writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Code: "rate_limited"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), otelhttp.HeaderCarrier(r.Header))
		tracer := otel.Tracer("http")
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.url", r.URL.String()),
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", ww.Status()))
	})
}
