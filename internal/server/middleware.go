// Package server implements the HTTP API for the backplane.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/overcast-ai/backplane/internal/fault"
	"github.com/overcast-ai/backplane/internal/model"
	"github.com/overcast-ai/backplane/internal/routing"
	"github.com/overcast-ai/backplane/internal/telemetry"
)

type contextKey string

const (
	contextKeyRequestID contextKey = "request_id"
	contextKeyIdentity  contextKey = "identity"
)

// Identity headers. Tenant and mode are mandatory on every /v1 route; env
// defaults to "prod" and project to the tenant-wide scope.
const (
	headerTenant  = "X-Backplane-Tenant"
	headerEnv     = "X-Backplane-Env"
	headerProject = "X-Backplane-Project"
	headerMode    = "X-Backplane-Mode"
	headerUser    = "X-Backplane-User"
	headerActor   = "X-Backplane-Actor"
)

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// IdentityFromContext extracts the caller identity from the context.
func IdentityFromContext(ctx context.Context) (routing.Identity, bool) {
	v, ok := ctx.Value(contextKeyIdentity).(routing.Identity)
	return v, ok
}

// requestIDMiddleware assigns a unique request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), contextKeyRequestID, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identityMiddleware parses the identity headers and rejects requests with a
// missing tenant or an unknown mode before any handler runs. Health stays
// open.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		id := routing.Identity{
			TenantID:  r.Header.Get(headerTenant),
			Env:       r.Header.Get(headerEnv),
			ProjectID: r.Header.Get(headerProject),
			UserID:    r.Header.Get(headerUser),
			Mode:      model.Mode(r.Header.Get(headerMode)),
		}
		if id.Env == "" {
			id.Env = "prod"
		}
		if id.TenantID == "" {
			writeFault(w, r, fault.Validation("header %s is required", headerTenant))
			return
		}
		if !model.ValidMode(id.Mode) {
			writeFault(w, r, fault.Validation("header %s must be one of saas, enterprise, system, lab", headerMode))
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyIdentity, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each request with structured fields.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestIDFromContext(r.Context()),
		}
		if tid := traceIDFromContext(r.Context()); tid != "" {
			attrs = append(attrs, "trace_id", tid)
		}
		if id, ok := IdentityFromContext(r.Context()); ok {
			attrs = append(attrs, "tenant_id", id.TenantID, "mode", string(id.Mode))
		}

		level := slog.LevelInfo
		if wrapped.statusCode >= 500 {
			level = slog.LevelError
		} else if wrapped.statusCode >= 400 {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http request", attrs...)
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

var (
	tracer    = otel.Tracer("backplane/http")
	httpMeter = telemetry.Meter("backplane/http")
)

// tracingMiddleware creates an OTEL span for each HTTP request and records
// request count and duration metrics.
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
				attribute.String("http.request_id", RequestIDFromContext(r.Context())),
			),
		)
		defer span.End()

		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		duration := time.Since(start)
		span.SetAttributes(attribute.Int("http.status_code", wrapped.statusCode))

		attrs := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.String("http.status_code", strconv.Itoa(wrapped.statusCode)),
		}
		if id, ok := IdentityFromContext(ctx); ok {
			span.SetAttributes(
				attribute.String("backplane.tenant_id", id.TenantID),
				attribute.String("backplane.mode", string(id.Mode)),
			)
			attrs = append(attrs, attribute.String("backplane.tenant_id", id.TenantID))
		}

		// Best-effort metrics; instruments are lazily created.
		if counter, err := httpMeter.Int64Counter("http.server.request_count"); err == nil {
			counter.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
		}
		if hist, err := httpMeter.Float64Histogram("http.server.duration",
			otelmetric.WithUnit("ms")); err == nil {
			hist.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(attrs...))
		}
	})
}

// traceIDFromContext extracts the OTEL trace ID from the context, if any.
func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the standard error envelope.
func writeError(w http.ResponseWriter, status int, code, message string, resourceKind model.ResourceKind) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:         code,
			Message:      message,
			HTTPStatus:   status,
			ResourceKind: resourceKind,
		},
	})
}

// writeFault maps a service error onto the error envelope. Typed errors keep
// their code and status; anything else is an opaque 500.
func writeFault(w http.ResponseWriter, _ *http.Request, err error) {
	if fe, ok := fault.AsError(err); ok {
		writeError(w, fe.HTTPStatus, fe.Code, fe.Message, model.ResourceKind(fe.ResourceKind))
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", "internal server error", "")
}

// decodeJSON decodes a JSON request body into the target struct.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any, maxBytes int64) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

// handleDecodeError writes the right envelope for a body decode failure.
func handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "request.too_large",
			fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), "")
		return
	}
	writeFault(w, r, fault.Validation("invalid request body: %v", err))
}
