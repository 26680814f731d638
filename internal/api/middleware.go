package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/seturahealth/vaccine-slot-booking/internal/booking"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	citizenKey   contextKey = "citizen"
	adminIDKey   contextKey = "admin_id"
)

// RequestIDMiddleware adds a unique request ID to each request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs HTTP requests with method, path, status, duration, and request ID
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap ResponseWriter to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		requestID := GetRequestID(r.Context())

		log.Printf(
			"method=%s path=%s status=%d duration=%s request_id=%s",
			r.Method,
			r.URL.Path,
			wrapped.statusCode,
			duration,
			requestID,
		)
	})
}

// CitizenMiddleware extracts the authenticated citizen from the gateway
// headers. Routes behind it can assume both values are present.
func CitizenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		citizenID, err := uuid.Parse(r.Header.Get("X-Citizen-ID"))
		nationalID := r.Header.Get("X-National-ID")
		if err != nil || nationalID == "" {
			writeError(w, http.StatusUnauthorized, "citizen identity headers are required")
			return
		}

		ctx := context.WithValue(r.Context(), citizenKey, booking.Citizen{
			ID:         citizenID,
			NationalID: nationalID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminMiddleware extracts the acting admin id for staff-only routes.
func AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		adminID, err := uuid.Parse(r.Header.Get("X-Admin-ID"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "admin identity header is required")
			return
		}

		ctx := context.WithValue(r.Context(), adminIDKey, adminID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func citizenFrom(ctx context.Context) (booking.Citizen, bool) {
	c, ok := ctx.Value(citizenKey).(booking.Citizen)
	return c, ok
}

func adminFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(adminIDKey).(uuid.UUID)
	return id, ok
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

