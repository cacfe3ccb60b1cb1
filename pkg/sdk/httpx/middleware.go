package httpx

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/nicktill/tinylog/pkg/record"
)

const (
	// RequestIDHeader carries the request identifier in and out
	RequestIDHeader = "X-Request-ID"

	// Category is the category of request records
	Category = "http"
)

// Emitter is the part of sdk.Client the middleware needs
type Emitter interface {
	Emit(level record.Level, category, message string, err error)
}

var (
	numericSegment = regexp.MustCompile(`/\d+\b`)
	uuidSegment    = regexp.MustCompile(`/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// Middleware returns HTTP middleware that emits one log record per request.
// The record carries method, normalized path, status, duration and request ID.
// Level follows the status: 5xx is error, 4xx is warning, anything else info.
//
// Usage:
//
//	client, _ := sdk.New(q, sdk.ClientConfig{Service: "api"})
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/", handler)
//	handler := httpx.Middleware(client)(mux)
//	http.ListenAndServe(":8080", handler)
func Middleware(emitter Emitter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
				r.Header.Set(RequestIDHeader, requestID)
			}
			w.Header().Set(RequestIDHeader, requestID)

			// Wrap ResponseWriter to capture status code
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			msg := fmt.Sprintf("%s %s %d %s request_id=%s",
				r.Method, normalizePath(r.URL.Path), rw.statusCode,
				time.Since(start).Round(time.Microsecond), requestID)

			emitter.Emit(levelForStatus(rw.statusCode), Category, msg, nil)
		})
	}
}

func levelForStatus(status int) record.Level {
	switch {
	case status >= 500:
		return record.LevelError
	case status >= 400:
		return record.LevelWarning
	default:
		return record.LevelInfo
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes paths so request records group cleanly.
// Examples:
//   - /api/users/123 → /api/users/{id}
//   - /posts/456/comments → /posts/{id}/comments
func normalizePath(path string) string {
	path = uuidSegment.ReplaceAllString(path, "/{id}")
	path = numericSegment.ReplaceAllString(path, "/{id}")
	return path
}
