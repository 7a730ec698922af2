package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/relay-go/infrastructure/logging"
)

type contextKey string

const callerIDKey contextKey = "caller_id"

// OwnerHeader carries the caller identity. Absent means identity is
// disabled and ownership checks are skipped.
const OwnerHeader = "X-User-Id"

// withCallerID resolves the optional caller identity from the request
// headers into the context.
func withCallerID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(OwnerHeader)); id != "" {
			r = r.WithContext(context.WithValue(r.Context(), callerIDKey, id))
		}
		next.ServeHTTP(w, r)
	})
}

// callerID returns the caller identity, or empty when identity is
// disabled.
func callerID(r *http.Request) string {
	if id, ok := r.Context().Value(callerIDKey).(string); ok {
		return id
	}
	return ""
}

// statusWriter captures the response status for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// withRequestLogging logs one line per request.
func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		logging.Info().
			Add(logging.Str("method", r.Method)).
			Add(logging.Str("path", r.URL.Path)).
			Add(logging.StatusCode(sw.status)).
			Add(logging.Str("duration_ms", strconv.FormatInt(time.Since(start).Milliseconds(), 10))).
			Msg("http request")
	})
}
