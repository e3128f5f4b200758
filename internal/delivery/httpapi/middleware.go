package httpapi

import (
	"compress/gzip"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"codeforge/internal/observability"
	"codeforge/internal/shared/logging"
)

// statusRecorder captures the status code a handler writes, so
// surrounding middleware can log or record it after the handler runs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware logs the method, path, and remote address of every
// request, and tags each with an X-Request-Id for log correlation.
func LoggingMiddleware(logger logging.Logger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", reqID)
			reqLogger := logger.With("request_id", reqID)
			reqLogger.Info("%s %s from %s", r.Method, r.URL.Path, clientIP(r))
			next.ServeHTTP(w, r)
		})
	}
}

// ObservabilityMiddleware records a request counter and latency
// histogram per route/method/status via metrics. A nil metrics is a
// no-op, so routers can be built without wiring Prometheus in tests.
func ObservabilityMiddleware(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)
			metrics.Observe(routeLabel(r), r.Method, rec.status, time.Since(start))
		})
	}
}

// routeLabel returns the canonical route routeHandler stamped onto r,
// falling back to the raw path so unmatched requests (404s) still get
// a label.
func routeLabel(r *http.Request) string {
	if route := routeFromContext(r.Context()); route != "" {
		return route
	}
	return r.URL.Path
}

// RecoverMiddleware turns a panicking handler into a 500 instead of
// crashing the process, logging the recovered value.
func RecoverMiddleware(logger logging.Logger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic handling %s %s: %v", r.Method, r.URL.Path, rec)
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware honors environment: anything other than "production"
// allows every origin with a wildcard header (local/dev tooling),
// while production only reflects Access-Control-Allow-Origin (with
// credentials) for origins in allowedOrigins, or an origin a trusted
// reverse proxy vouches for via a Forwarded/X-Forwarded-* header
// matching the request's own Origin. An origin that matches neither
// simply gets no CORS header — the browser enforces the block, the
// server doesn't need to reject the request itself.
func CORSMiddleware(environment string, allowedOrigins []string) func(http.Handler) http.Handler {
	production := strings.EqualFold(strings.TrimSpace(environment), "production")
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimSpace(o)] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" {
				switch {
				case !production:
					w.Header().Set("Access-Control-Allow-Origin", "*")
				case allowed[origin] || origin == forwardedOrigin(r):
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Set("Vary", "Origin")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forwardedOrigin reconstructs the origin a reverse proxy is forwarding
// on behalf of, from either the standard Forwarded header or the
// X-Forwarded-Proto/X-Forwarded-Host pair. Returns "" if neither is
// present.
func forwardedOrigin(r *http.Request) string {
	if fwd := r.Header.Get("Forwarded"); fwd != "" {
		var proto, host string
		for _, part := range strings.Split(fwd, ";") {
			kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(kv[0])) {
			case "proto":
				proto = strings.TrimSpace(kv[1])
			case "host":
				host = strings.TrimSpace(kv[1])
			}
		}
		if proto != "" && host != "" {
			return proto + "://" + host
		}
	}
	if host := r.Header.Get("X-Forwarded-Host"); host != "" {
		proto := r.Header.Get("X-Forwarded-Proto")
		if proto == "" {
			proto = "https"
		}
		return proto + "://" + host
	}
	return ""
}

// gzipResponseWriter wraps an http.ResponseWriter so Write calls flow
// through a gzip.Writer transparently.
type gzipResponseWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (w *gzipResponseWriter) Write(p []byte) (int, error) {
	return w.gz.Write(p)
}

// CompressionMiddleware gzip-compresses responses for clients that sent
// Accept-Encoding: gzip.
func CompressionMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Encoding", "gzip")
			w.Header().Add("Vary", "Accept-Encoding")
			gz := gzip.NewWriter(w)
			defer gz.Close()
			next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, gz: gz}, r)
		})
	}
}

// RequestSizeMiddleware caps every request body to maxBytes.
func RequestSizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
