package httpapi

import (
	"net/http"

	"codeforge/internal/shared/logging"
)

const maxRequestBodyBytes = 2 << 20 // 2MiB; webhook/generation/index bodies are small JSON documents

// NewRouter builds codeforge's HTTP edge: webhook ingestion, job
// submission, and job-status lookup, wrapped in the same
// logging/observability/CORS middleware stack regardless of route.
func NewRouter(deps RouterDeps, cfg RouterConfig) http.Handler {
	logger := logging.OrNop(deps.Logger).With("component", "httpapi")

	webhookHandler := newWebhookHandler(deps, logger)
	generationHandler := newGenerationHandler(deps, logger)
	indexHandler := newIndexHandler(deps, logger)

	mux := http.NewServeMux()

	mux.Handle("POST /webhook", routeHandler("/webhook", http.HandlerFunc(webhookHandler.handlePush)))

	mux.Handle("POST /generation", routeHandler("/generation", http.HandlerFunc(generationHandler.handleCreate)))
	mux.Handle("GET /generation/{jobId}", routeHandler("/generation/:jobId", http.HandlerFunc(generationHandler.handleStatus)))
	mux.Handle("GET /generation/{jobId}/details", routeHandler("/generation/:jobId/details", http.HandlerFunc(generationHandler.handleDetails)))

	mux.Handle("POST /index", routeHandler("/index", http.HandlerFunc(indexHandler.handleCreate)))
	mux.Handle("GET /index/{jobId}", routeHandler("/index/:jobId", http.HandlerFunc(indexHandler.handleStatus)))

	mux.Handle("GET /health", routeHandler("/health", http.HandlerFunc(handleHealth)))

	if deps.Metrics != nil {
		mux.Handle("GET /metrics", routeHandler("/metrics", deps.Metrics.Handler()))
	}

	var handler http.Handler = mux
	handler = ObservabilityMiddleware(deps.Metrics)(handler)
	handler = LoggingMiddleware(logger)(handler)
	handler = RecoverMiddleware(logger)(handler)
	handler = RequestSizeMiddleware(maxRequestBodyBytes)(handler)
	handler = CompressionMiddleware()(handler)
	handler = CORSMiddleware(cfg.Environment, cfg.AllowedOrigins)(handler)

	return handler
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
