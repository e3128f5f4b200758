package httpapi

import (
	"context"
	"net/http"
)

type contextKey string

const canonicalRouteContextKey contextKey = "canonicalRoute"

// annotateRequestRoute stamps r with its canonical (unparameterized)
// route pattern, so downstream middleware can label metrics and logs
// by route instead of by raw, ID-bearing path.
func annotateRequestRoute(r *http.Request, route string) {
	if r == nil || route == "" {
		return
	}
	ctx := context.WithValue(r.Context(), canonicalRouteContextKey, route)
	*r = *r.WithContext(ctx)
}

func routeFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if route, ok := ctx.Value(canonicalRouteContextKey).(string); ok {
		return route
	}
	return ""
}

// routeHandler wraps handler so every request it serves is annotated
// with route before reaching it.
func routeHandler(route string, handler http.Handler) http.Handler {
	if route == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		annotateRequestRoute(r, route)
		handler.ServeHTTP(w, r)
	})
}
