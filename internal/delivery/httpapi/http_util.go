package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	cferrors "codeforge/internal/shared/errors"
)

// writeJSON serializes payload as JSON and writes it with status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// writeJSONError maps err to a status via its cferrors.Kind (falling
// back to defaultStatus for unclassified errors) and writes a uniform
// {"error": "..."} body.
func writeJSONError(w http.ResponseWriter, err error, defaultStatus int, defaultMsg string) {
	status := defaultStatus
	msg := defaultMsg
	if err != nil {
		if kind := cferrors.KindOf(err); kind != "" {
			status = kind.HTTPStatus()
		}
		msg = err.Error()
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return cferrors.Wrap(cferrors.KindInvalidInput, "request body is not valid JSON", err)
	}
	return nil
}

// clientIP extracts the client IP from common proxy headers or the
// remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return strings.Trim(r.RemoteAddr, "[]")
}
