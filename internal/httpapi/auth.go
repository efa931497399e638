package httpapi

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyHeader carries the status server key
const APIKeyHeader = "X-API-Key"

// AuthMiddleware rejects status requests whose X-API-Key differs from apiKey.
// An empty apiKey leaves the status server open, which is meant for local use.
func AuthMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}

	want := []byte(apiKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get(APIKeyHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			w.Header().Set("WWW-Authenticate", `APIKey header="`+APIKeyHeader+`"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
