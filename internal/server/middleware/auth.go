package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth gates the API behind a static key, accepted either as a Bearer token
// or in the X-API-Key header. An empty key disables the gate, which is the
// paper-trading default.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := requestKey(r)
			if presented == "" {
				denyUnauthorized(w, "missing api key")
				return
			}
			// Constant-time compare; the key guards trading state.
			if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
				denyUnauthorized(w, "invalid api key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestKey pulls the presented key from Authorization: Bearer or X-API-Key.
func requestKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func denyUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
