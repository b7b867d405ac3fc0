package middleware

import "net/http"

// MaxBodyBytes caps request body size at n bytes, rejecting oversized
// JSON payloads before they reach handler decode logic.
func MaxBodyBytes(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
