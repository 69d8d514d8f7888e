// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"net/http"
)

// FingerprintHeader is the HTTP header carrying the anonymous client
// fingerprint used for rate limiting and upvote dedupe.
const FingerprintHeader = "X-Client-Fingerprint"

// Fingerprint is a middleware that copies the client fingerprint header into
// the request context so downstream handlers and the logging middleware can
// read it. Requests without the header pass through unchanged; write
// endpoints enforce its presence themselves.
func Fingerprint(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fp := r.Header.Get(FingerprintHeader); fp != "" {
			r = r.WithContext(SetFingerprint(r.Context(), fp))
		}
		next.ServeHTTP(w, r)
	})
}
