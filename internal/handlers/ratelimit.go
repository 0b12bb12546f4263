package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitByIP limits requests per client IP to requestsPerMinute.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

// RateLimitByQuery limits requests per value of the query parameter param.
// Requests without the parameter share one bucket.
func RateLimitByQuery(param string, requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return r.URL.Query().Get(param), nil
		}),
		httprate.WithLimitHandler(tooManyRequests),
	)
}

// forPath applies mw only to requests for path. huma operations are
// registered on the root router, so per-route chi middleware is attached
// this way.
func forPath(path string, mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == path {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusTooManyRequests, "Too many requests, please slow down")
}
