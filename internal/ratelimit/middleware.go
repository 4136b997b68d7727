package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

type rejection struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"` // seconds until the window resets
}

// Wrap returns a handler that enforces cfg before invoking next. Denied
// requests get a 429 with a JSON body and Retry-After guidance; rate limit
// headers are set on every response.
func (l *Limiter) Wrap(next http.Handler, cfg Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := l.Check(r, cfg)
		for k, v := range Headers(res) {
			w.Header().Set(k, v)
		}

		if !res.Allowed {
			retryAfter := int(res.ResetTime.Sub(l.now()).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(rejection{
				Error:      "Rate limit exceeded",
				Message:    fmt.Sprintf("Too many requests, try again in %d seconds", retryAfter),
				RetryAfter: retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
