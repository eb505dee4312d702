package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/optinbot/widget/pkg/utils"
)

// RateLimit bounds requests per client address. Limiters for idle clients expire.
func RateLimit(limit rate.Limit, burst int) func(http.Handler) http.Handler {
	limiters := expirable.NewLRU[string, *rate.Limiter](8192, nil, 10*time.Minute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			limiter, ok := limiters.Get(key)
			if !ok {
				limiter = rate.NewLimiter(limit, burst)
				limiters.Add(key, limiter)
			}
			if !limiter.Allow() {
				utils.RespondError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
