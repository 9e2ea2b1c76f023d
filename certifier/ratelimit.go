package certifier

import (
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// sourceLimiter rate-limits requests per client IP ahead of the CPU
// admission Gate (spec.md section 9: a noisy single source should be
// throttled before it can exhaust the shared semaphore/queue). Grounded
// on the teacher's token-bucket limiter in pkg/node/rpc_handler.go,
// reimplemented on golang.org/x/time/rate rather than the teacher's
// hand-rolled bucket.
type sourceLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newSourceLimiter(rps float64, burst int) *sourceLimiter {
	return &sourceLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (s *sourceLimiter) allow(ip string) bool {
	s.mu.Lock()
	lim, ok := s.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(s.rps, s.burst)
		s.limiters[ip] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}

// extractIP mirrors the teacher's rpc_handler.go extractIP: prefer
// X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func extractIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	if i := strings.LastIndexByte(r.RemoteAddr, ':'); i >= 0 {
		return r.RemoteAddr[:i]
	}
	return r.RemoteAddr
}
