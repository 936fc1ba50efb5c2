package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"bidding-service/pkg/response"

	"golang.org/x/time/rate"
)

// KeyFunc extracts the caller key a limiter is kept for.
type KeyFunc func(r *http.Request) string

// idleAfter is how long a caller's limiter is kept without traffic. It is
// longer than a full refill, so a dropped limiter would have been full anyway.
const idleAfter = 2 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*entry
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

func newLimiterStore(limit rate.Limit, burst int) *limiterStore {
	return &limiterStore{
		limiters:  make(map[string]*entry),
		limit:     limit,
		burst:     burst,
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictLocked(now)

	e, ok := s.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[key] = e
	}
	e.lastSeen = now

	return e.limiter
}

// evictLocked drops idle limiters, at most once per idleAfter.
func (s *limiterStore) evictLocked(now time.Time) {
	if now.Sub(s.lastSweep) < idleAfter {
		return
	}
	s.lastSweep = now

	for key, e := range s.limiters {
		if now.Sub(e.lastSeen) >= idleAfter {
			delete(s.limiters, key)
		}
	}
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// PerMinute allows perMinute requests per caller key with a burst of the same size.
// A non-positive perMinute disables limiting.
func PerMinute(log *slog.Logger, perMinute int, key KeyFunc) func(next http.Handler) http.Handler {
	if key == nil {
		key = RemoteIP
	}

	store := newLimiterStore(rate.Every(time.Minute/time.Duration(max(perMinute, 1))), max(perMinute, 1))

	return func(next http.Handler) http.Handler {
		if perMinute <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if !store.get(k).Allow() {
				log.Warn("rate limit exceeded", slog.String("key", k), slog.String("path", r.URL.Path))
				response.Render(w, r, http.StatusTooManyRequests,
					response.Error(string(response.TOO_MANY_REQUESTS), "rate limit exceeded, try again later"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
