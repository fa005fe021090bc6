package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SecurityHeaders adds the response headers every operator-facing endpoint carries.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// ScrapeLimit throttles each client address to perMin requests per minute with
// the given burst. Idle clients are forgotten after staleAfter; the sweeper
// stops when ctx is done.
func ScrapeLimit(ctx context.Context, perMin, burst int) func(http.Handler) http.Handler {
	return scrapeLimit(ctx, perMin, burst, 3*time.Minute, time.Minute)
}

func scrapeLimit(ctx context.Context, perMin, burst int, staleAfter, sweepEvery time.Duration) func(http.Handler) http.Handler {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var mu sync.Mutex
	clients := make(map[string]*client)

	go func() {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				mu.Lock()
				for addr, c := range clients {
					if time.Since(c.lastSeen) > staleAfter {
						delete(clients, addr)
					}
				}
				mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := remoteHost(r)

			mu.Lock()
			c, ok := clients[addr]
			if !ok {
				c = &client{limiter: rate.NewLimiter(rate.Limit(perMin)/60.0, burst)}
				clients[addr] = c
			}
			c.lastSeen = time.Now()
			mu.Unlock()

			if !c.limiter.Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// remoteHost returns the TCP peer address without its port. Forwarding
// headers are ignored; the metrics listener is not meant to sit behind a proxy.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
