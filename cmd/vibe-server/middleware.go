package main

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
)

const rateLimitMessage = "Too many requests from this IP, please try again later."

// originPolicy decides which browser origins may call the API.
type originPolicy struct {
	allowAll bool
	origins  []string
}

func newOriginPolicy(cfg Config) originPolicy {
	return originPolicy{
		allowAll: strings.EqualFold(cfg.Env, "local") || slices.Contains(cfg.AllowedOrigins, "*"),
		origins:  cfg.AllowedOrigins,
	}
}

func (p originPolicy) allowed(origin string) bool {
	return origin == "" || p.allowAll || slices.Contains(p.origins, origin)
}

func corsMiddleware(p originPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		if origin != "" && p.allowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
		c.Header("Access-Control-Expose-Headers", "RateLimit-Limit, RateLimit-Remaining, RateLimit-Reset, Content-Disposition")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

type rateWindow struct {
	start time.Time
	count int
}

// rateLimiter is a fixed-window per-IP counter held in an LRU of at most size windows.
type rateLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	windows *lru.Cache[string, *rateWindow]
	now     func() time.Time
}

func newRateLimiter(max int, window time.Duration, size int) (*rateLimiter, error) {
	cache, err := lru.New[string, *rateWindow](size)
	if err != nil {
		return nil, err
	}
	return &rateLimiter{max: max, window: window, windows: cache, now: time.Now}, nil
}

// allow records a hit for key and reports whether it is within the limit.
func (l *rateLimiter) allow(key string) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, found := l.windows.Get(key)
	if !found || now.Sub(w.start) >= l.window {
		w = &rateWindow{start: now}
		l.windows.Add(key, w)
	}
	w.count++
	reset = w.start.Add(l.window)
	if w.count > l.max {
		return 0, reset, false
	}
	return l.max - w.count, reset, true
}

func (l *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		remaining, reset, ok := l.allow(c.ClientIP())
		secs := int(reset.Sub(l.now()).Round(time.Second) / time.Second)
		if secs < 0 {
			secs = 0
		}
		c.Header("RateLimit-Limit", strconv.Itoa(l.max))
		c.Header("RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("RateLimit-Reset", strconv.Itoa(secs))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": rateLimitMessage})
			return
		}
		c.Next()
	}
}

func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
