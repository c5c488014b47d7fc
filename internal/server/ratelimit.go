package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/logger"
)

// RateLimitConfig 握手限流配置
type RateLimitConfig struct {
	Rate   float64 // 每秒补充的令牌数
	Burst  int     // 桶容量
	Paths  []string
	Expiry time.Duration // 令牌桶保留时间（默认 30 分钟）

	KeyFunc func(c *gin.Context) string // 默认客户端 IP
	Logger  logger.Logger
}

// tokenBucket 令牌桶
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

func (t *tokenBucket) allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tokens += now.Sub(t.lastRefill).Seconds() * t.refillRate
	if t.tokens > t.maxTokens {
		t.tokens = t.maxTokens
	}
	t.lastRefill = now

	if t.tokens >= 1 {
		t.tokens--
		return true
	}
	return false
}

// limiter 按 key 保存令牌桶，过期清理交给 go-cache
type limiter struct {
	rate    float64
	burst   int
	buckets *gocache.Cache
}

func newLimiter(rate float64, burst int, expiry time.Duration) *limiter {
	return &limiter{
		rate:    rate,
		burst:   burst,
		buckets: gocache.New(expiry, expiry/3),
	}
}

func (l *limiter) bucket(key string) *tokenBucket {
	if v, ok := l.buckets.Get(key); ok {
		return v.(*tokenBucket)
	}
	b := newTokenBucket(l.rate, l.burst)
	if err := l.buckets.Add(key, b, gocache.DefaultExpiration); err != nil {
		// 并发创建，使用先写入的桶
		if v, ok := l.buckets.Get(key); ok {
			return v.(*tokenBucket)
		}
	}
	return b
}

func (l *limiter) allow(key string) bool {
	return l.bucket(key).allow(time.Now())
}

// RateLimit 只对 Paths 中的路径限流，其余请求直接放行
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 30 * time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	paths := make(map[string]struct{}, len(cfg.Paths))
	for _, p := range cfg.Paths {
		paths[p] = struct{}{}
	}
	l := newLimiter(cfg.Rate, cfg.Burst, cfg.Expiry)

	return func(c *gin.Context) {
		if _, ok := paths[c.Request.URL.Path]; !ok {
			c.Next()
			return
		}

		key := cfg.KeyFunc(c)
		if !l.allow(key) {
			cfg.Logger.Warn("handshake rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Request.URL.Path),
				zap.Float64("rate", cfg.Rate),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, Fail(http.StatusTooManyRequests, "too many requests"))
			return
		}
		c.Next()
	}
}
