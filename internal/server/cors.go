package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/sitesync/pkg/protocol"
)

// CORSConfig 跨域配置，浏览器端长轮询需要
type CORSConfig struct {
	// AllowOrigins 允许的源列表，支持 "https://*.example.com"，["*"] 表示全部
	AllowOrigins []string

	AllowMethods  []string
	AllowHeaders  []string
	ExposeHeaders []string

	// AllowCredentials 为 true 时 AllowOrigins 不能为 ["*"]
	AllowCredentials bool

	// MaxAge 预检缓存时间
	MaxAge time.Duration
}

// DefaultCORSConfig 长轮询与发布接口使用的方法和请求头
func DefaultCORSConfig(origins []string) *CORSConfig {
	return &CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"Traceparent",
		},
		ExposeHeaders: []string{protocol.HeaderSocketID},
		MaxAge:        12 * time.Hour,
	}
}

// CORS 跨域中间件，需注册在 engine 上才能响应未匹配路由的预检请求
func CORS(cfg *CORSConfig) gin.HandlerFunc {
	allowAll := len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*"
	allowMethods := strings.Join(cfg.AllowMethods, ", ")
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")
	exposeHeaders := strings.Join(cfg.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	if cfg.AllowCredentials && allowAll {
		panic("server: CORS AllowCredentials cannot be used with AllowOrigins [\"*\"]")
	}

	var wildcards []string
	exact := make(map[string]bool)
	if !allowAll {
		for _, origin := range cfg.AllowOrigins {
			if strings.Contains(origin, "*") {
				wildcards = append(wildcards, origin)
			} else {
				exact[origin] = true
			}
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !allowAll && !matchOrigin(origin, exact, wildcards) {
			c.Next()
			return
		}

		if allowAll {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
		}
		if cfg.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		if exposeHeaders != "" {
			c.Header("Access-Control-Expose-Headers", exposeHeaders)
		}

		// 预检
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", allowMethods)
			c.Header("Access-Control-Allow-Headers", allowHeaders)
			c.Header("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func matchOrigin(origin string, exact map[string]bool, wildcards []string) bool {
	if exact[origin] {
		return true
	}
	for _, pattern := range wildcards {
		if matchWildcard(origin, pattern) {
			return true
		}
	}
	return false
}

// matchWildcard 只支持一个 *，且 * 需匹配至少一个字符
func matchWildcard(origin, pattern string) bool {
	prefix, suffix, ok := strings.Cut(pattern, "*")
	if !ok {
		return origin == pattern
	}
	return strings.HasPrefix(origin, prefix) &&
		strings.HasSuffix(origin, suffix) &&
		len(origin) > len(prefix)+len(suffix)
}
