// Package credential provides bearer-token sources for the realtime client.
//
// Every source returns ("", nil) when no token is currently available; callers treat that
// as "not signed in" rather than as a failure.
package credential

import (
	"context"
	stderrors "errors"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tokmz/sitesync/pkg/cache"
	"github.com/tokmz/sitesync/pkg/errors"
)

// Source 令牌来源，与 realtime.TokenSource 相同
type Source interface {
	Token(ctx context.Context) (string, error)
}

// Func 函数适配 Source
type Func func(ctx context.Context) (string, error)

// Token 实现 Source
func (f Func) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static 固定令牌
func Static(token string) Source {
	return Func(func(context.Context) (string, error) { return token, nil })
}

// Env 每次读取环境变量
func Env(name string) Source {
	return Func(func(context.Context) (string, error) {
		return strings.TrimSpace(os.Getenv(name)), nil
	})
}

// Chain 依次尝试，返回第一个非空令牌；全部为空时返回遇到的错误
func Chain(sources ...Source) Source {
	return Func(func(ctx context.Context) (string, error) {
		var errs []error
		for _, s := range sources {
			token, err := s.Token(ctx)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if token != "" {
				return token, nil
			}
		}
		return "", errors.Join(errs...)
	})
}

// Expired 判断 JWT 是否在 leeway 内过期，不是 JWT 或没有 exp 时返回 false
// 只解析不验签，签名由服务端校验
func Expired(token string, leeway time.Duration) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.Time.After(time.Now().Add(leeway))
}

// NotExpired 过滤已过期的 JWT，过期时视为没有令牌
func NotExpired(src Source, leeway time.Duration) Source {
	return Func(func(ctx context.Context) (string, error) {
		token, err := src.Token(ctx)
		if err != nil || token == "" {
			return token, err
		}
		if Expired(token, leeway) {
			return "", nil
		}
		return token, nil
	})
}

var errNoToken = stderrors.New("credential: no token")

// Cached 从缓存读取令牌，未命中或已过期时调用 fetch 并写回
// 并发未命中只调用一次 fetch；空令牌不写入缓存
func Cached(c cache.Cache, key string, ttl time.Duration, fetch Source) Source {
	loader := cache.NewLoader[string](c, ttl)
	load := func(ctx context.Context) (string, error) {
		token, err := fetch.Token(ctx)
		if err != nil {
			return "", err
		}
		if token == "" {
			return "", errNoToken
		}
		return token, nil
	}

	return Func(func(ctx context.Context) (string, error) {
		token, err := loader.Load(ctx, key, load)
		if err == nil && Expired(token, 0) {
			_ = loader.Forget(ctx, key)
			token, err = loader.Load(ctx, key, load)
		}
		if stderrors.Is(err, errNoToken) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		if Expired(token, 0) {
			return "", nil
		}
		return token, nil
	})
}
