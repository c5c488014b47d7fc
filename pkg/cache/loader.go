package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader 读穿缓存（防击穿）
// 未命中时调用 load 并写回，同一 key 的并发未命中只调用一次 load
type Loader[T any] struct {
	cache Cache
	ttl   time.Duration
	group singleflight.Group
}

// NewLoader 创建读穿缓存
func NewLoader[T any](c Cache, ttl time.Duration) *Loader[T] {
	return &Loader[T]{cache: c, ttl: ttl}
}

// Load 读取 key，未命中时调用 load
// 缓存读写失败不影响结果，只有 load 的错误会返回
func (l *Loader[T]) Load(ctx context.Context, key string, load func(ctx context.Context) (T, error)) (T, error) {
	var v T
	if err := l.cache.Get(ctx, key, &v); err == nil {
		return v, nil
	}

	res, err, _ := l.group.Do(key, func() (any, error) {
		var cached T
		if err := l.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
		fresh, err := load(ctx)
		if err != nil {
			return fresh, err
		}
		_ = l.cache.Set(ctx, key, fresh, l.ttl)
		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// Forget 删除缓存，下次 Load 会重新调用 load
func (l *Loader[T]) Forget(ctx context.Context, key string) error {
	l.group.Forget(key)
	if err := l.cache.Delete(ctx, key); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}
