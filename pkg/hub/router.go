package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tokmz/sitesync/pkg/protocol"
)

// Handler 帧处理器；请求帧的返回值决定应答结果
type Handler func(ctx context.Context, c *Client, f protocol.Frame) error

// NextFunc 中间件下一步函数
type NextFunc func() error

// MiddlewareFunc 中间件函数
type MiddlewareFunc func(ctx context.Context, c *Client, f protocol.Frame, next NextFunc) error

// Router 帧路由器
type Router struct {
	handlers   map[string]Handler
	middleware []MiddlewareFunc
	compiled   map[string]Handler
	mu         sync.RWMutex
	frozen     bool
}

// NewRouter 创建路由器
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register 注册处理器
func (r *Router) Register(event string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRouterFrozen
	}
	if _, ok := r.handlers[event]; ok {
		return ErrHandlerExists.WithMessagef("hub: handler for %q already registered", event)
	}
	r.handlers[event] = h
	return nil
}

// Use 添加中间件
func (r *Router) Use(mw ...MiddlewareFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRouterFrozen
	}
	r.middleware = append(r.middleware, mw...)
	return nil
}

// Freeze 冻结路由器并预编译处理器链
func (r *Router) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	r.frozen = true

	r.compiled = make(map[string]Handler, len(r.handlers))
	for event, h := range r.handlers {
		r.compiled[event] = chain(r.middleware, h)
	}
}

// Route 路由帧
func (r *Router) Route(ctx context.Context, c *Client, f protocol.Frame) error {
	r.mu.RLock()
	if r.frozen {
		h, ok := r.compiled[f.Event]
		r.mu.RUnlock()
		if !ok {
			return ErrHandlerNotFound.WithMessagef("hub: unknown event %q", f.Event)
		}
		return h(ctx, c, f)
	}
	h, ok := r.handlers[f.Event]
	mw := r.middleware
	r.mu.RUnlock()

	if !ok {
		return ErrHandlerNotFound.WithMessagef("hub: unknown event %q", f.Event)
	}
	return chain(mw, h)(ctx, c, f)
}

func chain(mw []MiddlewareFunc, h Handler) Handler {
	final := h
	for i := len(mw) - 1; i >= 0; i-- {
		m, next := mw[i], final
		final = func(ctx context.Context, c *Client, f protocol.Frame) error {
			return m(ctx, c, f, func() error {
				return next(ctx, c, f)
			})
		}
	}
	return final
}

// HandlerFunc 泛型处理器，载荷解码为 Req
type HandlerFunc[Req any] func(ctx context.Context, c *Client, req *Req) error

// Handle 注册泛型处理器
func Handle[Req any](r *Router, event string, h HandlerFunc[Req]) error {
	return r.Register(event, func(ctx context.Context, c *Client, f protocol.Frame) error {
		var req Req
		if len(f.Data) > 0 {
			if err := json.Unmarshal(f.Data, &req); err != nil {
				return ErrInvalidFrame.WithMessage("invalid request data").WithError(err)
			}
		}
		return h(ctx, c, &req)
	})
}
