package realtime

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/logger"
)

// Handler 事件处理函数
type Handler func(Event)

// Subscription 一次订阅的句柄
// 同一个函数多次 On 会得到互相独立的订阅
type Subscription struct {
	event string
	id    uint64
	reg   *Registry
	once  sync.Once
}

// Event 订阅的事件名
func (s *Subscription) Event() string {
	return s.event
}

// Unsubscribe 取消订阅，可重复调用
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.reg.remove(s.event, s.id)
	})
}

type entry struct {
	id      uint64
	handler Handler
}

// Registry 进程内事件订阅表
// Emit 同步调用当前订阅者，单个处理函数 panic 不影响其余订阅者
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]entry
	nextID   atomic.Uint64
	log      logger.Logger

	// OnPanic 处理函数 panic 时回调（用于指标统计）
	OnPanic func(event string, recovered any)
}

// NewRegistry 创建订阅表
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		handlers: make(map[string][]entry),
		log:      log,
	}
}

// On 订阅事件
func (r *Registry) On(event string, h Handler) *Subscription {
	sub := &Subscription{event: event, id: r.nextID.Add(1), reg: r}

	r.mu.Lock()
	r.handlers[event] = append(r.handlers[event], entry{id: sub.id, handler: h})
	r.mu.Unlock()

	return sub
}

// Off 取消订阅
func (r *Registry) Off(sub *Subscription) {
	if sub == nil || sub.reg != r {
		return
	}
	sub.Unsubscribe()
}

func (r *Registry) remove(event string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[event]
	for i, e := range list {
		if e.id != id {
			continue
		}
		// 复制而不是原地修改，正在进行的 Emit 持有旧切片
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, event)
		} else {
			r.handlers[event] = next
		}
		return
	}
}

// Emit 同步分发事件，返回被调用的订阅者数量
func (r *Registry) Emit(e Event) int {
	r.mu.RLock()
	list := r.handlers[e.Name]
	r.mu.RUnlock()

	for _, en := range list {
		r.call(e, en.handler)
	}
	return len(list)
}

func (r *Registry) call(e Event, h Handler) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("event handler panicked",
				zap.String("event", e.Name),
				zap.String("panic", fmt.Sprint(rec)),
				zap.Stack("stack"),
			)
			if r.OnPanic != nil {
				r.OnPanic(e.Name, rec)
			}
		}
	}()
	h(e)
}

// Count 返回事件的订阅者数量
func (r *Registry) Count(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}

// Events 返回存在订阅者的事件名
func (r *Registry) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Clear 移除全部订阅
func (r *Registry) Clear() {
	r.mu.Lock()
	r.handlers = make(map[string][]entry)
	r.mu.Unlock()
}
