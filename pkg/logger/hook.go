package logger

import (
	"errors"

	"go.uber.org/zap/zapcore"
)

// Hook 每条实际写出的日志都会经过 Hook，常用于按级别计数
type Hook interface {
	OnWrite(entry zapcore.Entry, fields []zapcore.Field) error
}

// HookFunc 函数适配 Hook
type HookFunc func(entry zapcore.Entry, fields []zapcore.Field) error

func (f HookFunc) OnWrite(entry zapcore.Entry, fields []zapcore.Field) error {
	return f(entry, fields)
}

// hookCore 在写入前依次调用 hooks
// hook 出错不阻止写入，错误与写入结果一并返回给 zap
type hookCore struct {
	zapcore.Core
	hooks []Hook
}

func newHookCore(core zapcore.Core, hooks []Hook) zapcore.Core {
	if len(hooks) == 0 {
		return core
	}
	return &hookCore{Core: core, hooks: hooks}
}

func (c *hookCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	var errs []error
	for _, h := range c.hooks {
		if err := h.OnWrite(entry, fields); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, c.Core.Write(entry, fields))
	return errors.Join(errs...)
}

func (c *hookCore) With(fields []zapcore.Field) zapcore.Core {
	return &hookCore{Core: c.Core.With(fields), hooks: c.hooks}
}

func (c *hookCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}
