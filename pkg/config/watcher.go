package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// settleDelay 编辑器保存一次文件通常产生多个事件，合并为一次回调
const settleDelay = 100 * time.Millisecond

// startWatch 开始监控配置文件，调用方持有 mu
func (c *Config) startWatch() {
	c.viper.OnConfigChange(c.handleEvent)
	c.viper.WatchConfig()
	c.watching = true
}

// handleEvent 处理一次文件事件
// 保护模式下立即还原文件；否则在 settleDelay 内合并事件后回调 onChange
func (c *Config) handleEvent(e fsnotify.Event) {
	if c.restoring.Load() || e.Op == fsnotify.Chmod {
		return
	}

	c.mu.Lock()
	if !c.watching {
		c.mu.Unlock()
		return
	}
	if c.protected {
		snap := append([]byte(nil), c.snap...)
		c.mu.Unlock()
		c.restore(snap)
		return
	}
	if c.settle != nil {
		c.settle.Stop()
	}
	c.settle = time.AfterFunc(settleDelay, func() { c.notifyChange(e) })
	c.mu.Unlock()
}

func (c *Config) notifyChange(e fsnotify.Event) {
	c.mu.RLock()
	watching := c.watching
	onChange := c.onChange
	c.mu.RUnlock()

	if !watching {
		return
	}
	c.log.Info("config changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
	if onChange != nil {
		onChange(c)
	}
}

// StopWatch 停止回调
// viper 不支持关闭底层 fsnotify watcher，这里只让后续事件失效
func (c *Config) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = false
	if c.settle != nil {
		c.settle.Stop()
		c.settle = nil
	}
}

// StartWatch 开始监控配置文件，重复调用无副作用
func (c *Config) StartWatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watching {
		return nil
	}
	if c.viper.ConfigFileUsed() == "" {
		return ErrConfigNotFound.WithMessage("config: no file to watch")
	}
	c.startWatch()
	return nil
}

// SetProtected 切换保护模式，开启时以当前文件内容作为快照
func (c *Config) SetProtected(protected bool) {
	c.mu.Lock()
	c.protected = protected
	var err error
	if protected {
		err = c.saveSnapshot()
	}
	c.mu.Unlock()

	if err != nil {
		c.reportError(err)
	}
}

// IsProtected 是否处于保护模式
func (c *Config) IsProtected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protected
}

// saveSnapshot 读取当前文件作为快照，调用方持有 mu
// 错误由调用方在释放锁后报告
func (c *Config) saveSnapshot() error {
	file := c.viper.ConfigFileUsed()
	if file == "" {
		return nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("config: snapshot %s: %w", file, err)
	}
	c.snap = data
	return nil
}

// restore 用快照覆盖被外部修改的文件（临时文件 + rename），然后重新读取
func (c *Config) restore(content []byte) {
	file := c.viper.ConfigFileUsed()
	if content == nil || file == "" {
		return
	}

	// 还原产生的事件稍后才会送达，内容与快照一致时不再处理
	if current, err := os.ReadFile(file); err == nil && bytes.Equal(current, content) {
		return
	}

	c.restoring.Store(true)
	defer c.restoring.Store(false)

	if err := replaceFile(file, content); err != nil {
		c.reportError(err)
		return
	}

	c.mu.Lock()
	err := c.viper.ReadInConfig()
	c.mu.Unlock()
	if err != nil {
		c.reportError(fmt.Errorf("config: reload after restore: %w", err))
		return
	}
	c.log.Warn("protected config file restored", zap.String("file", file))
}

func replaceFile(file string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(file), ".config-restore-*")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	name := tmp.Name()

	_, werr := tmp.Write(content)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(name, file)
	}
	if werr != nil {
		_ = os.Remove(name)
		return fmt.Errorf("config: restore %s: %w", file, werr)
	}
	return nil
}

// reportError 优先交给 onError，否则记录日志
func (c *Config) reportError(err error) {
	c.mu.RLock()
	onError := c.onError
	c.mu.RUnlock()

	if onError != nil {
		onError(err)
		return
	}
	c.log.Error("config watcher error", zap.Error(err))
}
