package cache

import (
	"net/http"

	"github.com/tokmz/sitesync/pkg/errors"
)

// 3000 段错误码：缓存
var (
	ErrNotFound      = errors.New(3001, http.StatusNotFound, "cache: key not found", nil)
	ErrConnection    = errors.New(3003, http.StatusServiceUnavailable, "cache: connection failed", nil)
	ErrSerialization = errors.New(3004, http.StatusInternalServerError, "cache: serialization failed", nil)
	ErrInvalidConfig = errors.New(3005, http.StatusInternalServerError, "cache: invalid config", nil)
	ErrOperation     = errors.New(3006, http.StatusInternalServerError, "cache: operation failed", nil)
)

// IsNotFound 未命中不是故障，调用方通常据此回源
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
