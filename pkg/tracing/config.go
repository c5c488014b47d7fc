package tracing

import (
	"time"

	"github.com/tokmz/sitesync/pkg/errors"
)

// 导出器类型
const (
	ExporterOTLP     = "otlp"      // OTLP over HTTP
	ExporterOTLPGRPC = "otlp_grpc" // OTLP over gRPC
	ExporterStdout   = "stdout"
	ExporterNoop     = "noop"
)

// ErrInvalidConfig 配置错误
var ErrInvalidConfig = errors.New(1101, 500, "tracing config error", nil)

// Config 链路追踪配置
type Config struct {
	ServiceName        string            `mapstructure:"service_name"`        // 服务名称（必填）
	ServiceVersion     string            `mapstructure:"service_version"`     // 服务版本
	Environment        string            `mapstructure:"environment"`         // 环境（dev/staging/prod）
	ExporterType       string            `mapstructure:"exporter"`            // 导出器类型（otlp/otlp_grpc/stdout/noop）
	ExporterEndpoint   string            `mapstructure:"endpoint"`            // 导出器端点（如 OTLP Collector 地址）
	ExporterHeaders    map[string]string `mapstructure:"headers"`             // 导出器请求头（用于认证）
	Insecure           bool              `mapstructure:"insecure"`            // 是否使用非 TLS 连接
	SamplingRate       float64           `mapstructure:"sampling_rate"`       // 采样率（0.0-1.0）
	SamplingType       string            `mapstructure:"sampling_type"`       // 采样类型（always/never/ratio/parent_based）
	Enabled            bool              `mapstructure:"enabled"`             // 是否启用
	ResourceAttributes map[string]string `mapstructure:"resource_attributes"` // 资源属性（自定义标签）

	// 批处理配置
	BatchTimeout       time.Duration `mapstructure:"batch_timeout"`         // 批量导出超时（默认 5s）
	MaxExportBatchSize int           `mapstructure:"max_export_batch_size"` // 最大批量大小（默认 512）
	MaxQueueSize       int           `mapstructure:"max_queue_size"`        // 最大队列大小（默认 2048）
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "sitesync",
		ServiceVersion:     "1.0.0",
		Environment:        "development",
		ExporterType:       ExporterNoop,
		SamplingRate:       1.0,
		SamplingType:       "parent_based",
		Enabled:            false,
		ResourceAttributes: make(map[string]string),
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrInvalidConfig.WithMessage("tracing: service name is required")
	}

	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return ErrInvalidConfig.WithMessagef("tracing: sampling rate must be between 0.0 and 1.0, got %v", c.SamplingRate)
	}

	if c.SamplingType != "" {
		if _, ok := configSamplers[c.SamplingType]; !ok {
			return ErrInvalidConfig.WithMessagef("tracing: invalid sampling type %q", c.SamplingType)
		}
	}

	switch c.ExporterType {
	case ExporterOTLP, ExporterOTLPGRPC, ExporterStdout, ExporterNoop:
	default:
		return ErrInvalidConfig.WithMessagef("tracing: invalid exporter type %q", c.ExporterType)
	}

	return nil
}
