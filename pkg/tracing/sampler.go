package tracing

import (
	"os"
	"strconv"

	"go.opentelemetry.io/otel/sdk/trace"
)

// 采样类型
const (
	SamplingAlways      = "always"
	SamplingNever       = "never"
	SamplingRatio       = "ratio"
	SamplingParentBased = "parent_based"
)

// configSamplers 配置文件中的采样类型
var configSamplers = map[string]func(rate float64) trace.Sampler{
	SamplingAlways:      func(float64) trace.Sampler { return trace.AlwaysSample() },
	SamplingNever:       func(float64) trace.Sampler { return trace.NeverSample() },
	SamplingRatio:       trace.TraceIDRatioBased,
	SamplingParentBased: func(r float64) trace.Sampler { return trace.ParentBased(trace.TraceIDRatioBased(r)) },
}

// envSamplers OTEL_TRACES_SAMPLER 的取值
var envSamplers = map[string]func(rate float64) trace.Sampler{
	"always_on":                configSamplers[SamplingAlways],
	"always_off":               configSamplers[SamplingNever],
	"traceidratio":             configSamplers[SamplingRatio],
	"parentbased_always_on":    func(float64) trace.Sampler { return trace.ParentBased(trace.AlwaysSample()) },
	"parentbased_always_off":   func(float64) trace.Sampler { return trace.ParentBased(trace.NeverSample()) },
	"parentbased_traceidratio": configSamplers[SamplingParentBased],
}

// newSampler 环境变量优先于配置文件
func newSampler(cfg *Config) trace.Sampler {
	if name := os.Getenv("OTEL_TRACES_SAMPLER"); name != "" {
		if build, ok := envSamplers[name]; ok {
			return build(envSamplerArg())
		}
		return trace.ParentBased(trace.AlwaysSample())
	}

	if build, ok := configSamplers[cfg.SamplingType]; ok {
		return build(cfg.SamplingRate)
	}
	return configSamplers[SamplingParentBased](cfg.SamplingRate)
}

// envSamplerArg 解析 OTEL_TRACES_SAMPLER_ARG，非法值按 1.0 处理
func envSamplerArg() float64 {
	ratio, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 1.0
	}
	return ratio
}
