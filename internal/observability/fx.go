package observability

import (
	"strings"

	"github.com/smallbiznis/congregate/internal/observability/logger"
	"github.com/smallbiznis/congregate/internal/observability/metrics"
	"github.com/smallbiznis/congregate/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// Module provides the zap logger, the gorm query logging settings, the otel tracer
// and meter providers and the core operation instruments.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideGormConfig,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
	),
	fx.Invoke(announce),
)

// announce builds the tracer provider eagerly so spans started by the core are
// exported, and records what this process observes.
func announce(log *zap.Logger, cfg Config, gormCfg logger.GormConfig, _ *sdktrace.TracerProvider) {
	log.Info("observability configured",
		zap.String("service", cfg.ServiceName),
		zap.String("environment", cfg.Environment),
		zap.Bool("otel_enabled", cfg.OtelEnabled),
		zap.String("otel_protocol", cfg.OtelExporterProtocol),
		zap.Float64("otel_sampling_ratio", cfg.OtelSamplingRatio),
		zap.Int("db_log_level", int(gormCfg.Level)),
		zap.Duration("db_slow_query", gormCfg.SlowThreshold),
	)
}

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

// provideGormConfig logs every statement in debug environments and only failures and
// slow statements elsewhere.
func provideGormConfig(cfg Config) logger.GormConfig {
	level := logger.ParseGormLevel(cfg.DBLogLevel)
	if cfg.Debug() && strings.TrimSpace(cfg.DBLogLevel) == "" {
		level = gormlogger.Info
	}
	return logger.GormConfig{
		Level:         level,
		SlowThreshold: cfg.DBSlowQuery,
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}
