package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

// MaxHierarchyDepth is the hard ceiling for group nesting; configuration may only lower it.
const MaxHierarchyDepth = 5

// Config holds application configuration.
type Config struct {
	AppName      string
	AppVersion   string
	Environment  string
	DefaultOrgID int64

	Logger LoggerConfig

	OTLPEndpoint string
	OTLPProtocol string
	OtelEnabled  bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBLogLevel        string
	DBSlowQuery       time.Duration

	Hierarchy HierarchyConfig
	PathCache PathCacheConfig
}

type LoggerConfig struct {
	Level  string
	Format string
}

type HierarchyConfig struct {
	MaxDepth      int
	PathSeparator string
}

type PathCacheConfig struct {
	Driver        string
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load loads configuration from a .env file, an optional config file and the environment.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv("CONGREGATE_CONFIG")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("config file %s not loaded: %v", path, err)
		}
	}

	return FromViper(v)
}

// FromViper builds a Config from an already-populated viper instance.
func FromViper(v *viper.Viper) Config {
	cfg := Config{
		AppName:      v.GetString("APP_SERVICE"),
		AppVersion:   v.GetString("APP_VERSION"),
		Environment:  v.GetString("ENVIRONMENT"),
		DefaultOrgID: v.GetInt64("DEFAULT_ORG"),
		Logger: LoggerConfig{
			Level:  strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
			Format: strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
		},
		OTLPEndpoint:      strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTLPProtocol:      strings.ToLower(strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_PROTOCOL"))),
		OtelEnabled:       v.GetBool("OTEL_ENABLED"),
		DBType:            strings.ToLower(strings.TrimSpace(v.GetString("DATABASE_TYPE"))),
		DBHost:            v.GetString("DATABASE_HOST"),
		DBPort:            v.GetString("DATABASE_PORT"),
		DBName:            v.GetString("DATABASE_NAME"),
		DBUser:            v.GetString("DATABASE_USER"),
		DBPassword:        v.GetString("DATABASE_PASSWORD"),
		DBSSLMode:         v.GetString("DATABASE_SSLMODE"),
		DBPath:            v.GetString("DATABASE_PATH"),
		DBMaxIdleConn:     v.GetInt("DATABASE_MAX_IDLE_CONN"),
		DBMaxOpenConn:     v.GetInt("DATABASE_MAX_OPEN_CONN"),
		DBConnMaxLifetime: v.GetInt("DATABASE_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTime: v.GetInt("DATABASE_CONN_MAX_IDLE_TIME"),
		DBLogLevel:        strings.ToLower(strings.TrimSpace(v.GetString("DATABASE_LOG_LEVEL"))),
		DBSlowQuery:       v.GetDuration("DATABASE_SLOW_QUERY"),
		Hierarchy: HierarchyConfig{
			MaxDepth:      normalizeDepth(v.GetInt("HIERARCHY_MAX_DEPTH")),
			PathSeparator: v.GetString("HIERARCHY_PATH_SEPARATOR"),
		},
		PathCache: PathCacheConfig{
			Driver:        strings.ToLower(strings.TrimSpace(v.GetString("PATH_CACHE"))),
			TTL:           v.GetDuration("PATH_CACHE_TTL"),
			RedisAddr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
		},
	}
	if cfg.Hierarchy.PathSeparator == "" {
		cfg.Hierarchy.PathSeparator = "__"
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_SERVICE", "congregate")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("DEFAULT_ORG", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	v.SetDefault("DATABASE_TYPE", "postgres")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_NAME", "congregate")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_PATH", "congregate.db")
	v.SetDefault("DATABASE_MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE_MAX_OPEN_CONN", 20)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", 300)
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", 60)
	v.SetDefault("DATABASE_SLOW_QUERY", "200ms")
	v.SetDefault("HIERARCHY_MAX_DEPTH", MaxHierarchyDepth)
	v.SetDefault("HIERARCHY_PATH_SEPARATOR", "__")
	v.SetDefault("PATH_CACHE", "memory")
	v.SetDefault("PATH_CACHE_TTL", "5m")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
}

func normalizeDepth(depth int) int {
	if depth <= 0 || depth > MaxHierarchyDepth {
		return MaxHierarchyDepth
	}
	return depth
}

// Default returns the configuration used when no environment is present.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	return FromViper(v)
}

var Module = fx.Module("config",
	fx.Provide(Load),
)
