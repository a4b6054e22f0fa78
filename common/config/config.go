package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service ServiceConfig
	Store   EmbeddedStoreConfig
	Alarm   AlarmConfig
	Trace   TraceConfig
	Features FeatureFlags
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// EmbeddedStoreConfig holds settings for the per-run embedded SQLite store
type EmbeddedStoreConfig struct {
	BaseDir       string // directory holding one SQLite file per run
	BusyTimeout   time.Duration
	WALMode       bool
	RetainOnClose bool // keep the run's db file after finalization, for inspection
}

// AlarmConfig controls how fan-in/timeout alarms are scheduled
type AlarmConfig struct {
	Backend     string // "memory" or "redis"
	RedisAddr   string
	RedisPrefix string
	SweepEvery  time.Duration
}

// TraceConfig holds settings for trace event emission
type TraceConfig struct {
	Enabled     bool
	RedisAddr   string
	RedisChannelPrefix string
}

// FeatureFlags for runtime toggles
type FeatureFlags struct {
	EnableRedisAlarms bool
	EnableTracing     bool
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Store: EmbeddedStoreConfig{
			BaseDir:       getEnv("STORE_BASE_DIR", "./data/runs"),
			BusyTimeout:   getEnvDuration("STORE_BUSY_TIMEOUT", 5*time.Second),
			WALMode:       getEnvBool("STORE_WAL_MODE", true),
			RetainOnClose: getEnvBool("STORE_RETAIN_ON_CLOSE", false),
		},
		Alarm: AlarmConfig{
			Backend:     getEnv("ALARM_BACKEND", "memory"),
			RedisAddr:   getEnv("ALARM_REDIS_ADDR", "localhost:6379"),
			RedisPrefix: getEnv("ALARM_REDIS_PREFIX", "flowcore:alarm"),
			SweepEvery:  getEnvDuration("ALARM_SWEEP_INTERVAL", 1*time.Second),
		},
		Trace: TraceConfig{
			Enabled:            getEnvBool("TRACE_ENABLED", true),
			RedisAddr:          getEnv("TRACE_REDIS_ADDR", "localhost:6379"),
			RedisChannelPrefix: getEnv("TRACE_REDIS_CHANNEL_PREFIX", "flowcore:trace"),
		},
		Features: FeatureFlags{
			EnableRedisAlarms: getEnvBool("ENABLE_REDIS_ALARMS", false),
			EnableTracing:     getEnvBool("ENABLE_TRACING", true),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Store.BaseDir == "" {
		return fmt.Errorf("store base_dir is required")
	}

	switch c.Alarm.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid alarm backend: %s", c.Alarm.Backend)
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
