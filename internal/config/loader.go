package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/errors"
	"github.com/turtacn/admit/pkg/logger"
)

const envPrefix = "ADMIT"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.enable_pprof", false)
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.client_key_header", "")

	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "2s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "admit")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "admit")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.path", "admit.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("rate_limit.backend", string(constants.LimiterBackendLocal))
	v.SetDefault("rate_limit.fallback", string(constants.FallbackOpen))
	v.SetDefault("rate_limit.namespace", constants.DefaultRateLimitNamespace)
	v.SetDefault("rate_limit.store_timeout", constants.DefaultStoreTimeout.String())
	v.SetDefault("rate_limit.idle_ttl", constants.DefaultBucketIdleTTL.String())
	v.SetDefault("rate_limit.sweep_interval", constants.DefaultSweepInterval.String())
	v.SetDefault("rate_limit.shards", constants.DefaultRegistryShards)
	v.SetDefault("rate_limit.classes", []map[string]interface{}{
		{"name": string(constants.RouteClassDefault), "limit": constants.DefaultRateLimit, "window_ms": constants.DefaultRateLimitWindow.Milliseconds()},
		{"name": string(constants.RouteClassSession), "limit": constants.DefaultQueueRateLimit, "window_ms": constants.DefaultRateLimitWindow.Milliseconds()},
	})
	v.SetDefault("rate_limit.routes", []map[string]interface{}{
		{"prefix": "/api/v1/sessions", "class": string(constants.RouteClassSession)},
	})

	v.SetDefault("queue.backend", string(constants.QueueBackendMemory))
	v.SetDefault("queue.prefix", "admit")
	v.SetDefault("queue.timeout", "250ms")

	v.SetDefault("session.ttl", constants.DefaultSessionTTL.String())
	v.SetDefault("session.route", "/api/v1/sessions")

	v.SetDefault("idgen.worker_id", -1)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "admit.rejections")
	v.SetDefault("kafka.write_timeout", "5s")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "1s")
	v.SetDefault("kafka.required_acks", 1)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.jaeger_endpoint", "")
	v.SetDefault("tracing.service_name", "admit")
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("tracing.sampling_rate", 0.1)
}

// New returns a viper instance with defaults, environment binding and, when
// path is empty, the standard search paths.
func New(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/admit/")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration from file and environment. A missing file is
// not an error when searching the standard paths.
func Load(path string) (*Config, *viper.Viper, error) {
	v := New(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, nil, errors.ErrInvalidConfig("config_file", err.Error())
		}
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Decode unmarshals and validates the current state of v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ErrInvalidConfig("config", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls onChange with every valid configuration written to v's file.
// Invalid edits are logged and skipped.
func Watch(v *viper.Viper, log logger.Logger, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		ctx := context.Background()
		cfg, err := Decode(v)
		if err != nil {
			log.Warn(ctx, "Ignoring invalid configuration change",
				logger.String("file", e.Name),
				logger.Err(err),
			)
			return
		}
		log.Info(ctx, "Configuration reloaded",
			logger.String("file", e.Name),
			logger.String("op", e.Op.String()),
		)
		onChange(cfg)
	})
	v.WatchConfig()
}
