// Package config loads and validates the admission service configuration.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/admit/pkg/constants"
	"github.com/turtacn/admit/pkg/errors"
)

// Config holds the application's configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Session   SessionConfig   `mapstructure:"session"`
	IDGen     IDGenConfig     `mapstructure:"idgen"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	EnablePprof     bool          `mapstructure:"enable_pprof"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
	// ClientKeyHeader, when set, names a header carrying the client identity
	// instead of the remote address.
	ClientKeyHeader string `mapstructure:"client_key_header"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RedisConfig struct {
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Path            string        `mapstructure:"path"` // sqlite file
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// GetDSN returns the connection string for the configured driver.
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// ClassConfig is the fixed-window policy of one route class.
type ClassConfig struct {
	Name     string `mapstructure:"name"`
	Limit    uint64 `mapstructure:"limit"`
	WindowMs uint64 `mapstructure:"window_ms"`
}

// Window returns the window as a duration.
func (c ClassConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// RouteConfig assigns routes starting with Prefix to Class.
type RouteConfig struct {
	Prefix string `mapstructure:"prefix"`
	Class  string `mapstructure:"class"`
}

type RateLimitConfig struct {
	Backend       constants.LimiterBackend `mapstructure:"backend"`
	Fallback      constants.FallbackPolicy `mapstructure:"fallback"`
	Namespace     string                   `mapstructure:"namespace"`
	StoreTimeout  time.Duration            `mapstructure:"store_timeout"`
	IdleTTL       time.Duration            `mapstructure:"idle_ttl"`
	SweepInterval time.Duration            `mapstructure:"sweep_interval"`
	Shards        int                      `mapstructure:"shards"`
	Classes       []ClassConfig            `mapstructure:"classes"`
	Routes        []RouteConfig            `mapstructure:"routes"`
}

type QueueConfig struct {
	Backend constants.QueueBackend `mapstructure:"backend"`
	Prefix  string                 `mapstructure:"prefix"`
	Timeout time.Duration          `mapstructure:"timeout"`
}

type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
	// Route is the route whose bucket is released when a session ends.
	Route string `mapstructure:"route"`
}

type IDGenConfig struct {
	// WorkerID below zero derives the id from host name and pid.
	WorkerID int64 `mapstructure:"worker_id"`
}

type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	Environment    string  `mapstructure:"environment"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// Validate checks every value the service cannot start without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.ErrInvalidConfig("server.port", "must be between 1 and 65535")
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}

	switch c.Queue.Backend {
	case constants.QueueBackendMemory, constants.QueueBackendRedis:
	case constants.QueueBackendSQL:
		if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
			return errors.ErrInvalidConfig("database.driver", "must be postgres or sqlite")
		}
	default:
		return errors.ErrInvalidConfig("queue.backend", "unknown backend "+string(c.Queue.Backend))
	}

	if (c.RateLimit.Backend == constants.LimiterBackendRedis || c.Queue.Backend == constants.QueueBackendRedis) &&
		len(c.Redis.Addresses) == 0 {
		return errors.ErrInvalidConfig("redis.addresses", "required by the redis backend")
	}
	if c.Session.TTL <= 0 {
		return errors.ErrInvalidConfig("session.ttl", "must be positive")
	}
	if c.IDGen.WorkerID > constants.IDMaxWorker {
		return errors.ErrInvalidConfig("idgen.worker_id", fmt.Sprintf("must not exceed %d", constants.IDMaxWorker))
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.ErrInvalidConfig("kafka", "brokers and topic are required when enabled")
	}
	if c.Tracing.Enabled && c.Tracing.JaegerEndpoint == "" {
		return errors.ErrInvalidConfig("tracing.jaeger_endpoint", "required when tracing is enabled")
	}
	return nil
}

// Validate checks the limiter settings and the class table.
func (c *RateLimitConfig) Validate() error {
	switch c.Backend {
	case constants.LimiterBackendLocal, constants.LimiterBackendRedis:
	default:
		return errors.ErrInvalidConfig("rate_limit.backend", "unknown backend "+string(c.Backend))
	}
	switch c.Fallback {
	case constants.FallbackOpen, constants.FallbackClosed, constants.FallbackLocal:
	default:
		return errors.ErrInvalidConfig("rate_limit.fallback", "unknown policy "+string(c.Fallback))
	}
	if c.StoreTimeout <= 0 {
		return errors.ErrInvalidConfig("rate_limit.store_timeout", "must be positive")
	}

	known := make(map[string]bool, len(c.Classes))
	for _, cl := range c.Classes {
		field := "rate_limit.classes." + cl.Name
		if cl.Name == "" {
			return errors.ErrInvalidConfig("rate_limit.classes.name", "must not be empty")
		}
		if known[cl.Name] {
			return errors.ErrInvalidConfig(field, "duplicate class")
		}
		if cl.Limit == 0 {
			return errors.ErrInvalidConfig(field+".limit", "must be positive")
		}
		if cl.WindowMs == 0 {
			return errors.ErrInvalidConfig(field+".window_ms", "must be positive")
		}
		known[cl.Name] = true
	}
	if !known[string(constants.RouteClassDefault)] {
		return errors.ErrInvalidConfig("rate_limit.classes.default", "is required")
	}
	for _, r := range c.Routes {
		if r.Prefix == "" {
			return errors.ErrInvalidConfig("rate_limit.routes.prefix", "must not be empty")
		}
		if !known[r.Class] {
			return errors.ErrInvalidConfig("rate_limit.routes."+r.Prefix, "unknown class "+r.Class)
		}
	}
	return nil
}
