package config

import (
	"fmt"
	"time"
)

// Strategy names for the load balancer.
const (
	StrategyRoundRobin = "round_robin"
	StrategyRandom     = "random"
	StrategyLeastConn  = "least_conn"
)

// Config holds the full gateway configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Logging LoggingConfig `yaml:"logging"`

	Registry RegistryConfig `yaml:"registry"`

	Proxy ProxyConfig `yaml:"proxy"`

	LoadBalanceStrategy string `yaml:"load_balance_strategy"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	LocalRoutes LocalRoutesConfig `yaml:"local_routes"`

	// FallbackToLocal installs a local-only route table when the registry
	// cannot be reached on refresh.
	FallbackToLocal bool `yaml:"fallback_to_local"`

	Auth AuthPluginConfig `yaml:"auth"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RegistryConfig configures the ServiceAtlas client.
type RegistryConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	ServiceID         string        `yaml:"service_id"`
	ServiceName       string        `yaml:"service_name"`
	ServiceHost       string        `yaml:"service_host"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	Timeout           time.Duration `yaml:"timeout"`
	// BootstrapTimeout bounds how long startup waits for the first
	// successful refresh before proceeding with local-only routing.
	BootstrapTimeout time.Duration `yaml:"bootstrap_timeout"`
}

// ProxyConfig configures the reverse proxy.
type ProxyConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	// BufferLimit is the largest request body buffered for retry replay.
	// Bodies above it (or of unknown length) are streamed and never retried.
	BufferLimit int64 `yaml:"buffer_limit"`
}

// RateLimitConfig configures the three-scope token bucket limiter.
type RateLimitConfig struct {
	Enabled         bool    `yaml:"enabled"`
	GlobalQPS       float64 `yaml:"global_qps"`
	PerRouteQPS     float64 `yaml:"per_route_qps"`
	PerIPQPS        float64 `yaml:"per_ip_qps"`
	BurstMultiplier float64 `yaml:"burst_multiplier"`
	IPMapCapacity   int     `yaml:"ip_map_capacity"`
}

// CircuitBreakerConfig configures per-target circuit breakers.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// LocalRoutesConfig configures the local routes file.
type LocalRoutesConfig struct {
	Enabled       bool   `yaml:"enabled"`
	File          string `yaml:"file"`
	PriorityBoost int    `yaml:"priority_boost"`
	// Watch reloads the file on change via fsnotify.
	Watch bool `yaml:"watch"`
}

// AuthPluginConfig configures the authentication plugin.
type AuthPluginConfig struct {
	Enabled bool `yaml:"enabled"`
	// DegradeAllow lets requests through when the auth service is
	// unreachable instead of failing closed with 503.
	DegradeAllow bool          `yaml:"degrade_allow"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Host: "127.0.0.1",
		Port: 8880,
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
		Registry: RegistryConfig{
			Enabled:           true,
			URL:               "http://localhost:8888",
			ServiceID:         "hermes",
			ServiceName:       "Hermes API Gateway",
			ServiceHost:       "127.0.0.1",
			PollInterval:      30 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			Timeout:           10 * time.Second,
			BootstrapTimeout:  10 * time.Second,
		},
		Proxy: ProxyConfig{
			Timeout:     30 * time.Second,
			MaxRetries:  3,
			BufferLimit: 1 << 20,
		},
		LoadBalanceStrategy: StrategyRoundRobin,
		RateLimit: RateLimitConfig{
			Enabled:         true,
			GlobalQPS:       10000,
			PerRouteQPS:     1000,
			PerIPQPS:        100,
			BurstMultiplier: 1.5,
			IPMapCapacity:   10000,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		},
		LocalRoutes: LocalRoutesConfig{
			Enabled:       true,
			File:          "routes.yaml",
			PriorityBoost: 1000,
			Watch:         true,
		},
		FallbackToLocal: true,
		Auth: AuthPluginConfig{
			Enabled:      true,
			DegradeAllow: false,
			Timeout:      5 * time.Second,
		},
		MetricsEnabled: true,
	}
}

// Validate checks for fatal configuration errors.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.LoadBalanceStrategy {
	case StrategyRoundRobin, StrategyRandom, StrategyLeastConn:
	default:
		return fmt.Errorf("unknown load balance strategy %q", c.LoadBalanceStrategy)
	}
	if c.Registry.Enabled && c.Registry.URL == "" {
		return fmt.Errorf("registry enabled but registry url is empty")
	}
	if c.Proxy.Timeout <= 0 {
		return fmt.Errorf("proxy timeout must be positive")
	}
	if c.Proxy.MaxRetries < 0 {
		return fmt.Errorf("proxy max retries must not be negative")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.GlobalQPS <= 0 || c.RateLimit.PerRouteQPS <= 0 || c.RateLimit.PerIPQPS <= 0 {
			return fmt.Errorf("rate limit QPS values must be positive")
		}
		if c.RateLimit.IPMapCapacity <= 0 {
			return fmt.Errorf("rate limit ip map capacity must be positive")
		}
	}
	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureThreshold <= 0 {
			return fmt.Errorf("circuit breaker failure threshold must be positive")
		}
		if c.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("circuit breaker timeout must be positive")
		}
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
