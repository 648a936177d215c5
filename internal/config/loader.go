package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "HERMES_"

// Loader loads configuration in layers: defaults, then an optional YAML
// file, then environment variables.
type Loader struct {
	lookup func(string) (string, bool)
}

// NewLoader creates a configuration loader reading the process environment.
func NewLoader() *Loader {
	return &Loader{lookup: os.LookupEnv}
}

// NewLoaderFromEnv creates a loader over a fixed environment map, for tests.
func NewLoaderFromEnv(env map[string]string) *Loader {
	return &Loader{lookup: func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}}
}

// Load builds the configuration. filePath may be empty; when set, the YAML
// file is applied over the defaults before the environment.
func (l *Loader) Load(filePath string) (*Config, error) {
	cfg := Default()

	if filePath == "" {
		filePath, _ = l.lookup(EnvPrefix + "CONFIG_FILE")
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays HERMES_* environment variables onto the config.
func (l *Loader) applyEnv(cfg *Config) error {
	var err error

	l.str("HOST", &cfg.Host)
	l.integer("PORT", &cfg.Port, &err)
	l.str("LOG_LEVEL", &cfg.Logging.Level)
	l.boolean("LOG_JSON", &cfg.Logging.JSON, &err)

	l.boolean("REGISTRY_ENABLED", &cfg.Registry.Enabled, &err)
	l.str("REGISTRY_URL", &cfg.Registry.URL)
	l.str("SERVICE_ID", &cfg.Registry.ServiceID)
	l.str("SERVICE_NAME", &cfg.Registry.ServiceName)
	l.str("SERVICE_HOST", &cfg.Registry.ServiceHost)
	l.duration("REGISTRY_POLL_INTERVAL", &cfg.Registry.PollInterval, &err)
	l.duration("HEARTBEAT_INTERVAL", &cfg.Registry.HeartbeatInterval, &err)
	l.duration("REGISTRY_TIMEOUT", &cfg.Registry.Timeout, &err)
	l.duration("REGISTRY_BOOTSTRAP_TIMEOUT", &cfg.Registry.BootstrapTimeout, &err)

	l.duration("PROXY_TIMEOUT", &cfg.Proxy.Timeout, &err)
	l.integer("PROXY_MAX_RETRIES", &cfg.Proxy.MaxRetries, &err)

	l.str("LOAD_BALANCE_STRATEGY", &cfg.LoadBalanceStrategy)

	l.boolean("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled, &err)
	l.float("RATE_LIMIT_GLOBAL_QPS", &cfg.RateLimit.GlobalQPS, &err)
	l.float("RATE_LIMIT_PER_ROUTE_QPS", &cfg.RateLimit.PerRouteQPS, &err)
	l.float("RATE_LIMIT_PER_IP_QPS", &cfg.RateLimit.PerIPQPS, &err)
	l.float("RATE_LIMIT_BURST_MULTIPLIER", &cfg.RateLimit.BurstMultiplier, &err)
	l.integer("RATE_LIMIT_IP_MAP_CAPACITY", &cfg.RateLimit.IPMapCapacity, &err)

	l.boolean("CIRCUIT_BREAKER_ENABLED", &cfg.CircuitBreaker.Enabled, &err)
	l.integer("CIRCUIT_BREAKER_FAILURE_THRESHOLD", &cfg.CircuitBreaker.FailureThreshold, &err)
	l.integer("CIRCUIT_BREAKER_SUCCESS_THRESHOLD", &cfg.CircuitBreaker.SuccessThreshold, &err)
	l.duration("CIRCUIT_BREAKER_TIMEOUT", &cfg.CircuitBreaker.Timeout, &err)

	l.boolean("LOCAL_ROUTES_ENABLED", &cfg.LocalRoutes.Enabled, &err)
	l.str("LOCAL_ROUTES_FILE", &cfg.LocalRoutes.File)
	l.integer("LOCAL_ROUTES_PRIORITY_BOOST", &cfg.LocalRoutes.PriorityBoost, &err)
	l.boolean("LOCAL_ROUTES_WATCH", &cfg.LocalRoutes.Watch, &err)

	l.boolean("FALLBACK_TO_LOCAL", &cfg.FallbackToLocal, &err)

	l.boolean("AUTH_PLUGIN_ENABLED", &cfg.Auth.Enabled, &err)
	l.boolean("AUTH_DEGRADE_ALLOW", &cfg.Auth.DegradeAllow, &err)
	l.duration("AUTH_TIMEOUT", &cfg.Auth.Timeout, &err)

	l.boolean("METRICS_ENABLED", &cfg.MetricsEnabled, &err)

	return err
}

func (l *Loader) str(key string, dst *string) {
	if v, ok := l.lookup(EnvPrefix + key); ok {
		*dst = v
	}
}

func (l *Loader) integer(key string, dst *int, errOut *error) {
	v, ok := l.lookup(EnvPrefix + key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		l.fail(errOut, key, v)
		return
	}
	*dst = n
}

func (l *Loader) float(key string, dst *float64, errOut *error) {
	v, ok := l.lookup(EnvPrefix + key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		l.fail(errOut, key, v)
		return
	}
	*dst = f
}

func (l *Loader) boolean(key string, dst *bool, errOut *error) {
	v, ok := l.lookup(EnvPrefix + key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		l.fail(errOut, key, v)
		return
	}
	*dst = b
}

// duration accepts Go duration syntax ("30s") or a bare number of seconds.
func (l *Loader) duration(key string, dst *time.Duration, errOut *error) {
	v, ok := l.lookup(EnvPrefix + key)
	if !ok {
		return
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return
	}
	l.fail(errOut, key, v)
}

func (l *Loader) fail(errOut *error, key, value string) {
	if *errOut == nil {
		*errOut = fmt.Errorf("invalid value %q for %s%s", value, EnvPrefix, key)
	}
}
