package types

import "time"

// BaseConfig is the retry/timeout shape shared across outbound clients.
type BaseConfig struct {
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
}

// DefaultBaseConfig returns the default retry/timeout settings.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// ConnectionConfig is the shared shape for an HTTP-backed provider
// connection (embedding/generation clients, §6.3).
type ConnectionConfig struct {
	BaseURL         string            `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	APIKey          string            `json:"api_key" yaml:"api_key" env:"API_KEY"`
	Headers         map[string]string `json:"headers" yaml:"headers"`
	ConnectTimeout  time.Duration     `json:"connect_timeout" yaml:"connect_timeout"`
	RequestTimeout  time.Duration     `json:"request_timeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	MaxConnections  int               `json:"max_connections" yaml:"max_connections"`
	EnableKeepAlive bool              `json:"enable_keep_alive" yaml:"enable_keep_alive"`
}

// DefaultConnectionConfig returns the default outbound connection settings.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Headers:         make(map[string]string),
		ConnectTimeout:  10 * time.Second,
		RequestTimeout:  30 * time.Second,
		MaxConnections:  10,
		EnableKeepAlive: true,
	}
}

// MonitoringConfig is the shared shape for health/metrics exposure.
type MonitoringConfig struct {
	EnableMetrics   bool          `json:"enable_metrics" yaml:"enable_metrics"`
	EnableTracing   bool          `json:"enable_tracing" yaml:"enable_tracing"`
	MetricsInterval time.Duration `json:"metrics_interval" yaml:"metrics_interval"`
	HealthCheckPath string        `json:"health_check_path" yaml:"health_check_path"`
	LogLevel        string        `json:"log_level" yaml:"log_level"`
}

// DefaultMonitoringConfig returns the default monitoring settings.
func DefaultMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		EnableMetrics:   true,
		EnableTracing:   false,
		MetricsInterval: time.Minute,
		HealthCheckPath: "/health",
		LogLevel:        "info",
	}
}