package config

import "time"

// Config represents the complete pulsegate configuration.
type Config struct {
	Service  ServiceConfig        `yaml:"service"`
	API      APIConfig            `yaml:"api,omitempty"`
	Storage  StorageConfig        `yaml:"storage"`
	Queue    QueueConfig          `yaml:"queue"`
	Dispatch DispatchConfig       `yaml:"dispatch"`
	Safety   map[string]KindLimit `yaml:"safety"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	PIDFile  string `yaml:"pid_file,omitempty"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// StorageConfig defines the command history database location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig defines command queue behaviour.
type QueueConfig struct {
	Capacity       int           `yaml:"capacity"`
	Retention      int           `yaml:"retention"`
	InterItemDelay time.Duration `yaml:"inter_item_delay"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxRetries     int           `yaml:"max_retries"`
}

// DispatchConfig defines the outbound device-control pipeline.
type DispatchConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key,omitempty"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	RateLimitMax    int           `yaml:"rate_limit_max"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBase       time.Duration `yaml:"retry_base"`
	DeviceCooldown  time.Duration `yaml:"device_cooldown"`
	MinDuration     time.Duration `yaml:"min_duration"`
	MaxDuration     time.Duration `yaml:"max_duration"`
}

// KindLimit defines safety ceilings for one command kind.
type KindLimit struct {
	Enabled      bool          `yaml:"enabled"`
	MaxIntensity int           `yaml:"max_intensity,omitempty"`
	MaxDuration  time.Duration `yaml:"max_duration,omitempty"`
}

// Defaults returns a Config with sensible defaults. The safety section has
// no default limits: every kind an operator wants live must be enabled
// explicitly.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "pulsegate",
			LogLevel: "INFO",
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8787",
		},
		Storage: StorageConfig{
			Path: "pulsegate.db",
		},
		Queue: QueueConfig{
			Capacity:       50,
			Retention:      100,
			InterItemDelay: 500 * time.Millisecond,
			RetryDelay:     2 * time.Second,
			MaxRetries:     2,
		},
		Dispatch: DispatchConfig{
			Timeout:         10 * time.Second,
			MaxConcurrent:   3,
			RateLimitMax:    60,
			RateLimitWindow: time.Minute,
			MaxRetries:      3,
			RetryBase:       500 * time.Millisecond,
			DeviceCooldown:  2 * time.Second,
			MinDuration:     100 * time.Millisecond,
			MaxDuration:     30 * time.Second,
		},
		Safety: map[string]KindLimit{},
	}
}
