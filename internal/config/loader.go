package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Values of the form
// ${ENV_VAR} are expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	expanded := expandEnvVars(data)

	cfg := Defaults()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", absPath, err)
	}
	return cfg, nil
}

// expandEnvVars substitutes ${VAR} with the environment value. Unset
// variables expand to the empty string.
func expandEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envVarPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Validate checks cross-field constraints the zero value cannot express.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service.name is empty")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive")
	}
	if c.Queue.Retention < 0 {
		return fmt.Errorf("queue.retention must not be negative")
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must not be negative")
	}
	if c.Dispatch.BaseURL == "" {
		return fmt.Errorf("dispatch.base_url is empty")
	}
	if c.Dispatch.RateLimitMax <= 0 || c.Dispatch.RateLimitWindow <= 0 {
		return fmt.Errorf("dispatch rate limit window must be positive")
	}
	if c.Dispatch.MaxConcurrent <= 0 {
		return fmt.Errorf("dispatch.max_concurrent must be positive")
	}
	if c.Dispatch.MinDuration <= 0 || c.Dispatch.MaxDuration < c.Dispatch.MinDuration {
		return fmt.Errorf("dispatch duration window [%v,%v] is invalid",
			c.Dispatch.MinDuration, c.Dispatch.MaxDuration)
	}
	for kind, limit := range c.Safety {
		switch kind {
		case "shock", "vibrate", "sound":
		default:
			return fmt.Errorf("safety: unknown command kind %q", kind)
		}
		if limit.MaxIntensity < 0 || limit.MaxIntensity > 100 {
			return fmt.Errorf("safety.%s.max_intensity %d out of range [0,100]", kind, limit.MaxIntensity)
		}
	}
	if c.API.Enabled {
		if c.API.Listen == "" {
			return fmt.Errorf("api.listen is empty")
		}
		for i, tok := range c.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is empty", i)
			}
		}
	}
	return nil
}
