package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/titanous/json5"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the config file, substitutes ${VAR} references from the
// environment, then overlays MYCLAW_* env vars. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	data = substituteEnvRefs(data)
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// substituteEnvRefs replaces ${VAR} with the variable's value. Unset
// variables substitute to the empty string, matching shell semantics.
func substituteEnvRefs(data []byte) []byte {
	return envRefPattern.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envRefPattern.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr(stateDirEnv, &c.StateDir)
	envStr("MYCLAW_PROVIDER", &c.Agent.Provider)
	envStr("MYCLAW_MODEL", &c.Agent.Model)
	envStr("MYCLAW_BASE_URL", &c.Agent.BaseURL)
	envInt("MYCLAW_MAX_ITERATIONS", &c.Agent.MaxIterations)
	envInt("MYCLAW_MAX_RETRIES", &c.Agent.MaxRetries)
	envStr("MYCLAW_OTLP_ENDPOINT", &c.Telemetry.Endpoint)

	// A bare API key becomes the primary profile; a fallback key appends a
	// second profile after it.
	if key := os.Getenv("MYCLAW_API_KEY"); key != "" {
		c.Agent.Profiles = prependProfile(c.Agent.Profiles, ProfileConfig{ID: "default", APIKey: key})
	}
	if key := os.Getenv("MYCLAW_API_KEY_FALLBACK"); key != "" {
		c.Agent.Profiles = append(c.Agent.Profiles, ProfileConfig{ID: "fallback", APIKey: key})
	}
}

func prependProfile(profiles []ProfileConfig, p ProfileConfig) []ProfileConfig {
	for i, existing := range profiles {
		if existing.ID == p.ID {
			profiles[i] = p
			return profiles
		}
	}
	return append([]ProfileConfig{p}, profiles...)
}
