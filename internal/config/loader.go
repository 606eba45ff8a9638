// Package config provides configuration loading for playbookd.
package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/playbookd/internal/cycle"
	"github.com/fyrsmithlabs/playbookd/internal/logging"
	"github.com/fyrsmithlabs/playbookd/internal/natsrpc"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix scopes the environment override namespace.
	envPrefix = "PLAYBOOKD_"
)

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (PLAYBOOKD_REMOTE_URL, PLAYBOOKD_CYCLE_RETRY_CAP, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// A missing file is not an error; defaults plus environment apply. An
// existing file must have 0600 or 0400 permissions and stay under 1MB.
//
// Environment variables drop the PLAYBOOKD_ prefix, lowercase, and split on
// the first underscore into section and field:
//
//	PLAYBOOKD_REMOTE_URL            -> remote.url
//	PLAYBOOKD_REVIEW_MIN_LINE_COVERAGE -> review.min_line_coverage
//	PLAYBOOKD_LOGGING_LEVEL         -> logging.level
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			// Open once and validate via the descriptor to avoid a
			// TOCTOU race.
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if err := validateConfigFileProperties(info); err != nil {
				return nil, fmt.Errorf("config file validation failed: %w", err)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// PLAYBOOKD_REMOTE_DRAIN_TIMEOUT -> remote.drain_timeout:
		// split on the first underscore only, keep the rest as the
		// field name.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewDefaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Skip the permission check on Windows (different permission model).
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults fills values that unmarshalling may have zeroed.
func applyDefaults(cfg *Config) {
	defaults := logging.NewDefaultConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Format
	}

	if cfg.Remote.SubjectPrefix == "" {
		cfg.Remote.SubjectPrefix = natsrpc.DefaultSubjectPrefix
	}
	if cfg.Remote.DrainTimeout == 0 {
		cfg.Remote.DrainTimeout = natsrpc.DefaultDrainTimeout
	}

	if cfg.Cycle.RetryCap == 0 {
		cfg.Cycle.RetryCap = cycle.DefaultRetryCap
	}
	if cfg.Playbook.Path == "" {
		cfg.Playbook.Path = "playbook.json"
	}
	if cfg.Test.Dir == "" {
		cfg.Test.Dir = "."
	}
}
