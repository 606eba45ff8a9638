package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/playbookd/internal/cycle"
	"github.com/fyrsmithlabs/playbookd/internal/logging"
	"github.com/fyrsmithlabs/playbookd/internal/natsrpc"
)

// Config is the root playbookd configuration.
type Config struct {
	Logging    logging.Config   `koanf:"logging"`
	Remote     natsrpc.Config   `koanf:"remote"`
	Review     ReviewConfig     `koanf:"review"`
	Cycle      CycleConfig      `koanf:"cycle"`
	Playbook   PlaybookConfig   `koanf:"playbook"`
	Transcript TranscriptConfig `koanf:"transcript"`
	Test       TestConfig       `koanf:"test"`
}

// ReviewConfig holds the review-phase policy settings.
type ReviewConfig struct {
	// MinLineCoverage and MinBranchCoverage are ratios in [0,1].
	MinLineCoverage   float64 `koanf:"min_line_coverage"`
	MinBranchCoverage float64 `koanf:"min_branch_coverage"`

	// ConsultRoles routes the review decision through the critic and
	// curator roles instead of the bare threshold check.
	ConsultRoles bool `koanf:"consult_roles"`
}

// CycleConfig holds the phase machine settings.
type CycleConfig struct {
	// RetryCap bounds build retries per cycle. Zero means the default;
	// negative disables the limit.
	RetryCap int `koanf:"retry_cap"`
}

// PlaybookConfig locates the strategy repository file.
type PlaybookConfig struct {
	Path string `koanf:"path"`
}

// TranscriptConfig locates the transcript sink. Empty path disables it.
type TranscriptConfig struct {
	Path string `koanf:"path"`
}

// TestConfig holds the test tool settings.
type TestConfig struct {
	// Dir is the directory the test tool runs in.
	Dir string `koanf:"dir"`

	Timeout time.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns the built-in defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Logging: *logging.NewDefaultConfig(),
		Remote:  natsrpc.NewDefaultConfig(),
		Review: ReviewConfig{
			MinLineCoverage:   0.7,
			MinBranchCoverage: 0.6,
		},
		Cycle: CycleConfig{
			RetryCap: cycle.DefaultRetryCap,
		},
		Playbook: PlaybookConfig{
			Path: "playbook.json",
		},
		Test: TestConfig{
			Dir:     ".",
			Timeout: 10 * time.Minute,
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Review.MinLineCoverage < 0 || c.Review.MinLineCoverage > 1 {
		return fmt.Errorf("review.min_line_coverage must be in [0,1], got %f", c.Review.MinLineCoverage)
	}
	if c.Review.MinBranchCoverage < 0 || c.Review.MinBranchCoverage > 1 {
		return fmt.Errorf("review.min_branch_coverage must be in [0,1], got %f", c.Review.MinBranchCoverage)
	}
	if c.Remote.Required && c.Remote.URL == "" {
		return fmt.Errorf("remote.required is set but remote.url is empty")
	}
	if c.Playbook.Path == "" {
		return fmt.Errorf("playbook.path must not be empty")
	}
	if c.Test.Timeout < 0 {
		return fmt.Errorf("test.timeout must not be negative, got %s", c.Test.Timeout)
	}
	return nil
}
