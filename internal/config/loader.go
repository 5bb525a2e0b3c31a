package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Capture.FeedURL != "" {
		u, err := url.Parse(cfg.Capture.FeedURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("capture.feed_url %q is not a valid URL: %v", cfg.Capture.FeedURL, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("capture.feed_url %q must use the ws or wss scheme", cfg.Capture.FeedURL))
		}
	}
	if cfg.Capture.UserQuietPeriodMs < 0 {
		errs = append(errs, fmt.Errorf("capture.user_quiet_period_ms %d must not be negative", cfg.Capture.UserQuietPeriodMs))
	}
	if cfg.Capture.AIQuietPeriodMs < 0 {
		errs = append(errs, fmt.Errorf("capture.ai_quiet_period_ms %d must not be negative", cfg.Capture.AIQuietPeriodMs))
	}

	if cfg.Playback.UserGain < 0 {
		errs = append(errs, fmt.Errorf("playback.user_gain %.2f must not be negative", cfg.Playback.UserGain))
	}
	if cfg.Playback.AIGain < 0 {
		errs = append(errs, fmt.Errorf("playback.ai_gain %.2f must not be negative", cfg.Playback.AIGain))
	}
	if cfg.Playback.Speed != 0 {
		if cfg.Playback.Speed < 0.25 || cfg.Playback.Speed > 4.0 {
			errs = append(errs, fmt.Errorf("playback.speed %.2f is out of range [0.25, 4.0]", cfg.Playback.Speed))
		}
	}
	if cfg.Playback.MaxSegmentSeconds < 0 {
		errs = append(errs, fmt.Errorf("playback.max_segment_seconds %d must not be negative", cfg.Playback.MaxSegmentSeconds))
	}
	if cfg.Playback.MaxSegmentChunks < 0 {
		errs = append(errs, fmt.Errorf("playback.max_segment_chunks %d must not be negative", cfg.Playback.MaxSegmentChunks))
	}

	return errors.Join(errs...)
}
