package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	if cfg.Upstream.APIKey == "" {
		errs = append(errs, errors.New("upstream.api_key is required"))
	}
	if t := cfg.Upstream.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("upstream.temperature %.2f is out of range [0, 2]", t))
	}
	if v := cfg.Upstream.VAD.Threshold; v < 0 || v > 1 {
		errs = append(errs, fmt.Errorf("upstream.vad.threshold %.2f is out of range [0, 1]", v))
	}

	if cfg.Dispatch.Retries < 0 {
		errs = append(errs, fmt.Errorf("dispatch.retries %d must not be negative", cfg.Dispatch.Retries))
	}
	for name, d := range map[string]Duration{
		"dispatch.retry_interval":    cfg.Dispatch.RetryInterval,
		"dispatch.attempt_timeout":   cfg.Dispatch.AttemptTimeout,
		"dispatch.fallback_after":    cfg.Dispatch.FallbackAfter,
		"store.flush_debounce":       cfg.Store.FlushDebounce,
		"session.max_duration":       cfg.Session.MaxDuration,
		"session.keepalive_interval": cfg.Session.KeepaliveInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	if min, max := cfg.Protection.BargeInMinRMS, cfg.Protection.BargeInMaxRMS; max != 0 && min > max {
		errs = append(errs, fmt.Errorf("protection.barge_in_min_rms %.0f exceeds barge_in_max_rms %.0f", min, max))
	}

	if n := cfg.Session.MonitorEveryN; n < 0 {
		errs = append(errs, fmt.Errorf("session.monitor_every_n %d must not be negative", n))
	}

	return errors.Join(errs...)
}
