// Package config provides the configuration schema and loader for the
// voicegate server.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration is a time.Duration that unmarshals from YAML strings like "250ms"
// or "4s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Store      StoreConfig      `yaml:"store"`
	Protection ProtectionConfig `yaml:"protection"`
	Session    SessionConfig    `yaml:"session"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// UpstreamConfig selects the realtime model endpoint and its session tuning.
type UpstreamConfig struct {
	// APIKey authenticates against the realtime endpoint.
	APIKey string `yaml:"api_key"`

	// Model and BaseURL override the endpoint defaults when set.
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	// Voice selects the synthesis voice.
	Voice string `yaml:"voice"`

	// Temperature of the model; zero selects the client default.
	Temperature float64 `yaml:"temperature"`

	VAD VADConfig `yaml:"vad"`
}

// VADConfig tunes server-side voice activity detection.
type VADConfig struct {
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
}

// DispatchConfig tunes the webhook exchange with the dispatch backend.
type DispatchConfig struct {
	WebhookURL     string   `yaml:"webhook_url"`
	Retries        int      `yaml:"retries"`
	RetryInterval  Duration `yaml:"retry_interval"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`

	// FallbackAfter bounds how long a caller waits for a real quote;
	// FallbackFare and FallbackEta fill the synthesized quote.
	FallbackAfter Duration `yaml:"fallback_after"`
	FallbackFare  string   `yaml:"fallback_fare"`
	FallbackEta   string   `yaml:"fallback_eta"`
}

// StoreConfig configures persistence. An empty DSN disables it.
type StoreConfig struct {
	PostgresDSN   string   `yaml:"postgres_dsn"`
	FlushDebounce Duration `yaml:"flush_debounce"`
}

// ProtectionConfig overrides the speech-protection windows. Zero values keep
// the production defaults.
type ProtectionConfig struct {
	Greeting Duration `yaml:"greeting"`
	Echo     Duration `yaml:"echo"`
	Summary  Duration `yaml:"summary"`
	Confirm  Duration `yaml:"confirm"`
	Goodbye  Duration `yaml:"goodbye"`
	LeadIn   Duration `yaml:"lead_in"`
	Cooldown Duration `yaml:"cooldown"`

	BargeInMinRMS float64 `yaml:"barge_in_min_rms"`
	BargeInMaxRMS float64 `yaml:"barge_in_max_rms"`
}

// SessionConfig tunes per-call limits.
type SessionConfig struct {
	// MaxDuration hard-stops a call; zero selects the default.
	MaxDuration Duration `yaml:"max_duration"`

	// KeepaliveInterval paces bridge keepalive pings.
	KeepaliveInterval Duration `yaml:"keepalive_interval"`

	// Language is the default dialog language: "auto" or an ISO code.
	Language string `yaml:"language"`

	// MonitorEveryN forwards one in N caller audio chunks to the
	// monitoring stream; zero disables the tap.
	MonitorEveryN int `yaml:"monitor_every_n"`
}
