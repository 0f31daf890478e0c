package config

import (
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
upstream:
  api_key: sk-test
  model: gpt-4o-realtime-preview
  voice: alloy
  temperature: 0.6
  vad:
    threshold: 0.5
    prefix_padding_ms: 300
    silence_duration_ms: 800
dispatch:
  webhook_url: https://dispatch.example/quote
  retries: 2
  retry_interval: 1s
  attempt_timeout: 30s
  fallback_after: 4s
  fallback_fare: "£12.50"
  fallback_eta: "6 minutes"
store:
  postgres_dsn: postgres://voicegate@localhost/voicegate
  flush_debounce: 5s
protection:
  greeting: 12s
  echo: 250ms
  barge_in_min_rms: 5
  barge_in_max_rms: 20000
session:
  max_duration: 10m
  keepalive_interval: 10s
  language: auto
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Dispatch.FallbackAfter.Std() != 4*time.Second {
		t.Errorf("fallback_after: got %v", cfg.Dispatch.FallbackAfter.Std())
	}
	if cfg.Protection.Echo.Std() != 250*time.Millisecond {
		t.Errorf("protection.echo: got %v", cfg.Protection.Echo.Std())
	}
	if cfg.Session.MaxDuration.Std() != 10*time.Minute {
		t.Errorf("max_duration: got %v", cfg.Session.MaxDuration.Std())
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	yaml := validYAML + "\nextra_field: true\n"
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoadFromReader_BadDuration(t *testing.T) {
	t.Parallel()

	yaml := strings.Replace(validYAML, "fallback_after: 4s", "fallback_after: soon", 1)
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unparseable duration accepted")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.Server.LogLevel = "loud"
	cfg.Dispatch.Retries = -1
	cfg.Protection.BargeInMinRMS = 100
	cfg.Protection.BargeInMaxRMS = 5

	err := Validate(cfg)
	if err == nil {
		t.Fatal("want validation errors")
	}
	for _, want := range []string{"listen_addr", "log_level", "api_key", "retries", "barge_in_min_rms"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q: %v", want, err)
		}
	}
}

func TestValidate_TLSNeedsBothFiles(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	cfg.Server.TLS = &TLSConfig{CertFile: "cert.pem"}
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "key_file") {
		t.Errorf("half-configured TLS accepted: %v", err)
	}
}
