package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values. Credentials usually come
// from the environment (optionally via a .env file loaded in main) so the
// YAML file can be committed without secrets.
const (
	EnvAuthID    = "TRUNKLINE_CARRIER_AUTH_ID"
	EnvAuthToken = "TRUNKLINE_CARRIER_AUTH_TOKEN"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides replaces carrier credentials with environment values when
// set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvAuthID); v != "" {
		cfg.Carrier.AuthID = v
	}
	if v := os.Getenv(EnvAuthToken); v != "" {
		cfg.Carrier.AuthToken = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PublicHost == "" {
		slog.Warn("server.public_host is empty; the answer document will not be reachable by the carrier")
	} else if strings.Contains(cfg.Server.PublicHost, "://") {
		errs = append(errs, fmt.Errorf("server.public_host %q must be a bare hostname, not a URL", cfg.Server.PublicHost))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
		}
	}

	// Backend
	if cfg.Backend.URL == "" {
		errs = append(errs, fmt.Errorf("backend.url is required"))
	} else if !strings.HasPrefix(cfg.Backend.URL, "ws://") && !strings.HasPrefix(cfg.Backend.URL, "wss://") {
		errs = append(errs, fmt.Errorf("backend.url %q must use the ws or wss scheme", cfg.Backend.URL))
	}
	if cfg.Backend.Codec != "" && !cfg.Backend.Codec.IsValid() {
		errs = append(errs, fmt.Errorf("backend.codec %q is invalid; valid values: pcm, opus", cfg.Backend.Codec))
	}
	if cfg.Backend.HandshakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("backend.handshake_timeout must not be negative"))
	}

	// Carrier — missing credentials only disable outbound dialing, the
	// bridge itself still serves inbound streams.
	if cfg.Carrier.AuthID == "" || cfg.Carrier.AuthToken == "" {
		slog.Warn("carrier credentials are not configured; outbound call origination will be unavailable")
	}
	if cfg.Carrier.FromNumber != "" && !strings.HasPrefix(cfg.Carrier.FromNumber, "+") {
		errs = append(errs, fmt.Errorf("carrier.from_number %q must be in E.164 form (leading +)", cfg.Carrier.FromNumber))
	}

	// Dialer
	if cfg.Dialer.CallDelay < 0 {
		errs = append(errs, fmt.Errorf("dialer.call_delay must not be negative"))
	}

	return errors.Join(errs...)
}
