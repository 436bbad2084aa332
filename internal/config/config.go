// Package config provides the configuration schema and loader for the
// Trunkline call bridge.
package config

import "time"

// LogLevel controls log verbosity for the Trunkline server.
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

// BackendCodec selects the audio framing used on the speech backend stream.
type BackendCodec string

const (
	// CodecPCM sends and receives raw little-endian 16-bit PCM at 24 kHz.
	CodecPCM BackendCodec = "pcm"

	// CodecOpus wraps audio in Opus frames with a one-byte type prefix and a
	// ready handshake before any audio flows.
	CodecOpus BackendCodec = "opus"
)

// IsValid reports whether c is a recognised backend codec.
func (c BackendCodec) IsValid() bool {
	return c == CodecPCM || c == CodecOpus
}

// Config is the root configuration structure for Trunkline.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Carrier CarrierConfig `yaml:"carrier"`
	Backend BackendConfig `yaml:"backend"`
	Dialer  DialerConfig  `yaml:"dialer"`
}

// ServerConfig holds network and logging settings for the Trunkline server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// PublicHost is the externally reachable hostname (no scheme, no port)
	// the carrier uses to reach the answer endpoint and the media WebSocket.
	PublicHost string `yaml:"public_host"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// CarrierConfig holds the telephony carrier's REST API credentials for
// outbound call origination. Credentials may also come from the environment
// (TRUNKLINE_CARRIER_AUTH_ID / TRUNKLINE_CARRIER_AUTH_TOKEN), which takes
// precedence over the file.
type CarrierConfig struct {
	// AuthID authenticates against the carrier API.
	AuthID string `yaml:"auth_id"`

	// AuthToken authenticates against the carrier API.
	AuthToken string `yaml:"auth_token"`

	// FromNumber is the caller id for outbound calls, in E.164 form.
	FromNumber string `yaml:"from_number"`

	// APIBaseURL overrides the carrier's REST endpoint. Leave empty for the
	// carrier's default.
	APIBaseURL string `yaml:"api_base_url"`
}

// BackendConfig describes the speech-dialogue backend the bridge connects to
// for every call.
type BackendConfig struct {
	// URL is the backend's WebSocket endpoint (e.g., "wss://localhost:8998/ws").
	URL string `yaml:"url"`

	// Voice selects the backend voice/persona, passed as a query parameter.
	Voice string `yaml:"voice"`

	// Codec selects raw PCM or Opus framing. Defaults to pcm.
	Codec BackendCodec `yaml:"codec"`

	// HandshakeTimeout bounds the wait for the backend's ready byte when the
	// Opus codec is selected.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// DialerConfig tunes outbound call pacing.
type DialerConfig struct {
	// CallDelay is the pause between consecutive calls in a batch.
	CallDelay time.Duration `yaml:"call_delay"`
}
