// Package config provides the server settings and the interaction
// collection file format for stubd.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/getstubd/stubd/pkg/logging"
)

// Settings holds the runtime configuration of the mock server and its
// control API. Every field can be overridden through the environment.
type Settings struct {
	// Host is the interface the servers bind to.
	Host string `json:"host,omitempty" yaml:"host,omitempty" env:"STUBD_HOST"`

	// Port is the mock server port. 0 picks a free port.
	Port int `json:"port,omitempty" yaml:"port,omitempty" env:"STUBD_PORT"`

	// AdminPort is the control API port. 0 picks a free port.
	AdminPort int `json:"adminPort,omitempty" yaml:"adminPort,omitempty" env:"STUBD_ADMIN_PORT"`

	// NoMatchStatus is the status code returned when no interaction
	// matches a request.
	NoMatchStatus int `json:"noMatchStatus,omitempty" yaml:"noMatchStatus,omitempty" env:"STUBD_NO_MATCH_STATUS"`

	// StrictQuery rejects requests carrying query parameters the
	// matched pattern does not declare.
	StrictQuery bool `json:"strictQuery,omitempty" yaml:"strictQuery,omitempty" env:"STUBD_STRICT_QUERY"`

	// DefaultHeaders are added to every mock response unless the
	// response descriptor sets the same header.
	DefaultHeaders map[string]string `json:"defaultHeaders,omitempty" yaml:"defaultHeaders,omitempty" env:"STUBD_DEFAULT_HEADERS"`

	// MaxBodyBytes caps the accepted request body size.
	MaxBodyBytes int64 `json:"maxBodyBytes,omitempty" yaml:"maxBodyBytes,omitempty" env:"STUBD_MAX_BODY_BYTES"`

	// LogRequests enables the request history store.
	LogRequests bool `json:"logRequests,omitempty" yaml:"logRequests,omitempty" env:"STUBD_LOG_REQUESTS"`

	// MaxLogEntries bounds the request history store.
	MaxLogEntries int `json:"maxLogEntries,omitempty" yaml:"maxLogEntries,omitempty" env:"STUBD_MAX_LOG_ENTRIES"`

	// NearMissLimit is how many near-miss candidates a no-match
	// diagnostic reports.
	NearMissLimit int `json:"nearMissLimit,omitempty" yaml:"nearMissLimit,omitempty" env:"STUBD_NEAR_MISS_LIMIT"`

	// ReadTimeout is the HTTP read timeout in seconds.
	ReadTimeout int `json:"readTimeout,omitempty" yaml:"readTimeout,omitempty" env:"STUBD_READ_TIMEOUT"`

	// WriteTimeout is the HTTP write timeout in seconds. Response
	// delays count against it.
	WriteTimeout int `json:"writeTimeout,omitempty" yaml:"writeTimeout,omitempty" env:"STUBD_WRITE_TIMEOUT"`

	// ShutdownGrace is how many seconds Stop waits for in-flight
	// requests before forcing the listener closed.
	ShutdownGrace int `json:"shutdownGrace,omitempty" yaml:"shutdownGrace,omitempty" env:"STUBD_SHUTDOWN_GRACE"`

	// ContractDir is where contract documents are written.
	ContractDir string `json:"contractDir,omitempty" yaml:"contractDir,omitempty" env:"STUBD_CONTRACT_DIR"`

	// Consumer names the consumer side of recorded contracts.
	Consumer string `json:"consumer,omitempty" yaml:"consumer,omitempty" env:"STUBD_CONSUMER"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty" env:"STUBD_LOG_LEVEL"`

	// LogFormat is text or json.
	LogFormat string `json:"logFormat,omitempty" yaml:"logFormat,omitempty" env:"STUBD_LOG_FORMAT"`
}

// DefaultSettings returns settings with sensible defaults for local
// test use.
func DefaultSettings() *Settings {
	return &Settings{
		Host:          "127.0.0.1",
		Port:          0,
		AdminPort:     0,
		NoMatchStatus: 404,
		MaxBodyBytes:  10 * 1024 * 1024,
		LogRequests:   true,
		MaxLogEntries: 1000,
		NearMissLimit: 3,
		ReadTimeout:   30,
		WriteTimeout:  30,
		ShutdownGrace: 5,
		ContractDir:   "pacts",
		Consumer:      "consumer",
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// UnmarshalYAML decodes settings on top of the defaults, so partial
// blocks in collection files only override what they name.
func (s *Settings) UnmarshalYAML(node *yaml.Node) error {
	*s = *DefaultSettings()
	type settingsAlias Settings
	return node.Decode((*settingsAlias)(s))
}

// UnmarshalJSON decodes settings on top of the defaults.
func (s *Settings) UnmarshalJSON(data []byte) error {
	*s = *DefaultSettings()
	type settingsAlias Settings
	return json.Unmarshal(data, (*settingsAlias)(s))
}

// ApplyEnv overlays STUBD_* environment variables onto the settings.
func (s *Settings) ApplyEnv(ctx context.Context) error {
	return s.ApplyEnvWith(ctx, envconfig.OsLookuper())
}

// ApplyEnvWith overlays variables from the given lookuper, which lets
// tests inject values without touching the process environment.
func (s *Settings) ApplyEnvWith(ctx context.Context, lookuper envconfig.Lookuper) error {
	if err := envconfig.ProcessWith(ctx, s, lookuper); err != nil {
		return fmt.Errorf("applying environment overrides: %w", err)
	}
	return nil
}

// Validate checks the settings for values the servers cannot run with.
func (s *Settings) Validate() error {
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("port out of range: %d", s.Port)
	}
	if s.AdminPort < 0 || s.AdminPort > 65535 {
		return fmt.Errorf("adminPort out of range: %d", s.AdminPort)
	}
	if s.Port != 0 && s.Port == s.AdminPort {
		return fmt.Errorf("port and adminPort collide: %d", s.Port)
	}
	if s.NoMatchStatus < 100 || s.NoMatchStatus > 599 {
		return fmt.Errorf("noMatchStatus out of range: %d", s.NoMatchStatus)
	}
	if s.MaxBodyBytes <= 0 {
		return fmt.Errorf("maxBodyBytes must be positive, got %d", s.MaxBodyBytes)
	}
	if s.MaxLogEntries < 0 {
		return fmt.Errorf("maxLogEntries must not be negative, got %d", s.MaxLogEntries)
	}
	if s.NearMissLimit < 0 {
		return fmt.Errorf("nearMissLimit must not be negative, got %d", s.NearMissLimit)
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 || s.ShutdownGrace < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown logLevel %q", s.LogLevel)
	}
	switch strings.ToLower(s.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown logFormat %q", s.LogFormat)
	}
	return nil
}

// LoggingConfig builds the logging configuration the settings describe.
func (s *Settings) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(s.LogLevel)
	cfg.Format = logging.ParseFormat(s.LogFormat)
	return cfg
}
