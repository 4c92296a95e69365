// Package config loads sipcore's static configuration using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// File is the top-level configuration: spec.md 6's recognized keys plus
// engine-specific ones such as dns_server and drain_timeout_ms. The YAML
// root key is "sipcore:"; env vars use a
// SIPCORE_ prefix (e.g. SIPCORE_REALM).
type File struct {
	Realm   string `mapstructure:"realm"`
	LocalIP string `mapstructure:"local_ip"`

	ListenUDP string `mapstructure:"listen_udp"`
	ListenTCP string `mapstructure:"listen_tcp"`
	ListenTLS string `mapstructure:"listen_tls"`

	TLSCertPath string `mapstructure:"tls_cert_path"`
	TLSKeyPath  string `mapstructure:"tls_key_path"`

	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	NonceTTLSeconds        int `mapstructure:"nonce_ttl_seconds"`
	BindingDefaultExpires  int `mapstructure:"binding_default_expires"`
	SubscriptionDefaultTTL int `mapstructure:"subscription_default_ttl_seconds"`

	SupportedAlgorithms []string `mapstructure:"supported_algorithms"`

	DNSServer      string `mapstructure:"dns_server"`
	DrainTimeoutMS int    `mapstructure:"drain_timeout_ms"`

	Log LogConfig `mapstructure:"log"`
}

// AuthConfig maps spec.md 6's {auth: {max_attempts, lockout_seconds,
// window_seconds}} brute-force guard block.
type AuthConfig struct {
	MaxAttempts    int `mapstructure:"max_attempts"`
	WindowSeconds  int `mapstructure:"window_seconds"`
	LockoutSeconds int `mapstructure:"lockout_seconds"`
}

// RateLimitConfig maps spec.md 6's {rate_limit: {max_requests,
// window_seconds}} block.
type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

// LogConfig is the ambient logging block, not named in spec.md 6 but
// carried regardless per the ambient-stack requirement.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug / info / warn / error
	Format string `mapstructure:"format"` // json / console / dev
}

type configRoot struct {
	SipCore File `mapstructure:"sipcore"`
}

// Load reads a YAML (or any viper-supported format) file at path,
// applies environment overrides prefixed SIPCORE_, and returns the
// decoded, defaulted configuration.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg := root.SipCore

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sipcore.realm", "localhost")
	v.SetDefault("sipcore.local_ip", "127.0.0.1")
	v.SetDefault("sipcore.dns_server", "1.1.1.1:53")
	v.SetDefault("sipcore.drain_timeout_ms", 10000)

	v.SetDefault("sipcore.nonce_ttl_seconds", 300)
	v.SetDefault("sipcore.binding_default_expires", 3600)
	v.SetDefault("sipcore.subscription_default_ttl_seconds", 3600)
	v.SetDefault("sipcore.supported_algorithms", []string{"MD5", "SHA-256", "SHA-512-256"})

	v.SetDefault("sipcore.auth.max_attempts", 5)
	v.SetDefault("sipcore.auth.window_seconds", 300)
	v.SetDefault("sipcore.auth.lockout_seconds", 900)

	v.SetDefault("sipcore.rate_limit.max_requests", 10)
	v.SetDefault("sipcore.rate_limit.window_seconds", 60)

	v.SetDefault("sipcore.log.level", "info")
	v.SetDefault("sipcore.log.format", "console")
}

// Validate checks the minimal invariants a malformed config file would
// violate: at least one listener, TLS cert/key present together with
// the TLS listener, a recognized algorithm set.
func (f *File) Validate() error {
	if f.ListenUDP == "" && f.ListenTCP == "" && f.ListenTLS == "" {
		return fmt.Errorf("at least one of listen_udp/listen_tcp/listen_tls is required")
	}
	if f.ListenTLS != "" && (f.TLSCertPath == "" || f.TLSKeyPath == "") {
		return fmt.Errorf("tls_cert_path and tls_key_path are required when listen_tls is set")
	}
	for _, alg := range f.SupportedAlgorithms {
		switch alg {
		case "MD5", "SHA-256", "SHA-512-256":
		default:
			return fmt.Errorf("unsupported algorithm in supported_algorithms: %s", alg)
		}
	}
	return nil
}

// NonceTTL returns the configured nonce lifetime as a duration.
func (f *File) NonceTTL() time.Duration { return time.Duration(f.NonceTTLSeconds) * time.Second }

// BindingDefaultExpiresDuration returns the configured default binding
// lifetime as a duration.
func (f *File) BindingDefaultExpiresDuration() time.Duration {
	return time.Duration(f.BindingDefaultExpires) * time.Second
}

// SubscriptionDefaultTTLDuration returns the configured default
// subscription lifetime as a duration.
func (f *File) SubscriptionDefaultTTLDuration() time.Duration {
	return time.Duration(f.SubscriptionDefaultTTL) * time.Second
}

// DrainTimeout returns the configured shutdown drain timeout.
func (f *File) DrainTimeout() time.Duration {
	return time.Duration(f.DrainTimeoutMS) * time.Millisecond
}
