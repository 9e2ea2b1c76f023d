// Package config loads the YAML configuration shared by the K2-PoW
// service and the Certifier (spec.md section 6.3), following the
// teacher's node/config.go + node/config_loader.go shape: a struct with
// a Default...Config() constructor and a Validate() method, populated
// from a YAML file whose path, when none is given, is taken from an
// environment variable. Individual fields are not read from the
// environment.
package config

import (
	"fmt"
	"os"

	"github.com/spacemeshos/post-rs/shared"
	"gopkg.in/yaml.v2"
)

// K2PowConfig configures the K2-PoW HTTP service (spec.md section 6.1).
type K2PowConfig struct {
	ListenAddr string        `yaml:"listen_addr"`
	Mode       string        `yaml:"mode"` // "fast" or "light", spec.md section 4.5
	Threads    int           `yaml:"threads"`
	LogLevel   string        `yaml:"log_level"`
}

// DefaultK2PowConfig returns sane defaults for local/dev use.
func DefaultK2PowConfig() K2PowConfig {
	return K2PowConfig{
		ListenAddr: ":3000",
		Mode:       "light",
		Threads:    4,
		LogLevel:   "info",
	}
}

// Validate checks the K2-PoW service configuration.
func (c K2PowConfig) Validate() error {
	if c.ListenAddr == "" {
		return shared.NewConfigError("listen_addr", "must not be empty")
	}
	if c.Mode != "fast" && c.Mode != "light" {
		return shared.NewConfigError("mode", `must be "fast" or "light"`)
	}
	if c.Threads <= 0 {
		return shared.NewConfigError("threads", "must be positive")
	}
	return nil
}

// LoadK2PowConfig reads and validates a K2PowConfig from path, applying
// CERTIFIER_CONFIG_PATH-style env override rules (K2POW_CONFIG_PATH) when
// path is empty.
func LoadK2PowConfig(path string) (K2PowConfig, error) {
	cfg := DefaultK2PowConfig()
	path = resolvePath(path, "K2POW_CONFIG_PATH")
	if path == "" {
		return cfg, cfg.Validate()
	}
	if err := loadYAML(path, &cfg); err != nil {
		return K2PowConfig{}, err
	}
	return cfg, cfg.Validate()
}

// CertifierConfig configures the Certifier HTTP service (spec.md
// section 4.8/6.2).
type CertifierConfig struct {
	ListenAddr         string `yaml:"listen_addr"`
	MetricsAddr        string `yaml:"metrics_addr"`
	SigningKeySeedB64   string `yaml:"signing_key_seed"` // base64 32-byte Ed25519 seed
	MaxConcurrentReqs  int    `yaml:"max_concurrent_requests"`
	MaxPendingReqs     int    `yaml:"max_pending_requests"`
	MaxBodySize        int64  `yaml:"max_body_size"`
	CertificateTTLSecs int64  `yaml:"certificate_ttl_seconds"`
	LogLevel           string `yaml:"log_level"`

	Init shared.InitConfig `yaml:"-"`
	Post shared.PostConfig `yaml:"-"`
}

// DefaultCertifierConfig returns sane defaults for local/dev use.
func DefaultCertifierConfig() CertifierConfig {
	return CertifierConfig{
		ListenAddr:         ":4000",
		MetricsAddr:        ":4001",
		MaxConcurrentReqs:  0, // 0 means "use runtime.NumCPU()" at construction time
		MaxPendingReqs:     64,
		MaxBodySize:        1 << 20,
		CertificateTTLSecs: 0, // 0 means no expiration field in the response
		LogLevel:           "info",
		Init:               shared.DefaultInitConfig(),
		Post:               shared.DefaultPostConfig(),
	}
}

// Validate checks the certifier configuration.
func (c CertifierConfig) Validate() error {
	if c.ListenAddr == "" {
		return shared.NewConfigError("listen_addr", "must not be empty")
	}
	if c.MaxPendingReqs <= 0 {
		return shared.NewConfigError("max_pending_requests", "must be positive")
	}
	if c.MaxBodySize <= 0 {
		return shared.NewConfigError("max_body_size", "must be positive")
	}
	if err := c.Init.Validate(); err != nil {
		return err
	}
	return c.Post.Validate()
}

// LoadCertifierConfig reads and validates a CertifierConfig from path,
// applying the CERTIFIER_CONFIG_PATH env override when path is empty.
func LoadCertifierConfig(path string) (CertifierConfig, error) {
	cfg := DefaultCertifierConfig()
	path = resolvePath(path, "CERTIFIER_CONFIG_PATH")
	if path == "" {
		return cfg, cfg.Validate()
	}
	if err := loadYAML(path, &cfg); err != nil {
		return CertifierConfig{}, err
	}
	return cfg, cfg.Validate()
}

func resolvePath(path, envVar string) string {
	if path != "" {
		return path
	}
	return os.Getenv(envVar)
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return shared.NewIOError("read", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return shared.NewConfigError("yaml", fmt.Sprintf("parse %s: %v", path, err))
	}
	return nil
}
