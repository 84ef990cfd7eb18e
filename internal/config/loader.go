package config

// loader.go - configuration loading from YAML files and the environment.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/forestnet)
//   2. Environment variables  (ApplyEnv)
//   3. YAML file  (Load)
//   4. Defaults   (defaults.go)

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every supported environment variable.
const EnvPrefix = "FORESTNET_"

// Load reads a YAML file over Default(). A missing file is an error; callers
// that treat the file as optional check for it first.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Relative directories are anchored at the config file.
	base := filepath.Dir(path)
	cfg.RootDirectory = anchor(base, cfg.RootDirectory)
	cfg.SessionDirectory = anchor(base, cfg.SessionDirectory)
	cfg.WSDL = anchor(base, cfg.WSDL)
	cfg.Certificate = anchor(base, cfg.Certificate)
	cfg.CertificateKey = anchor(base, cfg.CertificateKey)
	cfg.TrustedCA = anchor(base, cfg.TrustedCA)

	return cfg, nil
}

// Save writes cfg as YAML. The write goes to a temporary file first and is
// renamed into place.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# forestNET endpoint configuration\n\n")
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}

func anchor(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Boolean values accept "1", "true", "yes" and "0", "false", "no"
// (case-insensitive). Unset or unparseable variables leave cfg untouched.

// ApplyEnv overlays FORESTNET_* environment variables onto cfg. It should
// run after Load and before flags are applied.
func ApplyEnv(cfg *Config) error {
	if v := env("SCHEME"); v != "" {
		cfg.Scheme = v
	}
	if v := env("MODE"); v != "" {
		m, err := ParseMode(v)
		if err != nil {
			return fmt.Errorf("%sMODE: %w", EnvPrefix, err)
		}
		cfg.Mode = m
	}
	if v := env("HOST"); v != "" {
		cfg.Host = v
	}
	if v, ok := envInt("PORT"); ok {
		cfg.Port = v
	}
	if v := env("ROOT_DIRECTORY"); v != "" {
		cfg.RootDirectory = v
	}
	if v := env("WSDL"); v != "" {
		cfg.WSDL = v
	}

	// Sessions
	if v, ok := envBool("USE_COOKIES"); ok {
		cfg.UseCookies = v
	}
	if v := env("SESSION_DIRECTORY"); v != "" {
		cfg.SessionDirectory = v
	}
	if v := env("SESSION_MAX_AGE"); v != "" {
		cfg.SessionMaxAge = v
	}
	if v, ok := envBool("SESSION_REFRESH"); ok {
		cfg.SessionRefresh = v
	}
	if v := env("SESSION_PASSPHRASE"); v != "" {
		cfg.SessionPassphrase = v
	}

	// Security
	if v := env("ALLOW_SOURCE_LIST"); v != "" {
		cfg.AllowSourceList = splitList(v)
	}
	if v := env("CERTIFICATE"); v != "" {
		cfg.Certificate = v
	}
	if v := env("CERTIFICATE_KEY"); v != "" {
		cfg.CertificateKey = v
	}
	if v := env("CERTIFICATE_PASSWORD"); v != "" {
		cfg.CertificatePassword = v
	}
	if v := env("TRUSTED_CA"); v != "" {
		cfg.TrustedCA = v
	}
	if v := env("EXPECTED_CERT_NAME"); v != "" {
		cfg.ExpectedCertName = v
	}

	// Connection handling
	if v, ok := envInt("MAX_CONNECTIONS"); ok {
		cfg.MaxConnections = v
	}
	if v, ok := envDuration("READ_TIMEOUT"); ok {
		cfg.ReadTimeout = v
	}
	if v, ok := envDuration("WRITE_TIMEOUT"); ok {
		cfg.WriteTimeout = v
	}
	if v, ok := envDuration("CONNECT_TIMEOUT"); ok {
		cfg.ConnectTimeout = v
	}
	if v, ok := envInt("RETRY_COUNT"); ok {
		cfg.RetryCount = v
	}
	if v, ok := envDuration("RETRY_PAUSE"); ok {
		cfg.RetryPause = v
	}
	if v, ok := envInt("BUFFER_SIZE"); ok {
		cfg.BufferSize = v
	}

	// Diagnostics
	if v, ok := envBool("PRINT_EXCEPTION_STACKTRACE"); ok {
		cfg.PrintExceptionStackTrace = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v, ok := envBool("ADVERTISE"); ok {
		cfg.Advertise = v
	}
	return nil
}

// ── helpers ──────────────────────────────────────────────────────────

func env(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}

func envInt(key string) (int, bool) {
	v := env(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(env(key)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}

func envDuration(key string) (time.Duration, bool) {
	v := env(key)
	if v == "" {
		return 0, false
	}
	d, err := ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
