package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// Mode selects how an endpoint answers requests.
type Mode int

const (
	// ModeNormal serves files from RootDirectory verbatim.
	ModeNormal Mode = iota
	// ModeDynamic renders HTML files as templates fed by the bound seed hook.
	ModeDynamic
	// ModeREST hands requests to the bound REST handler.
	ModeREST
	// ModeSOAP hands requests to the bound SOAP dispatcher.
	ModeSOAP
)

// String returns the lower-case mode name.
func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDynamic:
		return "dynamic"
	case ModeREST:
		return "rest"
	case ModeSOAP:
		return "soap"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return ModeNormal, nil
	case "dynamic":
		return ModeDynamic, nil
	case "rest":
		return ModeREST, nil
	case "soap":
		return ModeSOAP, nil
	default:
		return ModeNormal, fmt.Errorf("unknown mode %q (use normal, dynamic, rest, soap)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Config holds every tuneable for a single endpoint.
type Config struct {
	// ── Endpoint ─────────────────────────────────────────────────────
	Scheme string `yaml:"scheme"` // http or https
	Mode   Mode   `yaml:"mode"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`

	// ── Content ──────────────────────────────────────────────────────
	RootDirectory string `yaml:"root_directory,omitempty"`
	IndexFile     string `yaml:"index_file,omitempty"`
	WSDL          string `yaml:"wsdl,omitempty"` // SOAP mode: WSDL path, the built-in document when empty
	SOAPPath      string `yaml:"soap_path,omitempty"`

	// ── Sessions ─────────────────────────────────────────────────────
	UseCookies        bool   `yaml:"use_cookies"`
	SessionDirectory  string `yaml:"session_directory,omitempty"` // empty = in-memory store
	SessionMaxAge     string `yaml:"session_max_age,omitempty"`   // ISO-8601, e.g. PT30M
	SessionRefresh    bool   `yaml:"session_refresh"`
	SessionPassphrase string `yaml:"session_passphrase,omitempty"` // seals session files when set
	SessionSweep      string `yaml:"session_sweep,omitempty"`      // interval for expired-session cleanup

	// ── Security ─────────────────────────────────────────────────────
	AllowSourceList     []string `yaml:"allow_source_list,omitempty"`
	Certificate         string   `yaml:"certificate,omitempty"` // PEM or PKCS#12 (.p12/.pfx)
	CertificateKey      string   `yaml:"certificate_key,omitempty"`
	CertificatePassword string   `yaml:"certificate_password,omitempty"`
	TrustedCA           string   `yaml:"trusted_ca,omitempty"`       // client: CA bundle for server verification
	ExpectedCertName    string   `yaml:"expected_cert_name,omitempty"` // client: pinned server certificate name

	// ── Connection handling ──────────────────────────────────────────
	MaxConnections   int           `yaml:"max_connections,omitempty"`
	AcceptTimeout    time.Duration `yaml:"accept_timeout,omitempty"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout,omitempty"`
	ReadTimeout      time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout     time.Duration `yaml:"write_timeout,omitempty"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout,omitempty"`
	RetryCount       int           `yaml:"retry_count,omitempty"`
	RetryPause       time.Duration `yaml:"retry_pause,omitempty"`
	BufferSize       int           `yaml:"buffer_size,omitempty"`
	MaxBodySize      int64         `yaml:"max_body_size,omitempty"`
	KeepAlive        bool          `yaml:"keep_alive"`

	// ── Diagnostics ──────────────────────────────────────────────────
	PrintExceptionStackTrace bool   `yaml:"print_exception_stacktrace"`
	LogLevel                 string `yaml:"log_level,omitempty"`
	Advertise                bool   `yaml:"advertise"` // announce via mDNS
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Scheme:           "http",
		Mode:             ModeNormal,
		Host:             DefaultHost,
		Port:             DefaultPort,
		IndexFile:        DefaultIndexFile,
		SOAPPath:         DefaultSOAPPath,
		UseCookies:       true,
		SessionMaxAge:    DefaultSessionMaxAge,
		SessionSweep:     DefaultSessionSweep,
		AcceptTimeout:    DefaultAcceptTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		ReadTimeout:      DefaultReadTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		ConnectTimeout:   DefaultConnectTimeout,
		RetryCount:       DefaultRetryCount,
		RetryPause:       DefaultRetryPause,
		BufferSize:       DefaultBufferSize,
		MaxBodySize:      DefaultMaxBodySize,
		KeepAlive:        true,
	}
}

// Address returns host:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TLS reports whether the endpoint speaks https.
func (c *Config) TLS() bool {
	return strings.EqualFold(c.Scheme, "https")
}

// SessionMaxAgeDuration parses SessionMaxAge. Zero means sessions never
// expire by age.
func (c *Config) SessionMaxAgeDuration() (time.Duration, error) {
	if c.SessionMaxAge == "" {
		return 0, nil
	}
	return ParseDuration(c.SessionMaxAge)
}

// SessionSweepDuration parses SessionSweep. Zero disables sweeping.
func (c *Config) SessionSweepDuration() (time.Duration, error) {
	if c.SessionSweep == "" {
		return 0, nil
	}
	return ParseDuration(c.SessionSweep)
}

// AllowPrefixes parses AllowSourceList. Bare addresses become single-host
// prefixes.
func (c *Config) AllowPrefixes() ([]netip.Prefix, error) {
	return ParseAllowList(c.AllowSourceList)
}

// ParseAllowList parses CIDR entries and bare IP addresses.
func ParseAllowList(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid allow-list entry %q: %w", raw, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid allow-list entry %q: %w", raw, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("unsupported scheme %q (hint: use http or https)", c.Scheme)
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 0-65535", c.Port)
	}

	switch c.Mode {
	case ModeNormal, ModeDynamic:
		if c.RootDirectory == "" {
			return fmt.Errorf("%s mode requires a root directory (hint: set root_directory or --root)", c.Mode)
		}
	case ModeREST, ModeSOAP:
	default:
		return fmt.Errorf("unknown mode %v", c.Mode)
	}

	if d, err := c.SessionMaxAgeDuration(); err != nil {
		return fmt.Errorf("session_max_age: %w", err)
	} else if d < 0 {
		return fmt.Errorf("session_max_age %s must not be negative (hint: leave it empty for sessions that never expire)", c.SessionMaxAge)
	}
	if d, err := c.SessionSweepDuration(); err != nil {
		return fmt.Errorf("session_sweep: %w", err)
	} else if d < 0 {
		return fmt.Errorf("session_sweep %s must not be negative", c.SessionSweep)
	}
	for name, d := range map[string]time.Duration{
		"accept_timeout":    c.AcceptTimeout,
		"handshake_timeout": c.HandshakeTimeout,
		"read_timeout":      c.ReadTimeout,
		"write_timeout":     c.WriteTimeout,
		"connect_timeout":   c.ConnectTimeout,
		"retry_pause":       c.RetryPause,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if _, err := c.AllowPrefixes(); err != nil {
		return err
	}

	if c.CertificateKey != "" && c.Certificate == "" {
		return fmt.Errorf("certificate_key given without certificate")
	}

	if c.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative")
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative")
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("buffer_size must not be negative")
	}
	return nil
}

// ValidateServer additionally requires TLS material for https endpoints.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.TLS() && c.Certificate == "" {
		return fmt.Errorf("https requires a server certificate (hint: set certificate or --cert)")
	}
	return nil
}

// ValidateClient checks the settings a client uses; mode and content
// settings are ignored.
func (c *Config) ValidateClient() error {
	switch strings.ToLower(c.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("unsupported scheme %q (hint: use http or https)", c.Scheme)
	}
	if c.Host == "" {
		return fmt.Errorf("client requires a host")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", c.Port)
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative")
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("buffer_size must not be negative")
	}
	return nil
}
