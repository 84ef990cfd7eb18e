package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"PT30M", 30 * time.Minute, false},
		{"P1DT12H", 36 * time.Hour, false},
		{"PT0.5S", 500 * time.Millisecond, false},
		{"PT1H30M15S", time.Hour + 30*time.Minute + 15*time.Second, false},
		{"P2W", 14 * 24 * time.Hour, false},
		{"P1M", 30 * 24 * time.Hour, false},
		{"pt10s", 10 * time.Second, false},
		{"-PT5M", -5 * time.Minute, false},
		{"PT1,5H", 90 * time.Minute, false},
		{"90s", 90 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"", 0, true},
		{"P", 0, true},
		{"PT", 0, true},
		{"P5", 0, true},
		{"PT5X", 0, true},
		{"P1H", 0, true},
		{"PT5M5M", 0, true},
		{"P1TD", 0, true},
		{"thirty minutes", 0, true},
		{"P300Y", 0, true},
		{"-P300Y", 0, true},
		{"PT9999999999999H", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDuration(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDuration(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "PT0S"},
		{30 * time.Minute, "PT30M"},
		{36 * time.Hour, "P1DT12H"},
		{48 * time.Hour, "P2D"},
		{1500 * time.Millisecond, "PT1.5S"},
		{-5 * time.Minute, "-PT5M"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
		back, err := ParseDuration(FormatDuration(tt.in))
		if err != nil || back != tt.in {
			t.Errorf("ParseDuration(FormatDuration(%v)) = %v, %v", tt.in, back, err)
		}
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"normal", ModeNormal, false},
		{"", ModeNormal, false},
		{"DYNAMIC", ModeDynamic, false},
		{"Rest", ModeREST, false},
		{"soap", ModeSOAP, false},
		{"graphql", ModeNormal, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseAllowList(t *testing.T) {
	got, err := ParseAllowList([]string{"10.1.2.3/8", " 127.0.0.1 ", "", "::1"})
	if err != nil {
		t.Fatalf("ParseAllowList error: %v", err)
	}
	want := []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("127.0.0.1/32"),
		netip.MustParsePrefix("::1/128"),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d prefixes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("prefix[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if _, err := ParseAllowList([]string{"10.0.0.0/33"}); err == nil {
		t.Error("expected error for bad prefix length")
	}
	if _, err := ParseAllowList([]string{"not-an-ip"}); err == nil {
		t.Error("expected error for bad address")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"normal with root", func(c *Config) { c.RootDirectory = "/srv" }, ""},
		{"normal without root", func(c *Config) {}, "root directory"},
		{"rest", func(c *Config) { c.Mode = ModeREST }, ""},
		{"soap without wsdl", func(c *Config) { c.Mode = ModeSOAP }, ""},
		{"bad scheme", func(c *Config) { c.Mode = ModeREST; c.Scheme = "ftp" }, "unsupported scheme"},
		{"bad port", func(c *Config) { c.Mode = ModeREST; c.Port = 70000 }, "out of range"},
		{"bad max age", func(c *Config) { c.Mode = ModeREST; c.SessionMaxAge = "soon" }, "session_max_age"},
		{"bad allow list", func(c *Config) { c.Mode = ModeREST; c.AllowSourceList = []string{"x"} }, "allow-list"},
		{"key without cert", func(c *Config) { c.Mode = ModeREST; c.CertificateKey = "k.pem" }, "certificate_key"},
		{"negative retries", func(c *Config) { c.Mode = ModeREST; c.RetryCount = -1 }, "retry_count"},
		{"negative max age", func(c *Config) { c.Mode = ModeREST; c.SessionMaxAge = "-PT30M" }, "session_max_age"},
		{"overflowing max age", func(c *Config) { c.Mode = ModeREST; c.SessionMaxAge = "P300Y" }, "out of range"},
		{"negative sweep", func(c *Config) { c.Mode = ModeREST; c.SessionSweep = "-PT1M" }, "session_sweep"},
		{"negative read timeout", func(c *Config) { c.Mode = ModeREST; c.ReadTimeout = -time.Second }, "read_timeout"},
		{"empty max age", func(c *Config) { c.Mode = ModeREST; c.SessionMaxAge = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateServerRequiresCertificateForHTTPS(t *testing.T) {
	cfg := Default()
	cfg.Mode = ModeREST
	cfg.Scheme = "https"
	if err := cfg.ValidateServer(); err == nil || !strings.Contains(err.Error(), "hint:") {
		t.Fatalf("ValidateServer() error = %v, want hint", err)
	}
	cfg.Certificate = "server.p12"
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("ValidateServer() error: %v", err)
	}
}

func TestValidateClientIgnoresContent(t *testing.T) {
	cfg := Default()
	cfg.Mode = ModeNormal
	if err := cfg.ValidateClient(); err != nil {
		t.Fatalf("ValidateClient() error: %v", err)
	}
	cfg.Port = 0
	if err := cfg.ValidateClient(); err == nil {
		t.Fatal("ValidateClient() accepted port 0")
	}
}

func TestLoadAndSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forestnet.yaml")
	content := `scheme: https
mode: soap
port: 9443
wsdl: calculator.wsdl
session_directory: sessions
session_max_age: PT1H
session_refresh: true
read_timeout: 5s
allow_source_list:
  - 127.0.0.1
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Mode != ModeSOAP || cfg.Port != 9443 || !cfg.TLS() {
		t.Errorf("unexpected endpoint: mode=%v port=%d tls=%v", cfg.Mode, cfg.Port, cfg.TLS())
	}
	if cfg.WSDL != filepath.Join(dir, "calculator.wsdl") {
		t.Errorf("WSDL = %q, want anchored at config dir", cfg.WSDL)
	}
	if cfg.SessionDirectory != filepath.Join(dir, "sessions") {
		t.Errorf("SessionDirectory = %q", cfg.SessionDirectory)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.ReadTimeout)
	}
	if cfg.Host != DefaultHost {
		t.Errorf("Host = %q, want default %q", cfg.Host, DefaultHost)
	}
	if age, _ := cfg.SessionMaxAgeDuration(); age != time.Hour {
		t.Errorf("SessionMaxAgeDuration = %v", age)
	}

	out := filepath.Join(dir, "saved.yaml")
	if err := Save(cfg, out); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	again, err := Load(out)
	if err != nil {
		t.Fatalf("Load(saved) error: %v", err)
	}
	if again.Mode != ModeSOAP || again.ReadTimeout != 5*time.Second || again.WSDL != cfg.WSDL {
		t.Errorf("saved config differs: %+v", again)
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file left behind")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("FORESTNET_MODE", "rest")
	t.Setenv("FORESTNET_PORT", "9000")
	t.Setenv("FORESTNET_SESSION_REFRESH", "yes")
	t.Setenv("FORESTNET_USE_COOKIES", "false")
	t.Setenv("FORESTNET_ALLOW_SOURCE_LIST", "10.0.0.0/8, 127.0.0.1")
	t.Setenv("FORESTNET_READ_TIMEOUT", "PT2S")
	t.Setenv("FORESTNET_RETRY_COUNT", "not-a-number")

	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv() error: %v", err)
	}
	if cfg.Mode != ModeREST || cfg.Port != 9000 {
		t.Errorf("mode=%v port=%d", cfg.Mode, cfg.Port)
	}
	if !cfg.SessionRefresh || cfg.UseCookies {
		t.Errorf("refresh=%v cookies=%v", cfg.SessionRefresh, cfg.UseCookies)
	}
	if len(cfg.AllowSourceList) != 2 || cfg.AllowSourceList[1] != "127.0.0.1" {
		t.Errorf("AllowSourceList = %v", cfg.AllowSourceList)
	}
	if cfg.ReadTimeout != 2*time.Second {
		t.Errorf("ReadTimeout = %v", cfg.ReadTimeout)
	}
	if cfg.RetryCount != DefaultRetryCount {
		t.Errorf("RetryCount = %d, unparseable env should leave default", cfg.RetryCount)
	}

	t.Setenv("FORESTNET_MODE", "ftp")
	if err := ApplyEnv(Default()); err == nil {
		t.Error("expected error for unknown mode")
	}
}
