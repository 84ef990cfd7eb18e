package main

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/forestnet/forestnet/internal/config"
	"github.com/forestnet/forestnet/internal/logging"
	"github.com/forestnet/forestnet/internal/message"
	"github.com/forestnet/forestnet/internal/seed"
)

func TestEndpointFlagsApplyOnlyChanged(t *testing.T) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	e := addEndpointFlags(fs, true)
	if err := fs.Parse([]string{"--mode", "REST", "-p", "9090", "--allow", "10.0.0.0/8,127.0.0.1", "--read-timeout", "2s"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Host = "192.0.2.1"
	cfg.KeepAlive = false
	e.apply(cfg)

	if cfg.Mode != config.ModeREST || cfg.Port != 9090 || cfg.ReadTimeout != 2*time.Second {
		t.Errorf("mode=%v port=%d read=%v", cfg.Mode, cfg.Port, cfg.ReadTimeout)
	}
	if len(cfg.AllowSourceList) != 2 || cfg.AllowSourceList[1] != "127.0.0.1" {
		t.Errorf("allow = %v", cfg.AllowSourceList)
	}
	if cfg.Host != "192.0.2.1" || cfg.KeepAlive {
		t.Errorf("unset flags overwrote host=%q keepalive=%v", cfg.Host, cfg.KeepAlive)
	}
}

func TestModeFlagRejectsUnknown(t *testing.T) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addEndpointFlags(fs, true)
	if err := fs.Parse([]string{"--mode", "ftp"}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestClientFlagsOmitServerSettings(t *testing.T) {
	fs := flag.NewFlagSet("request", flag.ContinueOnError)
	addEndpointFlags(fs, false)
	for _, name := range []string{"mode", "root", "session-dir", "advertise"} {
		if fs.Lookup(name) != nil {
			t.Errorf("client flag set has --%s", name)
		}
	}
	for _, name := range []string{"host", "ca", "cert-name", "retries"} {
		if fs.Lookup(name) == nil {
			t.Errorf("client flag set lacks --%s", name)
		}
	}
}

func TestBuildRequest(t *testing.T) {
	dir := t.TempDir()
	upload := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(upload, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	req, err := buildRequest("get", "persons", []string{"age[gt]=30", "name=Ada"}, []string{"x=1=2"}, []string{"doc=" + upload})
	if err != nil {
		t.Fatal(err)
	}
	if req.Method != http.MethodGet || req.Path != "/persons" {
		t.Errorf("method=%q path=%q", req.Method, req.Path)
	}
	if len(req.Params) != 2 || req.Params[0].Op != message.OpGt || req.Params[0].Value != "30" || req.Params[1].Op != message.OpEq {
		t.Errorf("params = %+v", req.Params)
	}
	if len(req.Form) != 1 || req.Form[0].Value != "1=2" {
		t.Errorf("form = %+v", req.Form)
	}
	if len(req.Files) != 1 || req.Files[0].FileName != "notes.txt" || string(req.Files[0].Data) != "hello" {
		t.Errorf("files = %+v", req.Files)
	}
}

func TestBuildRequestErrors(t *testing.T) {
	tests := []struct {
		name   string
		params []string
		fields []string
		files  []string
	}{
		{name: "param without value", params: []string{"age"}},
		{name: "unknown operator", params: []string{"age[like]=3"}},
		{name: "field without name", fields: []string{"=3"}},
		{name: "file without path", files: []string{"doc="}},
		{name: "missing file", files: []string{"doc=/does/not/exist"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := buildRequest("GET", "/", tt.params, tt.fields, tt.files); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestVisitCounter(t *testing.T) {
	s := &seed.Seed{
		RequestHeader: &message.RequestHeader{Method: http.MethodGet, Path: "/", File: "index.html"},
		SessionData:   map[string]any{},
		Temp:          map[string]any{},
	}
	for i := 1; i <= 3; i++ {
		if err := visitCounter(s); err != nil {
			t.Fatal(err)
		}
	}
	if s.SessionData["visits"] != 3 || s.Temp["visits"] != 3 {
		t.Errorf("visits = %v / %v", s.SessionData["visits"], s.Temp["visits"])
	}
	if s.Temp["path"] != "/index.html" {
		t.Errorf("path = %v", s.Temp["path"])
	}
}

func TestServerCertParams(t *testing.T) {
	p := serverCertParams([]string{"forest.example", "10.0.0.5", "alt.example"})
	if p.CommonName != "forest.example" {
		t.Errorf("CN = %q", p.CommonName)
	}
	hasDNS := func(name string) bool {
		for _, n := range p.DNSNames {
			if n == name {
				return true
			}
		}
		return false
	}
	if !hasDNS("forest.example") || !hasDNS("alt.example") || !hasDNS("localhost") {
		t.Errorf("DNS names = %v", p.DNSNames)
	}
	found := false
	for _, ip := range p.IPAddresses {
		if ip.String() == "10.0.0.5" {
			found = true
		}
	}
	if !found {
		t.Errorf("IP addresses = %v", p.IPAddresses)
	}
}

func TestLogLevelFlagHasNoDefault(t *testing.T) {
	f := rootCmd.PersistentFlags().Lookup("log-level")
	if f == nil {
		t.Fatal("no --log-level flag")
	}
	if f.DefValue != "" {
		t.Errorf("DefValue = %q, want empty so %s is consulted", f.DefValue, logging.LogLevelEnvVar)
	}
	if !strings.Contains(f.Usage, logging.LogLevelEnvVar) || !strings.Contains(f.Usage, "off") {
		t.Errorf("Usage = %q", f.Usage)
	}
	if strings.Contains(f.Usage, "default") {
		t.Errorf("Usage claims a default: %q", f.Usage)
	}
}
