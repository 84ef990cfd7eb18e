package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/forestnet/forestnet/internal/config"
	"github.com/forestnet/forestnet/internal/logging"
)

// modeValue adapts config.Mode to pflag.
type modeValue struct{ mode *config.Mode }

func (m modeValue) String() string {
	if m.mode == nil {
		return ""
	}
	return m.mode.String()
}

func (m modeValue) Set(s string) error {
	parsed, err := config.ParseMode(s)
	if err != nil {
		return err
	}
	*m.mode = parsed
	return nil
}

func (m modeValue) Type() string { return "mode" }

// endpointFlags are the config overrides a command accepts. Flag values land
// in val; only flags given on the command line are copied onto the loaded
// configuration.
type endpointFlags struct {
	fs             *flag.FlagSet
	val            config.Config
	passwordPrompt bool
}

func addEndpointFlags(fs *flag.FlagSet, server bool) *endpointFlags {
	e := &endpointFlags{fs: fs, val: *config.Default()}
	v := &e.val

	fs.StringVar(&v.Scheme, "scheme", v.Scheme, "Transport scheme (http, https)")
	fs.IntVarP(&v.Port, "port", "p", v.Port, "TCP port")
	fs.DurationVar(&v.ReadTimeout, "read-timeout", v.ReadTimeout, "Idle timeout between reads")
	fs.DurationVar(&v.WriteTimeout, "write-timeout", v.WriteTimeout, "Timeout for a single write")

	if server {
		fs.StringVar(&v.Host, "host", v.Host, "Address to listen on")
		fs.Var(modeValue{&v.Mode}, "mode", "Endpoint mode (normal, dynamic, rest, soap)")
		fs.StringVarP(&v.RootDirectory, "root", "r", v.RootDirectory, "Directory served in normal and dynamic mode")
		fs.StringVar(&v.IndexFile, "index", v.IndexFile, "File served for directory requests")
		fs.StringVar(&v.WSDL, "wsdl", v.WSDL, "WSDL document for soap mode (built-in calculator when empty)")
		fs.StringVar(&v.SOAPPath, "soap-path", v.SOAPPath, "Path SOAP envelopes are posted to")
		fs.BoolVar(&v.UseCookies, "cookies", v.UseCookies, "Track sessions with cookies")
		fs.StringVar(&v.SessionDirectory, "session-dir", v.SessionDirectory, "Persist sessions in this directory (in-memory when empty)")
		fs.StringVar(&v.SessionMaxAge, "session-max-age", v.SessionMaxAge, "Session lifetime as an ISO-8601 duration")
		fs.BoolVar(&v.SessionRefresh, "session-refresh", v.SessionRefresh, "Re-send the session cookie on every response")
		fs.StringVar(&v.SessionPassphrase, "session-passphrase", v.SessionPassphrase, "Encrypt session files with this passphrase")
		fs.StringSliceVar(&v.AllowSourceList, "allow", v.AllowSourceList, "Accept only these source addresses or CIDR ranges")
		fs.StringVar(&v.Certificate, "cert", v.Certificate, "TLS certificate (PEM, or PKCS#12 with .p12/.pfx)")
		fs.StringVar(&v.CertificateKey, "key", v.CertificateKey, "TLS private key (PEM)")
		fs.BoolVar(&e.passwordPrompt, "cert-password-prompt", false, "Prompt for the certificate or key password")
		fs.IntVar(&v.MaxConnections, "max-connections", v.MaxConnections, "Concurrent connection limit (0 = unlimited)")
		fs.Int64Var(&v.MaxBodySize, "max-body", v.MaxBodySize, "Largest accepted request body in bytes")
		fs.BoolVar(&v.KeepAlive, "keep-alive", v.KeepAlive, "Allow persistent connections")
		fs.BoolVar(&v.PrintExceptionStackTrace, "stacktrace", v.PrintExceptionStackTrace, "Log stack traces of hook failures")
		fs.BoolVar(&v.Advertise, "advertise", v.Advertise, "Announce the endpoint via mDNS")
		return e
	}

	fs.StringVar(&v.Host, "host", "localhost", "Server host name or address")
	fs.StringVar(&v.TrustedCA, "ca", v.TrustedCA, "CA bundle used to verify the server certificate")
	fs.StringVar(&v.ExpectedCertName, "cert-name", v.ExpectedCertName, "Require this name in the server certificate")
	fs.DurationVar(&v.ConnectTimeout, "connect-timeout", v.ConnectTimeout, "Timeout for a single connection attempt")
	fs.IntVar(&v.RetryCount, "retries", v.RetryCount, "Connection attempts after the first")
	fs.DurationVar(&v.RetryPause, "retry-pause", v.RetryPause, "Pause between connection attempts")
	fs.IntVar(&v.BufferSize, "buffer-size", v.BufferSize, "Socket read buffer in bytes")
	fs.BoolVar(&v.UseCookies, "cookies", v.UseCookies, "Keep the session cookie between requests")
	return e
}

// apply copies every flag set on the command line onto cfg.
func (e *endpointFlags) apply(cfg *config.Config) {
	v := &e.val
	e.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "scheme":
			cfg.Scheme = v.Scheme
		case "port":
			cfg.Port = v.Port
		case "read-timeout":
			cfg.ReadTimeout = v.ReadTimeout
		case "write-timeout":
			cfg.WriteTimeout = v.WriteTimeout
		case "host":
			cfg.Host = v.Host
		case "mode":
			cfg.Mode = v.Mode
		case "root":
			cfg.RootDirectory = v.RootDirectory
		case "index":
			cfg.IndexFile = v.IndexFile
		case "wsdl":
			cfg.WSDL = v.WSDL
		case "soap-path":
			cfg.SOAPPath = v.SOAPPath
		case "cookies":
			cfg.UseCookies = v.UseCookies
		case "session-dir":
			cfg.SessionDirectory = v.SessionDirectory
		case "session-max-age":
			cfg.SessionMaxAge = v.SessionMaxAge
		case "session-refresh":
			cfg.SessionRefresh = v.SessionRefresh
		case "session-passphrase":
			cfg.SessionPassphrase = v.SessionPassphrase
		case "allow":
			cfg.AllowSourceList = v.AllowSourceList
		case "cert":
			cfg.Certificate = v.Certificate
		case "key":
			cfg.CertificateKey = v.CertificateKey
		case "max-connections":
			cfg.MaxConnections = v.MaxConnections
		case "max-body":
			cfg.MaxBodySize = v.MaxBodySize
		case "keep-alive":
			cfg.KeepAlive = v.KeepAlive
		case "stacktrace":
			cfg.PrintExceptionStackTrace = v.PrintExceptionStackTrace
		case "advertise":
			cfg.Advertise = v.Advertise
		case "ca":
			cfg.TrustedCA = v.TrustedCA
		case "cert-name":
			cfg.ExpectedCertName = v.ExpectedCertName
		case "connect-timeout":
			cfg.ConnectTimeout = v.ConnectTimeout
		case "retries":
			cfg.RetryCount = v.RetryCount
		case "retry-pause":
			cfg.RetryPause = v.RetryPause
		case "buffer-size":
			cfg.BufferSize = v.BufferSize
		}
	})
}

// loadConfig layers defaults, the --config file, FORESTNET_* variables and
// the command's flags, in that order.
func loadConfig(e *endpointFlags) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	e.apply(cfg)

	if e.passwordPrompt {
		pass, err := readPassword("Certificate password: ")
		if err != nil {
			return nil, err
		}
		cfg.CertificatePassword = pass
	}

	// The file may name a level; an explicit --log-level still wins.
	if logLevel == "" && cfg.LogLevel != "" {
		if err := logging.Initialize(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadClientConfig is loadConfig for commands that connect to an endpoint.
// A wildcard listen address is read as the local machine.
func loadClientConfig(e *endpointFlags) (*config.Config, error) {
	cfg, err := loadConfig(e)
	if err != nil {
		return nil, err
	}
	if cfg.Host == config.DefaultHost || cfg.Host == "::" {
		cfg.Host = "localhost"
	}
	return cfg, nil
}

func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("password prompt requires a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pass), nil
}
