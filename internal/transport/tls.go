package transport

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// LoadCertificate loads server TLS material from disk.
//
// certPath may be a PKCS#12 bundle (.p12 or .pfx), opened with password, or a
// PEM certificate chain. For PEM, keyPath names the private key file; when it
// is empty the key is read from certPath as well. An encrypted PEM key is
// decrypted with password.
func LoadCertificate(certPath, keyPath, password string) (tls.Certificate, error) {
	certData, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to read certificate: %w", err)
	}

	switch strings.ToLower(filepath.Ext(certPath)) {
	case ".p12", ".pfx":
		return LoadPKCS12(certData, password)
	}

	keyData := certData
	if keyPath != "" {
		keyData, err = os.ReadFile(keyPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("failed to read private key: %w", err)
		}
	}
	return LoadPEM(certData, keyData, password)
}

// LoadPKCS12 decodes a PKCS#12 bundle holding one certificate and its key.
func LoadPKCS12(data []byte, password string) (tls.Certificate, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to decode PKCS#12 bundle: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

// LoadPEM builds a certificate from PEM data. Blocks other than the private
// key are ignored in keyData, so a combined cert+key file works for both
// arguments.
func LoadPEM(certData, keyData []byte, password string) (tls.Certificate, error) {
	var certPEM []byte
	rest := certData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			certPEM = append(certPEM, pem.EncodeToMemory(block)...)
		}
	}
	if len(certPEM) == 0 {
		return tls.Certificate{}, fmt.Errorf("no CERTIFICATE block found")
	}

	var keyPEM []byte
	rest = keyData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if !strings.HasSuffix(block.Type, "PRIVATE KEY") {
			continue
		}
		//nolint:staticcheck // legacy encrypted PEM keys are still in circulation
		if x509.IsEncryptedPEMBlock(block) {
			if password == "" {
				return tls.Certificate{}, fmt.Errorf("private key is encrypted but no password was given")
			}
			//nolint:staticcheck
			der, err := x509.DecryptPEMBlock(block, []byte(password))
			if err != nil {
				return tls.Certificate{}, fmt.Errorf("failed to decrypt private key: %w", err)
			}
			block = &pem.Block{Type: block.Type, Bytes: der}
		}
		keyPEM = pem.EncodeToMemory(block)
		break
	}
	if keyPEM == nil {
		return tls.Certificate{}, fmt.Errorf("no PRIVATE KEY block found")
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load key pair: %w", err)
	}
	return cert, nil
}

// LoadCertPool reads a PEM bundle of trusted CA certificates. An empty path
// returns nil, which means the system roots.
func LoadCertPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// ServerTLSConfig returns the server-side TLS configuration. TLS 1.2 is the
// minimum version.
func ServerTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}

// clientTLSConfig builds the client configuration for cfg. The standard chain
// verification runs against RootCAs; the expected name check runs afterwards
// on the verified leaf.
func clientTLSConfig(cfg DialConfig) *tls.Config {
	serverName := cfg.ServerName
	if serverName == "" {
		serverName = cfg.Host
	}
	if cfg.ExpectedCertName != "" {
		serverName = cfg.ExpectedCertName
	}

	tc := &tls.Config{
		ServerName: serverName,
		RootCAs:    cfg.RootCAs,
		MinVersion: tls.VersionTLS12,
	}

	if want := cfg.ExpectedCertName; want != "" {
		tc.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return &errCertificateName{want: want}
			}
			leaf := cs.PeerCertificates[0]
			if leaf.Subject.CommonName == want || leaf.VerifyHostname(want) == nil {
				return nil
			}
			return &errCertificateName{want: want, got: leaf.Subject.CommonName}
		}
	}
	return tc
}
