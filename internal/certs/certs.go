// Package certs creates the small certificate authority used to run forestNET
// endpoints over TLS: a self-signed root plus server certificates signed by it.
//
// The same authority backs the `forestnet certs generate` command and the
// loopback TLS tests of the transport and task packages.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// CertificateError represents a certificate-related error (generation,
// loading, validation).
type CertificateError struct {
	// Operation describes what certificate operation failed
	Operation string
	// Path is the certificate file path (if applicable)
	Path string
	// Underlying error
	Err error
}

func (e *CertificateError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("certificate error during %s (file: %s): %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("certificate error during %s: %v", e.Operation, e.Err)
}

func (e *CertificateError) Unwrap() error {
	return e.Err
}

// Authority is a root CA able to sign server certificates.
type Authority struct {
	Certificate *x509.Certificate
	Key         *rsa.PrivateKey
	CertPEM     []byte
	KeyPEM      []byte
}

// NewAuthority generates a fresh self-signed root CA.
func NewAuthority(commonName string, validDays int) (*Authority, error) {
	if validDays <= 0 {
		validDays = 3650
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, &CertificateError{Operation: "generate_key", Err: err}
	}

	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	notBefore := time.Now().Add(-time.Hour)
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{"forestNET"},
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(0, 0, validDays),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, &CertificateError{Operation: "create_certificate", Err: err}
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &CertificateError{Operation: "parse_certificate", Err: err}
	}

	return &Authority{
		Certificate: cert,
		Key:         key,
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
	}, nil
}

// LoadAuthority parses a PEM certificate and PEM private key (PKCS#1 or
// PKCS#8, RSA).
func LoadAuthority(certPEM, keyPEM []byte) (*Authority, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, &CertificateError{Operation: "load", Err: fmt.Errorf("failed to decode CA certificate PEM")}
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, &CertificateError{Operation: "load", Err: err}
	}
	if !cert.IsCA {
		return nil, &CertificateError{Operation: "load", Err: fmt.Errorf("certificate %q is not a CA", cert.Subject.CommonName)}
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, &CertificateError{Operation: "load", Err: fmt.Errorf("failed to decode CA key PEM")}
	}
	key, err := ParseRSAKey(keyBlock.Bytes)
	if err != nil {
		return nil, &CertificateError{Operation: "load", Err: err}
	}

	return &Authority{Certificate: cert, Key: key, CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

// LoadAuthorityFiles reads the CA certificate and key from disk.
func LoadAuthorityFiles(certPath, keyPath string) (*Authority, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, &CertificateError{Operation: "load", Path: certPath, Err: err}
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, &CertificateError{Operation: "load", Path: keyPath, Err: err}
	}
	return LoadAuthority(certPEM, keyPEM)
}

// ParseRSAKey parses a DER private key in PKCS#8 or PKCS#1 form.
func ParseRSAKey(der []byte) (*rsa.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		// Try PKCS1 format
		rsaKey, err1 := x509.ParsePKCS1PrivateKey(der)
		if err1 != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return rsaKey, nil
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}

// Pool returns a CertPool trusting only this authority.
func (a *Authority) Pool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(a.Certificate)
	return pool
}

// CertParams holds parameters for generating a server certificate.
type CertParams struct {
	// CommonName is the CN field and the name clients pin against
	CommonName string
	// Organization is the O field (default: forestNET)
	Organization string
	// DNSNames and IPAddresses become Subject Alternative Names
	DNSNames    []string
	IPAddresses []net.IP
	// ValidDays is certificate validity in days (default: 825)
	ValidDays int
}

// DefaultCertParams returns parameters for a certificate valid for name and,
// when name is an IP literal, for that address as well. Loopback names are
// always included so local tests can connect by either form.
func DefaultCertParams(name string) CertParams {
	p := CertParams{
		CommonName:   name,
		Organization: "forestNET",
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		ValidDays:    825,
	}
	if ip := net.ParseIP(name); ip != nil {
		p.IPAddresses = append(p.IPAddresses, ip)
	} else if name != "localhost" {
		p.DNSNames = append([]string{name}, p.DNSNames...)
	}
	return p
}

// ServerCert represents a generated server certificate.
type ServerCert struct {
	// CertPEM is the certificate in PEM format
	CertPEM []byte
	// CertDER is the certificate in DER format
	CertDER []byte
	// KeyPEM is the unencrypted private key in PEM format
	KeyPEM []byte
	// Certificate is the parsed x509 certificate
	Certificate *x509.Certificate
	// PrivateKey is the RSA private key
	PrivateKey *rsa.PrivateKey
}

// GenerateServerCert generates a server certificate signed by the authority:
//   - RSA 2048-bit key
//   - SHA-256 signature
//   - Key usage: digitalSignature, keyEncipherment
//   - Extended key usage: serverAuth
func (a *Authority) GenerateServerCert(params CertParams) (*ServerCert, error) {
	if params.CommonName == "" {
		return nil, &CertificateError{Operation: "generate", Err: fmt.Errorf("common name is required")}
	}
	if params.ValidDays <= 0 {
		params.ValidDays = 825
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, &CertificateError{Operation: "generate_key", Err: err}
	}

	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	notBefore := time.Now().Add(-time.Hour)
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{params.Organization},
			CommonName:   params.CommonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(0, 0, params.ValidDays),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:              params.DNSNames,
		IPAddresses:           params.IPAddresses,
		BasicConstraintsValid: true,
		IsCA:                  false,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, a.Certificate, &privateKey.PublicKey, a.Key)
	if err != nil {
		return nil, &CertificateError{Operation: "create_certificate", Err: err}
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, &CertificateError{Operation: "parse_certificate", Err: err}
	}

	return &ServerCert{
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		CertDER:     certDER,
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)}),
		Certificate: cert,
		PrivateKey:  privateKey,
	}, nil
}

// TLSCertificate returns the certificate and key as a tls.Certificate.
func (s *ServerCert) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(s.CertPEM, s.KeyPEM)
}

// EncryptedKeyPEM returns the private key as a legacy password-protected PEM
// block (AES-256-CBC), the form accepted by transport.LoadCertificate.
func (s *ServerCert) EncryptedKeyPEM(password string) ([]byte, error) {
	//nolint:staticcheck // legacy PEM encryption is the format being produced
	block, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY",
		x509.MarshalPKCS1PrivateKey(s.PrivateKey), []byte(password), x509.PEMCipherAES256)
	if err != nil {
		return nil, &CertificateError{Operation: "encrypt_key", Err: err}
	}
	return pem.EncodeToMemory(block), nil
}

// WriteFiles writes <base>.crt and <base>.key into dir. A non-empty password
// encrypts the key. It returns both paths.
func (s *ServerCert) WriteFiles(dir, base, password string) (certPath, keyPath string, err error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", "", &CertificateError{Operation: "write", Path: dir, Err: err}
	}

	keyPEM := s.KeyPEM
	if password != "" {
		keyPEM, err = s.EncryptedKeyPEM(password)
		if err != nil {
			return "", "", err
		}
	}

	certPath = filepath.Join(dir, base+".crt")
	keyPath = filepath.Join(dir, base+".key")
	if err := os.WriteFile(certPath, s.CertPEM, 0644); err != nil {
		return "", "", &CertificateError{Operation: "write", Path: certPath, Err: err}
	}
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return "", "", &CertificateError{Operation: "write", Path: keyPath, Err: err}
	}
	return certPath, keyPath, nil
}

// WriteFiles writes the CA as <base>.crt and <base>.key into dir.
func (a *Authority) WriteFiles(dir, base string) (certPath, keyPath string, err error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", "", &CertificateError{Operation: "write", Path: dir, Err: err}
	}
	certPath = filepath.Join(dir, base+".crt")
	keyPath = filepath.Join(dir, base+".key")
	if err := os.WriteFile(certPath, a.CertPEM, 0644); err != nil {
		return "", "", &CertificateError{Operation: "write", Path: certPath, Err: err}
	}
	if err := os.WriteFile(keyPath, a.KeyPEM, 0600); err != nil {
		return "", "", &CertificateError{Operation: "write", Path: keyPath, Err: err}
	}
	return certPath, keyPath, nil
}

// ValidateServerCert checks that certDER is usable as a TLS server
// certificate today. Returns nil if valid, an error describing the problem
// otherwise.
func ValidateServerCert(certDER []byte) error {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return &CertificateError{Operation: "validate", Err: fmt.Errorf("failed to parse certificate: %w", err)}
	}

	now := time.Now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return &CertificateError{Operation: "validate",
			Err: fmt.Errorf("certificate not valid now (valid %s to %s)", cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339))}
	}

	if cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return &CertificateError{Operation: "validate", Err: fmt.Errorf("certificate must have KeyUsageDigitalSignature")}
	}

	hasServerAuth := false
	for _, usage := range cert.ExtKeyUsage {
		if usage == x509.ExtKeyUsageServerAuth {
			hasServerAuth = true
			break
		}
	}
	if !hasServerAuth {
		return &CertificateError{Operation: "validate", Err: fmt.Errorf("certificate must have ExtKeyUsageServerAuth")}
	}
	return nil
}

func serialNumber() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, &CertificateError{Operation: "generate_serial", Err: err}
	}
	return serial, nil
}
