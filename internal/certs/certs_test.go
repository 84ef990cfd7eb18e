package certs

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestAuthority(t *testing.T) *Authority {
	t.Helper()
	ca, err := NewAuthority("forestNET Test CA", 1)
	if err != nil {
		t.Fatalf("NewAuthority failed: %v", err)
	}
	return ca
}

func TestNewAuthority(t *testing.T) {
	ca := newTestAuthority(t)

	if !ca.Certificate.IsCA {
		t.Error("expected CA certificate")
	}
	if ca.Certificate.Subject.CommonName != "forestNET Test CA" {
		t.Errorf("CommonName = %q", ca.Certificate.Subject.CommonName)
	}
	if !strings.Contains(string(ca.CertPEM), "BEGIN CERTIFICATE") {
		t.Error("expected PEM certificate")
	}

	reloaded, err := LoadAuthority(ca.CertPEM, ca.KeyPEM)
	if err != nil {
		t.Fatalf("LoadAuthority failed: %v", err)
	}
	if !reloaded.Certificate.Equal(ca.Certificate) {
		t.Error("reloaded certificate differs")
	}
}

func TestGenerateServerCert(t *testing.T) {
	ca := newTestAuthority(t)

	tests := []struct {
		name      string
		host      string
		verifyFor string
	}{
		{"hostname", "forest.example", "forest.example"},
		{"localhost", "localhost", "localhost"},
		{"ip literal", "192.0.2.10", "192.0.2.10"},
		{"loopback ip always present", "forest.example", "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, err := ca.GenerateServerCert(DefaultCertParams(tt.host))
			if err != nil {
				t.Fatalf("GenerateServerCert failed: %v", err)
			}
			if sc.Certificate.Subject.CommonName != tt.host {
				t.Errorf("CommonName = %q, want %q", sc.Certificate.Subject.CommonName, tt.host)
			}
			if sc.Certificate.SignatureAlgorithm != x509.SHA256WithRSA {
				t.Errorf("SignatureAlgorithm = %v", sc.Certificate.SignatureAlgorithm)
			}

			_, err = sc.Certificate.Verify(x509.VerifyOptions{
				DNSName: tt.verifyFor,
				Roots:   ca.Pool(),
			})
			if err != nil {
				t.Errorf("Verify(%s) failed: %v", tt.verifyFor, err)
			}

			if err := ValidateServerCert(sc.CertDER); err != nil {
				t.Errorf("ValidateServerCert failed: %v", err)
			}
			if _, err := sc.TLSCertificate(); err != nil {
				t.Errorf("TLSCertificate failed: %v", err)
			}
		})
	}
}

func TestGenerateServerCertRequiresName(t *testing.T) {
	ca := newTestAuthority(t)
	_, err := ca.GenerateServerCert(CertParams{})
	var certErr *CertificateError
	if !errors.As(err, &certErr) || certErr.Operation != "generate" {
		t.Fatalf("error = %v, want CertificateError(generate)", err)
	}
}

func TestValidateServerCertRejectsCA(t *testing.T) {
	ca := newTestAuthority(t)
	if err := ValidateServerCert(ca.Certificate.Raw); err == nil {
		t.Fatal("expected CA certificate to be rejected as server certificate")
	}
	if err := ValidateServerCert([]byte("garbage")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEncryptedKeyPEM(t *testing.T) {
	ca := newTestAuthority(t)
	sc, err := ca.GenerateServerCert(DefaultCertParams("localhost"))
	if err != nil {
		t.Fatal(err)
	}

	data, err := sc.EncryptedKeyPEM("s3cret")
	if err != nil {
		t.Fatalf("EncryptedKeyPEM failed: %v", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		t.Fatal("expected PEM block")
	}
	//nolint:staticcheck
	if !x509.IsEncryptedPEMBlock(block) {
		t.Fatal("expected encrypted PEM block")
	}
	//nolint:staticcheck
	der, err := x509.DecryptPEMBlock(block, []byte("s3cret"))
	if err != nil {
		t.Fatalf("DecryptPEMBlock failed: %v", err)
	}
	key, err := ParseRSAKey(der)
	if err != nil {
		t.Fatalf("ParseRSAKey failed: %v", err)
	}
	if !key.Equal(sc.PrivateKey) {
		t.Error("decrypted key differs")
	}
}

func TestWriteFiles(t *testing.T) {
	ca := newTestAuthority(t)
	sc, err := ca.GenerateServerCert(DefaultCertParams("localhost"))
	if err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "tls")
	certPath, keyPath, err := sc.WriteFiles(dir, "server", "")
	if err != nil {
		t.Fatalf("WriteFiles failed: %v", err)
	}
	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key permissions = %v, want 0600", info.Mode().Perm())
	}
	if data, _ := os.ReadFile(certPath); string(data) != string(sc.CertPEM) {
		t.Error("certificate file content mismatch")
	}

	caCert, caKey, err := ca.WriteFiles(dir, "ca")
	if err != nil {
		t.Fatalf("Authority.WriteFiles failed: %v", err)
	}
	if _, err := LoadAuthorityFiles(caCert, caKey); err != nil {
		t.Errorf("LoadAuthorityFiles failed: %v", err)
	}
}

func TestLoadAuthorityErrors(t *testing.T) {
	ca := newTestAuthority(t)
	sc, err := ca.GenerateServerCert(DefaultCertParams("localhost"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		cert    []byte
		key     []byte
		wantErr string
	}{
		{"no pem", []byte("nope"), ca.KeyPEM, "decode CA certificate"},
		{"not a CA", sc.CertPEM, sc.KeyPEM, "not a CA"},
		{"bad key", ca.CertPEM, []byte("nope"), "decode CA key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadAuthority(tt.cert, tt.key)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
