package modbus

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"
)

// CertVerifier is the pluggable certificate-validation policy for the TLS
// transport (spec.md §6). Go's crypto/tls has no equivalent of a trait
// object swapped in for verification, so a CertVerifier is wired in via
// tls.Config.VerifyPeerCertificate with InsecureSkipVerify set, which hands
// back exactly the rawCerts/verifiedChains crypto/tls would otherwise
// validate itself.
type CertVerifier interface {
	VerifyPeerCertificate(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error
}

// NewTLSConfig builds a tls.Config that delegates all peer certificate
// validation to v. Go requires InsecureSkipVerify=true to suppress the
// built-in verifier before VerifyPeerCertificate takes over.
func NewTLSConfig(v CertVerifier) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
			return v.VerifyPeerCertificate(rawCerts, verifiedChains)
		},
	}
}

// AuthorityVerifier verifies the peer chains to a trusted root and that
// ServerName matches a SAN entry, falling back to the certificate's Common
// Name if no SAN matches (spec.md §6).
type AuthorityVerifier struct {
	Roots      *x509.CertPool
	ServerName string
}

func (v *AuthorityVerifier) VerifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("modbus: tls: no peer certificate presented")
	}
	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("modbus: tls: parsing peer certificate: %w", err)
	}
	intermediates := x509.NewCertPool()
	for _, raw := range rawCerts[1:] {
		if cert, err := x509.ParseCertificate(raw); err == nil {
			intermediates.AddCert(cert)
		}
	}
	chains, err := leaf.Verify(x509.VerifyOptions{
		Roots:         v.Roots,
		Intermediates: intermediates,
	})
	if err != nil {
		return fmt.Errorf("modbus: tls: chain verification failed: %w", err)
	}
	if err := leaf.VerifyHostname(v.ServerName); err == nil {
		return nil
	}
	// SAN didn't match (or none present); fall back to Common Name.
	if leaf.Subject.CommonName == v.ServerName {
		return nil
	}
	_ = chains
	return fmt.Errorf("modbus: tls: certificate name mismatch (want %q)", v.ServerName)
}

// SelfSignedVerifier requires the peer to present exactly one
// preconfigured certificate, byte-for-byte, still checking its validity
// window; no chain and no DNS name are required (spec.md §6).
type SelfSignedVerifier struct {
	Expected *x509.Certificate
}

func (v *SelfSignedVerifier) VerifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("modbus: tls: no peer certificate presented")
	}
	if !bytes.Equal(rawCerts[0], v.Expected.Raw) {
		return fmt.Errorf("modbus: tls: peer certificate does not match configured certificate")
	}
	now := time.Now()
	if now.Before(v.Expected.NotBefore) || now.After(v.Expected.NotAfter) {
		return fmt.Errorf("modbus: tls: configured certificate is outside its validity window")
	}
	return nil
}

var (
	_ CertVerifier = (*AuthorityVerifier)(nil)
	_ CertVerifier = (*SelfSignedVerifier)(nil)
)
