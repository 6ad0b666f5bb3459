package modbus

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

func selfSignedCert(t *testing.T, commonName string) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{commonName},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert
}

func TestSelfSignedVerifierAcceptsExactMatch(t *testing.T) {
	cert := selfSignedCert(t, "plc-01.local")
	v := &SelfSignedVerifier{Expected: cert}
	if err := v.VerifyPeerCertificate([][]byte{cert.Raw}, nil); err != nil {
		t.Fatalf("expected match to verify, got %v", err)
	}
}

func TestSelfSignedVerifierRejectsDifferentCert(t *testing.T) {
	expected := selfSignedCert(t, "plc-01.local")
	presented := selfSignedCert(t, "plc-01.local") // different key/serial, same name
	v := &SelfSignedVerifier{Expected: expected}
	if err := v.VerifyPeerCertificate([][]byte{presented.Raw}, nil); err == nil {
		t.Fatal("expected verification failure for a different certificate")
	}
}

func TestSelfSignedVerifierRejectsExpired(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "expired.local"},
		NotBefore:    time.Now().Add(-2 * time.Hour),
		NotAfter:     time.Now().Add(-time.Hour), // already expired
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	v := &SelfSignedVerifier{Expected: cert}
	if err := v.VerifyPeerCertificate([][]byte{cert.Raw}, nil); err == nil {
		t.Fatal("expected expired certificate to be rejected")
	}
}

func TestAuthorityVerifierMatchesCommonNameFallback(t *testing.T) {
	// A certificate with no SAN entries must still match via CommonName.
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "gateway.internal"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(cert)

	v := &AuthorityVerifier{Roots: roots, ServerName: "gateway.internal"}
	if err := v.VerifyPeerCertificate([][]byte{cert.Raw}, nil); err != nil {
		t.Fatalf("expected CommonName fallback match, got %v", err)
	}
}
