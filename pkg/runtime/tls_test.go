package runtime

import (
	"crypto/x509"
	"testing"
)

func TestGenerateSelfSignedCertCoversHost(t *testing.T) {
	cert, err := generateSelfSignedCert("assistant.local")
	if err != nil {
		t.Fatalf("generateSelfSignedCert error: %v", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate error: %v", err)
	}
	if err := leaf.VerifyHostname("assistant.local"); err != nil {
		t.Fatalf("VerifyHostname error: %v", err)
	}
	if err := leaf.VerifyHostname("127.0.0.1"); err != nil {
		t.Fatalf("loopback not covered: %v", err)
	}
}

func TestUniqueStrings(t *testing.T) {
	got := uniqueStrings([]string{"a", " a ", "", "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("uniqueStrings=%v, want [a b]", got)
	}
}
