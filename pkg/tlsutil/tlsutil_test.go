package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestKeystore(t *testing.T) string {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "keystore.pem")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := pem.Encode(f, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatal(err)
	}
	if err := pem.Encode(f, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildWithoutKeystoreReturnsNil(t *testing.T) {
	cfg, err := Build(Keystore{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg != nil {
		t.Fatal("expected nil config when no keystore configured")
	}
}

func TestBuildRejectsUnsupportedKeystoreType(t *testing.T) {
	_, err := Build(Keystore{KeystoreFile: "x.jks", KeystoreType: "JKS"})
	if err == nil {
		t.Fatal("expected error for JKS keystore type")
	}
}

func TestBuildLoadsPEMKeystore(t *testing.T) {
	path := writeTestKeystore(t)
	cfg, err := Build(Keystore{KeystoreFile: path, KeystoreType: "PEM"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("certificates = %d, want 1", len(cfg.Certificates))
	}
}

func TestEnabledProtocolNamesNeverIncludesSSL(t *testing.T) {
	path := writeTestKeystore(t)
	cfg, err := Build(Keystore{KeystoreFile: path})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range EnabledProtocolNames(cfg) {
		if strings.HasPrefix(name, "SSL") {
			t.Fatalf("protocol %q starts with SSL", name)
		}
	}
}
