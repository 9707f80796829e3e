// Package tlsutil builds a *tls.Config for the LDAP listener from the
// settings store's keystore/truststore configuration: reject SSLv3-named
// protocols (CVE-2014-3566/POODLE) and optionally require client
// certificates.
//
// Keystore/truststore file *format* is out of scope; this package expects
// PEM-encoded certificate/key material, the one format Go's standard
// library handles without a third-party PKCS#12/JKS decoder.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// secureCipherSuites is the forward-secret suite list. crypto/tls does not
// let TLS 1.3 suites be configured, so the three TLS 1.3 entries at the top
// have no effect; the remaining entries restrict TLS 1.2 negotiation.
var secureCipherSuites = []uint16{
	tls.TLS_AES_128_GCM_SHA256,
	tls.TLS_AES_256_GCM_SHA384,
	tls.TLS_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// Keystore describes the listener's TLS material, named after the
// davmail.ssl.* settings keys this is loaded from.
type Keystore struct {
	KeystoreFile     string
	KeystoreType     string // "PEM" or empty (read as PEM); anything else is an error
	KeyPass          string // unused for PEM, kept for settings-key parity
	TruststoreFile   string
	TruststoreType   string
	NeedClientAuth   bool
}

// Build loads ks and returns a hardened *tls.Config for the listener. A
// nil, nil return means "no keystore configured" — the listener should
// bind plaintext instead.
func Build(ks Keystore) (*tls.Config, error) {
	if ks.KeystoreFile == "" {
		return nil, nil
	}
	if ks.KeystoreType != "" && ks.KeystoreType != "PEM" {
		return nil, fmt.Errorf("tlsutil: unsupported keystore type %q (only PEM)", ks.KeystoreType)
	}

	certPEM, err := os.ReadFile(ks.KeystoreFile)
	if err != nil {
		return nil, fmt.Errorf("tlsutil: reading keystore: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, certPEM)
	if err != nil {
		return nil, fmt.Errorf("tlsutil: parsing keystore as PEM cert+key: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS13,
		CipherSuites: secureCipherSuites,
	}

	if ks.TruststoreFile != "" {
		pool, err := loadCertPool(ks.TruststoreFile)
		if err != nil {
			return nil, fmt.Errorf("tlsutil: loading truststore: %w", err)
		}
		cfg.ClientCAs = pool
		if ks.NeedClientAuth {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			cfg.ClientAuth = tls.VerifyClientCertIfGiven
		}
	} else if ks.NeedClientAuth {
		cfg.ClientAuth = tls.RequireAnyClientCert
	}

	return cfg, nil
}

func loadCertPool(file string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", file)
	}
	return pool, nil
}

// EnabledProtocolNames reports the human-readable TLS version names a
// *tls.Config will negotiate, used to assert the CVE-2014-3566 property
// that none of them starts with "SSL" — true of every version Go's
// crypto/tls implements, but checked explicitly rather than assumed.
func EnabledProtocolNames(cfg *tls.Config) []string {
	versions := map[uint16]string{
		tls.VersionTLS10: "TLSv1",
		tls.VersionTLS11: "TLSv1.1",
		tls.VersionTLS12: "TLSv1.2",
		tls.VersionTLS13: "TLSv1.3",
	}
	min := cfg.MinVersion
	if min == 0 {
		min = tls.VersionTLS10
	}
	max := cfg.MaxVersion
	if max == 0 {
		max = tls.VersionTLS13
	}
	var names []string
	for v := min; v <= max; v++ {
		if name, ok := versions[v]; ok {
			names = append(names, name)
		}
	}
	return names
}
