// Package testcerts generates throwaway PEM certificate material for TLS
// tests: a self-signed CA plus server and client certificates issued by it.
// Everything is created in-process so tests stay hermetic.
package testcerts

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Bundle holds generated certificate material both as inline PEM content and
// as files written under Dir, mirroring the two ways the bridge accepts it.
type Bundle struct {
	Dir string

	CAPEM         []byte
	ServerCertPEM []byte
	ServerKeyPEM  []byte
	ClientCertPEM []byte
	ClientKeyPEM  []byte

	CAPath         string
	ServerCertPath string
	ServerKeyPath  string
	ClientCertPath string
	ClientKeyPath  string
}

// Generate creates a CA, a server certificate valid for the given hosts, and
// a client certificate, all written to a per-test temp directory.
func Generate(t *testing.T, hosts ...string) *Bundle {
	t.Helper()

	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "gor2m test CA", Organization: []string{"gor2m"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create CA certificate: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parse CA certificate: %v", err)
	}

	serverCertPEM, serverKeyPEM := issue(t, caCert, caKey, hosts, x509.ExtKeyUsageServerAuth, "gor2m test server")
	clientCertPEM, clientKeyPEM := issue(t, caCert, caKey, nil, x509.ExtKeyUsageClientAuth, "gor2m test client")

	b := &Bundle{
		Dir:           t.TempDir(),
		CAPEM:         pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER}),
		ServerCertPEM: serverCertPEM,
		ServerKeyPEM:  serverKeyPEM,
		ClientCertPEM: clientCertPEM,
		ClientKeyPEM:  clientKeyPEM,
	}

	b.CAPath = write(t, b.Dir, "ca.pem", b.CAPEM)
	b.ServerCertPath = write(t, b.Dir, "server.pem", b.ServerCertPEM)
	b.ServerKeyPath = write(t, b.Dir, "server-key.pem", b.ServerKeyPEM)
	b.ClientCertPath = write(t, b.Dir, "client.pem", b.ClientCertPEM)
	b.ClientKeyPath = write(t, b.Dir, "client-key.pem", b.ClientKeyPEM)
	return b
}

func issue(t *testing.T, caCert *x509.Certificate, caKey *ecdsa.PrivateKey, hosts []string, usage x509.ExtKeyUsage, cn string) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key for %s: %v", cn, err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"gor2m"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create certificate for %s: %v", cn, err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key for %s: %v", cn, err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

func write(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
