package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"gor2m/pkg/types"
	"gor2m/pkg/validation"
)

// certAllowedDirs restricts filesystem-loaded TLS material to conventional
// certificate locations. Inline PEM content bypasses the filesystem entirely.
var certAllowedDirs = []string{"/etc/ssl", "/etc/gor2m", "./certs", "./ssl", "./config/tls"}

// newTLSConfig builds the broker TLS context. The protocol version is pinned
// (min == max, no negotiation), inline PEM content takes precedence over
// paths, and hostname/certificate verification is always on.
func newTLSConfig(cfg *types.TLSSettings, serverName string) (*tls.Config, error) {
	version, err := tlsVersion(cfg.Version)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		ServerName: serverName,
		MinVersion: version,
		MaxVersion: version,
	}

	caPEM, err := pemMaterial(cfg.CACert, cfg.CACertPath)
	if err != nil {
		return nil, fmt.Errorf("load CA certificate: %w", err)
	}
	if caPEM != nil {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("CA material contains no valid PEM certificates")
		}
		tlsConfig.RootCAs = pool
	}
	// With no CA configured, RootCAs stays nil and the system pool applies.

	certPEM, err := pemMaterial(cfg.ClientCert, cfg.ClientCertPath)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	keyPEM, err := pemMaterial(cfg.ClientKey, cfg.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load client key: %w", err)
	}

	switch {
	case certPEM != nil && keyPEM != nil:
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse client certificate pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	case certPEM != nil || keyPEM != nil:
		return nil, fmt.Errorf("client certificate and key must both be configured")
	}

	return tlsConfig, nil
}

// pemMaterial resolves certificate material from inline content (preferred)
// or a validated filesystem path. Both absent returns (nil, nil).
func pemMaterial(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, nil
	}

	if err := validation.ValidateCertFile(path, certAllowedDirs); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// tlsVersion maps the configured version string to the pinned protocol
// version. An empty setting defaults to 1.2.
func tlsVersion(v string) (uint16, error) {
	switch v {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q (supported: 1.2, 1.3)", v)
	}
}
