// Package tlsutil provides TLS configuration utilities for outbound
// connections. Only the client side is covered: the library dials remote
// endpoints, it never terminates TLS itself.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/connkit/errors"
)

// Config controls client-side TLS for dialed connections.
type Config struct {
	// CAFiles lists additional PEM CA bundles trusted beyond the system pool.
	CAFiles []string `json:"ca_files,omitempty"`

	// CertFile and KeyFile hold an optional client certificate pair for
	// mutual TLS. Both must be set together.
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`

	// ServerName overrides the SNI name. Useful when failover URLs point
	// at IP addresses behind a shared certificate.
	ServerName string `json:"server_name,omitempty"`

	// InsecureSkipVerify disables certificate verification. Test use only.
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty"`

	// MinVersion is "1.2" or "1.3". Empty or unknown values mean 1.2.
	MinVersion string `json:"min_version,omitempty"`
}

// LoadClientTLSConfig creates a tls.Config from the given Config.
// Always uses the system CA bundle first, CAFiles are additional trusted CAs.
func LoadClientTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: parseTLSVersion(cfg.MinVersion),
		ServerName: cfg.ServerName,
	}

	// Start with system CA pool
	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		// If system pool unavailable, create empty pool
		rootCAs = x509.NewCertPool()
	}

	// Add additional CAs from config
	for _, caFile := range cfg.CAFiles {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapCode(err, errors.CodeConfigInvalid,
				"tlsutil", "LoadClientTLSConfig", fmt.Sprintf("read CA file %s", caFile))
		}
		if !rootCAs.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapCode(
				fmt.Errorf("invalid PEM data"),
				errors.CodeConfigInvalid,
				"tlsutil", "LoadClientTLSConfig",
				fmt.Sprintf("parse CA certificate from %s", caFile),
			)
		}
	}

	tlsConfig.RootCAs = rootCAs

	// Client certificate pair for mutual TLS
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, errors.WrapCode(
				fmt.Errorf("cert_file and key_file must be set together"),
				errors.CodeConfigInvalid,
				"tlsutil", "LoadClientTLSConfig", "load client certificate",
			)
		}
		clientCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapCode(err, errors.CodeConfigInvalid,
				"tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	// Note: Setting this is intentional via config - operators know the security implications
	if cfg.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
	}

	return tlsConfig, nil
}

// parseTLSVersion converts version string to crypto/tls constant
// Returns tls.VersionTLS12 if empty or invalid
func parseTLSVersion(version string) uint16 {
	switch version {
	case "1.3":
		return tls.VersionTLS13
	case "1.2":
		return tls.VersionTLS12
	default:
		return tls.VersionTLS12 // Safe default
	}
}
