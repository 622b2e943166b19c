// Package tls builds the API server's TLS configuration from files or a
// generated self-signed pair.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	tlsCrt = "tls.crt"
	tlsKey = "tls.key"
)

// Config is the [server.tls] section.
type Config struct {
	Enabled      bool     `mapstructure:"enabled"`
	CertFile     string   `mapstructure:"cert_file"`
	KeyFile      string   `mapstructure:"key_file"`
	Dir          string   `mapstructure:"dir"`           // holds tls.crt and tls.key
	AutoGenerate bool     `mapstructure:"auto_generate"` // self-sign into Dir when missing
	Hosts        []string `mapstructure:"hosts"`         // SANs of generated certificates
	MinVersion   string   `mapstructure:"min_version"`   // "1.2" or "1.3"
}

func parseTLSVersion(ver string) (uint16, error) {
	switch ver {
	case "", "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q", ver)
	}
}

// Paths resolves the certificate and key files.
func (c Config) Paths() (certPath, keyPath string, err error) {
	switch {
	case c.CertFile != "" && c.KeyFile != "":
		return c.CertFile, c.KeyFile, nil
	case c.Dir != "":
		return filepath.Join(c.Dir, tlsCrt), filepath.Join(c.Dir, tlsKey), nil
	}
	return "", "", errors.New("TLS enabled but neither cert_file/key_file nor dir is set")
}

// Setup returns nil when TLS is disabled. Certificates are re-read on each
// handshake so rotated files apply without a restart.
func (c Config) Setup() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseTLSVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	certPath, keyPath, err := c.Paths()
	if err != nil {
		return nil, err
	}
	if c.AutoGenerate && c.Dir != "" && !certificatesExist(certPath, keyPath) {
		if err := GenerateSelfSigned(certPath, keyPath, c.Hosts); err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	// fail at startup rather than on the first handshake
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert, err := tls.LoadX509KeyPair(certPath, keyPath)
			return &cert, err
		},
	}, nil
}

func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}
