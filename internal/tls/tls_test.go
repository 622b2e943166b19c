package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
)

func TestSetup_Disabled(t *testing.T) {
	cfg, err := Config{}.Setup()
	if err != nil || cfg != nil {
		t.Fatalf("disabled TLS should yield nil config, got %v, %v", cfg, err)
	}
}

func TestSetup_AutoGenerate(t *testing.T) {
	dir := t.TempDir()
	c := Config{Enabled: true, Dir: dir, AutoGenerate: true, Hosts: []string{"relay.local", "10.0.0.1"}}
	cfg, err := c.Setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Fatalf("min version = %x", cfg.MinVersion)
	}
	cert, err := cfg.GetCertificate(nil)
	if err != nil || len(cert.Certificate) == 0 {
		t.Fatalf("get certificate: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, tlsCrt))
	if err != nil {
		t.Fatalf("read cert: %v", err)
	}
	block, _ := pem.Decode(raw)
	parsed, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	if len(parsed.DNSNames) != 1 || parsed.DNSNames[0] != "relay.local" || len(parsed.IPAddresses) != 1 {
		t.Fatalf("unexpected SANs: %v %v", parsed.DNSNames, parsed.IPAddresses)
	}

	info, err := os.Stat(filepath.Join(dir, tlsKey))
	if err != nil {
		t.Fatalf("stat key: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("key mode = %v", info.Mode().Perm())
	}

	// existing files are reused
	before, _ := os.ReadFile(filepath.Join(dir, tlsCrt))
	if _, err := c.Setup(); err != nil {
		t.Fatalf("second setup: %v", err)
	}
	after, _ := os.ReadFile(filepath.Join(dir, tlsCrt))
	if string(before) != string(after) {
		t.Fatal("certificate regenerated although present")
	}
}

func TestSetup_Errors(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		cfg  Config
	}{
		{"no paths", Config{Enabled: true}},
		{"missing files", Config{Enabled: true, Dir: dir}},
		{"bad version", Config{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.0"}},
		{"explicit missing", Config{Enabled: true, CertFile: filepath.Join(dir, "x.crt"), KeyFile: filepath.Join(dir, "x.key")}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := c.cfg.Setup(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSetup_ExplicitFilesTLS12(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := filepath.Join(dir, "a.crt"), filepath.Join(dir, "a.key")
	if err := GenerateSelfSigned(certPath, keyPath, nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	cfg, err := Config{Enabled: true, CertFile: certPath, KeyFile: keyPath, MinVersion: "1.2"}.Setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Fatalf("min version = %x", cfg.MinVersion)
	}
}
