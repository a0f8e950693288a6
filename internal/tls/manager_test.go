package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demo-call-service/internal/config"
)

func TestGenerateCertReusesExistingPair(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)

	first, err := gen.GenerateCert([]string{"demo.local", "127.0.0.1"})
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(first.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, leaf.DNSNames, "demo.local")
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())

	info, err := os.Stat(filepath.Join(dir, devKeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	second, err := gen.GenerateCert([]string{"other.local"})
	require.NoError(t, err)
	assert.Equal(t, first.Certificate[0], second.Certificate[0])
}

func TestGetCertificateFallsBackToSelfSigned(t *testing.T) {
	m := NewTLSManager(config.ServerConfig{
		EnableTLS:   true,
		Domain:      "localhost",
		AutoCertDir: t.TempDir(),
	}, "development")

	assert.Nil(t, m.GetAutocertManager())

	cert, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)
}

func TestGetCertificateRefusesSelfSignedInProduction(t *testing.T) {
	m := NewTLSManager(config.ServerConfig{
		EnableTLS:   true,
		Domain:      "calls.example.com",
		AutoCertDir: t.TempDir(),
	}, "production")

	_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "calls.example.com"})
	assert.Error(t, err)
}

func TestGetTLSConfigRequiresTLS12(t *testing.T) {
	m := NewTLSManager(config.ServerConfig{AutoCertDir: t.TempDir()}, "development")
	cfg := m.GetTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.NotNil(t, cfg.GetCertificate)
}
