package tls

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCA(t *testing.T, opts CAOptions) (string, string) {
	t.Helper()

	certPEM, keyPEM, err := GenerateCA(opts)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile := filepath.Join(dir, "ca.pem")
	keyFile := filepath.Join(dir, "ca-key.pem")
	require.NoError(t, WriteCertificateFiles(certPEM, keyPEM, certFile, keyFile))
	return certFile, keyFile
}

func TestGenerateCA(t *testing.T) {
	certPEM, keyPEM, err := GenerateCA(CAOptions{CommonName: "test CA", Organization: []string{"polis"}})
	require.NoError(t, err)

	block, _ := pem.Decode(certPEM)
	require.NotNil(t, block)
	assert.Equal(t, "CERTIFICATE", block.Type)

	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.True(t, cert.IsCA)
	assert.Equal(t, "test CA", cert.Subject.CommonName)
	assert.NotZero(t, cert.KeyUsage&x509.KeyUsageCertSign)

	keyBlock, _ := pem.Decode(keyPEM)
	require.NotNil(t, keyBlock)
	assert.Equal(t, "PRIVATE KEY", keyBlock.Type)
}

func TestLoadCA(t *testing.T) {
	certFile, keyFile := writeCA(t, CAOptions{})

	ca, err := LoadCA(certFile, keyFile)
	require.NoError(t, err)
	require.NotNil(t, ca.Leaf)
	assert.Equal(t, "polis-adblock CA", ca.Leaf.Subject.CommonName)

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadCA_Expired(t *testing.T) {
	past := func() time.Time { return time.Now().Add(-48 * time.Hour) }
	certFile, keyFile := writeCA(t, CAOptions{ValidFor: time.Hour, Now: past})

	_, err := LoadCA(certFile, keyFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestLoadCA_MissingFiles(t *testing.T) {
	_, err := LoadCA(filepath.Join(t.TempDir(), "nope.pem"), filepath.Join(t.TempDir(), "nope-key.pem"))
	assert.Error(t, err)
}

func TestValidateCA_RejectsLeaf(t *testing.T) {
	leaf := &x509.Certificate{NotBefore: time.Now().Add(-time.Hour), NotAfter: time.Now().Add(time.Hour)}
	assert.Error(t, validateCA(leaf, time.Now()))
}
