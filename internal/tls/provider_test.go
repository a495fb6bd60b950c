package tls

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInlineProvider(t *testing.T) {
	server := generateTestCertificate(t, certOptions{commonName: "inline"})
	ca := generateTestCertificate(t, certOptions{commonName: "ca", isCA: true})

	p, err := NewInlineProvider(
		&CertificateConfig{CertData: string(server.certPEM), KeyData: string(server.keyPEM)},
		&ClientValidationConfig{Enabled: true, CAData: string(ca.certPEM)},
	)
	require.NoError(t, err)

	cert, err := p.GetCertificate(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Equal(t, "inline", cert.Leaf.Subject.CommonName)

	pool, err := p.GetClientCA(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, pool)

	_, open := <-p.Watch(context.Background())
	assert.False(t, open)

	require.NoError(t, p.Close())
	_, err = p.GetCertificate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrProviderClosed)
	_, err = p.GetClientCA(context.Background())
	assert.ErrorIs(t, err, ErrProviderClosed)
}

func TestNewInlineProvider_InvalidPEM(t *testing.T) {
	_, err := NewInlineProvider(&CertificateConfig{CertData: "junk", KeyData: "junk"}, nil)
	var certErr *CertificateError
	assert.ErrorAs(t, err, &certErr)
}

func TestStaticProvider_NoCertificate(t *testing.T) {
	p := NewStaticProvider(nil, nil)
	_, err := p.GetCertificate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrCertificateNotFound)
}

func TestLoadClientCAPool(t *testing.T) {
	ca := generateTestCertificate(t, certOptions{commonName: "ca", isCA: true})
	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.crt")
	require.NoError(t, os.WriteFile(caFile, ca.certPEM, 0o600))

	pool, err := loadClientCAPool(nil)
	require.NoError(t, err)
	assert.Nil(t, pool)

	pool, err = loadClientCAPool(&ClientValidationConfig{Enabled: true, CAFile: caFile})
	require.NoError(t, err)
	assert.NotNil(t, pool)

	_, err = loadClientCAPool(&ClientValidationConfig{Enabled: true, CAFile: filepath.Join(dir, "missing")})
	assert.ErrorContains(t, err, "failed to read CA file")

	_, err = loadClientCAPool(&ClientValidationConfig{Enabled: true, CAData: "not pem"})
	assert.ErrorContains(t, err, "failed to parse CA certificates")
}

func TestCertificateEventType_String(t *testing.T) {
	assert.Equal(t, "loaded", CertificateEventLoaded.String())
	assert.Equal(t, "reloaded", CertificateEventReloaded.String())
	assert.Equal(t, "error", CertificateEventError.String())
	assert.Equal(t, "unknown", CertificateEventType(42).String())
}
