package tls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/acme"
)

func TestNewACMEProvider(t *testing.T) {
	_, err := NewACMEProvider(nil, nil)
	assert.ErrorIs(t, err, ErrConfigInvalid)

	_, err = NewACMEProvider(&ACMEConfig{}, nil)
	assert.ErrorIs(t, err, ErrConfigInvalid)

	p, err := NewACMEProvider(&ACMEConfig{
		Hosts:        []string{"example.com"},
		Email:        "ops@example.com",
		CacheDir:     t.TempDir(),
		DirectoryURL: "https://acme.invalid/directory",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{acme.ALPNProto}, p.NextProtos())
	assert.NotNil(t, p.manager.Cache)
	assert.Equal(t, "https://acme.invalid/directory", p.manager.Client.DirectoryURL)

	_, err = p.GetCertificate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrCertificateNotFound)

	pool, err := p.GetClientCA(context.Background())
	require.NoError(t, err)
	assert.Nil(t, pool)

	require.NoError(t, p.Close())
	_, err = p.GetClientCA(context.Background())
	assert.ErrorIs(t, err, ErrProviderClosed)
}

func TestManager_ACMEAddsChallengeProtocol(t *testing.T) {
	m, err := NewManager(&Config{
		ALPN: []string{"h2"},
		ServerCertificate: &CertificateConfig{
			ACME: &ACMEConfig{Hosts: []string{"example.com"}, CacheDir: t.TempDir()},
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	assert.Equal(t, []string{"h2", acme.ALPNProto}, m.TLSConfig().NextProtos)
}
