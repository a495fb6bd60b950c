package tls

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileProvider(t *testing.T) {
	c := generateTestCertificate(t, certOptions{commonName: "file"})
	certFile, keyFile := writeCertFiles(t, t.TempDir(), c)

	p, err := NewFileProvider(&CertificateConfig{CertFile: certFile, KeyFile: keyFile}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	cert, err := p.GetCertificate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "file", cert.Leaf.Subject.CommonName)

	pool, err := p.GetClientCA(context.Background())
	require.NoError(t, err)
	assert.Nil(t, pool)
}

func TestNewFileProvider_Errors(t *testing.T) {
	_, err := NewFileProvider(nil, nil)
	assert.ErrorIs(t, err, ErrConfigInvalid)

	_, err = NewFileProvider(&CertificateConfig{CertFile: "/nonexistent/tls.crt", KeyFile: "/nonexistent/tls.key"}, nil)
	var certErr *CertificateError
	require.ErrorAs(t, err, &certErr)
	assert.Equal(t, "/nonexistent/tls.crt", certErr.Path)
}

func TestFileProvider_StartWithoutWatch(t *testing.T) {
	c := generateTestCertificate(t, certOptions{})
	certFile, keyFile := writeCertFiles(t, t.TempDir(), c)

	p, err := NewFileProvider(&CertificateConfig{CertFile: certFile, KeyFile: keyFile}, nil)
	require.NoError(t, err)

	require.NoError(t, p.Start(context.Background()))
	assert.Nil(t, p.watcher)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.GetCertificate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrProviderClosed)
}

func TestFileProvider_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	first := generateTestCertificate(t, certOptions{commonName: "first"})
	certFile, keyFile := writeCertFiles(t, dir, first)

	p, err := NewFileProvider(
		&CertificateConfig{CertFile: certFile, KeyFile: keyFile, Watch: true},
		nil,
		WithDebounceDelay(20*time.Millisecond),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, p.Start(ctx))

	events := p.Watch(ctx)
	loaded := <-events
	assert.Equal(t, CertificateEventLoaded, loaded.Type)

	second := generateTestCertificate(t, certOptions{commonName: "second"})
	writeCertFiles(t, dir, second)

	require.Eventually(t, func() bool {
		cert, err := p.GetCertificate(ctx, nil)
		return err == nil && cert.Leaf.Subject.CommonName == "second"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFileProvider_KeepsCertificateOnBadReload(t *testing.T) {
	dir := t.TempDir()
	good := generateTestCertificate(t, certOptions{commonName: "good"})
	certFile, keyFile := writeCertFiles(t, dir, good)

	p, err := NewFileProvider(&CertificateConfig{CertFile: certFile, KeyFile: keyFile}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	require.NoError(t, os.WriteFile(certFile, []byte("garbage"), 0o600))
	p.reload()

	event := <-p.eventCh
	assert.Equal(t, CertificateEventError, event.Type)

	cert, err := p.GetCertificate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "good", cert.Leaf.Subject.CommonName)
}
