package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"sync/atomic"
)

// CertificateProvider supplies certificate material to the Manager.
type CertificateProvider interface {
	// GetCertificate returns the certificate for a handshake. hello may be
	// nil when the caller only inspects the current certificate.
	GetCertificate(ctx context.Context, hello *tls.ClientHelloInfo) (*tls.Certificate, error)

	// GetClientCA returns the pool used to verify client certificates, or
	// nil when client validation is not configured.
	GetClientCA(ctx context.Context) (*x509.CertPool, error)

	// Watch returns a channel of certificate events. Providers that never
	// change return a closed channel.
	Watch(ctx context.Context) <-chan CertificateEvent

	// Close releases resources held by the provider.
	Close() error
}

// CertificateEventType represents the type of certificate event.
type CertificateEventType int

// Certificate event types.
const (
	CertificateEventLoaded CertificateEventType = iota
	CertificateEventReloaded
	CertificateEventError
)

func (t CertificateEventType) String() string {
	switch t {
	case CertificateEventLoaded:
		return "loaded"
	case CertificateEventReloaded:
		return "reloaded"
	case CertificateEventError:
		return "error"
	default:
		return "unknown"
	}
}

// CertificateEvent is emitted by providers when material changes.
type CertificateEvent struct {
	Type        CertificateEventType
	Certificate *tls.Certificate
	Error       error
	Message     string
}

// StaticProvider serves a fixed certificate and client CA pool. It backs
// the inline source and tests.
type StaticProvider struct {
	cert   *tls.Certificate
	pool   *x509.CertPool
	closed atomic.Bool
}

// NewStaticProvider creates a provider for an already loaded certificate.
func NewStaticProvider(cert *tls.Certificate, clientCA *x509.CertPool) *StaticProvider {
	return &StaticProvider{cert: cert, pool: clientCA}
}

// NewInlineProvider parses PEM data from cfg and the optional client CA.
func NewInlineProvider(cfg *CertificateConfig, client *ClientValidationConfig) (*StaticProvider, error) {
	cert, err := LoadCertificateFromPEM([]byte(cfg.CertData), []byte(cfg.KeyData))
	if err != nil {
		return nil, err
	}
	pool, err := loadClientCAPool(client)
	if err != nil {
		return nil, err
	}
	return NewStaticProvider(cert, pool), nil
}

// GetCertificate returns the fixed certificate.
func (p *StaticProvider) GetCertificate(_ context.Context, _ *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}
	if p.cert == nil {
		return nil, ErrCertificateNotFound
	}
	return p.cert, nil
}

// GetClientCA returns the fixed client CA pool.
func (p *StaticProvider) GetClientCA(_ context.Context) (*x509.CertPool, error) {
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}
	return p.pool, nil
}

// Watch returns a closed channel.
func (p *StaticProvider) Watch(_ context.Context) <-chan CertificateEvent {
	ch := make(chan CertificateEvent)
	close(ch)
	return ch
}

// Close marks the provider as closed.
func (p *StaticProvider) Close() error {
	p.closed.Store(true)
	return nil
}

var _ CertificateProvider = (*StaticProvider)(nil)

// LoadCertificateFromPEM parses a PEM key pair and fills in Leaf.
func LoadCertificateFromPEM(certPEM, keyPEM []byte) (*tls.Certificate, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, NewCertificateError("", "failed to parse certificate", err)
	}
	return withLeaf(&cert), nil
}

// LoadCertificateFromFile loads a PEM key pair from disk and fills in Leaf.
func LoadCertificateFromFile(certFile, keyFile string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, NewCertificateError(certFile, "failed to load certificate", err)
	}
	return withLeaf(&cert), nil
}

// LoadCAFromPEM builds a certificate pool from PEM data.
func LoadCAFromPEM(caPEM []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, NewCertificateError("", "failed to parse CA certificates", nil)
	}
	return pool, nil
}

func withLeaf(cert *tls.Certificate) *tls.Certificate {
	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
			cert.Leaf = leaf
		}
	}
	return cert
}

// loadClientCAPool reads the client CA from file or inline data. It
// returns nil when validation is disabled.
func loadClientCAPool(client *ClientValidationConfig) (*x509.CertPool, error) {
	if client == nil || !client.Enabled {
		return nil, nil
	}

	data := []byte(client.CAData)
	if client.CAFile != "" {
		var err error
		data, err = os.ReadFile(client.CAFile) // #nosec G304 -- CA file path from config
		if err != nil {
			return nil, NewCertificateError(client.CAFile, "failed to read CA file", err)
		}
	}

	pool, err := LoadCAFromPEM(data)
	if err != nil {
		return nil, NewCertificateError(client.CAFile, "failed to parse CA certificates", err)
	}
	return pool, nil
}
