package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"sync/atomic"

	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

// ACMEProvider obtains certificates on demand through ACME. Challenges
// are answered in-band with TLS-ALPN-01, so no extra listener is needed
// as long as the server offers the acme-tls/1 protocol.
type ACMEProvider struct {
	manager *autocert.Manager
	pool    *x509.CertPool
	closed  atomic.Bool
}

// NewACMEProvider creates an ACME provider from cfg.
func NewACMEProvider(cfg *ACMEConfig, client *ClientValidationConfig) (*ACMEProvider, error) {
	if cfg == nil || len(cfg.Hosts) == 0 {
		return nil, NewConfigurationError("serverCertificate.acme.hosts", "at least one host required")
	}

	m := &autocert.Manager{
		Prompt:      autocert.AcceptTOS,
		HostPolicy:  autocert.HostWhitelist(cfg.Hosts...),
		Email:       cfg.Email,
		RenewBefore: cfg.RenewBefore,
	}
	if cfg.CacheDir != "" {
		m.Cache = autocert.DirCache(cfg.CacheDir)
	}
	if cfg.DirectoryURL != "" {
		m.Client = &acme.Client{DirectoryURL: cfg.DirectoryURL}
	}

	pool, err := loadClientCAPool(client)
	if err != nil {
		return nil, err
	}

	return &ACMEProvider{manager: m, pool: pool}, nil
}

// GetCertificate returns a certificate for the requested server name.
// Without a ClientHello there is no name to look up.
func (p *ACMEProvider) GetCertificate(_ context.Context, hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}
	if hello == nil {
		return nil, ErrCertificateNotFound
	}
	return p.manager.GetCertificate(hello)
}

// GetClientCA returns the client CA pool, if configured.
func (p *ACMEProvider) GetClientCA(_ context.Context) (*x509.CertPool, error) {
	if p.closed.Load() {
		return nil, ErrProviderClosed
	}
	return p.pool, nil
}

// Watch returns a closed channel; autocert renews in the background.
func (p *ACMEProvider) Watch(_ context.Context) <-chan CertificateEvent {
	ch := make(chan CertificateEvent)
	close(ch)
	return ch
}

// Close marks the provider as closed.
func (p *ACMEProvider) Close() error {
	p.closed.Store(true)
	return nil
}

// NextProtos returns the ALPN protocol required for TLS-ALPN-01.
func (p *ACMEProvider) NextProtos() []string {
	return []string{acme.ALPNProto}
}

var _ CertificateProvider = (*ACMEProvider)(nil)
