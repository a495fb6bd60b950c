package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vyrodovalexey/avaserve/internal/observability"
)

// Manager timing defaults.
const (
	DefaultCertificateLoadTimeout = 5 * time.Second
	DefaultExpiryCheckInterval    = 1 * time.Hour
	DefaultExpiryWarningThreshold = 7 * 24 * time.Hour
)

// Manager owns the certificate provider and the server *tls.Config built
// from a Config.
type Manager struct {
	config   *Config
	provider CertificateProvider
	metrics  MetricsRecorder
	logger   observability.Logger

	validator *Validator

	mu        sync.RWMutex
	tlsConfig *tls.Config
	started   bool
	closed    bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// ManagerOption is a functional option for configuring Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger for the manager.
func WithManagerLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithManagerMetrics sets the metrics recorder for the manager.
func WithManagerMetrics(metrics MetricsRecorder) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithCertificateProvider overrides the provider selected from the
// configured certificate source.
func WithCertificateProvider(provider CertificateProvider) ManagerOption {
	return func(m *Manager) {
		m.provider = provider
	}
}

// NewManager validates config, creates the certificate provider and
// builds the server TLS configuration.
func NewManager(config *Config, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		logger:  observability.NopLogger(),
		metrics: NewNopMetrics(),
		stopCh:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(m)
	}

	if config == nil {
		config = DefaultConfig()
	}
	// A caller-supplied provider makes the certificate section optional.
	if err := config.validate(m.provider == nil); err != nil {
		return nil, err
	}
	m.config = config.Clone()

	if cv := m.config.ClientValidation; cv != nil && cv.Enabled {
		m.validator = NewValidator(cv)
	}

	if m.provider == nil {
		provider, err := newProvider(m.config, m.logger)
		if err != nil {
			return nil, err
		}
		m.provider = provider
	}

	tlsConfig, err := m.buildTLSConfig()
	if err != nil {
		_ = m.provider.Close()
		return nil, err
	}
	m.tlsConfig = tlsConfig

	return m, nil
}

func newProvider(cfg *Config, logger observability.Logger) (CertificateProvider, error) {
	certCfg := cfg.ServerCertificate
	switch certCfg.EffectiveSource() {
	case CertificateSourceInline:
		return NewInlineProvider(certCfg, cfg.ClientValidation)
	case CertificateSourceACME:
		return NewACMEProvider(certCfg.ACME, cfg.ClientValidation)
	default:
		return NewFileProvider(certCfg, cfg.ClientValidation, WithFileProviderLogger(logger))
	}
}

func (m *Manager) buildTLSConfig() (*tls.Config, error) {
	minVersion := m.config.MinVersion
	if minVersion == "" {
		minVersion = TLSVersion12
	}
	maxVersion := m.config.MaxVersion
	if maxVersion == "" {
		maxVersion = TLSVersion13
	}

	cipherSuites, err := ParseCipherSuites(m.config.CipherSuites)
	if err != nil {
		return nil, err
	}
	curves, err := ParseCurvePreferences(m.config.CurvePreferences)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		GetCertificate:         m.getCertificate,
		MinVersion:             minVersion.ToTLSVersion(), // #nosec G402 -- validated, TLS12 floor by default
		MaxVersion:             maxVersion.ToTLSVersion(),
		CipherSuites:           cipherSuites,
		CurvePreferences:       curves,
		NextProtos:             slices.Clone(m.config.ALPN),
		SessionTicketsDisabled: m.config.SessionTicketsDisabled,
	}

	if ap, ok := m.provider.(interface{ NextProtos() []string }); ok {
		for _, proto := range ap.NextProtos() {
			if !slices.Contains(tlsConfig.NextProtos, proto) {
				tlsConfig.NextProtos = append(tlsConfig.NextProtos, proto)
			}
		}
	}

	if err := m.configureClientAuth(tlsConfig); err != nil {
		return nil, err
	}

	return tlsConfig, nil
}

func (m *Manager) configureClientAuth(tlsConfig *tls.Config) error {
	mode := m.config.EffectiveMode()
	switch mode {
	case TLSModeMutual:
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	case TLSModeOptionalMutual:
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	default:
		tlsConfig.ClientAuth = tls.NoClientCert
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultCertificateLoadTimeout)
	defer cancel()

	pool, err := m.provider.GetClientCA(ctx)
	if err != nil {
		return NewCertificateError("", "failed to load client CA", err)
	}
	if pool == nil {
		return NewConfigurationError("clientValidation", "client CA required for TLS mode "+string(mode))
	}

	tlsConfig.ClientCAs = pool
	tlsConfig.VerifyPeerCertificate = m.verifyClientCertificate
	return nil
}

func (m *Manager) getCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	ctx := context.Background()
	if hello != nil && hello.Context() != nil {
		ctx = hello.Context()
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultCertificateLoadTimeout)
	defer cancel()

	cert, err := m.provider.GetCertificate(ctx, hello)
	if err != nil {
		serverName := ""
		if hello != nil {
			serverName = hello.ServerName
		}
		m.logger.Warn("no certificate for handshake",
			observability.String("server_name", serverName),
			observability.Error(err),
		)
		return nil, err
	}
	return cert, nil
}

// verifyClientCertificate runs after chain verification.
func (m *Manager) verifyClientCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		if m.config.EffectiveMode() == TLSModeMutual {
			m.metrics.RecordClientCertValidation(false, "no_certificate")
			return ErrClientCertRequired
		}
		return nil
	}

	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		m.metrics.RecordClientCertValidation(false, "parse_error")
		return NewCertificateError("", "failed to parse client certificate", err)
	}

	if m.validator != nil {
		if err := m.validator.ValidateClientCertificate(cert); err != nil {
			m.metrics.RecordClientCertValidation(false, "not_allowed")
			return err
		}
	}

	m.metrics.RecordClientCertValidation(true, "")
	return nil
}

// Start starts the provider (if it needs starting), the event watcher and
// the expiry monitor.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	if starter, ok := m.provider.(interface{ Start(context.Context) error }); ok {
		if err := starter.Start(ctx); err != nil {
			return err
		}
	}

	m.wg.Add(2)
	go m.watchCertificateEvents(ctx)
	go m.monitorCertificateExpiry(ctx)

	m.logger.Info("TLS manager started",
		observability.String("mode", string(m.config.EffectiveMode())),
		observability.String("provider", fmt.Sprintf("%T", m.provider)),
	)
	return nil
}

func (m *Manager) watchCertificateEvents(ctx context.Context) {
	defer m.wg.Done()

	events := m.provider.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			m.handleCertificateEvent(event)
		}
	}
}

func (m *Manager) handleCertificateEvent(event CertificateEvent) {
	switch event.Type {
	case CertificateEventLoaded, CertificateEventReloaded:
		m.logger.Info("certificate "+event.Type.String(), observability.String("message", event.Message))
		if event.Type == CertificateEventReloaded {
			m.metrics.RecordCertificateReload(true)
			m.refreshClientCA()
		}
		if event.Certificate != nil && event.Certificate.Leaf != nil {
			leaf := event.Certificate.Leaf
			m.metrics.UpdateCertificateExpiry(leaf.Subject.CommonName, leaf.NotAfter)
		}
	case CertificateEventError:
		m.logger.Error("certificate error",
			observability.String("message", event.Message),
			observability.Error(event.Error),
		)
		m.metrics.RecordCertificateReload(false)
	}
}

// refreshClientCA publishes a new *tls.Config carrying the reloaded pool.
// Handshakes already in flight keep the previous one.
func (m *Manager) refreshClientCA() {
	if !m.config.EffectiveMode().RequiresClientCA() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultCertificateLoadTimeout)
	defer cancel()

	pool, err := m.provider.GetClientCA(ctx)
	if err != nil || pool == nil {
		m.logger.Error("failed to refresh client CA", observability.Error(err))
		return
	}

	m.mu.Lock()
	next := m.tlsConfig.Clone()
	next.ClientCAs = pool
	m.tlsConfig = next
	m.mu.Unlock()
}

func (m *Manager) monitorCertificateExpiry(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(DefaultExpiryCheckInterval)
	defer ticker.Stop()

	m.checkCertificateExpiry()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkCertificateExpiry()
		}
	}
}

func (m *Manager) checkCertificateExpiry() {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultCertificateLoadTimeout)
	defer cancel()

	cert, err := m.provider.GetCertificate(ctx, nil)
	if err != nil || cert == nil || cert.Leaf == nil {
		return
	}

	leaf := cert.Leaf
	m.metrics.UpdateCertificateExpiry(leaf.Subject.CommonName, leaf.NotAfter)

	expired, expiringSoon, remaining := CheckCertificateExpiration(leaf, DefaultExpiryWarningThreshold)
	switch {
	case expired:
		m.logger.Error("server certificate has expired",
			observability.String("subject", leaf.Subject.CommonName),
			observability.Any("expired_at", leaf.NotAfter),
		)
	case expiringSoon:
		m.logger.Warn("server certificate expiring soon",
			observability.String("subject", leaf.Subject.CommonName),
			observability.Duration("remaining", remaining),
		)
	}
}

// TLSConfig returns the current server TLS configuration. The returned
// value must not be modified.
func (m *Manager) TLSConfig() *tls.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tlsConfig
}

// Mode returns the effective TLS mode.
func (m *Manager) Mode() TLSMode {
	return m.config.EffectiveMode()
}

// HandshakeTimeout returns the configured handshake timeout.
func (m *Manager) HandshakeTimeout() time.Duration {
	return m.config.EffectiveHandshakeTimeout()
}

// Metrics returns the metrics recorder the manager reports to.
func (m *Manager) Metrics() MetricsRecorder {
	return m.metrics
}

// Close stops background work and closes the provider.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()

	err := m.provider.Close()
	m.logger.Info("TLS manager closed")
	return err
}
