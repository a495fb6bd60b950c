package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/avaserve/internal/observability"
)

// DefaultDebounceDelay coalesces bursts of file events into one reload.
const DefaultDebounceDelay = 100 * time.Millisecond

// FileProvider serves a certificate read from PEM files and, when watch
// is enabled, reloads it after the files change.
type FileProvider struct {
	config *CertificateConfig
	client *ClientValidationConfig
	logger observability.Logger

	certificate atomic.Pointer[tls.Certificate]
	clientCA    atomic.Pointer[x509.CertPool]

	watcher   *fsnotify.Watcher
	eventCh   chan CertificateEvent
	stopCh    chan struct{}
	stoppedCh chan struct{}

	mu      sync.Mutex
	closed  bool
	started bool

	debounceDelay time.Duration
}

// FileProviderOption is a functional option for configuring FileProvider.
type FileProviderOption func(*FileProvider)

// WithFileProviderLogger sets the logger for the file provider.
func WithFileProviderLogger(logger observability.Logger) FileProviderOption {
	return func(p *FileProvider) {
		p.logger = logger
	}
}

// WithDebounceDelay sets the debounce delay for file change events.
func WithDebounceDelay(delay time.Duration) FileProviderOption {
	return func(p *FileProvider) {
		p.debounceDelay = delay
	}
}

// NewFileProvider loads the certificate and optional client CA.
func NewFileProvider(
	config *CertificateConfig,
	client *ClientValidationConfig,
	opts ...FileProviderOption,
) (*FileProvider, error) {
	if config == nil {
		return nil, NewConfigurationError("serverCertificate", "certificate configuration is required")
	}

	p := &FileProvider{
		config:        config,
		client:        client,
		logger:        observability.NopLogger(),
		eventCh:       make(chan CertificateEvent, 10),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
		debounceDelay: DefaultDebounceDelay,
	}

	for _, opt := range opts {
		opt(p)
	}

	if err := p.load(); err != nil {
		return nil, err
	}

	return p, nil
}

// Start begins watching the certificate directories when watch is
// enabled. The watcher stops when ctx is done or Close is called.
func (p *FileProvider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return nil
	}

	if !p.config.Watch {
		p.logger.Debug("certificate hot-reload disabled")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return NewCertificateError("", "failed to create file watcher", err)
	}

	// Directories are watched so atomic renames (as done by cert-manager
	// and most deploy tools) are observed.
	for _, dir := range p.watchedDirs() {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return NewCertificateError(dir, "failed to watch directory", err)
		}
	}

	p.watcher = watcher
	p.started = true

	go p.watchLoop(ctx)

	p.sendEvent(CertificateEvent{
		Type:        CertificateEventLoaded,
		Certificate: p.certificate.Load(),
		Message:     "certificate loaded",
	})

	p.logger.Info("watching certificate files",
		observability.String("cert_file", p.config.CertFile),
		observability.String("key_file", p.config.KeyFile),
	)

	return nil
}

func (p *FileProvider) watchedDirs() []string {
	seen := make(map[string]bool)
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		dir := filepath.Dir(path)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}

	add(p.config.CertFile)
	add(p.config.KeyFile)
	if p.client != nil && p.client.Enabled {
		add(p.client.CAFile)
	}
	return dirs
}

// GetCertificate returns the current certificate.
func (p *FileProvider) GetCertificate(_ context.Context, _ *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if p.isClosed() {
		return nil, ErrProviderClosed
	}
	cert := p.certificate.Load()
	if cert == nil {
		return nil, ErrCertificateNotFound
	}
	return cert, nil
}

// GetClientCA returns the client CA certificate pool.
func (p *FileProvider) GetClientCA(_ context.Context) (*x509.CertPool, error) {
	if p.isClosed() {
		return nil, ErrProviderClosed
	}
	return p.clientCA.Load(), nil
}

// Watch returns a channel that receives certificate events.
func (p *FileProvider) Watch(_ context.Context) <-chan CertificateEvent {
	return p.eventCh
}

// Close stops the file watcher and releases resources.
func (p *FileProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	close(p.stopCh)
	if started {
		<-p.stoppedCh
	}

	var err error
	if p.watcher != nil {
		err = p.watcher.Close()
	}
	close(p.eventCh)
	return err
}

func (p *FileProvider) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// load reads the key pair and client CA and swaps them in atomically.
func (p *FileProvider) load() error {
	cert, err := LoadCertificateFromFile(p.config.CertFile, p.config.KeyFile)
	if err != nil {
		return err
	}

	pool, err := loadClientCAPool(p.client)
	if err != nil {
		return err
	}

	p.certificate.Store(cert)
	if pool != nil {
		p.clientCA.Store(pool)
	}

	if cert.Leaf != nil {
		p.logger.Info("certificate loaded",
			observability.String("subject", cert.Leaf.Subject.CommonName),
			observability.Any("not_after", cert.Leaf.NotAfter),
		)
	}
	return nil
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	defer close(p.stoppedCh)

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-p.stopCh:
			return

		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if !p.isRelevant(event) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.NewTimer(p.debounceDelay)
			debounceCh = debounce.C

		case <-debounceCh:
			debounceCh = nil
			p.reload()

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("certificate watcher error", observability.Error(err))
			p.sendEvent(CertificateEvent{Type: CertificateEventError, Error: err, Message: "watcher error"})
		}
	}
}

func (p *FileProvider) isRelevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}

	name := filepath.Clean(event.Name)
	candidates := []string{p.config.CertFile, p.config.KeyFile}
	if p.client != nil {
		candidates = append(candidates, p.client.CAFile)
	}
	for _, c := range candidates {
		if c != "" && name == filepath.Clean(c) {
			return true
		}
	}
	return false
}

// reload keeps the previous certificate when the new files are invalid.
func (p *FileProvider) reload() {
	if err := p.load(); err != nil {
		p.logger.Error("failed to reload certificate", observability.Error(err))
		p.sendEvent(CertificateEvent{Type: CertificateEventError, Error: err, Message: "reload failed"})
		return
	}

	p.sendEvent(CertificateEvent{
		Type:        CertificateEventReloaded,
		Certificate: p.certificate.Load(),
		Message:     "certificate reloaded",
	})
}

func (p *FileProvider) sendEvent(event CertificateEvent) {
	select {
	case p.eventCh <- event:
	default:
		p.logger.Warn("certificate event channel full, dropping event",
			observability.String("type", event.Type.String()),
		)
	}
}

var _ CertificateProvider = (*FileProvider)(nil)
