package server

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/avaserve/internal/executor"
	"github.com/vyrodovalexey/avaserve/internal/observability"
)

func observedLogger() (observability.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return observability.FromZap(zap.New(core)), logs
}

// testTLS returns a server config for localhost and a client config
// trusting it.
func testTLS(t *testing.T) (server, client *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	server = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}},
		MinVersion:   tls.VersionTLS12,
	}
	client = &tls.Config{RootCAs: pool, ServerName: "localhost", MinVersion: tls.VersionTLS12}
	return server, client
}

// countingFactory hands out echo handlers and counts them.
type countingFactory struct {
	calls   atomic.Int32
	handler ConnHandler
}

func newEchoFactory() *countingFactory {
	return &countingFactory{handler: ConnHandlerFunc(echo)}
}

func (f *countingFactory) NewHandler(*Conn) (ConnHandler, error) {
	f.calls.Add(1)
	return f.handler, nil
}

func echo(_ context.Context, conn *Conn) error {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if _, err := conn.Write(append(scanner.Bytes(), '\n')); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// roundTrip writes line to conn and returns the echoed reply.
func roundTrip(t *testing.T, conn net.Conn, line string) string {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := io.WriteString(conn, line+"\n")
	require.NoError(t, err)
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return reply[:len(reply)-1]
}

// startServer binds srv on loopback and serves it until the test ends.
func startServer(t *testing.T, cfg Config, factory HandlerFactory, acceptor SecureAcceptor, opts ...Option) *Server {
	t.Helper()

	cfg.Addr = "127.0.0.1:0"
	pool := executor.NewPool(2)
	srv := New(cfg, factory, acceptor, pool, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Bind(ctx))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
		pool.Wait()
	})
	return srv
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// scriptedListener returns the scripted results in order, then blocks
// until closed.
type scriptedListener struct {
	mu     sync.Mutex
	script []acceptResult
	closed chan struct{}
	once   sync.Once
}

func newScriptedListener(script ...acceptResult) *scriptedListener {
	return &scriptedListener{script: script, closed: make(chan struct{})}
}

func (l *scriptedListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if len(l.script) > 0 {
		r := l.script[0]
		l.script = l.script[1:]
		l.mu.Unlock()
		return r.conn, r.err
	}
	l.mu.Unlock()

	<-l.closed
	return nil, net.ErrClosed
}

func (l *scriptedListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *scriptedListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
}

var errTransient = errors.New("accept: too many open files")

// selectiveExecutor runs tasks inline but refuses the named ones.
type selectiveExecutor struct {
	refuse string
}

func (e selectiveExecutor) Spawn(name string, task executor.Task) error {
	if name == e.refuse {
		return executor.ErrClosed
	}
	task(context.Background())
	return nil
}

// gatedAcceptor holds every handshake until release is closed.
type gatedAcceptor struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedAcceptor() *gatedAcceptor {
	return &gatedAcceptor{entered: make(chan struct{}), release: make(chan struct{})}
}

func (a *gatedAcceptor) Accept(ctx context.Context, raw net.Conn) (net.Conn, error) {
	a.once.Do(func() { close(a.entered) })
	select {
	case <-a.release:
		return raw, nil
	case <-ctx.Done():
		_ = raw.Close()
		return nil, ctx.Err()
	}
}

func (a *gatedAcceptor) Scheme() string {
	return SchemeHTTP
}
