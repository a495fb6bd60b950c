package server

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/vyrodovalexey/avaserve/internal/state"
)

// ConnHandler serves one connection. ServeConn owns conn until it
// returns; the server closes it afterwards.
type ConnHandler interface {
	ServeConn(ctx context.Context, conn *Conn) error
}

// ConnHandlerFunc adapts a function to ConnHandler.
type ConnHandlerFunc func(ctx context.Context, conn *Conn) error

// ServeConn calls f.
func (f ConnHandlerFunc) ServeConn(ctx context.Context, conn *Conn) error {
	return f(ctx, conn)
}

// HandlerFactory produces a fresh ConnHandler for every accepted
// connection. It is shared by all connection tasks and must be safe for
// concurrent use.
type HandlerFactory interface {
	NewHandler(conn *Conn) (ConnHandler, error)
}

// HandlerFactoryFunc adapts a function to HandlerFactory.
type HandlerFactoryFunc func(conn *Conn) (ConnHandler, error)

// NewHandler calls f.
func (f HandlerFactoryFunc) NewHandler(conn *Conn) (ConnHandler, error) {
	return f(conn)
}

// Conn is a secured, tracked connection handed to a ConnHandler.
type Conn struct {
	net.Conn

	// ID identifies the connection in logs and metrics.
	ID string

	secured net.Conn
	tracked *TrackedConnection
}

func newConn(secured net.Conn, tracked *TrackedConnection) *Conn {
	return &Conn{
		Conn:    NewCountingConn(secured, tracked),
		ID:      tracked.ID,
		secured: secured,
		tracked: tracked,
	}
}

// TLS returns the negotiated TLS state, or nil for plaintext connections.
func (c *Conn) TLS() *tls.ConnectionState {
	if tc, ok := c.secured.(*tls.Conn); ok {
		st := tc.ConnectionState()
		return &st
	}
	return nil
}

// Stats returns the bytes read and written so far and the connection age.
func (c *Conn) Stats() (bytesIn, bytesOut int64, age time.Duration) {
	return c.tracked.Stats()
}

// ConnInfo describes the connection a request arrived on. It is stored in
// every State returned by Conn.NewRequestState.
type ConnInfo struct {
	state.Marker

	ID         string
	RemoteAddr string
	LocalAddr  string
	TLS        *tls.ConnectionState
}

// NewRequestState returns a State seeded with ConnInfo and a fresh
// RequestID. Handlers create one per request; a State must not be shared
// between connection tasks.
func (c *Conn) NewRequestState() *state.State {
	s := state.New()
	state.Put(s, ConnInfo{
		ID:         c.ID,
		RemoteAddr: c.tracked.RemoteAddr,
		LocalAddr:  c.tracked.LocalAddr,
		TLS:        c.TLS(),
	})
	state.Put(s, state.NewRequestID())
	return s
}
