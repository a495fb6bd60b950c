package server

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avaserve/internal/observability"
)

// DefaultMaxConnections is the connection limit used when none is set.
const DefaultMaxConnections = 10000

// ConnectionTracker tracks active connections for limits, metrics and
// forced shutdown.
type ConnectionTracker struct {
	connections sync.Map
	maxConns    int
	connCount   atomic.Int64
	logger      observability.Logger
}

// TrackedConnection holds the metadata of one active connection.
type TrackedConnection struct {
	ID         string
	RemoteAddr string
	LocalAddr  string
	StartTime  time.Time

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
	conn     net.Conn
}

// NewConnectionTracker creates a tracker admitting at most maxConns
// connections. If maxConns <= 0, DefaultMaxConnections is used.
func NewConnectionTracker(maxConns int, logger observability.Logger) *ConnectionTracker {
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &ConnectionTracker{
		maxConns: maxConns,
		logger:   logger,
	}
}

// Add registers conn under a new ID.
func (t *ConnectionTracker) Add(conn net.Conn) (*TrackedConnection, error) {
	if n := t.connCount.Add(1); int(n) > t.maxConns {
		t.connCount.Add(-1)
		return nil, fmt.Errorf("%w: %d", ErrTooManyConnections, t.maxConns)
	}

	tracked := &TrackedConnection{
		ID:         uuid.NewString(),
		RemoteAddr: addrString(conn.RemoteAddr()),
		LocalAddr:  addrString(conn.LocalAddr()),
		StartTime:  time.Now(),
		conn:       conn,
	}
	t.connections.Store(tracked.ID, tracked)

	t.logger.Debug("connection added",
		observability.String("connection_id", tracked.ID),
		observability.String("remote_addr", tracked.RemoteAddr),
	)
	return tracked, nil
}

// Remove forgets the connection with the given ID.
func (t *ConnectionTracker) Remove(id string) {
	if _, loaded := t.connections.LoadAndDelete(id); loaded {
		t.connCount.Add(-1)
		t.logger.Debug("connection removed", observability.String("connection_id", id))
	}
}

// Get returns a tracked connection by ID, or nil.
func (t *ConnectionTracker) Get(id string) *TrackedConnection {
	if v, ok := t.connections.Load(id); ok {
		return v.(*TrackedConnection)
	}
	return nil
}

// Count returns the number of active connections.
func (t *ConnectionTracker) Count() int {
	return int(t.connCount.Load())
}

// Max returns the connection limit.
func (t *ConnectionTracker) Max() int {
	return t.maxConns
}

// List returns all tracked connections.
func (t *ConnectionTracker) List() []*TrackedConnection {
	var connections []*TrackedConnection
	t.connections.Range(func(_, value any) bool {
		connections = append(connections, value.(*TrackedConnection))
		return true
	})
	return connections
}

// CloseAll closes every tracked connection.
func (t *ConnectionTracker) CloseAll() {
	t.connections.Range(func(_, value any) bool {
		tracked := value.(*TrackedConnection)
		if err := tracked.Close(); err != nil {
			t.logger.Debug("error closing connection",
				observability.String("connection_id", tracked.ID),
				observability.Error(err),
			)
		}
		return true
	})
}

// Stats returns the byte counters and age of the connection.
func (tc *TrackedConnection) Stats() (bytesIn, bytesOut int64, duration time.Duration) {
	return tc.bytesIn.Load(), tc.bytesOut.Load(), time.Since(tc.StartTime)
}

// Close closes the underlying connection.
func (tc *TrackedConnection) Close() error {
	if tc.conn != nil {
		return tc.conn.Close()
	}
	return nil
}

// CountingConn wraps a net.Conn and counts transferred bytes on its
// TrackedConnection.
type CountingConn struct {
	net.Conn
	tracked *TrackedConnection
}

// NewCountingConn wraps conn.
func NewCountingConn(conn net.Conn, tracked *TrackedConnection) *CountingConn {
	return &CountingConn{Conn: conn, tracked: tracked}
}

// Read reads from the connection and updates the inbound counter.
func (c *CountingConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 && c.tracked != nil {
		c.tracked.bytesIn.Add(int64(n))
	}
	return n, err
}

// Write writes to the connection and updates the outbound counter.
func (c *CountingConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 && c.tracked != nil {
		c.tracked.bytesOut.Add(int64(n))
	}
	return n, err
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
