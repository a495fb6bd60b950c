package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"

	"github.com/vyrodovalexey/avaserve/internal/executor"
	"github.com/vyrodovalexey/avaserve/internal/observability"
)

// Binder attaches a secured connection to a fresh handler running on its
// own executor task.
type Binder struct {
	exec    executor.Executor
	factory HandlerFactory
	tracker *ConnectionTracker
	logger  observability.Logger
	metrics *Metrics
}

// NewBinder creates a Binder. A nil tracker admits up to
// DefaultMaxConnections connections.
func NewBinder(
	exec executor.Executor,
	factory HandlerFactory,
	tracker *ConnectionTracker,
	logger observability.Logger,
	metrics *Metrics,
) *Binder {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if tracker == nil {
		tracker = NewConnectionTracker(0, logger)
	}
	if metrics == nil {
		metrics = NewMetrics("", nil)
	}
	return &Binder{
		exec:    exec,
		factory: factory,
		tracker: tracker,
		logger:  logger,
		metrics: metrics,
	}
}

// Tracker returns the connection tracker.
func (b *Binder) Tracker() *ConnectionTracker {
	return b.tracker
}

// Bind schedules conn on a new task and returns without waiting for it.
// A connection over the limit is closed and dropped with a nil error.
// A scheduling failure closes conn and returns an error wrapping the
// executor's.
func (b *Binder) Bind(ctx context.Context, conn net.Conn) error {
	tracked, err := b.tracker.Add(conn)
	if err != nil {
		b.metrics.RecordRejected(rejectConnectionLimit)
		b.logger.Warn("connection rejected",
			observability.String("remote_addr", addrString(conn.RemoteAddr())),
			observability.Error(err),
		)
		_ = conn.Close()
		return nil
	}

	c := newConn(conn, tracked)
	err = b.exec.Spawn("connection", func(taskCtx context.Context) {
		b.serve(ctx, taskCtx, c)
	})
	if err != nil {
		b.tracker.Remove(tracked.ID)
		_ = conn.Close()
		return fmt.Errorf("scheduling connection %s: %w", tracked.ID, err)
	}
	return nil
}

// serve runs the handler for c. ctx belongs to the accept loop and taskCtx
// to the executor; cancelling either stops the connection.
func (b *Binder) serve(ctx, taskCtx context.Context, c *Conn) {
	ctx, cancel := context.WithCancel(observability.ContextWithConnectionID(ctx, c.ID))
	stopTask := context.AfterFunc(taskCtx, cancel)
	stopClose := context.AfterFunc(ctx, func() { _ = c.Close() })

	b.metrics.ConnectionOpened()
	logger := b.logger.With(observability.String("connection_id", c.ID))

	defer func() {
		if r := recover(); r != nil {
			b.metrics.RecordHandlerPanic()
			logger.Error("connection handler panicked",
				observability.Any("panic", r),
				observability.String("stack", string(debug.Stack())),
			)
		}
		stopClose()
		stopTask()
		cancel()
		_ = c.Close()
		b.tracker.Remove(c.ID)

		bytesIn, bytesOut, duration := c.tracked.Stats()
		b.metrics.ConnectionClosed(duration)
		logger.Debug("connection closed",
			observability.Int64("bytes_in", bytesIn),
			observability.Int64("bytes_out", bytesOut),
			observability.Duration("duration", duration),
		)
	}()

	handler, err := b.factory.NewHandler(c)
	if err != nil {
		b.metrics.RecordHandlerError()
		logger.Error("connection handler failed", observability.Error(err))
		return
	}

	if err := handler.ServeConn(ctx, c); err != nil && !isClosedConnError(ctx, err) {
		b.metrics.RecordHandlerError()
		logger.Error("connection handler failed", observability.Error(err))
	}
}

// isClosedConnError reports errors caused by the peer hanging up or by
// shutdown closing the connection.
func isClosedConnError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
