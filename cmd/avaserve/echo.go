package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/vyrodovalexey/avaserve/internal/observability"
	"github.com/vyrodovalexey/avaserve/internal/server"
	"github.com/vyrodovalexey/avaserve/internal/state"
)

// maxLineSize bounds a single echoed line.
const maxLineSize = 64 * 1024

var errNoRequestState = errors.New("no request state in context")

// newEchoFactory returns a factory for line echo handlers. Each line is
// one request: it gets its own State and the reply is prefixed with the
// request ID.
func newEchoFactory(logger observability.Logger) server.HandlerFactory {
	return server.HandlerFactoryFunc(func(*server.Conn) (server.ConnHandler, error) {
		return &echoHandler{logger: logger}, nil
	})
}

type echoHandler struct {
	logger observability.Logger
}

// ServeConn echoes lines until the peer closes the connection.
func (h *echoHandler) ServeConn(ctx context.Context, conn *server.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		if err := h.serveLine(ctx, conn, scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (h *echoHandler) serveLine(ctx context.Context, conn *server.Conn, line string) error {
	st := conn.NewRequestState()
	defer func() { _ = st.Close() }()

	ctx = state.NewContext(ctx, st)
	ctx = observability.ContextWithRequestID(ctx, state.RequestIDOf(st))
	return h.reply(ctx, conn, line)
}

// reply writes line prefixed with the request ID of the State in ctx.
func (h *echoHandler) reply(ctx context.Context, w io.Writer, line string) error {
	st, ok := state.FromContext(ctx)
	if !ok {
		return errNoRequestState
	}

	if info, ok := state.Borrow[server.ConnInfo](st); ok {
		h.logger.WithContext(ctx).Debug("echo request",
			observability.String("remote_addr", info.RemoteAddr),
			observability.Int("bytes", len(line)),
		)
	}

	if _, err := fmt.Fprintf(w, "%s %s\n", state.RequestIDOf(st), line); err != nil {
		return fmt.Errorf("writing reply: %w", err)
	}
	return nil
}
