package server

import "errors"

var (
	// ErrTooManyConnections is returned by the tracker when the
	// connection limit is reached.
	ErrTooManyConnections = errors.New("maximum connections reached")

	// ErrBind indicates that no candidate address could be bound.
	ErrBind = errors.New("bind failed")

	// ErrAlreadyBound is returned by Bind on a server that already holds
	// a listener.
	ErrAlreadyBound = errors.New("server already bound")

	// ErrNotBound is returned by Serve on a server without a listener.
	ErrNotBound = errors.New("server not bound")

	// ErrServerClosed is returned by Serve once the server has terminated.
	ErrServerClosed = errors.New("server closed")
)
