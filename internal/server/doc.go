// Package server implements the TCP accept side of avaserve.
//
// A Server binds the first resolvable candidate for its address, then
// accepts connections in a loop. Every accepted connection is handed to a
// task on an executor, which runs the SecureAcceptor handshake and passes
// the secured stream to the Binder. The Binder tracks the connection,
// asks the HandlerFactory for a fresh ConnHandler and serves it on its own
// task, so a slow or failing connection never blocks the loop or its
// neighbours.
//
//	srv := server.New(cfg, factory, server.NewTLSAcceptor(manager), pool,
//		server.WithLogger(logger))
//	if err := srv.Bind(ctx); err != nil {
//		return err
//	}
//	return srv.Serve(ctx)
package server
