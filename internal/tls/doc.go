// Package tls builds the server-side transport security context.
//
// A declarative Config (YAML friendly) selects the mode, protocol
// versions, cipher suites, curves, ALPN protocols and the certificate
// source. Manager turns it into a *tls.Config whose GetCertificate
// callback reads from a CertificateProvider, so certificates rotate
// without rebuilding listeners:
//
//	mgr, err := tls.NewManager(cfg, tls.WithManagerLogger(logger))
//	if err != nil {
//	    return err
//	}
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	serverConfig := mgr.TLSConfig()
//
// Three certificate sources are supported:
//
//   - file: PEM files on disk, reloaded on change through fsnotify
//   - inline: PEM data embedded in the configuration
//   - acme: certificates obtained and renewed with ACME (TLS-ALPN-01)
//
// ClassifyHandshakeError maps a failed server handshake to a small set
// of failure classes used for logs and the handshake_errors_total metric.
package tls
