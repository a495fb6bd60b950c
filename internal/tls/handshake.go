package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// HandshakeClass is the coarse reason a handshake failed.
type HandshakeClass string

// Handshake failure classes.
const (
	HandshakeTimeout          HandshakeClass = "timeout"
	HandshakeProtocolMismatch HandshakeClass = "protocol_mismatch"
	HandshakeBadCertificate   HandshakeClass = "bad_certificate"
	HandshakePeerAbort        HandshakeClass = "peer_abort"
	HandshakeCanceled         HandshakeClass = "canceled"
	HandshakeUnknown          HandshakeClass = "unknown"
)

// HandshakeError describes one failed server handshake. It matches
// ErrHandshakeFailed and unwraps to the underlying error.
type HandshakeError struct {
	Peer  string
	Class HandshakeClass
	Cause error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("TLS handshake with %s failed (%s): %v", e.Peer, e.Class, e.Cause)
}

// Unwrap returns the underlying error.
func (e *HandshakeError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is ErrHandshakeFailed.
func (e *HandshakeError) Is(target error) bool {
	return target == ErrHandshakeFailed
}

// NewHandshakeError classifies cause and wraps it.
func NewHandshakeError(peer string, cause error) *HandshakeError {
	return &HandshakeError{Peer: peer, Class: ClassifyHandshakeError(cause), Cause: cause}
}

// ClassifyHandshakeError maps an error returned by a server handshake to
// a HandshakeClass.
func ClassifyHandshakeError(err error) HandshakeClass {
	if err == nil {
		return ""
	}

	var (
		netErr      net.Error
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		invalidCert x509.CertificateInvalidError
		validation  *ValidationError
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return HandshakeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return HandshakeTimeout
	case errors.Is(err, context.Canceled):
		return HandshakeCanceled
	case errors.As(err, &recordErr):
		return HandshakeProtocolMismatch
	case errors.As(err, &alertErr):
		return classifyAlert(uint8(alertErr))
	case errors.As(err, &verifyErr), errors.As(err, &unknownAuth), errors.As(err, &invalidCert),
		errors.As(err, &validation),
		errors.Is(err, ErrClientCertRequired), errors.Is(err, ErrClientCertNotAllowed):
		return HandshakeBadCertificate
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, net.ErrClosed):
		return HandshakePeerAbort
	}

	// crypto/tls reports several negotiation failures as plain strings.
	msg := err.Error()
	switch {
	case containsAny(msg, "unsupported versions", "no cipher suite", "no mutually supported",
		"no application protocol", "unsupported protocol", "no supported versions"):
		return HandshakeProtocolMismatch
	case strings.Contains(msg, "certificate"):
		return HandshakeBadCertificate
	case containsAny(msg, "connection reset", "broken pipe"):
		return HandshakePeerAbort
	}

	return HandshakeUnknown
}

// classifyAlert maps alerts received from the peer (RFC 8446 section 6).
func classifyAlert(alert uint8) HandshakeClass {
	switch alert {
	case 0, 90: // close_notify, user_canceled
		return HandshakePeerAbort
	case 40, 47, 70, 71, 109, 120: // handshake_failure .. no_application_protocol
		return HandshakeProtocolMismatch
	case 42, 43, 44, 45, 46, 48, 116: // bad_certificate .. certificate_required
		return HandshakeBadCertificate
	default:
		return HandshakeUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
