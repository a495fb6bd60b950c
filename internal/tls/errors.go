package tls

import (
	"errors"
	"fmt"
)

// Sentinel errors for TLS operations.
var (
	// ErrCertificateNotFound indicates that no certificate is available.
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrCertificateExpired indicates that a certificate has expired.
	ErrCertificateExpired = errors.New("certificate expired")

	// ErrProviderClosed indicates that the certificate provider has been closed.
	ErrProviderClosed = errors.New("certificate provider closed")

	// ErrClientCertRequired indicates that a client certificate is required but not provided.
	ErrClientCertRequired = errors.New("client certificate required")

	// ErrClientCertNotAllowed indicates that the client certificate is not in the allowed list.
	ErrClientCertNotAllowed = errors.New("client certificate not allowed")

	// ErrConfigInvalid indicates that the TLS configuration is invalid.
	ErrConfigInvalid = errors.New("invalid TLS configuration")

	// ErrHandshakeFailed matches every *HandshakeError.
	ErrHandshakeFailed = errors.New("TLS handshake failed")
)

// CertificateError reports a failure to load or parse certificate material.
type CertificateError struct {
	Path    string
	Message string
	Cause   error
}

func (e *CertificateError) Error() string {
	msg := "certificate error"
	if e.Path != "" {
		msg += " at " + e.Path
	}
	msg += ": " + e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CertificateError) Unwrap() error {
	return e.Cause
}

// NewCertificateError creates a new CertificateError.
func NewCertificateError(path, message string, cause error) *CertificateError {
	return &CertificateError{Path: path, Message: message, Cause: cause}
}

// ConfigurationError reports an invalid configuration field. It matches
// ErrConfigInvalid.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "TLS config error: " + e.Message
	}
	return fmt.Sprintf("TLS config error at %s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrConfigInvalid.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfigInvalid
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

// ValidationError reports a rejected client certificate.
type ValidationError struct {
	Subject string
	Reason  string
	Cause   error
}

func (e *ValidationError) Error() string {
	msg := "certificate validation failed"
	if e.Subject != "" {
		msg += " for " + e.Subject
	}
	return msg + ": " + e.Reason
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new ValidationError.
func NewValidationError(subject, reason string, cause error) *ValidationError {
	return &ValidationError{Subject: subject, Reason: reason, Cause: cause}
}
