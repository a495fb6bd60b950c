package tls

import (
	"crypto/x509"
	"fmt"
	"strings"
	"time"
)

// Validator applies the allow lists of a ClientValidationConfig to
// client certificates that already passed chain verification.
type Validator struct {
	config *ClientValidationConfig
	now    func() time.Time
}

// NewValidator creates a new client certificate validator.
func NewValidator(config *ClientValidationConfig) *Validator {
	return &Validator{config: config, now: time.Now}
}

// ValidateClientCertificate checks validity dates, then the CN and SAN
// allow lists.
func (v *Validator) ValidateClientCertificate(cert *x509.Certificate) error {
	if cert == nil {
		return NewValidationError("", "certificate is nil", nil)
	}

	subject := cert.Subject.CommonName
	now := v.now()
	if now.Before(cert.NotBefore) {
		return NewValidationError(subject,
			"certificate not yet valid (valid from "+cert.NotBefore.Format(time.RFC3339)+")", nil)
	}
	if now.After(cert.NotAfter) {
		return NewValidationError(subject,
			"certificate expired on "+cert.NotAfter.Format(time.RFC3339), ErrCertificateExpired)
	}

	if v.config == nil {
		return nil
	}

	if len(v.config.AllowedCNs) > 0 && !matchAny(subject, v.config.AllowedCNs) {
		return NewValidationError(subject,
			fmt.Sprintf("common name %q not in allowed list", subject), ErrClientCertNotAllowed)
	}

	if len(v.config.AllowedSANs) > 0 {
		for _, san := range collectSANs(cert) {
			if matchAny(san, v.config.AllowedSANs) {
				return nil
			}
		}
		return NewValidationError(subject,
			"no subject alternative name matches allowed list", ErrClientCertNotAllowed)
	}

	return nil
}

func collectSANs(cert *x509.Certificate) []string {
	sans := make([]string, 0, len(cert.DNSNames)+len(cert.IPAddresses)+len(cert.EmailAddresses)+len(cert.URIs))
	sans = append(sans, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		sans = append(sans, ip.String())
	}
	sans = append(sans, cert.EmailAddresses...)
	for _, uri := range cert.URIs {
		sans = append(sans, uri.String())
	}
	return sans
}

func matchAny(value string, patterns []string) bool {
	for _, p := range patterns {
		if matchPattern(value, p) {
			return true
		}
	}
	return false
}

// matchPattern supports "*" and a leading "*." subdomain wildcard.
func matchPattern(value, pattern string) bool {
	if pattern == "*" {
		return value != ""
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(strings.ToLower(value), "."+strings.ToLower(suffix))
	}
	return strings.EqualFold(value, pattern)
}

// CheckCertificateExpiration reports whether cert has expired or expires
// within threshold.
func CheckCertificateExpiration(
	cert *x509.Certificate,
	threshold time.Duration,
) (expired, expiringSoon bool, remaining time.Duration) {
	if cert == nil {
		return true, false, 0
	}
	remaining = time.Until(cert.NotAfter)
	if remaining <= 0 {
		return true, false, remaining
	}
	return false, remaining <= threshold, remaining
}
