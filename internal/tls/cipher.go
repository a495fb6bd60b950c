package tls

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// cipherSuitesByName indexes every cipher suite crypto/tls knows about.
var cipherSuitesByName = func() map[string]*tls.CipherSuite {
	m := make(map[string]*tls.CipherSuite)
	for _, cs := range tls.CipherSuites() {
		m[cs.Name] = cs
	}
	for _, cs := range tls.InsecureCipherSuites() {
		m[cs.Name] = cs
	}
	return m
}()

var curvesByName = map[string]tls.CurveID{
	"X25519":         tls.X25519,
	"X25519MLKEM768": tls.X25519MLKEM768,
	"P256":           tls.CurveP256,
	"P384":           tls.CurveP384,
	"P521":           tls.CurveP521,
}

// ParseCipherSuites resolves cipher suite names. An empty list returns
// nil so crypto/tls applies its own secure defaults. Suites crypto/tls
// flags as insecure are rejected.
func ParseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}

	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		cs, ok := cipherSuitesByName[strings.TrimSpace(name)]
		if !ok {
			return nil, NewConfigurationError("cipherSuites", fmt.Sprintf("unknown cipher suite: %s", name))
		}
		if cs.Insecure {
			return nil, NewConfigurationError("cipherSuites", fmt.Sprintf("insecure cipher suite: %s", name))
		}
		ids = append(ids, cs.ID)
	}
	return ids, nil
}

// ParseCurvePreferences resolves curve names. An empty list returns nil.
func ParseCurvePreferences(names []string) ([]tls.CurveID, error) {
	if len(names) == 0 {
		return nil, nil
	}

	curves := make([]tls.CurveID, 0, len(names))
	for _, name := range names {
		id, ok := curvesByName[strings.ToUpper(strings.TrimSpace(name))]
		if !ok {
			return nil, NewConfigurationError("curvePreferences", fmt.Sprintf("unknown curve: %s", name))
		}
		curves = append(curves, id)
	}
	return curves, nil
}

// CipherSuiteName returns the standard name of a cipher suite.
func CipherSuiteName(id uint16) string {
	return tls.CipherSuiteName(id)
}

// TLSVersionName returns a short label for a protocol version.
func TLSVersionName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS1.0"
	case tls.VersionTLS11:
		return "TLS1.1"
	case tls.VersionTLS12:
		return "TLS1.2"
	case tls.VersionTLS13:
		return "TLS1.3"
	default:
		return "unknown"
	}
}
