package tls

import (
	"crypto/tls"
	"fmt"
	"slices"
	"time"
)

// TLSMode selects how clients authenticate.
type TLSMode string

// TLS mode constants.
const (
	// TLSModeSimple authenticates the server only.
	TLSModeSimple TLSMode = "SIMPLE"

	// TLSModeMutual requires and verifies a client certificate.
	TLSModeMutual TLSMode = "MUTUAL"

	// TLSModeOptionalMutual verifies a client certificate when one is sent.
	TLSModeOptionalMutual TLSMode = "OPTIONAL_MUTUAL"
)

// IsValid returns true if the TLS mode is known.
func (m TLSMode) IsValid() bool {
	switch m {
	case TLSModeSimple, TLSModeMutual, TLSModeOptionalMutual:
		return true
	default:
		return false
	}
}

// RequiresClientCA returns true if the mode verifies client certificates.
func (m TLSMode) RequiresClientCA() bool {
	return m == TLSModeMutual || m == TLSModeOptionalMutual
}

// TLSVersion is a protocol version name used in configuration.
type TLSVersion string

// TLS version constants.
const (
	TLSVersionAuto TLSVersion = "AUTO"
	TLSVersion12   TLSVersion = "TLS12"
	TLSVersion13   TLSVersion = "TLS13"
)

// IsValid returns true if the TLS version is known.
func (v TLSVersion) IsValid() bool {
	switch v {
	case TLSVersionAuto, TLSVersion12, TLSVersion13:
		return true
	default:
		return false
	}
}

// ToTLSVersion converts to the crypto/tls version constant. AUTO maps to
// zero, leaving the choice to crypto/tls.
func (v TLSVersion) ToTLSVersion() uint16 {
	switch v {
	case TLSVersion13:
		return tls.VersionTLS13
	case TLSVersionAuto:
		return 0
	default:
		return tls.VersionTLS12
	}
}

// CertificateSource specifies where the server certificate comes from.
type CertificateSource string

// Certificate source constants.
const (
	CertificateSourceFile   CertificateSource = "file"
	CertificateSourceInline CertificateSource = "inline"
	CertificateSourceACME   CertificateSource = "acme"
)

// IsValid returns true if the certificate source is known.
func (s CertificateSource) IsValid() bool {
	switch s {
	case CertificateSourceFile, CertificateSourceInline, CertificateSourceACME:
		return true
	default:
		return false
	}
}

// DefaultHandshakeTimeout bounds a single server handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// Config is the declarative server TLS configuration.
type Config struct {
	// Mode specifies client authentication (default: SIMPLE).
	Mode TLSMode `yaml:"mode,omitempty"`

	// MinVersion is the minimum TLS version (default: TLS12).
	MinVersion TLSVersion `yaml:"minVersion,omitempty"`

	// MaxVersion is the maximum TLS version (default: TLS13).
	MaxVersion TLSVersion `yaml:"maxVersion,omitempty"`

	// CipherSuites restricts TLS 1.2 cipher suites by name.
	CipherSuites []string `yaml:"cipherSuites,omitempty"`

	// CurvePreferences orders key exchange groups by name.
	CurvePreferences []string `yaml:"curvePreferences,omitempty"`

	// ServerCertificate configures the server certificate.
	ServerCertificate *CertificateConfig `yaml:"serverCertificate,omitempty"`

	// ClientValidation configures client certificate validation.
	ClientValidation *ClientValidationConfig `yaml:"clientValidation,omitempty"`

	// ALPN protocols offered during negotiation.
	ALPN []string `yaml:"alpn,omitempty"`

	// SessionTicketsDisabled disables session ticket resumption.
	SessionTicketsDisabled bool `yaml:"sessionTicketsDisabled,omitempty"`

	// HandshakeTimeout bounds each handshake (default: 10s).
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout,omitempty"`
}

// CertificateConfig configures the server certificate source.
type CertificateConfig struct {
	Source   CertificateSource `yaml:"source,omitempty"`
	CertFile string            `yaml:"certFile,omitempty"`
	KeyFile  string            `yaml:"keyFile,omitempty"`
	CertData string            `yaml:"certData,omitempty"`
	KeyData  string            `yaml:"keyData,omitempty"`

	// Watch reloads file certificates when they change on disk.
	Watch bool `yaml:"watch,omitempty"`

	ACME *ACMEConfig `yaml:"acme,omitempty"`
}

// ACMEConfig configures automatic certificates.
type ACMEConfig struct {
	// Hosts is the list of host names certificates may be issued for.
	Hosts []string `yaml:"hosts,omitempty"`

	// Email is the ACME account contact.
	Email string `yaml:"email,omitempty"`

	// CacheDir stores account keys and certificates between restarts.
	CacheDir string `yaml:"cacheDir,omitempty"`

	// DirectoryURL overrides the ACME directory (default: Let's Encrypt).
	DirectoryURL string `yaml:"directoryURL,omitempty"`

	// RenewBefore renews certificates this long before expiry.
	RenewBefore time.Duration `yaml:"renewBefore,omitempty"`
}

// ClientValidationConfig configures client certificate validation.
type ClientValidationConfig struct {
	Enabled     bool     `yaml:"enabled,omitempty"`
	CAFile      string   `yaml:"caFile,omitempty"`
	CAData      string   `yaml:"caData,omitempty"`
	AllowedCNs  []string `yaml:"allowedCNs,omitempty"`
	AllowedSANs []string `yaml:"allowedSANs,omitempty"`
}

// DefaultConfig returns a Config with secure defaults.
func DefaultConfig() *Config {
	return &Config{
		Mode:             TLSModeSimple,
		MinVersion:       TLSVersion12,
		MaxVersion:       TLSVersion13,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

// EffectiveMode returns the configured mode or SIMPLE.
func (c *Config) EffectiveMode() TLSMode {
	if c.Mode == "" {
		return TLSModeSimple
	}
	return c.Mode
}

// EffectiveHandshakeTimeout returns the configured timeout or the default.
func (c *Config) EffectiveHandshakeTimeout() time.Duration {
	if c == nil || c.HandshakeTimeout <= 0 {
		return DefaultHandshakeTimeout
	}
	return c.HandshakeTimeout
}

// Validate validates the TLS configuration.
func (c *Config) Validate() error {
	return c.validate(true)
}

func (c *Config) validate(requireCertificate bool) error {
	if c == nil {
		return NewConfigurationError("", "configuration is nil")
	}

	if c.Mode != "" && !c.Mode.IsValid() {
		return NewConfigurationError("mode", fmt.Sprintf("invalid TLS mode: %s", c.Mode))
	}

	if err := c.validateVersions(); err != nil {
		return err
	}

	if c.HandshakeTimeout < 0 {
		return NewConfigurationError("handshakeTimeout", "cannot be negative")
	}

	if _, err := ParseCipherSuites(c.CipherSuites); err != nil {
		return err
	}
	if _, err := ParseCurvePreferences(c.CurvePreferences); err != nil {
		return err
	}

	switch {
	case c.ServerCertificate != nil:
		if err := c.ServerCertificate.Validate(); err != nil {
			return err
		}
	case requireCertificate:
		return NewConfigurationError("serverCertificate", "server certificate required")
	}

	if c.EffectiveMode().RequiresClientCA() {
		if c.ClientValidation == nil || !c.ClientValidation.Enabled {
			return NewConfigurationError("clientValidation",
				"client validation required for TLS mode "+string(c.Mode))
		}
	}
	return c.ClientValidation.Validate()
}

func (c *Config) validateVersions() error {
	if c.MinVersion != "" && !c.MinVersion.IsValid() {
		return NewConfigurationError("minVersion", fmt.Sprintf("invalid TLS version: %s", c.MinVersion))
	}
	if c.MaxVersion != "" && !c.MaxVersion.IsValid() {
		return NewConfigurationError("maxVersion", fmt.Sprintf("invalid TLS version: %s", c.MaxVersion))
	}

	minVer, maxVer := c.MinVersion.ToTLSVersion(), c.MaxVersion.ToTLSVersion()
	if c.MinVersion != "" && c.MaxVersion != "" && minVer > 0 && maxVer > 0 && minVer > maxVer {
		return NewConfigurationError("minVersion",
			fmt.Sprintf("minVersion (%s) cannot be greater than maxVersion (%s)", c.MinVersion, c.MaxVersion))
	}
	return nil
}

// EffectiveSource returns the configured source, inferring it when empty.
func (c *CertificateConfig) EffectiveSource() CertificateSource {
	switch {
	case c.Source != "":
		return c.Source
	case c.ACME != nil:
		return CertificateSourceACME
	case c.CertData != "" || c.KeyData != "":
		return CertificateSourceInline
	default:
		return CertificateSourceFile
	}
}

// Validate validates the certificate configuration.
func (c *CertificateConfig) Validate() error {
	source := c.EffectiveSource()
	if !source.IsValid() {
		return NewConfigurationError("serverCertificate.source",
			fmt.Sprintf("invalid certificate source: %s", source))
	}

	switch source {
	case CertificateSourceFile:
		if c.CertFile == "" {
			return NewConfigurationError("serverCertificate.certFile", "certificate file path required")
		}
		if c.KeyFile == "" {
			return NewConfigurationError("serverCertificate.keyFile", "key file path required")
		}
	case CertificateSourceInline:
		if c.CertData == "" || c.KeyData == "" {
			return NewConfigurationError("serverCertificate.certData", "certificate and key data required")
		}
	case CertificateSourceACME:
		if c.ACME == nil || len(c.ACME.Hosts) == 0 {
			return NewConfigurationError("serverCertificate.acme.hosts", "at least one host required")
		}
		if c.ACME.RenewBefore < 0 {
			return NewConfigurationError("serverCertificate.acme.renewBefore", "cannot be negative")
		}
	}
	return nil
}

// Validate validates the client validation configuration.
func (c *ClientValidationConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if c.CAFile == "" && c.CAData == "" {
		return NewConfigurationError("clientValidation", "CA file or CA data required for client validation")
	}
	return nil
}

// Clone creates a deep copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	clone := *c
	clone.CipherSuites = slices.Clone(c.CipherSuites)
	clone.CurvePreferences = slices.Clone(c.CurvePreferences)
	clone.ALPN = slices.Clone(c.ALPN)

	if c.ServerCertificate != nil {
		cert := *c.ServerCertificate
		if cert.ACME != nil {
			acme := *cert.ACME
			acme.Hosts = slices.Clone(acme.Hosts)
			cert.ACME = &acme
		}
		clone.ServerCertificate = &cert
	}

	if c.ClientValidation != nil {
		cv := *c.ClientValidation
		cv.AllowedCNs = slices.Clone(cv.AllowedCNs)
		cv.AllowedSANs = slices.Clone(cv.AllowedSANs)
		clone.ClientValidation = &cv
	}

	return &clone
}
