package tls

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFileCert() *CertificateConfig {
	return &CertificateConfig{CertFile: "/tmp/tls.crt", KeyFile: "/tmp/tls.key"}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{
			name: "file certificate",
			cfg:  &Config{ServerCertificate: validFileCert()},
		},
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: "configuration is nil",
		},
		{
			name:    "invalid mode",
			cfg:     &Config{Mode: "PASSTHROUGH", ServerCertificate: validFileCert()},
			wantErr: "invalid TLS mode",
		},
		{
			name:    "invalid min version",
			cfg:     &Config{MinVersion: "TLS10", ServerCertificate: validFileCert()},
			wantErr: "invalid TLS version",
		},
		{
			name:    "min greater than max",
			cfg:     &Config{MinVersion: TLSVersion13, MaxVersion: TLSVersion12, ServerCertificate: validFileCert()},
			wantErr: "cannot be greater",
		},
		{
			name:    "negative handshake timeout",
			cfg:     &Config{HandshakeTimeout: -time.Second, ServerCertificate: validFileCert()},
			wantErr: "handshakeTimeout",
		},
		{
			name:    "unknown cipher",
			cfg:     &Config{CipherSuites: []string{"TLS_FAKE"}, ServerCertificate: validFileCert()},
			wantErr: "unknown cipher suite",
		},
		{
			name:    "unknown curve",
			cfg:     &Config{CurvePreferences: []string{"P999"}, ServerCertificate: validFileCert()},
			wantErr: "unknown curve",
		},
		{
			name:    "missing certificate",
			cfg:     &Config{},
			wantErr: "server certificate required",
		},
		{
			name:    "file without key",
			cfg:     &Config{ServerCertificate: &CertificateConfig{CertFile: "a"}},
			wantErr: "key file path required",
		},
		{
			name:    "inline without key",
			cfg:     &Config{ServerCertificate: &CertificateConfig{Source: CertificateSourceInline, CertData: "x"}},
			wantErr: "certificate and key data required",
		},
		{
			name:    "acme without hosts",
			cfg:     &Config{ServerCertificate: &CertificateConfig{Source: CertificateSourceACME}},
			wantErr: "at least one host",
		},
		{
			name: "acme with hosts",
			cfg: &Config{ServerCertificate: &CertificateConfig{
				ACME: &ACMEConfig{Hosts: []string{"example.com"}},
			}},
		},
		{
			name:    "mutual without client validation",
			cfg:     &Config{Mode: TLSModeMutual, ServerCertificate: validFileCert()},
			wantErr: "client validation required",
		},
		{
			name: "mutual without CA",
			cfg: &Config{
				Mode:              TLSModeMutual,
				ServerCertificate: validFileCert(),
				ClientValidation:  &ClientValidationConfig{Enabled: true},
			},
			wantErr: "CA file or CA data required",
		},
		{
			name: "mutual with CA",
			cfg: &Config{
				Mode:              TLSModeMutual,
				ServerCertificate: validFileCert(),
				ClientValidation:  &ClientValidationConfig{Enabled: true, CAFile: "/tmp/ca.crt"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.ErrorIs(t, err, ErrConfigInvalid)
		})
	}
}

func TestCertificateConfig_EffectiveSource(t *testing.T) {
	assert.Equal(t, CertificateSourceFile, (&CertificateConfig{}).EffectiveSource())
	assert.Equal(t, CertificateSourceInline, (&CertificateConfig{CertData: "x"}).EffectiveSource())
	assert.Equal(t, CertificateSourceACME, (&CertificateConfig{ACME: &ACMEConfig{}}).EffectiveSource())
	assert.Equal(t, CertificateSourceInline, (&CertificateConfig{Source: CertificateSourceInline}).EffectiveSource())
}

func TestTLSVersion_ToTLSVersion(t *testing.T) {
	assert.Equal(t, uint16(tls.VersionTLS12), TLSVersion12.ToTLSVersion())
	assert.Equal(t, uint16(tls.VersionTLS13), TLSVersion13.ToTLSVersion())
	assert.Equal(t, uint16(0), TLSVersionAuto.ToTLSVersion())
	assert.Equal(t, uint16(tls.VersionTLS12), TLSVersion("").ToTLSVersion())
}

func TestConfig_EffectiveDefaults(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, TLSModeSimple, cfg.EffectiveMode())
	assert.Equal(t, DefaultHandshakeTimeout, cfg.EffectiveHandshakeTimeout())

	var nilCfg *Config
	assert.Equal(t, DefaultHandshakeTimeout, nilCfg.EffectiveHandshakeTimeout())

	cfg.HandshakeTimeout = time.Second
	assert.Equal(t, time.Second, cfg.EffectiveHandshakeTimeout())
}

func TestConfig_Clone(t *testing.T) {
	orig := &Config{
		ALPN:         []string{"h2"},
		CipherSuites: []string{"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256"},
		ServerCertificate: &CertificateConfig{
			ACME: &ACMEConfig{Hosts: []string{"a.example.com"}},
		},
		ClientValidation: &ClientValidationConfig{AllowedCNs: []string{"client"}},
	}

	clone := orig.Clone()
	require.Equal(t, orig, clone)

	clone.ALPN[0] = "http/1.1"
	clone.ServerCertificate.ACME.Hosts[0] = "b.example.com"
	clone.ClientValidation.AllowedCNs[0] = "other"

	assert.Equal(t, "h2", orig.ALPN[0])
	assert.Equal(t, "a.example.com", orig.ServerCertificate.ACME.Hosts[0])
	assert.Equal(t, "client", orig.ClientValidation.AllowedCNs[0])

	var nilCfg *Config
	assert.Nil(t, nilCfg.Clone())
}
