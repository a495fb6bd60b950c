package tls

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidateClientCertificate(t *testing.T) {
	ca := generateTestCertificate(t, certOptions{isCA: true, commonName: "ca"})
	client := generateTestCertificate(t, certOptions{
		commonName: "svc.team.example.com",
		dnsNames:   []string{"svc.team.example.com"},
		client:     true,
		parent:     ca,
	})
	expired := generateTestCertificate(t, certOptions{
		client:    true,
		notBefore: time.Now().Add(-48 * time.Hour),
		notAfter:  time.Now().Add(-24 * time.Hour),
	})
	future := generateTestCertificate(t, certOptions{
		client:    true,
		notBefore: time.Now().Add(24 * time.Hour),
		notAfter:  time.Now().Add(48 * time.Hour),
	})

	tests := []struct {
		name    string
		config  *ClientValidationConfig
		cert    *testCert
		wantErr error
		errText string
	}{
		{name: "no restrictions", config: nil, cert: client},
		{name: "cn exact", config: &ClientValidationConfig{AllowedCNs: []string{"SVC.team.example.com"}}, cert: client},
		{name: "cn wildcard", config: &ClientValidationConfig{AllowedCNs: []string{"*.example.com"}}, cert: client},
		{name: "cn denied", config: &ClientValidationConfig{AllowedCNs: []string{"other"}}, cert: client, wantErr: ErrClientCertNotAllowed},
		{name: "san wildcard", config: &ClientValidationConfig{AllowedSANs: []string{"*.team.example.com"}}, cert: client},
		{name: "san denied", config: &ClientValidationConfig{AllowedSANs: []string{"*.other.com"}}, cert: client, wantErr: ErrClientCertNotAllowed},
		{name: "expired", cert: expired, wantErr: ErrCertificateExpired},
		{name: "not yet valid", cert: future, errText: "not yet valid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidator(tt.config).ValidateClientCertificate(tt.cert.cert)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.errText != "":
				assert.ErrorContains(t, err, tt.errText)
			default:
				assert.NoError(t, err)
			}
		})
	}

	require.Error(t, NewValidator(nil).ValidateClientCertificate(nil))
}

func TestMatchPattern(t *testing.T) {
	assert.True(t, matchPattern("a.example.com", "*.example.com"))
	assert.False(t, matchPattern("example.com", "*.example.com"))
	assert.False(t, matchPattern("badexample.com", "*.example.com"))
	assert.True(t, matchPattern("anything", "*"))
	assert.False(t, matchPattern("", "*"))
	assert.True(t, matchPattern("Client", "client"))
}

func TestCheckCertificateExpiration(t *testing.T) {
	soon := generateTestCertificate(t, certOptions{notAfter: time.Now().Add(time.Hour)})
	later := generateTestCertificate(t, certOptions{notAfter: time.Now().Add(30 * 24 * time.Hour)})
	past := generateTestCertificate(t, certOptions{
		notBefore: time.Now().Add(-48 * time.Hour),
		notAfter:  time.Now().Add(-time.Hour),
	})

	expired, expiring, remaining := CheckCertificateExpiration(soon.cert, 24*time.Hour)
	assert.False(t, expired)
	assert.True(t, expiring)
	assert.Greater(t, remaining, time.Duration(0))

	expired, expiring, _ = CheckCertificateExpiration(later.cert, 24*time.Hour)
	assert.False(t, expired)
	assert.False(t, expiring)

	expired, _, _ = CheckCertificateExpiration(past.cert, 24*time.Hour)
	assert.True(t, expired)

	expired, _, _ = CheckCertificateExpiration(nil, time.Hour)
	assert.True(t, expired)
}
