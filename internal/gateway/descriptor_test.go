package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushgw/internal/transport"
)

func TestNewDescriptorDefaults(t *testing.T) {
	d := tokenDescriptor(t)
	assert.Equal(t, DefaultTimeout, d.Timeout())
	assert.Equal(t, DefaultBackoffCeiling, d.BackoffCeiling())
	assert.Equal(t, "api.push.example.com:443", d.Authority())
}

func TestNewDescriptorValidation(t *testing.T) {
	base := DescriptorConfig{Name: "n", Host: "h", Port: 443, AuthMode: AuthToken}

	cases := map[string]func(c *DescriptorConfig){
		"missing name":         func(c *DescriptorConfig) { c.Name = " " },
		"missing host":         func(c *DescriptorConfig) { c.Host = "" },
		"port zero":            func(c *DescriptorConfig) { c.Port = 0 },
		"port too large":       func(c *DescriptorConfig) { c.Port = 70000 },
		"unknown auth":         func(c *DescriptorConfig) { c.AuthMode = "basic" },
		"token with cert":      func(c *DescriptorConfig) { c.CertificatePath = "/c.pem" },
		"cert without paths":   func(c *DescriptorConfig) { c.AuthMode = AuthCertificate },
		"cert without keypath": func(c *DescriptorConfig) { c.AuthMode = AuthCertificate; c.CertificatePath = "/c.pem" },
		"negative ceiling":     func(c *DescriptorConfig) { c.BackoffCeiling = intPtr(-1) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			_, err := NewDescriptor(c)
			assert.ErrorIs(t, err, ErrInvalidDescriptor)
		})
	}
}

func TestZeroBackoffCeilingIsKept(t *testing.T) {
	d, err := NewDescriptor(DescriptorConfig{Name: "n", Host: "h", Port: 443, AuthMode: AuthToken, BackoffCeiling: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, d.BackoffCeiling())
	assert.Equal(t, time.Duration(0), BackoffDuration(3, d.BackoffCeiling()))
}

func TestParseAuthMode(t *testing.T) {
	for in, want := range map[string]AuthMode{"cert": AuthCertificate, " Certificate ": AuthCertificate, "jwt": AuthToken, "token": AuthToken} {
		got, err := ParseAuthMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseAuthMode("none")
	assert.ErrorIs(t, err, ErrInvalidDescriptor)
}

func TestTransportOptionsCarryCertificate(t *testing.T) {
	d := certDescriptor(t)
	assert.Equal(t, time.Second, d.Timeout())
	o := d.TransportOptions(transport.Options{DialTimeout: 3 * time.Second, CertificatePath: "/ignored"})
	assert.Equal(t, "/etc/pushgw/cert.pem", o.CertificatePath)
	assert.Equal(t, "/etc/pushgw/key.pem", o.KeyPath)
	assert.Equal(t, 3*time.Second, o.DialTimeout)
}
