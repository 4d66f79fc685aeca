package gateway

import (
	"fmt"
	"strings"
	"time"

	"pushgw/internal/transport"
)

// AuthMode selects how a connection authenticates to the gateway.
type AuthMode string

const (
	AuthCertificate AuthMode = "certificate"
	AuthToken       AuthMode = "token"
)

// ParseAuthMode accepts the config spellings of an AuthMode.
func ParseAuthMode(s string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "certificate", "cert":
		return AuthCertificate, nil
	case "token", "jwt":
		return AuthToken, nil
	default:
		return "", fmt.Errorf("%w: unknown auth mode %q", ErrInvalidDescriptor, s)
	}
}

// DefaultTimeout is the synchronous wait used when a descriptor sets none.
const DefaultTimeout = 5 * time.Second

// Descriptor is the immutable description of one gateway connection.
type Descriptor struct {
	name     string
	host     string
	port     int
	authMode AuthMode
	certPath string
	keyPath  string
	timeout  time.Duration
	ceiling  int
}

// DescriptorConfig is the mutable input to NewDescriptor.
type DescriptorConfig struct {
	Name            string
	Host            string
	Port            int
	AuthMode        AuthMode
	CertificatePath string
	KeyPath         string
	Timeout         time.Duration
	BackoffCeiling  *int // seconds; nil means DefaultBackoffCeiling
}

// NewDescriptor validates c and freezes it into a Descriptor.
//
// Certificate fields must be present exactly when AuthMode is AuthCertificate.
func NewDescriptor(c DescriptorConfig) (Descriptor, error) {
	d := Descriptor{
		name:     strings.TrimSpace(c.Name),
		host:     strings.TrimSpace(c.Host),
		port:     c.Port,
		authMode: c.AuthMode,
		certPath: strings.TrimSpace(c.CertificatePath),
		keyPath:  strings.TrimSpace(c.KeyPath),
		timeout:  c.Timeout,
		ceiling:  DefaultBackoffCeiling,
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if c.BackoffCeiling != nil {
		d.ceiling = *c.BackoffCeiling
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Validate checks the descriptor invariants.
func (d Descriptor) Validate() error {
	if d.name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	}
	if d.host == "" {
		return fmt.Errorf("%w: %s: host is required", ErrInvalidDescriptor, d.name)
	}
	if d.port < 1 || d.port > 65535 {
		return fmt.Errorf("%w: %s: port %d out of range", ErrInvalidDescriptor, d.name, d.port)
	}
	if d.ceiling < 0 {
		return fmt.Errorf("%w: %s: backoff ceiling %d is negative", ErrInvalidDescriptor, d.name, d.ceiling)
	}
	hasCert := d.certPath != "" || d.keyPath != ""
	switch d.authMode {
	case AuthCertificate:
		if d.certPath == "" || d.keyPath == "" {
			return fmt.Errorf("%w: %s: certificate mode needs certificate_path and key_path", ErrInvalidDescriptor, d.name)
		}
	case AuthToken:
		if hasCert {
			return fmt.Errorf("%w: %s: token mode must not set certificate_path or key_path", ErrInvalidDescriptor, d.name)
		}
	default:
		return fmt.Errorf("%w: %s: unknown auth mode %q", ErrInvalidDescriptor, d.name, d.authMode)
	}
	return nil
}

func (d Descriptor) Name() string { return d.name }
func (d Descriptor) Host() string { return d.host }
func (d Descriptor) Port() int { return d.port }
func (d Descriptor) AuthMode() AuthMode { return d.authMode }
func (d Descriptor) CertificatePath() string { return d.certPath }
func (d Descriptor) KeyPath() string { return d.keyPath }
func (d Descriptor) Timeout() time.Duration { return d.timeout }
func (d Descriptor) BackoffCeiling() int { return d.ceiling }
func (d Descriptor) Authority() string { return d.Endpoint().Authority() }
func (d Descriptor) Endpoint() transport.Endpoint {
	return transport.Endpoint{Host: d.host, Port: d.port}
}

// TransportOptions merges the descriptor's certificate paths into base.
func (d Descriptor) TransportOptions(base transport.Options) transport.Options {
	base.CertificatePath = d.certPath
	base.KeyPath = d.keyPath
	return base
}
