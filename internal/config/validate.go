package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pushgw/internal/gateway"
	"pushgw/internal/transport"
)

const (
	DefaultPort         = 443
	DefaultDialTimeout  = 10 * time.Second
	DefaultPingTimeout  = 15 * time.Second
	DefaultDiagAddr     = "127.0.0.1:9464"
	DefaultReporterSpec = "@every 1m"
)

// Validate checks the whole config and reports every problem at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if len(cfg.Connections) == 0 {
		errs = append(errs, errors.New("connections: at least one connection is required"))
	}
	if _, err := cfg.Descriptors(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.TransportOptions(); err != nil {
		errs = append(errs, err)
	}
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Diag.Enabled {
		if err := validateDiag(cfg.Diag); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Tracing.Enabled {
		if r := cfg.Tracing.SampleRatio; r < 0 || r > 1 {
			errs = append(errs, fmt.Errorf("tracing.sample_ratio: %v out of [0,1]", r))
		}
	}
	if cfg.Reporter.Enabled {
		if _, err := cron.ParseStandard(cfg.ReporterSpec()); err != nil {
			errs = append(errs, fmt.Errorf("reporter.spec: %w", err))
		}
	}
	return errors.Join(errs...)
}

func validateDiag(d DiagConfig) error {
	addr := strings.TrimSpace(d.Addr)
	if addr == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("diag.addr: %w", err)
	}
	if !isLoopback(host) && strings.TrimSpace(d.Token) == "" {
		return fmt.Errorf("diag.addr: %q is not loopback; set diag.token", addr)
	}
	return nil
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Descriptors converts the connection list, rejecting invalid entries and
// duplicate names.
func (c *Config) Descriptors() ([]gateway.Descriptor, error) {
	var errs []error
	out := make([]gateway.Descriptor, 0, len(c.Connections))
	seen := make(map[string]bool, len(c.Connections))
	for i, cc := range c.Connections {
		d, err := cc.Descriptor()
		if err != nil {
			errs = append(errs, fmt.Errorf("connections[%d]: %w", i, err))
			continue
		}
		if seen[d.Name()] {
			errs = append(errs, fmt.Errorf("connections[%d]: %w: %q", i, gateway.ErrDuplicateName, d.Name()))
			continue
		}
		seen[d.Name()] = true
		out = append(out, d)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Connection returns the named connection descriptor.
func (c *Config) Connection(name string) (gateway.Descriptor, error) {
	for _, cc := range c.Connections {
		if strings.TrimSpace(cc.Name) == name {
			return cc.Descriptor()
		}
	}
	return gateway.Descriptor{}, fmt.Errorf("%w: %q", gateway.ErrUnknownConnection, name)
}

func (cc ConnectionConfig) Descriptor() (gateway.Descriptor, error) {
	mode, err := gateway.ParseAuthMode(cc.AuthMode)
	if err != nil {
		return gateway.Descriptor{}, err
	}
	timeout, err := ParseDurationOrDefault("timeout", cc.Timeout, gateway.DefaultTimeout)
	if err != nil {
		return gateway.Descriptor{}, err
	}
	port := cc.Port
	if port == 0 {
		port = DefaultPort
	}
	return gateway.NewDescriptor(gateway.DescriptorConfig{
		Name:            cc.Name,
		Host:            cc.Host,
		Port:            port,
		AuthMode:        mode,
		CertificatePath: cc.CertificatePath,
		KeyPath:         cc.KeyPath,
		Timeout:         timeout,
		BackoffCeiling:  cc.BackoffCeiling,
	})
}

// TransportOptions maps the transport section; certificate paths are filled
// per connection by the descriptor.
func (c *Config) TransportOptions() (transport.Options, error) {
	dial, err := ParseDurationOrDefault("transport.dial_timeout", c.Transport.DialTimeout, DefaultDialTimeout)
	if err != nil {
		return transport.Options{}, err
	}
	interval, err := ParseDurationField("transport.ping_interval", c.Transport.PingInterval)
	if err != nil {
		return transport.Options{}, err
	}
	pingTimeout, err := ParseDurationOrDefault("transport.ping_timeout", c.Transport.PingTimeout, DefaultPingTimeout)
	if err != nil {
		return transport.Options{}, err
	}
	return transport.Options{DialTimeout: dial, PingInterval: interval, PingTimeout: pingTimeout}, nil
}

func (c *Config) DiagAddr() string {
	if a := strings.TrimSpace(c.Diag.Addr); a != "" {
		return a
	}
	return DefaultDiagAddr
}

func (c *Config) ReporterSpec() string {
	if s := strings.TrimSpace(c.Reporter.Spec); s != "" {
		return s
	}
	return DefaultReporterSpec
}
