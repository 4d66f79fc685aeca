// Package h2 is the HTTP/2 transport.Adapter used in production.
//
// Each Session owns one TLS connection wrapped in an http2.ClientConn. Stream
// ids are assigned by the session (1, 3, 5, ...) when a request is accepted;
// responses are read on their own goroutine and reported through the sink.
package h2

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/http2"

	rtsup "pushgw/internal/runtime/supervisor"
	"pushgw/internal/transport"
	logx "pushgw/pkg/logx"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultPingTimeout = 15 * time.Second
	statePollInterval  = 250 * time.Millisecond
	drainTimeout       = 30 * time.Second
	maxResponseBody    = 1 << 20
)

var (
	ErrSessionClosed = errors.New("h2: session closed")
	ErrNoHTTP2       = errors.New("h2: server did not negotiate h2")
	ErrConnLost      = errors.New("h2: connection lost")
	ErrGoAway        = errors.New("h2: server sent GOAWAY")
)

type Adapter struct {
	log     logx.Logger
	rootCAs *x509.CertPool
	dialer  *net.Dialer
}

type Option func(*Adapter)

func WithLogger(l logx.Logger) Option { return func(a *Adapter) { a.log = l } }

// WithRootCAs pins the CA pool used to verify the gateway.
func WithRootCAs(pool *x509.CertPool) Option { return func(a *Adapter) { a.rootCAs = pool } }

func New(opts ...Option) *Adapter {
	a := &Adapter{dialer: &net.Dialer{KeepAlive: 30 * time.Second}}
	for _, o := range opts {
		o(a)
	}
	if a.log.IsZero() {
		a.log = logx.Nop()
	}
	a.log = a.log.With(logx.String("comp", "h2"))
	return a
}

var _ transport.Adapter = (*Adapter)(nil)

// Open dials ep, completes the TLS handshake with ALPN h2 and starts the
// session's health watcher.
func (a *Adapter) Open(ctx context.Context, ep transport.Endpoint, opt transport.Options, sink transport.EventSink) (transport.Session, error) {
	if sink == nil {
		return nil, errors.New("h2: nil event sink")
	}
	cfg, err := a.tlsConfig(ep, opt)
	if err != nil {
		return nil, err
	}

	dialTimeout := opt.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	d := tls.Dialer{NetDialer: a.dialer, Config: cfg}
	conn, err := d.DialContext(dctx, "tcp", ep.Authority())
	if err != nil {
		return nil, fmt.Errorf("h2: dial %s: %w", ep.Authority(), err)
	}
	tc := conn.(*tls.Conn)
	if p := tc.ConnectionState().NegotiatedProtocol; p != http2.NextProtoTLS {
		_ = conn.Close()
		return nil, fmt.Errorf("%w (got %q)", ErrNoHTTP2, p)
	}

	tr := &http2.Transport{TLSClientConfig: cfg}
	cc, err := tr.NewClientConn(tc)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("h2: handshake %s: %w", ep.Authority(), err)
	}

	s := newSession(uuid.NewString(), ep, opt, cc, sink, a.log)
	s.start()
	a.log.Debug("session opened", logx.String("session", s.id), logx.String("authority", ep.Authority()))
	return s, nil
}

func (a *Adapter) tlsConfig(ep transport.Endpoint, opt transport.Options) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         ep.Host,
		NextProtos:         []string{http2.NextProtoTLS},
		MinVersion:         tls.VersionTLS12,
		RootCAs:            a.rootCAs,
		InsecureSkipVerify: opt.InsecureSkipVerify, //nolint:gosec // test servers only
	}
	if opt.CertificatePath != "" || opt.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(opt.CertificatePath, opt.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("h2: load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// sessionSupervisor gives every session its own goroutine group so closing a
// session never waits on another session's streams.
func sessionSupervisor(log logx.Logger) *rtsup.Supervisor {
	return rtsup.New(context.Background(), rtsup.WithLogger(log))
}
