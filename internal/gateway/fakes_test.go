package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pushgw/internal/transport"
)

type sentRequest struct {
	id      transport.StreamID
	headers []transport.Header
	body    []byte
}

type fakeSession struct {
	id   string
	sink transport.EventSink

	mu      sync.Mutex
	next    transport.StreamID
	sent    []sentRequest
	closed  bool
	sendErr error
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Send(_ context.Context, headers []transport.Header, body []byte) (transport.StreamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return 0, s.sendErr
	}
	if s.next == 0 {
		s.next = 1
	}
	id := s.next
	s.next += 2
	s.sent = append(s.sent, sentRequest{id: id, headers: headers, body: body})
	return id, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) requests() []sentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentRequest(nil), s.sent...)
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var errDial = errors.New("dial refused")

type fakeAdapter struct {
	mu       sync.Mutex
	sessions []*fakeSession
	failNext int
	lastOpt  transport.Options
}

func (a *fakeAdapter) Open(_ context.Context, _ transport.Endpoint, opt transport.Options, sink transport.EventSink) (transport.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastOpt = opt
	if a.failNext > 0 {
		a.failNext--
		return nil, errDial
	}
	s := &fakeSession{id: fmt.Sprintf("sess-%d", len(a.sessions)+1), sink: sink}
	a.sessions = append(a.sessions, s)
	return s, nil
}

func (a *fakeAdapter) current() *fakeSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sessions) == 0 {
		return nil
	}
	return a.sessions[len(a.sessions)-1]
}

func (a *fakeAdapter) session(i int) *fakeSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessions[i]
}

func (a *fakeAdapter) failOpens(n int) {
	a.mu.Lock()
	a.failNext = n
	a.mu.Unlock()
}

// emit delivers ev through the sink of the session that opened it, as a real
// adapter does.
func (a *fakeAdapter) emit(ev transport.Event) {
	ev.Session.(*fakeSession).sink(ev)
}

func (a *fakeAdapter) terminate(s *fakeSession) {
	a.emit(transport.Event{Kind: transport.EventSessionTerminated, Session: s, Err: errors.New("goaway")})
}

func (a *fakeAdapter) complete(s *fakeSession, id transport.StreamID, status string, body string) {
	headers := []transport.Header{{Name: "apns-id", Value: "ABC"}}
	if status != "" {
		headers = append([]transport.Header{{Name: transport.PseudoStatus, Value: status}}, headers...)
	}
	a.emit(transport.Event{Kind: transport.EventStreamCompleted, Session: s, StreamID: id, Headers: headers, Body: []byte(body)})
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, 0, len(c.timers))
	for _, t := range c.timers {
		out = append(out, t.d)
	}
	return out
}

// fireLast runs the most recently armed timer.
func (c *fakeClock) fireLast(t *testing.T) {
	t.Helper()
	c.mu.Lock()
	require.NotEmpty(t, c.timers, "no timer armed")
	tm := c.timers[len(c.timers)-1]
	c.mu.Unlock()
	tm.f()
}

func certDescriptor(t *testing.T) Descriptor {
	t.Helper()
	d, err := NewDescriptor(DescriptorConfig{
		Name:            "apns-cert",
		Host:            "api.push.example.com",
		Port:            443,
		AuthMode:        AuthCertificate,
		CertificatePath: "/etc/pushgw/cert.pem",
		KeyPath:         "/etc/pushgw/key.pem",
		Timeout:         time.Second,
		BackoffCeiling:  intPtr(5),
	})
	require.NoError(t, err)
	return d
}

func tokenDescriptor(t *testing.T) Descriptor {
	t.Helper()
	d, err := NewDescriptor(DescriptorConfig{
		Name:     "apns-token",
		Host:     "api.push.example.com",
		Port:     443,
		AuthMode: AuthToken,
	})
	require.NoError(t, err)
	return d
}

func intPtr(n int) *int { return &n }

func recv(t *testing.T, mb *Mailbox) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := mb.Recv(ctx)
	require.NoError(t, err, "expected a message")
	return m
}

// snapshot round-trips through the manager goroutine, so every event posted
// before it has been handled when it returns.
func snapshot(t *testing.T, m *Manager) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := m.Snapshot(ctx)
	require.NoError(t, err)
	return s
}

func headerValues(hs []transport.Header, name string) []string {
	var out []string
	for _, h := range hs {
		if h.Name == name {
			out = append(out, h.Value)
		}
	}
	return out
}
