package gateway

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"pushgw/internal/eventbus"
	"pushgw/internal/transport"
	logx "pushgw/pkg/logx"
)

const tracerName = "pushgw/gateway"

// State is the connection state of a Manager.
type State int

const (
	StateConnected State = iota + 1
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Timer is the part of *time.Timer a Manager uses.
type Timer interface {
	Stop() bool
}

// AfterFunc arms a one-shot timer that calls f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func timeAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type Option func(*Manager)

func WithLogger(l logx.Logger) Option { return func(m *Manager) { m.log = l } }

// WithBus publishes gateway.* activity events on b.
func WithBus(b eventbus.Bus) Option { return func(m *Manager) { m.bus = b } }

// WithTransportOptions sets dial/ping knobs; certificate paths always come
// from the Descriptor.
func WithTransportOptions(o transport.Options) Option {
	return func(m *Manager) { m.topts = o }
}

// WithAfterFunc replaces time.AfterFunc for the reconnect timer.
func WithAfterFunc(fn AfterFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.afterFunc = fn
		}
	}
}

func WithTracer(t trace.Tracer) Option { return func(m *Manager) { m.tracer = t } }

func WithInboxSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.inboxSize = n
		}
	}
}

// Snapshot is a point-in-time view of a Manager for diagnostics.
type Snapshot struct {
	Name      string    `json:"name"`
	Authority string    `json:"authority"`
	AuthMode  AuthMode  `json:"auth_mode"`
	State     State     `json:"state"`
	Attempt   int       `json:"attempt"`
	Session   string    `json:"session,omitempty"`
	Since     time.Time `json:"since"`
}

// Manager owns one gateway connection. Create it with Start.
type Manager struct {
	desc      Descriptor
	adapter   transport.Adapter
	topts     transport.Options
	client    Client
	log       logx.Logger
	bus       eventbus.Bus
	tracer    trace.Tracer
	afterFunc AfterFunc
	inboxSize int

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan any
	done   chan struct{}

	// Owned by the run goroutine.
	session   transport.Session
	state     State
	attempt   int
	since     time.Time
	timer     Timer
	timerGen  uint64
	rejectLog rate.Sometimes
}

type pushCmd struct {
	ctx      context.Context
	deviceID string
	payload  []byte
	headers  Headers
	token    string
	reply    chan pushResult // nil for fire-and-forget
}

type pushResult struct {
	id  transport.StreamID
	err error
}

type sessionQuery struct{ reply chan transport.Session }

type snapshotQuery struct{ reply chan Snapshot }

type reconnectTick struct{ gen uint64 }

// Start opens the first session for d and starts the manager goroutine.
//
// A failure to open the first session is returned as is; no retry happens at
// this point. Cancelling ctx later closes the manager.
func Start(ctx context.Context, d Descriptor, client Client, adapter transport.Adapter, opts ...Option) (*Manager, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if adapter == nil {
		return nil, fmt.Errorf("gateway: start %s: nil transport adapter", d.Name())
	}
	if client == nil {
		client = ClientFunc(func(Message) {})
	}

	m := &Manager{
		desc:      d,
		adapter:   adapter,
		client:    client,
		afterFunc: timeAfterFunc,
		inboxSize: 256,
		rejectLog: rate.Sometimes{Interval: 5 * time.Second},
	}
	for _, o := range opts {
		o(m)
	}
	if m.log.IsZero() {
		m.log = logx.Nop()
	}
	m.log = m.log.With(logx.String("comp", "gateway"), logx.String("conn", d.Name()))
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.inbox = make(chan any, m.inboxSize)
	m.done = make(chan struct{})

	sess, err := m.open()
	if err != nil {
		m.cancel()
		return nil, fmt.Errorf("gateway: start %s: %w", d.Name(), err)
	}
	m.session = sess
	m.state = StateConnected
	m.attempt = 1
	m.since = time.Now()

	m.log.Info("connected", logx.String("session", sess.ID()), logx.String("authority", d.Authority()), logx.String("auth", string(d.AuthMode())))
	m.publish(TopicStarted, Activity{Session: sess.ID(), Attempt: m.attempt})

	go m.run()
	return m, nil
}

func (m *Manager) Name() string           { return m.desc.Name() }
func (m *Manager) Descriptor() Descriptor { return m.desc }

// Done is closed once the manager has released its session and stopped.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Close asks the manager to stop. It does not wait; use Wait or Done.
func (m *Manager) Close() { m.cancel() }

// Wait blocks until the manager has stopped or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Push sends a notification on a certificate-mode connection without waiting.
// The outcome arrives at the client as a response or push-rejected message.
func (m *Manager) Push(deviceID string, payload []byte, h Headers) error {
	if m.desc.AuthMode() != AuthCertificate {
		return fmt.Errorf("%w: %s uses %s auth", ErrAuthMode, m.Name(), m.desc.AuthMode())
	}
	return m.enqueue(pushCmd{deviceID: deviceID, payload: payload, headers: h})
}

// PushToken sends a notification on a token-mode connection without waiting.
func (m *Manager) PushToken(token, deviceID string, payload []byte, h Headers) error {
	if err := m.checkToken(token); err != nil {
		return err
	}
	return m.enqueue(pushCmd{deviceID: deviceID, payload: payload, headers: h, token: token})
}

// Request is Push that waits for the stream to be opened and returns its id.
// Pair it with Await to get the response.
func (m *Manager) Request(ctx context.Context, deviceID string, payload []byte, h Headers) (transport.StreamID, error) {
	if m.desc.AuthMode() != AuthCertificate {
		return 0, fmt.Errorf("%w: %s uses %s auth", ErrAuthMode, m.Name(), m.desc.AuthMode())
	}
	return m.request(ctx, pushCmd{deviceID: deviceID, payload: payload, headers: h})
}

// RequestToken is the token-mode variant of Request.
func (m *Manager) RequestToken(ctx context.Context, token, deviceID string, payload []byte, h Headers) (transport.StreamID, error) {
	if err := m.checkToken(token); err != nil {
		return 0, err
	}
	return m.request(ctx, pushCmd{deviceID: deviceID, payload: payload, headers: h, token: token})
}

// Await waits in mb for the response to stream id. A timeout <= 0 uses the
// descriptor's default.
func (m *Manager) Await(ctx context.Context, mb *Mailbox, id transport.StreamID, timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		timeout = m.desc.Timeout()
	}
	return mb.Wait(ctx, m.Name(), id, timeout)
}

// CurrentSession returns the live session, or nil while reconnecting.
func (m *Manager) CurrentSession(ctx context.Context) (transport.Session, error) {
	reply := make(chan transport.Session, 1)
	if err := m.ask(ctx, sessionQuery{reply: reply}); err != nil {
		return nil, err
	}
	return awaitReply(ctx, m, reply)
}

func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := m.ask(ctx, snapshotQuery{reply: reply}); err != nil {
		return Snapshot{Name: m.Name(), State: StateClosed}, err
	}
	snap, err := awaitReply(ctx, m, reply)
	if err != nil {
		return Snapshot{Name: m.Name(), State: StateClosed}, err
	}
	return snap, nil
}

func (m *Manager) checkToken(token string) error {
	if m.desc.AuthMode() != AuthToken {
		return fmt.Errorf("%w: %s uses %s auth", ErrAuthMode, m.Name(), m.desc.AuthMode())
	}
	if token == "" {
		return fmt.Errorf("%w: empty bearer token", ErrAuthMode)
	}
	return nil
}

func (m *Manager) enqueue(cmd pushCmd) error {
	if !m.post(cmd) {
		return ErrClosed
	}
	return nil
}

func (m *Manager) request(ctx context.Context, cmd pushCmd) (transport.StreamID, error) {
	cmd.ctx = ctx
	cmd.reply = make(chan pushResult, 1)
	if err := m.ask(ctx, cmd); err != nil {
		return 0, err
	}
	res, err := awaitReply(ctx, m, cmd.reply)
	if err != nil {
		return 0, err
	}
	return res.id, res.err
}

// post enqueues v for the run goroutine. It reports false once Close has been
// called; a transport sink blocked on a full inbox is released at that point.
func (m *Manager) post(v any) bool {
	select {
	case <-m.ctx.Done():
		return false
	default:
	}
	select {
	case m.inbox <- v:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func (m *Manager) ask(ctx context.Context, q any) error {
	select {
	case <-m.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case m.inbox <- q:
		return nil
	case <-m.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func awaitReply[T any](ctx context.Context, m *Manager, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-m.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, ErrClosed
		}
	}
}

func (m *Manager) open() (transport.Session, error) {
	return m.adapter.Open(m.ctx, m.desc.Endpoint(), m.desc.TransportOptions(m.topts), m.onTransportEvent)
}

func (m *Manager) onTransportEvent(ev transport.Event) { m.post(ev) }

func (m *Manager) run() {
	defer close(m.done)
	defer m.shutdown()

	for {
		select {
		case <-m.ctx.Done():
			return
		case v := <-m.inbox:
			m.handle(v)
		}
	}
}

func (m *Manager) handle(v any) {
	switch ev := v.(type) {
	case pushCmd:
		m.handlePush(ev)
	case transport.Event:
		switch ev.Kind {
		case transport.EventSessionTerminated:
			m.handleTerminated(ev)
		case transport.EventStreamCompleted:
			m.handleCompleted(ev)
		default:
			m.log.Debug("ignoring transport event", logx.String("kind", ev.Kind.String()))
		}
	case reconnectTick:
		m.handleTick(ev)
	case sessionQuery:
		ev.reply <- m.session
	case snapshotQuery:
		ev.reply <- m.snapshot()
	default:
		m.log.Debug("ignoring message", logx.String("type", fmt.Sprintf("%T", v)))
	}
}

func (m *Manager) handlePush(cmd pushCmd) {
	ctx := cmd.ctx
	if ctx == nil {
		ctx = m.ctx
	}
	ctx, span := m.tracer.Start(ctx, "gateway.push",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("pushgw.connection", m.Name()),
			attribute.String("pushgw.auth_mode", string(m.desc.AuthMode())),
			attribute.Int("pushgw.payload_bytes", len(cmd.payload)),
		),
	)
	defer span.End()

	id, err := m.send(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.rejectLog.Do(func() {
			m.log.Warn("push rejected", logx.String("device", cmd.deviceID), logx.String("state", m.state.String()), logx.Err(err))
		})
		m.publish(TopicPushRejected, Activity{Session: sessionID(m.session), DeviceID: cmd.deviceID, Error: err.Error()})
		if cmd.reply != nil {
			cmd.reply <- pushResult{err: err}
			return
		}
		m.client.Deliver(Message{Kind: MessagePushRejected, Manager: m.Name(), DeviceID: cmd.deviceID, Err: err})
		return
	}

	span.SetAttributes(attribute.Int64("pushgw.stream_id", int64(id)))
	m.log.Debug("push sent", logx.String("device", cmd.deviceID), logx.Uint32("stream", uint32(id)))
	m.publish(TopicPushSent, Activity{Session: m.session.ID(), StreamID: id, DeviceID: cmd.deviceID})
	if cmd.reply != nil {
		cmd.reply <- pushResult{id: id}
	}
}

func (m *Manager) send(ctx context.Context, cmd pushCmd) (transport.StreamID, error) {
	if m.session == nil {
		return 0, ErrNotConnected
	}
	headers := BuildHeaders(cmd.deviceID, cmd.headers, m.desc, cmd.token)
	id, err := m.session.Send(ctx, headers, cmd.payload)
	if err != nil {
		return 0, fmt.Errorf("gateway: send: %w", err)
	}
	return id, nil
}

func (m *Manager) handleCompleted(ev transport.Event) {
	msg := Message{Manager: m.Name(), StreamID: ev.StreamID}
	a := Activity{Session: sessionID(ev.Session), StreamID: ev.StreamID}

	var err error
	if ev.Err != nil {
		err = ev.Err
	} else {
		msg.Response, err = NormalizeResponse(ev.Headers, ev.Body)
	}

	if err != nil {
		msg.Kind = MessageResponseFailed
		msg.Err = err
		a.Error = err.Error()
		m.log.Warn("stream failed", logx.Uint32("stream", uint32(ev.StreamID)), logx.Err(err))
		m.publish(TopicResponseFailed, a)
		m.client.Deliver(msg)
		return
	}

	msg.Kind = MessageResponse
	a.Status = msg.Response.Status
	a.Reason = msg.Response.Reason()
	a.APNsID = msg.Response.NotificationID()
	if msg.Response.OK() {
		m.log.Debug("response", logx.Uint32("stream", uint32(ev.StreamID)), logx.Int("status", a.Status))
	} else {
		m.log.Info("push refused", logx.Uint32("stream", uint32(ev.StreamID)), logx.Int("status", a.Status), logx.String("reason", a.Reason))
	}
	m.publish(TopicResponse, a)
	m.client.Deliver(msg)
}

func (m *Manager) handleTerminated(ev transport.Event) {
	if m.session == nil || ev.Session != m.session {
		m.log.Debug("ignoring termination of stale session", logx.String("session", sessionID(ev.Session)))
		return
	}
	m.log.Warn("session terminated", logx.String("session", m.session.ID()), logx.Err(ev.Err))

	m.session = nil
	m.state = StateReconnecting
	m.since = time.Now()
	m.client.Deliver(Message{Kind: MessageReconnecting, Manager: m.Name(), Err: ev.Err})
	m.scheduleReconnect(TopicReconnecting, ev.Err)
}

// scheduleReconnect arms the reconnect timer for the current attempt and
// advances the attempt counter.
func (m *Manager) scheduleReconnect(topic string, cause error) {
	delay := BackoffDuration(m.attempt, m.desc.BackoffCeiling())
	m.timerGen++
	gen := m.timerGen
	m.timer = m.afterFunc(delay, func() { m.post(reconnectTick{gen: gen}) })

	m.log.Info("reconnect scheduled", logx.Int("attempt", m.attempt), logx.Duration("delay", delay))
	m.publish(topic, Activity{Attempt: m.attempt, Delay: delay, Error: errString(cause)})
	m.attempt++
}

func (m *Manager) handleTick(t reconnectTick) {
	if m.state != StateReconnecting || t.gen != m.timerGen {
		return
	}
	m.timer = nil

	sess, err := m.open()
	if err != nil {
		if m.ctx.Err() != nil {
			return
		}
		m.log.Warn("reconnect failed", logx.Err(err))
		m.scheduleReconnect(TopicReconnectFailed, err)
		return
	}

	m.session = sess
	m.state = StateConnected
	m.attempt = 1
	m.since = time.Now()
	m.client.Deliver(Message{Kind: MessageConnectionRestored, Manager: m.Name()})
	m.log.Info("connection restored", logx.String("session", sess.ID()))
	m.publish(TopicRestored, Activity{Session: sess.ID(), Attempt: m.attempt})
}

func (m *Manager) shutdown() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.session != nil {
		if err := m.session.Close(); err != nil {
			m.log.Debug("session close failed", logx.Err(err))
		}
		m.session = nil
	}
	m.state = StateClosed
	m.log.Info("closed")
	m.publish(TopicClosed, Activity{})
}

func (m *Manager) snapshot() Snapshot {
	return Snapshot{
		Name:      m.Name(),
		Authority: m.desc.Authority(),
		AuthMode:  m.desc.AuthMode(),
		State:     m.state,
		Attempt:   m.attempt,
		Session:   sessionID(m.session),
		Since:     m.since,
	}
}

func sessionID(s transport.Session) string {
	if s == nil {
		return ""
	}
	return s.ID()
}
