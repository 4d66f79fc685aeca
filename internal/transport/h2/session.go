package h2

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"

	rtsup "pushgw/internal/runtime/supervisor"
	"pushgw/internal/transport"
	logx "pushgw/pkg/logx"
)

type session struct {
	id   string
	ep   transport.Endpoint
	opt  transport.Options
	cc   *http2.ClientConn
	sink transport.EventSink
	log  logx.Logger
	sup  *rtsup.Supervisor

	nextID atomic.Uint32 // last assigned stream id

	endOnce sync.Once
	ended   atomic.Bool // terminated or closed
	owner   atomic.Bool // ended by Close
}

func newSession(id string, ep transport.Endpoint, opt transport.Options, cc *http2.ClientConn, sink transport.EventSink, log logx.Logger) *session {
	log = log.With(logx.String("session", id))
	s := &session{id: id, ep: ep, opt: opt, cc: cc, sink: sink, log: log}
	s.sup = sessionSupervisor(log)
	return s
}

func (s *session) start() { s.sup.Go0("h2.watch", s.watch) }

func (s *session) ID() string { return s.id }

// Send starts one stream and returns its id. The response arrives later as an
// EventStreamCompleted.
func (s *session) Send(_ context.Context, headers []transport.Header, body []byte) (transport.StreamID, error) {
	if s.ended.Load() {
		return 0, ErrSessionClosed
	}
	if st := s.cc.State(); st.Closed || st.Closing {
		return 0, ErrSessionClosed
	}
	req, err := buildRequest(s.sup.Context(), s.ep, headers, body)
	if err != nil {
		return 0, err
	}
	id := transport.StreamID(s.nextID.Add(2) - 1)
	s.sup.Go0("h2.stream", func(context.Context) { s.roundTrip(id, req) })
	return id, nil
}

// Close releases the connection. No termination event is emitted.
func (s *session) Close() error {
	s.end(true, nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sup.Wait(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("session goroutines still running after close", logx.Err(err))
	}
	return nil
}

func (s *session) roundTrip(id transport.StreamID, req *http.Request) {
	res, err := s.cc.RoundTrip(req)
	if err != nil {
		s.emitStream(transport.Event{StreamID: id, Err: fmt.Errorf("h2: stream %d: %w", id, err)})
		return
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		s.emitStream(transport.Event{StreamID: id, Err: fmt.Errorf("h2: stream %d: read body: %w", id, err)})
		return
	}
	s.emitStream(transport.Event{StreamID: id, Headers: responseHeaders(res), Body: body})
}

func (s *session) emitStream(ev transport.Event) {
	if s.owner.Load() {
		return
	}
	ev.Kind = transport.EventStreamCompleted
	ev.Session = s
	s.sink(ev)
}

// watch polls the connection state and, when configured, pings the peer.
func (s *session) watch(ctx context.Context) {
	poll := time.NewTicker(statePollInterval)
	defer poll.Stop()

	var pingC <-chan time.Time
	if s.opt.PingInterval > 0 {
		pt := time.NewTicker(s.opt.PingInterval)
		defer pt.Stop()
		pingC = pt.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			st := s.cc.State()
			switch {
			case st.Closed:
				s.terminate(ErrConnLost, false)
				return
			case st.Closing:
				s.terminate(ErrGoAway, true)
				return
			}
		case <-pingC:
			timeout := s.opt.PingTimeout
			if timeout <= 0 {
				timeout = defaultPingTimeout
			}
			pctx, cancel := context.WithTimeout(ctx, timeout)
			err := s.cc.Ping(pctx)
			cancel()
			if err != nil && ctx.Err() == nil {
				s.terminate(fmt.Errorf("h2: ping: %w", err), false)
				return
			}
		}
	}
}

// terminate reports the loss of the session exactly once. A draining session
// lets in-flight streams finish before the connection is released.
func (s *session) terminate(cause error, drain bool) {
	s.end(false, func() {
		s.log.Debug("session terminated", logx.Err(cause))
		s.sink(transport.Event{Kind: transport.EventSessionTerminated, Session: s, Err: cause})
	}, drain)
}

func (s *session) end(byOwner bool, notify func(), drain bool) {
	s.endOnce.Do(func() {
		s.ended.Store(true)
		s.owner.Store(byOwner)
		if notify != nil {
			notify()
		}
		if drain {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
				defer cancel()
				_ = s.cc.Shutdown(ctx)
				_ = s.cc.Close()
				s.sup.Cancel()
			}()
			return
		}
		s.sup.Cancel()
		_ = s.cc.Close()
	})
}

func buildRequest(ctx context.Context, ep transport.Endpoint, headers []transport.Header, body []byte) (*http.Request, error) {
	method, path, scheme, authority := http.MethodPost, "", "https", ep.Authority()
	regular := make(http.Header, len(headers))
	for _, h := range headers {
		switch h.Name {
		case transport.PseudoMethod:
			method = h.Value
		case transport.PseudoPath:
			path = h.Value
		case transport.PseudoScheme:
			scheme = h.Value
		case transport.PseudoAuthority:
			authority = h.Value
		default:
			if strings.HasPrefix(h.Name, ":") {
				return nil, fmt.Errorf("h2: unsupported pseudo-header %q", h.Name)
			}
			regular.Add(h.Name, h.Value)
		}
	}
	if path == "" {
		return nil, fmt.Errorf("h2: missing %s", transport.PseudoPath)
	}
	u, err := url.Parse(scheme + "://" + authority + path)
	if err != nil {
		return nil, fmt.Errorf("h2: request url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("h2: build request: %w", err)
	}
	req.Header = regular
	req.Host = authority
	req.ContentLength = int64(len(body))
	return req, nil
}

// responseHeaders flattens a response into :status followed by the lower-cased
// headers in name order.
func responseHeaders(res *http.Response) []transport.Header {
	out := make([]transport.Header, 0, len(res.Header)+1)
	out = append(out, transport.Header{Name: transport.PseudoStatus, Value: strconv.Itoa(res.StatusCode)})
	names := make([]string, 0, len(res.Header))
	for k := range res.Header {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		for _, v := range res.Header[k] {
			out = append(out, transport.Header{Name: strings.ToLower(k), Value: v})
		}
	}
	return out
}
