// Package transport defines the boundary between a connection manager and the
// multiplexed transport that carries push requests.
//
// An Adapter opens Sessions. A Session carries many concurrent streams; each
// Send returns the StreamID assigned to the request. Completion of a stream and
// termination of a session are reported asynchronously through the EventSink
// passed to Open, never as return values.
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Pseudo-header names.
const (
	PseudoMethod    = ":method"
	PseudoPath      = ":path"
	PseudoScheme    = ":scheme"
	PseudoAuthority = ":authority"
	PseudoStatus    = ":status"
)

// Header is one (name, value) pair. Order matters on requests.
type Header struct {
	Name  string
	Value string
}

func (h Header) String() string { return h.Name + ": " + h.Value }

// StreamID identifies one request/response exchange on a Session.
type StreamID uint32

func (id StreamID) String() string { return strconv.FormatUint(uint64(id), 10) }

// Endpoint is the remote gateway address.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) Authority() string { return net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) }

// Options carries the transport-level knobs for a session.
//
// CertificatePath/KeyPath are set only in certificate mode; the adapter loads
// them for mutual TLS.
type Options struct {
	CertificatePath string
	KeyPath         string

	DialTimeout  time.Duration
	PingInterval time.Duration // 0 disables health pings
	PingTimeout  time.Duration

	// InsecureSkipVerify is for tests against self-signed servers.
	InsecureSkipVerify bool
}

// Session is one live multiplexed connection.
type Session interface {
	// ID is a stable identifier for logs and introspection.
	ID() string
	Send(ctx context.Context, headers []Header, body []byte) (StreamID, error)
	Close() error
}

// Adapter opens sessions to an endpoint.
type Adapter interface {
	Open(ctx context.Context, ep Endpoint, opt Options, sink EventSink) (Session, error)
}

// EventKind enumerates asynchronous transport events.
type EventKind int

const (
	EventSessionTerminated EventKind = iota + 1
	EventStreamCompleted
)

func (k EventKind) String() string {
	switch k {
	case EventSessionTerminated:
		return "session_terminated"
	case EventStreamCompleted:
		return "stream_completed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered to the EventSink of the session that produced it.
//
// For EventStreamCompleted, Headers include the :status pseudo-header and Body
// holds the complete response body (possibly empty). A stream that failed
// without a response carries Err instead.
//
// For EventSessionTerminated, Err is the termination reason.
type Event struct {
	Kind     EventKind
	Session  Session
	StreamID StreamID
	Headers  []Header
	Body     []byte
	Err      error
}

// EventSink receives transport events. Implementations must not block for long.
type EventSink func(Event)
