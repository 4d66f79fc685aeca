package gateway

import (
	"fmt"

	"pushgw/internal/transport"
)

// MessageKind enumerates what a Manager tells its client.
type MessageKind int

const (
	MessageReconnecting MessageKind = iota + 1
	MessageConnectionRestored
	MessageResponse
	// MessageResponseFailed carries a stream whose response could not be
	// normalized or that failed without a response.
	MessageResponseFailed
	// MessagePushRejected reports an async push that never reached the wire.
	MessagePushRejected
	// MessageTimeout is returned by Mailbox.Wait; Managers never send it.
	MessageTimeout
)

func (k MessageKind) String() string {
	switch k {
	case MessageReconnecting:
		return "reconnecting"
	case MessageConnectionRestored:
		return "connection_restored"
	case MessageResponse:
		return "response"
	case MessageResponseFailed:
		return "response_failed"
	case MessagePushRejected:
		return "push_rejected"
	case MessageTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("message(%d)", int(k))
	}
}

// Message is posted by a Manager to its Client.
type Message struct {
	Kind     MessageKind
	Manager  string // connection name
	StreamID transport.StreamID
	Response Response
	DeviceID string // MessagePushRejected only
	Err      error
}

// Client receives Manager messages. Deliver is called from the manager's
// goroutine and should return quickly.
type Client interface {
	Deliver(Message)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(Message)

func (f ClientFunc) Deliver(m Message) { f(m) }
