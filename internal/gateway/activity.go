package gateway

import (
	"time"

	"pushgw/internal/eventbus"
	"pushgw/internal/transport"
)

// Event types published on the bus by managers.
const (
	TopicStarted         = "gateway.started"
	TopicClosed          = "gateway.closed"
	TopicPushSent        = "gateway.push.sent"
	TopicPushRejected    = "gateway.push.rejected"
	TopicResponse        = "gateway.response"
	TopicResponseFailed  = "gateway.response.failed"
	TopicReconnecting    = "gateway.reconnecting"
	TopicReconnectFailed = "gateway.reconnect.failed"
	TopicRestored        = "gateway.restored"
)

// Activity is the Data of every gateway.* bus event.
// It is flat and JSON-friendly so journal and metrics consumers can share it.
type Activity struct {
	Connection string             `json:"connection"`
	Session    string             `json:"session,omitempty"`
	StreamID   transport.StreamID `json:"stream_id,omitempty"`
	DeviceID   string             `json:"device_id,omitempty"`
	Status     int                `json:"status,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	APNsID     string             `json:"apns_id,omitempty"`
	Attempt    int                `json:"attempt,omitempty"`
	Delay      time.Duration      `json:"delay,omitempty"`
	Error      string             `json:"error,omitempty"`
	At         time.Time          `json:"at"`
}

func (m *Manager) publish(topic string, a Activity) {
	if m.bus == nil {
		return
	}
	now := time.Now()
	a.Connection = m.desc.Name()
	a.At = now
	m.bus.Publish(eventbus.Event{Type: topic, Time: now, Data: a})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
