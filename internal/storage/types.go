package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryRecord is one journal row. Kind is the gateway event type
// (e.g. "gateway.response"); unused fields stay zero.
type DeliveryRecord struct {
	At         time.Time `json:"at"`
	Kind       string    `json:"kind"`
	Connection string    `json:"connection"`
	Session    string    `json:"session,omitempty"`
	StreamID   uint32    `json:"stream_id,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	Status     int       `json:"status,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	APNsID     string    `json:"apns_id,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	DelayMS    int64     `json:"delay_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Query selects journal rows. Zero fields do not filter.
type Query struct {
	Connection string
	Kind       string
	Limit      int // default 100
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 100
	}
	return q.Limit
}

func (q Query) match(r DeliveryRecord) bool {
	return (q.Connection == "" || r.Connection == q.Connection) && (q.Kind == "" || r.Kind == q.Kind)
}
