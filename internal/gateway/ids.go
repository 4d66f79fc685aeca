package gateway

import (
	"strings"

	"github.com/google/uuid"
)

// NewNotificationID returns a fresh apns-id value (canonical upper-case UUID).
func NewNotificationID() string { return strings.ToUpper(uuid.NewString()) }

// WithNotificationID returns a copy of h with HeaderID set, keeping an
// existing id.
func WithNotificationID(h Headers) Headers {
	out := make(Headers, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	if _, ok := out.Lookup(HeaderID); !ok {
		out[HeaderID] = NewNotificationID()
	}
	return out
}
