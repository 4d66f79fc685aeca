package gateway

import (
	"net/http"

	"pushgw/internal/transport"
)

// HeaderKey enumerates the optional request headers a push may carry.
// The numeric order is the order headers are emitted in.
type HeaderKey int

const (
	HeaderID HeaderKey = iota
	HeaderExpiration
	HeaderPriority
	HeaderTopic
	HeaderCollapseID
	HeaderBearer
)

var headerKeys = [...]HeaderKey{HeaderID, HeaderExpiration, HeaderPriority, HeaderTopic, HeaderCollapseID, HeaderBearer}

// WireName is the header name sent on the stream.
func (k HeaderKey) WireName() string {
	switch k {
	case HeaderID:
		return "apns-id"
	case HeaderExpiration:
		return "apns-expiration"
	case HeaderPriority:
		return "apns-priority"
	case HeaderTopic:
		return "apns-topic"
	case HeaderCollapseID:
		return "apns-collapse-id"
	case HeaderBearer:
		return "authorization"
	default:
		return ""
	}
}

// Headers is the optional header set of one push. Unset keys are absent.
type Headers map[HeaderKey]string

// Lookup reports the value for k and whether it is present.
func (h Headers) Lookup(k HeaderKey) (string, bool) {
	if h == nil {
		return "", false
	}
	v, ok := h[k]
	return v, ok
}

const bearerPrefix = "bearer "

// BuildHeaders synthesizes the ordered request headers for a push to deviceID.
//
// Present optional headers come first in HeaderKey order, followed by the
// :method, :path, :scheme and :authority pseudo-headers. In token mode the
// authorization header is always "bearer " + token, replacing any bearer value
// in opt. In certificate mode no authorization header is emitted.
func BuildHeaders(deviceID string, opt Headers, d Descriptor, token string) []transport.Header {
	eff := make(Headers, len(opt)+1)
	for k, v := range opt {
		eff[k] = v
	}
	switch d.AuthMode() {
	case AuthToken:
		eff[HeaderBearer] = bearerPrefix + token
	default:
		delete(eff, HeaderBearer)
	}

	out := make([]transport.Header, 0, len(eff)+4)
	for _, k := range headerKeys {
		if v, ok := eff.Lookup(k); ok {
			out = append(out, transport.Header{Name: k.WireName(), Value: v})
		}
	}
	return append(out,
		transport.Header{Name: transport.PseudoMethod, Value: http.MethodPost},
		transport.Header{Name: transport.PseudoPath, Value: DevicePath(deviceID)},
		transport.Header{Name: transport.PseudoScheme, Value: "https"},
		transport.Header{Name: transport.PseudoAuthority, Value: d.Authority()},
	)
}

// DevicePath is the request path for a device token.
func DevicePath(deviceID string) string { return "/3/device/" + deviceID }
