package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"pushgw/internal/transport"
)

type noBody struct{}

func (noBody) String() string { return "<no body>" }

// NoBody is the Body of a response whose stream carried no data.
var NoBody any = noBody{}

// Response is a normalized stream completion.
type Response struct {
	Status  int
	Headers []transport.Header // without :status
	Body    any                // decoded JSON value or NoBody
}

// NormalizeResponse extracts the status code from raw response headers and
// decodes the body.
//
// The :status pseudo-header is removed from the returned headers; the order of
// the remaining headers is preserved. An empty body yields NoBody.
func NormalizeResponse(headers []transport.Header, body []byte) (Response, error) {
	idx := -1
	for i, h := range headers {
		if h.Name == transport.PseudoStatus {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Response{}, fmt.Errorf("%w: missing %s", ErrMalformedResponse, transport.PseudoStatus)
	}
	status, err := strconv.Atoi(strings.TrimSpace(headers[idx].Value))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %s %q", ErrMalformedResponse, transport.PseudoStatus, headers[idx].Value)
	}

	rest := make([]transport.Header, 0, len(headers)-1)
	rest = append(rest, headers[:idx]...)
	rest = append(rest, headers[idx+1:]...)

	resp := Response{Status: status, Headers: rest, Body: NoBody}
	if len(body) == 0 {
		return resp, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return Response{}, &DecodeError{Body: body, Err: err}
	}
	resp.Body = v
	return resp, nil
}

// OK reports a 2xx status.
func (r Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// HasBody reports whether the stream carried a body.
func (r Response) HasBody() bool { return r.Body != NoBody }

// Header returns the first value of the named header.
func (r Response) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// Reason returns the gateway's error reason ({"reason": "..."}) if present.
func (r Response) Reason() string {
	m, ok := r.Body.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := m["reason"].(string)
	return s
}

// NotificationID returns the apns-id echoed by the gateway.
func (r Response) NotificationID() string {
	v, _ := r.Header(HeaderID.WireName())
	return v
}
