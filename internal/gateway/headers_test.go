package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pushgw/internal/transport"
)

func TestBuildHeadersCertificateMode(t *testing.T) {
	d := certDescriptor(t)
	got := BuildHeaders("device123", Headers{
		HeaderBearer:     "should-vanish",
		HeaderTopic:      "com.example.app",
		HeaderID:         "E621E1F8-C36C-495A-93FC-0C247A3E6E5F",
		HeaderPriority:   "10",
		HeaderCollapseID: "c1",
		HeaderExpiration: "0",
	}, d, "")

	want := []transport.Header{
		{Name: "apns-id", Value: "E621E1F8-C36C-495A-93FC-0C247A3E6E5F"},
		{Name: "apns-expiration", Value: "0"},
		{Name: "apns-priority", Value: "10"},
		{Name: "apns-topic", Value: "com.example.app"},
		{Name: "apns-collapse-id", Value: "c1"},
		{Name: ":method", Value: "POST"},
		{Name: ":path", Value: "/3/device/device123"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "api.push.example.com:443"},
	}
	assert.Equal(t, want, got)
}

func TestBuildHeadersTokenMode(t *testing.T) {
	d := tokenDescriptor(t)

	got := BuildHeaders("abc", nil, d, "T")
	assert.Equal(t, []string{"bearer T"}, headerValues(got, "authorization"))
	assert.Equal(t, "authorization", got[0].Name)

	// The call's token wins over any bearer in the optional set.
	got = BuildHeaders("abc", Headers{HeaderBearer: "old"}, d, "new")
	assert.Equal(t, []string{"bearer new"}, headerValues(got, "authorization"))
}

func TestBuildHeadersDoesNotMutateInput(t *testing.T) {
	opt := Headers{HeaderBearer: "x"}
	BuildHeaders("abc", opt, certDescriptor(t), "")
	BuildHeaders("abc", opt, tokenDescriptor(t), "T")
	assert.Equal(t, Headers{HeaderBearer: "x"}, opt)
}

func TestBuildHeadersPseudoOnly(t *testing.T) {
	got := BuildHeaders("d", Headers{}, certDescriptor(t), "")
	names := make([]string, 0, len(got))
	for _, h := range got {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{":method", ":path", ":scheme", ":authority"}, names)
}

func TestWithNotificationID(t *testing.T) {
	h := WithNotificationID(nil)
	id, ok := h.Lookup(HeaderID)
	assert.True(t, ok)
	assert.Len(t, id, 36)

	orig := Headers{HeaderID: "KEEP"}
	h = WithNotificationID(orig)
	assert.Equal(t, "KEEP", h[HeaderID])
}
