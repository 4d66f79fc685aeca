package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushgw/internal/config"
	"pushgw/internal/gateway"
	"pushgw/internal/transport"
	logx "pushgw/pkg/logx"
)

const testConfig = `
connections:
  - name: tokens
    host: gw.example.test
    auth_mode: token
    timeout: 2s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "pushgw.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

// echoSession answers every request with the configured status.
type echoSession struct {
	sink   transport.EventSink
	status int
	reason string

	mu   sync.Mutex
	next transport.StreamID
	sent [][]transport.Header
}

func (s *echoSession) ID() string   { return "echo" }
func (s *echoSession) Close() error { return nil }

func (s *echoSession) Send(_ context.Context, headers []transport.Header, _ []byte) (transport.StreamID, error) {
	s.mu.Lock()
	s.next += 2
	id := s.next - 1
	s.sent = append(s.sent, headers)
	s.mu.Unlock()

	var apnsID string
	for _, h := range headers {
		if h.Name == "apns-id" {
			apnsID = h.Value
		}
	}
	var body []byte
	if s.reason != "" {
		body = []byte(`{"reason":"` + s.reason + `"}`)
	}
	go s.sink(transport.Event{
		Kind:     transport.EventStreamCompleted,
		Session:  s,
		StreamID: id,
		Headers: []transport.Header{
			{Name: transport.PseudoStatus, Value: strconv.Itoa(s.status)},
			{Name: "apns-id", Value: apnsID},
		},
		Body: body,
	})
	return id, nil
}

type echoAdapter struct{ session *echoSession }

func (a *echoAdapter) Open(_ context.Context, _ transport.Endpoint, _ transport.Options, sink transport.EventSink) (transport.Session, error) {
	a.session.sink = sink
	return a.session, nil
}

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.NewManager(writeConfig(t, testConfig)).Load()
	require.NoError(t, err)
	return cfg
}

func TestPushPrintsResponse(t *testing.T) {
	sess := &echoSession{status: 200}
	var out bytes.Buffer
	f := pushFlags{device: "abc", token: "tok", id: "ID-1", topic: "com.example.app"}

	err := push(context.Background(), loadConfig(t), &echoAdapter{session: sess}, logx.Nop(), f, []byte(`{"aps":{}}`), &out)
	require.NoError(t, err)
	assert.Equal(t, "status=200 apns-id=ID-1\n", out.String())

	require.Len(t, sess.sent, 1)
	var names []string
	for _, h := range sess.sent[0] {
		names = append(names, h.Name)
	}
	assert.Contains(t, names, "authorization")
	assert.Contains(t, names, "apns-topic")
}

func TestPushRefused(t *testing.T) {
	sess := &echoSession{status: 410, reason: "Unregistered"}
	var out bytes.Buffer

	err := push(context.Background(), loadConfig(t), &echoAdapter{session: sess}, logx.Nop(), pushFlags{device: "abc", token: "tok"}, []byte(`{}`), &out)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(out.String(), "status=410 apns-id="), out.String())
	assert.Contains(t, out.String(), "reason=Unregistered")
}

func TestPushUnknownConnection(t *testing.T) {
	err := push(context.Background(), loadConfig(t), &echoAdapter{session: &echoSession{}}, logx.Nop(), pushFlags{conn: "nope", device: "abc"}, nil, &bytes.Buffer{})
	assert.ErrorIs(t, err, gateway.ErrUnknownConnection)
}

func TestHeadersGenerateID(t *testing.T) {
	h := pushFlags{priority: " 5 "}.headers()
	id, ok := h.Lookup(gateway.HeaderID)
	assert.True(t, ok)
	assert.NotEmpty(t, id)
	p, _ := h.Lookup(gateway.HeaderPriority)
	assert.Equal(t, "5", p)
	_, ok = h.Lookup(gateway.HeaderTopic)
	assert.False(t, ok)
}

func TestValidateCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"validate", "--config", writeConfig(t, testConfig)})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "tokens\tgw.example.test:443\ttoken")
	assert.Contains(t, out.String(), "config ok: 1 connection(s)")

	root = newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"validate", "--config", writeConfig(t, "connections:\n  - name: x\n")})
	assert.Error(t, root.Execute())
}
