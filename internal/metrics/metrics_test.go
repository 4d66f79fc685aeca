package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushgw/internal/eventbus"
	"pushgw/internal/gateway"
)

func ev(topic string, a gateway.Activity) eventbus.Event {
	return eventbus.Event{Type: topic, Data: a}
}

func TestObserve(t *testing.T) {
	c := New(nil)

	c.Observe(ev(gateway.TopicStarted, gateway.Activity{Connection: "a"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.up.WithLabelValues("a")))

	c.Observe(ev(gateway.TopicPushSent, gateway.Activity{Connection: "a"}))
	c.Observe(ev(gateway.TopicPushSent, gateway.Activity{Connection: "a"}))
	c.Observe(ev(gateway.TopicPushRejected, gateway.Activity{Connection: "a"}))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.pushes.WithLabelValues("a", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pushes.WithLabelValues("a", "rejected")))

	c.Observe(ev(gateway.TopicResponse, gateway.Activity{Connection: "a", Status: 200}))
	c.Observe(ev(gateway.TopicResponse, gateway.Activity{Connection: "a", Status: 410}))
	c.Observe(ev(gateway.TopicResponseFailed, gateway.Activity{Connection: "a"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.responses.WithLabelValues("a", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.responses.WithLabelValues("a", "410")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("a")))

	c.Observe(ev(gateway.TopicReconnecting, gateway.Activity{Connection: "a", Attempt: 1, Delay: time.Second}))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.up.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.delay.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconnects.WithLabelValues("a")))

	c.Observe(ev(gateway.TopicReconnectFailed, gateway.Activity{Connection: "a", Attempt: 2, Delay: 3 * time.Second}))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.delay.WithLabelValues("a")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconnectFails.WithLabelValues("a")))

	c.Observe(ev(gateway.TopicRestored, gateway.Activity{Connection: "a"}))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.up.WithLabelValues("a")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.delay.WithLabelValues("a")))

	// Foreign payloads are ignored.
	c.Observe(eventbus.Event{Type: gateway.TopicPushSent, Data: "x"})
	assert.Equal(t, 2.0, testutil.ToFloat64(c.pushes.WithLabelValues("a", "sent")))
}

func TestRunConsumesBus(t *testing.T) {
	bus := eventbus.New()
	c := New(bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, bus) }()

	require.Eventually(t, func() bool {
		bus.Publish(ev(gateway.TopicPushSent, gateway.Activity{Connection: "b"}))
		return testutil.ToFloat64(c.pushes.WithLabelValues("b", "sent")) > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestHandler(t *testing.T) {
	c := New(eventbus.New())
	c.Observe(ev(gateway.TopicResponse, gateway.Activity{Connection: "a", Status: 200}))

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `pushgw_responses_total{connection="a",status="200"} 1`), text)
	assert.Contains(t, text, "pushgw_bus_dropped_events_total")
}
