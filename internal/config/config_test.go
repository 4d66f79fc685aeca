package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushgw/internal/gateway"
)

const sampleYAML = `
logging:
  level: debug
  console: true
connections:
  - name: prod
    host: api.push.example.com
    auth_mode: certificate
    certificate_path: /etc/pushgw/cert.pem
    key_path: /etc/pushgw/key.pem
    timeout: 2s
    backoff_ceiling: 30
  - name: tokens
    host: api.push.example.com
    port: 2197
    auth_mode: jwt
transport:
  dial_timeout: 3s
  ping_interval: 1m
storage:
  driver: file
  path: ./journal
reporter:
  enabled: true
  spec: "@every 30s"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "pushgw.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	ds, err := cfg.Descriptors()
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "prod", ds[0].Name())
	assert.Equal(t, 443, ds[0].Port())
	assert.Equal(t, gateway.AuthCertificate, ds[0].AuthMode())
	assert.Equal(t, 2*time.Second, ds[0].Timeout())
	assert.Equal(t, 30, ds[0].BackoffCeiling())
	assert.Equal(t, gateway.AuthToken, ds[1].AuthMode())
	assert.Equal(t, "api.push.example.com:2197", ds[1].Authority())

	opt, err := cfg.TransportOptions()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, opt.DialTimeout)
	assert.Equal(t, time.Minute, opt.PingInterval)
	assert.Equal(t, DefaultPingTimeout, opt.PingTimeout)
	assert.Equal(t, "@every 30s", cfg.ReporterSpec())
	assert.Equal(t, DefaultDiagAddr, cfg.DiagAddr())
}

func TestLoadJSONRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeFile(t, "pushgw.json", `{"connections":[],"bogus":{}}`))
	_, err := m.Load()
	assert.ErrorContains(t, err, "bogus")
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := Decode("c.json", []byte(`{} {}`))
	assert.ErrorContains(t, err, "trailing")
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Connections: []ConnectionConfig{
			{Name: "a", Host: "h", AuthMode: "token"},
			{Name: "a", Host: "h", AuthMode: "token"},
			{Name: "b", Host: "h", AuthMode: "certificate"},
			{Name: "c", Host: "h", AuthMode: "token", Timeout: "soon"},
		},
		Transport: TransportConfig{DialTimeout: "-1s"},
		Storage:   &StorageConfig{Driver: "postgres"},
		Diag:      DiagConfig{Enabled: true, Addr: "0.0.0.0:9464"},
		Reporter:  ReporterConfig{Enabled: true, Spec: "every now and then"},
	}
	err := Validate(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrDuplicateName)
	assert.ErrorIs(t, err, gateway.ErrInvalidDescriptor)
	for _, want := range []string{"connections[3]", "transport.dial_timeout", "storage.driver", "diag.addr", "reporter.spec"} {
		assert.ErrorContains(t, err, want)
	}

	assert.Error(t, Validate(&Config{}), "no connections")
	assert.NoError(t, Validate(&Config{Connections: []ConnectionConfig{{Name: "a", Host: "h", AuthMode: "token"}}}))
}

func TestBackoffCeilingConfig(t *testing.T) {
	cfg, err := Decode("c.yaml", []byte(`
connections:
  - name: unset
    host: h
    auth_mode: token
  - name: zero
    host: h
    auth_mode: token
    backoff_ceiling: 0
`))
	require.NoError(t, err)
	ds, err := cfg.Descriptors()
	require.NoError(t, err)
	assert.Equal(t, gateway.DefaultBackoffCeiling, ds[0].BackoffCeiling())
	assert.Equal(t, 0, ds[1].BackoffCeiling())

	neg := -3
	err = Validate(&Config{Connections: []ConnectionConfig{{Name: "a", Host: "h", AuthMode: "token", BackoffCeiling: &neg}}})
	assert.ErrorIs(t, err, gateway.ErrInvalidDescriptor)
	assert.ErrorContains(t, err, "backoff ceiling")
}

func TestConnectionLookup(t *testing.T) {
	cfg := &Config{Connections: []ConnectionConfig{{Name: "a", Host: "h", AuthMode: "token"}}}
	d, err := cfg.Connection("a")
	require.NoError(t, err)
	assert.Equal(t, "a", d.Name())

	_, err = cfg.Connection("zzz")
	assert.ErrorIs(t, err, gateway.ErrUnknownConnection)
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationOrDefault("x", " 250ms ", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationOrDefault("x", "-3s", time.Second)
	assert.ErrorContains(t, err, "x:")
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{
		Logging:     LoggingConfig{Level: "info"},
		Connections: []ConnectionConfig{{Name: "a", Host: "h1"}, {Name: "b", Host: "h"}},
		Diag:        DiagConfig{Token: "secret"},
	}
	newCfg := &Config{
		Logging:     LoggingConfig{Level: "debug"},
		Connections: []ConnectionConfig{{Name: "a", Host: "h2"}, {Name: "c", Host: "h"}},
		Diag:        DiagConfig{Token: "other"},
	}
	ch := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "connections", "diag"}, ch.Sections)
	assert.Equal(t, []string{"c"}, ch.Added)
	assert.Equal(t, []string{"b"}, ch.Removed)
	assert.Equal(t, []string{"a"}, ch.Modified)
	assert.True(t, ch.NeedsRestart())

	assert.True(t, SummarizeConfigChange(newCfg, newCfg).Empty())
	logOnly := SummarizeConfigChange(&Config{}, &Config{Logging: LoggingConfig{Level: "warn"}})
	assert.False(t, logOnly.NeedsRestart())
}

func TestSubscribeKeepsNewest(t *testing.T) {
	m := NewManager("unused.json")
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestWatchPublishesReload(t *testing.T) {
	path := writeFile(t, "pushgw.yaml", sampleYAML)
	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	updated := sampleYAML + "diag:\n  enabled: true\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-ch:
		assert.True(t, cfg.Diag.Enabled)
		assert.Same(t, cfg, m.Get())
	case <-time.After(5 * time.Second):
		t.Fatal("reload not published")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestReloadRejectsInvalid(t *testing.T) {
	path := writeFile(t, "pushgw.yaml", sampleYAML)
	m := NewManager(path, WithValidator(func(context.Context, *Config) error { return assert.AnError }))
	orig, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"diag:\n  enabled: true\n"), 0o600))
	assert.False(t, m.reload(context.Background()))
	assert.Same(t, orig, m.Get())
}
