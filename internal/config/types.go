package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging     LoggingConfig      `json:"logging"`
	Connections []ConnectionConfig `json:"connections"`
	Transport   TransportConfig    `json:"transport,omitempty"`
	Storage     *StorageConfig     `json:"storage,omitempty"`
	Diag        DiagConfig         `json:"diag,omitempty"`
	Tracing     TracingConfig      `json:"tracing,omitempty"`
	Reporter    ReporterConfig     `json:"reporter,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ConnectionConfig describes one gateway connection.
//
// Example:
//
//	{ "name": "prod", "host": "api.push.apple.com", "port": 443,
//	  "auth_mode": "certificate",
//	  "certificate_path": "/etc/pushgw/cert.pem", "key_path": "/etc/pushgw/key.pem" }
type ConnectionConfig struct {
	Name            string `json:"name"`
	Host            string `json:"host"`
	Port            int    `json:"port,omitempty"` // default 443
	AuthMode        string `json:"auth_mode"`      // "certificate" or "token"
	CertificatePath string `json:"certificate_path,omitempty"`
	KeyPath         string `json:"key_path,omitempty"`
	Timeout         string `json:"timeout,omitempty"`         // synchronous wait, default 5s
	BackoffCeiling  *int   `json:"backoff_ceiling,omitempty"` // seconds, default 10; 0 retries immediately
}

// TransportConfig holds HTTP/2 session knobs shared by every connection.
//
// Defaults:
//   - dial_timeout: 10s
//   - ping_interval: 0s (disabled)
//   - ping_timeout: 15s
type TransportConfig struct {
	DialTimeout  string `json:"dial_timeout,omitempty"`
	PingInterval string `json:"ping_interval,omitempty"`
	PingTimeout  string `json:"ping_timeout,omitempty"`
}

// StorageConfig controls the optional delivery journal.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./pushgw_journal" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DiagConfig controls the diagnostics HTTP server (/metrics, /healthz and
// optionally /debug/pprof/).
//
// Prefer binding to localhost; a non-loopback addr requires a token.
type DiagConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default "127.0.0.1:9464"
	Pprof   bool   `json:"pprof,omitempty"` // mount /debug/pprof/
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
}

type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint,omitempty"` // OTLP/HTTP host:port
	Insecure    bool    `json:"insecure,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
	SampleRatio float64 `json:"sample_ratio,omitempty"` // 0 means 1.0
}

// ReporterConfig schedules the periodic connection status log.
type ReporterConfig struct {
	Enabled bool   `json:"enabled"`
	Spec    string `json:"spec,omitempty"` // cron spec, default "@every 1m"
}
