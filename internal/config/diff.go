package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pushgw/pkg/logx"
)

// Change summarizes the difference between two configs for a reload log line.
type Change struct {
	// Sections lists changed top-level sections in file order.
	Sections []string
	// Fields are safe to log; secrets (diag.token) are reported as set/unset only.
	Fields []logx.Field
	// Added, Removed and Modified name connections by their config name.
	Added    []string
	Removed  []string
	Modified []string
}

// NeedsRestart reports whether the change touches connections or the
// transport, neither of which is applied to running managers.
func (c Change) NeedsRestart() bool {
	for _, s := range c.Sections {
		switch s {
		case "connections", "transport", "storage", "tracing":
			return true
		}
	}
	return false
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// SummarizeConfigChange compares oldCfg and newCfg. Nil configs compare as empty.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	ch.Added, ch.Removed, ch.Modified = diffConnections(oldCfg.Connections, newCfg.Connections)
	if len(ch.Added)+len(ch.Removed)+len(ch.Modified) > 0 {
		ch.Sections = append(ch.Sections, "connections")
		ch.Fields = append(ch.Fields,
			logx.Int("connections.count", len(newCfg.Connections)),
			logx.String("connections.added", strings.Join(ch.Added, ",")),
			logx.String("connections.removed", strings.Join(ch.Removed, ",")),
			logx.String("connections.modified", strings.Join(ch.Modified, ",")),
		)
	}

	if oldCfg.Transport != newCfg.Transport {
		ch.Sections = append(ch.Sections, "transport")
		ch.Fields = append(ch.Fields,
			logx.String("transport.dial_timeout", newCfg.Transport.DialTimeout),
			logx.String("transport.ping_interval", newCfg.Transport.PingInterval),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		ch.Sections = append(ch.Sections, "storage")
		if newCfg.Storage != nil {
			ch.Fields = append(ch.Fields,
				logx.String("storage.driver", newCfg.Storage.Driver),
				logx.String("storage.path", newCfg.Storage.Path),
			)
		}
	}

	if oldCfg.Diag != newCfg.Diag {
		ch.Sections = append(ch.Sections, "diag")
		ch.Fields = append(ch.Fields,
			logx.Bool("diag.enabled", newCfg.Diag.Enabled),
			logx.String("diag.addr", strings.TrimSpace(newCfg.Diag.Addr)),
			logx.Bool("diag.pprof", newCfg.Diag.Pprof),
			logx.Bool("diag.token_set", strings.TrimSpace(newCfg.Diag.Token) != ""),
		)
	}

	if oldCfg.Tracing != newCfg.Tracing {
		ch.Sections = append(ch.Sections, "tracing")
		ch.Fields = append(ch.Fields,
			logx.Bool("tracing.enabled", newCfg.Tracing.Enabled),
			logx.String("tracing.endpoint", newCfg.Tracing.Endpoint),
		)
	}

	if oldCfg.Reporter != newCfg.Reporter {
		ch.Sections = append(ch.Sections, "reporter")
		ch.Fields = append(ch.Fields,
			logx.Bool("reporter.enabled", newCfg.Reporter.Enabled),
			logx.String("reporter.spec", newCfg.Reporter.Spec),
		)
	}
	return ch
}

func diffConnections(oldList, newList []ConnectionConfig) (added, removed, modified []string) {
	index := func(list []ConnectionConfig) map[string]ConnectionConfig {
		m := make(map[string]ConnectionConfig, len(list))
		for _, c := range list {
			m[strings.TrimSpace(c.Name)] = c
		}
		return m
	}
	oldM, newM := index(oldList), index(newList)
	for name, nc := range newM {
		oc, ok := oldM[name]
		switch {
		case !ok:
			added = append(added, name)
		case !reflect.DeepEqual(oc, nc):
			modified = append(modified, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(modified)
	return added, removed, modified
}
