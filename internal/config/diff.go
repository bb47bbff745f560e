package config

import (
	"reflect"
	"strings"

	"alertd/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (auth tokens) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Server (never log auth_token)
	if strings.TrimSpace(oldCfg.Server.Addr) != strings.TrimSpace(newCfg.Server.Addr) ||
		oldCfg.Server.AuthToken != newCfg.Server.AuthToken ||
		oldCfg.Server.ReadTimeout != newCfg.Server.ReadTimeout ||
		oldCfg.Server.WriteTimeout != newCfg.Server.WriteTimeout ||
		oldCfg.Server.IdleTimeout != newCfg.Server.IdleTimeout ||
		oldCfg.Server.ShutdownTimeout != newCfg.Server.ShutdownTimeout {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
			logx.Bool("server.auth_token_set", newCfg.Server.AuthToken != ""),
		)
	}

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Store != newCfg.Store {
		changed = append(changed, "store")
		attrs = append(attrs, logx.Int("store.capacity", newCfg.Store.Capacity))
	}

	if oldCfg.WS != newCfg.WS {
		changed = append(changed, "ws")
		attrs = append(attrs, logx.Int("ws.send_queue_size", newCfg.WS.SendQueueSize))
	}

	// Push (never log access_token)
	if !pushEqual(oldCfg.Push, newCfg.Push) {
		changed = append(changed, "push")
		if p := newCfg.Push; p != nil {
			attrs = append(attrs,
				logx.Bool("push.enabled", p.Enabled),
				logx.Int("push.workers", p.Workers),
				logx.Int("push.rate_per_sec", p.RatePerSec),
				logx.Bool("push.persist_dedup", p.PersistDedup),
			)
		} else {
			attrs = append(attrs, logx.Bool("push.section_present", false))
		}
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if s := newCfg.Storage; s != nil {
			attrs = append(attrs, logx.String("storage.driver", strings.TrimSpace(s.Driver)))
		}
	}

	if !reflect.DeepEqual(oldCfg.Maintenance, newCfg.Maintenance) {
		changed = append(changed, "maintenance")
		if m := newCfg.Maintenance; m != nil {
			attrs = append(attrs, logx.Bool("maintenance.enabled", m.Enabled))
		}
	}

	// Pprof (never log token)
	if !reflect.DeepEqual(oldCfg.Pprof, newCfg.Pprof) {
		changed = append(changed, "pprof")
		if p := newCfg.Pprof; p != nil {
			attrs = append(attrs,
				logx.Bool("pprof.enabled", p.Enabled),
				logx.Bool("pprof.token_set", p.Token != ""),
			)
		}
	}

	return changed, attrs
}

func pushEqual(a, b *PushConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
