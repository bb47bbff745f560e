package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`

	// Store controls the in-memory alert window replayed to clients.
	Store StoreConfig `json:"store,omitempty"`

	WS   WSConfig    `json:"ws,omitempty"`
	Push *PushConfig `json:"push,omitempty"`

	Storage     *StorageConfig     `json:"storage,omitempty"`
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`
	Pprof       *PprofConfig       `json:"pprof,omitempty"`
}

// ServerConfig controls the HTTP listener carrying both the producer API
// and the websocket upgrade path.
type ServerConfig struct {
	Addr string `json:"addr"`
	// AuthToken guards the /v1 producer routes when set. Do not log.
	AuthToken string `json:"auth_token,omitempty"`
	// Timeouts are Go duration strings (e.g. "10s", "1m").
	ReadTimeout     string `json:"read_timeout,omitempty"`
	WriteTimeout    string `json:"write_timeout,omitempty"`
	IdleTimeout     string `json:"idle_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StoreConfig struct {
	// Capacity of the bounded alert window. 0 picks the default (50).
	Capacity int `json:"capacity,omitempty"`
}

// WSConfig tunes per-connection socket behavior.
//
// All durations are Go duration strings.
type WSConfig struct {
	SendQueueSize int    `json:"send_queue_size,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	PingInterval  string `json:"ping_interval,omitempty"`
	PongTimeout   string `json:"pong_timeout,omitempty"`
	ReadLimit     int64  `json:"read_limit,omitempty"`
	BackfillLimit int    `json:"backfill_limit,omitempty"`
}

// PushConfig controls the push delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, push delivery defaults to enabled=true.
type PushConfig struct {
	Enabled bool `json:"enabled"`
	// Endpoint defaults to the Expo push API.
	Endpoint string `json:"endpoint,omitempty"`
	// AccessToken for the push provider. Do not log.
	AccessToken     string `json:"access_token,omitempty"`
	Timeout         string `json:"timeout,omitempty"`
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./alertd_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MaintenanceConfig controls the background maintenance schedule.
type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`
	// PruneSchedule is a cron expression (supports @hourly etc.).
	// Default: "@hourly".
	PruneSchedule string `json:"prune_schedule,omitempty"`
	// SummarySchedule emits a periodic operational summary log line.
	// Empty disables it.
	SummarySchedule string `json:"summary_schedule,omitempty"`
}

// PprofConfig controls the optional profiling endpoint. It always binds its
// own listener, never the broker port.
type PprofConfig struct {
	Enabled bool `json:"enabled"`
	// Addr defaults to "127.0.0.1:6060". A non-loopback bind requires Token
	// or AllowInsecure.
	Addr   string `json:"addr,omitempty"`
	Prefix string `json:"prefix,omitempty"`
	// Token guards the endpoint when set. Do not log.
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// Validate checks values that can be rejected without wiring anything up.
// Used both at startup and as the hot-reload validator.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	for _, f := range []struct{ path, raw string }{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"ws.write_timeout", c.WS.WriteTimeout},
		{"ws.ping_interval", c.WS.PingInterval},
		{"ws.pong_timeout", c.WS.PongTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Store.Capacity < 0 {
		return fmt.Errorf("store.capacity must be >= 0")
	}
	if p := c.Push; p != nil {
		for _, f := range []struct{ path, raw string }{
			{"push.timeout", p.Timeout},
			{"push.retry_base", p.RetryBase},
			{"push.retry_max_delay", p.RetryMaxDelay},
			{"push.dedup_window", p.DedupWindow},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}
	if s := c.Storage; s != nil {
		driver := strings.ToLower(strings.TrimSpace(s.Driver))
		switch driver {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if (driver == "file" || driver == "sqlite" || driver == "sqlite3") && strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %q", driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	if p := c.Pprof; p != nil {
		for _, f := range []struct{ path, raw string }{
			{"pprof.read_timeout", p.ReadTimeout},
			{"pprof.write_timeout", p.WriteTimeout},
			{"pprof.idle_timeout", p.IdleTimeout},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}
	return nil
}
