package app

import (
	"time"

	"alertd/internal/config"
	"alertd/internal/maintenance"
	"alertd/internal/notifier"
	"alertd/internal/observability/pprof"
	"alertd/internal/storage"
	"alertd/internal/transport/expo"
	ws "alertd/internal/transport/ws"
)

// Config mapping: the wire schema (internal/config) keeps durations as
// strings; these helpers turn sections into the typed configs the services
// take, applying defaults.

func mapPushConfig(cfg *config.Config) (notifier.Config, expo.Config, error) {
	// Omitted section means enabled with defaults.
	pc := cfg.Push
	if pc == nil {
		pc = &config.PushConfig{Enabled: true}
	}

	retryBase, err := config.ParseDurationOrDefault("push.retry_base", pc.RetryBase, time.Second)
	if err != nil {
		return notifier.Config{}, expo.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("push.retry_max_delay", pc.RetryMaxDelay, 30*time.Second)
	if err != nil {
		return notifier.Config{}, expo.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("push.dedup_window", pc.DedupWindow)
	if err != nil {
		return notifier.Config{}, expo.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("push.timeout", pc.Timeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, expo.Config{}, err
	}

	retryMax := pc.RetryMax
	if retryMax == 0 {
		// Default is two retries (three attempts total).
		retryMax = 2
	}
	if retryMax < 0 {
		retryMax = 0
	}

	ncfg := notifier.Config{
		Enabled:         pc.Enabled,
		Workers:         pc.Workers,
		QueueSize:       pc.QueueSize,
		RatePerSec:      pc.RatePerSec,
		RetryMax:        retryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: pc.DedupMaxEntries,
		PersistDedup:    pc.PersistDedup,
	}
	ecfg := expo.Config{
		Endpoint:    pc.Endpoint,
		AccessToken: pc.AccessToken,
		Timeout:     timeout,
	}
	return ncfg, ecfg, nil
}

func mapWSConfig(cfg *config.Config) (ws.Config, error) {
	writeTimeout, err := config.ParseDurationField("ws.write_timeout", cfg.WS.WriteTimeout)
	if err != nil {
		return ws.Config{}, err
	}
	pingInterval, err := config.ParseDurationField("ws.ping_interval", cfg.WS.PingInterval)
	if err != nil {
		return ws.Config{}, err
	}
	pongTimeout, err := config.ParseDurationField("ws.pong_timeout", cfg.WS.PongTimeout)
	if err != nil {
		return ws.Config{}, err
	}
	return ws.Config{
		SendQueueSize: cfg.WS.SendQueueSize,
		WriteTimeout:  writeTimeout,
		PingInterval:  pingInterval,
		PongTimeout:   pongTimeout,
		ReadLimit:     cfg.WS.ReadLimit,
		BackfillLimit: cfg.WS.BackfillLimit,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapPprofConfig(cfg *config.Config) (pprof.Config, error) {
	pc := cfg.Pprof
	if pc == nil {
		return pprof.Config{}, nil
	}
	readTimeout, err := config.ParseDurationField("pprof.read_timeout", pc.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	writeTimeout, err := config.ParseDurationField("pprof.write_timeout", pc.WriteTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	idleTimeout, err := config.ParseDurationField("pprof.idle_timeout", pc.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:              pc.Enabled,
		Addr:                 pc.Addr,
		Prefix:               pc.Prefix,
		Token:                pc.Token,
		AllowInsecure:        pc.AllowInsecure,
		ReadTimeout:          readTimeout,
		WriteTimeout:         writeTimeout,
		IdleTimeout:          idleTimeout,
		MutexProfileFraction: pc.MutexProfileFraction,
		BlockProfileRate:     pc.BlockProfileRate,
		MemProfileRate:       pc.MemProfileRate,
	}, nil
}

func mapMaintenanceConfig(cfg *config.Config) maintenance.Config {
	if cfg.Maintenance == nil {
		return maintenance.Config{}
	}
	return maintenance.Config{
		Enabled:         cfg.Maintenance.Enabled,
		PruneSchedule:   cfg.Maintenance.PruneSchedule,
		SummarySchedule: cfg.Maintenance.SummarySchedule,
	}
}
