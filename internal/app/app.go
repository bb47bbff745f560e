// Package app wires the broker together: config, logging, storage, the
// registry/store/dispatch core, push pipeline, websocket transport, and the
// HTTP surface, with hot config reload and graceful shutdown.
package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"alertd/internal/api"
	"alertd/internal/config"
	"alertd/internal/dispatch"
	"alertd/internal/eventbus"
	"alertd/internal/maintenance"
	"alertd/internal/notifier"
	"alertd/internal/observability/pprof"
	"alertd/internal/registry"
	rtsup "alertd/internal/runtime/supervisor"
	"alertd/internal/storage"
	"alertd/internal/store"
	"alertd/internal/transport/expo"
	ws "alertd/internal/transport/ws"
	"alertd/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store // optional
	reg   *registry.Registry
	ring  *store.Store
	notif *notifier.Service
	disp  *dispatch.Dispatcher
	maint *maintenance.Service
	prof  *pprof.Service

	httpSrv         *http.Server
	shutdownTimeout time.Duration
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var st storage.Store
	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err = storage.Open(scfg, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if st != nil {
		log.Info("storage enabled", logx.String("driver", scfg.Driver))
	}

	reg := registry.New(logSvc.Logger().With(logx.String("comp", "registry")))
	ring := store.New(cfg.Store.Capacity)

	ncfg, ecfg, err := mapPushConfig(cfg)
	if err != nil {
		return nil, err
	}
	pushTransport := expo.New(ecfg, logSvc.Logger().With(logx.String("comp", "expo")))
	notif := notifier.New(ncfg, pushTransport, logSvc.Logger().With(logx.String("comp", "notifier")), bus, st)

	disp := dispatch.New(reg, ring, notif, st, bus, logSvc.Logger().With(logx.String("comp", "dispatch")))

	wcfg, err := mapWSConfig(cfg)
	if err != nil {
		return nil, err
	}
	wsSrv := ws.NewServer(wcfg, reg, ring, bus, logSvc.Logger().With(logx.String("comp", "ws")))

	apiSrv := api.NewServer(api.Config{AuthToken: cfg.Server.AuthToken},
		disp, reg, wsSrv.Handler(), logSvc.Logger().With(logx.String("comp", "api")))

	readTimeout, _ := config.ParseDurationField("server.read_timeout", cfg.Server.ReadTimeout)
	writeTimeout, _ := config.ParseDurationField("server.write_timeout", cfg.Server.WriteTimeout)
	idleTimeout, _ := config.ParseDurationField("server.idle_timeout", cfg.Server.IdleTimeout)
	shutdownTimeout, _ := config.ParseDurationOrDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout, 10*time.Second)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: apiSrv.Router(),
		// WriteTimeout stays 0 unless configured: it would kill long-lived
		// websocket connections.
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	maint := maintenance.New(mapMaintenanceConfig(cfg), st, ring, reg,
		logSvc.Logger().With(logx.String("comp", "maintenance")))

	pcfg, err := mapPprofConfig(cfg)
	if err != nil {
		return nil, err
	}
	prof := pprof.New(pcfg, logSvc.Logger().With(logx.String("comp", "pprof")))

	return &App{
		cfgPath:         cfgPath,
		cfgm:            cfgm,
		log:             log,
		logs:            logSvc,
		bus:             bus,
		store:           st,
		reg:             reg,
		ring:            ring,
		notif:           notif,
		disp:            disp,
		maint:           maint,
		prof:            prof,
		httpSrv:         httpSrv,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, _, err := mapPushConfig(cfg); err != nil {
			return err
		}
		if _, err := mapWSConfig(cfg); err != nil {
			return err
		}
		if _, err := mapPprofConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if err := a.maint.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.prof.Enabled() {
		a.prof.Start(a.sup.Context())
	}

	// Stale push tokens reported by the pipeline get pruned from the
	// registry so the next publish doesn't retry a dead device.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("bus.consume", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.consumeEvent(e)
			}
		}
	})

	a.sup.Go("http.serve", func(c context.Context) error {
		errCh := make(chan error, 1)
		go func() {
			err := a.httpSrv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
				return
			}
			errCh <- nil
		}()
		select {
		case <-c.Done():
			sctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
			defer cancel()
			_ = a.httpSrv.Shutdown(sctx)
			return nil
		case err := <-errCh:
			return err
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("broker started", logx.String("addr", a.httpSrv.Addr))
	return nil
}

func (a *App) consumeEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypePushTokenStale:
		ev, ok := e.Data.(notifier.PushEvent)
		if !ok {
			return
		}
		a.reg.ClearPushTokenByValue(ev.Token)
		a.log.Info("stale push token cleared", logx.String("token", ev.Token))
	default:
		// Keep this debug-level to avoid noise on busy fan-outs.
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "server", "storage", "ws", "store", "maintenance":
			a.log.Warn("section changed; restart required for changes to take effect",
				logx.String("section", s))
		}
	}

	// apply logging updates
	a.logs.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	// apply push pipeline updates (live)
	prevEnabled := a.notif.Enabled()
	ncfg, _, err := mapPushConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid push config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
		if prevEnabled && !ncfg.Enabled {
			a.log.Info("push pipeline disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		} else if !prevEnabled && ncfg.Enabled {
			a.log.Info("push pipeline enabled via config")
			a.notif.Start(ctx)
		}
	}

	// pprof reconfigures in place (start/stop/restart as needed)
	if pcfg, err := mapPprofConfig(newCfg); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.prof.Reconfigure(ctx, pcfg)
	}

	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context so background loops start unwinding; the http
	// goroutine shuts the listener down on its way out.
	a.sup.Cancel()

	stopCtx, cancel := context.WithTimeout(ctx, a.shutdownTimeout)
	defer cancel()

	a.maint.Stop()
	a.notif.Stop(stopCtx)
	a.prof.Stop(stopCtx)

	err := a.sup.Wait(stopCtx)

	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			a.log.Warn("storage close failed", logx.Err(cerr))
		}
	}
	_ = a.logs.Close()
	return err
}
