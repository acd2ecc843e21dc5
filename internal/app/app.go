// Package app wires herald's services together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"herald/internal/announcer"
	"herald/internal/api"
	"herald/internal/config"
	"herald/internal/dispatch"
	"herald/internal/eventbus"
	"herald/internal/guild"
	"herald/internal/history"
	"herald/internal/housekeeping"
	"herald/internal/metrics"
	"herald/internal/notifier"
	"herald/internal/platform"
	"herald/internal/platform/discord"
	rtsup "herald/internal/runtime/supervisor"
	"herald/internal/scheduler"
	"herald/internal/transport"
	"herald/internal/transport/telegram"
	logx "herald/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store history.Store

	client platform.Client
	sched  *scheduler.Service
	ann    *announcer.Service
	dir    *guild.Directory

	notif   *notifier.Service
	house   *housekeeping.Service
	metrics *metrics.Service

	tokens *api.TokenSet
	http   *api.Server

	stopped atomic.Bool
}

// Deps overrides collaborators that otherwise come from config. Tests use
// it to run without network access.
type Deps struct {
	Client      platform.Client
	AlertSender transport.Sender
	Clock       scheduler.Clock
}

// NewApp loads the config at cfgPath and builds every service.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	if _, err := cfgm.Load(); err != nil {
		return nil, err
	}
	return New(ctx, cfgm, Deps{})
}

// New builds the app from the manager's committed config.
func New(ctx context.Context, cfgm *config.Manager, deps Deps) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	bootLog := logx.NewConsole("INFO")

	// Alerts transport (optional). A broken token must not keep herald from
	// posting announcements.
	alertSender := deps.AlertSender
	if alertSender == nil && strings.TrimSpace(cfg.Alerts.Telegram.Token) != "" {
		tg, err := telegram.New(telegram.Config{Token: cfg.Alerts.Telegram.Token}, bootLog.With(logx.String("comp", "telegram")))
		if err != nil {
			bootLog.Warn("telegram alerts unavailable", logx.Err(err))
		} else {
			alertSender = tg
		}
	}

	// logx.New applies the config immediately; enable the alert sink only
	// after its target is set so Apply does not warn about a missing target.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Alerts.Enabled = false
	logSvc, log := logx.New(bootCfg, alertSender)
	logSvc.SetAlertTarget(alertTarget(cfg))
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	hc, err := mapHistoryConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := history.Open(hc, log.With(logx.String("comp", "history")))
	if err != nil {
		return nil, err
	}
	log.Info("history opened", logx.String("driver", hc.Driver), logx.String("path", hc.Path))

	client := deps.Client
	if client == nil {
		dc, err := discord.Open(ctx, discord.Config{
			Token:  cfg.Discord.Token,
			Verify: cfg.Discord.VerifyToken,
		}, log.With(logx.String("comp", "discord")))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		client = dc
	}

	sendTimeout, err := config.ParseDurationField("dispatch.send_timeout", cfg.Dispatch.SendTimeout)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	disp := dispatch.New(client, sendTimeout, log.With(logx.String("comp", "dispatch")))

	bus := eventbus.New()
	sched := scheduler.New(scheduler.Options{
		Clock:      deps.Clock,
		Store:      store,
		Dispatcher: disp,
		Bus:        bus,
		Log:        log.With(logx.String("comp", "scheduler")),
	})
	ann := announcer.New(announcer.Options{
		Store:      store,
		Scheduler:  sched,
		Dispatcher: disp,
		Bus:        bus,
		Clock:      deps.Clock,
		Log:        log.With(logx.String("comp", "announcer")),
	})
	dir := guild.NewDirectory(client, cfg.Discord.GuildID, log.With(logx.String("comp", "guild")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, alertSender, bus, log.With(logx.String("comp", "notifier")))
	house := housekeeping.New(mapHousekeepingConfig(cfg), store, sched, bus, log.With(logx.String("comp", "housekeeping")))
	met := metrics.New(sched.Len)

	srvCfg, err := mapServerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	uploadDir, maxUpload := uploadLimits(cfg)
	tokens := api.NewTokenSet(cfg.HTTP.Tokens)

	var gate api.RoleGate
	if roleID := strings.TrimSpace(cfg.Discord.RequiredRoleID); roleID != "" {
		gate = func(ctx context.Context, userID string) (bool, error) {
			return dir.HasRequiredRole(ctx, userID, roleID)
		}
	}
	httpLog := log.With(logx.String("comp", "http"))
	router := api.NewRouter(api.RouterOptions{
		Handler: api.NewHandler(api.HandlerOptions{
			Service:   ann,
			Guild:     dir,
			Pending:   sched.Len,
			RoleGate:  gate,
			UploadDir: uploadDir,
			MaxUpload: maxUpload,
			Log:       httpLog,
		}),
		Tokens:  tokens,
		Metrics: met,
		Log:     httpLog,
		Pprof:   cfg.HTTP.Pprof,
	})

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		client:  client,
		sched:   sched,
		ann:     ann,
		dir:     dir,
		notif:   notif,
		house:   house,
		metrics: met,
		tokens:  tokens,
		http:    api.NewServer(srvCfg, router, tokens, httpLog),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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

// HTTPReady is closed once the HTTP listener is up.
func (a *App) HTTPReady() <-chan struct{} { return a.http.Ready() }

// HTTPAddr is the bound HTTP address, or "" before the listener is up.
func (a *App) HTTPAddr() string { return a.http.Addr() }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		if _, err := mapNotifierConfig(cfg); err != nil {
			return err
		}
		_, err := mapServerConfig(cfg)
		return err
	})

	// Stale items are logged by Recover and alerted by the first sweep.
	rep, err := a.sched.Recover(run)
	if err != nil {
		return fmt.Errorf("history recovery: %w", err)
	}

	a.notif.Start(run)
	if err := a.house.Start(run); err != nil {
		return err
	}
	a.http.Start(run)

	a.sup.Go("metrics.events", func(c context.Context) error {
		return a.metrics.Consume(c, a.bus)
	})

	// Debug trail of bus traffic; components subscribe themselves.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("rearmed", rep.Rearmed), logx.Int("stale", len(rep.Stale)))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig pushes the hot-reloadable parts of newCfg into the running
// services. Everything else is logged as restart-required.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	ch := config.Diff(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("settings", strings.Join(ch.RestartRequired, ",")))
	}

	a.logs.SetAlertTarget(alertTarget(newCfg))
	a.logs.Apply(mapLoggingConfig(newCfg))

	a.tokens.Set(newCfg.HTTP.Tokens)

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid alerts config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("alerts disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("alerts enabled via config")
			a.notif.Start(ctx)
		}
	}

	if err := a.house.Apply(mapHousekeepingConfig(newCfg)); err != nil {
		a.log.Warn("housekeeping reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil || !a.stopped.CompareAndSwap(false, true) {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Stop intake first so no new work arrives while the rest drains.
	step := a.stepper(ctx)
	step("http", 3*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	step("housekeeping", 2*time.Second, func(c context.Context) error { a.house.Stop(c); return nil })
	step("scheduler", 5*time.Second, func(c context.Context) error { return a.sched.Stop(c) })

	a.sup.Cancel()
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("platform", 1*time.Second, func(context.Context) error { return a.client.Close() })
	step("history", 1*time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// stepper returns a func that runs one shutdown step bounded by limit and by
// ctx, so one component cannot stall the whole stop.
func (a *App) stepper(ctx context.Context) func(name string, limit time.Duration, fn func(context.Context) error) {
	return func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}
}
