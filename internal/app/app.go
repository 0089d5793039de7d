package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"remindbot/internal/commands"
	"remindbot/internal/config"
	"remindbot/internal/delivery"
	"remindbot/internal/eventbus"
	"remindbot/internal/logretention"
	"remindbot/internal/observability/ops"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/timeexpr"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram/adapter"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"

	"github.com/benbjohnson/clock"
	"github.com/coreos/go-systemd/v22/daemon"
)

// ErrNoToken means neither BOT_TOKEN nor telegram.token is set.
var ErrNoToken = errors.New("BOT_TOKEN is not set")

type Options struct {
	ConfigPath string
	// DotenvPath is loaded into the environment before the config; "" skips it.
	DotenvPath string

	// Test hooks. Zero values mean the real thing.
	Getenv  func(string) string
	Adapter kit.Adapter
	Clock   clock.Clock
}

// connector is implemented by adapters that verify connectivity before polling.
type connector interface {
	Connect(ctx context.Context) error
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	engine  *scheduler.Engine
	cmdm    *router.CommandManager
	rem     *commands.Reminders
	retain  *logretention.Job
	ops     *ops.Service

	ready   atomic.Bool
	updates chan kit.Update
}

// New loads configuration, opens storage and builds every component.
// Nothing talks to Telegram until Start.
func New(ctx context.Context, opt Options) (*App, error) {
	if opt.DotenvPath != "" {
		if _, err := config.LoadDotenv(opt.DotenvPath); err != nil {
			return nil, fmt.Errorf("dotenv %s: %w", opt.DotenvPath, err)
		}
	}
	cfgm := config.NewConfigManager(opt.ConfigPath)
	if opt.Getenv != nil {
		cfgm.SetGetenv(opt.Getenv)
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" && opt.Adapter == nil {
		return nil, ErrNoToken
	}
	d, err := cfg.Durations()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	clk := opt.Clock
	if clk == nil {
		clk = clock.New()
	}

	store, err := storage.Open(mapStorageConfig(cfg, d), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, &reminder.ConnectivityError{Component: "storage", Err: err}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = store.Ping(pingCtx)
	cancel()
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, &reminder.ConnectivityError{Component: "storage", Err: err}
	}
	appLog.Info("storage ready", logx.String("driver", cfg.Storage.Driver))

	ad := opt.Adapter
	if ad == nil {
		tg, err := telegram.New(mapTelegramConfig(cfg, d), log.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = store.Close()
			_ = logSvc.Close()
			return nil, err
		}
		ad = tg
	}

	bus := eventbus.New()
	disp := delivery.New(mapDeliveryConfig(cfg, d), store, ad, clk, log.With(logx.String("comp", "delivery")))
	eng := scheduler.New(mapSchedulerConfig(cfg, d), store, disp, clk, bus, log.With(logx.String("comp", "scheduler")))
	rem := commands.New(store, eng, timeexpr.New(clk), time.Local, log.With(logx.String("comp", "reminders")))
	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, router.Options{})

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  eng,
		cmdm:    cmdm,
		rem:     rem,
		updates: make(chan kit.Update, 256),
	}

	if cfg.LogRetention.Enabled {
		job, err := logretention.New(mapRetentionConfig(cfg), logSvc, clk, log.With(logx.String("comp", "logretention")))
		if err != nil {
			_ = a.closeEarly()
			return nil, err
		}
		a.retain = job
	}
	if cfg.Ops.Enabled {
		a.ops = ops.New(mapOpsConfig(cfg), ops.Deps{
			Store: store,
			Ready: a.ready.Load,
			Stats: a.stats,
		}, log.With(logx.String("comp", "ops")))
	}
	return a, nil
}

func (a *App) closeEarly() error {
	err := a.store.Close()
	_ = a.logs.Close()
	return err
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

// Ready reports whether recovery finished and updates are flowing.
func (a *App) Ready() bool { return a.ready.Load() }

// Start connects to Telegram, re-arms pending reminders and begins polling.
// A returned error is fatal; the caller should still call Stop.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			return ErrNoToken
		}
		return nil
	})

	if c, ok := a.adapter.(connector); ok {
		if err := c.Connect(a.sup.Context()); err != nil {
			return err
		}
	}

	a.cmdm.SetRegistry(a.sup.Context(), a.rem.Commands())
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	rep, err := a.engine.Recover(a.sup.Context())
	if err != nil {
		// Pending rows stay in storage; the next start retries them.
		a.log.Error("recovery failed", logx.Err(err))
	} else if rep.Invalid > 0 || rep.LimitReached {
		a.log.Warn("recovery incomplete",
			logx.Int("invalid", rep.Invalid),
			logx.Bool("limit_reached", rep.LimitReached))
	}

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	if a.retain != nil {
		a.retain.Start()
	}
	if a.ops != nil {
		a.ops.Start(a.sup.Context())
	}

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
				fields := []logx.Field{
					logx.String("type", e.Type),
					logx.String("reminder_id", e.ReminderID),
					logx.Int64("chat_id", e.ChatID),
				}
				if e.Err != "" {
					fields = append(fields, logx.String("err", e.Err))
				}
				a.log.Debug("event", fields...)
			}
		}
	})

	a.startConfigReload()

	a.ready.Store(true)
	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("armed", a.engine.Armed()))
	return nil
}

func (a *App) startConfigReload() {
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
				ch := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if ch.Empty() {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}
				a.logs.Apply(mapLogConfig(newCfg))
				if len(ch.RestartRequired) > 0 {
					a.log.Warn("config changed; restart required for changes to take effect",
						logx.String("sections", strings.Join(ch.RestartRequired, ",")))
				}
				fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
				a.log.Info("config reloaded", fields...)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
}

func (a *App) stats() any {
	out := map[string]any{
		"ready":          a.ready.Load(),
		"scheduler":      a.engine.Snapshot(10),
		"events_dropped": a.bus.Dropped(),
	}
	if a.sup != nil {
		out["supervisor"] = a.sup.Counters()
	}
	return out
}

// Stop shuts components down in dependency order. Every step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.ready.Store(false)
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

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
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)))
			go func() {
				if err := <-done; err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("router", 2*time.Second, func(c context.Context) error {
		if sup := a.cmdm.Supervisor(); sup != nil {
			return sup.Wait(c)
		}
		return nil
	})
	step("scheduler", 5*time.Second, a.engine.Stop)
	step("logretention", 2*time.Second, func(c context.Context) error {
		if a.retain == nil {
			return nil
		}
		return a.retain.Stop(c)
	})
	step("ops", 2*time.Second, func(c context.Context) error {
		if a.ops == nil {
			return nil
		}
		return a.ops.Stop(c)
	})
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("storage", 1*time.Second, func(context.Context) error { return a.store.Close() })
	if a.sup != nil {
		step("supervisor", 2*time.Second, a.sup.Wait)
	}

	a.log.Info("stopped")
	return a.logs.Close()
}
