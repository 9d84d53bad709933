// Package app wires the scan engine: registry, limiter, dedup, scheduler, agents,
// storage, notifier, config reload and the HTTP control surface.
package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"scanwatch/internal/agents/browseragent"
	"scanwatch/internal/config"
	"scanwatch/internal/eventbus"
	"scanwatch/internal/httpapi"
	"scanwatch/internal/notifier"
	"scanwatch/internal/runtime/supervisor"
	"scanwatch/internal/scan/capture"
	"scanwatch/internal/scan/dedup"
	"scanwatch/internal/scan/idle"
	"scanwatch/internal/scan/registry"
	"scanwatch/internal/scan/scheduler"
	"scanwatch/internal/storage"
	logx "scanwatch/pkg/logx"
)

// Engine owns every component of one scanwatch instance. Nothing is global.
type Engine struct {
	cfgm *config.ConfigManager
	rt   *config.Runtime

	root logx.Logger // without a comp field
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	now  func() time.Time

	reg     *registry.Registry
	limiter *capture.Limiter
	dedup   *dedup.Deduplicator
	tracker *idle.Tracker
	agents  *capture.Agents
	browser *browseragent.Agent
	sched   *scheduler.Scheduler

	store storage.Store
	notif *notifier.Service
	api   *httpapi.Server

	sup    *supervisor.Supervisor
	unsubs []func()

	mu        sync.Mutex
	configIDs map[string]bool // searches declared in the config file
	stopped   bool
}

// Option customizes an Engine at construction.
type Option func(*options)

type options struct {
	now    func() time.Time
	agents map[string]capture.Agent
	logOut *logx.Logger
}

// WithClock replaces time.Now for the registry, scheduler and idle tracker.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithAgent registers agent for kind, replacing a built-in one.
func WithAgent(kind string, agent capture.Agent) Option {
	return func(o *options) {
		if o.agents == nil {
			o.agents = map[string]capture.Agent{}
		}
		o.agents[kind] = agent
	}
}

// WithLogger makes the engine log through log instead of the configured logging
// service. Used by tests.
func WithLogger(log logx.Logger) Option { return func(o *options) { o.logOut = &log } }

// New loads the config file at cfgPath and builds an engine. Nothing runs until Start.
func New(cfgPath string, opts ...Option) (*Engine, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg, opts...)
}

func build(cfgm *config.ConfigManager, cfg *config.Config, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}

	rt, err := config.Resolve(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	var (
		logSvc *logx.Service
		log    logx.Logger
	)
	if o.logOut != nil {
		log = *o.logOut
	} else {
		logSvc, log = logx.New(mapLoggingConfig(cfg))
	}
	appLog := log.With(logx.String("comp", "app"))

	e := &Engine{
		cfgm:      cfgm,
		rt:        rt,
		root:      log,
		log:       appLog,
		logs:      logSvc,
		bus:       eventbus.New(eventbus.WithLogger(log), eventbus.WithClock(o.now)),
		now:       o.now,
		reg:       registry.New(registry.WithClock(o.now)),
		limiter:   capture.NewLimiter(rt.MaxConcurrent),
		dedup:     dedup.New(rt.Dedup),
		tracker:   idle.NewTracker(o.now),
		configIDs: map[string]bool{},
	}

	e.agents, e.browser = buildAgents(cfg, log)
	for kind, a := range o.agents {
		e.agents.Register(kind, a)
	}
	if err := e.checkKinds(cfg.Searches); err != nil {
		return nil, err
	}

	if sc, enabled := mapStorageConfig(cfg, rt); enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		e.store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		e.closeStore()
		return nil, err
	}
	sinks, err := buildSinks(cfg)
	if err != nil {
		e.closeStore()
		return nil, err
	}
	var marks notifier.Marks
	if e.store != nil {
		marks = e.store
	}
	e.notif = notifier.New(ncfg, sinks, marks, log)
	if logSvc != nil && cfg.Logging.Alerts.Enabled && e.notif.Enabled() {
		logSvc.SetAlertSink(e.notif)
	}

	e.sched = scheduler.New(mapSchedulerConfig(rt), scheduler.Deps{
		Registry: e.reg,
		Limiter:  e.limiter,
		Dedup:    e.dedup,
		Gate:     idle.NewGate(buildIdleSignal(rt, e.tracker), o.now),
		Agent:    e.agents,
		Bus:      e.bus,
		Log:      log,
		Clock:    o.now,
	})

	if cfg.HTTP.Enabled {
		addr := strings.TrimSpace(cfg.HTTP.Addr)
		if addr == "" {
			addr = config.DefaultHTTPAddr
		}
		api := httpapi.New(e, log)
		if cfg.HTTP.Pprof {
			api.EnableProfiler()
		}
		e.api = httpapi.NewServer(addr, api.Routes(), log)
	}
	return e, nil
}

func (e *Engine) closeStore() {
	if e.store != nil {
		_ = e.store.Close()
	}
}

// Done is closed when the engine supervisor context is canceled (fatal error or Stop).
func (e *Engine) Done() <-chan struct{} {
	if e.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return e.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (e *Engine) Err() error {
	if e.sup == nil {
		return nil
	}
	return e.sup.Err()
}

// Loops reports the supervised goroutines.
func (e *Engine) Loops() []supervisor.LoopStats {
	if e.sup == nil {
		return nil
	}
	return e.sup.Snapshot()
}

// Start restores the last checkpoint, registers config searches and starts the
// tick loop and the background services.
func (e *Engine) Start(ctx context.Context) error {
	e.sup = supervisor.New(ctx,
		supervisor.WithLogger(e.root.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)

	if err := e.restore(ctx); err != nil {
		e.log.Warn("checkpoint restore incomplete", logx.Err(err))
	}
	if err := e.applySearches(e.rt.Searches, nil); err != nil {
		return err
	}

	e.unsubs = append(e.unsubs, e.bus.Subscribe(nil, e.audit))
	if e.notif.Enabled() {
		e.unsubs = append(e.unsubs, e.notif.Attach(e.bus))
		// announcements queued at shutdown are still delivered
		e.notif.Start(context.WithoutCancel(ctx))
	}

	e.sup.GoRestart("scheduler.tick", func(c context.Context) error {
		return e.sched.Run(c, e.rt.TickInterval)
	}, supervisor.WithPublishFirstError(true))

	if e.store != nil {
		e.sup.GoRestart("storage.checkpoint", e.checkpointLoop)
	}

	if e.cfgm != nil {
		e.cfgm.SetLogger(e.root.With(logx.String("comp", "config")))
		e.cfgm.SetValidator(e.validate)
		sub := e.cfgm.Subscribe(8)
		e.sup.Go("config.reload", func(c context.Context) error {
			defer e.cfgm.Unsubscribe(sub)
			e.reloadLoop(c, sub)
			return nil
		})
		e.sup.GoRestart("config.watch", e.cfgm.Watch, supervisor.WithRestartBackoff(time.Second, time.Minute))
	}

	if e.api != nil {
		e.sup.Go("http.api", e.api.Run)
	}

	e.log.Info("engine started",
		logx.Int("searches", e.reg.Len()),
		logx.Int("max_concurrent", e.limiter.Capacity()),
		logx.Strings("agents", e.agents.Kinds()),
	)
	return nil
}

// Stop halts scheduling, waits for in-flight captures, writes a final checkpoint and
// stops every service. Each step is bounded so one component cannot stall the rest.
func (e *Engine) Stop(ctx context.Context, reason StopReason) error {
	e.mu.Lock()
	if e.stopped || e.sup == nil {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	e.log.Info("stopping", logx.String("reason", string(reason)))
	e.sched.Stop()
	e.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		if err := fn(stepCtx); err != nil {
			e.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, errors.Wrap(err, name))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			e.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			e.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	// the capture timeout bounds how long an attempt may still hold a slot
	step("scheduler.drain", e.sched.Config().CaptureTimeout+5*time.Second, e.sched.Drain)
	if e.store != nil {
		step("storage.checkpoint", 5*time.Second, e.checkpoint)
	}
	for _, un := range e.unsubs {
		un()
	}
	step("notifier", 5*time.Second, func(c context.Context) error { e.notif.Stop(c); return nil })
	if e.browser != nil {
		step("agent.browser", 5*time.Second, func(context.Context) error { return e.browser.Close() })
	}
	step("supervisor", 5*time.Second, e.sup.Wait)
	if e.store != nil {
		step("storage.close", time.Second, func(context.Context) error { return e.store.Close() })
	}

	e.log.Info("stopped")
	if e.logs != nil {
		_ = e.logs.Close()
	}
	return errors.Join(errs...)
}

// validate runs on every hot reload before the new config is committed.
func (e *Engine) validate(_ context.Context, cfg *config.Config) error {
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	return e.checkKinds(cfg.Searches)
}

// checkKinds rejects enabled searches whose kind has no registered agent.
func (e *Engine) checkKinds(searches []config.SearchConfig) error {
	for _, s := range searches {
		if !s.IsEnabled() {
			continue
		}
		kind := strings.ToLower(strings.TrimSpace(s.Kind))
		if _, ok := e.agents.Lookup(kind); !ok {
			if kind == "browser" {
				return errors.Newf("searches: %s: browser agent is off (set agents.browser.enabled and restart)", s.ID)
			}
			return errors.Newf("searches: %s: no agent for kind %q", s.ID, s.Kind)
		}
	}
	return nil
}
