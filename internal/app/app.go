package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pushgw/internal/config"
	"pushgw/internal/eventbus"
	"pushgw/internal/gateway"
	"pushgw/internal/metrics"
	"pushgw/internal/observability/diag"
	"pushgw/internal/observability/tracing"
	"pushgw/internal/runtime/supervisor"
	"pushgw/internal/storage"
	"pushgw/internal/transport"
	"pushgw/internal/transport/h2"
	logx "pushgw/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
)

type Option func(*App)

// WithAdapter replaces the HTTP/2 transport (tests use a fake).
func WithAdapter(ad transport.Adapter) Option { return func(a *App) { a.adapter = ad } }

// WithVersion tags traces with the build version.
func WithVersion(v string) Option { return func(a *App) { a.version = v } }

type App struct {
	version string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  transport.Adapter
	reg      *gateway.Registry
	inbox    *gateway.Mailbox
	metrics  *metrics.Collector
	tracer   *tracing.Provider
	diag     *diag.Server
	reporter *reporter
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm}
	for _, o := range opts {
		o(a)
	}

	logSvc, log := logx.NewService(mapLogConfig(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	a.bus = eventbus.New()

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.tracer, err = tracing.Setup(context.Background(), mapTracingConfig(cfg, a.version), tracing.WithGlobal())
	if err != nil {
		a.closeStore()
		return nil, err
	}

	a.metrics = metrics.New(a.bus)
	a.diag = diag.New(mapDiagConfig(cfg), log,
		diag.WithMetrics(a.metrics.Handler()),
		diag.WithHealth(a.health),
	)

	topts, err := cfg.TransportOptions()
	if err != nil {
		a.closeStore()
		return nil, err
	}
	if a.adapter == nil {
		a.adapter = h2.New(h2.WithLogger(log))
	}
	a.reg = gateway.NewRegistry(a.adapter,
		gateway.WithLogger(log),
		gateway.WithBus(a.bus),
		gateway.WithTransportOptions(topts),
		gateway.WithTracer(a.tracer.Tracer("pushgw/gateway")),
	)
	a.inbox = gateway.NewMailbox()

	if cfg.Reporter.Enabled {
		a.reporter, err = newReporter(cfg.ReporterSpec(), a.reg, log.With(logx.String("comp", "reporter")))
		if err != nil {
			a.closeStore()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) Registry() *gateway.Registry { return a.reg }
func (a *App) Logger() logx.Logger         { return a.log }

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

// Start opens every configured connection and starts the background loops.
// A connection whose first session cannot be opened fails Start.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	run := a.sup.Context()

	a.sup.Go0("metrics", func(c context.Context) { _ = a.metrics.Run(c, a.bus) })
	if a.store != nil {
		j := newJournal(a.store, a.log.With(logx.String("comp", "journal")))
		a.sup.Go0("journal", func(c context.Context) { j.run(c, a.bus) })
	}
	a.sup.Go0("inbox.drain", a.drainInbox)
	a.diag.Start(run)

	cfg := a.cfgm.Get()
	descs, err := cfg.Descriptors()
	if err != nil {
		return err
	}
	var g errgroup.Group
	for _, d := range descs {
		d := d
		g.Go(func() error {
			// run, not an errgroup context: it bounds the managers' lifetime.
			_, err := a.reg.Start(run, d, a.inbox)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.reg.CloseAll(closeCtx)
		cancel()
		return err
	}

	if a.reporter != nil {
		a.reporter.start()
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Int("connections", len(descs)))
	return nil
}

// drainInbox consumes client messages of every connection so the mailbox
// never grows without bound.
func (a *App) drainInbox(ctx context.Context) {
	for {
		msg, err := a.inbox.Recv(ctx)
		if err != nil {
			return
		}
		switch msg.Kind {
		case gateway.MessageResponse:
			a.log.Debug("push response",
				logx.String("conn", msg.Manager),
				logx.Uint32("stream", uint32(msg.StreamID)),
				logx.Int("status", msg.Response.Status),
				logx.String("reason", msg.Response.Reason()),
			)
		case gateway.MessageReconnecting:
			a.log.Debug("client notified: reconnecting", logx.String("conn", msg.Manager))
		case gateway.MessageConnectionRestored:
			a.log.Debug("client notified: restored", logx.String("conn", msg.Manager))
		default:
			a.log.Debug("client message", logx.String("conn", msg.Manager), logx.String("kind", msg.Kind.String()), logx.Err(msg.Err))
		}
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	ch := config.SummarizeConfigChange(oldCfg, newCfg)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.diag.Reconfigure(ctx, mapDiagConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	if ch.NeedsRestart() {
		a.log.Warn("config changes require restart to take effect",
			logx.Any("connections_added", ch.Added),
			logx.Any("connections_removed", ch.Removed),
			logx.Any("connections_modified", ch.Modified),
		)
	}
	a.log.Info("config reloaded", fields...)
}

type healthStatus struct {
	Status      string              `json:"status"`
	Connections []gateway.Snapshot  `json:"connections"`
	Supervisor  supervisor.Snapshot `json:"supervisor"`
	BusDropped  uint64              `json:"bus_dropped"`
}

// health is healthy while every configured connection holds a session.
func (a *App) health(ctx context.Context) (any, bool) {
	st := healthStatus{Status: "ok", Connections: a.reg.Snapshots(ctx), BusDropped: a.bus.Dropped()}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	ok := true
	for _, s := range st.Connections {
		if s.State != gateway.StateConnected {
			ok = false
		}
	}
	if a.sup == nil || a.sup.Context().Err() != nil {
		ok = false
	}
	if !ok {
		st.Status = "degraded"
	}
	return st, ok
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("reporter", time.Second, func(c context.Context) error {
		if a.reporter != nil {
			a.reporter.stop(c)
		}
		return nil
	})
	step("connections", 5*time.Second, a.reg.CloseAll)

	// Background loops unwind once the run context is canceled.
	a.sup.Cancel()

	step("diag", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("tracing", 2*time.Second, a.tracer.Shutdown)
	step("storage", time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
