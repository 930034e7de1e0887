package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/okian/parley/internal/adapters/http/api"
	"github.com/okian/parley/internal/adapters/repository"
	"github.com/okian/parley/internal/adapters/sink"
	"github.com/okian/parley/internal/adapters/transport"
	service "github.com/okian/parley/internal/app"
	"github.com/okian/parley/internal/config"
	"github.com/okian/parley/internal/domain/admission"
	"github.com/okian/parley/internal/domain/model"
	"github.com/okian/parley/internal/domain/plugin"
	"github.com/okian/parley/internal/plugins/builtin"
	"github.com/okian/parley/internal/plugins/script"
	"github.com/okian/parley/internal/schedule"
	"github.com/okian/parley/pkg/logger"
	"github.com/okian/parley/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// bot owns every long-lived component of one process.
type bot struct {
	log       logger.Logger
	svc       *service.Service
	transport transport.Transport
	store     *repository.BoltStore // nil keeps plugin state in memory
	srv       *http.Server          // nil when addr is empty
}

// assemble builds the components described by cfg without starting them.
func assemble(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) (*bot, error) {
	b := &bot{log: logger.Get().Named("parley")}
	metrics.Configure(
		metrics.WithNamespace(cfg.Metrics.Namespace),
		metrics.WithSystemCollector(cfg.Metrics.System),
		metrics.WithRefreshInterval(cfg.Metrics.Refresh),
		metrics.WithConstLabels(cfg.Metrics.Labels),
	)

	tr, err := transport.New(cfg.Transport, in, out, transport.WithLogger(logger.Get().Named("transport")))
	if err != nil {
		return nil, err
	}
	b.transport = tr

	var store plugin.Store
	if cfg.Store.Path != "" {
		b.store = repository.NewBoltStore(cfg.Store.Path, repository.WithLogger(logger.Get().Named("store")))
		if err := b.store.Open(ctx); err != nil {
			return nil, err
		}
		store = b.store
	}

	svc, err := buildService(ctx, cfg, tr, store)
	if err != nil {
		b.closeStore(ctx)
		return nil, err
	}
	b.svc = svc

	if cfg.Addr != "" {
		b.srv = &http.Server{
			Addr:              cfg.Addr,
			Handler:           api.NewServer(svc).Routes(),
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}
	return b, nil
}

// buildService creates the dispatcher and registers the configured
// built-in and script plugins. out and store may be nil.
func buildService(ctx context.Context, cfg *config.Config, out sink.Sink, store plugin.Store) (*service.Service, error) {
	cm, err := model.ParseCasemapping(cfg.Casemapping)
	if err != nil {
		return nil, err
	}
	tiers, err := cfg.EventTiers()
	if err != nil {
		return nil, err
	}
	overflow, err := service.ParseOverflow(cfg.Pool.Overflow)
	if err != nil {
		return nil, err
	}
	sched, err := schedule.New(cfg.Schedule, schedule.WithLogger(logger.Get().Named("schedule")))
	if err != nil {
		return nil, err
	}

	a := cfg.Admission
	opts := []service.Option{
		service.WithLogger(logger.Get().Named("service")),
		service.WithNick(cfg.Nick),
		service.WithCommandPrefix(cfg.CommandPrefix),
		service.WithCasemapping(cm),
		service.WithAdmins(cfg.Admins...),
		service.WithCacheCapacity(cfg.Cache.Capacity),
		service.WithDedupeSize(cfg.Cache.DedupeSize),
		service.WithAdmission(
			admission.WithTiers(tiers),
			admission.WithQuantile(a.Quantile),
			admission.WithLatencyThresholds(a.Elevated, a.High, a.Critical),
			admission.WithMinGap(a.MinGap),
			admission.WithWarmup(a.Warmup),
			admission.WithBurst(a.Burst, a.BurstWindow),
			admission.WithOutboundInterval(a.OutboundInterval, a.MaxInterval),
			admission.WithEstimatorOptions(
				admission.WithWindow(a.Window, a.AgeBuckets),
				admission.WithEpsilon(a.Epsilon),
			),
		),
		service.WithDefer(a.DeferDepth, a.DeferTTL),
		service.WithWorkerCount(cfg.Pool.Workers),
		service.WithUnordered(cfg.Pool.UnorderedWorkers, cfg.Pool.UnorderedCapacity),
		service.WithQueueDepth(cfg.Pool.QueueDepth),
		service.WithMaxTargets(cfg.Pool.MaxTargets),
		service.WithIdleTTL(cfg.Pool.IdleTTL),
		service.WithInvocationTimeout(cfg.Pool.Timeout),
		service.WithOverflow(overflow, cfg.Pool.OverflowWait),
		service.WithMaintenanceInterval(cfg.Pool.Maintenance),
		service.WithSchedule(sched),
	}
	if out != nil {
		opts = append(opts, service.WithSink(out,
			sink.WithQueueDepth(cfg.Sink.QueueDepth),
			sink.WithMaxLine(cfg.Sink.MaxLine),
			sink.WithBurst(cfg.Sink.Burst),
			sink.WithIdleTimeout(cfg.Sink.IdleTimeout),
			sink.WithLogger(logger.Get().Named("sink")),
		))
	}
	if store != nil {
		opts = append(opts, service.WithStore(store))
	}

	svc, err := service.New(opts...)
	if err != nil {
		return nil, err
	}

	if err := builtin.Register(builtin.Deps{
		Registry:    svc.Registry(),
		Store:       store,
		Ranking:     repository.NewRanking(),
		Casemapping: cm,
		Greet:       cfg.Greet,
	}, cfg.Plugins...); err != nil {
		return nil, err
	}

	loader := script.NewLoader(
		script.WithDir(cfg.ScriptDir),
		script.WithPrefix(cfg.CommandPrefix),
		script.WithLogger(logger.Get().Named("script")),
	)
	for _, spec := range cfg.Scripts {
		d, err := loader.Load(spec)
		if err != nil {
			return nil, err
		}
		if err := svc.Registry().Register(d); err != nil {
			return nil, err
		}
	}
	logger.Get().Info(ctx, "plugins registered", logger.Int("count", svc.Registry().Len()))
	return svc, nil
}

// run starts every component, dispatches transport events until ctx is
// done or the transport closes, and shuts down in reverse order.
func (b *bot) run(ctx context.Context) error {
	if err := b.svc.Start(ctx); err != nil {
		b.closeStore(ctx)
		return err
	}
	metrics.StartSystemCollector(ctx)

	if err := b.transport.Start(ctx); err != nil {
		b.shutdown()
		return err
	}

	if b.srv != nil {
		go func() {
			b.log.Info(ctx, "starting HTTP server", logger.String("addr", b.srv.Addr))
			if err := b.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.log.Error(ctx, "HTTP server failed", logger.Error(err))
			}
		}()
	}

	err := b.svc.Run(ctx, b.transport)
	b.log.Info(ctx, "shutting down...")
	b.shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}

func (b *bot) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if b.srv != nil {
		if err := b.srv.Shutdown(ctx); err != nil {
			b.log.Error(ctx, "server shutdown failed", logger.Error(err))
		}
	}
	// Drain replies before the transport goes away.
	if err := b.svc.Stop(ctx); err != nil {
		b.log.Error(ctx, "service stop failed", logger.Error(err))
	}
	if err := b.transport.Stop(ctx); err != nil {
		b.log.Error(ctx, "transport stop failed", logger.Error(err))
	}
	b.closeStore(ctx)
	b.log.Info(ctx, "stopped")
}

func (b *bot) closeStore(ctx context.Context) {
	if b.store == nil {
		return
	}
	if err := b.store.Close(); err != nil {
		b.log.Error(ctx, "store close failed", logger.Error(err))
	}
}
