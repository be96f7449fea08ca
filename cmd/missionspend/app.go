package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/planetary-society/missionspend/artifact"
	"github.com/planetary-society/missionspend/cache"
	"github.com/planetary-society/missionspend/config"
	"github.com/planetary-society/missionspend/events"
	"github.com/planetary-society/missionspend/mission"
	"github.com/planetary-society/missionspend/orchestrate"
	"github.com/planetary-society/missionspend/usaspending"
)

// App wires the aggregation components together from configuration.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	natsConn *nats.Conn
	registry *prometheus.Registry

	orchestrator *orchestrate.Orchestrator
	writer       *artifact.Writer
}

// NewApp builds an application instance from configuration.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	client, err := usaspending.NewClient(usaspending.ClientConfig{
		BaseURL:           cfg.API.BaseURL,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
		MaxAttempts:       cfg.API.MaxAttempts,
		InitialBackoff:    500 * time.Millisecond,
		Timeout:           cfg.API.Timeout.Std(),
	}, logger)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(cfg.Cache.Dir, cfg.Cache.TTL.Std(), logger)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	writer, err := artifact.NewWriter(cfg.Output.Dir, logger)
	if err != nil {
		return nil, err
	}

	app := &App{cfg: cfg, logger: logger, writer: writer}

	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name(appName))
		if err != nil {
			return nil, fmt.Errorf("connect NATS: %w", err)
		}
		app.natsConn = nc
	}
	publisher := events.NewPublisher(app.natsConn, cfg.NATS.SubjectPrefix)

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(collectors.NewGoCollector())
	metrics := orchestrate.NewMetrics(app.registry)

	orch, err := orchestrate.New(orchestrate.Config{
		Workers:     cfg.Batch.Workers,
		AwardFanOut: cfg.Batch.AwardFanOut,
		PageSize:    cfg.API.PageSize,
		MaxRecords:  cfg.API.MaxRecords,
	}, client, store, publisher, metrics, logger)
	if err != nil {
		return nil, err
	}
	app.orchestrator = orch
	return app, nil
}

// Close releases external connections.
func (a *App) Close() {
	if a.natsConn != nil {
		a.natsConn.Drain()
	}
}

// RunBatch aggregates every mission under path once and publishes
// artifacts. Per-mission failures are reported, not fatal; the command
// fails only if the whole batch could not run.
func (a *App) RunBatch(ctx context.Context, path string) error {
	missions, err := mission.LoadAll(path, a.cfg.Missions.Pattern, a.logger)
	if err != nil {
		return fmt.Errorf("load missions: %w", err)
	}
	if len(missions) == 0 {
		a.logger.Warn("no missions found", slog.String("path", path))
		return nil
	}

	report, err := a.orchestrator.Run(ctx, missions)
	if report != nil {
		if werr := a.writer.WriteBatch(report); werr != nil {
			a.logger.Error("write artifacts", slog.String("error", werr.Error()))
		}
		for _, failed := range report.Failed() {
			a.logger.Error("mission computation failed",
				slog.String("mission", failed.MissionID),
				slog.String("kind", string(failed.Kind)),
				slog.String("error", failed.Err.Error()))
		}
	}
	return err
}

// Watch runs until canceled: it serves /metrics if configured, performs
// an initial batch, and recomputes a mission whenever its registry file
// changes.
func (a *App) Watch(ctx context.Context) error {
	if a.cfg.Metrics.Addr != "" {
		go a.serveMetrics(ctx)
	}

	if err := a.RunBatch(ctx, a.cfg.Missions.Dir); err != nil {
		return err
	}

	watcher, err := mission.NewWatcher(a.cfg.Missions.Dir, a.cfg.Missions.DebounceDelay.Std(), a.logger)
	if err != nil {
		return fmt.Errorf("watch missions: %w", err)
	}
	go watcher.Run(ctx)

	a.logger.Info("watching mission registry", slog.String("dir", a.cfg.Missions.Dir))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			a.logger.Info("mission file changed", slog.String("path", ev.Path))
			if err := a.RunBatch(ctx, ev.Path); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.logger.Error("recompute failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	a.logger.Info("serving metrics", slog.String("addr", a.cfg.Metrics.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error("metrics server", slog.String("error", err.Error()))
	}
}
