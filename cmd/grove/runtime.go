package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"grove/internal/chat"
	"grove/internal/config"
	"grove/internal/engine"
	"grove/internal/logging"
	"grove/internal/metrics"
	"grove/internal/watcher"
)

// milestoneTick is how often long-running sessions check time milestones.
const milestoneTick = 30 * time.Second

// =============================================================================
// RUNTIME
// =============================================================================

// runtime bundles what the long-running commands share: the engine, its
// metrics and the rule file watcher.
type runtime struct {
	engine   *engine.Engine
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	watcher  *watcher.Watcher
	detach   func()
}

// startRuntime boots the engine with metrics attached.
func startRuntime() (*runtime, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	e, err := bootEngine(engine.Hooks{
		PersistError: m.RecordPersistFailure,
		Turn:         func(t engine.Turn) { m.RecordEntropy(t.Entropy.Score) },
	})
	if err != nil {
		return nil, err
	}

	rt := &runtime{engine: e, registry: reg, metrics: m, detach: m.Attach(e.Bus())}
	if cfg.Watch.Enabled {
		w, err := watchRules(e)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.watcher = w
	}
	return rt, nil
}

// run starts the background loops on g: the watcher, the milestone ticker
// and, when enabled or forced, the metrics endpoint.
func (rt *runtime) run(ctx context.Context, g *errgroup.Group, metricsAddr string) error {
	if rt.watcher != nil {
		if err := rt.watcher.Start(ctx); err != nil {
			return err
		}
	}
	g.Go(func() error { return tickLoop(ctx, rt.engine, milestoneTick) })
	if metricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, metricsAddr, rt.registry) })
	}
	return nil
}

func (rt *runtime) Close() {
	if rt.watcher != nil {
		rt.watcher.Stop()
	}
	if rt.detach != nil {
		rt.detach()
	}
	rt.engine.Close()
}

// newResponder builds the configured LLM collaborator.
func newResponder(ctx context.Context, c *config.Config) (chat.Responder, error) {
	return chat.New(ctx, chat.Options{
		Provider: c.ChatProvider(),
		Model:    c.Chat.Model,
		APIKey:   c.Chat.APIKey,
		Timeout:  c.ChatTimeout(),
	})
}

// watchRules registers every configured rule file for hot reload. A file
// that fails to parse leaves the previous rules in effect.
func watchRules(e *engine.Engine) (*watcher.Watcher, error) {
	w, err := watcher.New(cfg.WatchDebounce())
	if err != nil {
		return nil, err
	}

	reloads := []struct {
		path   string
		reload func(string) error
	}{
		{cfg.Files.Triggers, e.ReloadTriggers},
		{cfg.Files.Thresholds, e.ReloadThresholds},
		{cfg.Files.Prompts, e.ReloadPrompts},
		{cfg.Files.Moments, e.ReloadMoments},
	}
	for _, r := range reloads {
		path := config.Resolve(workspace, r.path)
		if path == "" {
			continue
		}
		reload := r.reload
		if err := w.Handle(path, func(_ context.Context, p string) error { return reload(p) }); err != nil {
			w.Stop()
			return nil, err
		}
	}
	return w, nil
}

func tickLoop(ctx context.Context, e *engine.Engine, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, minutes := range e.Tick() {
				logging.Get(logging.CategoryBus).Info("time milestone reached: %d minutes", minutes)
			}
		}
	}
}

// serveMetrics exposes reg on /metrics until ctx ends.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Get(logging.CategoryMetrics).Info("serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
