package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/netpulse/internal/authz"
	"github.com/rcliao/netpulse/internal/cache"
	"github.com/rcliao/netpulse/internal/config"
	"github.com/rcliao/netpulse/internal/kv"
	"github.com/rcliao/netpulse/internal/logging"
	"github.com/rcliao/netpulse/internal/metrics"
	"github.com/rcliao/netpulse/internal/provider"
	"github.com/rcliao/netpulse/internal/tracker"
)

// app holds the wired components one command invocation works with.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    kv.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	domains  *authz.DomainStore
	tracker  *tracker.Tracker
	cache    *cache.Cache
	client   *provider.Client
}

// openApp loads config and builds every component on one store. notifier
// receives terminal-record notifications; nil discards them.
func openApp(ctx context.Context, notifier tracker.Notifier) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	store, err := kv.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, store: store, registry: prometheus.NewRegistry()}
	a.metrics = metrics.New(a.registry)

	a.domains = authz.NewDomainStore(store)
	if err := a.domains.Seed(ctx, cfg.Tracker.AuthorizedDomains); err != nil {
		store.Close()
		return nil, fmt.Errorf("seed authorized domains: %w", err)
	}

	a.tracker = tracker.New(store, a.domains, notifier,
		tracker.WithLogger(logger.Named("tracker")),
		tracker.WithMetrics(a.metrics))

	a.cache = cache.New(store,
		cache.WithTTL(cfg.AI.Cache.TTL),
		cache.WithMaxEntries(cfg.AI.Cache.MaxEntries),
		cache.WithLogger(logger.Named("cache")),
		cache.WithMetrics(a.metrics))
	if err := a.cache.Load(ctx); err != nil {
		logger.Warn("analysis cache not loaded, starting empty", zap.Error(err))
	}

	a.client = provider.NewClient(
		provider.WithCache(a.cache),
		provider.WithLogger(logger.Named("provider")),
		provider.WithMetrics(a.metrics))
	return a, nil
}

// Close flushes pending tracker writes and closes the store.
func (a *app) Close() {
	if err := a.tracker.Flush(context.Background()); err != nil {
		a.logger.Warn("flush tracker", zap.Error(err))
	}
	a.tracker.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// withApp runs fn against a freshly opened app and always closes it, so
// queued tracker writes are flushed even when fn fails.
func withApp(cmd *cobra.Command, notifier tracker.Notifier, fn func(a *app) error) error {
	a, err := openApp(cmd.Context(), notifier)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
