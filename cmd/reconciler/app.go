package main

import (
	"context"
	"fmt"
	"time"

	"bank-recon/pkg/audit"
	"bank-recon/pkg/bank"
	"bank-recon/pkg/bank/adapters"
	"bank-recon/pkg/cache"
	"bank-recon/pkg/cache/bloom"
	"bank-recon/pkg/cache/memory"
	"bank-recon/pkg/cache/redis"
	"bank-recon/pkg/chain"
	"bank-recon/pkg/config"
	"bank-recon/pkg/integration"
	"bank-recon/pkg/logging"
	promMetrics "bank-recon/pkg/metrics/prometheus"
	"bank-recon/pkg/recon"
	"bank-recon/pkg/reconcache"
	"bank-recon/pkg/resilience"
	"bank-recon/pkg/store/postgres"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app holds every wired component. close releases them in reverse order.
type app struct {
	cfg         *config.Config
	logger      *logging.Logger
	store       *postgres.Store
	chain       *chain.Chain
	registry    *prometheus.Registry
	audit       *audit.Writer
	recon       recon.Service
	integration *integration.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	collector := promMetrics.NewPrometheusCollector(cfg.MetricsNamespace)
	if err := collector.Register(a.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := postgres.Open(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	logger.Info("postgres connected", zap.String("database", cfg.Postgres.Database))

	a.chain, err = newChain(cfg, collector, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.audit = audit.NewWriter(
		audit.MultiSink{store, audit.LogSink{Logger: logger.Named("audit").Logger}},
		audit.WriterConfig{QueueSize: cfg.Audit.QueueSize, Workers: cfg.Audit.Workers},
		collector,
		logger,
	)

	engine := recon.NewEngine(store.Recon(), recon.EngineConfig{
		Audit:   a.audit,
		Metrics: collector,
		Logger:  logger,
	})
	cached := reconcache.New(engine, a.chain, reconcache.Config{TTLs: cfg.Cache.TTLs, Logger: logger})
	a.recon = cached

	gateways, err := newRegistry(cfg, collector, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.integration = integration.NewService(gateways, store.Integration(), integration.ServiceConfig{
		Invalidator:     cached,
		Audit:           a.audit,
		Logger:          logger,
		Lookback:        cfg.Integration.Lookback,
		MaxSpan:         cfg.Integration.MaxSpan,
		TokenSkew:       cfg.Integration.TokenSkew,
		SyncConcurrency: cfg.Integration.SyncConcurrency,
	})

	return a, nil
}

// newChain builds L1 memory and, when configured, a bloom-guarded Redis L2.
func newChain(cfg *config.Config, collector *promMetrics.PrometheusCollector, logger *logging.Logger) (*chain.Chain, error) {
	layers := []cache.CacheLayer{
		memory.NewMemoryCache(memory.MemoryCacheConfig{
			Name:            "L1-Memory",
			MaxSize:         cfg.Cache.L1Size,
			DefaultTTL:      5 * time.Minute,
			CleanupInterval: time.Minute,
		}),
	}
	resilient := []resilience.ResilientConfig{
		resilience.LocalLayerConfig().WithTimeout(time.Second),
	}

	if cfg.Redis.Enabled() {
		rc := redis.Config{
			Name:           "L2-Redis",
			Addr:           cfg.Redis.Addr,
			ClusterAddrs:   cfg.Redis.ClusterAddrs,
			SentinelAddrs:  cfg.Redis.SentinelAddrs,
			SentinelMaster: cfg.Redis.SentinelMaster,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			KeyPrefix:      cfg.Redis.KeyPrefix,
		}
		rl, err := redis.New(rc)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		layers = append(layers, bloom.New(rl, bloom.Config{ExpectedItems: cfg.Redis.BloomItems, FalsePositiveRate: cfg.Redis.BloomFPRate}))
		resilient = append(resilient, resilience.SharedLayerConfig().WithTimeout(3*time.Second))
		logger.Info("redis layer enabled", zap.String("mode", rc.Mode()))
	} else {
		logger.Warn("no redis address configured, reconciliation cache is memory-only")
	}

	return chain.NewWithConfig(chain.ChainConfig{
		ResilientConfigs: resilient,
		TTLStrategy:      chain.ReplicaTTLStrategy(cfg.Cache.L1MaxTTL),
		Metrics:          collector,
		Logger:           logger,
	}, layers...)
}

// newRegistry builds a gateway for every configured bank.
func newRegistry(cfg *config.Config, collector *promMetrics.PrometheusCollector, logger *logging.Logger) (*bank.Registry, error) {
	breaker := cfg.BankBreaker()
	registry := bank.NewRegistry()
	for code, bc := range cfg.Banks {
		gw, err := adapters.New(code, adapters.Config{
			BaseURL:      bc.BaseURL,
			TokenURL:     bc.TokenURL,
			ClientID:     bc.ClientID,
			ClientSecret: bc.ClientSecret,
			Scopes:       bc.Scopes,
			APIKey:       bc.APIKey,
			CertFile:     bc.CertFile,
			CertPassword: bc.CertPassword,
			Timeout:      cfg.Integration.BankTimeout,
			MaxSpan:      cfg.Integration.MaxSpan,
			TokenSkew:    cfg.Integration.TokenSkew,
			Breaker:      &breaker,
			Metrics:      collector,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("bank %s: %w", code, err)
		}
		registry.Register(gw)
	}
	if len(registry.Codes()) == 0 {
		logger.Warn("no bank integrations configured")
	} else {
		logger.Info("bank integrations registered", zap.Strings("banks", registry.Codes()))
	}
	return registry, nil
}

func (a *app) close() {
	if a.audit != nil {
		if err := a.audit.Flush(5 * time.Second); err != nil {
			a.logger.Warn("audit flush incomplete", zap.Error(err))
		}
		a.audit.Close()
	}
	if a.chain != nil {
		a.chain.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
