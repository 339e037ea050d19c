package main

import (
	"context"
	"fmt"

	"apikit/pkg/auth"
	"apikit/pkg/config"
	errs "apikit/pkg/errors"
	"apikit/pkg/httpsource"
	"apikit/pkg/logger"
	"apikit/pkg/metrics"
	"apikit/pkg/ratelimit"
	"apikit/pkg/retry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// app is the wiring shared by the API commands
type app struct {
	cfg       *config.Config
	log       logger.Logger
	client    *httpsource.Client
	retry     *retry.Config
	registry  *prometheus.Registry
	collector *metrics.Collector
}

// loadConfig merges the global flags with extra command flags
func loadConfig(extra map[string]interface{}) (*config.Config, error) {
	flags := globalFlags()
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func newApp(cmd *cobra.Command, extra map[string]interface{}) (*app, error) {
	cfg, err := loadConfig(extra)
	if err != nil {
		return nil, err
	}
	log := logger.GetLogger()

	if cfg.HTTP.BaseURL == "" {
		return nil, errs.Validation("no base URL configured: set http.base_url, APIKIT_BASE_URL or --base-url", "base_url")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(registry)

	opts := []httpsource.Option{
		httpsource.WithLogger(log),
		httpsource.WithLimiter(ratelimit.FromConfig(cfg.RateLimit)),
		httpsource.WithRequestHook(collector.ObserveHTTP),
	}
	if ts := storedToken(cfg.HTTP.AuthProfile, log); ts != nil {
		opts = append(opts, httpsource.WithTokenSource(ts))
	}

	client, err := httpsource.New(cfg.HTTP, opts...)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		client:    client,
		registry:  registry,
		collector: collector,
		retry: collector.RetryConfig(&retry.Config{
			Policy: retry.PolicyFromConfig(cfg.Retry),
			Logger: log,
		}),
	}

	if cfg.Metrics.Enabled {
		a.serveMetrics(cmd.Context())
	}

	log.DebugWithFields("apikit starting", map[string]interface{}{
		"version":  version,
		"base_url": client.BaseURL(),
		"command":  cmd.Name(),
	})
	return a, nil
}

func (a *app) serveMetrics(ctx context.Context) {
	go func() {
		if err := metrics.Serve(ctx, a.cfg.Metrics.ListenAddr, a.registry, a.log); err != nil {
			a.log.WithError(err).Error("Metrics server failed")
		}
	}()
}

// storedToken returns the auth manager when a token is stored for profile
func storedToken(profile string, log logger.Logger) httpsource.TokenSource {
	manager, err := auth.NewManager(profile, "")
	if err != nil {
		log.WithError(err).Debug("Credential stores unavailable")
		return nil
	}
	if _, err := manager.Retrieve(manager.Profile()); err != nil {
		log.WithField("profile", manager.Profile()).Debug("No stored token, sending requests without auth")
		return nil
	}
	return manager
}
