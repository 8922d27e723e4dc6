package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/AlexKimmel/rtlmtr/internal/clock"
	"github.com/AlexKimmel/rtlmtr/internal/config"
	"github.com/AlexKimmel/rtlmtr/internal/gateway"
	"github.com/AlexKimmel/rtlmtr/internal/obs"
	"github.com/AlexKimmel/rtlmtr/internal/ratelimit/memory"
)

var version = "v0.1.0"

func main() {
	cfg, err := config.FromEnv(os.LookupEnv)
	if err != nil {
		// the level is not known yet
		l := obs.SetupLogger("info")
		l.Fatal().Err(err).Msg("load config")
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("bye")
}

func run(ctx context.Context, cfg *config.Root, logger zerolog.Logger) error {
	policy := cfg.Limits.Policy()
	store := memory.NewStore(cfg.Store.Shards)
	lim := memory.New(store, policy, clock.Real{})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg, store.Len)

	mux := gateway.NewMux(gateway.Admit(lim, metrics.RecordDecision), gateway.Ops{
		Version:     version,
		MetricsPath: cfg.Observability.PrometheusPath,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	skip := map[string]struct{}{
		"/_/health":                      {},
		"/_/version":                     {},
		cfg.Observability.PrometheusPath: {},
	}

	handler := gateway.Chain(
		mux,
		obs.Logger(logger),
		metrics.Middleware(skip),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("addr", ln.Addr().String()).
			Int("capacity", policy.Capacity).
			Dur("refill_period", policy.RefillPeriod).
			Int("shards", cfg.Store.Shards).
			Msg("listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Store.Sweep.Enabled {
		sw := &memory.Sweeper{
			Store:    store,
			Clock:    clock.Real{},
			Idle:     cfg.SweepIdle(),
			Interval: cfg.SweepInterval(),
			Logger:   logger,
			OnSwept:  metrics.RecordSwept,
		}
		g.Go(func() error { return sw.Run(ctx) })
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
		return nil
	})

	return g.Wait()
}
