package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/stratrun/stratrun/internal/broker"
	"github.com/stratrun/stratrun/internal/circuit"
	"github.com/stratrun/stratrun/internal/config"
	"github.com/stratrun/stratrun/internal/engine"
	"github.com/stratrun/stratrun/internal/httpapi"
	"github.com/stratrun/stratrun/internal/journal"
	"github.com/stratrun/stratrun/internal/market"
	"github.com/stratrun/stratrun/internal/portfolio"
	"github.com/stratrun/stratrun/internal/ratelimit"
	"github.com/stratrun/stratrun/internal/risk"
	"github.com/stratrun/stratrun/internal/signals"
	"github.com/stratrun/stratrun/internal/state"
	"github.com/stratrun/stratrun/internal/telemetry"
)

const defaultSeedPrice = 100

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the trading engine and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootFlags.configPath)
			if err != nil {
				return err
			}
			applyEnvOverrides(cfg)
			return run(cmd.Context(), cfg)
		},
	}
}

// applyEnvOverrides lets secrets stay out of the YAML file.
func applyEnvOverrides(cfg *config.Config) {
	if addr := os.Getenv("STRATRUN_REDIS_ADDR"); addr != "" {
		cfg.State.RedisAddr = addr
	}
	if dsn := os.Getenv("STRATRUN_POSTGRES_DSN"); dsn != "" {
		cfg.State.PostgresDSN = dsn
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	metrics := telemetry.New()
	cache := market.NewCache(cfg.QuoteTTL(), cfg.Cache.MaxEntries, cfg.Engine.CandleHistory)

	gateway := buildGateway(cfg, metrics)

	registry := signals.NewRegistry()
	for _, s := range []signals.Strategy{
		signals.NewMomentum(),
		signals.NewMeanReversion(),
		signals.NewBreakout(),
		signals.NewStopGuard(),
	} {
		if err := registry.Register(s); err != nil {
			return err
		}
	}

	thresholds := cfg.ActiveThresholds()
	aggregator := signals.NewAggregator(cfg.Weights, thresholds.AgreementThresholdEntry, thresholds.AgreementThresholdExit)

	book := portfolio.New(decimal.NewFromFloat(cfg.Engine.InitialCash), cfg.Risk.AllowShorts)
	riskMgr := risk.NewManager(cfg.Risk, cfg.Sectors)

	stores, jnl, closers, err := buildPersistence(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, closeFn := range closers {
			closeFn()
		}
	}()

	states := state.NewManager(book, cfg.PersistInterval(), stores...)

	eng := engine.New(engine.Deps{
		Config:     cfg,
		Cache:      cache,
		Gateway:    gateway,
		Registry:   registry,
		Aggregator: aggregator,
		Risk:       riskMgr,
		Book:       book,
		States:     states,
		Journal:    jnl,
		Metrics:    metrics,
		Bus:        engine.NewBus(),
	})
	eng.Executor = portfolio.NewExecutor(book, gateway, riskMgr, nil, cfg.Sectors, eng.OnTrade)

	api := httpapi.New(cfg.HTTPAddr, eng, jnl)
	go func() {
		if err := api.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP API failed")
		}
	}()

	log.Info().
		Str("profile", cfg.ActiveProfile).
		Strs("symbols", cfg.Engine.Symbols).
		Float64("initial_cash", cfg.Engine.InitialCash).
		Msg("StratRun starting")

	runErr := eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP API shutdown failed")
	}
	return runErr
}

// buildGateway assembles the guarded paper gateway over a simulated feed.
func buildGateway(cfg *config.Config, metrics *telemetry.Metrics) broker.Gateway {
	seeds := make(map[string]float64, len(cfg.Engine.Symbols))
	for _, sym := range cfg.Engine.Symbols {
		if p, ok := cfg.Engine.SeedPrices[sym]; ok && p > 0 {
			seeds[sym] = p
		} else {
			seeds[sym] = defaultSeedPrice
		}
	}
	feed := broker.NewWalkFeed(seeds, 0.002, time.Now().UnixNano())
	paper := broker.NewPaper(feed, cfg.Broker.SlippageBps, cfg.Broker.FeeBps)

	limiter := ratelimit.New(cfg.Broker.RateLimitPerSecond, cfg.Broker.RateLimitBurst)
	breaker := circuit.New("broker", circuit.Config{
		FailureThreshold: cfg.Broker.CircuitFailureThreshold,
		Cooldown:         cfg.CircuitCooldown(),
		OnStateChange: func(name string, from, to circuit.State) {
			metrics.BreakerState.Set(breakerGaugeValue(to))
		},
	})
	return broker.NewGuarded(paper, limiter, breaker, cfg.CallTimeout())
}

func breakerGaugeValue(st circuit.State) float64 {
	switch st {
	case circuit.Open:
		return 2
	case circuit.HalfOpen:
		return 1
	default:
		return 0
	}
}

// buildPersistence assembles the state tiers in recovery-preference order:
// memory, redis, file, postgres. Redis and postgres join only when configured.
func buildPersistence(ctx context.Context, cfg *config.Config) ([]state.Store, *journal.Journal, []func(), error) {
	stores := []state.Store{state.NewMemoryStore(cfg.State.KeepVersions)}
	var closers []func()

	if cfg.State.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.State.RedisAddr,
			Password: os.Getenv("STRATRUN_REDIS_PASSWORD"),
			DB:       cfg.State.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, closers, fmt.Errorf("redis ping %s: %w", cfg.State.RedisAddr, err)
		}
		stores = append(stores, state.NewRedisStore(client))
		closers = append(closers, func() { _ = client.Close() })
		log.Info().Str("addr", cfg.State.RedisAddr).Msg("Redis state tier enabled")
	}

	fileStore, err := state.NewFileStore(cfg.State.Dir, cfg.State.KeepVersions)
	if err != nil {
		return nil, nil, closers, err
	}
	stores = append(stores, fileStore)

	var jnl *journal.Journal
	if cfg.State.PostgresDSN != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.State.PostgresDSN)
		if err != nil {
			return nil, nil, closers, fmt.Errorf("postgres connect: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })

		pgStore, err := state.NewPostgresStore(db)
		if err != nil {
			return nil, nil, closers, err
		}
		stores = append(stores, pgStore)

		jnl, err = journal.New(db)
		if err != nil {
			return nil, nil, closers, err
		}
		log.Info().Msg("Postgres state tier and trade journal enabled")
	}

	return stores, jnl, closers, nil
}
