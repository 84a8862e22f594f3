package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stratrun/stratrun/internal/broker"
	"github.com/stratrun/stratrun/internal/config"
	"github.com/stratrun/stratrun/internal/domain"
	"github.com/stratrun/stratrun/internal/journal"
	"github.com/stratrun/stratrun/internal/market"
	"github.com/stratrun/stratrun/internal/portfolio"
	"github.com/stratrun/stratrun/internal/risk"
	"github.com/stratrun/stratrun/internal/signals"
	"github.com/stratrun/stratrun/internal/state"
	"github.com/stratrun/stratrun/internal/telemetry"
)

const atrWindow = 14

// Deps are the collaborators the engine drives. Everything is constructed
// once at startup and passed in; the engine owns no globals.
type Deps struct {
	Config     *config.Config
	Cache      *market.Cache
	Gateway    broker.Gateway
	Registry   *signals.Registry
	Aggregator *signals.Aggregator
	Risk       *risk.Manager
	Book       *portfolio.Portfolio
	Executor   *portfolio.Executor
	States     *state.Manager
	Journal    *journal.Journal
	Metrics    *telemetry.Metrics
	Bus        *Bus
}

// Engine runs the evaluation loop over the configured symbol universe.
type Engine struct {
	Deps
	life *lifecycle

	pauseMu sync.Mutex
	paused  bool

	killCh   chan struct{}
	killOnce sync.Once
}

// New wires an engine from its dependencies.
func New(deps Deps) *Engine {
	return &Engine{Deps: deps, life: newLifecycle(), killCh: make(chan struct{})}
}

// State returns the current lifecycle state.
func (e *Engine) State() State { return e.life.current() }

// Run recovers state and drives the loop until ctx is cancelled or the kill
// switch fires. A corrupt state store aborts before the first cycle: the
// engine never trades on unverified state.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.life.to(StateRecovering); err != nil {
		return err
	}
	recovered, err := e.States.Recover(ctx)
	if err != nil {
		_ = e.life.to(StateStopped)
		return fmt.Errorf("startup recovery: %w", err)
	}
	if recovered {
		log.Info().Str("cash", e.Book.Cash().String()).Int("positions", e.Book.OpenPositions()).Msg("Resuming from recovered state")
	} else {
		log.Info().Msg("No snapshot found, starting clean")
	}
	if err := e.life.to(StateReady); err != nil {
		return err
	}
	if err := e.life.to(StateRunning); err != nil {
		return err
	}

	ticker := time.NewTicker(e.Config.LoopInterval())
	defer ticker.Stop()

	log.Info().
		Strs("symbols", e.Config.Engine.Symbols).
		Dur("interval", e.Config.LoopInterval()).
		Str("profile", e.Config.ActiveProfile).
		Msg("Trading engine running")

	for {
		select {
		case <-ctx.Done():
			return e.shutdown()
		case <-e.killCh:
			e.closeAllPositions(context.Background())
			return e.shutdown()
		case <-ticker.C:
			if e.isPaused() {
				continue
			}
			e.RunCycle(ctx)
		}
	}
}

// shutdown completes the lifecycle with a forced flush so the recovery gap is
// as small as an in-flight cycle.
func (e *Engine) shutdown() error {
	if err := e.life.to(StateShuttingDown); err != nil {
		return err
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := e.States.Persist(flushCtx, true); err != nil {
		log.Error().Err(err).Msg("Final snapshot flush failed")
	}
	log.Info().Msg("Trading engine stopped")
	return e.life.to(StateStopped)
}

// Pause suspends evaluation cycles without tearing anything down.
func (e *Engine) Pause() error {
	if err := e.life.to(StatePaused); err != nil {
		return err
	}
	e.pauseMu.Lock()
	e.paused = true
	e.pauseMu.Unlock()
	log.Warn().Msg("Trading engine paused")
	return nil
}

// Resume restarts evaluation cycles.
func (e *Engine) Resume() error {
	if err := e.life.to(StateRunning); err != nil {
		return err
	}
	e.pauseMu.Lock()
	e.paused = false
	e.pauseMu.Unlock()
	log.Warn().Msg("Trading engine resumed")
	return nil
}

// KillSwitch closes every open position and stops the engine. Idempotent.
func (e *Engine) KillSwitch() {
	e.killOnce.Do(func() {
		log.Error().Msg("Kill switch engaged: flattening all positions")
		close(e.killCh)
	})
}

func (e *Engine) isPaused() bool {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	return e.paused
}

// RunCycle performs one full evaluation pass. Exported for the test harness
// and for manual single-step operation.
func (e *Engine) RunCycle(ctx context.Context) {
	started := time.Now()
	defer func() {
		e.Metrics.LoopDuration.Observe(time.Since(started).Seconds())
		e.updateGauges()
	}()

	e.refreshMarketData(ctx)

	for _, symbol := range e.Config.Engine.Symbols {
		e.evaluateSymbol(ctx, symbol)
	}

	e.applyTrailingStops()

	wrote, err := e.States.PersistIfDirty(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Persist after cycle failed")
	} else if wrote {
		e.Metrics.SnapshotPersists.Inc()
	}
}

// refreshMarketData pulls quotes through the guarded gateway into the cache.
// A failed fetch leaves the cache serving its last value with a stale flag;
// the cycle continues either way.
func (e *Engine) refreshMarketData(ctx context.Context) {
	for _, symbol := range e.Config.Engine.Symbols {
		quote, err := e.Gateway.GetQuote(ctx, symbol)
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				e.Metrics.RateLimitWaits.Inc()
			}
			log.Warn().Err(err).Str("symbol", symbol).Msg("Quote fetch failed, relying on cache")
			continue
		}
		e.Cache.SetQuote(quote)
		last, _ := quote.Last.Float64()
		e.Cache.AppendCandle(symbol, domain.Candle{
			Start: quote.Timestamp,
			Open:  last, High: last, Low: last, Close: last,
		})
	}
}

// evaluateSymbol runs every strategy concurrently, aggregates, and executes.
func (e *Engine) evaluateSymbol(ctx context.Context, symbol string) {
	quote, ok := e.Cache.GetQuote(symbol)
	if !ok {
		// Never seen a quote: trading on nothing is not an option.
		log.Debug().Str("symbol", symbol).Msg("No market data, skipping symbol")
		e.Metrics.CacheMisses.Inc()
		return
	}
	e.Metrics.CacheHits.Inc()

	view := signals.MarketView{
		Symbol:  symbol,
		Quote:   quote,
		Candles: e.Cache.Candles(symbol),
	}
	if pos, holds := e.Book.Position(symbol); holds {
		e.Book.MarkPrice(symbol, quote.Last)
		pos.CurrentPrice = quote.Last
		view.Position = &pos
	}

	strategies := e.Registry.All()
	collected := make([]domain.Signal, len(strategies))
	errs := make([]error, len(strategies))

	var wg sync.WaitGroup
	for i, strat := range strategies {
		wg.Add(1)
		go func(i int, strat signals.Strategy) {
			defer wg.Done()
			collected[i], errs[i] = strat.Evaluate(ctx, view)
		}(i, strat)
	}
	wg.Wait()

	sigs := make([]domain.Signal, 0, len(collected))
	for i, err := range errs {
		if err != nil {
			log.Warn().Err(err).Str("strategy", strategies[i].Name()).Str("symbol", symbol).Msg("Strategy evaluation failed")
			continue
		}
		sigs = append(sigs, collected[i])
	}
	if len(sigs) == 0 {
		return
	}

	decision := e.Aggregator.Decide(symbol, sigs, view.Position)
	e.Metrics.DecisionsTotal.WithLabelValues(string(decision.Action)).Inc()
	if decision.Action == domain.Hold {
		return
	}

	result := e.Executor.ExecuteTrade(ctx, portfolio.ExecRequest{
		Symbol:   symbol,
		Decision: decision,
		Quote:    quote,
		ATR:      risk.ATR(view.Candles, atrWindow),
	})
	e.Metrics.TradesTotal.WithLabelValues(string(result.Status)).Inc()
	if result.Status == portfolio.StatusFailed {
		e.Metrics.OrdersFailed.Inc()
	}
	if errors.Is(result.Err, domain.ErrRateLimited) {
		e.Metrics.RateLimitWaits.Inc()
	}
}

// applyTrailingStops moves stops to breakeven once price covers half the
// distance to target.
func (e *Engine) applyTrailingStops() {
	for symbol, pos := range e.Book.Positions() {
		if stop, moved := risk.TrailStop(pos); moved {
			e.Book.SetStop(symbol, stop)
			e.Book.MarkDirty()
			log.Info().Str("symbol", symbol).Str("stop", stop.String()).Msg("Trailing stop moved to breakeven")
		}
	}
}

// closeAllPositions flattens the book through the normal execution path, so
// every exit is risk-exempt, guarded, and journaled like any other trade.
func (e *Engine) closeAllPositions(ctx context.Context) {
	for symbol, pos := range e.Book.Positions() {
		exitSide := domain.Sell
		if pos.Qty.Sign() < 0 {
			exitSide = domain.Buy
		}
		quote, ok := e.Cache.GetQuote(symbol)
		if !ok {
			quote = domain.Quote{Symbol: symbol, Last: pos.CurrentPrice, Timestamp: time.Now().UTC()}
		}
		result := e.Executor.ExecuteTrade(ctx, portfolio.ExecRequest{
			Symbol: symbol,
			Decision: domain.Decision{
				Symbol:       symbol,
				Action:       exitSide,
				Confidence:   1,
				PriorityExit: true,
			},
			Quote: quote,
			ATR:   risk.ATR(e.Cache.Candles(symbol), atrWindow),
		})
		if result.Status != portfolio.StatusExecuted {
			log.Error().Str("symbol", symbol).Str("reason", result.Reason).Msg("Kill switch failed to flatten position")
		}
	}
}

// OnTrade is the executor callback: fan out, journal, count.
func (e *Engine) OnTrade(trade domain.Trade) {
	e.Bus.Publish(trade)
	if err := e.Journal.Insert(context.Background(), trade); err != nil {
		log.Warn().Err(err).Str("trade", trade.ID).Msg("Trade journal insert failed")
	}
}

func (e *Engine) updateGauges() {
	equity, _ := e.Book.Equity().Float64()
	cash, _ := e.Book.Cash().Float64()
	e.Metrics.PortfolioEquity.Set(equity)
	e.Metrics.PortfolioCash.Set(cash)
	e.Metrics.OpenPositions.Set(float64(e.Book.OpenPositions()))
}

// PortfolioSnapshot is the read-only feed for the dashboard.
func (e *Engine) PortfolioSnapshot() domain.Snapshot {
	snap := e.Book.Snapshot()
	snap.Version = e.States.Version()
	return snap
}
