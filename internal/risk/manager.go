package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/stratrun/stratrun/internal/config"
	"github.com/stratrun/stratrun/internal/domain"
)

// Request describes a prospective trade presented to the risk gate.
type Request struct {
	Symbol string
	Side   domain.Action
	Entry  float64
	ATR    float64
	// Closing marks an exit of an existing position. Exits carry their own
	// quantity and must never be blocked by reward:risk or exposure limits.
	Closing bool
	Qty     decimal.Decimal
}

// Account is the portfolio's read-only state at evaluation time.
type Account struct {
	Equity         float64
	OpenPositions  int
	HoldsSymbol    bool
	GrossNotional  float64
	SectorNotional map[string]float64
}

// Approved is the sized, leveled trade the gate lets through.
type Approved struct {
	Qty    decimal.Decimal
	Stop   decimal.Decimal
	Target decimal.Decimal
	Regime domain.VolRegime
}

// Manager applies the sizing formula and the portfolio limits. It owns the
// per-symbol daily trade counter, which is its only mutable state.
type Manager struct {
	cfg     config.RiskConfig
	sectors map[string]string

	mu          sync.Mutex
	tradesDay   time.Time
	tradeCounts map[string]int
}

// NewManager builds a manager from configuration. sectors maps symbol to
// sector label for the exposure limit; unmapped symbols fall into "other".
func NewManager(cfg config.RiskConfig, sectors map[string]string) *Manager {
	return &Manager{
		cfg:         cfg,
		sectors:     sectors,
		tradeCounts: make(map[string]int),
	}
}

func (m *Manager) sector(symbol string) (string, bool) {
	s, ok := m.sectors[symbol]
	return s, ok
}

// Approve validates and sizes the request against the account state. On
// decline it returns a typed *domain.RiskRejected and the trade must not run.
func (m *Manager) Approve(req Request, acct Account) (Approved, error) {
	if req.Symbol == "" {
		return Approved{}, &domain.ValidationError{Field: "symbol", Reason: "required"}
	}
	if req.Side != domain.Buy && req.Side != domain.Sell {
		return Approved{}, &domain.ValidationError{Field: "side", Reason: "must be BUY or SELL"}
	}
	if req.Entry <= 0 {
		return Approved{}, &domain.ValidationError{Field: "entry", Reason: "must be positive"}
	}

	// An exit must never be blocked: pass the position's own quantity through
	// with no reward:risk or exposure checks.
	if req.Closing {
		if req.Qty.Sign() <= 0 {
			return Approved{}, &domain.ValidationError{Field: "qty", Reason: "closing qty must be positive"}
		}
		return Approved{Qty: req.Qty, Regime: ClassifyRegime(req.ATR, req.Entry)}, nil
	}

	if req.ATR <= 0 {
		// No volatility estimate means no stop distance; fail closed.
		return Approved{}, &domain.RiskRejected{Rule: "volatility", Reason: "no ATR available for sizing"}
	}

	stop, target := m.Levels(req.Entry, req.ATR, req.Side)
	riskPerUnit := math.Abs(req.Entry - stop)
	if riskPerUnit == 0 {
		return Approved{}, &domain.RiskRejected{Rule: "volatility", Reason: "zero stop distance"}
	}

	rr := math.Abs(target-req.Entry) / riskPerUnit
	if rr < m.cfg.MinRewardRisk {
		return Approved{}, &domain.RiskRejected{
			Rule:   "reward_risk",
			Reason: fmt.Sprintf("reward:risk %.2f below minimum %.2f", rr, m.cfg.MinRewardRisk),
		}
	}

	regime := ClassifyRegime(req.ATR, req.Entry)
	units := math.Floor(acct.Equity * m.cfg.RiskFraction / riskPerUnit)
	units = math.Floor(units*regime.SizeFactor()/m.cfg.LotSize) * m.cfg.LotSize
	if units < m.cfg.LotSize {
		return Approved{}, &domain.RiskRejected{
			Rule:   "min_size",
			Reason: fmt.Sprintf("sized %.4f units, below one lot of %.4f", units, m.cfg.LotSize),
		}
	}

	if !acct.HoldsSymbol && acct.OpenPositions >= m.cfg.MaxOpenPositions {
		return Approved{}, &domain.RiskRejected{
			Rule:   "max_open_positions",
			Reason: fmt.Sprintf("%d positions already open (max %d)", acct.OpenPositions, m.cfg.MaxOpenPositions),
		}
	}

	if n := m.tradesToday(req.Symbol); n >= m.cfg.MaxTradesPerSymbolPerDay {
		return Approved{}, &domain.RiskRejected{
			Rule:   "max_trades_per_symbol",
			Reason: fmt.Sprintf("%d trades in %s today (max %d)", n, req.Symbol, m.cfg.MaxTradesPerSymbolPerDay),
		}
	}

	notional := units * req.Entry
	if acct.GrossNotional+notional > m.cfg.MaxGrossNotional {
		return Approved{}, &domain.RiskRejected{
			Rule:   "max_gross_notional",
			Reason: fmt.Sprintf("gross notional %.0f would exceed %.0f", acct.GrossNotional+notional, m.cfg.MaxGrossNotional),
		}
	}

	// The sector cap only binds symbols with a configured sector mapping.
	if sector, ok := m.sector(req.Symbol); ok && acct.Equity > 0 {
		exposure := (acct.SectorNotional[sector] + notional) / acct.Equity
		if exposure > m.cfg.MaxSectorExposurePct {
			return Approved{}, &domain.RiskRejected{
				Rule:   "max_sector_exposure",
				Reason: fmt.Sprintf("sector %s exposure %.2f would exceed %.2f", sector, exposure, m.cfg.MaxSectorExposurePct),
			}
		}
	}

	log.Debug().
		Str("symbol", req.Symbol).
		Float64("units", units).
		Str("regime", string(regime)).
		Float64("rr", rr).
		Msg("Trade approved by risk gate")

	return Approved{
		Qty:    decimal.NewFromFloat(units),
		Stop:   decimal.NewFromFloat(stop),
		Target: decimal.NewFromFloat(target),
		Regime: regime,
	}, nil
}

// Levels derives stop and target prices from ATR multiples around the entry.
func (m *Manager) Levels(entry, atr float64, side domain.Action) (stop, target float64) {
	if side == domain.Buy {
		return entry - m.cfg.ATRStopMult*atr, entry + m.cfg.ATRTargetMult*atr
	}
	return entry + m.cfg.ATRStopMult*atr, entry - m.cfg.ATRTargetMult*atr
}

// RecordTrade counts an executed entry toward the per-symbol daily cap.
func (m *Manager) RecordTrade(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
	m.tradeCounts[symbol]++
}

func (m *Manager) tradesToday(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()
	return m.tradeCounts[symbol]
}

// rolloverLocked clears the counter at UTC midnight. Caller holds mu.
func (m *Manager) rolloverLocked() {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if !m.tradesDay.Equal(today) {
		m.tradesDay = today
		m.tradeCounts = make(map[string]int)
	}
}

// TrailStop applies the breakeven rule: once price has covered half the
// distance from entry to target, the stop moves to the entry price so the
// position can no longer realize a loss. Returns the updated stop and whether
// it moved.
func TrailStop(pos domain.Position) (decimal.Decimal, bool) {
	if pos.Qty.IsZero() || pos.Target.IsZero() {
		return pos.Stop, false
	}

	entry, _ := pos.AvgEntry.Float64()
	target, _ := pos.Target.Float64()
	price, _ := pos.CurrentPrice.Float64()
	stop, _ := pos.Stop.Float64()

	halfway := entry + (target-entry)/2
	long := pos.Qty.Sign() > 0

	reached := (long && price >= halfway) || (!long && price <= halfway)
	improves := (long && stop < entry) || (!long && stop > entry)
	if reached && improves {
		return pos.AvgEntry, true
	}
	return pos.Stop, false
}
