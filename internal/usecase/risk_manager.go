package usecase

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vitos/spot_trend_bot/internal/domain"
	"go.uber.org/zap"
)

// Block reasons, in gating order.
const (
	BlockPaused         = "paused"
	BlockKillSwitch     = "kill-switch"
	BlockCooldown       = "cooldown"
	BlockDailyLossLimit = "daily-loss-limit"
	BlockNoSignal       = "no-signal"
	BlockBelowMinimum   = "below-minimum-size"
)

// SizedOrderPlan is the Risk Manager's output for an accepted signal.
type SizedOrderPlan struct {
	EntryPrice  float64 `json:"entry_price"`
	Quantity    float64 `json:"quantity"`
	StopLoss    float64 `json:"stop_loss"`
	TakeProfit1 float64 `json:"take_profit_1"`
	TakeProfit2 float64 `json:"take_profit_2"`
	RiskAmount  float64 `json:"risk_amount"`
}

// Block is an expected, logged gating outcome. It is not an error.
type Block struct {
	Reason string `json:"reason"`
}

// CloseOutcome reports what the post-trade update triggered, so the caller can
// raise alerts.
type CloseOutcome struct {
	CooldownStarted   bool
	KillSwitchTripped bool
	DailyLimitHit     bool
}

type RiskConfig struct {
	RiskPerTradePct      float64
	DailyLossLimitPct    float64
	StopLossATRMult      float64
	TakeProfit1ATRMult   float64
	TakeProfit2ATRMult   float64
	MaxDrawdownPct       float64 // fraction of peak equity
	MaxConsecutiveLosses int
	CooldownDuration     time.Duration
	MinNotional          float64
	MaxPositionPct       float64
	MaxRiskMultiplier    float64
	LargeLossPct         float64 // fraction of equity that counts as a "large loss"
	TrailingWindow       int
}

type tradeResult struct {
	pnl       float64
	returnPct float64
	win       bool
	largeLoss bool
}

// RiskManager owns the account-level risk state. The evaluation cycle is its
// only writer; snapshot reads go through their own lock and never wait on a
// running cycle.
type RiskManager struct {
	cfg     RiskConfig
	loc     *time.Location
	lotStep float64
	logger  *zap.Logger

	mu               sync.RWMutex
	state            domain.RiskState
	dayOpen          time.Time
	window           []tradeResult
	dailyLimitPaused bool
	now              func() time.Time // for testing
}

func NewRiskManager(cfg RiskConfig, equity float64, loc *time.Location, logger *zap.Logger) *RiskManager {
	if loc == nil {
		loc = time.UTC
	}
	m := &RiskManager{
		cfg:     cfg,
		loc:     loc,
		lotStep: 0.001,
		logger:  logger,
		now:     time.Now,
	}
	m.state = domain.RiskState{
		Mode:           domain.ModeActive,
		Equity:         equity,
		PeakEquity:     equity,
		DayStartEquity: equity,
		RiskMultiplier: 1.0,
	}
	m.dayOpen = startOfDay(m.now().In(loc))
	return m
}

// SetLotStep updates the exchange lot step used to floor quantities.
func (m *RiskManager) SetLotStep(step float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if step > 0 {
		m.lotStep = step
	}
}

// Evaluate gates and sizes a signal. Exactly one of plan and block is non-nil
// unless err reports an invariant violation.
func (m *RiskManager) Evaluate(sig *Signal, snap *IndicatorSnapshot) (*SizedOrderPlan, *Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	// An elapsed cooldown clears the streak; the counter resets only after
	// the cooldown, not before.
	if !m.state.CooldownUntil.IsZero() && !now.Before(m.state.CooldownUntil) {
		m.state.CooldownUntil = time.Time{}
		m.state.ConsecutiveLosses = 0
	}

	if block := m.gate(sig, now); block != nil {
		m.state.LastBlockReason = block.Reason
		return nil, block, nil
	}

	plan, block, err := m.size(sig, snap)
	if err != nil {
		return nil, nil, err
	}
	if block != nil {
		m.state.LastBlockReason = block.Reason
		return nil, block, nil
	}
	m.state.LastBlockReason = ""
	return plan, nil, nil
}

// gate applies the short-circuit gating chain; the first failing gate wins.
func (m *RiskManager) gate(sig *Signal, now time.Time) *Block {
	if m.state.Mode != domain.ModeActive {
		return &Block{Reason: BlockPaused}
	}
	if m.state.KillSwitchTripped {
		return &Block{Reason: BlockKillSwitch}
	}
	if m.state.InCooldown(now) {
		return &Block{Reason: BlockCooldown}
	}
	if m.state.DailyPnL <= -m.state.Equity*m.cfg.DailyLossLimitPct {
		// Forced pause holds until the next daily reset.
		m.state.Mode = domain.ModePaused
		m.dailyLimitPaused = true
		return &Block{Reason: BlockDailyLossLimit}
	}
	if sig.Direction != DirectionLong {
		return &Block{Reason: BlockNoSignal}
	}
	return nil
}

func (m *RiskManager) size(sig *Signal, snap *IndicatorSnapshot) (*SizedOrderPlan, *Block, error) {
	entry := snap.Close
	stop := entry - snap.ATR*m.cfg.StopLossATRMult
	if stop <= 0 {
		stop = entry * 0.95
	}
	if stop >= entry {
		return nil, nil, &domain.InvariantViolation{
			Msg: fmt.Sprintf("stop %.4f not below entry %.4f", stop, entry),
		}
	}

	mult := m.effectiveMultiplier(sig.Quality)
	riskAmount := m.state.Equity * m.cfg.RiskPerTradePct * mult
	qty := riskAmount / (entry - stop)

	if maxQty := m.cfg.MaxPositionPct * m.state.Equity / entry; qty > maxQty {
		qty = maxQty
	}
	if m.lotStep > 0 {
		qty = math.Floor(qty/m.lotStep) * m.lotStep
	}
	if qty < 0 {
		return nil, nil, &domain.InvariantViolation{
			Msg: fmt.Sprintf("negative quantity %.8f", qty),
		}
	}
	if qty*entry < m.cfg.MinNotional || qty < m.lotStep {
		return nil, &Block{Reason: BlockBelowMinimum}, nil
	}

	return &SizedOrderPlan{
		EntryPrice:  entry,
		Quantity:    qty,
		StopLoss:    stop,
		TakeProfit1: entry + snap.ATR*m.cfg.TakeProfit1ATRMult,
		TakeProfit2: entry + snap.ATR*m.cfg.TakeProfit2ATRMult,
		RiskAmount:  riskAmount,
	}, nil, nil
}

// effectiveMultiplier scales the trailing-window multiplier by signal quality
// and halves it after two straight losses. Callers hold the lock.
func (m *RiskManager) effectiveMultiplier(quality float64) float64 {
	mult := m.state.RiskMultiplier
	switch {
	case quality >= 80:
		mult *= 1.2
	case quality < 50:
		mult *= 0.7
	}
	if m.lastTwoWereLosses() {
		mult /= 2
	}
	if mult > m.cfg.MaxRiskMultiplier {
		mult = m.cfg.MaxRiskMultiplier
	}
	if mult < 0 {
		mult = 0
	}
	return mult
}

func (m *RiskManager) lastTwoWereLosses() bool {
	n := len(m.window)
	return n >= 2 && !m.window[n-1].win && !m.window[n-2].win
}

// OnPositionClosed consumes a closed position: updates equity and daily P&L,
// maintains the loss streak and cooldown, recomputes the risk multiplier from
// the trailing window, and checks the drawdown kill switch.
func (m *RiskManager) OnPositionClosed(pos *domain.Position) CloseOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out CloseOutcome
	now := m.now()
	pnl := pos.RealizedPnL

	m.state.Equity += pnl
	if m.state.Equity > m.state.PeakEquity {
		m.state.PeakEquity = m.state.Equity
	}
	m.state.DailyPnL += pnl
	m.state.TradesToday++

	win := pnl > 0
	if win {
		m.state.ConsecutiveLosses = 0
	} else {
		m.state.ConsecutiveLosses++
	}

	result := tradeResult{
		pnl:       pnl,
		win:       win,
		largeLoss: pnl < 0 && -pnl > m.state.Equity*m.cfg.LargeLossPct,
	}
	if m.state.Equity > 0 {
		result.returnPct = pnl / m.state.Equity
	}
	m.window = append(m.window, result)
	if len(m.window) > m.cfg.TrailingWindow {
		m.window = m.window[1:]
	}

	// Pattern escalation: repeated large losses force the cooldown even if
	// the raw streak has not reached the limit.
	if m.countLargeLosses() >= 3 {
		m.state.ConsecutiveLosses = m.cfg.MaxConsecutiveLosses
	}

	if m.state.ConsecutiveLosses >= m.cfg.MaxConsecutiveLosses && m.state.CooldownUntil.IsZero() {
		m.state.CooldownUntil = now.Add(m.cfg.CooldownDuration)
		out.CooldownStarted = true
		m.logger.Warn("loss streak cooldown started",
			zap.Int("consecutive_losses", m.state.ConsecutiveLosses),
			zap.Time("cooldown_until", m.state.CooldownUntil))
	}

	m.state.RiskMultiplier = m.baseMultiplier()

	if m.state.DailyPnL <= -m.state.Equity*m.cfg.DailyLossLimitPct && m.state.Mode == domain.ModeActive {
		m.state.Mode = domain.ModePaused
		m.dailyLimitPaused = true
		out.DailyLimitHit = true
		m.logger.Warn("daily loss limit hit, trading paused",
			zap.Float64("daily_pnl", m.state.DailyPnL))
	}

	if m.checkKillSwitch() {
		out.KillSwitchTripped = true
	}
	return out
}

func (m *RiskManager) countLargeLosses() int {
	n := 0
	for _, r := range m.window {
		if r.largeLoss {
			n++
		}
	}
	return n
}

// baseMultiplier derives the trailing-window risk multiplier. With fewer than
// five closed trades there is nothing to scale on. Callers hold the lock.
func (m *RiskManager) baseMultiplier() float64 {
	if len(m.window) < 5 {
		return 1.0
	}
	wins := 0
	recent := 0.0
	for _, r := range m.window {
		if r.win {
			wins++
		}
		recent += r.returnPct
	}
	winRate := float64(wins) / float64(len(m.window))

	switch {
	case winRate < 0.4:
		return 0.5
	case recent < -0.05:
		return 0.7
	case winRate > 0.6 && recent > 0.02:
		return 1.2
	}
	return 1.0
}

// checkKillSwitch trips on drawdown from peak. Callers hold the lock.
func (m *RiskManager) checkKillSwitch() bool {
	if m.state.KillSwitchTripped || m.state.PeakEquity <= 0 {
		return false
	}
	if m.state.DrawdownPct() >= m.cfg.MaxDrawdownPct {
		m.state.KillSwitchTripped = true
		m.state.Mode = domain.ModePaused
		m.logger.Error("drawdown kill switch tripped",
			zap.Float64("equity", m.state.Equity),
			zap.Float64("peak_equity", m.state.PeakEquity),
			zap.Float64("drawdown_pct", m.state.DrawdownPct()*100))
		return true
	}
	return false
}

// SyncEquity applies an external equity reading (exchange balance poll).
func (m *RiskManager) SyncEquity(equity float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Equity = equity
	if equity > m.state.PeakEquity {
		m.state.PeakEquity = equity
	}
	if m.state.DayStartEquity == 0 {
		m.state.DayStartEquity = equity
	}
	return m.checkKillSwitch()
}

// RolloverIfNeeded resets the daily counters when the trading day changes in
// the configured timezone. A daily-limit pause lifts at the boundary; the
// kill switch does not.
func (m *RiskManager) RolloverIfNeeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().In(m.loc)
	if sameDay(m.dayOpen, now) {
		return false
	}
	m.dayOpen = startOfDay(now)
	m.state.DayStartEquity = m.state.Equity
	m.state.DailyPnL = 0
	m.state.TradesToday = 0
	if m.dailyLimitPaused && !m.state.KillSwitchTripped {
		m.state.Mode = domain.ModeActive
		m.dailyLimitPaused = false
	}
	m.logger.Info("trading day rolled over",
		zap.Float64("day_start_equity", m.state.DayStartEquity))
	return true
}

// Pause blocks new entries. Open positions are not touched.
func (m *RiskManager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Mode = domain.ModePaused
}

// Resume re-enables entries, clearing a manual pause, a daily-limit pause and
// a tripped kill switch (operator override after investigation).
func (m *RiskManager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Mode = domain.ModeActive
	m.state.KillSwitchTripped = false
	m.dailyLimitPaused = false
}

// Snapshot returns a copy of the risk state for observers.
func (m *RiskManager) Snapshot() domain.RiskState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
