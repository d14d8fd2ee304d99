package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/spot_trend_bot/internal/domain"
	"go.uber.org/zap"
)

// Notifier receives trade and alert events. Implementations must not block
// the evaluation cycle for long.
type Notifier interface {
	NotifyTradeOpened(pos *domain.Position)
	NotifyTradeClosed(pos *domain.Position)
	NotifyAlert(level, message string)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) NotifyTradeOpened(*domain.Position) {}
func (NopNotifier) NotifyTradeClosed(*domain.Position) {}
func (NopNotifier) NotifyAlert(string, string)         {}

const pauseSettingKey = "is_paused"

// Cycles between equity polls; one hour on the 15m timeframe.
const equitySyncEvery = 4

type TradingConfig struct {
	Symbol         string
	Timeframe      string
	Lookback       int
	MaxAPIFailures int
}

// Status is the read-only view served to dashboards and commands.
type Status struct {
	Mode         domain.TradingMode `json:"mode"`
	Risk         domain.RiskState   `json:"risk"`
	OpenPosition *domain.Position   `json:"open_position"`
	APIFailures  int                `json:"api_failures"`
	LastCandle   time.Time          `json:"last_candle"`
}

// TradingService runs the periodic evaluation cycle: indicators, signal, risk
// gate, lifecycle check. A single mutex guarantees at most one cycle in
// flight; pause/resume commands take the same lock so they apply only at
// cycle boundaries.
type TradingService struct {
	cfg       TradingConfig
	exchange  domain.Exchange
	trades    domain.TradeRepository
	alerts    domain.AlertRepository
	settings  domain.SettingRepository
	engine    *IndicatorEngine
	signals   *SignalGenerator
	risk      *RiskManager
	lifecycle *PositionLifecycle
	notifier  Notifier
	logger    *zap.Logger

	mu             sync.Mutex
	lastCandleTime int64
	apiFailures    int
	cycles         int64

	// observability only, guarded separately from the cycle lock
	obsMu       sync.RWMutex
	obsFailures int
	obsLast     time.Time
	obsSnap     *IndicatorSnapshot
	obsRisk     domain.RiskState
	obsPos      *domain.Position
}

func NewTradingService(
	cfg TradingConfig,
	exchange domain.Exchange,
	trades domain.TradeRepository,
	alerts domain.AlertRepository,
	settings domain.SettingRepository,
	signals *SignalGenerator,
	risk *RiskManager,
	lifecycle *PositionLifecycle,
	notifier Notifier,
	logger *zap.Logger,
) *TradingService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	s := &TradingService{
		cfg:       cfg,
		exchange:  exchange,
		trades:    trades,
		alerts:    alerts,
		settings:  settings,
		engine:    NewIndicatorEngine(),
		signals:   signals,
		risk:      risk,
		lifecycle: lifecycle,
		notifier:  notifier,
		logger:    logger,
	}
	s.publishStatus()
	return s
}

// Init restores persisted state and exchange trading rules before the first
// cycle: the pause flag survives restarts, and the lot step comes from the
// symbol rules.
func (s *TradingService) Init(ctx context.Context) error {
	if info, err := s.exchange.GetSymbolInfo(ctx, s.cfg.Symbol); err != nil {
		s.logger.Warn("failed to fetch symbol info, using default lot step", zap.Error(err))
	} else {
		s.risk.SetLotStep(info.LotStep)
	}

	paused, err := s.settings.GetSetting(ctx, pauseSettingKey)
	if err == nil && paused == "true" {
		s.risk.Pause()
		s.logger.Info("restored paused state from settings")
	}

	if equity, err := s.exchange.GetEquity(ctx); err != nil {
		s.logger.Warn("initial equity sync failed", zap.Error(err))
	} else {
		s.risk.SyncEquity(equity)
	}
	s.publishStatus()
	return nil
}

// Run polls for new closed candles until the context is cancelled. Candle
// stream pushes may additionally trigger RunCycle; the cycle lock and the
// candle-time check make the overlap harmless.
func (s *TradingService) Run(ctx context.Context, poll time.Duration) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunCycle(ctx); err != nil {
				var inv *domain.InvariantViolation
				if errors.As(err, &inv) {
					s.logger.Error("evaluation cycle aborted", zap.Error(err))
				} else {
					s.logger.Warn("evaluation cycle failed", zap.Error(err))
				}
			}
		}
	}
}

// RunCycle executes one full evaluation: fetch candles, recompute indicators,
// manage the open position or evaluate an entry. Gateway failures abort the
// cycle before any state mutation; the consecutive-failure counter resets only
// when a whole cycle finishes without one, so a failing order endpoint counts
// toward the tolerance even while candle fetches succeed.
func (s *TradingService) RunCycle(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishStatus()

	err := s.cycle(ctx)
	if err == nil {
		s.resetGatewayFailures()
	}
	return err
}

func (s *TradingService) cycle(ctx context.Context) error {
	s.cycles++
	s.risk.RolloverIfNeeded()

	candles, err := s.exchange.GetCandles(ctx, s.cfg.Symbol, s.cfg.Timeframe, s.cfg.Lookback)
	if err != nil {
		return s.recordGatewayFailure(ctx, "get candles", err)
	}

	if len(candles) == 0 {
		return nil
	}
	last := candles[len(candles)-1]
	if last.Time == s.lastCandleTime {
		return nil // no new closed candle yet
	}

	snap, err := s.engine.Compute(candles)
	if errors.Is(err, domain.ErrInsufficientHistory) {
		s.lastCandleTime = last.Time
		s.setObsLast(last.Time)
		s.logger.Debug("skipping cycle, not enough history", zap.Int("candles", len(candles)))
		return nil
	}
	if err != nil {
		return err
	}
	s.lastCandleTime = last.Time
	s.setObsLast(last.Time)
	s.obsMu.Lock()
	s.obsSnap = snap
	s.obsMu.Unlock()

	if s.cycles%equitySyncEvery == 0 && !s.lifecycle.HasOpen() {
		if equity, eqErr := s.exchange.GetEquity(ctx); eqErr != nil {
			s.logger.Warn("equity sync failed", zap.Error(eqErr))
		} else if s.risk.SyncEquity(equity) {
			s.raiseAlert(ctx, "error", "kill switch tripped on equity sync")
		}
		s.sampleEquity(ctx)
	}

	if s.lifecycle.HasOpen() {
		if trigger := s.lifecycle.CheckExit(last, snap); trigger != nil {
			return s.closePosition(ctx, trigger, last)
		}
		return nil
	}

	return s.evaluateEntry(ctx, candles, snap)
}

func (s *TradingService) evaluateEntry(ctx context.Context, candles []domain.Candle, snap *IndicatorSnapshot) error {
	var prev []domain.Candle
	if n := len(candles); n >= 3 {
		prev = candles[n-3 : n-1]
	}

	sig := s.signals.Evaluate(snap, prev)
	plan, block, err := s.risk.Evaluate(sig, snap)
	if err != nil {
		s.raiseAlert(ctx, "error", err.Error())
		return err
	}
	if block != nil {
		s.logger.Debug("entry blocked",
			zap.String("reason", block.Reason),
			zap.Strings("signal_reasons", sig.Reasons),
			zap.Float64("quality", sig.Quality))
		return nil
	}

	fill, err := s.exchange.MarketBuy(ctx, s.cfg.Symbol, plan.Quantity)
	if err != nil {
		return s.recordGatewayFailure(ctx, "market buy", err)
	}

	pos, err := s.lifecycle.Open(s.cfg.Symbol, plan, fill)
	if err != nil {
		s.raiseAlert(ctx, "error", err.Error())
		return err
	}

	s.notifier.NotifyTradeOpened(pos)
	return nil
}

func (s *TradingService) closePosition(ctx context.Context, trigger *ExitTrigger, candle domain.Candle) error {
	open := s.lifecycle.Snapshot()
	if open == nil {
		return &domain.InvariantViolation{Msg: "exit triggered with no open position"}
	}

	if _, err := s.exchange.MarketSell(ctx, s.cfg.Symbol, open.Quantity); err != nil {
		// Position stays open; the exit re-triggers on the next cycle.
		return s.recordGatewayFailure(ctx, "market sell", err)
	}

	pos, err := s.lifecycle.Close(trigger.Price, trigger.Reason, time.UnixMilli(candle.Time).UTC())
	if err != nil {
		s.raiseAlert(ctx, "error", err.Error())
		return err
	}

	outcome := s.risk.OnPositionClosed(pos)

	if err := s.trades.SaveTrade(ctx, pos); err != nil {
		s.logger.Error("failed to persist closed trade", zap.Error(err))
	}
	s.sampleEquity(ctx)

	if outcome.CooldownStarted {
		s.raiseAlert(ctx, "warn", "consecutive-loss cooldown started")
	}
	if outcome.DailyLimitHit {
		s.persistPause(ctx)
		s.raiseAlert(ctx, "warn", "daily loss limit reached, trading paused")
	}
	if outcome.KillSwitchTripped {
		s.persistPause(ctx)
		s.raiseAlert(ctx, "error", "drawdown kill switch tripped, trading paused")
	}

	s.notifier.NotifyTradeClosed(pos)
	return nil
}

// ClosePositionManually sells the open position at the market and records a
// manual exit. Used by the command interface.
func (s *TradingService) ClosePositionManually(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishStatus()

	open := s.lifecycle.Snapshot()
	if open == nil {
		return nil
	}
	fill, err := s.exchange.MarketSell(ctx, s.cfg.Symbol, open.Quantity)
	if err != nil {
		return s.recordGatewayFailure(ctx, "market sell", err)
	}
	pos, err := s.lifecycle.Close(fill.Price, domain.ExitManual, fill.Time)
	if err != nil {
		return err
	}
	s.risk.OnPositionClosed(pos)
	if err := s.trades.SaveTrade(ctx, pos); err != nil {
		s.logger.Error("failed to persist closed trade", zap.Error(err))
	}
	s.sampleEquity(ctx)
	s.notifier.NotifyTradeClosed(pos)
	return nil
}

// Pause blocks new entries. The open position, if any, keeps its protective
// exits; pausing never force-closes.
func (s *TradingService) Pause(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishStatus()
	s.risk.Pause()
	s.persistPause(ctx)
	s.logger.Info("trading paused")
}

// Resume re-enables entries and clears the kill switch.
func (s *TradingService) Resume(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishStatus()
	s.risk.Resume()
	if err := s.settings.SetSetting(ctx, pauseSettingKey, "false"); err != nil {
		s.logger.Warn("failed to persist pause flag", zap.Error(err))
	}
	s.logger.Info("trading resumed")
}

// Status returns the last published snapshot without waiting on the cycle
// lock. The risk state and position are captured together at the end of each
// mutation, so a reader never sees a close reflected in one but not the other.
func (s *TradingService) Status() Status {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()

	var pos *domain.Position
	if s.obsPos != nil {
		copied := *s.obsPos
		pos = &copied
	}
	return Status{
		Mode:         s.obsRisk.Mode,
		Risk:         s.obsRisk,
		OpenPosition: pos,
		APIFailures:  s.obsFailures,
		LastCandle:   s.obsLast,
	}
}

// publishStatus captures the risk state and open position as one unit. Called
// with the cycle lock held (or before any cycle can run).
func (s *TradingService) publishStatus() {
	risk := s.risk.Snapshot()
	pos := s.lifecycle.Snapshot()

	s.obsMu.Lock()
	s.obsRisk = risk
	s.obsPos = pos
	s.obsMu.Unlock()
}

// LastIndicators returns the snapshot of the most recent evaluation, or nil
// before the first complete cycle.
func (s *TradingService) LastIndicators() *IndicatorSnapshot {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	if s.obsSnap == nil {
		return nil
	}
	copied := *s.obsSnap
	return &copied
}

func (s *TradingService) recordGatewayFailure(ctx context.Context, op string, err error) error {
	s.apiFailures++
	s.obsMu.Lock()
	s.obsFailures = s.apiFailures
	s.obsMu.Unlock()

	s.logger.Warn("gateway failure",
		zap.String("op", op),
		zap.Int("consecutive", s.apiFailures),
		zap.Error(err))

	var gw *domain.GatewayError
	if errors.As(err, &gw) && gw.Fatal {
		s.risk.Pause()
		s.persistPause(ctx)
		s.raiseAlert(ctx, "error", fmt.Sprintf("fatal gateway error, trading paused: %v", err))
		return err
	}

	if s.apiFailures >= s.cfg.MaxAPIFailures {
		s.risk.Pause()
		s.persistPause(ctx)
		s.raiseAlert(ctx, "error",
			fmt.Sprintf("%d consecutive gateway failures, trading paused", s.apiFailures))
	}
	if gw != nil {
		return gw
	}
	return &domain.GatewayError{Op: op, Err: err}
}

func (s *TradingService) resetGatewayFailures() {
	if s.apiFailures == 0 {
		return
	}
	s.logger.Info("gateway recovered", zap.Int("after_failures", s.apiFailures))
	s.apiFailures = 0
	s.obsMu.Lock()
	s.obsFailures = 0
	s.obsMu.Unlock()
}

func (s *TradingService) sampleEquity(ctx context.Context) {
	state := s.risk.Snapshot()
	sample := &domain.EquitySample{Time: time.Now().UTC(), Equity: state.Equity}
	if err := s.trades.SaveEquitySample(ctx, sample); err != nil {
		s.logger.Warn("failed to persist equity sample", zap.Error(err))
	}
}

func (s *TradingService) persistPause(ctx context.Context) {
	if err := s.settings.SetSetting(ctx, pauseSettingKey, "true"); err != nil {
		s.logger.Warn("failed to persist pause flag", zap.Error(err))
	}
}

func (s *TradingService) raiseAlert(ctx context.Context, level, message string) {
	alert := &domain.Alert{Level: level, Message: message, CreatedAt: time.Now().UTC()}
	if err := s.alerts.SaveAlert(ctx, alert); err != nil {
		s.logger.Warn("failed to persist alert", zap.Error(err))
	}
	s.notifier.NotifyAlert(level, message)
}

func (s *TradingService) setObsLast(ms int64) {
	s.obsMu.Lock()
	s.obsLast = time.UnixMilli(ms).UTC()
	s.obsMu.Unlock()
}
