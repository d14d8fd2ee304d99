package usecase

import (
	"fmt"
	"sync"
	"time"

	"github.com/vitos/spot_trend_bot/internal/domain"
	"go.uber.org/zap"
)

// ExitTrigger is the decision of one lifecycle evaluation: which protective
// exit fired and at what price.
type ExitTrigger struct {
	Reason string
	Price  float64
}

// EvaluateExit is the pure transition function for an open position against a
// closed candle and the indicator snapshot at that candle. The priority order
// is fixed: a candle touching both the stop and a target resolves to the stop,
// because intrabar ordering cannot be recovered from OHLC data.
//
// Take-profit policy: hitting either target closes the full position.
func EvaluateExit(pos *domain.Position, candle domain.Candle, snap *IndicatorSnapshot) *ExitTrigger {
	if pos == nil || pos.Status != domain.StatusOpen {
		return nil
	}

	if candle.Low <= pos.StopLoss {
		return &ExitTrigger{Reason: domain.ExitStopLoss, Price: pos.StopLoss}
	}
	if candle.High >= pos.TakeProfit2 {
		return &ExitTrigger{Reason: domain.ExitTakeProfit2, Price: pos.TakeProfit2}
	}
	if candle.High >= pos.TakeProfit1 {
		return &ExitTrigger{Reason: domain.ExitTakeProfit1, Price: pos.TakeProfit1}
	}
	if snap != nil && (snap.Close < snap.EMA20 || snap.EMA20 < snap.EMA50) {
		return &ExitTrigger{Reason: domain.ExitTrend, Price: candle.Close}
	}
	return nil
}

// PositionLifecycle tracks the single open position for the traded symbol.
// The evaluation cycle is the only mutator; observers get copies.
type PositionLifecycle struct {
	feePct float64
	logger *zap.Logger

	mu     sync.RWMutex
	open   *domain.Position
	nextID int64
}

func NewPositionLifecycle(feePct float64, logger *zap.Logger) *PositionLifecycle {
	return &PositionLifecycle{
		feePct: feePct,
		logger: logger,
		nextID: time.Now().Unix(),
	}
}

// Open creates the position record from a sized plan and the actual fill.
// A second concurrent open position is a logic defect, not a market condition.
func (l *PositionLifecycle) Open(symbol string, plan *SizedOrderPlan, fill *domain.Fill) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open != nil {
		return nil, &domain.InvariantViolation{
			Msg: fmt.Sprintf("position %d already open for %s", l.open.ID, symbol),
		}
	}
	if fill.Quantity <= 0 {
		return nil, &domain.InvariantViolation{
			Msg: fmt.Sprintf("non-positive fill quantity %.8f", fill.Quantity),
		}
	}

	l.nextID++
	pos := &domain.Position{
		ID:          l.nextID,
		Symbol:      symbol,
		EntryTime:   fill.Time,
		EntryPrice:  fill.Price,
		Quantity:    fill.Quantity,
		StopLoss:    plan.StopLoss,
		TakeProfit1: plan.TakeProfit1,
		TakeProfit2: plan.TakeProfit2,
		Status:      domain.StatusOpen,
	}
	l.open = pos

	l.logger.Info("position opened",
		zap.Int64("id", pos.ID),
		zap.String("symbol", symbol),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("qty", pos.Quantity),
		zap.Float64("stop_loss", pos.StopLoss),
		zap.Float64("tp1", pos.TakeProfit1),
		zap.Float64("tp2", pos.TakeProfit2))

	copied := *pos
	return &copied, nil
}

// CheckExit runs the transition function against the latest candle. It does
// not close the position; the caller closes it once the exchange confirms.
func (l *PositionLifecycle) CheckExit(candle domain.Candle, snap *IndicatorSnapshot) *ExitTrigger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return EvaluateExit(l.open, candle, snap)
}

// Close finalizes the open position at exitPrice: fee-adjusted realized P&L,
// terminal status, and ownership handed back to the caller for persistence.
func (l *PositionLifecycle) Close(exitPrice float64, reason string, at time.Time) (*domain.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.open == nil {
		return nil, &domain.InvariantViolation{Msg: "close requested with no open position"}
	}

	pos := l.open
	fee := (pos.EntryPrice + exitPrice) * pos.Quantity * l.feePct
	pos.Status = domain.StatusClosed
	pos.ExitTime = at
	pos.ExitPrice = exitPrice
	pos.ExitReason = reason
	pos.FeePaid = fee
	pos.RealizedPnL = (exitPrice-pos.EntryPrice)*pos.Quantity - fee
	l.open = nil

	l.logger.Info("position closed",
		zap.Int64("id", pos.ID),
		zap.String("reason", reason),
		zap.Float64("exit", exitPrice),
		zap.Float64("pnl", pos.RealizedPnL))

	return pos, nil
}

// HasOpen reports whether a position is currently open.
func (l *PositionLifecycle) HasOpen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.open != nil
}

// Snapshot returns a copy of the open position, or nil when flat.
func (l *PositionLifecycle) Snapshot() *domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.open == nil {
		return nil
	}
	copied := *l.open
	return &copied
}
