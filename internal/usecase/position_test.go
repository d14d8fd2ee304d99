package usecase

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitos/spot_trend_bot/internal/domain"
	"go.uber.org/zap"
)

func openPosition() *domain.Position {
	return &domain.Position{
		ID:          1,
		Symbol:      "SOLUSDT",
		EntryPrice:  100,
		Quantity:    10,
		StopLoss:    95,
		TakeProfit1: 103,
		TakeProfit2: 106,
		Status:      domain.StatusOpen,
	}
}

func calmTrendSnap() *IndicatorSnapshot {
	// Trend intact: close above EMA20, EMA20 above EMA50.
	return &IndicatorSnapshot{Close: 101, EMA20: 100, EMA50: 98}
}

func TestEvaluateExitStopBeatsTargets(t *testing.T) {
	pos := openPosition()
	// The candle touches the stop and both targets; the stop wins.
	candle := domain.Candle{Low: 94, High: 107, Close: 100}

	trigger := EvaluateExit(pos, candle, calmTrendSnap())
	if trigger == nil {
		t.Fatal("expected an exit trigger")
	}
	if trigger.Reason != domain.ExitStopLoss {
		t.Errorf("expected stop loss, got %s", trigger.Reason)
	}
	if trigger.Price != pos.StopLoss {
		t.Errorf("expected exit at stop %.2f, got %.2f", pos.StopLoss, trigger.Price)
	}
}

func TestEvaluateExitTP2BeatsTP1(t *testing.T) {
	pos := openPosition()
	candle := domain.Candle{Low: 99, High: 107, Close: 105}

	trigger := EvaluateExit(pos, candle, calmTrendSnap())
	if trigger == nil || trigger.Reason != domain.ExitTakeProfit2 {
		t.Fatalf("expected TP2, got %+v", trigger)
	}
	if trigger.Price != pos.TakeProfit2 {
		t.Errorf("expected exit at %.2f, got %.2f", pos.TakeProfit2, trigger.Price)
	}
}

func TestEvaluateExitTP1(t *testing.T) {
	pos := openPosition()
	candle := domain.Candle{Low: 99, High: 104, Close: 102}

	trigger := EvaluateExit(pos, candle, calmTrendSnap())
	if trigger == nil || trigger.Reason != domain.ExitTakeProfit1 {
		t.Fatalf("expected TP1, got %+v", trigger)
	}
}

func TestEvaluateExitTrend(t *testing.T) {
	pos := openPosition()
	candle := domain.Candle{Low: 97, High: 99, Close: 97.5}

	t.Run("close below ema20", func(t *testing.T) {
		snap := &IndicatorSnapshot{Close: 97.5, EMA20: 99, EMA50: 98}
		trigger := EvaluateExit(pos, candle, snap)
		if trigger == nil || trigger.Reason != domain.ExitTrend {
			t.Fatalf("expected trend exit, got %+v", trigger)
		}
		if trigger.Price != candle.Close {
			t.Errorf("expected exit at candle close %.2f, got %.2f", candle.Close, trigger.Price)
		}
	})

	t.Run("ema cross down", func(t *testing.T) {
		snap := &IndicatorSnapshot{Close: 99.5, EMA20: 98, EMA50: 98.5}
		trigger := EvaluateExit(pos, candle, snap)
		if trigger == nil || trigger.Reason != domain.ExitTrend {
			t.Fatalf("expected trend exit, got %+v", trigger)
		}
	})
}

func TestEvaluateExitNone(t *testing.T) {
	pos := openPosition()
	candle := domain.Candle{Low: 99, High: 102, Close: 101}

	if trigger := EvaluateExit(pos, candle, calmTrendSnap()); trigger != nil {
		t.Fatalf("expected no exit, got %+v", trigger)
	}
}

func TestEvaluateExitIgnoresClosedPosition(t *testing.T) {
	pos := openPosition()
	pos.Status = domain.StatusClosed
	candle := domain.Candle{Low: 10, High: 200, Close: 50}

	if trigger := EvaluateExit(pos, candle, calmTrendSnap()); trigger != nil {
		t.Fatalf("expected nil for a closed position, got %+v", trigger)
	}
}

func TestLifecycleOpenCloseFees(t *testing.T) {
	l := NewPositionLifecycle(0.001, zap.NewNop())

	plan := &SizedOrderPlan{StopLoss: 95, TakeProfit1: 103, TakeProfit2: 106}
	fill := &domain.Fill{Price: 100, Quantity: 10, Time: time.Now()}

	pos, err := l.Open("SOLUSDT", plan, fill)
	require.NoError(t, err)
	require.True(t, l.HasOpen())
	require.Equal(t, domain.StatusOpen, pos.Status)

	closed, err := l.Close(110, domain.ExitTakeProfit2, time.Now())
	require.NoError(t, err)
	require.False(t, l.HasOpen())

	// fee = (100 + 110) * 10 * 0.001 = 2.1
	require.InDelta(t, 2.1, closed.FeePaid, 1e-9)
	require.InDelta(t, 97.9, closed.RealizedPnL, 1e-9)
	require.Equal(t, domain.StatusClosed, closed.Status)
	require.Equal(t, domain.ExitTakeProfit2, closed.ExitReason)
}

func TestLifecycleRejectsSecondOpen(t *testing.T) {
	l := NewPositionLifecycle(0.001, zap.NewNop())
	plan := &SizedOrderPlan{StopLoss: 95, TakeProfit1: 103, TakeProfit2: 106}
	fill := &domain.Fill{Price: 100, Quantity: 10, Time: time.Now()}

	_, err := l.Open("SOLUSDT", plan, fill)
	require.NoError(t, err)

	_, err = l.Open("SOLUSDT", plan, fill)
	var inv *domain.InvariantViolation
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvariantViolation, got %v", err)
	}
}

func TestLifecycleCloseWithoutOpen(t *testing.T) {
	l := NewPositionLifecycle(0.001, zap.NewNop())

	_, err := l.Close(100, domain.ExitManual, time.Now())
	var inv *domain.InvariantViolation
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvariantViolation, got %v", err)
	}
}

func TestLifecycleSnapshotIsCopy(t *testing.T) {
	l := NewPositionLifecycle(0.001, zap.NewNop())
	plan := &SizedOrderPlan{StopLoss: 95, TakeProfit1: 103, TakeProfit2: 106}
	fill := &domain.Fill{Price: 100, Quantity: 10, Time: time.Now()}

	_, err := l.Open("SOLUSDT", plan, fill)
	require.NoError(t, err)

	snap := l.Snapshot()
	snap.StopLoss = 1 // mutating the copy must not touch the live position
	require.InDelta(t, 95, l.Snapshot().StopLoss, 1e-9)
}
