package usecase

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vitos/spot_trend_bot/internal/domain"
)

func risingCandles(n int, start float64) []domain.Candle {
	candles := make([]domain.Candle, n)
	for i := range candles {
		c := start + float64(i)
		candles[i] = domain.Candle{
			Time:   int64(i) * 900_000,
			Open:   c - 0.5,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 100,
		}
	}
	return candles
}

func fallingCandles(n int, start float64) []domain.Candle {
	candles := make([]domain.Candle, n)
	for i := range candles {
		c := start - float64(i)
		candles[i] = domain.Candle{
			Time:  int64(i) * 900_000,
			Open:  c + 0.5,
			High:  c + 1,
			Low:   c - 1,
			Close: c,
		}
	}
	return candles
}

func TestComputeInsufficientHistory(t *testing.T) {
	engine := NewIndicatorEngine()

	_, err := engine.Compute(risingCandles(RequiredLookback-1, 100))
	if !errors.Is(err, domain.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}

	_, err = engine.Compute(nil)
	if !errors.Is(err, domain.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory for empty input, got %v", err)
	}
}

func TestComputeUptrend(t *testing.T) {
	engine := NewIndicatorEngine()
	candles := risingCandles(60, 100)

	snap, err := engine.Compute(candles)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if snap.Close != 159 {
		t.Errorf("expected close 159, got %v", snap.Close)
	}
	if snap.EMA20 <= snap.EMA50 {
		t.Errorf("expected EMA20 > EMA50 in an uptrend, got %v <= %v", snap.EMA20, snap.EMA50)
	}
	if snap.Close <= snap.EMA20 {
		t.Errorf("expected close above EMA20, got %v <= %v", snap.Close, snap.EMA20)
	}
	// Monotonic gains have no losses, so RSI saturates.
	require.InDelta(t, 100, snap.RSI, 1e-9)
	if snap.MACD <= 0 {
		t.Errorf("expected positive MACD in an uptrend, got %v", snap.MACD)
	}
	if snap.ATR <= 0 {
		t.Errorf("expected positive ATR, got %v", snap.ATR)
	}
	if snap.EMADiffPct <= 0 {
		t.Errorf("expected positive ema diff, got %v", snap.EMADiffPct)
	}
}

func TestComputeDowntrendRSI(t *testing.T) {
	engine := NewIndicatorEngine()

	snap, err := engine.Compute(fallingCandles(60, 500))
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	require.InDelta(t, 0, snap.RSI, 1e-9)
	if snap.EMADiffPct >= 0 {
		t.Errorf("expected negative ema diff in a downtrend, got %v", snap.EMADiffPct)
	}
}

func TestComputeDeterministic(t *testing.T) {
	engine := NewIndicatorEngine()
	candles := risingCandles(80, 250)

	a, err := engine.Compute(candles)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	b, err := engine.Compute(candles)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("expected identical snapshots, got %+v vs %+v", a, b)
	}
}

func TestATRConstantRange(t *testing.T) {
	candles := make([]domain.Candle, 60)
	for i := range candles {
		candles[i] = domain.Candle{
			Time:  int64(i) * 900_000,
			Open:  100,
			High:  101,
			Low:   99,
			Close: 100,
		}
	}
	// Every true range is exactly high-low.
	require.InDelta(t, 2.0, atrWilder(candles, atrPeriod), 1e-9)
}

func TestEMAConstantSeries(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 5
	}
	require.InDelta(t, 5.0, emaLast(values, emaFastPeriod), 1e-9)
}

func TestEMASeriesLength(t *testing.T) {
	values := make([]float64, 30)
	series := emaSeries(values, 20)
	if len(series) != 11 {
		t.Errorf("expected 11 ema values for 30 inputs at period 20, got %d", len(series))
	}
	if emaSeries(values, 31) != nil {
		t.Error("expected nil series when input is shorter than the period")
	}
}
