package usecase

import (
	"testing"
	"time"

	"github.com/vitos/spot_trend_bot/internal/domain"
)

// trendSnapshot is a clean uptrend: every default entry check passes.
func trendSnapshot() *IndicatorSnapshot {
	return &IndicatorSnapshot{
		Close:      105,
		EMA20:      103,
		EMA50:      100,
		RSI:        60,
		ATR:        1.5,
		EMADiffPct: (103.0 - 100.0) / 105.0,
	}
}

// prevAbove returns two preceding candles closing above EMA20, so the
// whipsaw check stays quiet.
func prevAbove() []domain.Candle {
	return []domain.Candle{
		{Close: 104},
		{Close: 104.5},
	}
}

func defaultSignalConfig() SignalConfig {
	return SignalConfig{
		TrendStrengthFloor: 0.003,
		RSIEntry:           50,
	}
}

func TestEvaluateAllChecksPass(t *testing.T) {
	g := NewSignalGenerator(defaultSignalConfig())

	sig := g.Evaluate(trendSnapshot(), prevAbove())
	if sig.Direction != DirectionLong {
		t.Fatalf("expected LONG, got %s with reasons %v", sig.Direction, sig.Reasons)
	}
	if len(sig.Reasons) != 0 {
		t.Errorf("expected no failure reasons, got %v", sig.Reasons)
	}

	wantQuality := (103.0 - 100.0) / 105.0 * 1000
	if diff := sig.Quality - wantQuality; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected quality %.4f, got %.4f", wantQuality, sig.Quality)
	}
}

func TestEvaluateSingleCheckFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(s *IndicatorSnapshot)
		reason string
	}{
		{
			name:   "close below ema20",
			mutate: func(s *IndicatorSnapshot) { s.Close = 102.5 },
			reason: "close_above_ema20",
		},
		{
			name: "ema20 below ema50",
			mutate: func(s *IndicatorSnapshot) {
				s.EMA20 = 99
				s.EMADiffPct = (99.0 - 100.0) / 105.0
			},
			reason: "ema20_above_ema50",
		},
		{
			name:   "weak rsi",
			mutate: func(s *IndicatorSnapshot) { s.RSI = 48 },
			reason: "rsi_momentum",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewSignalGenerator(defaultSignalConfig())
			snap := trendSnapshot()
			tc.mutate(snap)

			sig := g.Evaluate(snap, prevAbove())
			if sig.Direction != DirectionNone {
				t.Fatalf("expected NONE, got %s", sig.Direction)
			}
			if len(sig.Reasons) != 1 || sig.Reasons[0] != tc.reason {
				t.Errorf("expected reasons [%s], got %v", tc.reason, sig.Reasons)
			}
		})
	}
}

func TestEvaluateChoppyBand(t *testing.T) {
	g := NewSignalGenerator(defaultSignalConfig())

	snap := trendSnapshot()
	snap.RSI = 52 // keeps rsi_momentum passing
	snap.EMADiffPct = 0.001

	sig := g.Evaluate(snap, prevAbove())
	if sig.Direction != DirectionNone {
		t.Fatal("expected chop band to block the entry")
	}
	if len(sig.Reasons) != 1 || sig.Reasons[0] != "choppy_market" {
		t.Errorf("expected reasons [choppy_market], got %v", sig.Reasons)
	}
}

func TestEvaluateChoppyNegativeSeparation(t *testing.T) {
	g := NewSignalGenerator(defaultSignalConfig())

	// EMA20 below EMA50 with a neutral RSI. The separation is wide in
	// absolute terms, but the band compares the signed value.
	snap := trendSnapshot()
	snap.EMA20 = 99
	snap.EMA50 = 100
	snap.EMADiffPct = (99.0 - 100.0) / 105.0
	snap.RSI = 52

	sig := g.Evaluate(snap, prevAbove())
	if sig.Direction != DirectionNone {
		t.Fatal("expected NONE")
	}
	if !containsReason(sig.Reasons, "choppy_market") {
		t.Errorf("expected choppy_market among reasons, got %v", sig.Reasons)
	}
	if !containsReason(sig.Reasons, "ema20_above_ema50") {
		t.Errorf("expected ema20_above_ema50 among reasons, got %v", sig.Reasons)
	}
}

func TestEvaluateWhipsaw(t *testing.T) {
	g := NewSignalGenerator(defaultSignalConfig())

	// Preceding closes straddle EMA20.
	prev := []domain.Candle{
		{Close: 102}, // below 103
		{Close: 104}, // above 103
	}

	sig := g.Evaluate(trendSnapshot(), prev)
	if sig.Direction != DirectionNone {
		t.Fatal("expected whipsaw to block the entry")
	}
	if len(sig.Reasons) != 1 || sig.Reasons[0] != "choppy_market" {
		t.Errorf("expected reasons [choppy_market], got %v", sig.Reasons)
	}
}

func TestEvaluateCollectsAllFailures(t *testing.T) {
	g := NewSignalGenerator(defaultSignalConfig())

	snap := trendSnapshot()
	snap.Close = 95 // below both EMAs
	snap.RSI = 30

	sig := g.Evaluate(snap, prevAbove())
	if sig.Direction != DirectionNone {
		t.Fatal("expected NONE")
	}
	if len(sig.Reasons) != 2 {
		t.Errorf("expected two failure reasons, got %v", sig.Reasons)
	}
}

func TestEvaluateStrictChecks(t *testing.T) {
	cfg := SignalConfig{
		TrendStrengthFloor: 0.005,
		RSIEntry:           50,
		RSIMax:             70,
		RSIMin:             30,
		MinATRPct:          0.003,
		AvoidHours:         []int{3},
		AvoidWeekdays:      []time.Weekday{time.Sunday},
	}

	t.Run("overbought", func(t *testing.T) {
		g := NewSignalGenerator(cfg)
		snap := trendSnapshot()
		snap.RSI = 75
		sig := g.Evaluate(snap, prevAbove())
		if !containsReason(sig.Reasons, "rsi_overbought") {
			t.Errorf("expected rsi_overbought, got %v", sig.Reasons)
		}
	})

	t.Run("low volatility", func(t *testing.T) {
		g := NewSignalGenerator(cfg)
		snap := trendSnapshot()
		snap.ATR = 0.1 // below 0.3% of close
		sig := g.Evaluate(snap, prevAbove())
		if !containsReason(sig.Reasons, "low_volatility") {
			t.Errorf("expected low_volatility, got %v", sig.Reasons)
		}
	})

	t.Run("excluded hour", func(t *testing.T) {
		g := NewSignalGenerator(cfg)
		g.now = func() time.Time {
			return time.Date(2026, 8, 24, 3, 15, 0, 0, time.UTC) // Monday 03:15
		}
		sig := g.Evaluate(trendSnapshot(), prevAbove())
		if !containsReason(sig.Reasons, "excluded_hour") {
			t.Errorf("expected excluded_hour, got %v", sig.Reasons)
		}
	})

	t.Run("excluded weekday", func(t *testing.T) {
		g := NewSignalGenerator(cfg)
		g.now = func() time.Time {
			return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC) // Sunday noon
		}
		sig := g.Evaluate(trendSnapshot(), prevAbove())
		if !containsReason(sig.Reasons, "excluded_weekday") {
			t.Errorf("expected excluded_weekday, got %v", sig.Reasons)
		}
	})

	t.Run("strict pass", func(t *testing.T) {
		g := NewSignalGenerator(cfg)
		g.now = func() time.Time {
			return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) // Tuesday noon
		}
		sig := g.Evaluate(trendSnapshot(), prevAbove())
		if sig.Direction != DirectionLong {
			t.Errorf("expected LONG, got %s with reasons %v", sig.Direction, sig.Reasons)
		}
	})
}

func TestQualityCap(t *testing.T) {
	g := NewSignalGenerator(defaultSignalConfig())
	snap := trendSnapshot()
	snap.EMADiffPct = 0.2

	sig := g.Evaluate(snap, prevAbove())
	if sig.Quality != 100 {
		t.Errorf("expected quality capped at 100, got %v", sig.Quality)
	}
}

func containsReason(reasons []string, want string) bool {
	for _, r := range reasons {
		if r == want {
			return true
		}
	}
	return false
}
