package usecase

import (
	"math"
	"time"

	"github.com/vitos/spot_trend_bot/internal/domain"
)

type Direction string

const (
	DirectionLong Direction = "LONG"
	DirectionNone Direction = "NONE"
)

// Signal is the scored output of one entry evaluation. Reasons lists every
// rejected check by name, not just the first failure.
type Signal struct {
	Direction Direction `json:"direction"`
	Quality   float64   `json:"quality"`
	Reasons   []string  `json:"reasons"`
}

// SignalConfig holds the entry-rule thresholds. Zero values disable the
// optional checks.
type SignalConfig struct {
	TrendStrengthFloor float64 // minimum ema_diff_pct, e.g. 0.003 or 0.005
	RSIEntry           float64 // momentum floor, normally 50
	RSIMax             float64 // overbought ceiling, 0 disables
	RSIMin             float64 // oversold floor, 0 disables
	MinATRPct          float64 // minimum ATR as a fraction of close, 0 disables
	AvoidHours         []int
	AvoidWeekdays      []time.Weekday
}

type entryCheck struct {
	name string
	pass func(snap *IndicatorSnapshot, prev []domain.Candle, now time.Time) bool
}

// SignalGenerator evaluates the ordered entry rules against an indicator
// snapshot. It never computes exits; those belong to the position lifecycle.
type SignalGenerator struct {
	cfg    SignalConfig
	checks []entryCheck
	now    func() time.Time // for testing
}

func NewSignalGenerator(cfg SignalConfig) *SignalGenerator {
	g := &SignalGenerator{cfg: cfg, now: time.Now}
	g.checks = g.buildChecks()
	return g
}

// Evaluate applies every entry check and returns a fresh Signal. prev carries
// the two candles preceding the snapshot candle for the whipsaw part of the
// choppy-market check.
func (g *SignalGenerator) Evaluate(snap *IndicatorSnapshot, prev []domain.Candle) *Signal {
	now := g.now()
	sig := &Signal{Direction: DirectionLong}

	for _, check := range g.checks {
		if !check.pass(snap, prev, now) {
			sig.Direction = DirectionNone
			sig.Reasons = append(sig.Reasons, check.name)
		}
	}

	sig.Quality = math.Min(math.Abs(snap.EMADiffPct)*1000, 100)
	return sig
}

func (g *SignalGenerator) buildChecks() []entryCheck {
	cfg := g.cfg
	checks := []entryCheck{
		{
			name: "close_above_ema20",
			pass: func(s *IndicatorSnapshot, _ []domain.Candle, _ time.Time) bool {
				return s.Close > s.EMA20
			},
		},
		{
			name: "ema20_above_ema50",
			pass: func(s *IndicatorSnapshot, _ []domain.Candle, _ time.Time) bool {
				return s.EMA20 > s.EMA50
			},
		},
		{
			name: "rsi_momentum",
			pass: func(s *IndicatorSnapshot, _ []domain.Candle, _ time.Time) bool {
				return s.RSI > cfg.RSIEntry
			},
		},
		{
			name: "choppy_market",
			pass: func(s *IndicatorSnapshot, prev []domain.Candle, _ time.Time) bool {
				return !isChoppy(s, prev, cfg.TrendStrengthFloor)
			},
		},
	}

	if cfg.RSIMax > 0 {
		checks = append(checks, entryCheck{
			name: "rsi_overbought",
			pass: func(s *IndicatorSnapshot, _ []domain.Candle, _ time.Time) bool {
				return s.RSI < cfg.RSIMax
			},
		})
	}
	if cfg.RSIMin > 0 {
		checks = append(checks, entryCheck{
			name: "rsi_oversold",
			pass: func(s *IndicatorSnapshot, _ []domain.Candle, _ time.Time) bool {
				return s.RSI > cfg.RSIMin
			},
		})
	}
	if cfg.MinATRPct > 0 {
		checks = append(checks, entryCheck{
			name: "low_volatility",
			pass: func(s *IndicatorSnapshot, _ []domain.Candle, _ time.Time) bool {
				return s.ATR >= s.Close*cfg.MinATRPct
			},
		})
	}
	if len(cfg.AvoidHours) > 0 {
		checks = append(checks, entryCheck{
			name: "excluded_hour",
			pass: func(_ *IndicatorSnapshot, _ []domain.Candle, now time.Time) bool {
				for _, h := range cfg.AvoidHours {
					if now.Hour() == h {
						return false
					}
				}
				return true
			},
		})
	}
	if len(cfg.AvoidWeekdays) > 0 {
		checks = append(checks, entryCheck{
			name: "excluded_weekday",
			pass: func(_ *IndicatorSnapshot, _ []domain.Candle, now time.Time) bool {
				for _, d := range cfg.AvoidWeekdays {
					if now.Weekday() == d {
						return false
					}
				}
				return true
			},
		})
	}
	return checks
}

// isChoppy flags a sideways regime: EMA separation below the floor (signed,
// so an inverted spread with a neutral RSI also counts) or the two preceding
// closes whipsawing across EMA20.
func isChoppy(snap *IndicatorSnapshot, prev []domain.Candle, floor float64) bool {
	if snap.EMADiffPct < floor && snap.RSI >= 45 && snap.RSI <= 55 {
		return true
	}
	if len(prev) >= 2 {
		a, b := prev[len(prev)-2], prev[len(prev)-1]
		if (a.Close > snap.EMA20) != (b.Close > snap.EMA20) {
			return true
		}
	}
	return false
}
