package usecase

import (
	"math"
	"time"

	"github.com/vitos/spot_trend_bot/internal/domain"
)

// Indicator periods. The required lookback is the slowest EMA; MACD needs
// slow+signal which is shorter.
const (
	emaFastPeriod    = 20
	emaSlowPeriod    = 50
	rsiPeriod        = 14
	atrPeriod        = 14
	macdFastPeriod   = 12
	macdSlowPeriod   = 26
	macdSignalSpan   = 9
	RequiredLookback = emaSlowPeriod
)

// IndicatorSnapshot holds the derived indicator values for the most recent
// closed candle. It is immutable and recomputed from scratch each cycle.
type IndicatorSnapshot struct {
	Time       time.Time `json:"time"`
	Close      float64   `json:"close"`
	EMA20      float64   `json:"ema20"`
	EMA50      float64   `json:"ema50"`
	RSI        float64   `json:"rsi"`
	ATR        float64   `json:"atr"`
	MACD       float64   `json:"macd"`
	MACDSignal float64   `json:"macd_signal"`
	MACDHist   float64   `json:"macd_hist"`
	EMADiffPct float64   `json:"ema_diff_pct"`
}

// IndicatorEngine computes indicator snapshots from candle history. It is
// stateless; identical input yields bit-identical output.
type IndicatorEngine struct{}

func NewIndicatorEngine() *IndicatorEngine {
	return &IndicatorEngine{}
}

// Compute returns the snapshot for the last candle in the sequence, or
// ErrInsufficientHistory when the window is too short or any value is not yet
// defined.
func (e *IndicatorEngine) Compute(candles []domain.Candle) (*IndicatorSnapshot, error) {
	if len(candles) < RequiredLookback {
		return nil, domain.ErrInsufficientHistory
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	last := candles[len(candles)-1]
	macdLine, macdSignal, macdHist := macdAll(closes)

	snap := &IndicatorSnapshot{
		Time:       time.UnixMilli(last.Time).UTC(),
		Close:      last.Close,
		EMA20:      emaLast(closes, emaFastPeriod),
		EMA50:      emaLast(closes, emaSlowPeriod),
		RSI:        rsiWilder(closes, rsiPeriod),
		ATR:        atrWilder(candles, atrPeriod),
		MACD:       macdLine,
		MACDSignal: macdSignal,
		MACDHist:   macdHist,
	}
	if snap.Close != 0 {
		snap.EMADiffPct = (snap.EMA20 - snap.EMA50) / snap.Close
	}

	for _, v := range []float64{snap.Close, snap.EMA20, snap.EMA50, snap.RSI, snap.ATR, snap.MACD, snap.MACDSignal, snap.MACDHist} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, domain.ErrInsufficientHistory
		}
	}
	return snap, nil
}

// emaSeries returns the EMA values starting at index period-1 of the input,
// seeded with the simple average of the first period values.
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}

	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)

	k := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*k + ema
		out = append(out, ema)
	}
	return out
}

func emaLast(values []float64, period int) float64 {
	series := emaSeries(values, period)
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// rsiWilder computes RSI using Wilder's smoothing of average gains/losses.
func rsiWilder(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return math.NaN()
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// atrWilder computes ATR over true ranges with Wilder's smoothing.
func atrWilder(candles []domain.Candle, period int) float64 {
	if len(candles) < period+1 {
		return math.NaN()
	}

	trueRange := func(i int) float64 {
		c := candles[i]
		tr := c.High - c.Low
		if i > 0 {
			prevClose := candles[i-1].Close
			if hc := math.Abs(c.High - prevClose); hc > tr {
				tr = hc
			}
			if lc := math.Abs(c.Low - prevClose); lc > tr {
				tr = lc
			}
		}
		return tr
	}

	var sum float64
	for i := 1; i <= period; i++ {
		sum += trueRange(i)
	}
	atr := sum / float64(period)

	for i := period + 1; i < len(candles); i++ {
		atr = (atr*float64(period-1) + trueRange(i)) / float64(period)
	}
	return atr
}

// macdAll computes the MACD line (EMA12-EMA26), its EMA9 signal line, and the
// histogram for the most recent value.
func macdAll(closes []float64) (line, signal, hist float64) {
	if len(closes) < macdSlowPeriod+macdSignalSpan {
		return math.NaN(), math.NaN(), math.NaN()
	}

	fast := emaSeries(closes, macdFastPeriod)
	slow := emaSeries(closes, macdSlowPeriod)

	// Align the fast series to the slow one: slow[i] corresponds to close
	// index macdSlowPeriod-1+i.
	offset := macdSlowPeriod - macdFastPeriod
	macdHistory := make([]float64, len(slow))
	for i := range slow {
		macdHistory[i] = fast[i+offset] - slow[i]
	}

	line = macdHistory[len(macdHistory)-1]
	signal = emaLast(macdHistory, macdSignalSpan)
	hist = line - signal
	return line, signal, hist
}
