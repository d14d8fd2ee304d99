package domain

import (
	"context"
	"time"
)

// Exchange defines the interface for interacting with a spot exchange.
type Exchange interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetEquity(ctx context.Context) (float64, error)
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
	MarketBuy(ctx context.Context, symbol string, qty float64) (*Fill, error)
	MarketSell(ctx context.Context, symbol string, qty float64) (*Fill, error)
	OnCandleClose(callback func(symbol string, candle Candle))
	Subscribe(symbol, interval string) error
}

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Fill is the result of an executed market order.
type Fill struct {
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Time     time.Time `json:"time"`
}

// SymbolInfo carries the exchange trading rules for a symbol.
type SymbolInfo struct {
	Symbol      string  `json:"symbol"`
	BaseAsset   string  `json:"base_asset"`
	QuoteAsset  string  `json:"quote_asset"`
	LotStep     float64 `json:"lot_step"`
	MinNotional float64 `json:"min_notional"`
}

// TradeRepository defines storage operations for closed trades and equity history.
// The core only appends; history is read back for reporting, never for decisions.
type TradeRepository interface {
	SaveTrade(ctx context.Context, pos *Position) error
	ListTrades(ctx context.Context, limit int) ([]*Position, error)

	SaveEquitySample(ctx context.Context, sample *EquitySample) error
	ListEquitySamples(ctx context.Context, limit int) ([]*EquitySample, error)
}

// AlertRepository defines storage operations for operator-visible alerts.
type AlertRepository interface {
	SaveAlert(ctx context.Context, alert *Alert) error
	ListAlerts(ctx context.Context, limit int) ([]*Alert, error)
}

// SettingRepository persists key/value runtime settings (e.g. the pause flag)
// across restarts.
type SettingRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}
