package domain

import "time"

type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
)

// Exit reasons recorded on a closed position.
const (
	ExitStopLoss    = "Stop Loss"
	ExitTakeProfit1 = "Take Profit 1"
	ExitTakeProfit2 = "Take Profit 2"
	ExitTrend       = "Trend Exit"
	ExitManual      = "Manual Close"
)

// Position represents a single long spot position through its lifecycle.
// At most one position per symbol may be OPEN at a time.
type Position struct {
	ID          int64          `json:"id"`
	Symbol      string         `json:"symbol"`
	EntryTime   time.Time      `json:"entry_time"`
	EntryPrice  float64        `json:"entry_price"`
	Quantity    float64        `json:"quantity"`
	StopLoss    float64        `json:"stop_loss"`
	TakeProfit1 float64        `json:"take_profit_1"`
	TakeProfit2 float64        `json:"take_profit_2"`
	Status      PositionStatus `json:"status"`
	ExitTime    time.Time      `json:"exit_time"`
	ExitPrice   float64        `json:"exit_price"`
	ExitReason  string         `json:"exit_reason"`
	RealizedPnL float64        `json:"realized_pnl"`
	FeePaid     float64        `json:"fee_paid"`
}

// EquitySample is a point-in-time snapshot of account equity.
type EquitySample struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// Alert is an operator-visible event (kill switch, cooldown, gateway trouble).
type Alert struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"` // "info", "warn", "error"
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
