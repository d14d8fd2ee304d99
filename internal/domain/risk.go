package domain

import "time"

type TradingMode string

const (
	ModeActive TradingMode = "ACTIVE"
	ModePaused TradingMode = "PAUSED"
)

// RiskState is the account-level risk snapshot exposed to dashboards and
// commands. The Risk Manager owns the single mutable instance; everyone else
// gets copies.
type RiskState struct {
	Mode              TradingMode `json:"mode"`
	Equity            float64     `json:"equity"`
	PeakEquity        float64     `json:"peak_equity"`
	DayStartEquity    float64     `json:"day_start_equity"`
	DailyPnL          float64     `json:"daily_pnl"`
	TradesToday       int         `json:"trades_today"`
	ConsecutiveLosses int         `json:"consecutive_losses"`
	CooldownUntil     time.Time   `json:"cooldown_until"`
	RiskMultiplier    float64     `json:"risk_multiplier"`
	KillSwitchTripped bool        `json:"kill_switch_tripped"`
	LastBlockReason   string      `json:"last_block_reason"`
}

// InCooldown reports whether the post-loss-streak cooldown is active at t.
func (s RiskState) InCooldown(t time.Time) bool {
	return !s.CooldownUntil.IsZero() && t.Before(s.CooldownUntil)
}

// DrawdownPct returns the current drawdown from peak equity as a fraction.
func (s RiskState) DrawdownPct() float64 {
	if s.PeakEquity <= 0 {
		return 0
	}
	return (s.PeakEquity - s.Equity) / s.PeakEquity
}
