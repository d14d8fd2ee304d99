package notifier

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/vitos/spot_trend_bot/internal/domain"
	"go.uber.org/zap"
)

// TelegramNotifier sends trade and alert events to a Telegram chat. Send
// failures are logged and swallowed so the evaluation cycle never blocks on
// delivery.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.Logger
}

func NewTelegramNotifier(token string, chatID int64, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, logger: logger}, nil
}

func (n *TelegramNotifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Warn("telegram send failed", zap.Error(err))
	}
}

func (n *TelegramNotifier) NotifyTradeOpened(pos *domain.Position) {
	n.send(fmt.Sprintf(
		"🟢 OPEN %s\nEntry: %.4f\nQty: %.4f\nSL: %.4f\nTP1: %.4f  TP2: %.4f",
		pos.Symbol, pos.EntryPrice, pos.Quantity, pos.StopLoss, pos.TakeProfit1, pos.TakeProfit2))
}

func (n *TelegramNotifier) NotifyTradeClosed(pos *domain.Position) {
	emoji := "🔴"
	if pos.RealizedPnL > 0 {
		emoji = "✅"
	}
	n.send(fmt.Sprintf(
		"%s CLOSE %s (%s)\nEntry: %.4f → Exit: %.4f\nPnL: %+.2f USDT",
		emoji, pos.Symbol, pos.ExitReason, pos.EntryPrice, pos.ExitPrice, pos.RealizedPnL))
}

func (n *TelegramNotifier) NotifyAlert(level, message string) {
	prefix := "ℹ️"
	switch level {
	case "warn":
		prefix = "⚠️"
	case "error":
		prefix = "🚨"
	}
	n.send(prefix + " " + message)
}

// Heartbeat posts a short liveness summary.
func (n *TelegramNotifier) Heartbeat(mode domain.TradingMode, equity float64, openPosition bool) {
	posText := "flat"
	if openPosition {
		posText = "in position"
	}
	n.send(fmt.Sprintf("💓 alive | mode=%s | equity=%.2f | %s", mode, equity, posText))
}

// DailyReport summarises the day's closed trades.
func (n *TelegramNotifier) DailyReport(trades []*domain.Position, state domain.RiskState) {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Daily report %s\n", time.Now().Format("2006-01-02"))
	fmt.Fprintf(&b, "Equity: %.2f (peak %.2f)\n", state.Equity, state.PeakEquity)
	fmt.Fprintf(&b, "Daily PnL: %+.2f over %d trades\n", state.DailyPnL, state.TradesToday)

	if len(trades) == 0 {
		b.WriteString("No closed trades today.")
	} else {
		wins := 0
		for _, t := range trades {
			if t.RealizedPnL > 0 {
				wins++
			}
		}
		fmt.Fprintf(&b, "Wins: %d/%d", wins, len(trades))
	}
	n.send(b.String())
}
