package exchange

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/vitos/spot_trend_bot/internal/domain"
	"go.uber.org/zap"
)

type klineStream struct {
	conn   *websocket.Conn
	symbol string
	done   chan struct{}
}

// OnCandleClose registers a callback fired once per closed candle.
func (a *BinanceAdapter) OnCandleClose(callback func(symbol string, candle domain.Candle)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks = append(a.callbacks, callback)
}

// Subscribe opens the kline stream for one symbol and keeps it alive,
// reconnecting with exponential backoff after read failures.
func (a *BinanceAdapter) Subscribe(symbol, interval string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stream != nil {
		return nil
	}

	streamURL := a.wsURL + "/" + strings.ToLower(symbol) + "@kline_" + interval
	conn, _, err := websocket.DefaultDialer.Dial(streamURL, nil)
	if err != nil {
		return &domain.GatewayError{Op: "ws dial", Err: err}
	}

	a.stream = &klineStream{conn: conn, symbol: symbol, done: make(chan struct{})}
	go a.readLoop(streamURL)
	return nil
}

// Unsubscribe closes the kline stream if one is open.
func (a *BinanceAdapter) Unsubscribe() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stream != nil {
		close(a.stream.done)
		a.stream.conn.Close()
		a.stream = nil
	}
}

func (a *BinanceAdapter) readLoop(streamURL string) {
	for {
		a.mu.Lock()
		stream := a.stream
		a.mu.Unlock()
		if stream == nil {
			return
		}

		_, message, err := stream.conn.ReadMessage()
		if err != nil {
			select {
			case <-stream.done:
				return
			default:
			}
			a.logger.Warn("kline stream read error, reconnecting", zap.Error(err))
			if !a.reconnect(stream, streamURL) {
				return
			}
			continue
		}

		a.handleKline(message)
	}
}

func (a *BinanceAdapter) reconnect(stream *klineStream, streamURL string) bool {
	stream.conn.Close()

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 0 // retry until unsubscribed

	var conn *websocket.Conn
	err := backoff.Retry(func() error {
		select {
		case <-stream.done:
			return backoff.Permanent(errStreamClosed)
		default:
		}
		c, _, dialErr := websocket.DefaultDialer.Dial(streamURL, nil)
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	}, policy)
	if err != nil {
		return false
	}

	a.mu.Lock()
	if a.stream != stream {
		a.mu.Unlock()
		conn.Close()
		return false
	}
	stream.conn = conn
	a.mu.Unlock()

	a.logger.Info("kline stream reconnected")
	return true
}

var errStreamClosed = errors.New("stream closed")

func (a *BinanceAdapter) handleKline(message []byte) {
	var event struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		Kline     struct {
			OpenTime int64  `json:"t"`
			Open     string `json:"o"`
			High     string `json:"h"`
			Low      string `json:"l"`
			Close    string `json:"c"`
			Volume   string `json:"v"`
			Closed   bool   `json:"x"`
		} `json:"k"`
	}
	if err := json.Unmarshal(message, &event); err != nil {
		a.logger.Debug("kline stream decode error", zap.Error(err))
		return
	}
	if event.EventType != "kline" || !event.Kline.Closed {
		return
	}

	k := event.Kline
	candle := domain.Candle{Time: k.OpenTime}
	var parseErr error
	parse := func(s string) float64 {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			parseErr = err
		}
		return v
	}
	candle.Open = parse(k.Open)
	candle.High = parse(k.High)
	candle.Low = parse(k.Low)
	candle.Close = parse(k.Close)
	candle.Volume = parse(k.Volume)
	if parseErr != nil {
		a.logger.Debug("kline stream parse error", zap.Error(parseErr))
		return
	}

	a.mu.Lock()
	a.lastPrice[event.Symbol] = candle.Close
	callbacks := make([]func(string, domain.Candle), len(a.callbacks))
	copy(callbacks, a.callbacks)
	a.mu.Unlock()

	for _, cb := range callbacks {
		cb(event.Symbol, candle)
	}
}
