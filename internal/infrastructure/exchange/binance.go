package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vitos/spot_trend_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	BinanceBaseURL = "https://api.binance.com"
	BinanceWSURL   = "wss://stream.binance.com:9443/ws"
)

const recvWindow = 5000

// BinanceAdapter talks to the Binance spot REST API and kline stream. In
// paper mode market data still comes from the real endpoints, but orders
// execute against an in-memory ledger at the last seen close price.
type BinanceAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client
	logger    *zap.Logger

	paper *paperBook // nil in live mode

	mu        sync.Mutex
	lastPrice map[string]float64
	stream    *klineStream
	callbacks []func(symbol string, candle domain.Candle)
}

func NewBinanceAdapter(apiKey, apiSecret, baseURL, wsURL string, logger *zap.Logger) *BinanceAdapter {
	if baseURL == "" {
		baseURL = BinanceBaseURL
	}
	if wsURL == "" {
		wsURL = BinanceWSURL
	}
	return &BinanceAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		wsURL:     wsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
		lastPrice: make(map[string]float64),
	}
}

// NewPaperAdapter returns an adapter that simulates fills against a starting
// quote balance while reading live market data.
func NewPaperAdapter(baseURL, wsURL string, startEquity, feePct float64, logger *zap.Logger) *BinanceAdapter {
	a := NewBinanceAdapter("", "", baseURL, wsURL, logger)
	a.paper = newPaperBook(startEquity, feePct)
	return a
}

// --- REST API ---

func (a *BinanceAdapter) sign(query string) string {
	h := hmac.New(sha256.New, []byte(a.apiSecret))
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}

func (a *BinanceAdapter) sendRequest(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.Itoa(recvWindow))
		// The signature covers the query string and must come last.
		query = params.Encode()
		query += "&signature=" + a.sign(query)
	}

	var body []byte
	op := method + " " + path

	call := func() error {
		reqURL := a.baseURL + path
		if query != "" {
			reqURL += "?" + query
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if a.apiKey != "" {
			req.Header.Set("X-MBX-APIKEY", a.apiKey)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode < 400:
			body = respBody
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("binance %s: status %d: %s", op, resp.StatusCode, respBody)
		default:
			// Auth and validation errors do not get better on retry.
			return backoff.Permanent(&domain.GatewayError{
				Op:    op,
				Fatal: resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden,
				Err:   fmt.Errorf("status %d: %s", resp.StatusCode, respBody),
			})
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(call, policy); err != nil {
		var gw *domain.GatewayError
		if errors.As(err, &gw) {
			return nil, gw
		}
		return nil, &domain.GatewayError{Op: op, Err: err}
	}
	return body, nil
}

// GetCandles returns the most recent closed candles, oldest first. The
// still-forming candle the API includes at the tail is dropped.
func (a *BinanceAdapter) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit+1))

	resp, err := a.sendRequest(ctx, "GET", "/api/v3/klines", params, false)
	if err != nil {
		return nil, err
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, &domain.GatewayError{Op: "klines decode", Err: err}
	}

	var candles []domain.Candle
	for _, row := range raw {
		// [openTime, open, high, low, close, volume, closeTime, ...]
		if len(row) < 7 {
			continue
		}
		c := domain.Candle{}
		if err := json.Unmarshal(row[0], &c.Time); err != nil {
			continue
		}
		fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
		ok := true
		for i, dst := range fields {
			var s string
			if err := json.Unmarshal(row[i+1], &s); err != nil {
				ok = false
				break
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				ok = false
				break
			}
			*dst = v
		}
		if ok {
			candles = append(candles, c)
		}
	}

	// Last entry is still forming; only closed candles go downstream.
	if len(candles) > 0 {
		candles = candles[:len(candles)-1]
	}
	if n := len(candles); n > limit {
		candles = candles[n-limit:]
	}

	if len(candles) > 0 {
		a.mu.Lock()
		a.lastPrice[symbol] = candles[len(candles)-1].Close
		a.mu.Unlock()
	}
	return candles, nil
}

func (a *BinanceAdapter) GetSymbolInfo(ctx context.Context, symbol string) (*domain.SymbolInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	resp, err := a.sendRequest(ctx, "GET", "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, &domain.GatewayError{Op: "exchangeInfo decode", Err: err}
	}
	if len(result.Symbols) == 0 {
		return nil, &domain.GatewayError{Op: "exchangeInfo", Fatal: true, Err: fmt.Errorf("symbol %s not found", symbol)}
	}

	s := result.Symbols[0]
	info := &domain.SymbolInfo{
		Symbol:     s.Symbol,
		BaseAsset:  s.BaseAsset,
		QuoteAsset: s.QuoteAsset,
	}
	for _, f := range s.Filters {
		switch f.FilterType {
		case "LOT_SIZE":
			info.LotStep, _ = strconv.ParseFloat(f.StepSize, 64)
		case "NOTIONAL", "MIN_NOTIONAL":
			info.MinNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
		}
	}
	return info, nil
}

// GetEquity returns the free quote-asset balance, or the simulated balance
// in paper mode.
func (a *BinanceAdapter) GetEquity(ctx context.Context) (float64, error) {
	if a.paper != nil {
		a.mu.Lock()
		last := make(map[string]float64, len(a.lastPrice))
		for k, v := range a.lastPrice {
			last[k] = v
		}
		a.mu.Unlock()
		return a.paper.equity(last), nil
	}

	resp, err := a.sendRequest(ctx, "GET", "/api/v3/account", url.Values{}, true)
	if err != nil {
		return 0, err
	}

	var result struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, &domain.GatewayError{Op: "account decode", Err: err}
	}
	for _, b := range result.Balances {
		if b.Asset == "USDT" {
			return strconv.ParseFloat(b.Free, 64)
		}
	}
	return 0, nil
}

func (a *BinanceAdapter) MarketBuy(ctx context.Context, symbol string, qty float64) (*domain.Fill, error) {
	return a.placeOrder(ctx, symbol, "BUY", qty)
}

func (a *BinanceAdapter) MarketSell(ctx context.Context, symbol string, qty float64) (*domain.Fill, error) {
	return a.placeOrder(ctx, symbol, "SELL", qty)
}

func (a *BinanceAdapter) placeOrder(ctx context.Context, symbol, side string, qty float64) (*domain.Fill, error) {
	if qty <= 0 {
		return nil, &domain.GatewayError{Op: "order", Fatal: true, Err: fmt.Errorf("non-positive quantity %v", qty)}
	}

	if a.paper != nil {
		a.mu.Lock()
		price := a.lastPrice[symbol]
		a.mu.Unlock()
		if price <= 0 {
			return nil, &domain.GatewayError{Op: "paper order", Err: fmt.Errorf("no price for %s yet", symbol)}
		}
		fill, err := a.paper.execute(symbol, side, qty, price)
		if err != nil {
			return nil, &domain.GatewayError{Op: "paper order", Fatal: true, Err: err}
		}
		a.logger.Info("paper fill",
			zap.String("symbol", symbol),
			zap.String("side", side),
			zap.Float64("qty", qty),
			zap.Float64("price", price))
		return fill, nil
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(qty, 'f', -1, 64))

	resp, err := a.sendRequest(ctx, "POST", "/api/v3/order", params, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		ExecutedQty         string `json:"executedQty"`
		CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
		TransactTime        int64  `json:"transactTime"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, &domain.GatewayError{Op: "order decode", Err: err}
	}

	executed, _ := strconv.ParseFloat(result.ExecutedQty, 64)
	quote, _ := strconv.ParseFloat(result.CummulativeQuoteQty, 64)
	if executed <= 0 {
		return nil, &domain.GatewayError{Op: "order", Err: fmt.Errorf("order not filled: %s", resp)}
	}

	return &domain.Fill{
		Price:    quote / executed,
		Quantity: executed,
		Time:     time.UnixMilli(result.TransactTime).UTC(),
	}, nil
}

// --- paper ledger ---

type paperBook struct {
	mu     sync.Mutex
	cash   float64
	base   map[string]float64
	feePct float64
}

func newPaperBook(startEquity, feePct float64) *paperBook {
	return &paperBook{cash: startEquity, base: make(map[string]float64), feePct: feePct}
}

func (p *paperBook) execute(symbol, side string, qty, price float64) (*domain.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	notional := qty * price
	fee := notional * p.feePct

	switch side {
	case "BUY":
		if notional+fee > p.cash {
			return nil, fmt.Errorf("insufficient paper balance: need %.2f have %.2f", notional+fee, p.cash)
		}
		p.cash -= notional + fee
		p.base[symbol] += qty
	case "SELL":
		if p.base[symbol] < qty {
			return nil, fmt.Errorf("insufficient paper holdings: need %v have %v", qty, p.base[symbol])
		}
		p.cash += notional - fee
		p.base[symbol] -= qty
	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}

	return &domain.Fill{Price: price, Quantity: qty, Time: time.Now().UTC()}, nil
}

func (p *paperBook) equity(lastPrice map[string]float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := p.cash
	for symbol, qty := range p.base {
		total += qty * lastPrice[symbol]
	}
	return total
}
