// Package exchange implements a signed REST client for USDT-margined
// perpetual futures. All signed endpoints build a canonical query of
// lexicographically sorted key=value pairs, sign it with HMAC-SHA256
// and append the hex signature to the exact bytes that were signed.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/rdone4425/trading-ai/internal/market"
)

const (
	defaultBaseURL = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"

	maxKlinesPerRequest = 1500
	recvWindowMillis    = 5000
)

// Options configures the client.
type Options struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Testnet   bool
	ProxyURL  string
	Timeout   time.Duration
}

// Client talks to the futures REST API.
type Client struct {
	http    *resty.Client
	baseURL string
	apiKey  string
	secret  []byte
	logger  zerolog.Logger

	// klineLimiter paces historical kline paging so deep backfills do
	// not burn the request weight budget.
	klineLimiter *rate.Limiter
	retry        RetryConfig

	mu               sync.RWMutex
	serverTimeOffset int64
	symbolInfo       map[string]SymbolInfo
}

// NewClient builds a client. Public endpoints work without credentials;
// signed endpoints return an auth error if the key pair is missing.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		if opts.Testnet {
			baseURL = testnetBaseURL
		} else {
			baseURL = defaultBaseURL
		}
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	httpClient := resty.New().SetTimeout(timeout)
	if opts.ProxyURL != "" {
		httpClient.SetProxy(opts.ProxyURL)
	}

	return &Client{
		http:         httpClient,
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       opts.APIKey,
		secret:       []byte(opts.APISecret),
		logger:       logger.With().Str("component", "exchange").Logger(),
		klineLimiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		retry:        DefaultRetryConfig(),
	}
}

// canonicalQuery sorts parameters by key and joins them as k=v&k=v with
// URL escaping. Signature input and request query are the same bytes.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// sign returns the hex HMAC-SHA256 of the payload.
func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// timestamp returns local milliseconds adjusted by the measured server
// time offset.
func (c *Client) timestamp() int64 {
	c.mu.RLock()
	offset := c.serverTimeOffset
	c.mu.RUnlock()
	return time.Now().UnixMilli() + offset
}

// do executes a request with retry. The query is rebuilt and re-signed
// on every attempt so retries carry a fresh timestamp, and a clock skew
// rejection re-syncs the server time before the next attempt.
func (c *Client) do(ctx context.Context, method, path string, params map[string]string, signed bool, out any) error {
	return WithRetry(ctx, c.retry, c.logger, func() error {
		err := c.doOnce(ctx, method, path, params, signed, out)
		if signed && IsClockSkew(err) {
			if syncErr := c.SyncTime(ctx); syncErr != nil {
				c.logger.Warn().Err(syncErr).Msg("服务器时间同步失败")
			}
		}
		return err
	})
}

// doOnce executes a single request. Signed requests get timestamp,
// recvWindow and the signature appended; the URL is built by hand so
// resty cannot reorder the query after signing.
func (c *Client) doOnce(ctx context.Context, method, path string, params map[string]string, signed bool, out any) error {
	if params == nil {
		params = map[string]string{}
	}

	req := c.http.R().SetContext(ctx)
	if signed {
		if len(c.secret) == 0 || c.apiKey == "" {
			return &APIError{Code: codeInvalidSignature, HTTPStatus: 401, Message: "missing API credentials"}
		}
		params["timestamp"] = strconv.FormatInt(c.timestamp(), 10)
		params["recvWindow"] = strconv.Itoa(recvWindowMillis)
	}
	if c.apiKey != "" {
		req.SetHeader("X-MBX-APIKEY", c.apiKey)
	}

	query := canonicalQuery(params)
	if signed {
		query = query + "&signature=" + c.sign(query)
	}
	fullURL := c.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}

	resp, err := req.Execute(method, fullURL)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	body := resp.Body()
	if resp.StatusCode() >= 400 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode(), Message: string(body)}
		var decoded APIError
		if json.Unmarshal(body, &decoded) == nil && decoded.Code != 0 {
			apiErr.Code = decoded.Code
			apiErr.Message = decoded.Message
		}
		c.logger.Warn().Int("status", resp.StatusCode()).Int("code", apiErr.Code).
			Str("path", path).Msg("交易所请求失败")
		return apiErr
	}

	if out == nil {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = body
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// SyncTime measures the offset between local and server clocks. It runs
// once at startup; the request loop re-syncs on clock skew rejections.
func (c *Client) SyncTime(ctx context.Context) error {
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	before := time.Now().UnixMilli()
	if err := c.doOnce(ctx, "GET", "/fapi/v1/time", nil, false, &out); err != nil {
		return err
	}
	after := time.Now().UnixMilli()

	offset := out.ServerTime - (before+after)/2
	c.mu.Lock()
	c.serverTimeOffset = offset
	c.mu.Unlock()
	c.logger.Debug().Int64("offset_ms", offset).Msg("服务器时间已同步")
	return nil
}

// LoadExchangeInfo fetches and caches the per-symbol trading rules.
func (c *Client) LoadExchangeInfo(ctx context.Context) error {
	var out exchangeInfoResponse
	if err := c.do(ctx, "GET", "/fapi/v1/exchangeInfo", nil, false, &out); err != nil {
		return err
	}
	info := out.toSymbolInfo()
	c.mu.Lock()
	c.symbolInfo = info
	c.mu.Unlock()
	c.logger.Info().Int("symbols", len(info)).Msg("交易规则已加载")
	return nil
}

// SymbolInfo returns the cached trading rules for a symbol, loading the
// exchange info on first use.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	c.mu.RLock()
	loaded := c.symbolInfo != nil
	info, ok := c.symbolInfo[symbol]
	c.mu.RUnlock()
	if !loaded {
		if err := c.LoadExchangeInfo(ctx); err != nil {
			return SymbolInfo{}, err
		}
		c.mu.RLock()
		info, ok = c.symbolInfo[symbol]
		c.mu.RUnlock()
	}
	if !ok {
		return SymbolInfo{}, fmt.Errorf("unknown symbol %s", symbol)
	}
	return info, nil
}

// PerpetualSymbols returns the symbols with an active perpetual
// contract, loading the exchange info on first use.
func (c *Client) PerpetualSymbols(ctx context.Context) (map[string]bool, error) {
	c.mu.RLock()
	loaded := c.symbolInfo != nil
	c.mu.RUnlock()
	if !loaded {
		if err := c.LoadExchangeInfo(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.symbolInfo))
	for symbol, info := range c.symbolInfo {
		if info.Status == "TRADING" && info.ContractType == "PERPETUAL" {
			out[symbol] = true
		}
	}
	return out, nil
}

// Tickers24h returns normalized 24h statistics for all symbols.
func (c *Client) Tickers24h(ctx context.Context) ([]market.Ticker, error) {
	var rows []ticker24h
	if err := c.do(ctx, "GET", "/fapi/v1/ticker/24hr", nil, false, &rows); err != nil {
		return nil, err
	}
	tickers := make([]market.Ticker, len(rows))
	for i, row := range rows {
		tickers[i] = row.normalize()
	}
	return tickers, nil
}

// Ticker24h returns 24h statistics for one symbol.
func (c *Client) Ticker24h(ctx context.Context, symbol string) (market.Ticker, error) {
	var row ticker24h
	params := map[string]string{"symbol": symbol}
	if err := c.do(ctx, "GET", "/fapi/v1/ticker/24hr", params, false, &row); err != nil {
		return market.Ticker{}, err
	}
	return row.normalize(), nil
}

// Klines fetches up to limit closed candles ending at the present,
// paging backwards when a single request cannot cover the range. Pages
// use endTime = earliest open - 1 so no candle is fetched twice.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	var all []market.Candle
	endTime := int64(0)

	for len(all) < limit {
		if err := c.klineLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		batch := limit - len(all)
		if batch > maxKlinesPerRequest {
			batch = maxKlinesPerRequest
		}
		params := map[string]string{
			"symbol":   symbol,
			"interval": interval,
			"limit":    strconv.Itoa(batch),
		}
		if endTime > 0 {
			params["endTime"] = strconv.FormatInt(endTime, 10)
		}

		var raw []byte
		if err := c.do(ctx, "GET", "/fapi/v1/klines", params, false, &raw); err != nil {
			return nil, err
		}
		candles, err := parseKlines(raw)
		if err != nil {
			return nil, fmt.Errorf("parse klines for %s: %w", symbol, err)
		}
		if len(candles) == 0 {
			break
		}

		all = append(candles, all...)
		endTime = candles[0].OpenTime - 1
		if len(candles) < batch {
			break
		}
	}

	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// Balance returns the account balance for one asset, typically USDT.
func (c *Client) Balance(ctx context.Context, asset string) (Balance, error) {
	var rows []Balance
	if err := c.do(ctx, "GET", "/fapi/v2/balance", nil, true, &rows); err != nil {
		return Balance{}, err
	}
	for _, row := range rows {
		if row.Asset == asset {
			return row, nil
		}
	}
	return Balance{}, fmt.Errorf("asset %s not found in balance", asset)
}

// Positions returns open positions, filtering residual dust rows. With
// symbol empty all positions are returned.
func (c *Client) Positions(ctx context.Context, symbol string) ([]Position, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}
	var rows []Position
	if err := c.do(ctx, "GET", "/fapi/v2/positionRisk", params, true, &rows); err != nil {
		return nil, err
	}
	open := rows[:0]
	for _, p := range rows {
		if p.Side() != 0 {
			open = append(open, p)
		}
	}
	return open, nil
}

// UserTrades returns recent fills for a symbol since startTime. A
// failure yields an empty list rather than an error so review flows
// degrade gracefully.
func (c *Client) UserTrades(ctx context.Context, symbol string, startTime int64, limit int) []AccountTrade {
	params := map[string]string{"symbol": symbol}
	if startTime > 0 {
		params["startTime"] = strconv.FormatInt(startTime, 10)
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	var rows []AccountTrade
	if err := c.do(ctx, "GET", "/fapi/v1/userTrades", params, true, &rows); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("获取成交记录失败")
		return nil
	}
	return rows
}

// SetLeverage sets the leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := map[string]string{
		"symbol":   symbol,
		"leverage": strconv.Itoa(leverage),
	}
	return c.do(ctx, "POST", "/fapi/v1/leverage", params, true, nil)
}

// SetMarginType switches the margin mode for a symbol. The exchange
// rejects the call with -4046 when the mode is already set; callers
// treat that as success.
func (c *Client) SetMarginType(ctx context.Context, symbol string, marginType MarginType) error {
	params := map[string]string{
		"symbol":     symbol,
		"marginType": string(marginType),
	}
	err := c.do(ctx, "POST", "/fapi/v1/marginType", params, true, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == -4046 {
		return nil
	}
	return err
}

// OrderRequest describes a new order.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      string
	StopPrice     string
	ClosePosition bool
	ReduceOnly    bool
}

// PlaceOrder submits an order. Quantity and price strings must already
// be quantized to the symbol's step and tick sizes.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	params := map[string]string{
		"symbol": req.Symbol,
		"side":   string(req.Side),
		"type":   string(req.Type),
	}
	if req.ClosePosition {
		params["closePosition"] = "true"
	} else if req.Quantity != "" {
		params["quantity"] = req.Quantity
	}
	if req.StopPrice != "" {
		params["stopPrice"] = req.StopPrice
	}
	if req.ReduceOnly && !req.ClosePosition {
		params["reduceOnly"] = "true"
	}

	var order Order
	if err := c.do(ctx, "POST", "/fapi/v1/order", params, true, &order); err != nil {
		return nil, err
	}
	c.logger.Info().Str("symbol", req.Symbol).Str("side", string(req.Side)).
		Str("type", string(req.Type)).Int64("order_id", order.OrderID).Msg("订单已提交")
	return &order, nil
}

// CancelOrder cancels one order by ID.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": strconv.FormatInt(orderID, 10),
	}
	return c.do(ctx, "DELETE", "/fapi/v1/order", params, true, nil)
}

// CancelAllOrders cancels every open order on a symbol, including
// orphaned stop and take-profit orders after a position closes.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	params := map[string]string{"symbol": symbol}
	return c.do(ctx, "DELETE", "/fapi/v1/allOpenOrders", params, true, nil)
}
