package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"grid-trader-go/market"
	"grid-trader-go/metrics"
	"grid-trader-go/order"
)

// BinanceRESTClient 签名版现货REST客户端；HTTPClient 可注入 httptest。
// 实现 order.Exchange。
type BinanceRESTClient struct {
	BaseURL    string
	APIKey     string
	Secret     string
	HTTPClient *http.Client
	Limiter    RateLimiter
	// 限价单价格的小数位数；现货 BTCUSDT 为2。
	PriceDecimals int
}

// NewDefaultHTTPClient 带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// Balance 某资产的可用与冻结余额。
type Balance struct {
	Free   float64
	Locked float64
}

// SymbolFilters 交易对的下单约束，来自 exchangeInfo。
// StepSize 保留交易所原始增量字符串，交给 order.StepSizeDigits 解析。
type SymbolFilters struct {
	StepSize    string
	MinNotional float64
}

func (c *BinanceRESTClient) do(ctx context.Context, action, method, path string, params map[string]string, signed bool, out interface{}) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		c.Limiter.Wait()
	}
	start := time.Now()
	metrics.RestRequests.WithLabelValues(action).Inc()
	defer func() {
		metrics.RestLatency.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}()

	endpoint := c.BaseURL + path
	if signed {
		query, sig := SignParams(params, c.Secret)
		endpoint += "?" + query + "&signature=" + url.QueryEscape(sig)
	} else if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		endpoint += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		metrics.RestErrors.WithLabelValues(action).Inc()
		return err
	}
	if c.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		metrics.RestErrors.WithLabelValues(action).Inc()
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		metrics.RestErrors.WithLabelValues(action).Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s status %d: %s", action, path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.RestErrors.WithLabelValues(action).Inc()
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}

type accountResp struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// GetBalance 查询单一资产余额（free+locked分开给出）。
func (c *BinanceRESTClient) GetBalance(ctx context.Context, asset string) (Balance, error) {
	var acct accountResp
	if err := c.do(ctx, "account", http.MethodGet, "/api/v3/account", map[string]string{}, true, &acct); err != nil {
		return Balance{}, err
	}
	for _, b := range acct.Balances {
		if b.Asset != asset {
			continue
		}
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			return Balance{}, fmt.Errorf("parse free balance %q: %w", b.Free, err)
		}
		locked, err := strconv.ParseFloat(b.Locked, 64)
		if err != nil {
			return Balance{}, fmt.Errorf("parse locked balance %q: %w", b.Locked, err)
		}
		return Balance{Free: free, Locked: locked}, nil
	}
	return Balance{}, nil
}

// GetTickerPrice 查询最新成交价。
func (c *BinanceRESTClient) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	var resp struct {
		Price string `json:"price"`
	}
	params := map[string]string{"symbol": symbol}
	if err := c.do(ctx, "ticker", http.MethodGet, "/api/v3/ticker/price", params, false, &resp); err != nil {
		return 0, err
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse ticker price %q: %w", resp.Price, err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("non-positive ticker price %q", resp.Price)
	}
	return price, nil
}

// GetKlines 拉取历史K线。交易所返回的是混合类型数组，
// 位置0为开盘时间，位置4为收盘价。
func (c *BinanceRESTClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	var raw [][]json.RawMessage
	params := map[string]string{
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	}
	if err := c.do(ctx, "klines", http.MethodGet, "/api/v3/klines", params, false, &raw); err != nil {
		return nil, err
	}
	candles := make([]market.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 5 {
			return nil, fmt.Errorf("short kline row: %d fields", len(k))
		}
		var openMs int64
		if err := json.Unmarshal(k[0], &openMs); err != nil {
			return nil, fmt.Errorf("parse kline open time: %w", err)
		}
		var closeStr string
		if err := json.Unmarshal(k[4], &closeStr); err != nil {
			return nil, fmt.Errorf("parse kline close: %w", err)
		}
		closePrice, err := strconv.ParseFloat(closeStr, 64)
		if err != nil {
			return nil, fmt.Errorf("parse kline close %q: %w", closeStr, err)
		}
		candles = append(candles, market.Candle{
			OpenTime: time.UnixMilli(openMs).UTC(),
			Close:    closePrice,
		})
	}
	return candles, nil
}

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			StepSize    string `json:"stepSize"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// GetExchangeFilters 取 LOT_SIZE 步长与最小名义。每个symbol只需取
// 一次，调用方缓存结果。
func (c *BinanceRESTClient) GetExchangeFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	var info exchangeInfoResp
	params := map[string]string{"symbol": symbol}
	if err := c.do(ctx, "exchangeInfo", http.MethodGet, "/api/v3/exchangeInfo", params, false, &info); err != nil {
		return SymbolFilters{}, err
	}
	var out SymbolFilters
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				out.StepSize = f.StepSize
			case "NOTIONAL", "MIN_NOTIONAL":
				if f.MinNotional != "" {
					v, err := strconv.ParseFloat(f.MinNotional, 64)
					if err != nil {
						return SymbolFilters{}, fmt.Errorf("parse minNotional %q: %w", f.MinNotional, err)
					}
					out.MinNotional = v
				}
			}
		}
	}
	if out.StepSize == "" {
		return SymbolFilters{}, fmt.Errorf("no LOT_SIZE filter for %s", symbol)
	}
	return out, nil
}

type orderResp struct {
	OrderID       json.Number `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId"`
	Symbol        string      `json:"symbol"`
	Side          string      `json:"side"`
	Price         string      `json:"price"`
	OrigQty       string      `json:"origQty"`
	Status        string      `json:"status"`
}

func (r orderResp) toLiveOrder() order.LiveOrder {
	price, _ := strconv.ParseFloat(r.Price, 64)
	qty, _ := strconv.ParseFloat(r.OrigQty, 64)
	return order.LiveOrder{
		OrderID:  r.OrderID.String(),
		ClientID: r.ClientOrderID,
		Symbol:   r.Symbol,
		Side:     order.Side(r.Side),
		Price:    price,
		Quantity: qty,
		Status:   order.Status(r.Status),
	}
}

// PlaceLimit 挂GTC限价单。数量用 decimal 原样输出，避免浮点格式化
// 造成的精度拒单。
func (c *BinanceRESTClient) PlaceLimit(ctx context.Context, symbol string, side order.Side, price float64, qty decimal.Decimal, clientID string) (order.LiveOrder, error) {
	decimals := c.PriceDecimals
	if decimals <= 0 {
		decimals = 2
	}
	params := map[string]string{
		"symbol":      symbol,
		"side":        string(side),
		"type":        "LIMIT",
		"timeInForce": "GTC",
		"price":       strconv.FormatFloat(price, 'f', decimals, 64),
		"quantity":    qty.String(),
	}
	if clientID != "" {
		params["newClientOrderId"] = clientID
	}
	var resp orderResp
	if err := c.do(ctx, "place", http.MethodPost, "/api/v3/order", params, true, &resp); err != nil {
		return order.LiveOrder{}, err
	}
	if resp.OrderID.String() == "" || resp.OrderID.String() == "0" {
		return order.LiveOrder{}, fmt.Errorf("empty orderId in place response")
	}
	o := resp.toLiveOrder()
	if o.Status == "" {
		o.Status = order.StatusNew
	}
	return o, nil
}

// OrderStatus 查询单笔订单状态。
func (c *BinanceRESTClient) OrderStatus(ctx context.Context, symbol, orderID string) (order.Status, error) {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": orderID,
	}
	var resp orderResp
	if err := c.do(ctx, "status", http.MethodGet, "/api/v3/order", params, true, &resp); err != nil {
		return "", err
	}
	return order.Status(resp.Status), nil
}

// CancelOrder 撤单。
func (c *BinanceRESTClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": orderID,
	}
	return c.do(ctx, "cancel", http.MethodDelete, "/api/v3/order", params, true, nil)
}

// OpenOrders 列出交易对当前全部挂单。
func (c *BinanceRESTClient) OpenOrders(ctx context.Context, symbol string) ([]order.LiveOrder, error) {
	params := map[string]string{"symbol": symbol}
	var resp []orderResp
	if err := c.do(ctx, "openOrders", http.MethodGet, "/api/v3/openOrders", params, true, &resp); err != nil {
		return nil, err
	}
	out := make([]order.LiveOrder, 0, len(resp))
	for _, r := range resp {
		out = append(out, r.toLiveOrder())
	}
	return out, nil
}
