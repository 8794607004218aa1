package gateway

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
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"signal-executor/order"
)

// 测试中替换以获得确定的签名
var timeNowMillis = func() int64 { return time.Now().UnixMilli() }

type authType int

const (
	authNone authType = iota
	authAPIKey
	authSigned
)

// BinanceConfig REST 客户端配置
type BinanceConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow time.Duration
	OCOEnabled bool
	HTTPClient *http.Client
	Limiter    RateLimiter // 可选，整体请求权重限流
}

// BinanceClient 现货 REST 客户端，请求使用 HMAC-SHA256 签名。
type BinanceClient struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow time.Duration
	ocoEnabled bool
	httpClient *http.Client
	limiter    RateLimiter
}

func NewBinanceClient(cfg BinanceConfig) *BinanceClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewDefaultHTTPClient()
	}
	return &BinanceClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		recvWindow: cfg.RecvWindow,
		ocoEnabled: cfg.OCOEnabled,
		httpClient: cfg.HTTPClient,
		limiter:    cfg.Limiter,
	}
}

// SymbolFilters 调用 /api/v3/exchangeInfo 获取交易对 filters。
func (c *BinanceClient) SymbolFilters(ctx context.Context, symbol string) ([]order.SymbolFilter, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, authNone)
	if err != nil {
		return nil, err
	}
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode exchangeInfo: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol == symbol {
			return s.Filters, nil
		}
	}
	return nil, fmt.Errorf("symbol %s not found in exchangeInfo", symbol)
}

// SymbolPrice 调用 /api/v3/ticker/price
func (c *BinanceClient) SymbolPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/ticker/price", params, authNone)
	if err != nil {
		return decimal.Zero, err
	}
	var tp tickerPrice
	if err := json.Unmarshal(body, &tp); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker price: %w", err)
	}
	price, err := decimal.NewFromString(tp.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", tp.Price, err)
	}
	return price, nil
}

// Account 调用 /api/v3/account
func (c *BinanceClient) Account(ctx context.Context) (*AccountInfo, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{}, authSigned)
	if err != nil {
		return nil, err
	}
	var acct AccountInfo
	if err := json.Unmarshal(body, &acct); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &acct, nil
}

// AvailableBalance 返回资产可用余额
func (c *BinanceClient) AvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	acct, err := c.Account(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Free(asset), nil
}

// OpenOrders 调用 /api/v3/openOrders
func (c *BinanceClient) OpenOrders(ctx context.Context, symbol string) ([]OrderResponse, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/openOrders", params, authSigned)
	if err != nil {
		return nil, err
	}
	var orders []OrderResponse
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	return orders, nil
}

func (c *BinanceClient) OpenOrderCount(ctx context.Context, symbol string) (int, error) {
	orders, err := c.OpenOrders(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return len(orders), nil
}

// CreateOrder 调用 /api/v3/order，返回完整响应（含 fills）。
func (c *BinanceClient) CreateOrder(ctx context.Context, req order.Request) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", req.Quantity)
	params.Set("newOrderRespType", "FULL")
	if req.Price != "" {
		params.Set("price", req.Price)
	}
	if req.StopPrice != "" {
		params.Set("stopPrice", req.StopPrice)
	}
	if req.TimeInForce != "" {
		params.Set("timeInForce", string(req.TimeInForce))
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/api/v3/order", params, authSigned)
	if err != nil {
		return nil, err
	}
	return decodeOrderResponse(body)
}

// QueryOrder 按 clientOrderId 查单，用于重试后确认上一次提交是否已成交。
func (c *BinanceClient) QueryOrder(ctx context.Context, symbol, clientOrderID string) (*OrderResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/order", params, authSigned)
	if err != nil {
		return nil, err
	}
	return decodeOrderResponse(body)
}

// CreateOCO 调用 /api/v3/order/oco。未开启时返回 ErrOCOUnsupported。
func (c *BinanceClient) CreateOCO(ctx context.Context, req OCORequest) (*OCOResponse, error) {
	if !c.ocoEnabled {
		return nil, ErrOCOUnsupported
	}
	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("quantity", req.Quantity)
	params.Set("price", req.Price)
	params.Set("stopPrice", req.StopPrice)
	params.Set("stopLimitPrice", req.StopLimitPrice)
	tif := req.StopLimitTimeInForce
	if tif == "" {
		tif = order.TimeInForceGTC
	}
	params.Set("stopLimitTimeInForce", string(tif))
	params.Set("newOrderRespType", "FULL")
	if req.ListClientOrderID != "" {
		params.Set("listClientOrderId", req.ListClientOrderID)
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/api/v3/order/oco", params, authSigned)
	if err != nil {
		return nil, err
	}
	var resp OCOResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode oco response: %w", err)
	}
	resp.Raw = json.RawMessage(body)
	return &resp, nil
}

// CancelOrder 调用 DELETE /api/v3/order
func (c *BinanceClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	_, err := c.doRequest(ctx, http.MethodDelete, "/api/v3/order", params, authSigned)
	return err
}

// StartUserStream 申请 listenKey
func (c *BinanceClient) StartUserStream(ctx context.Context) (string, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/api/v3/userDataStream", url.Values{}, authAPIKey)
	if err != nil {
		return "", err
	}
	var lk listenKeyResp
	if err := json.Unmarshal(body, &lk); err != nil {
		return "", fmt.Errorf("decode listenKey: %w", err)
	}
	if lk.ListenKey == "" {
		return "", errors.New("empty listenKey")
	}
	return lk.ListenKey, nil
}

// KeepAliveUserStream 延长 listenKey 有效期（60 分钟过期）
func (c *BinanceClient) KeepAliveUserStream(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	_, err := c.doRequest(ctx, http.MethodPut, "/api/v3/userDataStream", params, authAPIKey)
	return err
}

// CloseUserStream 关闭 listenKey
func (c *BinanceClient) CloseUserStream(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	_, err := c.doRequest(ctx, http.MethodDelete, "/api/v3/userDataStream", params, authAPIKey)
	return err
}

func decodeOrderResponse(body []byte) (*OrderResponse, error) {
	var resp OrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	resp.Raw = json.RawMessage(body)
	return &resp, nil
}

func (c *BinanceClient) doRequest(ctx context.Context, method, path string, params url.Values, auth authType) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if auth == authSigned {
		params.Set("timestamp", strconv.FormatInt(timeNowMillis(), 10))
		if c.recvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
		}
	}
	payload := params.Encode()
	if auth == authSigned {
		// signature 必须追加在已签名串之后
		payload += "&signature=" + sign(c.apiSecret, payload)
	}

	var (
		req *http.Request
		err error
	)
	endpoint := c.baseURL + path
	if method == http.MethodGet || method == http.MethodDelete {
		if payload != "" {
			endpoint += "?" + payload
		}
		req, err = http.NewRequestWithContext(ctx, method, endpoint, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(payload))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	if auth != authNone {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// sign HMAC-SHA256，十六进制输出
func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
