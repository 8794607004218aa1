package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-executor/order"
)

func fixedClock(t *testing.T) {
	timeNowMillis = func() int64 { return 1234567890000 } // deterministic
	t.Cleanup(func() { timeNowMillis = func() int64 { return time.Now().UnixMilli() } })
}

func newTestClient(ts *httptest.Server, oco bool) *BinanceClient {
	return NewBinanceClient(BinanceConfig{
		BaseURL:    ts.URL,
		APIKey:     "key",
		APISecret:  "secret",
		RecvWindow: 5 * time.Second,
		OCOEnabled: oco,
		HTTPClient: ts.Client(),
	})
}

func TestCreateOrderSignedFull(t *testing.T) {
	fixedClock(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))

		body, _ := io.ReadAll(r.Body)
		payload, sig, found := strings.Cut(string(body), "&signature=")
		require.True(t, found, "missing signature")
		assert.Equal(t, sign("secret", payload), sig)

		form, err := url.ParseQuery(payload)
		require.NoError(t, err)
		assert.Equal(t, "0.00200", form.Get("quantity"))
		assert.Equal(t, "MARKET", form.Get("type"))
		assert.Equal(t, "FULL", form.Get("newOrderRespType"))
		assert.Equal(t, "cid-1", form.Get("newClientOrderId"))
		assert.Equal(t, "1234567890000", form.Get("timestamp"))
		assert.Equal(t, "5000", form.Get("recvWindow"))

		io.WriteString(w, `{"symbol":"BTCUSDT","orderId":28,"clientOrderId":"cid-1","status":"FILLED",
			"executedQty":"0.00200","cummulativeQuoteQty":"100.00",
			"fills":[{"price":"50000.00","qty":"0.00200","commission":"0.1","commissionAsset":"USDT","tradeId":56}]}`)
	}))
	defer ts.Close()

	resp, err := newTestClient(ts, false).CreateOrder(context.Background(), order.Request{
		Symbol: "BTCUSDT", Side: order.SideBuy, Type: order.TypeMarket, Quantity: "0.00200", ClientOrderID: "cid-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(28), resp.OrderID)
	assert.Equal(t, "FILLED", resp.Status)
	assert.Equal(t, "100.00", resp.CumulativeQuoteQty)
	assert.NotEmpty(t, resp.Raw)

	fills := resp.OrderFills()
	require.Len(t, fills, 1)
	assert.Equal(t, int64(56), fills[0].TradeID)
	assert.True(t, fills[0].QuoteQty().Equal(decimal.NewFromInt(100)))
}

func TestAPIErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
		kind      error
	}{
		{"余额不足", 400, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`, false, ErrInsufficientBalance},
		{"重复订单", 400, `{"code":-2010,"msg":"Duplicate order sent."}`, false, ErrDuplicateOrder},
		{"其他拒单", 400, `{"code":-2010,"msg":"Filter failure: LOT_SIZE"}`, false, ErrOrderRejected},
		{"限流", 429, `{"code":-1003,"msg":"Too many requests."}`, true, nil},
		{"超时", 400, `{"code":-1007,"msg":"Timeout waiting for response from backend server."}`, true, nil},
		{"网关错误", 502, `<html>bad gateway</html>`, true, nil},
		{"参数错误", 400, `{"code":-1013,"msg":"Invalid quantity."}`, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer ts.Close()

			_, err := newTestClient(ts, false).CreateOrder(context.Background(), order.Request{Symbol: "BTCUSDT", Side: order.SideBuy, Type: order.TypeMarket, Quantity: "1"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, IsTransient(err))
			apiErr, ok := AsAPIError(err)
			require.True(t, ok)
			assert.Equal(t, tt.status, apiErr.HTTPStatus)
			if tt.kind != nil {
				assert.ErrorIs(t, err, tt.kind)
			}
		})
	}
}

func TestIsTransientNetwork(t *testing.T) {
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(&url.Error{Op: "Post", URL: "x", Err: io.ErrUnexpectedEOF}))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("decode order response: bad json")))
	assert.False(t, IsTransient(nil))
}

func TestMarketDataEndpoints(t *testing.T) {
	fixedClock(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/exchangeInfo":
			assert.Empty(t, r.Header.Get("X-MBX-APIKEY"))
			io.WriteString(w, `{"symbols":[{"symbol":"BTCUSDT","filters":[
				{"filterType":"PRICE_FILTER","minPrice":"0.01","maxPrice":"1000000","tickSize":"0.01000000"},
				{"filterType":"LOT_SIZE","minQty":"0.00001000","maxQty":"9000.00000000","stepSize":"0.00001000"},
				{"filterType":"NOTIONAL","minNotional":"5.00000000","applyMinToMarket":true}]}]}`)
		case "/api/v3/ticker/price":
			io.WriteString(w, `{"symbol":"BTCUSDT","price":"50123.45000000"}`)
		case "/api/v3/account":
			assert.Contains(t, r.URL.RawQuery, "signature=")
			io.WriteString(w, `{"canTrade":true,"balances":[{"asset":"USDT","free":"1000.50","locked":"1"},{"asset":"BTC","free":"0","locked":"0"}]}`)
		case "/api/v3/openOrders":
			io.WriteString(w, `[{"symbol":"BTCUSDT","orderId":1,"status":"NEW"},{"symbol":"BTCUSDT","orderId":2,"status":"NEW"}]`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer ts.Close()
	c := newTestClient(ts, false)
	ctx := context.Background()

	filters, err := c.SymbolFilters(ctx, "BTCUSDT")
	require.NoError(t, err)
	rules := order.ParseFilters("BTCUSDT", filters)
	assert.Equal(t, "0.00001", rules.StepSize.String())
	assert.Equal(t, "5", rules.MinNotional.String())

	_, err = c.SymbolFilters(ctx, "ETHUSDT")
	assert.Error(t, err)

	price, err := c.SymbolPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "50123.45", price.String())

	bal, err := c.AvailableBalance(ctx, "USDT")
	require.NoError(t, err)
	assert.Equal(t, "1000.5", bal.String())

	n, err := c.OpenOrderCount(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAccountDecodesSummary(t *testing.T) {
	fixedClock(t)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/account", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		io.WriteString(w, `{"makerCommission":10,"takerCommission":12,"canTrade":true,"canWithdraw":false,
			"canDeposit":true,"accountType":"SPOT","permissions":["SPOT","MARGIN"],
			"balances":[{"asset":"USDT","free":"900.5","locked":"1.5"}]}`)
	}))
	defer ts.Close()

	acct, err := newTestClient(ts, false).Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SPOT", acct.AccountType)
	assert.Equal(t, int64(10), acct.MakerCommission)
	assert.Equal(t, int64(12), acct.TakerCommission)
	assert.False(t, acct.CanWithdraw)
	assert.True(t, acct.CanDeposit)
	assert.Equal(t, []string{"SPOT", "MARGIN"}, acct.Permissions)
	assert.True(t, acct.Free("USDT").Equal(decimal.RequireFromString("900.5")))
}

func TestCreateOCO(t *testing.T) {
	fixedClock(t)
	_, err := NewBinanceClient(BinanceConfig{}).CreateOCO(context.Background(), OCORequest{})
	assert.ErrorIs(t, err, ErrOCOUnsupported)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/order/oco", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "SELL", r.PostForm.Get("side"))
		assert.Equal(t, "52000.00", r.PostForm.Get("price"))
		assert.Equal(t, "49000.00", r.PostForm.Get("stopPrice"))
		assert.Equal(t, "48951.00", r.PostForm.Get("stopLimitPrice"))
		assert.Equal(t, "GTC", r.PostForm.Get("stopLimitTimeInForce"))
		io.WriteString(w, `{"orderListId":7,"contingencyType":"OCO","listStatusType":"EXEC_STARTED","listOrderStatus":"EXECUTING",
			"symbol":"BTCUSDT","orders":[{"symbol":"BTCUSDT","orderId":11,"clientOrderId":"a"},{"symbol":"BTCUSDT","orderId":12,"clientOrderId":"b"}]}`)
	}))
	defer ts.Close()

	resp, err := newTestClient(ts, true).CreateOCO(context.Background(), OCORequest{
		Symbol: "BTCUSDT", Side: order.SideSell, Quantity: "0.01",
		Price: "52000.00", StopPrice: "49000.00", StopLimitPrice: "48951.00",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), resp.OrderListID)
	require.Len(t, resp.Orders, 2)
}

func TestUserStreamKeys(t *testing.T) {
	var methods []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/userDataStream", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		methods = append(methods, r.Method)
		if r.Method == http.MethodPost {
			io.WriteString(w, `{"listenKey":"lk-1"}`)
			return
		}
		io.WriteString(w, `{}`)
	}))
	defer ts.Close()
	c := newTestClient(ts, false)

	key, err := c.StartUserStream(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "lk-1", key)
	require.NoError(t, c.KeepAliveUserStream(context.Background(), key))
	require.NoError(t, c.CloseUserStream(context.Background(), key))
	assert.Equal(t, []string{http.MethodPost, http.MethodPut, http.MethodDelete}, methods)
}
