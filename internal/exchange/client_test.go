package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Options{
		APIKey:    "test-key",
		APISecret: "test-secret",
		BaseURL:   server.URL,
		Timeout:   5 * time.Second,
	}, zerolog.Nop())
	return client, server
}

func TestCanonicalQuerySorted(t *testing.T) {
	q := canonicalQuery(map[string]string{
		"symbol":    "BTCUSDT",
		"interval":  "1h",
		"limit":     "100",
		"endTime":   "123",
		"timestamp": "456",
	})
	assert.Equal(t, "endTime=123&interval=1h&limit=100&symbol=BTCUSDT&timestamp=456", q)
}

func TestSignedRequestSignature(t *testing.T) {
	var gotQuery string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))
		fmt.Fprint(w, `[]`)
	})

	_, err := client.Positions(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	// signature is the HMAC of the exact bytes preceding &signature=
	idx := strings.LastIndex(gotQuery, "&signature=")
	require.Greater(t, idx, 0)
	payload := gotQuery[:idx]
	sig := gotQuery[idx+len("&signature="):]

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(payload))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), sig)

	// canonical order holds for the signed payload too
	keys := []string{}
	for _, kv := range strings.Split(payload, "&") {
		keys = append(keys, strings.SplitN(kv, "=", 2)[0])
	}
	for i := 1; i < len(keys); i++ {
		assert.LessOrEqual(t, keys[i-1], keys[i])
	}
	assert.Contains(t, payload, "recvWindow=5000")
	assert.Contains(t, payload, "timestamp=")
}

func TestSignedRequestWithoutCredentials(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://127.0.0.1:0"}, zerolog.Nop())
	_, err := client.Balance(context.Background(), "USDT")
	assert.True(t, IsAuthError(err))
}

func TestSyncTime(t *testing.T) {
	serverTime := time.Now().UnixMilli() + 7500
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/time", r.URL.Path)
		fmt.Fprintf(w, `{"serverTime":%d}`, serverTime)
	})

	require.NoError(t, client.SyncTime(context.Background()))
	assert.InDelta(t, 7500, client.serverTimeOffset, 500)
}

func TestRetryRecoversAfterServerError(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"code":-1000,"msg":"internal error"}`)
			return
		}
		fmt.Fprint(w, `[{"asset":"USDT","balance":"100","availableBalance":"100","crossUnPnl":"0","crossWalletBalance":"100"}]`)
	})

	b, err := client.Balance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, b.Balance)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestClockSkewTriggersResync(t *testing.T) {
	serverTime := time.Now().UnixMilli() + 60_000
	var signedCalls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fapi/v1/time" {
			fmt.Fprintf(w, `{"serverTime":%d}`, serverTime)
			return
		}
		if atomic.AddInt32(&signedCalls, 1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`)
			return
		}
		fmt.Fprint(w, `[]`)
	})

	_, err := client.Positions(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	// the rejection re-synced the clock before the retry
	assert.EqualValues(t, 2, atomic.LoadInt32(&signedCalls))
	assert.InDelta(t, 60_000, client.serverTimeOffset, 1_000)
}

func TestAPIErrorMapping(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`)
	})

	_, err := client.Balance(context.Background(), "USDT")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, -1021, apiErr.Code)
	assert.Equal(t, 400, apiErr.HTTPStatus)
	assert.True(t, IsClockSkew(err))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsAuthError(err))
}

func TestRateLimitError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":-1003,"msg":"Too many requests"}`)
	})

	_, err := client.Tickers24h(context.Background())
	assert.True(t, IsRateLimited(err))
	assert.True(t, IsRetryable(err))
}

func TestAuthErrorNotRetryable(t *testing.T) {
	err := &APIError{Code: -1022, HTTPStatus: 400, Message: "Signature for this request is not valid."}
	assert.True(t, IsAuthError(err))
	assert.False(t, IsRetryable(err))

	notional := &APIError{Code: -4164, HTTPStatus: 400}
	assert.True(t, IsMinNotional(notional))
	assert.False(t, IsRetryable(notional))
}

func TestKlinesSinglePage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		fmt.Fprint(w, `[
			[1700000000000,"100","110","90","105","1234.5",1700003599999,"0",0,"0","0","0"],
			[1700003600000,"105","115","95","110","2345.6",1700007199999,"0",0,"0","0","0"]
		]`)
	})

	candles, err := client.Klines(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, int64(1700000000000), candles[0].OpenTime)
	assert.Equal(t, 105.0, candles[0].Close)
	assert.Equal(t, 110.0, candles[1].Close)
	assert.Equal(t, 2345.6, candles[1].Volume)
}

func TestKlinesPagesBackwards(t *testing.T) {
	// limit of 2500 forces two pages; the second request must carry
	// endTime = earliest open - 1 of the first page
	var requests []string
	hour := int64(3600_000)
	base := int64(1700000000000)

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.Query().Get("endTime"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		end := base + 2500*hour
		if et := r.URL.Query().Get("endTime"); et != "" {
			ms, _ := strconv.ParseInt(et, 10, 64)
			end = ms + 1
		}
		rows := make([]string, limit)
		for i := 0; i < limit; i++ {
			open := end - int64(limit-i)*hour
			rows[i] = fmt.Sprintf(`[%d,"1","1","1","1","1",%d,"0",0,"0","0","0"]`, open, open+hour-1)
		}
		fmt.Fprint(w, "["+strings.Join(rows, ",")+"]")
	})

	candles, err := client.Klines(context.Background(), "ETHUSDT", "1h", 2500)
	require.NoError(t, err)
	require.Len(t, candles, 2500)
	require.Len(t, requests, 2)

	assert.Empty(t, requests[0])
	firstOpen := base + 2500*hour - 1500*hour
	assert.Equal(t, strconv.FormatInt(firstOpen-1, 10), requests[1])

	// chronological order with no duplicates
	for i := 1; i < len(candles); i++ {
		assert.Equal(t, candles[i-1].OpenTime+hour, candles[i].OpenTime)
	}
}

func TestPositionsFiltersDust(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"symbol":"BTCUSDT","positionAmt":"0.500","entryPrice":"50000","markPrice":"50100","unRealizedProfit":"50","leverage":"5","marginType":"isolated","liquidationPrice":"41000","positionSide":"BOTH"},
			{"symbol":"ETHUSDT","positionAmt":"0.000000001","entryPrice":"0","markPrice":"3000","unRealizedProfit":"0","leverage":"5","marginType":"cross","liquidationPrice":"0","positionSide":"BOTH"},
			{"symbol":"SOLUSDT","positionAmt":"-2","entryPrice":"150","markPrice":"149","unRealizedProfit":"2","leverage":"3","marginType":"isolated","liquidationPrice":"210","positionSide":"BOTH"}
		]`)
	})

	positions, err := client.Positions(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, 1, positions[0].Side())
	assert.Equal(t, -1, positions[1].Side())
}

func TestBalancePicksAsset(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"asset":"BNB","balance":"0.1","availableBalance":"0.1","crossUnPnl":"0","crossWalletBalance":"0.1"},
			{"asset":"USDT","balance":"10000.5","availableBalance":"9500","crossUnPnl":"12.5","crossWalletBalance":"10000.5"}
		]`)
	})

	b, err := client.Balance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, 10000.5, b.Balance)
	assert.Equal(t, 9500.0, b.AvailableBalance)

	_, err = client.Balance(context.Background(), "BTC")
	assert.Error(t, err)
}

func TestSetMarginTypeAlreadySet(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-4046,"msg":"No need to change margin type."}`)
	})

	err := client.SetMarginType(context.Background(), "BTCUSDT", MarginTypeIsolated)
	assert.NoError(t, err)
}

func TestPlaceOrderParams(t *testing.T) {
	var got map[string]string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = map[string]string{}
		for k, v := range r.URL.Query() {
			got[k] = v[0]
		}
		fmt.Fprint(w, `{"orderId":42,"symbol":"BTCUSDT","side":"SELL","type":"STOP_MARKET","status":"NEW","price":"0","avgPrice":"0","origQty":"0","executedQty":"0","stopPrice":"49800","closePosition":true}`)
	})

	order, err := client.PlaceOrder(context.Background(), OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          OrderSideSell,
		Type:          OrderTypeStopMarket,
		StopPrice:     "49800",
		ClosePosition: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), order.OrderID)

	assert.Equal(t, "STOP_MARKET", got["type"])
	assert.Equal(t, "49800", got["stopPrice"])
	assert.Equal(t, "true", got["closePosition"])
	assert.NotContains(t, got, "quantity")
}

func TestUserTradesDegradesToEmpty(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":-1000,"msg":"internal error"}`)
	})

	trades := client.UserTrades(context.Background(), "BTCUSDT", 0, 100)
	assert.Empty(t, trades)
}

func TestExchangeInfoFilters(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"serverTime":1700000000000,"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","pricePrecision":2,"quantityPrecision":3,"filters":[
				{"filterType":"PRICE_FILTER","tickSize":"0.10"},
				{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"},
				{"filterType":"MIN_NOTIONAL","notional":"100"}
			]}
		]}`)
	})

	info, err := client.SymbolInfo(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.10, info.TickSize)
	assert.Equal(t, 0.001, info.StepSize)
	assert.Equal(t, 100.0, info.MinNotional)
	assert.Equal(t, 3, info.QuantityPrecision)

	_, err = client.SymbolInfo(context.Background(), "NOPEUSDT")
	assert.Error(t, err)
}

func TestPerpetualSymbols(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"symbols":[
			{"symbol":"BTCUSDT","status":"TRADING","contractType":"PERPETUAL","pricePrecision":2,"quantityPrecision":3,"filters":[]},
			{"symbol":"BTCUSDT_240927","status":"TRADING","contractType":"CURRENT_QUARTER","pricePrecision":2,"quantityPrecision":3,"filters":[]},
			{"symbol":"DELISTUSDT","status":"SETTLING","contractType":"PERPETUAL","pricePrecision":2,"quantityPrecision":0,"filters":[]}
		]}`)
	})

	perps, err := client.PerpetualSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"BTCUSDT": true}, perps)
}
