package deriv

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-loop/pkg/venue"
)

// fakeVenue answers requests with canned payloads keyed by the request's verb.
func fakeVenue(t *testing.T, handle func(req map[string]any) map[string]any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req map[string]any
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := handle(req)
			resp["req_id"] = req["req_id"]
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := New(Config{
		Endpoint:  "ws" + strings.TrimPrefix(srv.URL, "http"),
		AppID:     "1089",
		RateLimit: 100,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientDecodesPayloads(t *testing.T) {
	srv := fakeVenue(t, func(req map[string]any) map[string]any {
		switch {
		case req["balance"] != nil:
			return map[string]any{"msg_type": "balance", "balance": map[string]any{"balance": 1000.5, "currency": "USD"}}
		case req["ticks_history"] != nil:
			return map[string]any{"msg_type": "candles", "candles": []map[string]any{
				{"epoch": 1, "open": 1, "high": 2, "low": 0.5, "close": 1.5},
				{"epoch": 2, "open": 1.5, "high": 2.5, "low": 1, "close": 2},
			}}
		case req["active_symbols"] != nil:
			return map[string]any{"msg_type": "active_symbols", "active_symbols": []map[string]any{
				{"symbol": "frxEURUSD", "market": "forex", "is_trading_suspended": 0, "exchange_is_open": 1},
			}}
		}
		return map[string]any{"msg_type": "unknown"}
	})
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bal, err := c.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000.5, bal.Amount)

	candles, err := c.HistoricalCandles(ctx, "frxEURUSD", 2, 86400)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 2.0, candles[1].Close)

	symbols, err := c.AssetIndex(ctx)
	require.NoError(t, err)
	require.Len(t, symbols, 1)
	assert.True(t, bool(symbols[0].ExchangeIsOpen))
	assert.False(t, bool(symbols[0].IsTradingSuspended))
}

func TestClientMapsErrorPayloads(t *testing.T) {
	srv := fakeVenue(t, func(req map[string]any) map[string]any {
		switch {
		case req["sell"] != nil:
			return map[string]any{"msg_type": "sell", "error": map[string]any{
				"code": "InvalidSellContractProposal", "message": "Resale of this contract is not offered.",
			}}
		case req["proposal_open_contract"] != nil:
			return map[string]any{"msg_type": "proposal_open_contract", "proposal_open_contract": map[string]any{}}
		}
		return map[string]any{"msg_type": "unknown"}
	})
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Sell(ctx, 42, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, venue.ErrResaleNotOffered))
	var apiErr *venue.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "sell", apiErr.MsgType)

	_, err = c.ContractDetail(ctx, 42)
	assert.True(t, errors.Is(err, venue.ErrContractNotFound))
}

func TestClientClosed(t *testing.T) {
	c, err := New(Config{Endpoint: "ws://127.0.0.1:1"})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	_, err = c.Balance(context.Background())
	assert.ErrorIs(t, err, venue.ErrClosed)
}
