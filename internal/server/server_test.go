package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auxite-wallet/internal/market"
	"auxite-wallet/internal/oracle"
	"auxite-wallet/internal/service"
	"auxite-wallet/internal/wallet"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeBalances struct {
	rows []oracle.Balance
	err  error
}

func (f *fakeBalances) Balances(_ context.Context, holder string) ([]oracle.Balance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

type fakeInfo struct {
	body []byte
	err  error
}

func (f fakeInfo) FetchInfo(context.Context) ([]byte, error) {
	return f.body, f.err
}

func newTestServer(t *testing.T, deps Deps) (*Server, *service.Service) {
	t.Helper()
	svc := service.New(market.NewStore(market.StoreOptions{}), service.Options{}, zerolog.Nop())
	deps.Feed = svc
	srv := New(Options{AllowedOrigins: []string{"http://localhost:3000"}}, deps, zerolog.Nop())
	return srv, svc
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})
	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPricesUsesPollingFormat(t *testing.T) {
	srv, svc := newTestServer(t, Deps{})
	svc.Apply(market.Result{Symbol: market.Gold, Price: 75.19, Source: market.SourceOracle})

	rec := do(t, srv, http.MethodGet, "/api/prices", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, len(market.Symbols))
	assert.Equal(t, "AUXG", rows[0]["symbol"])
	assert.InDelta(t, 75.19, rows[0]["price"], 1e-9)
	assert.InDelta(t, 75.115, rows[0]["bid"], 1e-9)
	assert.InDelta(t, 0.19, rows[0]["change"], 1e-9)
	assert.Len(t, rows[0]["series"], 2)
}

func TestSnapshotReportsHistoryLimit(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})
	rec := do(t, srv, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.EqualValues(t, market.DefaultHistoryLimit, snap["historyLimit"])
	assert.Len(t, snap["rows"], len(market.Symbols))
	assert.Contains(t, snap, "status")
}

func TestTokenCard(t *testing.T) {
	srv, svc := newTestServer(t, Deps{})
	svc.Apply(market.Result{Symbol: market.Gold, Price: 75.19, Source: market.SourceOracle})

	rec := do(t, srv, http.MethodGet, "/api/tokens/xau", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var card market.Card
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	assert.Equal(t, market.Gold, card.Symbol)
	assert.Equal(t, "75.190", card.Price)
	assert.Equal(t, "75.115", card.Bid)
	assert.Equal(t, market.Up, card.Direction)

	rec = do(t, srv, http.MethodGet, "/api/tokens/DOGE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSparklinePNG(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})
	rec := do(t, srv, http.MethodGet, "/api/tokens/AUXS/sparkline.png?width=120&height=40", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestTradeEstimate(t *testing.T) {
	srv, svc := newTestServer(t, Deps{})
	svc.Apply(market.Result{Symbol: market.Gold, Price: 75.145, Source: market.SourceOracle})

	rec := do(t, srv, http.MethodPost, "/api/trade/estimate", `{"symbol":"AUXG","side":"BUY","quantity":"2.5"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var quote map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
	assert.Equal(t, "187.863", quote["display"])
	assert.Equal(t, true, quote["canConfirm"])

	rec = do(t, srv, http.MethodPost, "/api/trade/estimate", `{"symbol":"AUXG","side":"BUY","quantity":""}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
	assert.Equal(t, "—", quote["display"])
	assert.Equal(t, false, quote["canConfirm"])

	rec = do(t, srv, http.MethodPost, "/api/trade/estimate", `{"symbol":"AUXG","side":"HOLD","quantity":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/trade/estimate", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTradeConfirmIsNotImplemented(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})

	rec := do(t, srv, http.MethodPost, "/api/trade/confirm", `{"symbol":"AUXS","side":"SELL","quantity":"1"}`)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["quoteId"])
	assert.Contains(t, body["error"], "demo only")

	rec = do(t, srv, http.MethodPost, "/api/trade/confirm", `{"symbol":"AUXS","side":"SELL","quantity":"0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAllocationCheck(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})

	rec := do(t, srv, http.MethodPost, "/api/allocation/check", `{"address":"0x1234567890abcdef1234567890abcdef12345678"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Demo: 0x123456… has 3 active allocations.")

	rec = do(t, srv, http.MethodPost, "/api/allocation/check", `{"address":""}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "address required")

	rec = do(t, srv, http.MethodPost, "/api/allocation/check", `{"address":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBalances(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})
	rec := do(t, srv, http.MethodGet, "/api/balances/0x1234567890abcdef1234567890abcdef12345678", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	fake := &fakeBalances{rows: []oracle.Balance{{Symbol: market.Gold, Balance: "1.5", Decimals: 6}}}
	srv, _ = newTestServer(t, Deps{Balances: fake})
	rec = do(t, srv, http.MethodGet, "/api/balances/0x1234567890abcdef1234567890abcdef12345678", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance":"1.5"`)

	fake.err = oracle.ErrInvalidAddress
	rec = do(t, srv, http.MethodGet, "/api/balances/xyz", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fake.err = errors.New("rpc down")
	rec = do(t, srv, http.MethodGet, "/api/balances/0x1234567890abcdef1234567890abcdef12345678", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestWalletInfo(t *testing.T) {
	integ := wallet.New(wallet.Config{ProjectID: "wc-123"}, zerolog.Nop())
	srv, _ := newTestServer(t, Deps{Wallet: integ})

	rec := do(t, srv, http.MethodGet, "/api/wallet", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info wallet.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.True(t, info.Enabled)
	assert.Equal(t, "wc-123", info.ProjectID)
	require.NotNil(t, info.DefaultChain)
	assert.Equal(t, wallet.Sepolia.ID, info.DefaultChain.ID)
}

func TestTicksWithoutStorage(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})
	rec := do(t, srv, http.MethodGet, "/api/tokens/AUXG/ticks", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInfoProxy(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})
	rec := do(t, srv, http.MethodGet, "/api/info", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	srv, _ = newTestServer(t, Deps{Info: fakeInfo{body: []byte(`{"version":"1"}`)}})
	rec = do(t, srv, http.MethodGet, "/api/info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"version":"1"}`, rec.Body.String())

	srv, _ = newTestServer(t, Deps{Info: fakeInfo{err: errors.New("dial tcp: refused")}})
	rec = do(t, srv, http.MethodGet, "/api/info", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"fetch_failed"}`, rec.Body.String())
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})

	req := httptest.NewRequest(http.MethodOptions, "/api/prices", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/prices", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStreamPushesSnapshots(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv, svc := newTestServer(t, Deps{Hub: hub})
	hub.Bind(svc)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var first Message
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	require.NotNil(t, first.Snapshot)
	assert.Len(t, first.Snapshot.Rows, len(market.Symbols))

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	row, ok := svc.Apply(market.Result{Symbol: market.Gold, Price: 75.19, Source: market.SourceOracle})
	require.True(t, ok)
	require.NoError(t, hub.HandleUpdate(context.Background(), row))

	var update Message
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "update", update.Type)
	require.NotNil(t, update.Update)
	assert.Equal(t, market.Gold, update.Update.Symbol)
	assert.InDelta(t, 75.19, update.Snapshot.Rows[0].Price, 1e-9)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv, svc := newTestServer(t, Deps{Hub: hub})
	hub.Bind(svc)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	header.Set("Origin", "http://evil.test")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}
