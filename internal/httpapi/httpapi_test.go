package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratrun/stratrun/internal/config"
	"github.com/stratrun/stratrun/internal/domain"
	"github.com/stratrun/stratrun/internal/engine"
	"github.com/stratrun/stratrun/internal/journal"
	"github.com/stratrun/stratrun/internal/portfolio"
	"github.com/stratrun/stratrun/internal/state"
	"github.com/stratrun/stratrun/internal/telemetry"
)

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	book := portfolio.New(decimal.NewFromInt(250_000), false)
	eng := engine.New(engine.Deps{
		Config:  config.Default(),
		Book:    book,
		States:  state.NewManager(book, time.Hour, state.NewMemoryStore(5)),
		Metrics: telemetry.New(),
		Bus:     engine.NewBus(),
	})
	return New(":0", eng, nil), eng
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var health struct {
		Status string `json:"status"`
		State  string `json:"state"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "INIT", health.State)
}

func TestPortfolioEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/portfolio")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap domain.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(250_000)))
	assert.Empty(t, snap.Positions)
}

func TestTradesEndpointWithoutJournal(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/trades")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []journal.Row
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	assert.Empty(t, rows)
}

func TestTradesEndpointRejectsBadLimit(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	for _, limit := range []string{"abc", "0", "-5"} {
		resp, err := http.Get(srv.URL + "/api/v1/trades?limit=" + limit)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "limit=%s", limit)
	}
}

func TestPauseConflictsOutsideRunning(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	// Engine never started: pausing from INIT is an illegal transition.
	resp, err := http.Post(srv.URL+"/api/v1/pause", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestKillEndpointAccepted(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/kill", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body errorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "no such endpoint", body.Message)
}

func TestTradeStreamDeliversPublishedTrades(t *testing.T) {
	s, eng := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/trades"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool {
		return eng.Bus.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	sent := domain.Trade{
		ID:     "t-1",
		Symbol: "ETH-USD",
		Side:   domain.Buy,
		Qty:    decimal.NewFromInt(3),
		Price:  decimal.NewFromInt(2500),
		At:     time.Now().UTC(),
	}
	eng.Bus.Publish(sent)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got domain.Trade
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, sent.Symbol, got.Symbol)
	assert.True(t, got.Qty.Equal(sent.Qty))
}
