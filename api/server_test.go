package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gridbot/config"
	"gridbot/ledger"
	"gridbot/manager"
	"gridbot/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bot := &config.BotConfig{Name: "xrp_grid", Symbol: "XRPUSDT", Params: config.DefaultParams()}
	acc := &config.AccountConfig{Name: "main", Exchange: "bybit"}
	led := ledger.New(t.TempDir(), bot.Params.CommissionRate)

	mgr := manager.NewManager()
	mgr.Add(acc, bot, nil, led, st, nil, t.TempDir())

	return NewServer(mgr, st, 0), st
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := get(s, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestStatusListsBots(t *testing.T) {
	s, _ := newTestServer(t)
	w := get(s, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Bots []manager.BotStatus `json:"bots"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Bots, 1)
	require.Equal(t, "xrp_grid", body.Bots[0].Bot)
}

func TestLedgerEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := get(s, "/api/ledger?account=main&bot=xrp_grid")
	require.Equal(t, http.StatusOK, w.Code)

	var snap ledger.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.True(t, snap.EntryAllowed, "fresh ledger allows entries")

	w = get(s, "/api/ledger?account=main&bot=unknown")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = get(s, "/api/ledger?account=main")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOrdersEndpoint(t *testing.T) {
	s, st := newTestServer(t)
	require.NoError(t, st.Orders().Record("main", "xrp_grid", "oid-1", "Buy", 0.52, 1500, "grid"))

	w := get(s, "/api/orders?account=main&bot=xrp_grid")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Orders []store.OrderRecord `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Orders, 1)
	require.Equal(t, "oid-1", body.Orders[0].OrderID)
}
