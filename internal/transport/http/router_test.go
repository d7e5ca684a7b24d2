package vaulthttp

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vaultd/internal/adapters/sim"
	"vaultd/internal/compound"
	"vaultd/internal/vault"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAdapters map[string]vault.StrategyAdapter

func (t testAdapters) Resolve(id string) (vault.StrategyAdapter, bool) {
	a, ok := t[id]
	return a, ok
}

type apiFixture struct {
	handler http.Handler
	vault   *vault.Vault
	priv    ed25519.PrivateKey
	ledger  *sim.TokenLedger
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	v := vault.New(vault.NewLedgerPool("USDC", decimal.NewFromInt(1000)))
	ledger := sim.NewTokenLedger()
	exec := compound.NewExecutor(
		compound.NewStaticPolicyRegistry(&compound.Policy{
			SignerKey:         pub,
			MaxSlippageBps:    300,
			MaxPayloadAge:     15 * time.Minute,
			Router:            "sim",
			AuthorizedCallers: map[string]bool{"keeper": true},
		}),
		sim.NewRouter(ledger), ledger, compound.NewMemoryReplaySet(),
	)
	api := &Router{
		Vault:                   v,
		Probe:                   vault.NewStatusProbe(v),
		Executor:                exec,
		Adapters:                testAdapters{"staking-alpha": sim.New("staking-alpha", "USDC")},
		DefaultLossToleranceBps: 100,
	}
	server, err := NewServer(ServerConfig{Addr: ":0", API: api})
	require.NoError(t, err)
	return &apiFixture{handler: server.Handler(), vault: v, priv: priv, ledger: ledger}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, val := range headers {
		req.Header.Set(k, val)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func TestVaultRoutes(t *testing.T) {
	t.Run("health and status", func(t *testing.T) {
		f := newAPIFixture(t)
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil, nil).Code)

		w := f.do(t, http.MethodGet, "/api/v1/vault/status", nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var snap struct {
			Asset       string `json:"asset"`
			IdleBalance string `json:"idle_balance"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
		assert.Equal(t, "USDC", snap.Asset)
		assert.Equal(t, "1000", snap.IdleBalance)
	})

	t.Run("strategy lifecycle over the api", func(t *testing.T) {
		f := newAPIFixture(t)

		w := f.do(t, http.MethodPost, "/api/v1/vault/strategies", map[string]string{
			"id": "staking-alpha", "max_debt": "500",
		}, nil)
		require.Equal(t, http.StatusCreated, w.Code)

		// duplicate registration conflicts
		w = f.do(t, http.MethodPost, "/api/v1/vault/strategies", map[string]string{
			"id": "staking-alpha", "max_debt": "500",
		}, nil)
		assert.Equal(t, http.StatusConflict, w.Code)

		w = f.do(t, http.MethodPost, "/api/v1/vault/strategies/staking-alpha/debt", map[string]string{
			"target": "400",
		}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, f.vault.TotalDebt().Equal(decimal.NewFromInt(400)))

		// ceiling breach maps to 400
		w = f.do(t, http.MethodPost, "/api/v1/vault/strategies/staking-alpha/debt", map[string]string{
			"target": "900",
		}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = f.do(t, http.MethodPost, "/api/v1/vault/strategies/staking-alpha/reconcile", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = f.do(t, http.MethodDelete, "/api/v1/vault/strategies/staking-alpha", nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, f.vault.ActiveStrategies())
	})

	t.Run("unknown strategy is 404", func(t *testing.T) {
		f := newAPIFixture(t)
		w := f.do(t, http.MethodPost, "/api/v1/vault/strategies/ghost/debt", map[string]string{"target": "1"}, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("withdraw beyond liquidity is 422", func(t *testing.T) {
		f := newAPIFixture(t)
		w := f.do(t, http.MethodPost, "/api/v1/vault/withdraw", map[string]string{
			"recipient": "alice", "amount": "5000",
		}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("audit endpoint without a store is 503", func(t *testing.T) {
		f := newAPIFixture(t)
		w := f.do(t, http.MethodGet, "/api/v1/compound/executions", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestCompoundRoutes(t *testing.T) {
	signedPayload := func(t *testing.T, f *apiFixture) json.RawMessage {
		t.Helper()
		p := &compound.SignedPayload{
			TokenIn:      "USDC",
			TokenOut:     "VLT",
			AmountIn:     decimal.NewFromInt(1000),
			AmountOutMin: decimal.NewFromInt(985),
			Recipient:    "vault-pool",
			Deadline:     time.Now().Add(10 * time.Minute).Unix(),
			CallData:     sim.EncodeInstruction("VLT", "vault-pool", decimal.NewFromInt(990)),
		}
		p.Sign(f.priv)
		raw, err := p.Encode()
		require.NoError(t, err)
		return raw
	}

	t.Run("execute then replay", func(t *testing.T) {
		f := newAPIFixture(t)
		body := map[string]any{"payload": signedPayload(t, f), "min_amount_out": "985"}
		headers := map[string]string{"X-Caller": "keeper"}

		w := f.do(t, http.MethodPost, "/api/v1/compound/execute", body, headers)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = f.do(t, http.MethodPost, "/api/v1/compound/execute", body, headers)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unauthorized caller is 403", func(t *testing.T) {
		f := newAPIFixture(t)
		body := map[string]any{"payload": signedPayload(t, f), "min_amount_out": "985"}
		w := f.do(t, http.MethodPost, "/api/v1/compound/execute", body, map[string]string{"X-Caller": "stranger"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("dry validation reports validity", func(t *testing.T) {
		f := newAPIFixture(t)
		w := f.do(t, http.MethodPost, "/api/v1/compound/validate", map[string]any{"payload": signedPayload(t, f)}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var v compound.Validation
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
		assert.True(t, v.Valid)
		assert.NotEmpty(t, v.Digest)
	})
}
