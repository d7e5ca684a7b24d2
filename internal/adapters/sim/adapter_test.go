package sim

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestAdapterFlows(t *testing.T) {
	ctx := context.Background()

	t.Run("deploy and free round trip", func(t *testing.T) {
		a := New("s1", "USDC")
		require.NoError(t, a.DeployFunds(ctx, dec(100)))
		assert.True(t, a.Held().Equal(dec(100)))

		freed, err := a.FreeFunds(ctx, dec(40))
		require.NoError(t, err)
		assert.True(t, freed.Equal(dec(40)))
		assert.True(t, a.Held().Equal(dec(60)))
	})

	t.Run("free is bounded by holdings", func(t *testing.T) {
		a := New("s1", "USDC")
		require.NoError(t, a.DeployFunds(ctx, dec(30)))
		freed, err := a.FreeFunds(ctx, dec(100))
		require.NoError(t, err)
		assert.True(t, freed.Equal(dec(30)))
	})

	t.Run("haircut shaves every free", func(t *testing.T) {
		a := New("s1", "USDC", WithLiquidityHaircut(1000)) // 10%
		require.NoError(t, a.DeployFunds(ctx, dec(100)))
		freed, err := a.FreeFunds(ctx, dec(100))
		require.NoError(t, err)
		assert.True(t, freed.Equal(dec(90)), "got %s", freed)
	})

	t.Run("freeable cap limits a single pull", func(t *testing.T) {
		a := New("s1", "USDC", WithFreeableCap(dec(85)))
		require.NoError(t, a.DeployFunds(ctx, dec(100)))
		freed, err := a.FreeFunds(ctx, dec(100))
		require.NoError(t, err)
		assert.True(t, freed.Equal(dec(85)))
	})

	t.Run("yield accrues per report and compounds holdings", func(t *testing.T) {
		a := New("s1", "USDC", WithYield(100)) // 1% per report
		require.NoError(t, a.DeployFunds(ctx, dec(1000)))

		profit, loss, err := a.Report(ctx)
		require.NoError(t, err)
		assert.True(t, profit.Equal(dec(10)), "got %s", profit)
		assert.True(t, loss.IsZero())
		assert.True(t, a.Held().Equal(dec(1010)))
	})

	t.Run("pending report does not reset accruals", func(t *testing.T) {
		a := New("s1", "USDC")
		a.InjectProfit(dec(7))

		profit, _, err := a.PendingReport(ctx)
		require.NoError(t, err)
		assert.True(t, profit.Equal(dec(7)))

		// the real report still sees it
		profit, _, err = a.Report(ctx)
		require.NoError(t, err)
		assert.True(t, profit.Equal(dec(7)))

		// and it is consumed exactly once
		profit, _, err = a.Report(ctx)
		require.NoError(t, err)
		assert.True(t, profit.IsZero())
	})

	t.Run("injected loss reduces holdings", func(t *testing.T) {
		a := New("s1", "USDC")
		require.NoError(t, a.DeployFunds(ctx, dec(100)))
		a.InjectLoss(dec(25))
		_, loss, err := a.Report(ctx)
		require.NoError(t, err)
		assert.True(t, loss.Equal(dec(25)))
		assert.True(t, a.Held().Equal(dec(75)))
	})

	t.Run("failure injection", func(t *testing.T) {
		a := New("s1", "USDC")
		a.FailNext(true, true, true)
		assert.Error(t, a.DeployFunds(ctx, dec(1)))
		_, err := a.FreeFunds(ctx, dec(1))
		assert.Error(t, err)
		_, _, err = a.Report(ctx)
		assert.Error(t, err)
	})
}

func TestRouter(t *testing.T) {
	ctx := context.Background()

	t.Run("forward credits the instruction target", func(t *testing.T) {
		ledger := NewTokenLedger()
		r := NewRouter(ledger)
		call := EncodeInstruction("VLT", "vault-pool", dec(990))
		require.NoError(t, r.Forward(ctx, call))

		bal, err := ledger.BalanceOf(ctx, "VLT", "vault-pool")
		require.NoError(t, err)
		assert.True(t, bal.Equal(dec(990)))
		assert.Equal(t, 1, r.Calls())
	})

	t.Run("garbage call data fails", func(t *testing.T) {
		r := NewRouter(NewTokenLedger())
		assert.Error(t, r.Forward(ctx, []byte("not an instruction")))
	})

	t.Run("injected failure fires once", func(t *testing.T) {
		ledger := NewTokenLedger()
		r := NewRouter(ledger)
		r.FailNext()
		call := EncodeInstruction("VLT", "vault-pool", dec(10))
		assert.Error(t, r.Forward(ctx, call))
		assert.NoError(t, r.Forward(ctx, call))
	})
}
