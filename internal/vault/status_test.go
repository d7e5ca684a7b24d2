package vault

import (
	"context"
	"testing"

	"vaultd/internal/adapters/sim"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusProbe(t *testing.T) {
	ctx := context.Background()

	t.Run("previews without consuming the report", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(1000)))
		a := sim.New("s1", "USDC")
		require.NoError(t, v.AddStrategy(ctx, a, dec(500)))
		a.InjectProfit(dec(12))

		probe := NewStatusProbe(v)
		pending := probe.Pending(ctx, "s1")
		assert.False(t, pending.Degraded)
		assert.True(t, pending.Profit.Equal(dec(12)))

		// reconcile still sees the full figure
		rep, err := v.Reconcile(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, rep.Profit.Equal(dec(12)))
	})

	t.Run("degrades when the adapter cannot preview", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(1000)))
		a := newMockAdapter("s1", "USDC") // no PendingReport method
		require.NoError(t, v.AddStrategy(ctx, a, dec(500)))

		probe := NewStatusProbe(v)
		pending := probe.Pending(ctx, "s1")
		assert.True(t, pending.Degraded)
		assert.True(t, pending.Profit.IsZero())
	})

	t.Run("breaker opens after repeated failures", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(1000)))
		a := sim.New("s1", "USDC")
		require.NoError(t, v.AddStrategy(ctx, a, dec(500)))
		a.FailNext(false, false, true)

		probe := NewStatusProbe(v)
		for i := 0; i < 3; i++ {
			assert.True(t, probe.Pending(ctx, "s1").Degraded)
		}
		// breaker now open: degraded without touching the adapter
		a.FailNext(false, false, false)
		assert.True(t, probe.Pending(ctx, "s1").Degraded)
	})

	t.Run("covers every active strategy in order", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(1000)))
		require.NoError(t, v.AddStrategy(ctx, sim.New("s1", "USDC"), dec(100)))
		require.NoError(t, v.AddStrategy(ctx, sim.New("s2", "USDC"), dec(100)))

		probe := NewStatusProbe(v)
		all := probe.PendingAll(ctx)
		require.Len(t, all, 2)
		assert.Equal(t, "s1", all[0].Strategy)
		assert.Equal(t, "s2", all[1].Strategy)
	})
}
