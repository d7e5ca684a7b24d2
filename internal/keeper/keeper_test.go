package keeper

import (
	"context"
	"testing"
	"time"

	"vaultd/internal/adapters/sim"
	"vaultd/internal/vault"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePruner struct {
	calls     int
	retention time.Duration
}

func (p *fakePruner) PrunePayloads(_ context.Context, retention time.Duration) (int64, error) {
	p.calls++
	p.retention = retention
	return 2, nil
}

func TestTick(t *testing.T) {
	ctx := context.Background()

	t.Run("reconciles every active strategy", func(t *testing.T) {
		v := vault.New(vault.NewLedgerPool("USDC", decimal.NewFromInt(1000)))
		a1 := sim.New("s1", "USDC")
		a2 := sim.New("s2", "USDC")
		require.NoError(t, v.AddStrategy(ctx, a1, decimal.NewFromInt(500)))
		require.NoError(t, v.AddStrategy(ctx, a2, decimal.NewFromInt(500)))
		a1.InjectProfit(decimal.NewFromInt(5))
		a2.InjectProfit(decimal.NewFromInt(3))

		k := New(v, time.Minute)
		k.tick(ctx)

		assert.True(t, v.TotalDebt().Equal(decimal.NewFromInt(8)))
	})

	t.Run("one failing strategy does not block the rest", func(t *testing.T) {
		v := vault.New(vault.NewLedgerPool("USDC", decimal.NewFromInt(1000)))
		bad := sim.New("bad", "USDC")
		good := sim.New("good", "USDC")
		require.NoError(t, v.AddStrategy(ctx, bad, decimal.NewFromInt(500)))
		require.NoError(t, v.AddStrategy(ctx, good, decimal.NewFromInt(500)))
		bad.FailNext(false, false, true)
		good.InjectProfit(decimal.NewFromInt(4))

		k := New(v, time.Minute)
		k.tick(ctx)

		assert.True(t, v.TotalDebt().Equal(decimal.NewFromInt(4)))
	})

	t.Run("prunes the replay set when configured", func(t *testing.T) {
		v := vault.New(vault.NewLedgerPool("USDC", decimal.NewFromInt(0)))
		p := &fakePruner{}
		k := New(v, time.Minute, WithPruning(p, 48*time.Hour))
		k.tick(ctx)

		assert.Equal(t, 1, p.calls)
		assert.Equal(t, 48*time.Hour, p.retention)
	})

	t.Run("run stops on context cancel", func(t *testing.T) {
		v := vault.New(vault.NewLedgerPool("USDC", decimal.NewFromInt(0)))
		k := New(v, 10*time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		err := k.Run(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
