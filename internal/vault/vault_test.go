package vault

import (
	"context"
	"testing"

	"vaultd/internal/adapters/sim"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAdapter struct {
	mock.Mock
	id    string
	asset string
}

func newMockAdapter(id, asset string) *MockAdapter {
	return &MockAdapter{id: id, asset: asset}
}

func (m *MockAdapter) ID() string            { return m.id }
func (m *MockAdapter) DeclaredAsset() string { return m.asset }

func (m *MockAdapter) DeployFunds(ctx context.Context, amount decimal.Decimal) error {
	args := m.Called(ctx, amount)
	return args.Error(0)
}

func (m *MockAdapter) FreeFunds(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	args := m.Called(ctx, amount)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockAdapter) Report(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	args := m.Called(ctx)
	return args.Get(0).(decimal.Decimal), args.Get(1).(decimal.Decimal), args.Error(2)
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// decArg matches a decimal argument by value.
func decArg(v int64) interface{} {
	want := decimal.NewFromInt(v)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

func assertDec(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "want %d got %s", want, got)
}

func TestAddStrategy(t *testing.T) {
	ctx := context.Background()

	t.Run("registers and appears in order", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(1000)))
		a := newMockAdapter("s1", "USDC")
		require.NoError(t, v.AddStrategy(ctx, a, dec(100)))
		assert.Equal(t, []string{"s1"}, v.ActiveStrategies())
		snap, ok := v.Strategy("s1")
		require.True(t, ok)
		assert.True(t, snap.Active)
		assertDec(t, 0, snap.CurrentDebt)
		assertDec(t, 100, snap.MaxDebt)
	})

	t.Run("rejects duplicate active", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(1000)))
		require.NoError(t, v.AddStrategy(ctx, newMockAdapter("s1", "USDC"), dec(100)))
		err := v.AddStrategy(ctx, newMockAdapter("s1", "USDC"), dec(100))
		assert.ErrorIs(t, err, ErrAlreadyActive)
	})

	t.Run("rejects asset mismatch", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(1000)))
		err := v.AddStrategy(ctx, newMockAdapter("s1", "WETH"), dec(100))
		assert.ErrorIs(t, err, ErrAssetMismatch)
	})

	t.Run("rejects over capacity", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(1000)), WithMaxStrategies(2))
		require.NoError(t, v.AddStrategy(ctx, newMockAdapter("s1", "USDC"), dec(100)))
		require.NoError(t, v.AddStrategy(ctx, newMockAdapter("s2", "USDC"), dec(100)))
		err := v.AddStrategy(ctx, newMockAdapter("s3", "USDC"), dec(100))
		assert.ErrorIs(t, err, ErrCapacityExceeded)
	})
}

func TestSetTargetDebt(t *testing.T) {
	ctx := context.Background()

	t.Run("partial allocation caps at idle balance", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(30)))
		a := newMockAdapter("s1", "USDC")
		require.NoError(t, v.AddStrategy(ctx, a, dec(100)))

		a.On("DeployFunds", mock.Anything, decArg(30)).Return(nil)
		realized, err := v.SetTargetDebt(ctx, "s1", dec(50), 0)
		require.NoError(t, err)
		assertDec(t, 30, realized)
		assertDec(t, 30, v.TotalDebt())
		assertDec(t, 0, v.IdleBalance())
		a.AssertExpectations(t)
	})

	t.Run("rejects target above ceiling", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(1000)))
		a := newMockAdapter("s1", "USDC")
		require.NoError(t, v.AddStrategy(ctx, a, dec(100)))
		_, err := v.SetTargetDebt(ctx, "s1", dec(150), 0)
		assert.ErrorIs(t, err, ErrDebtExceedsCeiling)
	})

	t.Run("rejects unknown strategy", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(1000)))
		_, err := v.SetTargetDebt(ctx, "ghost", dec(10), 0)
		assert.ErrorIs(t, err, ErrNotActive)
	})

	t.Run("no-op at equal target issues no calls", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(1000)))
		a := newMockAdapter("s1", "USDC")
		require.NoError(t, v.AddStrategy(ctx, a, dec(100)))
		realized, err := v.SetTargetDebt(ctx, "s1", dec(0), 0)
		require.NoError(t, err)
		assertDec(t, 0, realized)
		a.AssertNotCalled(t, "DeployFunds", mock.Anything, mock.Anything)
		a.AssertNotCalled(t, "FreeFunds", mock.Anything, mock.Anything)
	})

	t.Run("decrease shortfall beyond tolerance fails but banks freed funds", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(100)))
		a := newMockAdapter("s1", "USDC")
		require.NoError(t, v.AddStrategy(ctx, a, dec(100)))
		a.On("DeployFunds", mock.Anything, decArg(100)).Return(nil)
		_, err := v.SetTargetDebt(ctx, "s1", dec(100), 0)
		require.NoError(t, err)

		// adapter can only free 85 of the requested 100
		a.On("FreeFunds", mock.Anything, decArg(100)).Return(dec(85), nil)
		realized, err := v.SetTargetDebt(ctx, "s1", dec(0), 1000) // 10% => max loss 10 < 15
		assert.ErrorIs(t, err, ErrLossToleranceExceeded)
		// the 85 the adapter released cannot be rolled back: it lands in
		// the pool and debt drops by exactly that much, no loss recognized
		assertDec(t, 85, v.IdleBalance())
		assertDec(t, 15, v.TotalDebt())
		assertDec(t, 15, realized)
		s, _ := v.Strategy("s1")
		assertDec(t, 15, s.CurrentDebt)
		// idle + debt still accounts for every unit on hand
		assertDec(t, 100, v.TotalAssets())
	})

	t.Run("illiquid decrease leaves no value stranded", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(100)))
		a := sim.New("s1", "USDC", sim.WithLiquidityHaircut(1500))
		require.NoError(t, v.AddStrategy(ctx, a, dec(100)))
		_, err := v.SetTargetDebt(ctx, "s1", dec(100), 0)
		require.NoError(t, err)

		// 15% haircut frees 85: shortfall 15 > 10 allowed at 10%
		_, err = v.SetTargetDebt(ctx, "s1", dec(0), 1000)
		assert.ErrorIs(t, err, ErrLossToleranceExceeded)
		onHand := a.Held().Add(v.IdleBalance())
		assert.True(t, onHand.Equal(dec(100)), "held %s + idle %s", a.Held(), v.IdleBalance())
		assertDec(t, 15, v.TotalDebt())
	})

	t.Run("decrease shortfall within tolerance absorbs loss", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(100)))
		a := newMockAdapter("s1", "USDC")
		require.NoError(t, v.AddStrategy(ctx, a, dec(100)))
		a.On("DeployFunds", mock.Anything, decArg(100)).Return(nil)
		_, err := v.SetTargetDebt(ctx, "s1", dec(100), 0)
		require.NoError(t, err)

		a.On("FreeFunds", mock.Anything, decArg(100)).Return(dec(85), nil)
		realized, err := v.SetTargetDebt(ctx, "s1", dec(0), 2000) // 20% => max loss 20 >= 15
		require.NoError(t, err)
		assertDec(t, 0, realized)
		assertDec(t, 0, v.TotalDebt())
		// only 85 came back; the missing 15 is recognized loss
		assertDec(t, 85, v.IdleBalance())
	})
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, idle int64) (*Vault, *MockAdapter) {
		v := New(NewLedgerPool("USDC", dec(idle)))
		a := newMockAdapter("s1", "USDC")
		require.NoError(t, v.AddStrategy(ctx, a, dec(1000)))
		a.On("DeployFunds", mock.Anything, decArg(100)).Return(nil)
		_, err := v.SetTargetDebt(ctx, "s1", dec(100), 0)
		require.NoError(t, err)
		return v, a
	}

	t.Run("profit raises only the aggregate", func(t *testing.T) {
		v, a := setup(t, 100)
		a.On("Report", mock.Anything).Return(dec(7), dec(0), nil)
		rep, err := v.Reconcile(ctx, "s1")
		require.NoError(t, err)
		assertDec(t, 7, rep.Profit)
		assertDec(t, 107, v.TotalDebt())
		snap, _ := v.Strategy("s1")
		assertDec(t, 100, snap.CurrentDebt) // untouched: the asymmetry is deliberate
	})

	t.Run("loss reduces record and aggregate", func(t *testing.T) {
		v, a := setup(t, 100)
		a.On("Report", mock.Anything).Return(dec(0), dec(30), nil)
		rep, err := v.Reconcile(ctx, "s1")
		require.NoError(t, err)
		assertDec(t, 30, rep.Loss)
		assertDec(t, 70, v.TotalDebt())
		snap, _ := v.Strategy("s1")
		assertDec(t, 70, snap.CurrentDebt)
	})

	t.Run("loss beyond debt floors at zero", func(t *testing.T) {
		v, a := setup(t, 100)
		a.On("Report", mock.Anything).Return(dec(0), dec(500), nil)
		_, err := v.Reconcile(ctx, "s1")
		require.NoError(t, err)
		assertDec(t, 0, v.TotalDebt())
		snap, _ := v.Strategy("s1")
		assertDec(t, 0, snap.CurrentDebt)
		assert.False(t, v.TotalDebt().IsNegative())
	})

	t.Run("both sides applied independently", func(t *testing.T) {
		v, a := setup(t, 100)
		a.On("Report", mock.Anything).Return(dec(5), dec(3), nil)
		_, err := v.Reconcile(ctx, "s1")
		require.NoError(t, err)
		// +5 aggregate, then -3 from both
		assertDec(t, 102, v.TotalDebt())
		snap, _ := v.Strategy("s1")
		assertDec(t, 97, snap.CurrentDebt)
	})

	t.Run("report error aborts without state change", func(t *testing.T) {
		v, a := setup(t, 100)
		a.On("Report", mock.Anything).Return(decimal.Zero, decimal.Zero, assert.AnError)
		_, err := v.Reconcile(ctx, "s1")
		require.Error(t, err)
		assertDec(t, 100, v.TotalDebt())
	})
}

func TestConservation(t *testing.T) {
	ctx := context.Background()
	v := New(NewLedgerPool("USDC", dec(1000)))

	a1 := newMockAdapter("s1", "USDC")
	a2 := newMockAdapter("s2", "USDC")
	require.NoError(t, v.AddStrategy(ctx, a1, dec(500)))
	require.NoError(t, v.AddStrategy(ctx, a2, dec(500)))

	a1.On("DeployFunds", mock.Anything, mock.Anything).Return(nil)
	a2.On("DeployFunds", mock.Anything, mock.Anything).Return(nil)
	a1.On("FreeFunds", mock.Anything, decArg(150)).Return(dec(150), nil)

	total := v.TotalAssets()

	_, err := v.SetTargetDebt(ctx, "s1", dec(400), 0)
	require.NoError(t, err)
	assert.True(t, v.TotalAssets().Equal(total), "after increase: %s", v.TotalAssets())

	_, err = v.SetTargetDebt(ctx, "s2", dec(300), 0)
	require.NoError(t, err)
	assert.True(t, v.TotalAssets().Equal(total), "after second increase: %s", v.TotalAssets())

	_, err = v.SetTargetDebt(ctx, "s1", dec(250), 0)
	require.NoError(t, err)
	assert.True(t, v.TotalAssets().Equal(total), "after lossless decrease: %s", v.TotalAssets())
}

func TestRevokeStrategy(t *testing.T) {
	ctx := context.Background()

	t.Run("drains debt then deactivates", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(100)))
		a := newMockAdapter("s1", "USDC")
		require.NoError(t, v.AddStrategy(ctx, a, dec(100)))
		a.On("DeployFunds", mock.Anything, decArg(80)).Return(nil)
		_, err := v.SetTargetDebt(ctx, "s1", dec(80), 0)
		require.NoError(t, err)

		a.On("FreeFunds", mock.Anything, decArg(80)).Return(dec(80), nil)
		require.NoError(t, v.RevokeStrategy(ctx, "s1"))

		assert.Empty(t, v.ActiveStrategies())
		snap, ok := v.Strategy("s1")
		require.True(t, ok) // record survives deactivated
		assert.False(t, snap.Active)
		assertDec(t, 0, snap.CurrentDebt)
		assertDec(t, 0, v.TotalDebt())
	})

	t.Run("illiquid adapter drains under elevated tolerance", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(100)))
		a := newMockAdapter("s1", "USDC")
		require.NoError(t, v.AddStrategy(ctx, a, dec(100)))
		a.On("DeployFunds", mock.Anything, decArg(100)).Return(nil)
		_, err := v.SetTargetDebt(ctx, "s1", dec(100), 0)
		require.NoError(t, err)

		// only 60 of 100 comes back; revoke swallows the 40 as loss
		a.On("FreeFunds", mock.Anything, decArg(100)).Return(dec(60), nil)
		require.NoError(t, v.RevokeStrategy(ctx, "s1"))
		assertDec(t, 0, v.TotalDebt())
		assertDec(t, 60, v.IdleBalance())
	})

	t.Run("revoking inactive fails", func(t *testing.T) {
		v := New(NewLedgerPool("USDC", dec(100)))
		err := v.RevokeStrategy(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotActive)
	})
}
