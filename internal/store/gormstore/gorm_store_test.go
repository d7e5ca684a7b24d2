package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vaultd/internal/vault"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "vaultd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStrategyRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := vault.StrategyRecord{
		ActivatedAt: time.Unix(1_700_000_000, 0),
		CurrentDebt: decimal.RequireFromString("123.45"),
		MaxDebt:     decimal.NewFromInt(1000),
		Active:      true,
	}
	require.NoError(t, s.SaveStrategyRecord(ctx, "s1", rec))

	// upsert: second write with new debt replaces the row
	rec.CurrentDebt = decimal.NewFromInt(200)
	require.NoError(t, s.SaveStrategyRecord(ctx, "s1", rec))

	records, err := s.LoadStrategyRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	got := records["s1"]
	assert.True(t, got.CurrentDebt.Equal(decimal.NewFromInt(200)))
	assert.True(t, got.MaxDebt.Equal(decimal.NewFromInt(1000)))
	assert.True(t, got.Active)
	assert.True(t, got.LastReport.IsZero())
}

func TestReportsAndEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordReport(ctx, vault.ReportRecord{
			TraceID:     string(rune('a' + i)),
			Strategy:    "s1",
			Profit:      decimal.NewFromInt(int64(i)),
			Loss:        decimal.Zero,
			CurrentDebt: decimal.NewFromInt(100),
			At:          time.Unix(int64(1_700_000_000+i), 0),
		}))
	}
	rows, err := s.ListReports(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2", rows[0].Profit) // newest first

	require.NoError(t, s.RecordEvent(ctx, vault.Event{
		TraceID:  "t1",
		Type:     vault.EventDebtUpdated,
		Strategy: "s1",
		Payload:  map[string]any{"direction": "increase"},
		At:       time.Unix(1_700_000_100, 0),
	}))
	events, err := s.ListEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(vault.EventDebtUpdated), events[0].Type)
}

func TestReplaySet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	deadline := time.Now().Add(10 * time.Minute)

	inserted, err := s.MarkUsed(ctx, "digest-1", deadline)
	require.NoError(t, err)
	assert.True(t, inserted)

	// second insert conflicts on the unique index
	inserted, err = s.MarkUsed(ctx, "digest-1", deadline)
	require.NoError(t, err)
	assert.False(t, inserted)

	seen, err := s.Seen(ctx, "digest-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.Seen(ctx, "digest-2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestPrunePayloads(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.MarkUsed(ctx, "old", time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	_, err = s.MarkUsed(ctx, "fresh", time.Now().Add(time.Hour))
	require.NoError(t, err)

	removed, err := s.PrunePayloads(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	seen, err := s.SeenPayload(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, seen)
}
