package store

import (
	"context"
	"time"

	"vaultd/internal/store/model"
	"vaultd/internal/vault"
)

// Store is the persistence surface for vault bookkeeping and the executor
// replay set.
type Store interface {
	vault.Sink

	// LoadStrategyRecords returns every persisted registry entry.
	LoadStrategyRecords(ctx context.Context) (map[string]vault.StrategyRecord, error)
	// ListReports returns recent reconciliation records for one strategy,
	// newest first.
	ListReports(ctx context.Context, strategyID string, limit int) ([]model.ReportModel, error)
	// ListEvents returns recent vault events, newest first.
	ListEvents(ctx context.Context, limit int) ([]model.EventModel, error)

	// MarkPayloadUsed atomically inserts a digest; false when already present.
	MarkPayloadUsed(ctx context.Context, digest string, deadline time.Time) (bool, error)
	// SeenPayload reports replay-set membership.
	SeenPayload(ctx context.Context, digest string) (bool, error)
	// PrunePayloads removes digests whose deadline passed more than retention
	// ago. Safe because expired payloads cannot execute; returns rows removed.
	PrunePayloads(ctx context.Context, retention time.Duration) (int64, error)

	Close() error
}
