// Package keeper drives periodic reconciliation and replay-set maintenance.
package keeper

import (
	"context"
	"time"

	"vaultd/internal/logger"
	"vaultd/internal/vault"
)

// Pruner is an optional maintenance hook for the replay set.
type Pruner interface {
	PrunePayloads(ctx context.Context, retention time.Duration) (int64, error)
}

// Keeper reconciles every active strategy at a fixed interval. A failing
// strategy is logged and skipped within a tick; there are no retries until
// the next tick.
type Keeper struct {
	vault    *vault.Vault
	interval time.Duration

	pruner    Pruner
	retention time.Duration
}

type Option func(*Keeper)

// WithPruning enables replay-set pruning with the given retention window.
func WithPruning(p Pruner, retention time.Duration) Option {
	return func(k *Keeper) {
		k.pruner = p
		k.retention = retention
	}
}

func New(v *vault.Vault, interval time.Duration, opts ...Option) *Keeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	k := &Keeper{vault: v, interval: interval}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Run blocks until ctx is canceled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	logger.Infof("keeper: reconciling every %s", k.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.tick(ctx)
		}
	}
}

func (k *Keeper) tick(ctx context.Context) {
	for _, id := range k.vault.ActiveStrategies() {
		if _, err := k.vault.Reconcile(ctx, id); err != nil {
			logger.Warnf("keeper: reconcile %s failed: %v", id, err)
		}
	}
	if k.pruner != nil && k.retention > 0 {
		removed, err := k.pruner.PrunePayloads(ctx, k.retention)
		if err != nil {
			logger.Warnf("keeper: replay prune failed: %v", err)
		} else if removed > 0 {
			logger.Infof("keeper: pruned %d expired payload digests", removed)
		}
	}
}
