package app

import (
	"context"
	"fmt"

	"vaultd/internal/compound"
	vcfg "vaultd/internal/config"
	"vaultd/internal/keeper"
	"vaultd/internal/logger"
	"vaultd/internal/store"
	"vaultd/internal/store/auditlog"
	vaulthttp "vaultd/internal/transport/http"
	"vaultd/internal/vault"

	"golang.org/x/sync/errgroup"
)

// App owns application-level orchestration: config in, services out.
type App struct {
	cfg      *vcfg.Config
	vault    *vault.Vault
	executor *compound.Executor
	server   *vaulthttp.Server
	keeper   *keeper.Keeper
	store    store.Store
	audit    *auditlog.AuditStore
}

// NewApp builds the application from config without starting it.
func NewApp(cfg *vcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts the HTTP server and the keeper loop, blocking until ctx is
// canceled or a service fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Infof("app: http api listening on %s", a.server.Addr())
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	if a.keeper != nil {
		group.Go(func() error {
			err := a.keeper.Run(ctx)
			if err != nil && ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	return group.Wait()
}

func (a *App) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("app: close store failed: %v", err)
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			logger.Warnf("app: close audit log failed: %v", err)
		}
	}
}

// Vault exposes the engine for test harnesses.
func (a *App) Vault() *vault.Vault {
	if a == nil {
		return nil
	}
	return a.vault
}

// Executor exposes the payload executor for test harnesses.
func (a *App) Executor() *compound.Executor {
	if a == nil {
		return nil
	}
	return a.executor
}
