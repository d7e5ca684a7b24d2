package app

import (
	"context"
	"fmt"
	"time"

	"vaultd/internal/adapters/sim"
	"vaultd/internal/compound"
	vcfg "vaultd/internal/config"
	"vaultd/internal/keeper"
	"vaultd/internal/logger"
	"vaultd/internal/store"
	"vaultd/internal/store/auditlog"
	"vaultd/internal/store/gormstore"
	vaulthttp "vaultd/internal/transport/http"
	"vaultd/internal/vault"

	"github.com/shopspring/decimal"
)

// AppBuilder assembles the vault engine, executor and servers from config.
type AppBuilder struct {
	cfg *vcfg.Config
}

func NewAppBuilder(cfg *vcfg.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

// adapterCatalog resolves configured adapters by id for the strategist API.
type adapterCatalog map[string]vault.StrategyAdapter

func (c adapterCatalog) Resolve(id string) (vault.StrategyAdapter, bool) {
	a, ok := c[id]
	return a, ok
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	cfg := b.cfg

	var st store.Store
	if cfg.Storage.Path != "" {
		gs, err := gormstore.NewGormStore(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		st = gs
	}

	initialIdle, err := decimal.NewFromString(cfg.Pool.InitialIdle)
	if err != nil {
		return nil, fmt.Errorf("pool.initial_idle: %w", err)
	}
	pool := vault.NewLedgerPool(cfg.Pool.Asset, initialIdle)

	opts := []vault.Option{vault.WithMaxStrategies(cfg.Pool.MaxStrategies)}
	if st != nil {
		opts = append(opts, vault.WithSink(st))
	}
	v := vault.New(pool, opts...)

	catalog := make(adapterCatalog, len(cfg.Adapters))
	for _, ac := range cfg.Adapters {
		catalog[ac.ID] = sim.New(ac.ID, cfg.Pool.Asset,
			sim.WithYield(ac.YieldBps),
			sim.WithLiquidityHaircut(ac.LiquidityHaircutBps),
		)
	}

	if st != nil {
		if err := restoreRegistry(ctx, v, st, catalog); err != nil {
			return nil, err
		}
	}

	policies, err := buildPolicies(cfg)
	if err != nil {
		return nil, err
	}

	tokens := sim.NewTokenLedger()
	router := sim.NewRouter(tokens)

	var replay compound.ReplaySet
	if gs, ok := st.(*gormstore.GormStore); ok {
		replay = gs
	} else {
		replay = compound.NewMemoryReplaySet()
	}

	var audit *auditlog.AuditStore
	execOpts := []compound.ExecutorOption{}
	if cfg.Storage.AuditPath != "" {
		audit, err = auditlog.NewAuditStore(cfg.Storage.AuditPath)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		execOpts = append(execOpts, compound.WithExecutionObserver(auditlog.NewObserver(audit)))
	}
	executor := compound.NewExecutor(policies, router, tokens, replay, execOpts...)

	probe := vault.NewStatusProbe(v)

	var reporter vaulthttp.Reporter
	if st != nil {
		reporter = st
	}
	api := &vaulthttp.Router{
		Vault:                   v,
		Probe:                   probe,
		Executor:                executor,
		Reports:                 reporter,
		Audit:                   audit,
		Adapters:                catalog,
		DefaultLossToleranceBps: cfg.Pool.DefaultLossToleranceBps,
	}
	server, err := vaulthttp.NewServer(vaulthttp.ServerConfig{Addr: cfg.Server.Addr, API: api})
	if err != nil {
		return nil, err
	}

	var kp *keeper.Keeper
	if cfg.Keeper.Enabled {
		kopts := []keeper.Option{}
		if st != nil && cfg.Executor.ReplayRetentionHours > 0 {
			retention := time.Duration(cfg.Executor.ReplayRetentionHours) * time.Hour
			kopts = append(kopts, keeper.WithPruning(st, retention))
		}
		kp = keeper.New(v, time.Duration(cfg.Keeper.IntervalSec)*time.Second, kopts...)
	}

	return &App{
		cfg:      cfg,
		vault:    v,
		executor: executor,
		server:   server,
		keeper:   kp,
		store:    st,
		audit:    audit,
	}, nil
}

// restoreRegistry reloads persisted records and re-binds configured adapters.
// Active records without a configured adapter stay visible but cannot be
// allocated to until an adapter with that id appears in config.
func restoreRegistry(ctx context.Context, v *vault.Vault, st store.Store, catalog adapterCatalog) error {
	records, err := st.LoadStrategyRecords(ctx)
	if err != nil {
		return fmt.Errorf("load strategy records: %w", err)
	}
	for id, rec := range records {
		v.RestoreRecord(id, rec)
		if !rec.Active {
			continue
		}
		if adapter, ok := catalog[id]; ok {
			if err := v.BindAdapter(adapter); err != nil {
				return fmt.Errorf("bind adapter %s: %w", id, err)
			}
		} else {
			logger.Warnf("app: active strategy %s has no configured adapter", id)
		}
	}
	if len(records) > 0 {
		logger.Infof("app: restored %d strategy records", len(records))
	}
	return nil
}

func buildPolicies(cfg *vcfg.Config) (*compound.PolicyRegistry, error) {
	if cfg.Executor.PolicyPath != "" {
		return compound.NewPolicyRegistry(cfg.Executor.PolicyPath)
	}
	policy, err := compound.BuildPolicy(compound.PolicyValues{
		SignerPubKey:      cfg.Executor.SignerPubKey,
		MaxSlippageBps:    cfg.Executor.MaxSlippageBps,
		MaxPayloadAgeSec:  cfg.Executor.MaxPayloadAgeSec,
		Router:            cfg.Executor.Router,
		AuthorizedCallers: cfg.Executor.AuthorizedCallers,
	})
	if err != nil {
		return nil, fmt.Errorf("executor policy: %w", err)
	}
	return compound.NewStaticPolicyRegistry(policy), nil
}
