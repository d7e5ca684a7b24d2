package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

func validate(c *Config) error {
	if err := c.Pool.validate(); err != nil {
		return err
	}
	if err := c.Executor.validate(); err != nil {
		return err
	}
	for i := range c.Adapters {
		if err := c.Adapters[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p *PoolConfig) validate() error {
	if p.MaxStrategies > 20 {
		return fmt.Errorf("pool.max_strategies must be <= 20")
	}
	if p.DefaultLossToleranceBps > 10_000 {
		return fmt.Errorf("pool.default_loss_tolerance_bps must be <= 10000")
	}
	if _, err := decimal.NewFromString(p.InitialIdle); err != nil {
		return fmt.Errorf("pool.initial_idle is not a valid amount: %w", err)
	}
	return nil
}

func (e *ExecutorConfig) validate() error {
	if e.MaxSlippageBps > 1000 {
		return fmt.Errorf("executor.max_slippage_bps must be <= 1000 (10%%)")
	}
	if e.MaxPayloadAgeSec > 3600 {
		return fmt.Errorf("executor.max_payload_age_sec must be <= 3600")
	}
	// With a policy file the inline fields are ignored; without one the
	// signer and router must be present here.
	if strings.TrimSpace(e.PolicyPath) == "" {
		if strings.TrimSpace(e.SignerPubKey) == "" {
			return fmt.Errorf("executor.signer_pubkey required when no policy_path is set")
		}
		if strings.TrimSpace(e.Router) == "" {
			return fmt.Errorf("executor.router required when no policy_path is set")
		}
	}
	if e.ReplayRetentionHours < 0 {
		return fmt.Errorf("executor.replay_retention_hours must be >= 0")
	}
	return nil
}

func (a *AdapterConfig) validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("adapters entry missing id")
	}
	if strings.TrimSpace(a.MaxDebt) != "" {
		if _, err := decimal.NewFromString(a.MaxDebt); err != nil {
			return fmt.Errorf("adapters.%s.max_debt is not a valid amount: %w", a.ID, err)
		}
	}
	if a.LiquidityHaircutBps < 0 || a.LiquidityHaircutBps > 10_000 {
		return fmt.Errorf("adapters.%s.liquidity_haircut_bps out of range", a.ID)
	}
	return nil
}
