package config

import "strings"

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.App.Env) == "" {
		c.App.Env = "paper"
	}
	if strings.TrimSpace(c.App.LogLevel) == "" {
		c.App.LogLevel = "info"
	}

	if strings.TrimSpace(c.Pool.Asset) == "" {
		c.Pool.Asset = "USDC"
	}
	if strings.TrimSpace(c.Pool.InitialIdle) == "" {
		c.Pool.InitialIdle = "0"
	}
	if c.Pool.MaxStrategies <= 0 {
		c.Pool.MaxStrategies = 20
	}
	if c.Pool.DefaultLossToleranceBps <= 0 {
		c.Pool.DefaultLossToleranceBps = 100 // 1%
	}

	if c.Executor.MaxSlippageBps <= 0 {
		c.Executor.MaxSlippageBps = 300 // 3%
	}
	if c.Executor.MaxPayloadAgeSec <= 0 {
		c.Executor.MaxPayloadAgeSec = 900 // 15 min
	}

	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "data/vaultd.db"
	}
	if strings.TrimSpace(c.Storage.AuditPath) == "" {
		c.Storage.AuditPath = "data/audit.db"
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = ":9991"
	}
	if c.Keeper.IntervalSec <= 0 {
		c.Keeper.IntervalSec = 300
	}
}
