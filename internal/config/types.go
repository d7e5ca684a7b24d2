package config

// Config is the full vaultd configuration tree.
type Config struct {
	App      AppConfig       `mapstructure:"app"`
	Pool     PoolConfig      `mapstructure:"pool"`
	Executor ExecutorConfig  `mapstructure:"executor"`
	Storage  StorageConfig   `mapstructure:"storage"`
	Server   ServerConfig    `mapstructure:"server"`
	Keeper   KeeperConfig    `mapstructure:"keeper"`
	Adapters []AdapterConfig `mapstructure:"adapters"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
}

type PoolConfig struct {
	Asset                   string `mapstructure:"asset"`
	InitialIdle             string `mapstructure:"initial_idle"`
	MaxStrategies           int    `mapstructure:"max_strategies"`
	DefaultLossToleranceBps int64  `mapstructure:"default_loss_tolerance_bps"`
}

type ExecutorConfig struct {
	// PolicyPath points at a hot-reloadable policy file. When empty the
	// inline fields below build a static policy.
	PolicyPath        string   `mapstructure:"policy_path"`
	SignerPubKey      string   `mapstructure:"signer_pubkey"`
	MaxSlippageBps    int64    `mapstructure:"max_slippage_bps"`
	MaxPayloadAgeSec  int64    `mapstructure:"max_payload_age_sec"`
	Router            string   `mapstructure:"router"`
	AuthorizedCallers []string `mapstructure:"authorized_callers"`
	// ReplayRetentionHours > 0 enables pruning of long-expired digests.
	ReplayRetentionHours int `mapstructure:"replay_retention_hours"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
	// AuditPath holds the executor audit log; empty disables it.
	AuditPath string `mapstructure:"audit_path"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type KeeperConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	IntervalSec int  `mapstructure:"interval_sec"`
}

// AdapterConfig declares one simulated adapter for paper mode.
type AdapterConfig struct {
	ID                  string `mapstructure:"id"`
	MaxDebt             string `mapstructure:"max_debt"`
	YieldBps            int64  `mapstructure:"yield_bps"`
	LiquidityHaircutBps int64  `mapstructure:"liquidity_haircut_bps"`
}
