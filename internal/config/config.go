// Package config defines all configuration for the arbitrage agent
// platform. PlatformConfig is loaded once at process start; each managed
// user gets its own UserConfig document loaded the same way. Sensitive
// fields are overridable via ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/polyarb/agent/pkg/types"
)

// PlatformConfig is the top-level process configuration: logging,
// storage location, the local operator API, and the concurrency bound
// on live agents.
type PlatformConfig struct {
	DryRun              bool            `mapstructure:"dry_run"`
	MaxConcurrentAgents int             `mapstructure:"max_concurrent_agents"`
	Logging             LoggingConfig   `mapstructure:"logging"`
	Store               StoreConfig     `mapstructure:"store"`
	API                 PlatformAPIConfig `mapstructure:"api"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig sets where position data is persisted (JSON + JSONL files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// PlatformAPIConfig controls the local operator HTTP surface
// (GET /agents, POST /agents/{userId}/start, etc).
type PlatformAPIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoadPlatform reads the platform config from a YAML file with env var
// overrides. ARB_DRY_RUN forces dry-run mode regardless of the file.
func LoadPlatform(path string) (*PlatformConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read platform config: %w", err)
	}

	var cfg PlatformConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal platform config: %w", err)
	}

	if os.Getenv("ARB_DRY_RUN") == "true" || os.Getenv("ARB_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks platform-level required fields and value ranges.
func (c *PlatformConfig) Validate() error {
	if c.MaxConcurrentAgents <= 0 {
		return fmt.Errorf("max_concurrent_agents must be > 0")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required")
	}
	return nil
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ
// from the signer address if using a proxy wallet or Gnosis Safe).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// VenueConfig holds connection details for one trading venue.
type VenueConfig struct {
	BaseURL string `mapstructure:"base_url"`
	WSURL   string `mapstructure:"ws_url"` // only venue B exposes a live feed
	ApiKey  string `mapstructure:"api_key"`
	Secret  string `mapstructure:"secret"`
}

// UserConfig is one managed user's trading configuration: the
// recognized options from the agent's session config plus the wallet
// and venue connection details the Signer and venue adapters need.
type UserConfig struct {
	UserID string `mapstructure:"user_id"`

	MinTradeSize         int64 `mapstructure:"min_trade_size"`          // quote units, scaled by QuoteScale
	MaxTradeSize         int64 `mapstructure:"max_trade_size"`          // quote units, scaled by QuoteScale
	MinSpreadBps         int64 `mapstructure:"min_spread_bps"`
	MaxTotalTrades       int   `mapstructure:"max_total_trades"`        // 0 = unbounded
	TradingDurationMs    int64 `mapstructure:"trading_duration_ms"`     // 0 = unbounded
	DailyLossLimit       int64 `mapstructure:"daily_loss_limit"`        // quote units, scaled by QuoteScale
	MaxResolutionDays    int   `mapstructure:"max_resolution_days"`
	FillPollIntervalMs   int64 `mapstructure:"fill_poll_interval_ms"`
	FillPollTimeoutMs    int64 `mapstructure:"fill_poll_timeout_ms"`
	UnwindPollIntervalMs int64 `mapstructure:"unwind_poll_interval_ms"`
	GasToQuoteRate       int64 `mapstructure:"gas_to_quote_rate"` // native-token price in quote units, scaled 1e6
	VenueAFeeBps         int64 `mapstructure:"venue_a_fee_bps"`
	VenueBFeeBps         int64 `mapstructure:"venue_b_fee_bps"`
	GasPriceWei          int64 `mapstructure:"gas_price_wei"`
	GasUnits             int64 `mapstructure:"gas_units"`
	ExecutionMode        string `mapstructure:"execution_mode"`   // clob | vault | dry-run

	ScanIntervalMs int64 `mapstructure:"scan_interval_ms"`

	Wallet  WalletConfig `mapstructure:"wallet"`
	VenueA  VenueConfig  `mapstructure:"venue_a"`
	VenueB  VenueConfig  `mapstructure:"venue_b"`
	Markets []MarketSpec `mapstructure:"markets"`
}

// MarketSpec statically identifies one market this user trades and its
// venue-specific outcome-token ids. Market discovery is out of scope;
// the operator curates this list.
type MarketSpec struct {
	MarketID   string `mapstructure:"market_id"`
	YesTokenID string `mapstructure:"yes_token_id"`
	NoTokenID  string `mapstructure:"no_token_id"`
}

// LoadUser reads one user's config from a YAML file with env var
// overrides. Sensitive fields left empty in the file are filled from
// the shared ARB_PRIVATE_KEY, ARB_VENUE_A_API_KEY, ARB_VENUE_A_SECRET,
// ARB_VENUE_B_API_KEY and ARB_VENUE_B_SECRET env vars; no per-user
// prefixed variables are read.
func LoadUser(path string) (*UserConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read user config: %w", err)
	}

	var cfg UserConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal user config: %w", err)
	}

	if key := os.Getenv("ARB_PRIVATE_KEY"); key != "" && cfg.Wallet.PrivateKey == "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("ARB_VENUE_A_API_KEY"); key != "" && cfg.VenueA.ApiKey == "" {
		cfg.VenueA.ApiKey = key
	}
	if secret := os.Getenv("ARB_VENUE_A_SECRET"); secret != "" && cfg.VenueA.Secret == "" {
		cfg.VenueA.Secret = secret
	}
	if key := os.Getenv("ARB_VENUE_B_API_KEY"); key != "" && cfg.VenueB.ApiKey == "" {
		cfg.VenueB.ApiKey = key
	}
	if secret := os.Getenv("ARB_VENUE_B_SECRET"); secret != "" && cfg.VenueB.Secret == "" {
		cfg.VenueB.Secret = secret
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges for a user config.
func (c *UserConfig) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set ARB_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.VenueA.BaseURL == "" {
		return fmt.Errorf("venue_a.base_url is required")
	}
	if c.VenueB.BaseURL == "" {
		return fmt.Errorf("venue_b.base_url is required")
	}
	if c.MinTradeSize <= 0 {
		return fmt.Errorf("min_trade_size must be > 0")
	}
	if c.MaxTradeSize < c.MinTradeSize {
		return fmt.Errorf("max_trade_size must be >= min_trade_size")
	}
	if c.MinSpreadBps <= 0 {
		return fmt.Errorf("min_spread_bps must be > 0")
	}
	if c.FillPollIntervalMs <= 0 {
		return fmt.Errorf("fill_poll_interval_ms must be > 0")
	}
	if c.FillPollTimeoutMs <= c.FillPollIntervalMs {
		return fmt.Errorf("fill_poll_timeout_ms must be > fill_poll_interval_ms")
	}
	if c.UnwindPollIntervalMs <= 0 {
		return fmt.Errorf("unwind_poll_interval_ms must be > 0")
	}
	if c.GasToQuoteRate < 0 {
		return fmt.Errorf("gas_to_quote_rate must be >= 0")
	}
	switch types.ExecutionMode(c.ExecutionMode) {
	case types.ExecModeCLOB, types.ExecModeVault, types.ExecModeDryRun:
	default:
		return fmt.Errorf("execution_mode must be one of: clob, vault, dry-run")
	}
	if c.ScanIntervalMs <= 0 {
		return fmt.Errorf("scan_interval_ms must be > 0")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("markets must list at least one market to trade")
	}
	for i, m := range c.Markets {
		if m.MarketID == "" || m.YesTokenID == "" || m.NoTokenID == "" {
			return fmt.Errorf("markets[%d]: market_id, yes_token_id, and no_token_id are all required", i)
		}
	}
	return nil
}

// FillPollInterval returns the configured fill poll interval as a
// time.Duration.
func (c *UserConfig) FillPollInterval() time.Duration {
	return time.Duration(c.FillPollIntervalMs) * time.Millisecond
}

// FillPollTimeout returns the configured fill poll timeout as a
// time.Duration.
func (c *UserConfig) FillPollTimeout() time.Duration {
	return time.Duration(c.FillPollTimeoutMs) * time.Millisecond
}

// UnwindPollInterval returns the configured unwind poll interval as a
// time.Duration.
func (c *UserConfig) UnwindPollInterval() time.Duration {
	return time.Duration(c.UnwindPollIntervalMs) * time.Millisecond
}

// ScanInterval returns the configured scan interval as a time.Duration.
func (c *UserConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMs) * time.Millisecond
}

// TradingDuration returns the configured session TTL as a
// time.Duration, or 0 if unbounded.
func (c *UserConfig) TradingDuration() time.Duration {
	if c.TradingDurationMs <= 0 {
		return 0
	}
	return time.Duration(c.TradingDurationMs) * time.Millisecond
}
