package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Chain    ChainConfig
	Sponsor  SponsorConfig
	Balance  BalanceConfig
	Minting  MintingConfig
	Retry    RetryConfig
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type ChainConfig struct {
	RPCURL            string `mapstructure:"rpc_url"`
	ChainID           int64  `mapstructure:"chain_id"`
	RelayerPrivateKey string `mapstructure:"relayer_private_key"`
	EntryPointAddress string `mapstructure:"entrypoint_address"`
	PaymasterAddress  string `mapstructure:"paymaster_address"`
	FactoryAddress    string `mapstructure:"factory_address"`
	NFTAddress        string `mapstructure:"nft_address"`
	TokenAddress      string `mapstructure:"token_address"`
	MarketAddress     string `mapstructure:"market_address"`
	// AccountCreationCode is the SmartAccount creation bytecode (hex) taken
	// from the same build artifact the chain deployment used. Address
	// derivation hashes it together with the constructor arguments; any
	// drift from the deployed artifact yields addresses that match nothing
	// on chain.
	AccountCreationCode string `mapstructure:"account_creation_code"`
}

type SponsorConfig struct {
	TopUpWei        string `mapstructure:"topup_wei"`
	SafetyMarginWei string `mapstructure:"safety_margin_wei"`
}

type BalanceConfig struct {
	TTLSec int64 `mapstructure:"ttl_sec"`
}

type MintingConfig struct {
	VoteThreshold int64 `mapstructure:"vote_threshold"`
}

type RetryConfig struct {
	MaxAttempts int   `mapstructure:"max_attempts"`
	BackoffMs   int64 `mapstructure:"backoff_ms"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("sponsor.topup_wei", "100000000000000000")        // 0.1 native
	v.SetDefault("sponsor.safety_margin_wei", "10000000000000000") // 0.01 native
	v.SetDefault("balance.ttl_sec", 30)
	v.SetDefault("minting.vote_threshold", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_ms", 500)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                 "PORT",
		"redis.addr":                  "REDIS_ADDR",
		"redis.password":              "REDIS_PASSWORD",
		"postgres.url":                "DATABASE_URL",
		"chain.rpc_url":               "RPC_URL",
		"chain.chain_id":              "CHAIN_ID",
		"chain.relayer_private_key":   "RELAYER_PRIVATE_KEY",
		"chain.entrypoint_address":    "ENTRYPOINT_ADDRESS",
		"chain.paymaster_address":     "PAYMASTER_ADDRESS",
		"chain.factory_address":       "FACTORY_ADDRESS",
		"chain.nft_address":           "NFT_ADDRESS",
		"chain.token_address":         "TOKEN_ADDRESS",
		"chain.market_address":        "MARKET_ADDRESS",
		"chain.account_creation_code": "ACCOUNT_CREATION_CODE",
		"sponsor.topup_wei":           "SPONSOR_TOPUP_WEI",
		"sponsor.safety_margin_wei":   "SPONSOR_SAFETY_MARGIN_WEI",
		"balance.ttl_sec":             "BALANCE_TTL_SEC",
		"minting.vote_threshold":      "VOTE_THRESHOLD",
		"retry.max_attempts":          "RPC_RETRY_MAX_ATTEMPTS",
		"retry.backoff_ms":            "RPC_RETRY_BACKOFF_MS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Postgres.URL, "DATABASE_URL"},
		{c.Chain.RPCURL, "RPC_URL"},
		{c.Chain.RelayerPrivateKey, "RELAYER_PRIVATE_KEY"},
		{c.Chain.EntryPointAddress, "ENTRYPOINT_ADDRESS"},
		{c.Chain.PaymasterAddress, "PAYMASTER_ADDRESS"},
		{c.Chain.FactoryAddress, "FACTORY_ADDRESS"},
		{c.Chain.NFTAddress, "NFT_ADDRESS"},
		{c.Chain.TokenAddress, "TOKEN_ADDRESS"},
		{c.Chain.MarketAddress, "MARKET_ADDRESS"},
		{c.Chain.AccountCreationCode, "ACCOUNT_CREATION_CODE"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	return nil
}
