// config.go - Configuration management for the flipcoin daemon.
//
// Configuration is a JSON file with defaults for every field. A missing file is created from the
// defaults. FLIPCOIN_* environment variables override the file.

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config represents the daemon configuration.
type Config struct {
	Env         string `json:"env"`
	HTTPAddr    string `json:"http_addr"`
	MetricsAddr string `json:"metrics_addr"`
	LogLevel    string `json:"log_level"`
	KeyDir      string `json:"key_dir"`

	Game      GameConfig      `json:"game"`
	Oracle    OracleConfig    `json:"oracle"`
	Store     StoreConfig     `json:"store"`
	Events    EventsConfig    `json:"events"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	P2P       P2PConfig       `json:"p2p"`

	TimeoutSeconds int `json:"timeout_seconds"`
}

// GameConfig holds the economic parameters. Amounts are decimal wei.
type GameConfig struct {
	Variant      string `json:"variant"`
	Admin        string `json:"admin"`
	MinBetWei    string `json:"min_bet_wei"`
	MaxBetWei    string `json:"max_bet_wei"`
	HouseFeeBP   uint64 `json:"house_fee_bp"`
	FeeCeilingBP uint64 `json:"fee_ceiling_bp"`
}

// OracleConfig selects how randomness is obtained.
type OracleConfig struct {
	Mode                string `json:"mode"`
	Address             string `json:"address"`
	ServiceURL          string `json:"service_url"`
	CallbackURL         string `json:"callback_url"`
	Token               string `json:"token"`
	LocalDelayMillis    int    `json:"local_delay_ms"`
	AllowTestRandomness bool   `json:"allow_test_randomness"`
}

// StoreConfig selects where bets are persisted.
type StoreConfig struct {
	Driver      string `json:"driver"`
	LedgerPath  string `json:"ledger_path"`
	DatabaseURL string `json:"database_url"`
}

// EventsConfig lists optional event sinks. Empty fields disable a sink.
type EventsConfig struct {
	KafkaBrokers []string `json:"kafka_brokers"`
	KafkaTopic   string   `json:"kafka_topic"`
	RedisAddr    string   `json:"redis_addr"`
	RedisChannel string   `json:"redis_channel"`
}

// RateLimitConfig bounds requests per account.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// P2PConfig configures the in-process house agent and its preimage reveal listener. An empty
// listen address disables both.
type P2PConfig struct {
	ListenAddr   string `json:"listen_addr"`
	HouseAccount string `json:"house_account"`
	NodeID       string `json:"node_id"`
}

const (
	VariantProof  = "proof"
	VariantReveal = "reveal"

	OracleLocal = "local"
	OracleHTTP  = "http"

	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Env:         "local",
		HTTPAddr:    ":8080",
		MetricsAddr: ":9095",
		LogLevel:    "info",
		KeyDir:      "keys",
		Game: GameConfig{
			Variant:      VariantProof,
			Admin:        "0x00000000000000000000000000000000000000ad",
			MinBetWei:    "1000000000000000",    // 0.001 ether
			MaxBetWei:    "1000000000000000000", // 1 ether
			HouseFeeBP:   100,
			FeeCeilingBP: 1000,
		},
		Oracle: OracleConfig{
			Mode:             OracleLocal,
			Address:          "0x000000000000000000000000000000000000beef",
			LocalDelayMillis: 500,
		},
		Store: StoreConfig{
			Driver:     StoreFile,
			LedgerPath: "data/bets.json",
		},
		Events: EventsConfig{
			KafkaTopic:   "flipcoin.events",
			RedisChannel: "flipcoin:events",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             10,
		},
		P2P: P2PConfig{
			NodeID: "house",
		},
		TimeoutSeconds: 30,
	}
}

// LoadConfig loads configuration from file or creates the default, then applies the environment.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()
	file, err := os.Open(configPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		if err := SaveConfig(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	config.ApplyEnv(os.LookupEnv)
	return config, nil
}

// SaveConfig saves configuration to file.
func SaveConfig(config *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from FLIPCOIN_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup("FLIPCOIN_" + key); ok && v != "" {
			*dst = v
		}
	}
	str("ENV", &c.Env)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("LOG_LEVEL", &c.LogLevel)
	str("KEY_DIR", &c.KeyDir)
	str("GAME_VARIANT", &c.Game.Variant)
	str("ADMIN", &c.Game.Admin)
	str("ORACLE_MODE", &c.Oracle.Mode)
	str("ORACLE_ADDRESS", &c.Oracle.Address)
	str("ORACLE_SERVICE_URL", &c.Oracle.ServiceURL)
	str("ORACLE_CALLBACK_URL", &c.Oracle.CallbackURL)
	str("ORACLE_TOKEN", &c.Oracle.Token)
	str("STORE_DRIVER", &c.Store.Driver)
	str("LEDGER_PATH", &c.Store.LedgerPath)
	str("DATABASE_URL", &c.Store.DatabaseURL)
	str("KAFKA_TOPIC", &c.Events.KafkaTopic)
	str("REDIS_ADDR", &c.Events.RedisAddr)
	str("REDIS_CHANNEL", &c.Events.RedisChannel)
	str("P2P_LISTEN_ADDR", &c.P2P.ListenAddr)
	str("HOUSE_ACCOUNT", &c.P2P.HouseAccount)

	if v, ok := lookup("FLIPCOIN_KAFKA_BROKERS"); ok && v != "" {
		c.Events.KafkaBrokers = strings.Split(v, ",")
	}
	if v, ok := lookup("FLIPCOIN_ALLOW_TEST_RANDOMNESS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Oracle.AllowTestRandomness = b
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr must be set")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	switch c.Game.Variant {
	case VariantProof, VariantReveal:
	default:
		return fmt.Errorf("game.variant must be %q or %q", VariantProof, VariantReveal)
	}
	if _, err := parseAddress("game.admin", c.Game.Admin); err != nil {
		return err
	}
	minBet, err := parseWei("game.min_bet_wei", c.Game.MinBetWei)
	if err != nil {
		return err
	}
	maxBet, err := parseWei("game.max_bet_wei", c.Game.MaxBetWei)
	if err != nil {
		return err
	}
	if minBet.IsZero() || minBet.Gt(maxBet) {
		return fmt.Errorf("game.min_bet_wei must be positive and not above game.max_bet_wei")
	}
	if c.Game.FeeCeilingBP == 0 || c.Game.FeeCeilingBP > 10_000 {
		return fmt.Errorf("game.fee_ceiling_bp must be in (0, 10000]")
	}
	if c.Game.HouseFeeBP > c.Game.FeeCeilingBP {
		return fmt.Errorf("game.house_fee_bp %d exceeds ceiling %d", c.Game.HouseFeeBP, c.Game.FeeCeilingBP)
	}

	if _, err := parseAddress("oracle.address", c.Oracle.Address); err != nil {
		return err
	}
	switch c.Oracle.Mode {
	case OracleLocal:
		if c.Oracle.LocalDelayMillis < 0 {
			return fmt.Errorf("oracle.local_delay_ms must not be negative")
		}
	case OracleHTTP:
		if c.Oracle.ServiceURL == "" || c.Oracle.CallbackURL == "" {
			return fmt.Errorf("oracle.service_url and oracle.callback_url are required in http mode")
		}
		if c.Oracle.Token == "" {
			return fmt.Errorf("oracle.token is required in http mode")
		}
	default:
		return fmt.Errorf("oracle.mode must be %q or %q", OracleLocal, OracleHTTP)
	}
	if c.Oracle.AllowTestRandomness && c.Env == "prod" {
		return fmt.Errorf("oracle.allow_test_randomness cannot be enabled in prod")
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreFile:
		if c.Store.LedgerPath == "" {
			return fmt.Errorf("store.ledger_path is required for the file driver")
		}
	case StorePostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver must be one of %q, %q, %q", StoreMemory, StoreFile, StorePostgres)
	}

	if len(c.Events.KafkaBrokers) > 0 && c.Events.KafkaTopic == "" {
		return fmt.Errorf("events.kafka_topic is required when brokers are set")
	}
	if c.P2P.ListenAddr != "" {
		if _, err := parseAddress("p2p.house_account", c.P2P.HouseAccount); err != nil {
			return err
		}
		if c.P2P.NodeID == "" {
			return fmt.Errorf("p2p.node_id must be set")
		}
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit values must be positive")
	}
	return nil
}

// Timeout is the per-request deadline.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AdminAddress returns the parsed admin account. Call Validate first.
func (c *Config) AdminAddress() common.Address {
	return common.HexToAddress(c.Game.Admin)
}

// OracleAddress returns the parsed oracle account. Call Validate first.
func (c *Config) OracleAddress() common.Address {
	return common.HexToAddress(c.Oracle.Address)
}

// HouseAccount returns the parsed house agent account. Call Validate first.
func (c *Config) HouseAccount() common.Address {
	return common.HexToAddress(c.P2P.HouseAccount)
}

// BetLimits returns the parsed stake range. Call Validate first.
func (c *Config) BetLimits() (minBet, maxBet *uint256.Int) {
	minBet, _ = uint256.FromDecimal(c.Game.MinBetWei)
	maxBet, _ = uint256.FromDecimal(c.Game.MaxBetWei)
	return minBet, maxBet
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: %q is not an address", field, s)
	}
	a := common.HexToAddress(s)
	if a == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s must not be the zero address", field)
	}
	return a, nil
}

func parseWei(field, s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}
