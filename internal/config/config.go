package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"RaffleKeeper/internal/units"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Network  string   `yaml:"network" env:"RAFFLE_NETWORK"`
	Raffle   Raffle   `yaml:"raffle"`
	VRF      VRF      `yaml:"vrf"`
	Schedule Schedule `yaml:"schedule"`
	Database Database `yaml:"database"`
	Telegram Telegram `yaml:"telegram"`
	Metrics  Metrics  `yaml:"metrics"`
	Proxy    string   `yaml:"proxy" env:"HTTPS_PROXY"`
}

type Raffle struct {
	EntranceFee string        `yaml:"entrance_fee" env:"RAFFLE_ENTRANCE_FEE"` // ether, or "<n>wei"
	Interval    time.Duration `yaml:"interval" env:"RAFFLE_INTERVAL"`
}

type VRF struct {
	Coordinator          string `yaml:"coordinator" env:"VRF_COORDINATOR"`
	KeyHash              string `yaml:"key_hash" env:"VRF_KEY_HASH"` // gas lane
	SubscriptionID       uint64 `yaml:"subscription_id" env:"VRF_SUBSCRIPTION_ID"`
	CallbackGasLimit     uint32 `yaml:"callback_gas_limit" env:"VRF_CALLBACK_GAS_LIMIT"`
	RequestConfirmations uint16 `yaml:"request_confirmations" env:"VRF_REQUEST_CONFIRMATIONS"`
	NumWords             uint32 `yaml:"num_words" env:"VRF_NUM_WORDS"`
	Mock                 Mock   `yaml:"mock"`
}

// Mock configures the local coordinator used on development networks.
type Mock struct {
	BaseFee      string        `yaml:"base_fee" env:"VRF_MOCK_BASE_FEE"` // LINK per request
	GasPriceLink string        `yaml:"gas_price_link" env:"VRF_MOCK_GAS_PRICE_LINK"`
	FundAmount   string        `yaml:"fund_amount" env:"VRF_MOCK_FUND_AMOUNT"`
	BlockTime    time.Duration `yaml:"block_time" env:"VRF_MOCK_BLOCK_TIME"`
}

type Schedule struct {
	UpkeepCron string `yaml:"upkeep_cron" env:"CRON_UPKEEP"`
	OracleCron string `yaml:"oracle_cron" env:"CRON_ORACLE"`
}

type Database struct {
	Driver       string `yaml:"driver" env:"STORE_DRIVER"` // sqlite, file or memory
	SQLitePath   string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	StateFile    string `yaml:"state_file" env:"STATE_FILE"`
	RecorderPath string `yaml:"recorder_path" env:"RECORDER_PATH"`
}

type Telegram struct {
	BotToken string `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN"`
	ChatID   string `yaml:"chat_id" env:"TELEGRAM_CHAT_ID"`
}

type Metrics struct {
	LogInterval time.Duration `yaml:"log_interval" env:"METRICS_LOG_INTERVAL"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and finally the defaults of the selected network.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Network == "" {
		c.Network = "localhost"
	}
	if n, ok := Networks[c.Network]; ok {
		if c.VRF.Coordinator == "" {
			c.VRF.Coordinator = n.Coordinator
		}
		if c.Raffle.EntranceFee == "" {
			c.Raffle.EntranceFee = n.EntranceFee
		}
		if c.VRF.KeyHash == "" {
			c.VRF.KeyHash = n.GasLane
		}
		if c.VRF.SubscriptionID == 0 {
			c.VRF.SubscriptionID = n.SubscriptionID
		}
		if c.VRF.CallbackGasLimit == 0 {
			c.VRF.CallbackGasLimit = n.CallbackGasLimit
		}
		if c.Raffle.Interval == 0 {
			c.Raffle.Interval = n.Interval
		}
	}
	if c.VRF.RequestConfirmations == 0 {
		c.VRF.RequestConfirmations = 3
	}
	if c.VRF.NumWords == 0 {
		c.VRF.NumWords = 1
	}
	if c.VRF.Mock.BaseFee == "" {
		c.VRF.Mock.BaseFee = "0.25"
	}
	if c.VRF.Mock.GasPriceLink == "" {
		c.VRF.Mock.GasPriceLink = "1000000000wei"
	}
	if c.VRF.Mock.FundAmount == "" {
		c.VRF.Mock.FundAmount = "2"
	}
	if c.VRF.Mock.BlockTime == 0 {
		c.VRF.Mock.BlockTime = time.Second
	}
	if c.Schedule.UpkeepCron == "" {
		c.Schedule.UpkeepCron = "*/5 * * * * *"
	}
	if c.Schedule.OracleCron == "" {
		c.Schedule.OracleCron = "* * * * * *"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/raffle.db"
	}
	if c.Database.StateFile == "" {
		c.Database.StateFile = "data/raffle_state.json"
	}
	if c.Database.RecorderPath == "" {
		c.Database.RecorderPath = c.Database.SQLitePath
	}
}

// Validate checks that all required fields are set and well-formed.
func (c *Config) Validate() error {
	n, ok := Networks[c.Network]
	if !ok {
		return fmt.Errorf("network %q is not configured", c.Network)
	}
	fee, err := c.EntranceFee()
	if err != nil {
		return fmt.Errorf("raffle.entrance_fee: %w", err)
	}
	if fee.Sign() <= 0 {
		return fmt.Errorf("raffle.entrance_fee must be positive")
	}
	if c.Raffle.Interval <= 0 {
		return fmt.Errorf("raffle.interval must be positive")
	}
	if _, err := c.KeyHash(); err != nil {
		return fmt.Errorf("vrf.key_hash: %w", err)
	}
	if c.VRF.CallbackGasLimit == 0 {
		return fmt.Errorf("vrf.callback_gas_limit is required")
	}
	if c.VRF.NumWords > 500 {
		return fmt.Errorf("vrf.num_words must be at most 500")
	}
	if !n.Development {
		if !common.IsHexAddress(c.VRF.Coordinator) {
			return fmt.Errorf("vrf.coordinator must be an address on network %s", c.Network)
		}
	}
	for _, amount := range []struct{ name, value string }{
		{"vrf.mock.base_fee", c.VRF.Mock.BaseFee},
		{"vrf.mock.gas_price_link", c.VRF.Mock.GasPriceLink},
		{"vrf.mock.fund_amount", c.VRF.Mock.FundAmount},
	} {
		if _, err := units.ParseEther(amount.value); err != nil {
			return fmt.Errorf("%s: %w", amount.name, err)
		}
	}
	switch c.Database.Driver {
	case "sqlite", "file", "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite, file or memory, got %q", c.Database.Driver)
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	return nil
}

// IsDevelopment reports whether the selected network uses the local mock coordinator.
func (c *Config) IsDevelopment() bool {
	return Networks[c.Network].Development
}

// EntranceFee returns the fee in wei.
func (c *Config) EntranceFee() (*big.Int, error) {
	return units.ParseEther(c.Raffle.EntranceFee)
}

// KeyHash returns the gas lane as a 32-byte hash.
func (c *Config) KeyHash() (common.Hash, error) {
	b, err := hexutil.Decode(strings.TrimSpace(c.VRF.KeyHash))
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("want %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}
