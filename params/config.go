package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Exchange struct {
	QuoteTicker string
	// Tokens deployed on the devnet chain and registered at genesis,
	// quote first.
	Tokens   []string
	AdminKey string // hex secp256k1 key; generated when empty
	ChainID  int64
	// DevFaucet enables POST /api/v1/faucet.
	DevFaucet bool
}

type Node struct {
	DataDir string
	// BlockTime is the interval at which the mempool is drained into a block.
	//
	// Recommended values:
	//   - Devnet:  200ms (5 blocks/sec, prevents log spam)
	//   - Load tests: 50ms
	BlockTime     time.Duration
	MaxBlockBytes int64
}

type API struct {
	Addr string
}

type Log struct {
	File    string
	Verbose bool
}

type Kafka struct {
	Brokers []string // empty disables the sink
	Topic   string
}

// TxGen drives the built-in load generator. Devnet only.
type TxGen struct {
	Enabled bool
	Mode    string // "default" or "high"
}

type Config struct {
	Exchange Exchange
	Node     Node
	API      API
	Log      Log
	Kafka    Kafka
	TxGen    TxGen
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			QuoteTicker: "DAI",
			Tokens:      []string{"DAI", "BAT", "REP", "ZRX"},
			ChainID:     1337,
			DevFaucet:   true,
		},
		Node: Node{
			DataDir:       "data",
			BlockTime:     200 * time.Millisecond, // Devnet default: prevent log spam
			MaxBlockBytes: 1 << 24,
		},
		API: API{Addr: ":8080"},
		Log: Log{File: "logs/dexnode.log"},
		Kafka: Kafka{
			Topic: "dex-events",
		},
		TxGen: TxGen{Mode: "default"},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Exchange.QuoteTicker = getEnv("DEX_QUOTE_TICKER", cfg.Exchange.QuoteTicker)
	if toks := splitList(os.Getenv("DEX_TOKENS")); len(toks) > 0 {
		cfg.Exchange.Tokens = toks
	}
	cfg.Exchange.AdminKey = getEnv("DEX_ADMIN_KEY", cfg.Exchange.AdminKey)
	if id := os.Getenv("DEX_CHAIN_ID"); id != "" {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Exchange.ChainID = n
		}
	}
	if faucet := os.Getenv("DEV_FAUCET"); faucet != "" {
		cfg.Exchange.DevFaucet = faucet == "true"
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	if blockTime := os.Getenv("NODE_BLOCK_TIME_MS"); blockTime != "" {
		if ms, err := strconv.Atoi(blockTime); err == nil {
			cfg.Node.BlockTime = time.Duration(ms) * time.Millisecond
		}
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)
	cfg.Log.Verbose = os.Getenv("VERBOSE") == "true"

	cfg.Kafka.Brokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.TxGen.Enabled = os.Getenv("ENABLE_TXGEN") == "true"
	cfg.TxGen.Mode = getEnv("TXGEN_MODE", cfg.TxGen.Mode)

	return cfg
}

// Validate rejects configurations the node cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Exchange.QuoteTicker == "" {
		errs = append(errs, errors.New("DEX_QUOTE_TICKER must be set"))
	}
	if len(c.Exchange.Tokens) > 0 && c.Exchange.Tokens[0] != c.Exchange.QuoteTicker {
		errs = append(errs, fmt.Errorf("DEX_TOKENS must start with the quote ticker %q", c.Exchange.QuoteTicker))
	}
	if c.Exchange.ChainID <= 0 {
		errs = append(errs, fmt.Errorf("DEX_CHAIN_ID must be positive, got %d", c.Exchange.ChainID))
	}
	if c.Node.BlockTime <= 0 {
		errs = append(errs, fmt.Errorf("NODE_BLOCK_TIME_MS must be positive, got %s", c.Node.BlockTime))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC must be set when KAFKA_BROKERS is"))
	}
	if c.TxGen.Enabled {
		if c.TxGen.Mode != "default" && c.TxGen.Mode != "high" {
			errs = append(errs, fmt.Errorf("TXGEN_MODE must be default or high, got %q", c.TxGen.Mode))
		}
		if !c.Exchange.DevFaucet {
			errs = append(errs, errors.New("ENABLE_TXGEN requires DEV_FAUCET"))
		}
	}
	return errors.Join(errs...)
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
