package types

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const (
	DataSourceRPC  = "rpc"
	DataSourceFile = "file"
)

// Config holds the replayer configuration
type Config struct {
	RootDir string

	// RPCEndpoint and Contract are used when DataSource is "rpc"
	RPCEndpoint string
	Contract    string
	// StartBlock is the contract deployment block; a replica is only valid
	// for one (Contract, StartBlock) pair
	StartBlock uint64
	// BlockRange bounds a single log query
	BlockRange uint64

	DataSource string
	// EventFile is used when DataSource is "file"
	EventFile string

	// DBPath is the snapshot store; empty keeps everything in memory
	DBPath string
	// VKPath optionally points to a groth16 verifying key used to check
	// transition proofs locally instead of calling the contract
	VKPath string

	DefaultKarma uint64
	StartEpoch   uint64

	Parallelism int
	LogLevel    string
}

func NewConfig(args ...string) *Config {
	// Parse configuration from environment variables or command line args
	config := Config{
		RootDir:      getEnv("ROOT", "."),
		RPCEndpoint:  getEnv("RPC_ENDPOINT", "http://localhost:8545"),
		Contract:     getEnv("CONTRACT", ""),
		StartBlock:   getEnvUint("START_BLOCK", 0),
		BlockRange:   getEnvUint("BLOCK_RANGE", 5000),
		DataSource:   getEnv("DATA_SOURCE", DataSourceRPC),
		EventFile:    getEnv("EVENT_FILE", "events.json"),
		DBPath:       getEnv("DB_PATH", ""),
		VKPath:       getEnv("VK_PATH", ""),
		DefaultKarma: getEnvUint("DEFAULT_KARMA", 30),
		StartEpoch:   getEnvUint("START_EPOCH", 1),
		Parallelism:  int(getEnvUint("PARALLELISM", 4)),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	for i := 0; i < len(args); i++ {
		if len(args) <= i+1 {
			panic(fmt.Errorf("missing argument for %s", args[i]))
		}

		switch args[i] {
		case "--root":
			config.RootDir = args[i+1]
			i++
		case "--rpc":
			config.RPCEndpoint = args[i+1]
			i++
		case "--contract":
			config.Contract = args[i+1]
			i++
		case "--start-block":
			config.StartBlock, _ = strconv.ParseUint(args[i+1], 10, 64)
			i++
		case "--source":
			config.DataSource = args[i+1]
			i++
		case "--events":
			config.EventFile = args[i+1]
			i++
		case "--db":
			config.DBPath = args[i+1]
			i++
		case "--vk":
			config.VKPath = args[i+1]
			i++
		case "--log-level":
			config.LogLevel = args[i+1]
			i++
		}
	}

	return &config
}

func (c *Config) Validate() error {
	switch c.DataSource {
	case DataSourceRPC:
		if c.Contract == "" {
			return fmt.Errorf("contract address is required for data source %q", c.DataSource)
		}
	case DataSourceFile:
		if c.EventFile == "" {
			return fmt.Errorf("event file is required for data source %q", c.DataSource)
		}
	default:
		return fmt.Errorf("unknown data source %q", c.DataSource)
	}
	if c.BlockRange == 0 {
		return fmt.Errorf("block range must be positive")
	}
	if c.Parallelism < 1 {
		return fmt.Errorf("parallelism must be positive")
	}
	return nil
}

// NewLogger builds the process logger at the configured level.
func (c *Config) NewLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}
