package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/agentmon/internal/gateway"
	"github.com/nkiryanov/agentmon/internal/logger"
	"github.com/nkiryanov/agentmon/internal/storage"
)

const (
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultStorage      = storage.BackendFile
	defaultNamespace    = "default"
)

type Config struct {
	// Monitoring API address
	APIBaseURL string

	// Default logging level
	LogLevel string

	// Environment
	Environment string

	// Storage backend the session is kept in: file, redis, postgres or memory
	Storage string

	// Session file, used by file backend.
	// If empty it is placed in user config dir
	StoragePath string

	// Redis URL, used by redis backend
	RedisURL string

	// Database to connect to, used by postgres backend
	DatabaseDSN string

	// Hex encoded secret key. If set the file backend encrypts stored values
	SecretKey string

	// Namespace of the session in shared backends (redis, postgres)
	Namespace string

	// Timeout of each request attempt
	RequestTimeout time.Duration

	// Address to expose prometheus metrics on while watching. Disabled if empty
	MetricsAddr string

	// Print command output as JSON
	JSON bool
}

func NewConfig() *Config {
	return &Config{
		APIBaseURL:     gateway.DefaultBaseURL,
		LogLevel:       defaultLoggingLevel,
		Environment:    defaultEnvironment,
		Storage:        defaultStorage,
		Namespace:      defaultNamespace,
		RequestTimeout: gateway.DefaultTimeout,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}

	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"API_BASE_URL":    setString(&c.APIBaseURL),
		"LOG_LEVEL":       setString(&c.LogLevel),
		"ENVIRONMENT":     setString(&c.Environment),
		"STORAGE":         setString(&c.Storage),
		"STORAGE_PATH":    setString(&c.StoragePath),
		"REDIS_URL":       setString(&c.RedisURL),
		"DATABASE_URI":    setString(&c.DatabaseDSN),
		"SECRET_KEY":      setString(&c.SecretKey),
		"NAMESPACE":       setString(&c.Namespace),
		"REQUEST_TIMEOUT": setDuration(&c.RequestTimeout),
		"METRICS_ADDRESS": setString(&c.MetricsAddr),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

// ParseFlags parses global flags. Parsing stops at the first positional argument:
// the command and its own flags are returned
func (c *Config) ParseFlags(args []string) ([]string, error) {
	fs := pflag.NewFlagSet("agentmon", pflag.ContinueOnError)
	fs.SetInterspersed(false)

	fs.StringVarP(&c.APIBaseURL, "api", "a", c.APIBaseURL, "Monitoring API base URL")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVarP(&c.Storage, "storage", "s", c.Storage, "Session storage (file, redis, postgres, memory)")
	fs.StringVar(&c.StoragePath, "storage-path", c.StoragePath, "Session file path")
	fs.StringVar(&c.RedisURL, "redis", c.RedisURL, "Redis URL")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVar(&c.SecretKey, "secret-key", c.SecretKey, "Hex key to encrypt session file")
	fs.StringVar(&c.Namespace, "namespace", c.Namespace, "Session namespace in redis or postgres")
	fs.DurationVarP(&c.RequestTimeout, "timeout", "t", c.RequestTimeout, "Request timeout")
	fs.StringVar(&c.MetricsAddr, "metrics-address", c.MetricsAddr, "Serve prometheus metrics on address while watching")
	fs.BoolVar(&c.JSON, "json", c.JSON, "Print output as JSON")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}

// Validate checks options the chosen storage backend needs
func (c *Config) Validate() error {
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}

	switch c.Storage {
	case storage.BackendMemory, storage.BackendFile:
	case storage.BackendRedis:
		if c.RedisURL == "" {
			return errors.New("redis storage needs redis URL")
		}
	case storage.BackendPostgres:
		if c.DatabaseDSN == "" {
			return errors.New("postgres storage needs database URI")
		}
	default:
		return fmt.Errorf("unknown storage %q", c.Storage)
	}
	return nil
}

// defaultStoragePath follows XDG base directory layout
func defaultStoragePath(getenv func(string) string) (string, error) {
	dir := getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home := getenv("HOME")
		if home == "" {
			return "", errors.New("can't locate config dir: neither XDG_CONFIG_HOME nor HOME is set")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "agentmon", "session.json"), nil
}
