package config

import (
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

type Config struct {
	BooksDirectory        string `koanf:"books_directory"`
	CoversDirectory       string `koanf:"covers_directory"`
	DatabaseDebug         bool   `koanf:"database_debug"`
	DatabaseFilePath      string `koanf:"database_file_path"`
	DatabaseMaxRetries    int    `koanf:"database_max_retries"`
	ScanExistingOnStartup bool   `koanf:"scan_existing_on_startup"`
	ScanIntervalSeconds   int    `koanf:"scan_interval_seconds"`
	ServerHost            string `koanf:"server_host"`
	ServerPort            int    `koanf:"server_port"`

	DatabaseBusyTimeout       time.Duration `koanf:"-"`
	DatabaseConnectRetryCount int           `koanf:"-"`
	DatabaseConnectRetryDelay time.Duration `koanf:"-"`
}

const configFileENV = "CONFIG_FILE"

func defaultConfig() *Config {
	return &Config{
		CoversDirectory:           "./data/covers",
		DatabaseMaxRetries:        3,
		ScanIntervalSeconds:       10,
		ServerHost:                "0.0.0.0",
		ServerPort:                3690,
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 5,
		DatabaseConnectRetryDelay: 2 * time.Second,
	}
}

// New loads configuration in increasing order of precedence: built-in
// defaults, the YAML file pointed to by CONFIG_FILE (default
// /config/config.yaml), then environment variables (DATABASE_FILE_PATH
// overrides database_file_path).
func New() (*Config, error) {
	k := koanf.New(".")

	configFilePath := os.Getenv(configFileENV)
	if configFilePath == "" {
		configFilePath = "/config/config.yaml"
	}
	err := k.Load(file.Provider(configFilePath), yaml.Parser())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(err, "failed to load config file %s", configFilePath)
	}

	err = k.Load(env.Provider("", ".", strings.ToLower), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := defaultConfig()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	if cfg.DatabaseFilePath == "" {
		return nil, errors.New("missing required config: DATABASE_FILE_PATH (database_file_path)")
	}
	if cfg.BooksDirectory == "" {
		return nil, errors.New("missing required config: BOOKS_DIRECTORY (books_directory)")
	}

	return cfg, nil
}

// NewForTest returns a config suitable for tests: an in-memory database and
// paths under ./tmp so nothing leaks outside the working directory.
func NewForTest() *Config {
	cfg := defaultConfig()
	cfg.BooksDirectory = "./tmp/books"
	cfg.CoversDirectory = "./tmp/covers"
	cfg.DatabaseFilePath = ":memory:"
	cfg.ScanIntervalSeconds = 1
	cfg.ServerHost = "127.0.0.1"
	cfg.ServerPort = 0
	return cfg
}

// ScanInterval is the directory watcher's polling interval.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}
