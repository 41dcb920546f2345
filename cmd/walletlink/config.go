package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/erc7824/nitrolite/walletlink/etherscan"
	"github.com/erc7824/nitrolite/walletlink/pkg/log"
	"github.com/erc7824/nitrolite/walletlink/storage"
)

const (
	configDirEnv = "WALLETLINK_CONFIG_DIR"
	logOutputEnv = "LOG_OUTPUT"
	appName      = "walletlink"
	databaseFile = "walletlink.db"
	logFile      = "walletlink.log"
)

type ClientConfig struct {
	Name        string `env:"WALLETLINK_CLIENT_NAME" env-default:"walletlink"`
	URL         string `env:"WALLETLINK_CLIENT_URL" env-default:"https://github.com/erc7824/nitrolite"`
	Description string `env:"WALLETLINK_CLIENT_DESCRIPTION" env-default:"Review transactions requested by a paired wallet"`
}

// Config is the CLI configuration, read from the environment after loading
// <config dir>/.env.
type Config struct {
	ConfigDir   string
	StorageKey  string `env:"WALLETLINK_STORAGE_KEY" env-default:"linkwalletconnect"`
	EthRPCURL   string `env:"WALLETLINK_ETH_RPC_URL" env-default:"https://ethereum-rpc.publicnode.com"`
	MetricsAddr string `env:"WALLETLINK_METRICS_ADDR"`

	Client    ClientConfig
	Database  storage.Config
	Etherscan etherscan.Config
	Log       log.Config
}

func LoadConfig() (Config, error) {
	configDir := os.Getenv(configDirEnv)
	if configDir == "" {
		userConfDir, err := os.UserConfigDir()
		if err != nil {
			return Config{}, fmt.Errorf("failed to get user config directory: %w", err)
		}
		configDir = filepath.Join(userConfDir, appName)
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return Config{}, fmt.Errorf("failed to create config directory: %w", err)
	}

	// A missing .env is fine, the environment alone may configure everything.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read env: %w", err)
	}
	cfg.ConfigDir = configDir

	if cfg.Database.URL == "" {
		cfg.Database.URL = filepath.Join(configDir, databaseFile)
	}
	// Logging to stderr would garble the prompt.
	if os.Getenv(logOutputEnv) == "" {
		cfg.Log.Output = filepath.Join(configDir, logFile)
	}
	level, err := log.ParseLevel(string(cfg.Log.Level))
	if err != nil {
		return Config{}, err
	}
	cfg.Log.Level = level

	return cfg, nil
}
