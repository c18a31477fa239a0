// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type ctxKey string

const configContextKey ctxKey = "privabuild.config"

const (
	DefaultShutdownTimeout = 30 * time.Second
	DefaultGateway         = "gateway.pinata.cloud"
	DefaultChainID         = 11155111
	envPrefix              = "privabuild"
)

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

// RunMode represents the operational mode of privabuild
type RunMode string

const (
	RunModeServe RunMode = "serve" // Talk to a deployed contract, relayer and pinning service (default)
	RunModeDev   RunMode = "dev"   // In-process ledger, encryption network and pinning service
)

// Valid returns true if the RunMode is a known valid mode
func (m RunMode) Valid() bool {
	switch m {
	case RunModeServe, RunModeDev, "":
		return true
	default:
		return false
	}
}

// IsDevMode returns true if the mode replaces external services with
// in-process doubles
func (m RunMode) IsDevMode() bool {
	return m == RunModeDev
}

type tempConfig struct {
	Config yaml.Node `yaml:"config,omitempty"`
}

type Config struct {
	RunMode         RunMode `yaml:"runMode"         split_words:"true"`
	RpcUrl          string  `yaml:"rpcUrl"          split_words:"true"`
	ContractAddress string  `yaml:"contractAddress" split_words:"true"`
	ChainId         int64   `yaml:"chainId"         split_words:"true"`
	PinningUrl      string  `yaml:"pinningUrl"      split_words:"true"`
	// PinningJwt is usually supplied through PRIVABUILD_PINNING_JWT
	PinningJwt string `yaml:"pinningJwt" split_words:"true"`
	Gateway    string `yaml:"gateway"`
	RelayerUrl string `yaml:"relayerUrl" split_words:"true"`
	KeyFile    string `yaml:"keyFile"    split_words:"true"`
	// KeyPassphrase is only read from the environment
	KeyPassphrase      string        `yaml:"-"                  split_words:"true"`
	KeyCacheDir        string        `yaml:"keyCacheDir"        split_words:"true"`
	BackfillChunkSize  uint64        `yaml:"backfillChunkSize"  split_words:"true"`
	BackfillChunkDelay time.Duration `yaml:"backfillChunkDelay" split_words:"true"`
	BackfillLookback   uint64        `yaml:"backfillLookback"   split_words:"true"`
	DecryptionTimeout  time.Duration `yaml:"decryptionTimeout"  split_words:"true"`
	ValidityDays       int64         `yaml:"validityDays"       split_words:"true"`
	ApiListenAddress   string        `yaml:"apiListenAddress"   split_words:"true"`
	BindAddr           string        `yaml:"bindAddr"           split_words:"true"`
	MetricsPort        uint          `yaml:"metricsPort"        split_words:"true"`
	ShutdownTimeout    time.Duration `yaml:"shutdownTimeout"    split_words:"true"`
	Tracing            bool          `yaml:"tracing"`
	TracingStdout      bool          `yaml:"tracingStdout"      split_words:"true"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		RunMode:            RunModeServe,
		ChainId:            DefaultChainID,
		Gateway:            DefaultGateway,
		KeyCacheDir:        defaultKeyCacheDir(),
		BackfillChunkSize:  10,
		BackfillChunkDelay: 200 * time.Millisecond,
		BackfillLookback:   10000,
		DecryptionTimeout:  30 * time.Second,
		ValidityDays:       10,
		ApiListenAddress:   ":8080",
		BindAddr:           "0.0.0.0",
		MetricsPort:        12799,
		ShutdownTimeout:    DefaultShutdownTimeout,
	}
}

func defaultKeyCacheDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".privabuild/keys"
	}
	return filepath.Join(homeDir, ".privabuild", "keys")
}

var globalConfig = DefaultConfig()

// LoadConfig overlays the config file and then the environment onto the
// defaults. Without an explicit file, ~/.privabuild/privabuild.yaml and
// /etc/privabuild/privabuild.yaml are tried in that order.
func LoadConfig(configFile string) (*Config, error) {
	cfg := DefaultConfig()
	if configFile == "" {
		// Check for config file in this path: ~/.privabuild/privabuild.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".privabuild", "privabuild.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/privabuild/privabuild.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/privabuild/privabuild.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		var tempCfg tempConfig
		if err := yaml.Unmarshal(buf, &tempCfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
		if !tempCfg.Config.IsZero() {
			// Overlay the config section onto existing defaults
			if err := tempCfg.Config.Decode(cfg); err != nil {
				return nil, fmt.Errorf("error parsing config section: %w", err)
			}
		} else if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	// Process environment variables
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	if cfg.RunMode == "" {
		cfg.RunMode = RunModeServe
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg
	return cfg, nil
}

func GetConfig() *Config {
	return globalConfig
}

// Validate checks value formats. Required endpoints are checked by the
// commands that need them.
func (c *Config) Validate() error {
	if !c.RunMode.Valid() {
		return fmt.Errorf(
			"invalid runMode: %q (must be 'serve' or 'dev')",
			c.RunMode,
		)
	}
	if c.ContractAddress != "" && !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("invalid contractAddress: %q", c.ContractAddress)
	}
	if c.ChainId <= 0 {
		return fmt.Errorf("invalid chainId: %d", c.ChainId)
	}
	if c.BackfillChunkSize == 0 {
		return errors.New("backfillChunkSize must be greater than zero")
	}
	if c.ValidityDays <= 0 {
		return fmt.Errorf("invalid validityDays: %d", c.ValidityDays)
	}
	if c.DecryptionTimeout <= 0 {
		return fmt.Errorf("invalid decryptionTimeout: %s", c.DecryptionTimeout)
	}
	return nil
}

// RequireLedger checks the settings needed to reach the registry contract
func (c *Config) RequireLedger() error {
	if c.RunMode.IsDevMode() {
		return nil
	}
	if c.RpcUrl == "" {
		return errors.New("rpcUrl is required")
	}
	if c.ContractAddress == "" {
		return errors.New("contractAddress is required")
	}
	return nil
}

// RequireServices checks the settings needed by the sealing and disclosure
// pipelines
func (c *Config) RequireServices() error {
	if err := c.RequireLedger(); err != nil {
		return err
	}
	if c.RunMode.IsDevMode() {
		return nil
	}
	if c.PinningUrl == "" {
		return errors.New("pinningUrl is required")
	}
	if c.RelayerUrl == "" {
		return errors.New("relayerUrl is required")
	}
	if c.KeyFile == "" {
		return errors.New("keyFile is required")
	}
	return nil
}
