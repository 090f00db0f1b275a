// Package config provides a reusable loader for ledgercore configuration
// files and environment variables. It is versioned so that applications
// can depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"ledgercore/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a ledgercore validator process.
// It mirrors the structure of the YAML files under cmd/ledgernode/config.
type Config struct {
	KVStore struct {
		Path       string `mapstructure:"path" json:"path"`
		MmapSizeMB int    `mapstructure:"mmap_size_mb" json:"mmap_size_mb"`
	} `mapstructure:"kvstore" json:"kvstore"`

	Merkle struct {
		AddressLength int `mapstructure:"address_length" json:"address_length"`
	} `mapstructure:"merkle" json:"merkle"`

	BlockManager struct {
		GenesisFile string `mapstructure:"genesis_file" json:"genesis_file"`
	} `mapstructure:"blockmanager" json:"blockmanager"`

	Validator struct {
		Workers         int `mapstructure:"workers" json:"workers"`
		ResultCacheSize int `mapstructure:"result_cache_size" json:"result_cache_size"`
	} `mapstructure:"validator" json:"validator"`

	Publisher struct {
		MaxBatchesPerBlock int `mapstructure:"max_batches_per_block" json:"max_batches_per_block"`
		QueueWindow        int `mapstructure:"queue_window" json:"queue_window"`
	} `mapstructure:"publisher" json:"publisher"`

	Consensus struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"consensus" json:"consensus"`

	Pruning struct {
		IntervalBlocks int `mapstructure:"interval_blocks" json:"interval_blocks"`
		Depth          int `mapstructure:"depth" json:"depth"`
	} `mapstructure:"pruning" json:"pruning"`

	Metrics struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"metrics" json:"metrics"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is
// loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/ledgernode/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the LEDGERCORE_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("LEDGERCORE_ENV", ""))
}
