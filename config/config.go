package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config carries the engine tunables. Every field has a working default so a
// zero-config embedder can materialize immediately; the environment (prefix
// MINIDF_) and an optional config file override them.
type Config struct {
	// Partitions is the default partition count for shuffles and scans.
	Partitions int `mapstructure:"partitions"`
	// Workers bounds the goroutines executing partition tasks per stage.
	Workers int `mapstructure:"workers"`
	// BatchSize is the row capacity of one batch flowing between operators.
	BatchSize int `mapstructure:"batch_size"`
	// BroadcastThresholdBytes is the largest estimated side the optimizer
	// will broadcast in a join.
	BroadcastThresholdBytes int64 `mapstructure:"broadcast_threshold_bytes"`
	// MaxOptimizerPasses bounds the rewrite fixed point.
	MaxOptimizerPasses int `mapstructure:"max_optimizer_passes"`
}

func Default() *Config {
	return &Config{
		Partitions:              4,
		Workers:                 4,
		BatchSize:               1024,
		BroadcastThresholdBytes: 10 * 1024 * 1024,
		MaxOptimizerPasses:      20,
	}
}

// Load reads the config file at path when path is non empty, then applies
// MINIDF_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("partitions", def.Partitions)
	v.SetDefault("workers", def.Workers)
	v.SetDefault("batch_size", def.BatchSize)
	v.SetDefault("broadcast_threshold_bytes", def.BroadcastThresholdBytes)
	v.SetDefault("max_optimizer_passes", def.MaxOptimizerPasses)
	v.SetEnvPrefix("minidf")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	ret := &Config{}
	if err := v.Unmarshal(ret); err != nil {
		return nil, err
	}
	return ret, nil
}
