// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	chainIDKey     = "chain-id"
	storagePathKey = "storage-path"
	configFileKey  = "config-file"

	defaultChainID uint64 = 31337
)

type demoConfig struct {
	ChainID     uint64 `mapstructure:"chain-id"`
	StoragePath string `mapstructure:"storage-path"`
}

// buildDemoConfig merges flags, environment variables (FHECLI_ prefix), and
// an optional JSON config file. Each source takes precedence over the one
// after it: flags, then environment, then file.
func buildDemoConfig(fs *pflag.FlagSet) (demoConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("fhecli")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := v.BindPFlags(fs); err != nil {
		return demoConfig{}, err
	}
	v.SetDefault(chainIDKey, defaultChainID)

	if filename := v.GetString(configFileKey); filename != "" {
		v.SetConfigFile(filename)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return demoConfig{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg demoConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return demoConfig{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.ChainID == 0 {
		return demoConfig{}, fmt.Errorf("chain id must be non-zero")
	}
	return cfg, nil
}
