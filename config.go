/************************************************************************************
 *
 * ember, A Lightweight Go library for Discord-style gateway/HTTP clients
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 Marouane Souiri
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package ember

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	yaml "go.yaml.in/yaml/v3"
)

// Config carries the configuration inputs named in §6: token, intents,
// shard ids/count, and the base URL. It is assembled in layers — explicit
// clientOptions override environment variables, which override a YAML
// file, which overrides the built-in defaults.
type Config struct {
	Token      string        `yaml:"token"`
	Intents    GatewayIntent `yaml:"intents"`
	ShardIDs   []int         `yaml:"shard_ids"`
	ShardCount int           `yaml:"shard_count"`
	BaseURL    string        `yaml:"base_url"`
}

// envConfig mirrors Config's fields for envconfig.Process. A separate
// struct is used (rather than tagging Config directly) because envconfig
// zeroes any field with no matching environment variable and no default
// tag; processing into a scratch struct and merging only the fields the
// environment actually set preserves the YAML/default layers beneath it.
type envConfig struct {
	Token      string `envconfig:"TOKEN"`
	ShardCount int    `envconfig:"SHARD_COUNT"`
	BaseURL    string `envconfig:"BASE_URL"`
}

func defaultConfig() Config {
	return Config{
		BaseURL: "https://discord.com/api/v10",
	}
}

// LoadConfig builds a Config by layering, in increasing priority: built-in
// defaults, a YAML file at yamlPath (skipped if yamlPath is empty or the
// file does not exist), and environment variables prefixed EMBER_ (e.g.
// EMBER_TOKEN, EMBER_SHARD_COUNT, EMBER_BASE_URL).
func LoadConfig(yamlPath string) (Config, error) {
	cfg := defaultConfig()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("ember: reading config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("ember: parsing config file: %w", err)
		}
	}

	var env envConfig
	if err := envconfig.Process("ember", &env); err != nil {
		return Config{}, fmt.Errorf("ember: reading environment: %w", err)
	}
	if env.Token != "" {
		cfg.Token = env.Token
	}
	if env.ShardCount != 0 {
		cfg.ShardCount = env.ShardCount
	}
	if env.BaseURL != "" {
		cfg.BaseURL = env.BaseURL
	}

	return cfg, nil
}
