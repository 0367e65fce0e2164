// Package config loads engine configuration from the environment, with an
// optional .env file for development.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Engine holds the engine's tunables. Zero values are replaced by the
// defaults below.
type Engine struct {
	// AuthEnabled controls permission enforcement for anonymous actors.
	AuthEnabled bool `mapstructure:"auth.enabled"`
	// BatchSize is the record count per batch for generic scans.
	BatchSize int `mapstructure:"batch.size"`
	// FullTextBatchSize is the smaller batch size for full-text scans.
	FullTextBatchSize int `mapstructure:"fulltext.batch.size"`
	// ExprCacheSize bounds the compiled-expression cache.
	ExprCacheSize int `mapstructure:"expr.cache.size"`
	// FetchWorkers sizes the concurrent record-fetch pool. Zero disables
	// pooled fetching.
	FetchWorkers int `mapstructure:"fetch.workers"`
	// LogLevel and LogFormat configure the global logger.
	LogLevel  string `mapstructure:"log.level"`
	LogFormat string `mapstructure:"log.format"`
}

// Default returns the engine defaults.
func Default() Engine {
	return Engine{
		AuthEnabled:       true,
		BatchSize:         64,
		FullTextBatchSize: 16,
		ExprCacheSize:     256,
		FetchWorkers:      8,
		LogLevel:          "INFO",
		LogFormat:         "json",
	}
}

// LoadEngine loads the engine configuration for a prefix, starting from the
// defaults.
func LoadEngine(prefix string) (Engine, error) {
	cfg := Default()
	if err := Load(prefix, &cfg); err != nil {
		return cfg, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = Default().BatchSize
	}
	if cfg.FullTextBatchSize <= 0 {
		cfg.FullTextBatchSize = Default().FullTextBatchSize
	}
	return cfg, nil
}

// Load loads configuration from a .env file and environment variables.
// prefix is the environment variable prefix (e.g. "STRATUM_"); target is a
// pointer to the config struct to load into.
func Load(prefix string, target interface{}) error {
	v := viper.New()

	// The .env file is optional; only care about it when present.
	v.SetConfigFile(".env")
	_ = v.ReadInConfig()

	// AutomaticEnv does not feed Unmarshal when keys are unknown, so
	// populate viper from the environment explicitly.
	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		key, value := pair[0], pair[1]

		if strings.HasPrefix(key, prefixUpper) {
			// STRATUM_BATCH_SIZE -> batch.size
			propKey := strings.TrimPrefix(key, prefixUpper)
			propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
			propKey = strings.TrimPrefix(propKey, ".")

			v.Set(propKey, value)
		}
	}

	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}
