// Package config loads bunstore settings from defaults, an optional config
// file, a .env file and prefixed environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/kartikbazzad/bunbase/bunstore/internal/logger"
)

// DefaultPrefix is the environment variable prefix used by the CLI.
const DefaultPrefix = "BUNSTORE_"

// Config is the full settings tree.
type Config struct {
	Log        logger.Config    `mapstructure:"log"`
	Events     EventsConfig     `mapstructure:"events"`
	Collection CollectionConfig `mapstructure:"collection"`
}

// EventsConfig sizes the listener worker pool.
type EventsConfig struct {
	Workers int `mapstructure:"workers"`
}

// CollectionConfig holds defaults applied to every collection.
type CollectionConfig struct {
	Timestamps bool `mapstructure:"timestamps"`
	// Collation is a BCP-47 tag, e.g. "en" or "de-u-co-phonebk".
	Collation    string `mapstructure:"collation"`
	ProgramCache int    `mapstructure:"programcache"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Log:        logger.Config{Level: "INFO", Format: "text"},
		Events:     EventsConfig{Workers: 4},
		Collection: CollectionConfig{ProgramCache: 256},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.addsource", d.Log.AddSource)
	v.SetDefault("events.workers", d.Events.Workers)
	v.SetDefault("collection.timestamps", d.Collection.Timestamps)
	v.SetDefault("collection.collation", d.Collection.Collation)
	v.SetDefault("collection.programcache", d.Collection.ProgramCache)
}

// Load fills target from configuration sources.
// prefix: Environment variable prefix (e.g. "BUNSTORE_")
// path: optional config file (yaml, json, toml...); empty skips it
// target: Pointer to the config struct to load into
func Load(prefix, path string, target interface{}) error {
	v := viper.New()
	setDefaults(v)

	// 1. Explicit config file, which must exist when given
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// 2. .env file (if exists), then 3. the process environment
	if err := applyDotEnv(v, prefix, ".env"); err != nil {
		return err
	}
	applyEnv(v, prefix, os.Environ())

	// 4. Unmarshal into struct
	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

func applyDotEnv(v *viper.Viper, prefix, file string) error {
	if _, err := os.Stat(file); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	env := viper.New()
	env.SetConfigFile(file)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	pairs := make([]string, 0, len(env.AllKeys()))
	for _, k := range env.AllKeys() {
		pairs = append(pairs, strings.ToUpper(k)+"="+env.GetString(k))
	}
	applyEnv(v, prefix, pairs)
	return nil
}

// applyEnv maps PREFIX_A_B=value onto the key a.b.
func applyEnv(v *viper.Viper, prefix string, environ []string) {
	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range environ {
		pair := strings.SplitN(envStr, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key, value := pair[0], pair[1]

		if strings.HasPrefix(key, prefixUpper) {
			// BUNSTORE_LOG_LEVEL -> log.level
			propKey := strings.TrimPrefix(key, prefixUpper)
			propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
			propKey = strings.TrimPrefix(propKey, ".")

			v.Set(propKey, value)
		}
	}
}
