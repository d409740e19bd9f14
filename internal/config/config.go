package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load loads configuration from .env file and environment variables
// prefix: Environment variable prefix (e.g. "BUNSTORE_")
// target: Pointer to the config struct to load into. Fields without a
// matching variable keep their current value.
func Load(prefix string, target interface{}) error {
	return LoadFile("", prefix, target)
}

// LoadFile is Load with an optional YAML, JSON or TOML file read before the
// environment. Environment variables win over the file.
func LoadFile(path, prefix string, target interface{}) error {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	prefixUpper := strings.ToUpper(prefix)

	// 1. Load from .env file (if exists)
	dotenv := viper.New()
	dotenv.SetConfigFile(".env")
	dotenv.SetConfigType("env")
	if err := dotenv.ReadInConfig(); err == nil {
		for _, key := range dotenv.AllKeys() {
			setPrefixed(v, prefixUpper, strings.ToUpper(key), dotenv.GetString(key))
		}
	}

	// 2. Load from environment variables
	// BUNSTORE_STORE_FILENAME -> store.filename
	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		if len(pair) != 2 {
			continue
		}
		setPrefixed(v, prefixUpper, pair[0], pair[1])
	}

	// 3. Unmarshal into struct
	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

func setPrefixed(v *viper.Viper, prefix, key, value string) {
	if !strings.HasPrefix(key, prefix) {
		return
	}
	propKey := strings.TrimPrefix(key, prefix)
	propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
	// Remove leading dot if any (e.g. if prefix didn't include underscore but env did)
	propKey = strings.TrimPrefix(propKey, ".")
	if propKey == "" {
		return
	}
	v.Set(propKey, value)
}
