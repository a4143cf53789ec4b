// Package config holds the user facing configuration, loaded with viper from
// flags, environment and an optional config file.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/viper"
)

var log = logging.Logger("config")

// EnvPrefix is prepended to every environment variable, e.g.
// DEAL_INGESTER_CACHE_DIR for cache.dir.
const EnvPrefix = "DEAL_INGESTER"

type Validatable interface {
	Validate() error
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateConfig(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Load unmarshals the global viper configuration into T and validates it.
func Load[T Validatable]() (T, error) {
	return LoadFrom[T](viper.GetViper())
}

// LoadFrom unmarshals the configuration held by v into T and validates it.
func LoadFrom[T Validatable](v *viper.Viper) (T, error) {
	var out T
	if err := v.Unmarshal(&out); err != nil {
		return out, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	log.Debugw("loaded configuration", "config", v.ConfigFileUsed())
	return out, nil
}
