package config

import (
	"github.com/storacha/deal-ingester/pkg/config/app"
)

// ServerConfig configures the liveness server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled" flag:"serve" toml:"enabled"`
	Port    uint   `mapstructure:"port" validate:"required,min=1,max=65535" flag:"port" toml:"port"`
	Host    string `mapstructure:"host" validate:"required" flag:"host" toml:"host"`
}

func (s ServerConfig) Validate() error {
	return validateConfig(s)
}

func (s ServerConfig) ToAppConfig() (app.ServerConfig, error) {
	return app.ServerConfig{
		Enabled: s.Enabled,
		Host:    s.Host,
		Port:    s.Port,
	}, nil
}
