package config

import (
	"github.com/pharaohsoft/nileswap/nileswap"
)

// WebAppConfig is the slice of the application config the HTTP layer
// needs.
type WebAppConfig struct {
	Addr           string
	AllowedOrigins []string
	Debug          bool
}

func FromApp(cfg *nileswap.Config) WebAppConfig {
	return WebAppConfig{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Debug:          cfg.Server.Debug,
	}
}
