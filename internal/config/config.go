package config

import (
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/eamirgh/go-multipay/driver"
)

type Config struct {
	App struct {
		Env            string        `env:"APP_ENV" envDefault:"development"`
		Port           int           `env:"PORT" envDefault:"8080"`
		Gateways       []string      `env:"GATEWAYS" envSeparator:"," envDefault:"vandar"`
		DefaultGateway string        `env:"DEFAULT_GATEWAY" envDefault:"vandar"`
		PendingTTL     time.Duration `env:"PENDING_TTL" envDefault:"30m"`
	}
	Vandar   driver.VandarConfig   `envPrefix:"VANDAR_"`
	Zarinpal driver.ZarinpalConfig `envPrefix:"ZARINPAL_"`
	Paytr    driver.PaytrConfig    `envPrefix:"PAYTR_"`
}

// Load reads .env files (if present) and then the environment.
func Load(files ...string) (Config, error) {
	_ = godotenv.Load(files...)

	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if len(c.App.Gateways) == 0 {
		return Config{}, errors.New("no gateways enabled")
	}
	found := false
	for _, g := range c.App.Gateways {
		if g == c.App.DefaultGateway {
			found = true
		}
	}
	if !found {
		return Config{}, errors.Errorf("default gateway %q is not enabled", c.App.DefaultGateway)
	}
	return c, nil
}
