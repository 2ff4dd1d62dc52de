package multipay

import (
	"github.com/pkg/errors"

	"github.com/eamirgh/go-multipay/driver"
	"github.com/eamirgh/go-multipay/internal/config"
	"github.com/eamirgh/go-multipay/payment"
)

type constructor func(cfg config.Config, opts ...driver.Option) (payment.Gateway, error)

var constructors = map[string]constructor{
	driver.VandarName: func(cfg config.Config, opts ...driver.Option) (payment.Gateway, error) {
		gw, err := cfg.Vandar.Gateway(opts...)
		if err != nil {
			return nil, err
		}
		return gw, nil
	},
	driver.ZarinpalName: func(cfg config.Config, opts ...driver.Option) (payment.Gateway, error) {
		gw, err := cfg.Zarinpal.Gateway(opts...)
		if err != nil {
			return nil, err
		}
		return gw, nil
	},
	driver.PaytrName: func(cfg config.Config, opts ...driver.Option) (payment.Gateway, error) {
		gw, err := cfg.Paytr.Prepare(opts...)
		if err != nil {
			return nil, err
		}
		return gw, nil
	},
}

// FromConfig builds the gateways enabled in cfg.
func FromConfig(cfg config.Config, opts ...driver.Option) (*Payment, error) {
	options := []Option{WithDefault(cfg.App.DefaultGateway)}
	for _, name := range cfg.App.Gateways {
		build, ok := constructors[name]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownGateway, "%q", name)
		}
		gw, err := build(cfg, opts...)
		if err != nil {
			return nil, errors.Wrapf(err, "build gateway %q", name)
		}
		options = append(options, WithGateway(gw))
	}
	return New(options...)
}
