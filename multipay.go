// Package multipay selects a payment gateway by name and runs invoices
// through the purchase, pay and verify phases.
package multipay

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/eamirgh/go-multipay/internal/logger"
	"github.com/eamirgh/go-multipay/payment"
)

// ErrUnknownGateway is returned when no gateway is registered under a name.
var ErrUnknownGateway = errors.New("unknown gateway")

// Payment is the caller facing dispatcher. The registry is fixed by New.
type Payment struct {
	gateways map[string]payment.Gateway
	def      string
	log      *zap.Logger
}

type Option func(*Payment) error

func WithGateway(gw payment.Gateway) Option {
	return func(p *Payment) error {
		if gw == nil {
			return errors.New("nil gateway")
		}
		name := gw.Name()
		if _, ok := p.gateways[name]; ok {
			return errors.Errorf("gateway %q registered twice", name)
		}
		p.gateways[name] = gw
		return nil
	}
}

// WithDefault names the gateway used when a call passes an empty name.
func WithDefault(name string) Option {
	return func(p *Payment) error {
		p.def = name
		return nil
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Payment) error {
		if l != nil {
			p.log = l
		}
		return nil
	}
}

func New(opts ...Option) (*Payment, error) {
	p := &Payment{
		gateways: make(map[string]payment.Gateway),
		log:      logger.L(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if len(p.gateways) == 0 {
		return nil, errors.New("no gateway registered")
	}
	if p.def == "" && len(p.gateways) == 1 {
		for name := range p.gateways {
			p.def = name
		}
	}
	if _, ok := p.gateways[p.def]; !ok {
		return nil, errors.Wrapf(ErrUnknownGateway, "default %q", p.def)
	}
	return p, nil
}

// Via returns the gateway registered as name, or the default for "".
func (p *Payment) Via(name string) (payment.Gateway, error) {
	if name == "" {
		name = p.def
	}
	gw, ok := p.gateways[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownGateway, "%q", name)
	}
	return gw, nil
}

func (p *Payment) Default() string {
	return p.def
}

func (p *Payment) Names() []string {
	names := make([]string, 0, len(p.gateways))
	for n := range p.gateways {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (p *Payment) Session(inv *payment.Invoice, via string) (*payment.Session, error) {
	gw, err := p.Via(via)
	if err != nil {
		return nil, err
	}
	return payment.NewSession(gw, inv, payment.WithSessionLogger(p.log))
}

// Purchase registers inv with the gateway and returns where to send the payer.
func (p *Payment) Purchase(ctx context.Context, inv *payment.Invoice, via string) (*payment.Session, *payment.RedirectionForm, error) {
	s, err := p.Session(inv, via)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.Purchase(ctx); err != nil {
		return s, nil, err
	}
	form, err := s.Pay()
	if err != nil {
		return s, nil, err
	}
	return s, form, nil
}

// Verify confirms the payment for inv using the callback inputs. An invoice
// is verified at most once; later calls fail with payment.ErrPrecondition.
func (p *Payment) Verify(ctx context.Context, inv *payment.Invoice, via string, in payment.Inputs) (*payment.Receipt, error) {
	s, err := p.Session(inv, via)
	if err != nil {
		return nil, err
	}
	return s.Verify(ctx, in)
}
