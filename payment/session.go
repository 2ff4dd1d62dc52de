package payment

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/eamirgh/go-multipay/internal/i18n"
	"github.com/eamirgh/go-multipay/internal/logger"
	"github.com/eamirgh/go-multipay/internal/metrics"
)

type State int

const (
	Created State = iota
	Purchased
	PurchaseFailed
	Verified
	VerificationFailed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Purchased:
		return "purchased"
	case PurchaseFailed:
		return "purchase_failed"
	case Verified:
		return "verified"
	case VerificationFailed:
		return "verification_failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no phase may run after s.
func (s State) Terminal() bool {
	return s == Verified || s == VerificationFailed
}

// Session runs one invoice through purchase, pay and verify on one gateway
// and rejects phases called out of order. It must not be shared between
// goroutines.
type Session struct {
	gateway string
	invoice *Invoice
	driver  Driver
	state   State
	receipt *Receipt
	log     *zap.Logger
}

type SessionOption func(*Session)

func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSession binds inv to gw. An invoice that already carries a transaction
// id starts in Purchased, so a host can verify after rebuilding it. A settled
// invoice starts in its verification outcome and accepts no further phase.
func NewSession(gw Gateway, inv *Invoice, opts ...SessionOption) (*Session, error) {
	if gw == nil {
		return nil, errors.Wrap(ErrPrecondition, "session without gateway")
	}
	if inv == nil {
		return nil, errors.Wrap(ErrPrecondition, "session without invoice")
	}
	s := &Session{
		gateway: gw.Name(),
		invoice: inv,
		driver:  gw.Driver(inv),
		state:   Created,
		log:     logger.L(),
	}
	if inv.HasTransactionID() {
		s.state = Purchased
	}
	if outcome, ok := inv.Settled(); ok {
		s.state = outcome
		s.receipt = inv.Receipt()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Invoice() *Invoice {
	return s.invoice
}

func (s *Session) Gateway() string {
	return s.gateway
}

// Receipt is set once Verify succeeds.
func (s *Session) Receipt() *Receipt {
	return s.receipt
}

func (s *Session) logFor(ctx context.Context, phase string) *zap.Logger {
	return logger.FromCtx(ctx, s.log).With(
		zap.String("gateway", s.gateway),
		zap.Stringer("invoice_id", s.invoice.ID()),
		zap.String("phase", phase),
		zap.Stringer("state", s.state),
	)
}

func (s *Session) observe(phase string, started time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	metrics.ObservePhase(s.gateway, phase, outcome, started)
}

func (s *Session) Purchase(ctx context.Context) (tid string, err error) {
	if s.state != Created && s.state != PurchaseFailed {
		return "", errors.Wrapf(ErrPrecondition, "purchase in state %s", s.state)
	}
	log := s.logFor(ctx, "purchase")
	started := time.Now()
	defer func() { s.observe("purchase", started, err) }()

	tid, err = s.driver.Purchase(ctx)
	if err == nil && (tid == "" || s.invoice.TransactionID() != tid) {
		err = NewPurchaseFailed("", i18n.T(i18n.DefaultLang, i18n.PurchaseFailed),
			errors.Errorf("driver returned transaction id %q, invoice holds %q", tid, s.invoice.TransactionID()))
	}
	if err != nil {
		if KindOf(err) != KindPrecondition {
			s.state = PurchaseFailed
		}
		log.Warn("purchase failed", zap.Error(err), zap.Stringer("kind", KindOf(err)))
		return "", err
	}
	s.state = Purchased
	log.Info("purchased", zap.String("transaction_id", tid))
	return tid, nil
}

func (s *Session) Pay() (form *RedirectionForm, err error) {
	if s.state != Purchased {
		return nil, errors.Wrapf(ErrPrecondition, "pay in state %s", s.state)
	}
	started := time.Now()
	defer func() { s.observe("pay", started, err) }()

	form, err = s.driver.Pay()
	if err != nil {
		return nil, err
	}
	if form == nil || form.URL == "" {
		return nil, errors.New("driver returned an empty redirection")
	}
	return form, nil
}

// Verify is allowed after a purchase, or before one when the callback itself
// carries the transaction id. A transport error leaves the state unchanged so
// the caller may try again.
func (s *Session) Verify(ctx context.Context, in Inputs) (r *Receipt, err error) {
	if outcome, ok := s.invoice.Settled(); ok {
		s.state = outcome
		s.receipt = s.invoice.Receipt()
	}
	if s.state != Purchased && s.state != Created {
		return nil, errors.Wrapf(ErrPrecondition, "verify in state %s", s.state)
	}
	if in == nil {
		in = NoInputs
	}
	log := s.logFor(ctx, "verify")
	started := time.Now()
	defer func() { s.observe("verify", started, err) }()

	r, err = s.driver.Verify(ctx, in)
	if err == nil && r == nil {
		err = errors.New("driver returned neither receipt nor error")
	}
	if err != nil {
		if KindOf(err) == KindInvalidPayment {
			if serr := s.invoice.settle(VerificationFailed, nil); serr != nil {
				return nil, serr
			}
			s.state = VerificationFailed
		}
		log.Warn("verification failed", zap.Error(err), zap.Stringer("kind", KindOf(err)))
		return nil, err
	}
	if err = s.invoice.settle(Verified, r); err != nil {
		return nil, err
	}
	s.state = Verified
	s.receipt = r
	log.Info("verified", zap.String("reference_id", r.ReferenceID()))
	return r, nil
}
