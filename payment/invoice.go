package payment

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Invoice is the caller's request to collect an amount. It is immutable once
// built, except for the transaction id which Purchase assigns exactly once and
// the verification outcome which Verify records exactly once.
type Invoice struct {
	id            uuid.UUID
	amount        uint64
	currency      Currency
	details       map[string]any
	transactionID string
	outcome       State
	receipt       *Receipt
}

type InvoiceOption func(*Invoice)

func WithDetail(key string, value any) InvoiceOption {
	return func(i *Invoice) {
		i.details[key] = value
	}
}

func WithDetails(details map[string]any) InvoiceOption {
	return func(i *Invoice) {
		for k, v := range details {
			i.details[k] = v
		}
	}
}

func WithCurrency(c Currency) InvoiceOption {
	return func(i *Invoice) {
		i.currency = c
	}
}

// NewInvoice builds an invoice of amount in Toman unless WithCurrency says otherwise.
func NewInvoice(amount uint64, opts ...InvoiceOption) (*Invoice, error) {
	if amount == 0 {
		return nil, errors.New("invoice amount must be greater than zero")
	}
	i := &Invoice{
		id:       uuid.New(),
		amount:   amount,
		currency: Toman,
		details:  make(map[string]any),
	}
	for _, opt := range opts {
		opt(i)
	}
	if !i.currency.Valid() {
		return nil, errors.Errorf("unsupported invoice currency %q", i.currency)
	}
	return i, nil
}

func (i *Invoice) ID() uuid.UUID {
	return i.id
}

func (i *Invoice) Amount() uint64 {
	return i.amount
}

func (i *Invoice) Currency() Currency {
	return i.currency
}

// AmountIn returns the amount converted to the given unit.
func (i *Invoice) AmountIn(c Currency) (uint64, error) {
	return Convert(i.amount, i.currency, c)
}

// Detail looks up a caller supplied detail. A missing key means "not provided".
func (i *Invoice) Detail(key string) (any, bool) {
	v, ok := i.details[key]
	return v, ok
}

// DetailString returns the detail formatted as a string, or "" when absent.
func (i *Invoice) DetailString(key string) string {
	v, ok := i.details[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (i *Invoice) Has(key string) bool {
	_, ok := i.details[key]
	return ok
}

// Details returns a copy of the invoice details.
func (i *Invoice) Details() map[string]any {
	out := make(map[string]any, len(i.details))
	for k, v := range i.details {
		out[k] = v
	}
	return out
}

func (i *Invoice) TransactionID() string {
	return i.transactionID
}

func (i *Invoice) HasTransactionID() bool {
	return i.transactionID != ""
}

// SetTransactionID stores the provider token. Setting it again to a different
// value is a precondition violation; repeating the same value is a no-op.
func (i *Invoice) SetTransactionID(id string) error {
	if id == "" {
		return errors.Wrap(ErrPrecondition, "empty transaction id")
	}
	if i.transactionID != "" && i.transactionID != id {
		return errors.Wrapf(ErrPrecondition, "invoice %s already has transaction id %q", i.id, i.transactionID)
	}
	i.transactionID = id
	return nil
}

// Settled returns Verified or VerificationFailed once a verification has
// finished for the invoice.
func (i *Invoice) Settled() (State, bool) {
	return i.outcome, i.outcome.Terminal()
}

// Receipt is the receipt of a successful verification, or nil.
func (i *Invoice) Receipt() *Receipt {
	return i.receipt
}

func (i *Invoice) settle(outcome State, r *Receipt) error {
	if !outcome.Terminal() {
		return errors.Errorf("%s is not a verification outcome", outcome)
	}
	if i.outcome.Terminal() {
		return errors.Wrapf(ErrPrecondition, "invoice %s already %s", i.id, i.outcome)
	}
	i.outcome = outcome
	i.receipt = r
	return nil
}
