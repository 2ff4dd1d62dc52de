package payment

import (
	"github.com/pkg/errors"
)

// ErrPrecondition marks programmer errors such as paying an invoice that was
// never purchased. Retrying does not help.
var ErrPrecondition = errors.New("payment precondition violated")

// ErrMissingTransactionID is returned by Pay and Verify when no transaction id
// is known for the invoice.
var ErrMissingTransactionID = errors.Wrap(ErrPrecondition, "invoice has no transaction id")

// PurchaseFailedError means the provider rejected the purchase request, or the
// request never reached it.
type PurchaseFailedError struct {
	Message string
	Err     error
}

func NewPurchaseFailed(message, fallback string, cause error) *PurchaseFailedError {
	if message == "" {
		message = fallback
	}
	return &PurchaseFailedError{Message: message, Err: cause}
}

func (e *PurchaseFailedError) Error() string {
	return e.Message
}

func (e *PurchaseFailedError) Unwrap() error {
	return e.Err
}

// InvalidPaymentError means the payment could not be confirmed.
type InvalidPaymentError struct {
	Message string
	// Code is the provider status code when one was returned, else 0.
	Code int
	Err  error
}

func NewInvalidPayment(message, fallback string, code int) *InvalidPaymentError {
	if message == "" {
		message = fallback
	}
	return &InvalidPaymentError{Message: message, Code: code}
}

func (e *InvalidPaymentError) Error() string {
	return e.Message
}

func (e *InvalidPaymentError) Unwrap() error {
	return e.Err
}

// Kind tags an error returned by a Driver so callers can switch on it.
type Kind int

const (
	KindOther Kind = iota
	KindPurchaseFailed
	KindInvalidPayment
	KindPrecondition
)

func (k Kind) String() string {
	switch k {
	case KindPurchaseFailed:
		return "purchase_failed"
	case KindInvalidPayment:
		return "invalid_payment"
	case KindPrecondition:
		return "precondition"
	default:
		return "other"
	}
}

// KindOf classifies err. Transport and decode errors report KindOther.
func KindOf(err error) Kind {
	if err == nil {
		return KindOther
	}
	var pf *PurchaseFailedError
	if errors.As(err, &pf) {
		return KindPurchaseFailed
	}
	var ip *InvalidPaymentError
	if errors.As(err, &ip) {
		return KindInvalidPayment
	}
	if errors.Is(err, ErrPrecondition) {
		return KindPrecondition
	}
	return KindOther
}

func IsPurchaseFailed(err error) bool {
	return KindOf(err) == KindPurchaseFailed
}

func IsInvalidPayment(err error) bool {
	return KindOf(err) == KindInvalidPayment
}
