package payment

import (
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// Inputs reads named fields the provider sent back with the payer, e.g. the
// query string or form body of the callback request.
type Inputs interface {
	Input(name string) (string, bool)
}

// Values adapts url.Values.
type Values url.Values

func (v Values) Input(name string) (string, bool) {
	vs, ok := v[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Map adapts a plain map.
type Map map[string]string

func (m Map) Input(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// NoInputs is used when verifying without a callback request.
var NoInputs Inputs = Map(nil)

// FromRequest parses the query string and, for POST callbacks, the form body.
func FromRequest(r *http.Request) (Inputs, error) {
	if err := r.ParseForm(); err != nil {
		return nil, errors.Wrap(err, "parse callback form")
	}
	return Values(r.Form), nil
}

// CallbackStatus is the payer-side status the provider reports on return.
type CallbackStatus int

const (
	// StatusUnknown means the status field was not sent at all.
	StatusUnknown CallbackStatus = iota
	StatusOK
	StatusFailed
)

func (s CallbackStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReadStatus reports StatusOK when field equals okValue, StatusFailed when it
// holds anything else and StatusUnknown when it is missing or empty.
func ReadStatus(in Inputs, field, okValue string) CallbackStatus {
	if in == nil {
		return StatusUnknown
	}
	v, ok := in.Input(field)
	if !ok || v == "" {
		return StatusUnknown
	}
	if v == okValue {
		return StatusOK
	}
	return StatusFailed
}

// AmbiguousPolicy decides what Verify does when the callback carries no
// status field at all.
type AmbiguousPolicy string

const (
	// AmbiguousVerify asks the provider, which is authoritative either way.
	AmbiguousVerify AmbiguousPolicy = "verify"
	// AmbiguousReject fails the payment without a network call.
	AmbiguousReject AmbiguousPolicy = "reject"
)

func (p AmbiguousPolicy) Valid() bool {
	return p == AmbiguousVerify || p == AmbiguousReject
}

// ResolveTransactionID returns the invoice transaction id, falling back to
// the named callback field.
func ResolveTransactionID(inv *Invoice, in Inputs, field string) (string, error) {
	if inv != nil && inv.HasTransactionID() {
		return inv.TransactionID(), nil
	}
	if in != nil && field != "" {
		if v, ok := in.Input(field); ok && v != "" {
			return v, nil
		}
	}
	return "", ErrMissingTransactionID
}
