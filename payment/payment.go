package payment

import "context"

// Driver is one gateway bound to one invoice for a purchase, pay, verify cycle.
// A Driver is not safe for concurrent use.
type Driver interface {
	// Purchase registers the invoice with the provider, stores the returned
	// transaction id on the invoice and returns it.
	Purchase(ctx context.Context) (string, error)
	// Pay describes where to send the payer. It makes no network call.
	Pay() (*RedirectionForm, error)
	// Verify confirms the payment using the fields the provider sent back.
	Verify(ctx context.Context, in Inputs) (*Receipt, error)
}

// Gateway is a configured integration. It holds no per-payment state.
type Gateway interface {
	Name() string
	Driver(inv *Invoice) Driver
}

// Correlator is implemented by gateways that can match a callback to the
// invoice it belongs to. Hosts use it to find pending invoices.
type Correlator interface {
	// CallbackKey extracts the correlation key from callback inputs.
	CallbackKey(in Inputs) (string, bool)
	// InvoiceKey is the key the same callback will carry for inv.
	InvoiceKey(inv *Invoice) string
}
