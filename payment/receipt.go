package payment

import (
	"fmt"
	"time"
)

// Receipt is the proof of a verified payment. Drivers create it inside Verify.
type Receipt struct {
	provider    string
	referenceID string
	date        time.Time
	details     map[string]any
}

func NewReceipt(provider, referenceID string, details map[string]any) *Receipt {
	d := make(map[string]any, len(details))
	for k, v := range details {
		d[k] = v
	}
	return &Receipt{
		provider:    provider,
		referenceID: referenceID,
		date:        time.Now(),
		details:     d,
	}
}

func (r *Receipt) Provider() string {
	return r.provider
}

// ReferenceID is the provider's confirmation id.
func (r *Receipt) ReferenceID() string {
	return r.referenceID
}

func (r *Receipt) Date() time.Time {
	return r.date
}

func (r *Receipt) Detail(key string) (any, bool) {
	v, ok := r.details[key]
	return v, ok
}

func (r *Receipt) DetailString(key string) string {
	v, ok := r.details[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (r *Receipt) Details() map[string]any {
	out := make(map[string]any, len(r.details))
	for k, v := range r.details {
		out[k] = v
	}
	return out
}
