package payment

import (
	"context"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eamirgh/go-multipay/internal/metrics"
)

// fakeGateway drives a Session with scripted driver results.
type fakeGateway struct {
	name        string
	token       string
	purchaseErr error
	verifyErr   error
	skipStore   bool
	purchases   int
	verifies    int
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) Driver(inv *Invoice) Driver { return &fakeDriver{g: g, inv: inv} }

type fakeDriver struct {
	g   *fakeGateway
	inv *Invoice
}

func (d *fakeDriver) Purchase(ctx context.Context) (string, error) {
	d.g.purchases++
	if d.g.purchaseErr != nil {
		return "", d.g.purchaseErr
	}
	if !d.g.skipStore {
		if err := d.inv.SetTransactionID(d.g.token); err != nil {
			return "", err
		}
	}
	return d.g.token, nil
}

func (d *fakeDriver) Pay() (*RedirectionForm, error) {
	if !d.inv.HasTransactionID() {
		return nil, ErrMissingTransactionID
	}
	return NewRedirectionForm("https://pay.example/"+d.inv.TransactionID(), http.MethodGet, nil)
}

func (d *fakeDriver) Verify(ctx context.Context, in Inputs) (*Receipt, error) {
	d.g.verifies++
	if d.g.verifyErr != nil {
		return nil, d.g.verifyErr
	}
	id, err := ResolveTransactionID(d.inv, in, "token")
	if err != nil {
		return nil, err
	}
	return NewReceipt(d.g.name, "ref-"+id, nil), nil
}

func phaseCount(gateway, phase, outcome string) float64 {
	return testutil.ToFloat64(metrics.PhaseTotal.WithLabelValues(gateway, phase, outcome))
}

func newSession(t *testing.T, gw *fakeGateway) *Session {
	t.Helper()
	inv, err := NewInvoice(1000)
	require.NoError(t, err)
	s, err := NewSession(gw, inv, WithSessionLogger(zap.NewNop()))
	require.NoError(t, err)
	return s
}

func TestSession_HappyPath(t *testing.T) {
	gw := &fakeGateway{name: "session-happy", token: "abc123"}
	s := newSession(t, gw)
	assert.Equal(t, Created, s.State())

	tid, err := s.Purchase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", tid)
	assert.Equal(t, Purchased, s.State())

	form, err := s.Pay()
	require.NoError(t, err)
	assert.Contains(t, form.URL, "abc123")

	again, err := s.Pay()
	require.NoError(t, err)
	assert.Equal(t, form, again)

	r, err := s.Verify(context.Background(), Map{})
	require.NoError(t, err)
	assert.Equal(t, "ref-abc123", r.ReferenceID())
	assert.Equal(t, Verified, s.State())
	assert.Same(t, r, s.Receipt())
	assert.True(t, s.State().Terminal())

	assert.Equal(t, float64(1), phaseCount("session-happy", "purchase", "ok"))
	assert.Equal(t, float64(2), phaseCount("session-happy", "pay", "ok"))
	assert.Equal(t, float64(1), phaseCount("session-happy", "verify", "ok"))
}

func TestSession_OutOfOrder(t *testing.T) {
	gw := &fakeGateway{name: "session-order", token: "abc123"}
	s := newSession(t, gw)

	_, err := s.Pay()
	assert.True(t, errors.Is(err, ErrPrecondition))

	_, err = s.Purchase(context.Background())
	require.NoError(t, err)

	_, err = s.Purchase(context.Background())
	assert.Equal(t, KindPrecondition, KindOf(err))
	assert.Equal(t, 1, gw.purchases)

	_, err = s.Verify(context.Background(), nil)
	require.NoError(t, err)

	_, err = s.Verify(context.Background(), nil)
	assert.Equal(t, KindPrecondition, KindOf(err))
	_, err = s.Pay()
	assert.Equal(t, KindPrecondition, KindOf(err))
	assert.Equal(t, 1, gw.verifies)
}

func TestSession_PurchaseFailed(t *testing.T) {
	gw := &fakeGateway{
		name:        "session-purchase-failed",
		token:       "abc123",
		purchaseErr: NewPurchaseFailed("insufficient funds", "", nil),
	}
	s := newSession(t, gw)

	_, err := s.Purchase(context.Background())
	assert.EqualError(t, err, "insufficient funds")
	assert.Equal(t, PurchaseFailed, s.State())
	assert.False(t, s.Invoice().HasTransactionID())

	_, err = s.Pay()
	assert.Equal(t, KindPrecondition, KindOf(err))

	// the caller may retry the purchase
	gw.purchaseErr = nil
	tid, err := s.Purchase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123", tid)
	assert.Equal(t, Purchased, s.State())
	assert.Equal(t, float64(1), phaseCount("session-purchase-failed", "purchase", "purchase_failed"))
}

func TestSession_EmptyTokenIsNotSuccess(t *testing.T) {
	gw := &fakeGateway{name: "session-empty-token", token: "", skipStore: true}
	s := newSession(t, gw)

	tid, err := s.Purchase(context.Background())
	assert.Empty(t, tid)
	assert.True(t, IsPurchaseFailed(err))
	assert.Equal(t, PurchaseFailed, s.State())
}

func TestSession_VerifyFailures(t *testing.T) {
	t.Run("InvalidPaymentIsTerminal", func(t *testing.T) {
		gw := &fakeGateway{name: "session-verify", token: "abc", verifyErr: NewInvalidPayment("", "failed", 0)}
		s := newSession(t, gw)
		_, err := s.Purchase(context.Background())
		require.NoError(t, err)

		_, err = s.Verify(context.Background(), Map{})
		assert.True(t, IsInvalidPayment(err))
		assert.Equal(t, VerificationFailed, s.State())
		assert.Nil(t, s.Receipt())
	})

	t.Run("TransportErrorKeepsState", func(t *testing.T) {
		gw := &fakeGateway{name: "session-verify", token: "abc", verifyErr: errors.New("connection reset")}
		s := newSession(t, gw)
		_, err := s.Purchase(context.Background())
		require.NoError(t, err)

		_, err = s.Verify(context.Background(), Map{})
		assert.Equal(t, KindOther, KindOf(err))
		assert.Equal(t, Purchased, s.State())

		gw.verifyErr = nil
		_, err = s.Verify(context.Background(), Map{})
		assert.NoError(t, err)
	})
}

func TestSession_VerifyFromCallbackToken(t *testing.T) {
	gw := &fakeGateway{name: "session-callback"}
	s := newSession(t, gw)

	r, err := s.Verify(context.Background(), Map{"token": "cb-token"})
	require.NoError(t, err)
	assert.Equal(t, "ref-cb-token", r.ReferenceID())
}

func TestNewSession(t *testing.T) {
	inv, err := NewInvoice(10)
	require.NoError(t, err)

	_, err = NewSession(nil, inv)
	assert.True(t, errors.Is(err, ErrPrecondition))
	_, err = NewSession(&fakeGateway{name: "x"}, nil)
	assert.True(t, errors.Is(err, ErrPrecondition))

	require.NoError(t, inv.SetTransactionID("known"))
	s, err := NewSession(&fakeGateway{name: "x"}, inv)
	require.NoError(t, err)
	assert.Equal(t, Purchased, s.State())
}

func TestSession_SettledInvoice(t *testing.T) {
	t.Run("VerifiedInvoiceKeepsItsReceipt", func(t *testing.T) {
		gw := &fakeGateway{name: "session-settled", token: "abc"}
		s := newSession(t, gw)
		_, err := s.Purchase(context.Background())
		require.NoError(t, err)
		first, err := s.Verify(context.Background(), Map{})
		require.NoError(t, err)

		again, err := NewSession(gw, s.Invoice(), WithSessionLogger(zap.NewNop()))
		require.NoError(t, err)
		assert.Equal(t, Verified, again.State())
		assert.Same(t, first, again.Receipt())

		_, err = again.Verify(context.Background(), Map{})
		assert.True(t, errors.Is(err, ErrPrecondition))
		assert.Equal(t, 1, gw.verifies)
	})

	t.Run("FailedInvoiceStaysFailed", func(t *testing.T) {
		gw := &fakeGateway{name: "session-settled", token: "abc", verifyErr: NewInvalidPayment("", "failed", 0)}
		s := newSession(t, gw)
		_, err := s.Purchase(context.Background())
		require.NoError(t, err)
		_, err = s.Verify(context.Background(), Map{})
		require.True(t, IsInvalidPayment(err))

		gw.verifyErr = nil
		again, err := NewSession(gw, s.Invoice(), WithSessionLogger(zap.NewNop()))
		require.NoError(t, err)
		assert.Equal(t, VerificationFailed, again.State())
		_, err = again.Verify(context.Background(), Map{})
		assert.True(t, errors.Is(err, ErrPrecondition))
		assert.Equal(t, 1, gw.verifies)
	})

	t.Run("StaleSessionSeesOutcome", func(t *testing.T) {
		gw := &fakeGateway{name: "session-settled", token: "abc"}
		s := newSession(t, gw)
		_, err := s.Purchase(context.Background())
		require.NoError(t, err)

		other, err := NewSession(gw, s.Invoice(), WithSessionLogger(zap.NewNop()))
		require.NoError(t, err)
		_, err = s.Verify(context.Background(), Map{})
		require.NoError(t, err)

		_, err = other.Verify(context.Background(), Map{})
		assert.True(t, errors.Is(err, ErrPrecondition))
		assert.Equal(t, Verified, other.State())
		assert.Equal(t, 1, gw.verifies)
	})
}
