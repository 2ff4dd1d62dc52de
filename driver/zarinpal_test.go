package driver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eamirgh/go-multipay/payment"
)

type zarinpalStub struct {
	*httptest.Server
	calls       atomic.Int32
	lastBody    map[string]any
	purchaseRes string
	verifyRes   string
	status      int
}

func newZarinpalStub(t *testing.T) *zarinpalStub {
	t.Helper()
	s := &zarinpalStub{status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/request.json", func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		s.lastBody = decodeBody(t, r.Body)
		w.WriteHeader(s.status)
		_, _ = io.WriteString(w, s.purchaseRes)
	})
	mux.HandleFunc("/verify.json", func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		s.lastBody = decodeBody(t, r.Body)
		w.WriteHeader(s.status)
		_, _ = io.WriteString(w, s.verifyRes)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func newTestZarinpal(t *testing.T, stub *zarinpalStub, mode string) *Zarinpal {
	t.Helper()
	cfg := NewZarinpalConfig(mode, "merchant-1", "https://shop.example/callback", "shop order")
	cfg.Endpoints = map[string]string{
		"apiPurchaseUrl":     stub.URL + "/request.json",
		"apiVerificationUrl": stub.URL + "/verify.json",
	}
	gw, err := cfg.Gateway(WithHTTPClient(stub.Client()), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	return gw
}

func TestZarinpalConfig_Gateway(t *testing.T) {
	_, err := NewZarinpalConfig("live", "m", "https://shop.example/cb", "").Gateway()
	assert.EqualError(t, err, "invalid mode for Zarinpal driver")

	_, err = NewZarinpalConfig(ZARINPAL_NORMAL, "", "https://shop.example/cb", "").Gateway()
	assert.Error(t, err)

	cfg := NewZarinpalConfig(ZARINPAL_NORMAL, "m", "https://shop.example/cb", "")
	cfg.Endpoints = map[string]string{"apiRefundUrl": "https://x.example"}
	_, err = cfg.Gateway()
	assert.Error(t, err)

	gw, err := NewZarinpalConfig(ZARINPAL_SANDBOX, "m", "https://shop.example/cb", "").Gateway()
	require.NoError(t, err)
	assert.Equal(t, sandboxAPI["apiPaymentUrl"], gw.endpoints["apiPaymentUrl"])
}

func TestZarinpal_Normal(t *testing.T) {
	t.Run("PurchasePayVerify", func(t *testing.T) {
		stub := newZarinpalStub(t)
		stub.purchaseRes = `{"data":{"code":100,"message":"Success","authority":"A0000001","fee_type":"Merchant","fee":100},"errors":[]}`
		stub.verifyRes = `{"data":{"code":100,"message":"Verified","card_hash":"1EBE3EBEBE","card_pan":"502229******5995","ref_id":201,"fee_type":"Merchant","fee":0},"errors":[]}`
		inv := newTestInvoice(t, payment.WithDetail("mobile", "09120000000"))
		d := newTestZarinpal(t, stub, ZARINPAL_NORMAL).Driver(inv)

		tid, err := d.Purchase(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "A0000001", tid)
		assert.Equal(t, json.Number("1000000"), stub.lastBody["amount"])
		assert.Equal(t, "merchant-1", stub.lastBody["merchant_id"])
		assert.Equal(t, "shop order", stub.lastBody["description"])

		form, err := d.Pay()
		require.NoError(t, err)
		assert.Equal(t, "https://www.zarinpal.com/pg/StartPay/A0000001", form.URL)

		r, err := d.Verify(context.Background(), payment.Map{"Status": "OK", "Authority": "A0000001"})
		require.NoError(t, err)
		assert.Equal(t, "A0000001", stub.lastBody["authority"])
		assert.Equal(t, ZarinpalName, r.Provider())
		assert.Equal(t, "201", r.ReferenceID())
		assert.Equal(t, "502229******5995", r.DetailString("card_pan"))
		assert.Equal(t, "Verified", r.DetailString("message"))
		assert.Equal(t, int32(2), stub.calls.Load())
	})

	t.Run("PurchaseRejected", func(t *testing.T) {
		stub := newZarinpalStub(t)
		stub.status = http.StatusBadRequest
		stub.purchaseRes = `{"data":[],"errors":{"code":-9,"message":"The input params invalid, validation error.","validations":[]}}`

		_, err := newTestZarinpal(t, stub, ZARINPAL_NORMAL).Driver(newTestInvoice(t)).Purchase(context.Background())
		assert.True(t, payment.IsPurchaseFailed(err))
		assert.Equal(t, "خطای اعتبار سنجی", err.Error())
	})

	t.Run("VerifyRejectedUnknownCode", func(t *testing.T) {
		stub := newZarinpalStub(t)
		stub.verifyRes = `{"data":[],"errors":{"code":-99,"message":"something new"}}`
		inv := newTestInvoice(t)
		require.NoError(t, inv.SetTransactionID("A1"))

		_, err := newTestZarinpal(t, stub, ZARINPAL_NORMAL).Driver(inv).Verify(context.Background(), payment.Map{"Status": "OK"})
		assert.True(t, payment.IsInvalidPayment(err))
		assert.Equal(t, "something new", err.Error())
	})

	t.Run("NOKSkipsNetwork", func(t *testing.T) {
		stub := newZarinpalStub(t)
		inv := newTestInvoice(t)
		require.NoError(t, inv.SetTransactionID("A1"))

		_, err := newTestZarinpal(t, stub, ZARINPAL_NORMAL).Driver(inv).Verify(context.Background(), payment.Map{"Status": "NOK"})
		assert.True(t, payment.IsInvalidPayment(err))
		assert.Zero(t, stub.calls.Load())
	})

	t.Run("AlreadyVerified", func(t *testing.T) {
		stub := newZarinpalStub(t)
		stub.verifyRes = `{"data":{"code":101,"ref_id":"201"},"errors":[]}`
		inv := newTestInvoice(t)
		require.NoError(t, inv.SetTransactionID("A1"))

		r, err := newTestZarinpal(t, stub, ZARINPAL_NORMAL).Driver(inv).Verify(context.Background(), payment.Map{"Status": "OK"})
		require.NoError(t, err)
		assert.Equal(t, "201", r.ReferenceID())
		assert.Equal(t, "عمليات پرداخت موفق بوده و قبلا عملیات وریفای تراكنش انجام شده است", r.DetailString("message"))
	})
}

func TestZarinpal_Sandbox(t *testing.T) {
	stub := newZarinpalStub(t)
	stub.purchaseRes = `{"Status":100,"Authority":"S0001"}`
	stub.verifyRes = `{"Status":100,"RefID":12345}`
	inv := newTestInvoice(t)
	d := newTestZarinpal(t, stub, ZARINPAL_SANDBOX).Driver(inv)

	tid, err := d.Purchase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "S0001", tid)
	assert.Equal(t, "merchant-1", stub.lastBody["MerchantID"])

	form, err := d.Pay()
	require.NoError(t, err)
	assert.Equal(t, "https://sandbox.zarinpal.com/pg/StartPay/S0001", form.URL)

	r, err := d.Verify(context.Background(), payment.Map{"Status": "OK", "Authority": "S0001"})
	require.NoError(t, err)
	assert.Equal(t, "12345", r.ReferenceID())

	t.Run("Rejected", func(t *testing.T) {
		stub.purchaseRes = `{"Status":-11,"Authority":""}`
		_, err := newTestZarinpal(t, stub, ZARINPAL_SANDBOX).Driver(newTestInvoice(t)).Purchase(context.Background())
		assert.Equal(t, "مرچنت کد فعال نیست لطفا با تیم پشتیبانی ما تماس بگیرید", err.Error())
	})
}
