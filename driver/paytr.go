package driver

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/eamirgh/go-multipay/internal/i18n"
	"github.com/eamirgh/go-multipay/internal/logger"
	"github.com/eamirgh/go-multipay/payment"
)

const PaytrName = "paytr"

const (
	paytrStatusField = "status"
	paytrStatusOK    = "success"
	paytrOrderField  = "merchant_oid"
)

// Fields PayTR posts to the callback url.
var paytrCallbackFields = []string{
	"merchant_oid", "status", "total_amount", "hash", "failed_reason_code",
	"failed_reason_msg", "test_mode", "payment_type", "currency", "payment_amount",
}

// Details every PayTR purchase needs. The rest have defaults.
var paytrRequired = []string{"user_ip", "email", "user_basket", "user_name", "user_address", "user_phone"}

var paytrDefaults = map[string]string{
	"currency":        "TL",
	"no_installment":  "0",
	"max_installment": "0",
	"lang":            "tr",
}

type PaytrConfig struct {
	IsTest       bool   `env:"TEST_MODE"`
	MerchantID   string `env:"MERCHANT_ID"`
	MerchantSalt string `env:"MERCHANT_SALT"`
	MerchantKey  string `env:"MERCHANT_KEY"`
	CallbackURL  string `env:"CALLBACK_URL"`
	TokenURL     string `env:"TOKEN_URL" envDefault:"https://www.paytr.com/odeme/api/get-token"`
	PaymentURL   string `env:"PAYMENT_URL" envDefault:"https://www.paytr.com/odeme/guvenli/"`
	Lang         string `env:"LANG" envDefault:"fa"`
}

func NewPaytrConfig(isTest bool, callbackURL, merchantID, merchantSalt, merchantKey string) *PaytrConfig {
	return &PaytrConfig{
		IsTest:       isTest,
		MerchantID:   merchantID,
		MerchantSalt: merchantSalt,
		MerchantKey:  merchantKey,
		CallbackURL:  callbackURL,
		TokenURL:     "https://www.paytr.com/odeme/api/get-token",
		PaymentURL:   "https://www.paytr.com/odeme/guvenli/",
		Lang:         i18n.DefaultLang,
	}
}

func (c *PaytrConfig) Validate() error {
	if c.MerchantID == "" || c.MerchantSalt == "" || c.MerchantKey == "" {
		return errors.New("paytr: merchant id, salt and key are required")
	}
	for name, u := range map[string]string{
		"callback url": c.CallbackURL,
		"token url":    c.TokenURL,
		"payment url":  c.PaymentURL,
	} {
		if err := validURL(name, u); err != nil {
			return errors.Wrap(err, "paytr")
		}
	}
	return nil
}

// Prepare validates the config and builds the gateway.
func (c *PaytrConfig) Prepare(opts ...Option) (*Paytr, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cfg := *c
	if cfg.Lang == "" {
		cfg.Lang = i18n.DefaultLang
	}
	return &Paytr{cfg: &cfg, options: newOptions(opts)}, nil
}

// Paytr amounts are sent as is: the invoice amount must already be in kuruş.
type Paytr struct {
	cfg *PaytrConfig
	options
}

func (p *Paytr) Name() string {
	return PaytrName
}

func (p *Paytr) Driver(inv *payment.Invoice) payment.Driver {
	return &paytrDriver{Paytr: p, invoice: inv}
}

func (p *Paytr) CallbackKey(in payment.Inputs) (string, bool) {
	oid, ok := in.Input(paytrOrderField)
	return oid, ok && oid != ""
}

func (p *Paytr) InvoiceKey(inv *payment.Invoice) string {
	return merchantOID(inv)
}

// merchantOID is the invoice's merchant_oid detail, or its id without dashes
// since PayTR only accepts alphanumerics.
func merchantOID(inv *payment.Invoice) string {
	if oid := inv.DetailString(paytrOrderField); oid != "" {
		return oid
	}
	return strings.ReplaceAll(inv.ID().String(), "-", "")
}

func (p *Paytr) sign(parts ...string) (string, error) {
	hash := hmac.New(sha256.New, []byte(p.cfg.MerchantKey))
	if _, err := hash.Write([]byte(strings.Join(parts, ""))); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(hash.Sum(nil)), nil
}

type paytrDriver struct {
	*Paytr
	invoice *payment.Invoice
}

type iframeTokenRes struct {
	Status string `json:"status"`
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

func (d *paytrDriver) logFor(ctx context.Context, phase string) *zap.Logger {
	l := logger.FromCtx(ctx, d.log).With(
		zap.String("driver", PaytrName),
		zap.String("phase", phase),
	)
	if d.invoice != nil {
		l = l.With(zap.Stringer("invoice_id", d.invoice.ID()))
	}
	return l
}

func (d *paytrDriver) field(name string) string {
	if v := d.invoice.DetailString(name); v != "" {
		return v
	}
	return paytrDefaults[name]
}

func (d *paytrDriver) Purchase(ctx context.Context) (string, error) {
	if d.invoice == nil {
		return "", errors.Wrap(payment.ErrPrecondition, "paytr: purchase without invoice")
	}
	for _, k := range paytrRequired {
		if !d.invoice.Has(k) {
			return "", errors.Wrapf(payment.ErrPrecondition, "paytr: missing invoice detail %q", k)
		}
	}
	log := d.logFor(ctx, "purchase")

	oid := merchantOID(d.invoice)
	amount := fmt.Sprint(d.invoice.Amount())
	testMode := "0"
	if d.cfg.IsTest {
		testMode = "1"
	}
	token, err := d.sign(d.cfg.MerchantID, d.field("user_ip"), oid, d.field("email"), amount,
		d.field("user_basket"), d.field("no_installment"), d.field("max_installment"),
		d.field("currency"), testMode, d.cfg.MerchantSalt)
	if err != nil {
		return "", errors.Wrap(err, "paytr: sign purchase")
	}

	payload := &bytes.Buffer{}
	writer := multipart.NewWriter(payload)
	fields := map[string]string{
		"merchant_id":       d.cfg.MerchantID,
		"merchant_oid":      oid,
		"payment_amount":    amount,
		"timeout_limit":     "30",
		"merchant_ok_url":   d.cfg.CallbackURL + "?status=success",
		"merchant_fail_url": d.cfg.CallbackURL + "?status=fail",
		"debug_on":          testMode,
		"test_mode":         testMode,
		"paytr_token":       token,
	}
	for k := range paytrDefaults {
		fields[k] = d.field(k)
	}
	for _, k := range paytrRequired {
		fields[k] = d.field(k)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return "", errors.Wrap(err, "paytr: write form")
		}
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, "paytr: close form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.TokenURL, payload)
	if err != nil {
		return "", errors.Wrap(err, "paytr: build request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	log.Info("requesting iframe token", zap.String("merchant_oid", oid))
	code, body, err := d.do(req)
	if err != nil {
		log.Error("token request failed", zap.Error(err))
		return "", payment.NewPurchaseFailed("", i18n.T(d.cfg.Lang, i18n.TransportFailed), err)
	}
	var res iframeTokenRes
	if err := json.Unmarshal(body, &res); err != nil {
		return "", payment.NewPurchaseFailed("", i18n.T(d.cfg.Lang, i18n.PurchaseFailed),
			errors.Wrapf(err, "paytr: decode token response (http %d)", code))
	}
	if res.Status != "success" || res.Token == "" {
		log.Warn("token request rejected", zap.Int("http_status", code), zap.String("reason", res.Reason))
		return "", payment.NewPurchaseFailed(res.Reason, i18n.T(d.cfg.Lang, i18n.PurchaseFailed), nil)
	}
	if err := d.invoice.SetTransactionID(res.Token); err != nil {
		return "", err
	}
	return res.Token, nil
}

func (d *paytrDriver) Pay() (*payment.RedirectionForm, error) {
	if d.invoice == nil || !d.invoice.HasTransactionID() {
		return nil, errors.Wrap(payment.ErrMissingTransactionID, "paytr: pay")
	}
	return payment.NewRedirectionForm(d.cfg.PaymentURL+d.invoice.TransactionID(), http.MethodGet, nil)
}

// Verify checks the signed callback. PayTR has no verification endpoint, so
// no request is made.
func (d *paytrDriver) Verify(ctx context.Context, in payment.Inputs) (*payment.Receipt, error) {
	log := d.logFor(ctx, "verify")
	if in == nil {
		in = payment.NoInputs
	}
	get := func(name string) string {
		v, _ := in.Input(name)
		return v
	}

	oid := get(paytrOrderField)
	if oid == "" {
		return nil, errors.Wrap(payment.ErrMissingTransactionID, "paytr: callback has no merchant_oid")
	}
	if d.invoice != nil && merchantOID(d.invoice) != oid {
		log.Warn("callback for another order", zap.String("merchant_oid", oid))
		return nil, payment.NewInvalidPayment("", i18n.T(d.cfg.Lang, i18n.UnknownError), 0)
	}

	expected, err := d.sign(oid, d.cfg.MerchantSalt, get("status"), get("total_amount"))
	if err != nil {
		return nil, errors.Wrap(err, "paytr: sign callback")
	}
	if !hmac.Equal([]byte(expected), []byte(get("hash"))) {
		log.Warn("callback hash mismatch", zap.String("merchant_oid", oid))
		return nil, payment.NewInvalidPayment("", i18n.T(d.cfg.Lang, i18n.HashMismatch), 0)
	}

	switch payment.ReadStatus(in, paytrStatusField, paytrStatusOK) {
	case payment.StatusOK:
	case payment.StatusFailed:
		log.Info("payment failed", zap.String("reason", get("failed_reason_msg")))
		return nil, payment.NewInvalidPayment(get("failed_reason_msg"), i18n.T(d.cfg.Lang, i18n.PaymentFailed), 0)
	default:
		// signed but without status; there is nobody else to ask.
		log.Warn("signed callback has no status")
		return nil, payment.NewInvalidPayment("", i18n.T(d.cfg.Lang, i18n.PaymentFailed), 0)
	}

	details := make(map[string]any, len(paytrCallbackFields)+1)
	for _, k := range paytrCallbackFields {
		if v, ok := in.Input(k); ok {
			details[k] = v
		}
	}
	details["message"] = i18n.T(d.cfg.Lang, i18n.PaymentSuccess)
	log.Info("payment verified", zap.String("merchant_oid", oid))
	return payment.NewReceipt(PaytrName, oid, details), nil
}
