package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/eamirgh/go-multipay/internal/i18n"
	"github.com/eamirgh/go-multipay/internal/logger"
	"github.com/eamirgh/go-multipay/payment"
)

const VandarName = "vandar"

const (
	vandarStatusField = "payment_status"
	vandarStatusOK    = "OK"
	vandarTokenField  = "token"
)

type VandarConfig struct {
	// MerchantID is the api key Vandar issues for the gateway.
	MerchantID  string `env:"MERCHANT_ID"`
	CallbackURL string `env:"CALLBACK_URL"`
	PurchaseURL string `env:"PURCHASE_URL" envDefault:"https://ipg.vandar.io/api/v3/send"`
	PaymentURL  string `env:"PAYMENT_URL" envDefault:"https://ipg.vandar.io/v3/"`
	VerifyURL   string `env:"VERIFY_URL" envDefault:"https://ipg.vandar.io/api/v3/verify"`
	Lang        string `env:"LANG" envDefault:"fa"`
	// OnAmbiguousStatus applies when the callback has no payment_status.
	OnAmbiguousStatus payment.AmbiguousPolicy `env:"ON_AMBIGUOUS_STATUS" envDefault:"verify"`
}

func NewVandarConfig(merchantID, callbackURL string) *VandarConfig {
	return &VandarConfig{
		MerchantID:        merchantID,
		CallbackURL:       callbackURL,
		PurchaseURL:       "https://ipg.vandar.io/api/v3/send",
		PaymentURL:        "https://ipg.vandar.io/v3/",
		VerifyURL:         "https://ipg.vandar.io/api/v3/verify",
		Lang:              i18n.DefaultLang,
		OnAmbiguousStatus: payment.AmbiguousVerify,
	}
}

func (c *VandarConfig) Validate() error {
	if c.MerchantID == "" {
		return errors.New("vandar: merchant id is required")
	}
	for name, u := range map[string]string{
		"callback url": c.CallbackURL,
		"purchase url": c.PurchaseURL,
		"payment url":  c.PaymentURL,
		"verify url":   c.VerifyURL,
	} {
		if err := validURL(name, u); err != nil {
			return errors.Wrap(err, "vandar")
		}
	}
	if c.OnAmbiguousStatus != "" && !c.OnAmbiguousStatus.Valid() {
		return errors.Errorf("vandar: unknown ambiguous status policy %q", c.OnAmbiguousStatus)
	}
	return nil
}

// Gateway creates a Vandar gateway from the credentials in config.
func (c *VandarConfig) Gateway(opts ...Option) (*Vandar, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cfg := *c
	if cfg.Lang == "" {
		cfg.Lang = i18n.DefaultLang
	}
	if cfg.OnAmbiguousStatus == "" {
		cfg.OnAmbiguousStatus = payment.AmbiguousVerify
	}
	return &Vandar{cfg: cfg, options: newOptions(opts)}, nil
}

type Vandar struct {
	cfg VandarConfig
	options
}

func (v *Vandar) Name() string {
	return VandarName
}

func (v *Vandar) Driver(inv *payment.Invoice) payment.Driver {
	return &vandarDriver{Vandar: v, invoice: inv}
}

func (v *Vandar) CallbackKey(in payment.Inputs) (string, bool) {
	t, ok := in.Input(vandarTokenField)
	return t, ok && t != ""
}

func (v *Vandar) InvoiceKey(inv *payment.Invoice) string {
	return inv.TransactionID()
}

type vandarDriver struct {
	*Vandar
	invoice *payment.Invoice
}

type vandarPurchaseReq struct {
	APIKey          string `json:"api_key"`
	Amount          uint64 `json:"amount"`
	CallbackURL     string `json:"callback_url"`
	MobileNumber    string `json:"mobile_number,omitempty"`
	Description     string `json:"description,omitempty"`
	FactorNumber    string `json:"factorNumber"`
	ValidCardNumber string `json:"valid_card_number,omitempty"`
}

type vandarPurchaseRes struct {
	Status json.Number `json:"status"`
	Token  string      `json:"token"`
	Errors messages    `json:"errors"`
}

type vandarVerifyReq struct {
	APIKey string `json:"api_key"`
	Token  string `json:"token"`
}

type vandarVerifyRes struct {
	Status  json.Number     `json:"status"`
	TransID json.RawMessage `json:"transId"`
	Errors  messages        `json:"errors"`
}

func (d *vandarDriver) logFor(ctx context.Context, phase string) *zap.Logger {
	l := logger.FromCtx(ctx, d.log).With(
		zap.String("driver", VandarName),
		zap.String("phase", phase),
	)
	if d.invoice != nil {
		l = l.With(zap.Stringer("invoice_id", d.invoice.ID()))
	}
	return l
}

func (d *vandarDriver) Purchase(ctx context.Context) (string, error) {
	if d.invoice == nil {
		return "", errors.Wrap(payment.ErrPrecondition, "vandar: purchase without invoice")
	}
	log := d.logFor(ctx, "purchase")

	// Vandar takes rials.
	amount, err := d.invoice.AmountIn(payment.Rial)
	if err != nil {
		return "", errors.Wrap(err, "vandar: convert amount")
	}
	req := vandarPurchaseReq{
		APIKey:          d.cfg.MerchantID,
		Amount:          amount,
		CallbackURL:     d.cfg.CallbackURL,
		MobileNumber:    d.invoice.DetailString("mobile"),
		Description:     d.invoice.DetailString("description"),
		FactorNumber:    d.invoice.ID().String(),
		ValidCardNumber: d.invoice.DetailString("validCardNumber"),
	}

	log.Info("sending purchase request", zap.Uint64("amount", amount))
	code, body, err := d.postJSON(ctx, d.cfg.PurchaseURL, req)
	if err != nil {
		log.Error("purchase request failed", zap.Error(err))
		return "", payment.NewPurchaseFailed("", i18n.T(d.cfg.Lang, i18n.TransportFailed), err)
	}

	var res vandarPurchaseRes
	if err := json.Unmarshal(body, &res); err != nil {
		log.Error("undecodable purchase response",
			zap.Int("http_status", code),
			zap.ByteString("response", body),
			zap.Error(err),
		)
		return "", payment.NewPurchaseFailed("", i18n.T(d.cfg.Lang, i18n.PurchaseFailed),
			errors.Wrapf(err, "vandar: decode purchase response (http %d)", code))
	}
	if res.Status.String() != "1" {
		log.Warn("purchase rejected",
			zap.Int("http_status", code),
			zap.String("status", res.Status.String()),
			zap.Strings("errors", res.Errors),
		)
		return "", payment.NewPurchaseFailed(res.Errors.String(), i18n.T(d.cfg.Lang, i18n.PurchaseFailed), nil)
	}
	if res.Token == "" {
		log.Warn("purchase accepted without token", zap.ByteString("response", body))
		return "", payment.NewPurchaseFailed("", i18n.T(d.cfg.Lang, i18n.PurchaseFailed), nil)
	}
	if err := d.invoice.SetTransactionID(res.Token); err != nil {
		return "", err
	}

	log.Info("purchase accepted", zap.String("transaction_id", res.Token))
	return res.Token, nil
}

func (d *vandarDriver) Pay() (*payment.RedirectionForm, error) {
	if d.invoice == nil || !d.invoice.HasTransactionID() {
		return nil, errors.Wrap(payment.ErrMissingTransactionID, "vandar: pay")
	}
	return payment.NewRedirectionForm(d.cfg.PaymentURL+d.invoice.TransactionID(), http.MethodGet, nil)
}

func (d *vandarDriver) Verify(ctx context.Context, in payment.Inputs) (*payment.Receipt, error) {
	log := d.logFor(ctx, "verify")

	switch payment.ReadStatus(in, vandarStatusField, vandarStatusOK) {
	case payment.StatusFailed:
		log.Info("payer returned with failed status")
		return nil, payment.NewInvalidPayment("", i18n.T(d.cfg.Lang, i18n.PaymentFailed), 0)
	case payment.StatusUnknown:
		if d.cfg.OnAmbiguousStatus == payment.AmbiguousReject {
			log.Warn("callback has no payment status, rejecting")
			return nil, payment.NewInvalidPayment("", i18n.T(d.cfg.Lang, i18n.PaymentFailed), 0)
		}
		log.Warn("callback has no payment status, asking provider")
	}

	token, err := payment.ResolveTransactionID(d.invoice, in, vandarTokenField)
	if err != nil {
		return nil, errors.Wrap(err, "vandar: verify")
	}
	log = log.With(zap.String("transaction_id", token))

	code, body, err := d.postJSON(ctx, d.cfg.VerifyURL, vandarVerifyReq{
		APIKey: d.cfg.MerchantID,
		Token:  token,
	})
	if err != nil {
		log.Error("verify request failed", zap.Error(err))
		return nil, errors.Wrap(err, "vandar: verify")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		log.Warn("empty verify response", zap.Int("http_status", code))
		return nil, payment.NewInvalidPayment("", i18n.T(d.cfg.Lang, i18n.UnknownError), 0)
	}

	var res vandarVerifyRes
	if err := json.Unmarshal(body, &res); err != nil {
		log.Error("undecodable verify response", zap.ByteString("response", body), zap.Error(err))
		return nil, errors.Wrapf(err, "vandar: decode verify response (http %d)", code)
	}
	fields, err := decodeFields(body)
	if err != nil {
		return nil, errors.Wrap(err, "vandar: decode verify fields")
	}

	if res.Status.String() != "1" {
		status, _ := res.Status.Int64()
		log.Warn("payment not verified",
			zap.Int("http_status", code),
			zap.String("status", res.Status.String()),
			zap.Strings("errors", res.Errors),
		)
		return nil, payment.NewInvalidPayment(res.Errors.String(), i18n.T(d.cfg.Lang, i18n.UnknownError), int(status))
	}
	ref := scalarString(res.TransID)
	if ref == "" {
		log.Warn("verified without transId", zap.ByteString("response", body))
		return nil, payment.NewInvalidPayment("", i18n.T(d.cfg.Lang, i18n.UnknownError), 1)
	}

	log.Info("payment verified", zap.String("reference_id", ref))
	return payment.NewReceipt(VandarName, ref, fields), nil
}
