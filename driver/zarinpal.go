package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/eamirgh/go-multipay/internal/i18n"
	"github.com/eamirgh/go-multipay/internal/logger"
	"github.com/eamirgh/go-multipay/payment"
)

const ZarinpalName = "zarinpal"

const ZARINPAL_SANDBOX = "sandbox"
const ZARINPAL_NORMAL = "normal"

const (
	zarinpalStatusField    = "Status"
	zarinpalStatusOK       = "OK"
	zarinpalAuthorityField = "Authority"
	zarinpalCodeSuccess    = 100
	zarinpalCodeVerified   = 101
)

var normalAPI = map[string]string{
	"apiPurchaseUrl":     "https://api.zarinpal.com/pg/v4/payment/request.json",
	"apiPaymentUrl":      "https://www.zarinpal.com/pg/StartPay/",
	"apiVerificationUrl": "https://api.zarinpal.com/pg/v4/payment/verify.json",
}
var sandboxAPI = map[string]string{
	"apiPurchaseUrl":     "https://sandbox.zarinpal.com/pg/rest/WebGate/PaymentRequest.json",
	"apiPaymentUrl":      "https://sandbox.zarinpal.com/pg/StartPay/",
	"apiVerificationUrl": "https://sandbox.zarinpal.com/pg/rest/WebGate/PaymentVerification.json",
}

type ZarinpalConfig struct {
	Mode        string `env:"MODE" envDefault:"normal"`
	MerchantID  string `env:"MERCHANT_ID"`
	Callback    string `env:"CALLBACK_URL"`
	Description string `env:"DESCRIPTION"`
	Lang        string `env:"LANG" envDefault:"fa"`
	// Endpoints overrides the mode's endpoints, keyed like normalAPI.
	Endpoints         map[string]string
	OnAmbiguousStatus payment.AmbiguousPolicy `env:"ON_AMBIGUOUS_STATUS" envDefault:"verify"`
}

func NewZarinpalConfig(mode, merchantID, callback, description string) *ZarinpalConfig {
	return &ZarinpalConfig{
		Mode:              mode,
		MerchantID:        merchantID,
		Callback:          callback,
		Description:       description,
		Lang:              i18n.DefaultLang,
		OnAmbiguousStatus: payment.AmbiguousVerify,
	}
}

func (z *ZarinpalConfig) Validate() error {
	if z.Mode != ZARINPAL_NORMAL && z.Mode != ZARINPAL_SANDBOX {
		return errors.New("invalid mode for Zarinpal driver")
	}
	if z.MerchantID == "" {
		return errors.New("zarinpal: merchant id is required")
	}
	if err := validURL("callback url", z.Callback); err != nil {
		return errors.Wrap(err, "zarinpal")
	}
	for k, u := range z.Endpoints {
		if _, ok := normalAPI[k]; !ok {
			return errors.Errorf("zarinpal: unknown endpoint %q", k)
		}
		if err := validURL(k, u); err != nil {
			return errors.Wrap(err, "zarinpal")
		}
	}
	if z.OnAmbiguousStatus != "" && !z.OnAmbiguousStatus.Valid() {
		return errors.Errorf("zarinpal: unknown ambiguous status policy %q", z.OnAmbiguousStatus)
	}
	return nil
}

// Gateway creates new Zarinpal gateway from the credentials in config
func (z *ZarinpalConfig) Gateway(opts ...Option) (*Zarinpal, error) {
	if err := z.Validate(); err != nil {
		return nil, err
	}
	endpoints := make(map[string]string, len(normalAPI))
	base := normalAPI
	if z.Mode == ZARINPAL_SANDBOX {
		base = sandboxAPI
	}
	for k, v := range base {
		endpoints[k] = v
	}
	for k, v := range z.Endpoints {
		endpoints[k] = v
	}
	cfg := *z
	if cfg.Lang == "" {
		cfg.Lang = i18n.DefaultLang
	}
	if cfg.OnAmbiguousStatus == "" {
		cfg.OnAmbiguousStatus = payment.AmbiguousVerify
	}
	return &Zarinpal{
		cfg:       &cfg,
		endpoints: endpoints,
		options:   newOptions(opts),
	}, nil
}

type Zarinpal struct {
	cfg       *ZarinpalConfig
	endpoints map[string]string
	options
}

func (z *Zarinpal) Name() string {
	return ZarinpalName
}

func (z *Zarinpal) Driver(inv *payment.Invoice) payment.Driver {
	return &zarinpalDriver{Zarinpal: z, invoice: inv}
}

func (z *Zarinpal) CallbackKey(in payment.Inputs) (string, bool) {
	a, ok := in.Input(zarinpalAuthorityField)
	return a, ok && a != ""
}

func (z *Zarinpal) InvoiceKey(inv *payment.Invoice) string {
	return inv.TransactionID()
}

// message localizes a zarinpal status code.
func (z *Zarinpal) message(code int) string {
	return z.describe(code, "")
}

// describe prefers the localized text for code, then the provider's own
// message, then the generic unknown error.
func (z *Zarinpal) describe(code int, provided string) string {
	id := fmt.Sprintf("zarinpalCode%d", code)
	if code < 0 {
		id = fmt.Sprintf("zarinpalCodeMinus%d", -code)
	}
	if i18n.Has(id) {
		return i18n.T(z.cfg.Lang, id)
	}
	if provided != "" {
		return provided
	}
	return i18n.T(z.cfg.Lang, "zarinpalUnknown")
}

type zarinpalDriver struct {
	*Zarinpal
	invoice *payment.Invoice
}

type purchaseReq struct {
	MerchantID  string         `json:"merchant_id"`
	Amount      uint64         `json:"amount"`
	CallbackURL string         `json:"callback_url"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// v4 responses send data and errors as either an object or an empty array.
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type purchaseData struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Authority string `json:"authority"`
}

type zarinpalError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type sandboxPurchaseReq struct {
	MerchantID  string
	Amount      uint64
	CallbackURL string
	Description string
}

type sandboxPurchaseRes struct {
	Status    int
	Authority string
}

func decodeObject(raw json.RawMessage, v any) (bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (d *zarinpalDriver) logFor(ctx context.Context, phase string) *zap.Logger {
	l := logger.FromCtx(ctx, d.log).With(
		zap.String("driver", ZarinpalName),
		zap.String("mode", d.cfg.Mode),
		zap.String("phase", phase),
	)
	if d.invoice != nil {
		l = l.With(zap.Stringer("invoice_id", d.invoice.ID()))
	}
	return l
}

func (d *zarinpalDriver) description() string {
	if s := d.invoice.DetailString("description"); s != "" {
		return s
	}
	return d.cfg.Description
}

func (d *zarinpalDriver) Purchase(ctx context.Context) (string, error) {
	if d.invoice == nil {
		return "", errors.Wrap(payment.ErrPrecondition, "zarinpal: purchase without invoice")
	}
	log := d.logFor(ctx, "purchase")
	amount, err := d.invoice.AmountIn(payment.Rial)
	if err != nil {
		return "", errors.Wrap(err, "zarinpal: convert amount")
	}

	var payload any
	if d.cfg.Mode == ZARINPAL_SANDBOX {
		payload = &sandboxPurchaseReq{
			MerchantID:  d.cfg.MerchantID,
			Amount:      amount,
			CallbackURL: d.cfg.Callback,
			Description: d.description(),
		}
	} else {
		meta := map[string]any{"order_id": d.invoice.ID().String()}
		for _, k := range []string{"mobile", "email"} {
			if v := d.invoice.DetailString(k); v != "" {
				meta[k] = v
			}
		}
		payload = &purchaseReq{
			MerchantID:  d.cfg.MerchantID,
			Amount:      amount,
			CallbackURL: d.cfg.Callback,
			Description: d.description(),
			Metadata:    meta,
		}
	}

	code, b, err := d.postJSON(ctx, d.endpoints["apiPurchaseUrl"], payload)
	if err != nil {
		log.Error("purchase request failed", zap.Error(err))
		return "", payment.NewPurchaseFailed("", i18n.T(d.cfg.Lang, i18n.TransportFailed), err)
	}

	var authority string
	if d.cfg.Mode == ZARINPAL_SANDBOX {
		var res sandboxPurchaseRes
		if err := json.Unmarshal(b, &res); err != nil {
			return "", payment.NewPurchaseFailed("", i18n.T(d.cfg.Lang, i18n.PurchaseFailed),
				errors.Wrapf(err, "zarinpal: decode purchase response (http %d)", code))
		}
		if res.Status != zarinpalCodeSuccess {
			log.Warn("purchase rejected", zap.Int("status", res.Status))
			return "", payment.NewPurchaseFailed(d.message(res.Status), i18n.T(d.cfg.Lang, i18n.PurchaseFailed), nil)
		}
		authority = res.Authority
	} else {
		var res envelope
		if err := json.Unmarshal(b, &res); err != nil {
			return "", payment.NewPurchaseFailed("", i18n.T(d.cfg.Lang, i18n.PurchaseFailed),
				errors.Wrapf(err, "zarinpal: decode purchase response (http %d)", code))
		}
		var data purchaseData
		var zerr zarinpalError
		if _, err := decodeObject(res.Data, &data); err != nil {
			return "", payment.NewPurchaseFailed("", i18n.T(d.cfg.Lang, i18n.PurchaseFailed), errors.Wrap(err, "zarinpal: decode data"))
		}
		if ok, _ := decodeObject(res.Errors, &zerr); ok && zerr.Code != 0 {
			log.Warn("purchase rejected", zap.Int("code", zerr.Code), zap.String("message", zerr.Message))
			return "", payment.NewPurchaseFailed(d.describe(zerr.Code, zerr.Message), "", nil)
		}
		if data.Code != zarinpalCodeSuccess {
			log.Warn("purchase rejected", zap.Int("code", data.Code), zap.Int("http_status", code))
			return "", payment.NewPurchaseFailed("", d.message(data.Code), nil)
		}
		authority = data.Authority
	}
	if authority == "" {
		return "", payment.NewPurchaseFailed("", i18n.T(d.cfg.Lang, i18n.PurchaseFailed), nil)
	}
	if err := d.invoice.SetTransactionID(authority); err != nil {
		return "", err
	}
	log.Info("purchase accepted", zap.String("transaction_id", authority))
	return authority, nil
}

func (d *zarinpalDriver) Pay() (*payment.RedirectionForm, error) {
	if d.invoice == nil || !d.invoice.HasTransactionID() {
		return nil, errors.Wrap(payment.ErrMissingTransactionID, "zarinpal: pay")
	}
	return payment.NewRedirectionForm(d.endpoints["apiPaymentUrl"]+d.invoice.TransactionID(), http.MethodGet, nil)
}

type verifyReq struct {
	MerchantID string `json:"merchant_id"`
	Authority  string `json:"authority"`
	Amount     uint64 `json:"amount"`
}

type sandboxPaymentVerificationReq struct {
	MerchantID string
	Authority  string
	Amount     uint64
}

type sandboxPaymentVerificationRes struct {
	Status int
	RefID  json.RawMessage
}

type verifyData struct {
	Code  int             `json:"code"`
	RefID json.RawMessage `json:"ref_id"`
}

func (d *zarinpalDriver) Verify(ctx context.Context, in payment.Inputs) (*payment.Receipt, error) {
	if d.invoice == nil {
		return nil, errors.Wrap(payment.ErrPrecondition, "zarinpal: verify without invoice")
	}
	log := d.logFor(ctx, "verify")

	switch payment.ReadStatus(in, zarinpalStatusField, zarinpalStatusOK) {
	case payment.StatusFailed:
		log.Info("payer returned with failed status")
		return nil, payment.NewInvalidPayment("", i18n.T(d.cfg.Lang, i18n.PaymentFailed), 0)
	case payment.StatusUnknown:
		if d.cfg.OnAmbiguousStatus == payment.AmbiguousReject {
			log.Warn("callback has no status, rejecting")
			return nil, payment.NewInvalidPayment("", i18n.T(d.cfg.Lang, i18n.PaymentFailed), 0)
		}
		log.Warn("callback has no status, asking provider")
	}

	authority, err := payment.ResolveTransactionID(d.invoice, in, zarinpalAuthorityField)
	if err != nil {
		return nil, errors.Wrap(err, "zarinpal: verify")
	}
	amount, err := d.invoice.AmountIn(payment.Rial)
	if err != nil {
		return nil, errors.Wrap(err, "zarinpal: convert amount")
	}

	var payload any = &verifyReq{MerchantID: d.cfg.MerchantID, Authority: authority, Amount: amount}
	if d.cfg.Mode == ZARINPAL_SANDBOX {
		payload = &sandboxPaymentVerificationReq{MerchantID: d.cfg.MerchantID, Authority: authority, Amount: amount}
	}
	code, b, err := d.postJSON(ctx, d.endpoints["apiVerificationUrl"], payload)
	if err != nil {
		log.Error("verify request failed", zap.Error(err))
		return nil, errors.Wrap(err, "zarinpal: verify")
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, payment.NewInvalidPayment("", d.message(0), 0)
	}

	var status int
	var ref string
	details := map[string]any{}
	if d.cfg.Mode == ZARINPAL_SANDBOX {
		var res sandboxPaymentVerificationRes
		if err := json.Unmarshal(b, &res); err != nil {
			return nil, errors.Wrapf(err, "zarinpal: decode verify response (http %d): %s", code, b)
		}
		status, ref = res.Status, scalarString(res.RefID)
		if fields, err := decodeFields(b); err == nil {
			details = fields
		}
	} else {
		var res envelope
		if err := json.Unmarshal(b, &res); err != nil {
			return nil, errors.Wrapf(err, "zarinpal: decode verify response (http %d): %s", code, b)
		}
		var data verifyData
		if _, err := decodeObject(res.Data, &data); err != nil {
			return nil, errors.Wrap(err, "zarinpal: decode verify data")
		}
		var zerr zarinpalError
		if ok, _ := decodeObject(res.Errors, &zerr); ok && zerr.Code != 0 {
			log.Warn("payment not verified", zap.Int("code", zerr.Code), zap.String("message", zerr.Message))
			return nil, payment.NewInvalidPayment(d.describe(zerr.Code, zerr.Message), "", zerr.Code)
		}
		status, ref = data.Code, scalarString(data.RefID)
		if fields, err := decodeFields(bytes.TrimSpace(res.Data)); err == nil {
			details = fields
		}
	}

	if status != zarinpalCodeSuccess && status != zarinpalCodeVerified {
		log.Warn("payment not verified", zap.Int("code", status))
		return nil, payment.NewInvalidPayment("", d.message(status), status)
	}
	if ref == "" {
		return nil, payment.NewInvalidPayment("", d.message(0), status)
	}
	if _, ok := details["message"]; !ok {
		details["message"] = d.message(status)
	}
	log.Info("payment verified", zap.String("reference_id", ref), zap.Int("code", status))
	return payment.NewReceipt(ZarinpalName, ref, details), nil
}
