package main

import (
	"encoding/json"
	"net/http"
	"time"

	cache "github.com/Code-Hex/go-generics-cache"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	multipay "github.com/eamirgh/go-multipay"
	"github.com/eamirgh/go-multipay/internal/logger"
	"github.com/eamirgh/go-multipay/payment"
)

// Handler keeps purchased invoices in memory until the payer returns.
type Handler struct {
	pay     *multipay.Payment
	pending *cache.Cache[string, *payment.Invoice]
	ttl     time.Duration
}

func NewHandler(pay *multipay.Payment, pending *cache.Cache[string, *payment.Invoice], ttl time.Duration) *Handler {
	return &Handler{pay: pay, pending: pending, ttl: ttl}
}

type startRequest struct {
	Amount   uint64         `json:"amount"`
	Currency string         `json:"currency,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

type startResponse struct {
	InvoiceID     string                   `json:"invoice_id"`
	TransactionID string                   `json:"transaction_id"`
	Redirect      *payment.RedirectionForm `json:"redirect"`
	Location      string                   `json:"location,omitempty"`
}

type receiptResponse struct {
	Provider    string         `json:"provider"`
	ReferenceID string         `json:"reference_id"`
	InvoiceID   string         `json:"invoice_id"`
	Date        time.Time      `json:"date"`
	Details     map[string]any `json:"details"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func pendingKey(gateway, key string) string {
	return gateway + ":" + key
}

func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context(), nil)
	gw, err := h.pay.Via(chi.URLParam(r, "gateway"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Kind: "unknown_gateway"})
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON payload", Kind: "bad_request"})
		return
	}
	opts := []payment.InvoiceOption{payment.WithDetails(req.Details)}
	if req.Currency != "" {
		opts = append(opts, payment.WithCurrency(payment.Currency(req.Currency)))
	}
	inv, err := payment.NewInvoice(req.Amount, opts...)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "bad_request"})
		return
	}

	_, form, err := h.pay.Purchase(r.Context(), inv, gw.Name())
	if err != nil {
		log.Warn("payment start failed", zap.String("gateway", gw.Name()), zap.Error(err))
		writeError(w, err)
		return
	}

	key := inv.TransactionID()
	if c, ok := gw.(payment.Correlator); ok {
		key = c.InvoiceKey(inv)
	}
	h.pending.Set(pendingKey(gw.Name(), key), inv, cache.WithExpiration(h.ttl))

	loc, _ := form.Location()
	writeJSON(w, http.StatusOK, startResponse{
		InvoiceID:     inv.ID().String(),
		TransactionID: inv.TransactionID(),
		Redirect:      form,
		Location:      loc,
	})
}

func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	log := logger.FromCtx(r.Context(), nil)
	gw, err := h.pay.Via(chi.URLParam(r, "gateway"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Kind: "unknown_gateway"})
		return
	}
	in, err := payment.FromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: "bad_request"})
		return
	}

	c, ok := gw.(payment.Correlator)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "gateway cannot correlate callbacks", Kind: "unsupported"})
		return
	}
	key, ok := c.CallbackKey(in)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "callback carries no transaction", Kind: "bad_request"})
		return
	}
	inv, ok := h.pending.Get(pendingKey(gw.Name(), key))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown or expired transaction", Kind: "not_found"})
		return
	}

	receipt, err := h.pay.Verify(r.Context(), inv, gw.Name(), in)
	if err != nil {
		// transport errors may be retried by the provider re-sending the callback
		if payment.KindOf(err) != payment.KindOther {
			h.pending.Delete(pendingKey(gw.Name(), key))
		}
		log.Warn("verification failed", zap.String("gateway", gw.Name()), zap.Error(err))
		writeError(w, err)
		return
	}
	h.pending.Delete(pendingKey(gw.Name(), key))

	writeJSON(w, http.StatusOK, receiptResponse{
		Provider:    receipt.Provider(),
		ReferenceID: receipt.ReferenceID(),
		InvoiceID:   inv.ID().String(),
		Date:        receipt.Date(),
		Details:     receipt.Details(),
	})
}

func writeError(w http.ResponseWriter, err error) {
	kind := payment.KindOf(err)
	status := http.StatusBadGateway
	msg := "gateway error"
	switch kind {
	case payment.KindPurchaseFailed:
		msg = err.Error()
	case payment.KindInvalidPayment:
		status = http.StatusPaymentRequired
		msg = err.Error()
	case payment.KindPrecondition:
		status = http.StatusConflict
		msg = errors.Cause(err).Error()
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
