package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/campus-marketplace/internal/cart"
	"github.com/ariefcatur/campus-marketplace/internal/catalog"
	"github.com/ariefcatur/campus-marketplace/internal/checkout"
	"github.com/ariefcatur/campus-marketplace/internal/orders"
)

type errorBody struct {
	Error     string                        `json:"error"`
	Code      string                        `json:"code,omitempty"`
	Lines     []checkout.LineConflict       `json:"lines,omitempty"`
	Denied    *orders.TransitionDeniedError `json:"denied,omitempty"`
	Retryable bool                          `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Anything unrecognised is treated
// as a transient infrastructure failure.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		sc *checkout.StockConflictError
		td *orders.TransitionDeniedError
		ce *checkout.CompensationError
	)
	switch {
	case errors.As(err, &sc):
		writeJSON(w, http.StatusConflict, errorBody{Error: "some items are no longer available", Code: "stock_conflict", Lines: sc.Lines})
	case errors.As(err, &td):
		writeJSON(w, http.StatusConflict, errorBody{Error: td.Error(), Code: "transition_denied", Denied: td})
	case errors.Is(err, checkout.ErrSelfPurchase):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error(), Code: "self_purchase"})
	case errors.Is(err, checkout.ErrWindowExpired):
		writeJSON(w, http.StatusGone, errorBody{Error: err.Error(), Code: "window_expired"})
	case errors.Is(err, checkout.ErrSubmitInProgress):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "in_progress", Retryable: true})
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, catalog.ErrNotFound), errors.Is(err, cart.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, orders.ErrForbidden), errors.Is(err, catalog.ErrNotOwner), errors.Is(err, checkout.ErrSellerBanned):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error(), Code: "forbidden"})
	case errors.Is(err, checkout.ErrInvalidInput), errors.Is(err, checkout.ErrCartEmpty),
		errors.Is(err, checkout.ErrPaymentMismatched), errors.Is(err, cart.ErrUnknownMode),
		errors.Is(err, catalog.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid"})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "could not release the order yet, retry shortly", Code: "compensation_failed", Retryable: true})
	default:
		log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "temporarily unavailable", Retryable: true})
	}
}
