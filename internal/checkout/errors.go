package checkout

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSelfPurchase      = errors.New("cannot buy your own listing")
	ErrWindowExpired     = errors.New("payment window expired, please check out again")
	ErrCartEmpty         = errors.New("cart is empty")
	ErrInvalidInput      = errors.New("invalid input")
	ErrSubmitInProgress  = errors.New("payment submission already in progress")
	ErrSellerBanned      = errors.New("seller is banned")
	ErrUnknownReason     = errors.New("unknown compensation reason")
	ErrPaymentMismatched = errors.New("payment does not belong to order")
)

const (
	ConflictInsufficient = "insufficient_stock"
	ConflictInactive     = "not_available"
	ConflictNotFound     = "not_found"
)

type LineConflict struct {
	ProductID string `json:"product_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Reason    string `json:"reason"`
}

// StockConflictError lists every line that could not be reserved. Nothing was reserved.
type StockConflictError struct {
	Lines []LineConflict `json:"lines"`
}

func (e *StockConflictError) Error() string {
	parts := make([]string, len(e.Lines))
	for i, l := range e.Lines {
		parts[i] = fmt.Sprintf("%s requested %d available %d", l.ProductID, l.Requested, l.Available)
	}
	return "stock conflict: " + strings.Join(parts, "; ")
}

// CompensationError wraps an infrastructure failure while voiding an order.
// The transaction rolled back, so running Compensate again is safe.
type CompensationError struct {
	OrderID string
	Reason  Reason
	Err     error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensate %s (%s): %v", e.OrderID, e.Reason, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }
