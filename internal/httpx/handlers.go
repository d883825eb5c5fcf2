package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/campus-marketplace/internal/cart"
	"github.com/ariefcatur/campus-marketplace/internal/catalog"
	"github.com/ariefcatur/campus-marketplace/internal/checkout"
	"github.com/ariefcatur/campus-marketplace/internal/identity"
	"github.com/ariefcatur/campus-marketplace/internal/ledger"
	"github.com/ariefcatur/campus-marketplace/internal/orders"
)

const requestTimeout = 5 * time.Second

type Handler struct {
	Checkout *checkout.Service
	Carts    *cart.Store
	Catalog  *catalog.Repo
	Orders   *orders.Repo
	Ledger   *ledger.Service
	Tokens   *identity.Tokens
	Roles    RoleSource
	Log      *zap.Logger
	Poll     time.Duration // liveness interval of the window stream
}

func (h *Handler) Register(r chi.Router) {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	r.Group(func(r chi.Router) {
		r.Use(Authenticate(h.Tokens, h.Roles))

		// long-lived, so outside the request timeout
		r.Get("/checkout/{orderID}/window/stream", h.windowStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(15 * time.Second))

			r.Get("/cart", h.cart)
			r.Post("/cart/lines", h.addCartLine)

			r.Post("/checkout", h.checkout)
			r.Get("/checkout/{orderID}/window", h.window)
			r.Post("/checkout/{orderID}/payment", h.submitPayment)

			r.Get("/orders", h.listOrders)
			r.Get("/orders/{orderID}", h.getOrder)
			r.Post("/orders/{orderID}/cancel", h.cancelOrder)
			r.Post("/orders/{orderID}/refund", h.requestRefund)

			r.Route("/seller", func(r chi.Router) {
				r.Use(RequireSeller)
				r.Get("/items", h.sellerItems)
				r.Post("/items/{itemID}/delivery", h.advanceDelivery)
				r.Get("/products", h.sellerProducts)
				r.Post("/products", h.createProduct)
				r.Patch("/products/{productID}", h.patchProduct)
				r.Get("/income", h.income)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/refunds", h.listRefunds)
				r.Post("/refunds/{refundID}/resolve", h.resolveRefund)
				r.Post("/products/{productID}/approve", h.approveProduct)
			})
		})
	})
}

func caller(r *http.Request) Principal {
	p, _ := PrincipalFrom(r.Context())
	return p
}

func (h *Handler) cart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	lines, err := h.Carts.Lines(ctx, caller(r).UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lines": lines})
}

func (h *Handler) addCartLine(w http.ResponseWriter, r *http.Request) {
	var req cartLineReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	qty, err := h.Carts.AddLine(ctx, caller(r).UserID, req.ProductID, req.Delta, cart.Mode(req.Mode))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": req.ProductID, "quantity": qty})
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	res, err := h.Checkout.Checkout(ctx, caller(r).UserID, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	code := http.StatusCreated
	if res.Idempotent {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}

func (h *Handler) window(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	win, err := h.Checkout.Window(ctx, caller(r).UserID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

// windowStream pushes window snapshots as server-sent events until the window closes
// or the client goes away.
func (h *Handler) windowStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}
	snaps, err := h.Checkout.Watch(r.Context(), caller(r).UserID, chi.URLParam(r, "orderID"), h.Poll)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	for snap := range snaps {
		b, err := json.Marshal(snap)
		if err != nil {
			h.Log.Error("encode window", zap.Error(err))
			return
		}
		if _, err := fmt.Fprintf(w, "event: window\ndata: %s\n\n", b); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (h *Handler) submitPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	win, err := h.Checkout.SubmitPayment(ctx, caller(r).UserID, checkout.SubmitPayment{
		OrderID:    chi.URLParam(r, "orderID"),
		PaymentID:  req.PaymentID,
		Method:     orders.Method(req.Method),
		AccountRef: req.AccountRef,
		Phone:      req.Phone,
		Address:    req.Address,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	list, err := h.Orders.ListByBuyer(ctx, caller(r).UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	o, err := h.Orders.GetForBuyer(ctx, caller(r).UserID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	res, err := h.Checkout.CancelOrder(ctx, caller(r).UserID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) requestRefund(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	rr, err := h.Checkout.RequestRefund(ctx, caller(r).UserID, chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, rr)
}

func (h *Handler) sellerItems(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	items, err := h.Orders.ListBySellerItems(ctx, caller(r).UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) advanceDelivery(w http.ResponseWriter, r *http.Request) {
	var req deliveryReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	it, status, err := h.Checkout.AdvanceDelivery(ctx, caller(r).UserID, chi.URLParam(r, "itemID"), orders.ItemStatus(req.Status))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": it, "order_status": status})
}

func (h *Handler) sellerProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	list, err := h.Catalog.ListBySeller(ctx, caller(r).UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": list})
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	p := caller(r)
	if p.Roles.SellerBanned() {
		writeError(w, h.Log, checkout.ErrSellerBanned)
		return
	}
	var req createProductReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	prod, err := h.Catalog.Create(ctx, p.UserID, req.Name, req.Price, req.Stock)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, prod)
}

// patchProduct applies a price change and/or an availability toggle. Neither touches
// existing orders, which keep their purchase-time price.
func (h *Handler) patchProduct(w http.ResponseWriter, r *http.Request) {
	var req patchProductReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if req.Price == nil && req.Active == nil {
		writeError(w, h.Log, fmt.Errorf("%w: nothing to update", checkout.ErrInvalidInput))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	seller, id := caller(r).UserID, chi.URLParam(r, "productID")

	var (
		prod catalog.Product
		err  error
	)
	if req.Price != nil {
		if prod, err = h.Catalog.SetPrice(ctx, seller, id, *req.Price); err != nil {
			writeError(w, h.Log, err)
			return
		}
	}
	if req.Active != nil {
		if prod, err = h.Catalog.SetAvailability(ctx, seller, id, *req.Active); err != nil {
			writeError(w, h.Log, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, prod)
}

func (h *Handler) income(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	v, err := h.Ledger.Income(ctx, caller(r).UserID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seller_id": caller(r).UserID, "income": v})
}

func (h *Handler) listRefunds(w http.ResponseWriter, r *http.Request) {
	status := orders.RefundStatus(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = orders.RefundPending
	case "all":
		status = ""
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	list, err := h.Orders.ListRefunds(ctx, status)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refunds": list})
}

func (h *Handler) resolveRefund(w http.ResponseWriter, r *http.Request) {
	var req resolveReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	rr, err := h.Checkout.ResolveRefund(ctx, caller(r).UserID, chi.URLParam(r, "refundID"), orders.RefundStatus(req.Decision))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rr)
}

func (h *Handler) approveProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	prod, err := h.Catalog.Approve(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, prod)
}
