package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	orderColumns    = `id, user_id, external_id, status, total, created_at, updated_at`
	itemColumns     = `id, order_id, product_id, seller_id, quantity, price_at_purchase, delivery_status, shipped_at, delivered_at, restocked_at, updated_at`
	paymentColumns  = `id, order_id, status, method, account_ref, amount, expires_at, completed_at, created_at, updated_at`
	deliveryColumns = `id, order_id, address, phone, delivery_status, created_at, updated_at`
	refundColumns   = `id, order_id, status, reason, created_at, resolved_at, resolved_by`
)

// Repo is the read side. Every call hits the database; nothing is cached.
type Repo struct{ DB *sqlx.DB }

func (r *Repo) Get(ctx context.Context, orderID string) (Order, error) {
	o, err := LoadOrder(ctx, r.DB, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Items, err = LoadItems(ctx, r.DB, orderID); err != nil {
		return Order{}, err
	}
	p, err := LoadPayment(ctx, r.DB, orderID)
	switch {
	case err == nil:
		o.Payment = &p
	case !errors.Is(err, ErrNotFound):
		return Order{}, err
	}
	var d Delivery
	err = sqlx.GetContext(ctx, r.DB, &d, r.DB.Rebind(`SELECT `+deliveryColumns+` FROM deliveries WHERE order_id = ?`), orderID)
	switch {
	case err == nil:
		o.Delivery = &d
	case !errors.Is(err, sql.ErrNoRows):
		return Order{}, err
	}
	rr, err := LatestRefund(ctx, r.DB, orderID)
	switch {
	case err == nil:
		o.Refund = &rr
	case !errors.Is(err, ErrNotFound):
		return Order{}, err
	}
	return o, nil
}

// GetForBuyer hides other users' orders behind ErrNotFound.
func (r *Repo) GetForBuyer(ctx context.Context, userID, orderID string) (Order, error) {
	o, err := r.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.UserID != userID {
		return Order{}, ErrNotFound
	}
	return o, nil
}

func (r *Repo) ListByBuyer(ctx context.Context, userID string) ([]Order, error) {
	var ids []string
	if err := r.DB.SelectContext(ctx, &ids, r.DB.Rebind(`
		SELECT id FROM orders WHERE user_id = ? ORDER BY created_at DESC`), userID); err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		o, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *Repo) ListBySellerItems(ctx context.Context, sellerID string) ([]SellerItem, error) {
	out := []SellerItem{}
	err := r.DB.SelectContext(ctx, &out, r.DB.Rebind(`
		SELECT oi.id, oi.order_id, oi.product_id, oi.seller_id, oi.quantity, oi.price_at_purchase,
		       oi.delivery_status, oi.shipped_at, oi.delivered_at, oi.restocked_at, oi.updated_at,
		       o.user_id AS buyer_id, p.name AS product_name, o.status AS order_status, pay.status AS payment_status
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		JOIN products p ON p.id = oi.product_id
		JOIN payments pay ON pay.order_id = oi.order_id
		WHERE oi.seller_id = ? AND pay.status <> 'failed'
		ORDER BY o.created_at DESC, oi.id`), sellerID)
	return out, err
}

// ListRefunds filters by status; an empty status lists all.
func (r *Repo) ListRefunds(ctx context.Context, status RefundStatus) ([]RefundView, error) {
	q := `SELECT rr.id, rr.order_id, rr.status, rr.reason, rr.created_at, rr.resolved_at, rr.resolved_by,
	             o.user_id, o.total AS order_total
	      FROM refund_requests rr JOIN orders o ON o.id = rr.order_id`
	args := []any{}
	if status != "" {
		q += ` WHERE rr.status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY rr.created_at`
	out := []RefundView{}
	err := r.DB.SelectContext(ctx, &out, r.DB.Rebind(q), args...)
	return out, err
}

// ---- helpers shared with the write side; q is a *sqlx.DB or *sqlx.Tx ----

func LoadOrder(ctx context.Context, q sqlx.ExtContext, orderID string) (Order, error) {
	var o Order
	err := sqlx.GetContext(ctx, q, &o, q.Rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ?`), orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

func LoadItems(ctx context.Context, q sqlx.ExtContext, orderID string) ([]Item, error) {
	out := []Item{}
	err := sqlx.SelectContext(ctx, q, &out, q.Rebind(`SELECT `+itemColumns+` FROM order_items WHERE order_id = ? ORDER BY id`), orderID)
	return out, err
}

func LoadItem(ctx context.Context, q sqlx.ExtContext, itemID string) (Item, error) {
	var it Item
	err := sqlx.GetContext(ctx, q, &it, q.Rebind(`SELECT `+itemColumns+` FROM order_items WHERE id = ?`), itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	return it, err
}

func LoadPayment(ctx context.Context, q sqlx.ExtContext, orderID string) (Payment, error) {
	var p Payment
	err := sqlx.GetContext(ctx, q, &p, q.Rebind(`SELECT `+paymentColumns+` FROM payments WHERE order_id = ?`), orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	return p, err
}

func LatestRefund(ctx context.Context, q sqlx.ExtContext, orderID string) (RefundRequest, error) {
	var rr RefundRequest
	err := sqlx.GetContext(ctx, q, &rr, q.Rebind(`
		SELECT `+refundColumns+` FROM refund_requests WHERE order_id = ? ORDER BY created_at DESC LIMIT 1`), orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return RefundRequest{}, ErrNotFound
	}
	return rr, err
}

func LoadRefund(ctx context.Context, q sqlx.ExtContext, refundID string) (RefundRequest, error) {
	var rr RefundRequest
	err := sqlx.GetContext(ctx, q, &rr, q.Rebind(`SELECT `+refundColumns+` FROM refund_requests WHERE id = ?`), refundID)
	if errors.Is(err, sql.ErrNoRows) {
		return RefundRequest{}, ErrNotFound
	}
	return rr, err
}

// HasActiveRefund reports whether the order already has a pending refund request.
func HasActiveRefund(ctx context.Context, q sqlx.ExtContext, orderID string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, q.Rebind(`
		SELECT COUNT(*) FROM refund_requests WHERE order_id = ? AND status = 'pending'`), orderID)
	return n > 0, err
}

// Recompute derives the aggregate status from current rows and stores it on the
// order and its delivery summary.
func Recompute(ctx context.Context, q sqlx.ExtContext, orderID string, at time.Time) (Status, error) {
	items, err := LoadItems(ctx, q, orderID)
	if err != nil {
		return "", err
	}
	pay, err := LoadPayment(ctx, q, orderID)
	if err != nil {
		return "", err
	}
	var approved int
	if err := sqlx.GetContext(ctx, q, &approved, q.Rebind(`
		SELECT COUNT(*) FROM refund_requests WHERE order_id = ? AND status = 'approved'`), orderID); err != nil {
		return "", err
	}
	var refund RefundStatus
	if approved > 0 {
		refund = RefundApproved
	}

	statuses := make([]ItemStatus, len(items))
	for i, it := range items {
		statuses[i] = it.DeliveryStatus
	}
	st := DeriveStatus(statuses, pay.Status, refund)

	if _, err := q.ExecContext(ctx, q.Rebind(`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`), st, at, orderID); err != nil {
		return "", fmt.Errorf("store order status: %w", err)
	}
	if _, err := q.ExecContext(ctx, q.Rebind(`UPDATE deliveries SET delivery_status = ?, updated_at = ? WHERE order_id = ?`),
		st, at, orderID); err != nil {
		return "", fmt.Errorf("store delivery summary: %w", err)
	}
	return st, nil
}
