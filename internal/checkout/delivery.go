package checkout

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ariefcatur/campus-marketplace/internal/orders"
)

// AdvanceDelivery moves one order item forward for its owning seller and stores the
// recomputed order status. A seller cancelling a paid item opens a refund request.
func (s *Service) AdvanceDelivery(ctx context.Context, sellerID, itemID string, to orders.ItemStatus) (orders.Item, orders.Status, error) {
	if s.roles != nil {
		r, err := s.roles.Roles(ctx, sellerID)
		if err != nil {
			return orders.Item{}, "", err
		}
		if !r.IsSeller {
			return orders.Item{}, "", orders.ErrForbidden
		}
		if r.SellerBanned() {
			return orders.Item{}, "", ErrSellerBanned
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return orders.Item{}, "", err
	}
	defer func() { _ = tx.Rollback() }()

	it, err := orders.LoadItem(ctx, tx, itemID)
	if err != nil {
		return orders.Item{}, "", err
	}
	if it.SellerID != sellerID {
		return orders.Item{}, "", orders.ErrForbidden
	}
	from := it.DeliveryStatus

	pay, err := orders.LoadPayment(ctx, tx, it.OrderID)
	if err != nil {
		return orders.Item{}, "", err
	}
	if pay.Status != orders.PaymentCompleted {
		return orders.Item{}, "", orders.Denied("item", itemID, from, to, fmt.Sprintf("payment is %s", pay.Status))
	}
	if !orders.CanTransition(from, to) {
		return orders.Item{}, "", orders.Denied("item", itemID, from, to, "")
	}

	now := s.now()
	q := `UPDATE order_items SET delivery_status = ?, updated_at = ?`
	args := []any{to, now}
	switch to {
	case orders.ItemOnTheWay:
		q += `, shipped_at = ?`
		args = append(args, now)
	case orders.ItemDelivered:
		q += `, delivered_at = ?`
		args = append(args, now)
	}
	q += ` WHERE id = ? AND delivery_status = ?`
	args = append(args, itemID, from)

	r, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
	if err != nil {
		return orders.Item{}, "", fmt.Errorf("advance item: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		cur, err := orders.LoadItem(ctx, tx, itemID)
		if err != nil {
			return orders.Item{}, "", err
		}
		return orders.Item{}, "", orders.Denied("item", itemID, cur.DeliveryStatus, to, "")
	}

	var refund orders.RefundRequest
	var refundCreated bool
	if to == orders.ItemCancelled {
		refund, refundCreated, err = s.ensureRefund(ctx, tx, it.OrderID, "seller cancelled item", now)
		if err != nil {
			return orders.Item{}, "", err
		}
	}
	st, err := orders.Recompute(ctx, tx, it.OrderID, now)
	if err != nil {
		return orders.Item{}, "", err
	}
	it, err = orders.LoadItem(ctx, tx, itemID)
	if err != nil {
		return orders.Item{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return orders.Item{}, "", err
	}

	s.emit(orders.EventItemDeliveryAdvanced, it.OrderID, orders.DeliveryAdvancedPayload{
		OrderID: it.OrderID, Item: itemLine(it), From: from, To: to, OrderStatus: st,
	})
	if refundCreated {
		s.emit(orders.EventRefundRequested, it.OrderID, orders.RefundPayload{RefundID: refund.ID, OrderID: it.OrderID, Status: string(refund.Status)})
	}
	s.log.Info("delivery advanced",
		zap.String("item_id", itemID), zap.String("order_id", it.OrderID),
		zap.String("from", string(from)), zap.String("to", string(to)), zap.String("order_status", string(st)))
	return it, st, nil
}
