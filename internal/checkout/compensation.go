package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ariefcatur/campus-marketplace/internal/catalog"
	"github.com/ariefcatur/campus-marketplace/internal/orders"
)

type Reason string

const (
	ReasonTimeout        Reason = "timeout"
	ReasonExplicitCancel Reason = "explicit-cancel"
	ReasonAdminReject    Reason = "admin-reject"
)

type CompensationResult struct {
	OrderID     string            `json:"order_id"`
	Reason      Reason            `json:"reason"`
	Compensated bool              `json:"compensated"` // false when an earlier run already did the work
	Restocked   []orders.ItemLine `json:"restocked,omitempty"`
	RefundID    string            `json:"refund_id,omitempty"`
}

// Compensate reverses a reservation. For timeout and explicit-cancel it voids a pending
// payment; the pending→failed flip is the guard, so only one caller ever restocks.
// For admin-reject it closes the order's open refund request.
func (s *Service) Compensate(ctx context.Context, orderID string, reason Reason) (CompensationResult, error) {
	var (
		res CompensationResult
		err error
	)
	switch reason {
	case ReasonTimeout, ReasonExplicitCancel:
		res, err = s.voidPending(ctx, orderID, reason)
	case ReasonAdminReject:
		res, err = s.rejectOpenRefund(ctx, orderID)
	default:
		return CompensationResult{}, ErrUnknownReason
	}
	if err != nil {
		var ce *CompensationError
		if errors.As(err, &ce) {
			s.log.Error("compensation failed", zap.String("order_id", orderID), zap.String("reason", string(reason)), zap.Error(err))
		}
		return CompensationResult{}, err
	}
	if !res.Compensated {
		return res, nil
	}

	switch reason {
	case ReasonTimeout:
		s.emit(orders.EventOrderExpired, orderID, orders.OrderVoidedPayload{OrderID: orderID, Reason: string(reason), Restocked: res.Restocked})
		s.log.Info("order expired", zap.String("order_id", orderID), zap.Int("restocked_lines", len(res.Restocked)))
	case ReasonExplicitCancel:
		s.emit(orders.EventOrderCancelled, orderID, orders.OrderVoidedPayload{OrderID: orderID, Reason: string(reason), Restocked: res.Restocked})
		s.log.Info("order cancelled", zap.String("order_id", orderID), zap.Int("restocked_lines", len(res.Restocked)))
	}
	return res, nil
}

func (s *Service) voidPending(ctx context.Context, orderID string, reason Reason) (CompensationResult, error) {
	res := CompensationResult{OrderID: orderID, Reason: reason}
	fail := func(err error) (CompensationResult, error) {
		return CompensationResult{}, &CompensationError{OrderID: orderID, Reason: reason, Err: err}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	q := `UPDATE payments SET status = 'failed', updated_at = ? WHERE order_id = ? AND status = 'pending'`
	args := []any{now, orderID}
	if reason == ReasonTimeout {
		q += ` AND expires_at <= ?`
		args = append(args, now)
	}
	r, err := tx.ExecContext(ctx, tx.Rebind(q), args...)
	if err != nil {
		return fail(fmt.Errorf("fail payment: %w", err))
	}
	if n, err := r.RowsAffected(); err != nil {
		return fail(err)
	} else if n == 0 {
		return res, nil
	}

	items, err := orders.LoadItems(ctx, tx, orderID)
	if err != nil {
		return fail(err)
	}
	for _, it := range items {
		ok, err := s.restockItem(ctx, tx, it, now, true)
		if err != nil {
			return fail(err)
		}
		if ok {
			res.Restocked = append(res.Restocked, itemLine(it))
		}
	}
	if _, err := orders.Recompute(ctx, tx, orderID, now); err != nil {
		return fail(err)
	}
	if err := tx.Commit(); err != nil {
		return fail(err)
	}
	res.Compensated = true
	return res, nil
}

// restockItem returns the item's quantity to its product at most once, recorded by
// restocked_at. With cancel set the item is also marked cancelled.
func (s *Service) restockItem(ctx context.Context, tx *sqlx.Tx, it orders.Item, now time.Time, cancel bool) (bool, error) {
	if it.RestockedAt != nil {
		return false, nil
	}
	q := `UPDATE order_items SET restocked_at = ?, updated_at = ? WHERE id = ? AND restocked_at IS NULL`
	if cancel {
		q = `UPDATE order_items SET delivery_status = 'cancelled', restocked_at = ?, updated_at = ? WHERE id = ? AND restocked_at IS NULL`
	}
	r, err := tx.ExecContext(ctx, tx.Rebind(q), now, now, it.ID)
	if err != nil {
		return false, fmt.Errorf("mark item %s: %w", it.ID, err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return false, nil
	}
	if err := catalog.Restock(ctx, tx, it.ProductID, it.Quantity); err != nil {
		return false, fmt.Errorf("restock %s: %w", it.ProductID, err)
	}
	return true, nil
}

func (s *Service) rejectOpenRefund(ctx context.Context, orderID string) (CompensationResult, error) {
	res := CompensationResult{OrderID: orderID, Reason: ReasonAdminReject}
	var refundID string
	err := s.db.GetContext(ctx, &refundID, s.db.Rebind(`
		SELECT id FROM refund_requests WHERE order_id = ? AND status = 'pending'`), orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return res, nil
	}
	if err != nil {
		return CompensationResult{}, &CompensationError{OrderID: orderID, Reason: ReasonAdminReject, Err: err}
	}
	if _, err := s.resolve(ctx, "", refundID, orders.RefundRejected); err != nil {
		var td *orders.TransitionDeniedError
		if errors.As(err, &td) {
			return res, nil
		}
		return CompensationResult{}, &CompensationError{OrderID: orderID, Reason: ReasonAdminReject, Err: err}
	}
	res.Compensated, res.RefundID = true, refundID
	return res, nil
}

type CancelResult struct {
	OrderID   string        `json:"order_id"`
	Status    orders.Status `json:"status"`
	Restocked bool          `json:"restocked"`
	RefundID  string        `json:"refund_id,omitempty"`
}

// CancelOrder cancels a buyer's order. An unpaid order is voided and restocked at once.
// A paid order with nothing shipped is cancelled and handed to an admin as a refund
// request; its stock comes back only if the refund is approved.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) (CancelResult, error) {
	o, err := orders.LoadOrder(ctx, s.db, orderID)
	if err != nil {
		return CancelResult{}, err
	}
	if o.UserID != userID {
		return CancelResult{}, orders.ErrNotFound
	}
	pay, err := orders.LoadPayment(ctx, s.db, orderID)
	if err != nil {
		return CancelResult{}, err
	}

	switch pay.Status {
	case orders.PaymentPending:
		res, err := s.Compensate(ctx, orderID, ReasonExplicitCancel)
		if err != nil {
			return CancelResult{}, err
		}
		if !res.Compensated {
			cur, err := orders.LoadOrder(ctx, s.db, orderID)
			if err != nil {
				return CancelResult{}, err
			}
			return CancelResult{}, orders.Denied("order", orderID, cur.Status, orders.StatusCancelled, "order is no longer awaiting payment")
		}
		return CancelResult{OrderID: orderID, Status: orders.StatusCancelled, Restocked: true}, nil
	case orders.PaymentCompleted:
		return s.cancelPaid(ctx, orderID)
	default:
		return CancelResult{}, orders.Denied("order", orderID, o.Status, orders.StatusCancelled, "")
	}
}

func (s *Service) cancelPaid(ctx context.Context, orderID string) (CancelResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return CancelResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := orders.LoadOrder(ctx, tx, orderID)
	if err != nil {
		return CancelResult{}, err
	}
	if o.Status != orders.StatusConfirmed {
		return CancelResult{}, orders.Denied("order", orderID, o.Status, orders.StatusCancelled, "")
	}
	items, err := orders.LoadItems(ctx, tx, orderID)
	if err != nil {
		return CancelResult{}, err
	}
	pending := 0
	for _, it := range items {
		if it.DeliveryStatus.Shipped() {
			return CancelResult{}, orders.Denied("order", orderID, o.Status, orders.StatusCancelled, "an item has already shipped")
		}
		if it.DeliveryStatus == orders.ItemPending {
			pending++
		}
	}

	now := s.now()
	r, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE order_items SET delivery_status = 'cancelled', updated_at = ?
		WHERE order_id = ? AND delivery_status = 'pending'`), now, orderID)
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel items: %w", err)
	}
	if n, _ := r.RowsAffected(); int(n) != pending {
		// a seller moved an item meanwhile
		return CancelResult{}, orders.Denied("order", orderID, o.Status, orders.StatusCancelled, "items changed, reload and retry")
	}

	refund, created, err := s.ensureRefund(ctx, tx, orderID, "buyer cancelled before shipping", now)
	if err != nil {
		return CancelResult{}, err
	}
	st, err := orders.Recompute(ctx, tx, orderID, now)
	if err != nil {
		return CancelResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return CancelResult{}, err
	}

	s.emit(orders.EventOrderCancelled, orderID, orders.OrderVoidedPayload{OrderID: orderID, Reason: string(ReasonExplicitCancel)})
	if created {
		s.emit(orders.EventRefundRequested, orderID, orders.RefundPayload{RefundID: refund.ID, OrderID: orderID, Status: string(refund.Status)})
	}
	s.log.Info("paid order cancelled", zap.String("order_id", orderID), zap.String("refund_id", refund.ID))
	return CancelResult{OrderID: orderID, Status: st, RefundID: refund.ID}, nil
}

// ensureRefund opens a refund request unless one is already pending.
func (s *Service) ensureRefund(ctx context.Context, tx *sqlx.Tx, orderID, reason string, now time.Time) (orders.RefundRequest, bool, error) {
	active, err := orders.HasActiveRefund(ctx, tx, orderID)
	if err != nil {
		return orders.RefundRequest{}, false, err
	}
	if active {
		var rr orders.RefundRequest
		err := tx.GetContext(ctx, &rr, tx.Rebind(`
			SELECT id, order_id, status, reason, created_at, resolved_at, resolved_by
			FROM refund_requests WHERE order_id = ? AND status = 'pending'`), orderID)
		return rr, false, err
	}
	rr := orders.RefundRequest{
		ID: uuid.NewString(), OrderID: orderID, Status: orders.RefundPending, Reason: reason, CreatedAt: now,
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO refund_requests(id, order_id, status, reason, created_at) VALUES (?, ?, ?, ?, ?)`),
		rr.ID, rr.OrderID, rr.Status, rr.Reason, rr.CreatedAt); err != nil {
		return orders.RefundRequest{}, false, fmt.Errorf("insert refund request: %w", err)
	}
	return rr, true, nil
}

// RequestRefund opens a refund request on a delivered or partially delivered order.
func (s *Service) RequestRefund(ctx context.Context, userID, orderID, reason string) (orders.RefundRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return orders.RefundRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := orders.LoadOrder(ctx, tx, orderID)
	if err != nil {
		return orders.RefundRequest{}, err
	}
	if o.UserID != userID {
		return orders.RefundRequest{}, orders.ErrNotFound
	}
	if o.Status != orders.StatusDelivered && o.Status != orders.StatusPartiallyDelivered {
		return orders.RefundRequest{}, orders.Denied("order", orderID, o.Status, "refund_requested", "only delivered orders can be refunded")
	}
	active, err := orders.HasActiveRefund(ctx, tx, orderID)
	if err != nil {
		return orders.RefundRequest{}, err
	}
	if active {
		return orders.RefundRequest{}, orders.Denied("refund", orderID, orders.RefundPending, orders.RefundPending, "a refund request is already open")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "requested by buyer"
	}
	rr, _, err := s.ensureRefund(ctx, tx, orderID, reason, s.now())
	if err != nil {
		return orders.RefundRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return orders.RefundRequest{}, err
	}
	s.emit(orders.EventRefundRequested, orderID, orders.RefundPayload{RefundID: rr.ID, OrderID: orderID, Status: string(rr.Status)})
	s.log.Info("refund requested", zap.String("order_id", orderID), zap.String("refund_id", rr.ID))
	return rr, nil
}

// ResolveRefund closes a pending refund request. Approval refunds the payment and
// returns the stock of items cancelled before they shipped. A request resolves once.
func (s *Service) ResolveRefund(ctx context.Context, adminID, refundID string, decision orders.RefundStatus) (orders.RefundRequest, error) {
	if decision != orders.RefundApproved && decision != orders.RefundRejected {
		return orders.RefundRequest{}, fmt.Errorf("%w: decision %q", ErrInvalidInput, decision)
	}
	if s.roles != nil {
		r, err := s.roles.Roles(ctx, adminID)
		if err != nil {
			return orders.RefundRequest{}, err
		}
		if !r.IsAdmin {
			return orders.RefundRequest{}, orders.ErrForbidden
		}
	}
	return s.resolve(ctx, adminID, refundID, decision)
}

func (s *Service) resolve(ctx context.Context, adminID, refundID string, decision orders.RefundStatus) (orders.RefundRequest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return orders.RefundRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	var by any
	if adminID != "" {
		by = adminID
	}
	r, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE refund_requests SET status = ?, resolved_at = ?, resolved_by = ?
		WHERE id = ? AND status = 'pending'`), decision, now, by, refundID)
	if err != nil {
		return orders.RefundRequest{}, fmt.Errorf("resolve refund: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		cur, err := orders.LoadRefund(ctx, tx, refundID)
		if err != nil {
			return orders.RefundRequest{}, err
		}
		return orders.RefundRequest{}, orders.Denied("refund", refundID, cur.Status, decision, "refund request already resolved")
	}
	rr, err := orders.LoadRefund(ctx, tx, refundID)
	if err != nil {
		return orders.RefundRequest{}, err
	}

	var restocked []orders.ItemLine
	if decision == orders.RefundApproved {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE payments SET status = 'refunded', updated_at = ? WHERE order_id = ? AND status = 'completed'`),
			now, rr.OrderID); err != nil {
			return orders.RefundRequest{}, fmt.Errorf("refund payment: %w", err)
		}
		items, err := orders.LoadItems(ctx, tx, rr.OrderID)
		if err != nil {
			return orders.RefundRequest{}, err
		}
		for _, it := range items {
			if it.DeliveryStatus != orders.ItemCancelled || it.ShippedAt != nil {
				continue
			}
			ok, err := s.restockItem(ctx, tx, it, now, false)
			if err != nil {
				return orders.RefundRequest{}, err
			}
			if ok {
				restocked = append(restocked, itemLine(it))
			}
		}
	}
	if _, err := orders.Recompute(ctx, tx, rr.OrderID, now); err != nil {
		return orders.RefundRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return orders.RefundRequest{}, err
	}

	s.emit(orders.EventRefundResolved, rr.OrderID, orders.RefundPayload{
		RefundID: rr.ID, OrderID: rr.OrderID, Status: string(rr.Status), AdminID: adminID,
	})
	s.log.Info("refund resolved",
		zap.String("refund_id", rr.ID), zap.String("order_id", rr.OrderID),
		zap.String("decision", string(decision)), zap.Int("restocked_lines", len(restocked)))
	return rr, nil
}
