package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/campus-marketplace/internal/cart"
	"github.com/ariefcatur/campus-marketplace/internal/orders"
	"github.com/ariefcatur/campus-marketplace/internal/redisx"
)

type WindowState string

const (
	AwaitingPayment WindowState = "awaiting_payment"
	Completed       WindowState = "completed"
	Expired         WindowState = "expired"
)

func (w WindowState) Terminal() bool { return w != AwaitingPayment }

// Window is a snapshot of one checkout's payment window.
type Window struct {
	OrderID          string        `json:"order_id"`
	PaymentID        string        `json:"payment_id"`
	State            WindowState   `json:"state"`
	ExpiresAt        time.Time     `json:"expires_at"`
	Remaining        time.Duration `json:"-"`
	RemainingSeconds int64         `json:"remaining_seconds"`
}

// Window reports where the checkout stands. A pending payment found past its deadline
// is compensated here, so the answer never depends on the sweeper having run.
func (s *Service) Window(ctx context.Context, userID, orderID string) (Window, error) {
	o, err := orders.LoadOrder(ctx, s.db, orderID)
	if err != nil {
		return Window{}, err
	}
	if o.UserID != userID {
		return Window{}, orders.ErrNotFound
	}
	pay, err := orders.LoadPayment(ctx, s.db, orderID)
	if err != nil {
		return Window{}, err
	}
	w := Window{OrderID: orderID, PaymentID: pay.ID, ExpiresAt: pay.ExpiresAt}

	switch pay.Status {
	case orders.PaymentCompleted, orders.PaymentRefunded:
		w.State = Completed
		return w, nil
	case orders.PaymentFailed:
		w.State = Expired
		return w, nil
	}

	now := s.now()
	if !now.Before(pay.ExpiresAt) {
		if _, err := s.Compensate(ctx, orderID, ReasonTimeout); err != nil {
			return Window{}, err
		}
		// re-read: a payment may have landed just before the deadline
		return s.Window(ctx, userID, orderID)
	}
	w.State = AwaitingPayment
	w.Remaining = pay.ExpiresAt.Sub(now)
	w.RemainingSeconds = int64(w.Remaining.Round(time.Second) / time.Second)
	return w, nil
}

// Watch streams window snapshots: one immediately, then one per liveness poll and one
// at the deadline. The channel closes on a terminal state or when ctx ends.
func (s *Service) Watch(ctx context.Context, userID, orderID string, poll time.Duration) (<-chan Window, error) {
	first, err := s.Window(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if poll <= 0 {
		poll = 15 * time.Second
	}
	out := make(chan Window, 1)
	go func() {
		defer close(out)
		w := first
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		deadline := time.NewTimer(w.Remaining)
		defer deadline.Stop()

		for {
			select {
			case out <- w:
			case <-ctx.Done():
				return
			}
			if w.State.Terminal() {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-deadline.C:
				// fire again shortly in case the clock was slightly ahead
				deadline.Reset(time.Second)
			}
			next, err := s.Window(ctx, userID, orderID)
			if err != nil {
				if errors.Is(err, orders.ErrNotFound) {
					w = Window{OrderID: orderID, PaymentID: w.PaymentID, State: Expired, ExpiresAt: w.ExpiresAt}
					continue
				}
				s.log.Warn("window poll", zap.String("order_id", orderID), zap.Error(err))
				continue
			}
			w = next
		}
	}()
	return out, nil
}

type SubmitPayment struct {
	OrderID    string        `json:"order_id"`
	PaymentID  string        `json:"payment_id"`
	Method     orders.Method `json:"method"`
	AccountRef string        `json:"account_ref"`
	Phone      string        `json:"phone"`
	Address    string        `json:"address"`
}

func (p SubmitPayment) validate() error {
	var missing []string
	for name, v := range map[string]string{
		"order_id": p.OrderID, "payment_id": p.PaymentID, "account_ref": p.AccountRef,
		"phone": p.Phone, "address": p.Address,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	if !p.Method.Valid() {
		return fmt.Errorf("%w: unknown method %q", ErrInvalidInput, p.Method)
	}
	return nil
}

// SubmitPayment records a payment while the window is still open. It marks the payment
// completed, writes the delivery record, confirms the order and clears the cart in one
// transaction.
func (s *Service) SubmitPayment(ctx context.Context, userID string, req SubmitPayment) (Window, error) {
	if err := req.validate(); err != nil {
		return Window{}, err
	}
	if s.rdb != nil {
		key := redisx.PaymentLock(req.OrderID)
		ok, err := redisx.Acquire(ctx, s.rdb, key, redisx.TTLPaymentLock)
		switch {
		case err != nil:
			s.log.Warn("payment lock unavailable", zap.String("order_id", req.OrderID), zap.Error(err))
		case !ok:
			return Window{}, ErrSubmitInProgress
		default:
			defer redisx.Release(context.WithoutCancel(ctx), s.rdb, key)
		}
	}

	expired, err := s.completePayment(ctx, userID, req)
	if err != nil {
		return Window{}, err
	}
	if expired {
		if _, err := s.Compensate(ctx, req.OrderID, ReasonTimeout); err != nil {
			return Window{}, err
		}
		// the conditional update also loses to a concurrent submit that already completed
		if pay, err := orders.LoadPayment(ctx, s.db, req.OrderID); err == nil && pay.Status == orders.PaymentCompleted {
			return Window{}, orders.Denied("payment", pay.ID, pay.Status, orders.PaymentCompleted, "already paid")
		}
		s.log.Info("payment after deadline", zap.String("order_id", req.OrderID))
		return Window{}, ErrWindowExpired
	}

	pay, err := orders.LoadPayment(ctx, s.db, req.OrderID)
	if err != nil {
		return Window{}, err
	}
	s.emit(orders.EventPaymentCompleted, req.OrderID, orders.PaymentCompletedPayload{
		OrderID: req.OrderID, PaymentID: pay.ID, Method: pay.Method, Amount: pay.Amount,
	})
	s.log.Info("payment completed", zap.String("order_id", req.OrderID), zap.String("method", pay.Method))
	return Window{OrderID: req.OrderID, PaymentID: pay.ID, State: Completed, ExpiresAt: pay.ExpiresAt}, nil
}

// completePayment reports expired=true when the deadline passed before the write.
func (s *Service) completePayment(ctx context.Context, userID string, req SubmitPayment) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := orders.LoadOrder(ctx, tx, req.OrderID)
	if err != nil {
		return false, err
	}
	if o.UserID != userID {
		return false, orders.ErrNotFound
	}
	pay, err := orders.LoadPayment(ctx, tx, req.OrderID)
	if err != nil {
		return false, err
	}
	if pay.ID != req.PaymentID {
		return false, ErrPaymentMismatched
	}
	switch pay.Status {
	case orders.PaymentCompleted, orders.PaymentRefunded:
		return false, orders.Denied("payment", pay.ID, pay.Status, orders.PaymentCompleted, "already paid")
	case orders.PaymentFailed:
		return false, ErrWindowExpired
	}
	if o.Status == orders.StatusCancelled {
		return false, ErrWindowExpired
	}

	now := s.now()
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE payments
		SET status = 'completed', method = ?, account_ref = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending' AND expires_at > ?`),
		req.Method, strings.TrimSpace(req.AccountRef), now, now, pay.ID, now)
	if err != nil {
		return false, fmt.Errorf("complete payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return true, nil
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO deliveries(id, order_id, address, phone, delivery_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), o.ID, strings.TrimSpace(req.Address), strings.TrimSpace(req.Phone),
		orders.StatusConfirmed, now, now); err != nil {
		return false, fmt.Errorf("insert delivery: %w", err)
	}
	if err := cart.Complete(ctx, tx, userID); err != nil {
		return false, err
	}
	if _, err := orders.Recompute(ctx, tx, o.ID, now); err != nil {
		return false, err
	}
	return false, tx.Commit()
}
