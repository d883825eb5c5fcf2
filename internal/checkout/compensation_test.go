package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/campus-marketplace/internal/catalog"
	"github.com/ariefcatur/campus-marketplace/internal/orders"
	"github.com/ariefcatur/campus-marketplace/internal/testdb"
)

func TestSweeper_RunStopsAndSignalsDone(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "x", "s1", 100, 4)
	f.reserve(t, "u1", line("x", 4))
	f.clock.Advance(301 * time.Second)

	sw := NewSweeper(f.svc, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	go sw.Run(ctx)

	require.Eventually(t, func() bool {
		var n int
		return f.db.Get(&n, `SELECT stock FROM products WHERE id = 'x'`) == nil && n == 4
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-sw.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

// Scenario B: the window lapses with nobody watching; the sweeper restores stock.
func TestSweeper_ExpiresAbandonedCheckout(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "x", "s1", 100, 10)
	res := f.reserve(t, "u1", line("x", 3))
	require.Equal(t, 7, testdb.Stock(t, f.db, "x"))

	sw := NewSweeper(f.svc, time.Second)
	n, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "window still open")

	f.clock.Advance(301 * time.Second)
	n, err = sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 10, testdb.Stock(t, f.db, "x"))
	o := f.order(t, res.OrderID)
	assert.Equal(t, orders.PaymentFailed, o.Payment.Status)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	for _, it := range o.Items {
		assert.Equal(t, orders.ItemCancelled, it.DeliveryStatus)
	}
	assert.Contains(t, f.events.types(), orders.EventOrderExpired)

	n, err = sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCompensate_Idempotent(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "x", "s1", 100, 10)
	res := f.reserve(t, "u1", line("x", 2))
	f.clock.Advance(time.Hour)
	ctx := context.Background()

	first, err := f.svc.Compensate(ctx, res.OrderID, ReasonTimeout)
	require.NoError(t, err)
	assert.True(t, first.Compensated)
	afterFirst := testdb.Stock(t, f.db, "x")

	second, err := f.svc.Compensate(ctx, res.OrderID, ReasonTimeout)
	require.NoError(t, err)
	assert.False(t, second.Compensated)
	assert.Equal(t, afterFirst, testdb.Stock(t, f.db, "x"))

	_, err = f.svc.Compensate(ctx, res.OrderID, ReasonExplicitCancel)
	require.NoError(t, err)
	assert.Equal(t, 10, testdb.Stock(t, f.db, "x"))
}

func TestCompensate_TimeoutBeforeDeadlineIsNoop(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "x", "s1", 100, 10)
	res := f.reserve(t, "u1", line("x", 2))

	r, err := f.svc.Compensate(context.Background(), res.OrderID, ReasonTimeout)
	require.NoError(t, err)
	assert.False(t, r.Compensated)
	assert.Equal(t, 8, testdb.Stock(t, f.db, "x"))
}

func TestCompensate_RoundTripRestoresEveryLine(t *testing.T) {
	f := newFixture(t)
	stock := map[string]int{"a": 4, "b": 1, "c": 9}
	for id, n := range stock {
		testdb.Product(t, f.db, id, "seller-"+id, 50, n)
	}
	res := f.reserve(t, "u1", line("a", 4), line("b", 1), line("c", 2))
	assert.Equal(t, 0, testdb.Stock(t, f.db, "a"))

	f.clock.Advance(5 * time.Minute)
	_, err := f.svc.Compensate(context.Background(), res.OrderID, ReasonTimeout)
	require.NoError(t, err)

	for id, n := range stock {
		assert.Equal(t, n, testdb.Stock(t, f.db, id), id)
		p, err := (&catalog.Repo{DB: f.db}).Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, catalog.StatusActive, p.Status, id)
	}
}

func TestCompensate_UnknownReason(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Compensate(context.Background(), "o1", Reason("oops"))
	assert.ErrorIs(t, err, ErrUnknownReason)
}

func TestCancelOrder_PendingRestocksImmediately(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "x", "s1", 100, 5)
	res := f.reserve(t, "u1", line("x", 5))

	_, err := f.svc.CancelOrder(context.Background(), "u2", res.OrderID)
	assert.ErrorIs(t, err, orders.ErrNotFound)

	out, err := f.svc.CancelOrder(context.Background(), "u1", res.OrderID)
	require.NoError(t, err)
	assert.True(t, out.Restocked)
	assert.Equal(t, orders.StatusCancelled, out.Status)
	assert.Equal(t, 5, testdb.Stock(t, f.db, "x"))

	_, err = f.svc.CancelOrder(context.Background(), "u1", res.OrderID)
	var td *orders.TransitionDeniedError
	require.ErrorAs(t, err, &td)
	assert.Equal(t, "cancelled", td.Current)
}

func TestCancelOrder_PaidBeforeShippingOpensRefund(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "x", "s1", 100, 5)
	testdb.Admin(t, f.db, "admin")
	res := f.reserve(t, "u1", line("x", 2))
	f.pay(t, "u1", res)
	ctx := context.Background()

	out, err := f.svc.CancelOrder(ctx, "u1", res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, out.Status)
	require.NotEmpty(t, out.RefundID)
	assert.Equal(t, 3, testdb.Stock(t, f.db, "x"), "stock waits for the admin")

	o := f.order(t, res.OrderID)
	require.NotNil(t, o.Refund)
	assert.Equal(t, orders.RefundPending, o.Refund.Status)

	rr, err := f.svc.ResolveRefund(ctx, "admin", out.RefundID, orders.RefundApproved)
	require.NoError(t, err)
	assert.Equal(t, orders.RefundApproved, rr.Status)
	assert.Equal(t, 5, testdb.Stock(t, f.db, "x"))

	o = f.order(t, res.OrderID)
	assert.Equal(t, orders.StatusRefunded, o.Status)
	assert.Equal(t, orders.PaymentRefunded, o.Payment.Status)
}

// Scenario E
func TestCancelOrder_BlockedOnceShipped(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "x", "s1", 100, 5)
	testdb.Product(t, f.db, "y", "s2", 100, 5)
	res := f.reserve(t, "u1", line("x", 1), line("y", 1))
	f.pay(t, "u1", res)
	o := f.order(t, res.OrderID)

	var shipped string
	for _, it := range o.Items {
		if it.ProductID == "x" {
			shipped = it.ID
		}
	}
	_, _, err := f.svc.AdvanceDelivery(context.Background(), "s1", shipped, orders.ItemOnTheWay)
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(context.Background(), "u1", res.OrderID)
	var td *orders.TransitionDeniedError
	require.ErrorAs(t, err, &td)
	assert.Equal(t, "confirmed", td.Current)

	o = f.order(t, res.OrderID)
	assert.Equal(t, orders.StatusConfirmed, o.Status)
	assert.Nil(t, o.Refund)
}

// Scenario F
func TestResolveRefund_ApproveDeliveredOrderOnce(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "x", "s1", 400, 5)
	testdb.Admin(t, f.db, "admin")
	res := f.reserve(t, "u1", line("x", 1))
	f.pay(t, "u1", res)
	ctx := context.Background()
	itemID := res.Lines[0].ItemID

	_, _, err := f.svc.AdvanceDelivery(ctx, "s1", itemID, orders.ItemOnTheWay)
	require.NoError(t, err)
	_, st, err := f.svc.AdvanceDelivery(ctx, "s1", itemID, orders.ItemDelivered)
	require.NoError(t, err)
	require.Equal(t, orders.StatusDelivered, st)

	rr, err := f.svc.RequestRefund(ctx, "u1", res.OrderID, "arrived broken")
	require.NoError(t, err)
	_, err = f.svc.RequestRefund(ctx, "u1", res.OrderID, "again")
	var td *orders.TransitionDeniedError
	require.ErrorAs(t, err, &td, "one active request per order")

	_, err = f.svc.ResolveRefund(ctx, "u1", rr.ID, orders.RefundApproved)
	assert.ErrorIs(t, err, orders.ErrForbidden)

	f.clock.Advance(time.Hour)
	got, err := f.svc.ResolveRefund(ctx, "admin", rr.ID, orders.RefundApproved)
	require.NoError(t, err)
	assert.Equal(t, orders.RefundApproved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	require.NotNil(t, got.ResolvedBy)
	assert.Equal(t, "admin", *got.ResolvedBy)

	o := f.order(t, res.OrderID)
	assert.Equal(t, orders.StatusRefunded, o.Status)
	assert.Equal(t, orders.PaymentRefunded, o.Payment.Status)
	assert.Equal(t, 4, testdb.Stock(t, f.db, "x"), "delivered goods are not restocked")

	_, err = f.svc.ResolveRefund(ctx, "admin", rr.ID, orders.RefundRejected)
	require.ErrorAs(t, err, &td)
	assert.Equal(t, "approved", td.Current)
}

func TestResolveRefund_RejectLeavesOrder(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "x", "s1", 400, 5)
	testdb.Admin(t, f.db, "admin")
	res := f.reserve(t, "u1", line("x", 1))
	f.pay(t, "u1", res)
	ctx := context.Background()
	itemID := res.Lines[0].ItemID
	_, _, err := f.svc.AdvanceDelivery(ctx, "s1", itemID, orders.ItemOnTheWay)
	require.NoError(t, err)
	_, _, err = f.svc.AdvanceDelivery(ctx, "s1", itemID, orders.ItemDelivered)
	require.NoError(t, err)
	rr, err := f.svc.RequestRefund(ctx, "u1", res.OrderID, "")
	require.NoError(t, err)

	_, err = f.svc.ResolveRefund(ctx, "admin", rr.ID, orders.RefundStatus("maybe"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := f.svc.ResolveRefund(ctx, "admin", rr.ID, orders.RefundRejected)
	require.NoError(t, err)
	assert.Equal(t, orders.RefundRejected, got.Status)

	o := f.order(t, res.OrderID)
	assert.Equal(t, orders.StatusDelivered, o.Status)
	assert.Equal(t, orders.PaymentCompleted, o.Payment.Status)

	// a closed request frees the slot for a new one
	_, err = f.svc.RequestRefund(ctx, "u1", res.OrderID, "second try")
	require.NoError(t, err)
}

func TestRequestRefund_OnlyDeliveredOrders(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "x", "s1", 100, 5)
	res := f.reserve(t, "u1", line("x", 1))
	f.pay(t, "u1", res)

	_, err := f.svc.RequestRefund(context.Background(), "u1", res.OrderID, "changed my mind")
	var td *orders.TransitionDeniedError
	require.ErrorAs(t, err, &td)
	assert.Equal(t, "confirmed", td.Current)
}

func TestCompensate_AdminRejectClosesOpenRefund(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "x", "s1", 100, 5)
	res := f.reserve(t, "u1", line("x", 1))
	f.pay(t, "u1", res)
	ctx := context.Background()

	out, err := f.svc.CancelOrder(ctx, "u1", res.OrderID)
	require.NoError(t, err)

	r, err := f.svc.Compensate(ctx, res.OrderID, ReasonAdminReject)
	require.NoError(t, err)
	assert.True(t, r.Compensated)
	assert.Equal(t, out.RefundID, r.RefundID)

	r, err = f.svc.Compensate(ctx, res.OrderID, ReasonAdminReject)
	require.NoError(t, err)
	assert.False(t, r.Compensated)

	o := f.order(t, res.OrderID)
	assert.Equal(t, orders.RefundRejected, o.Refund.Status)
	assert.Equal(t, orders.StatusCancelled, o.Status)
	assert.Equal(t, 4, testdb.Stock(t, f.db, "x"))
}
