package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/campus-marketplace/internal/cart"
	"github.com/ariefcatur/campus-marketplace/internal/catalog"
	"github.com/ariefcatur/campus-marketplace/internal/orders"
	"github.com/ariefcatur/campus-marketplace/internal/testdb"
)

func TestReserve_LastUnitRace(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "x", "s1", 900, 1)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			_, results[i] = f.svc.Reserve(context.Background(), ReserveRequest{UserID: user, Lines: []LineInput{line("x", 1)}})
		}(i, user)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range results {
		var sc *StockConflictError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &sc):
			conflicts++
			require.Len(t, sc.Lines, 1)
			assert.Equal(t, 0, sc.Lines[0].Available)
			assert.Equal(t, 1, sc.Lines[0].Requested)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 0, testdb.Stock(t, f.db, "x"))
}

func TestReserve_NeverOversells(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "x", "s1", 100, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	reserved := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Reserve(context.Background(), ReserveRequest{
				UserID: "buyer-" + string(rune('a'+i)), Lines: []LineInput{line("x", 1)},
			})
			if err == nil {
				mu.Lock()
				reserved += res.Lines[0].Quantity
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, reserved)
	assert.Equal(t, 0, testdb.Stock(t, f.db, "x"))
}

func TestReserve_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "p1", "s1", 100, 5)
	testdb.Product(t, f.db, "p2", "s2", 200, 1)
	testdb.Product(t, f.db, "gone", "s2", 200, 0)

	_, err := f.svc.Reserve(context.Background(), ReserveRequest{
		UserID: "u1",
		Lines:  []LineInput{line("p1", 2), line("p2", 3), line("gone", 1), line("ghost", 1)},
	})
	var sc *StockConflictError
	require.ErrorAs(t, err, &sc)
	assert.Equal(t, []LineConflict{
		{ProductID: "ghost", Requested: 1, Available: 0, Reason: ConflictNotFound},
		{ProductID: "gone", Requested: 1, Available: 0, Reason: ConflictInactive},
		{ProductID: "p2", Requested: 3, Available: 1, Reason: ConflictInsufficient},
	}, sc.Lines)

	assert.Equal(t, 5, testdb.Stock(t, f.db, "p1"))
	assert.Equal(t, 1, testdb.Stock(t, f.db, "p2"))
	var n int
	require.NoError(t, f.db.Get(&n, `SELECT COUNT(*) FROM orders`))
	assert.Zero(t, n)
}

func TestReserve_SelfPurchaseRejectedBeforeMutation(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "mine", "s1", 100, 3)
	testdb.Product(t, f.db, "theirs", "s2", 100, 3)

	_, err := f.svc.Reserve(context.Background(), ReserveRequest{
		UserID: "s1", Lines: []LineInput{line("theirs", 1), line("mine", 1)},
	})
	assert.ErrorIs(t, err, ErrSelfPurchase)
	assert.Equal(t, 3, testdb.Stock(t, f.db, "theirs"))
	assert.Equal(t, 3, testdb.Stock(t, f.db, "mine"))
}

func TestReserve_InputValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Reserve(ctx, ReserveRequest{UserID: "u1"})
	assert.ErrorIs(t, err, ErrCartEmpty)
	_, err = f.svc.Reserve(ctx, ReserveRequest{UserID: "u1", Lines: []LineInput{line("p1", 0)}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Reserve(ctx, ReserveRequest{Lines: []LineInput{line("p1", 1)}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMergeLines_OrdersByProduct(t *testing.T) {
	ab, err := mergeLines([]LineInput{line("b", 1), line("a", 2), line("b", 1)})
	require.NoError(t, err)
	ba, err := mergeLines([]LineInput{line("a", 2), line("b", 2)})
	require.NoError(t, err)

	assert.Equal(t, []LineInput{line("a", 2), line("b", 2)}, ab)
	assert.Equal(t, ab, ba)
}

func TestReserve_MergesDuplicateLinesAndSnapshotsPrice(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "p1", "s1", 250, 10)

	res, err := f.svc.Reserve(context.Background(), ReserveRequest{
		UserID: "u1",
		Lines:  []LineInput{{ProductID: "p1", Quantity: 2, ExpectedPrice: 199}, line("p1", 1)},
	})
	require.NoError(t, err)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, 3, res.Lines[0].Quantity)
	assert.EqualValues(t, 250, res.Lines[0].Price)
	assert.True(t, res.Lines[0].PriceChanged)
	assert.EqualValues(t, 750, res.Total)
	assert.Equal(t, f.clock.Now().Add(f.svc.window), res.ExpiresAt)
	assert.Equal(t, 7, testdb.Stock(t, f.db, "p1"))

	o := f.order(t, res.OrderID)
	assert.Equal(t, orders.StatusPending, o.Status)
	require.NotNil(t, o.Payment)
	assert.Equal(t, orders.PaymentPending, o.Payment.Status)
	assert.EqualValues(t, 750, o.Payment.Amount)
}

func TestReserve_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "p1", "s1", 100, 10)
	req := ReserveRequest{UserID: "u1", ExternalID: "key-1", Lines: []LineInput{line("p1", 2)}}

	first, err := f.svc.Reserve(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.Reserve(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, first.Idempotent)
	assert.True(t, second.Idempotent)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.Equal(t, 8, testdb.Stock(t, f.db, "p1"))

	// same key, different user: independent
	other, err := f.svc.Reserve(context.Background(), ReserveRequest{UserID: "u2", ExternalID: "key-1", Lines: req.Lines})
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, other.OrderID)
}

func TestCheckout_ReplayAfterPayment(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "p1", "s1", 100, 10)
	ctx := context.Background()
	_, err := (&cart.Store{DB: f.db}).AddLine(ctx, "u1", "p1", 1, cart.ModeAdd)
	require.NoError(t, err)

	first, err := f.svc.Checkout(ctx, "u1", "key-7")
	require.NoError(t, err)
	f.pay(t, "u1", first)

	// cart is empty now, the key still answers
	again, err := f.svc.Checkout(ctx, "u1", "key-7")
	require.NoError(t, err)
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.OrderID, again.OrderID)
	assert.Equal(t, 9, testdb.Stock(t, f.db, "p1"))
}

func TestCheckout_ReadsCartAndLeavesItUntouched(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "p1", "s1", 100, 10)
	carts := &cart.Store{DB: f.db}
	ctx := context.Background()

	_, err := f.svc.Checkout(ctx, "u1", "")
	assert.ErrorIs(t, err, ErrCartEmpty)

	_, err = carts.AddLine(ctx, "u1", "p1", 4, cart.ModeAdd)
	require.NoError(t, err)
	res, err := f.svc.Checkout(ctx, "u1", "")
	require.NoError(t, err)
	assert.EqualValues(t, 400, res.Total)

	lines, err := carts.Lines(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestCheckout_StockConflictLeavesCart(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "p1", "s1", 100, 1)
	carts := &cart.Store{DB: f.db}
	ctx := context.Background()

	_, err := carts.AddLine(ctx, "u1", "p1", 2, cart.ModeAdd)
	require.NoError(t, err)
	_, err = f.svc.Checkout(ctx, "u1", "")
	var sc *StockConflictError
	require.ErrorAs(t, err, &sc)

	lines, err := carts.Lines(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
}

func TestReserve_PriceChangeDoesNotTouchExistingItems(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "p1", "s1", 100, 10)
	res := f.reserve(t, "u1", line("p1", 1))

	_, err := (&catalog.Repo{DB: f.db}).SetPrice(context.Background(), "s1", "p1", 999)
	require.NoError(t, err)

	o := f.order(t, res.OrderID)
	assert.EqualValues(t, 100, o.Items[0].PriceAtPurchase)
	assert.EqualValues(t, 100, o.Total)
}

func TestReserve_EmitsEvent(t *testing.T) {
	f := newFixture(t)
	testdb.Product(t, f.db, "p1", "s1", 100, 10)
	res := f.reserve(t, "u1", line("p1", 1))

	assert.Equal(t, []string{orders.EventOrderReserved}, f.events.types())
	env := f.events.last(t)
	assert.Equal(t, res.OrderID, env.CorrelationID)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, res.OrderID, string(f.events.msgs[0].Key))
}
