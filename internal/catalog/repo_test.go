package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/campus-marketplace/internal/testdb"
)

func TestCreate_StartsPendingUntilApproved(t *testing.T) {
	db := testdb.New(t)
	testdb.Seller(t, db, "s1")
	r := &Repo{DB: db}
	ctx := context.Background()

	p, err := r.Create(ctx, "s1", "  desk lamp ", 1200, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, "desk lamp", p.Name)

	ok, err := Decrement(ctx, db, p.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok, "pending listings are not purchasable")

	p, err = r.Approve(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, p.Status)
}

func TestCreate_RejectsBadInput(t *testing.T) {
	r := &Repo{DB: testdb.New(t)}
	_, err := r.Create(context.Background(), "s1", "", 10, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = r.Create(context.Background(), "s1", "x", -1, 1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDecrement_ExactStockFlipsOutOfStock(t *testing.T) {
	db := testdb.New(t)
	testdb.Product(t, db, "p1", "s1", 500, 2)
	ctx := context.Background()

	ok, err := Decrement(ctx, db, "p1", 2)
	require.NoError(t, err)
	require.True(t, ok)

	p, err := (&Repo{DB: db}).Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
	assert.Equal(t, StatusOutOfStock, p.Status)

	ok, err = Decrement(ctx, db, "p1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecrement_InsufficientLeavesRowUntouched(t *testing.T) {
	db := testdb.New(t)
	testdb.Product(t, db, "p1", "s1", 500, 1)

	ok, err := Decrement(context.Background(), db, "p1", 2)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, testdb.Stock(t, db, "p1"))
}

func TestRestock_ReactivatesUnlessManuallyHeld(t *testing.T) {
	db := testdb.New(t)
	testdb.Product(t, db, "auto", "s1", 100, 1)
	testdb.Product(t, db, "held", "s1", 100, 1)
	r := &Repo{DB: db}
	ctx := context.Background()

	for _, id := range []string{"auto", "held"} {
		ok, err := Decrement(ctx, db, id, 1)
		require.NoError(t, err)
		require.True(t, ok)
	}
	_, err := r.SetAvailability(ctx, "s1", "held", false)
	require.NoError(t, err)

	require.NoError(t, Restock(ctx, db, "auto", 1))
	require.NoError(t, Restock(ctx, db, "held", 1))

	auto, err := r.Get(ctx, "auto")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, auto.Status)
	assert.Equal(t, 1, auto.Stock)

	held, err := r.Get(ctx, "held")
	require.NoError(t, err)
	assert.Equal(t, StatusOutOfStock, held.Status)
	assert.Equal(t, 1, held.Stock)

	held, err = r.SetAvailability(ctx, "s1", "held", true)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, held.Status)
	assert.False(t, held.ManualHold)
}

func TestSetAvailability_OtherSellerDenied(t *testing.T) {
	db := testdb.New(t)
	testdb.Product(t, db, "p1", "s1", 100, 1)

	_, err := (&Repo{DB: db}).SetAvailability(context.Background(), "s2", "p1", false)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestSetPrice(t *testing.T) {
	db := testdb.New(t)
	testdb.Product(t, db, "p1", "s1", 100, 1)
	r := &Repo{DB: db}

	p, err := r.SetPrice(context.Background(), "s1", "p1", 250)
	require.NoError(t, err)
	assert.EqualValues(t, 250, p.Price)

	_, err = r.SetPrice(context.Background(), "s1", "missing", 250)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetMany(t *testing.T) {
	db := testdb.New(t)
	testdb.Product(t, db, "p1", "s1", 100, 1)
	testdb.Product(t, db, "p2", "s2", 200, 1)

	got, err := GetMany(context.Background(), db, []string{"p1", "p2", "nope"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.EqualValues(t, 200, got["p2"].Price)
}
