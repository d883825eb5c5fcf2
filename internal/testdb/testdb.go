// Package testdb provides migrated in-memory databases and seed helpers for package tests.
package testdb

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/campus-marketplace/internal/schema"
	"github.com/ariefcatur/campus-marketplace/internal/sqlite"
)

func New(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, schema.Migrate(context.Background(), db))
	return db
}

func Seller(t *testing.T, db *sqlx.DB, id string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO sellers(id, level, income, created_at) VALUES (?, 0, 0, ?)`, id, time.Now().UTC())
	require.NoError(t, err)
}

func Admin(t *testing.T, db *sqlx.DB, id string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO admins(id, created_at) VALUES (?, ?)`, id, time.Now().UTC())
	require.NoError(t, err)
}

// Product inserts an active listing owned by sellerID, creating the seller if needed.
func Product(t *testing.T, db *sqlx.DB, id, sellerID string, price int64, stock int) {
	t.Helper()
	now := time.Now().UTC()
	_, err := db.Exec(`INSERT INTO sellers(id, level, income, created_at) VALUES (?, 0, 0, ?)
		ON CONFLICT(id) DO NOTHING`, sellerID, now)
	require.NoError(t, err)
	status := "active"
	if stock == 0 {
		status = "out_of_stock"
	}
	_, err = db.Exec(`INSERT INTO products(id, seller_id, name, price, stock, status, manual_hold, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, id, sellerID, "product "+id, price, stock, status, false, now, now)
	require.NoError(t, err)
}

func Stock(t *testing.T, db *sqlx.DB, productID string) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, `SELECT stock FROM products WHERE id = ?`, productID))
	return n
}
