package catalog

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const productColumns = `id, seller_id, name, price, stock, status, manual_hold, created_at, updated_at`

type Repo struct{ DB *sqlx.DB }

func now() time.Time { return time.Now().UTC() }

// Create registers a new listing. Listings wait in pending until an admin approves them.
func (r *Repo) Create(ctx context.Context, sellerID, name string, price int64, stock int) (Product, error) {
	name = strings.TrimSpace(name)
	if sellerID == "" || name == "" || price < 0 || stock < 0 {
		return Product{}, ErrInvalidInput
	}
	t := now()
	p := Product{
		ID: uuid.NewString(), SellerID: sellerID, Name: name, Price: price, Stock: stock,
		Status: StatusPending, CreatedAt: t, UpdatedAt: t,
	}
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`
		INSERT INTO products(`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.SellerID, p.Name, p.Price, p.Stock, p.Status, p.ManualHold, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

func (r *Repo) Get(ctx context.Context, id string) (Product, error) {
	return get(ctx, r.DB, id)
}

func get(ctx context.Context, q sqlx.ExtContext, id string) (Product, error) {
	var p Product
	err := sqlx.GetContext(ctx, q, &p, q.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, ErrNotFound
	}
	return p, err
}

// Lock re-reads one row inside q, used to report availability after a failed Decrement.
func Lock(ctx context.Context, q sqlx.ExtContext, id string) (Product, error) {
	return get(ctx, q, id)
}

// GetMany reads the authoritative rows for ids through q (a *sqlx.Tx during reservation).
func GetMany(ctx context.Context, q sqlx.ExtContext, ids []string) (map[string]Product, error) {
	out := make(map[string]Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []Product
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, p := range rows {
		out[p.ID] = p
	}
	return out, nil
}

func (r *Repo) ListBySeller(ctx context.Context, sellerID string) ([]Product, error) {
	out := []Product{}
	err := r.DB.SelectContext(ctx, &out, r.DB.Rebind(`
		SELECT `+productColumns+` FROM products WHERE seller_id = ? ORDER BY created_at DESC`), sellerID)
	return out, err
}

// Approve moves a pending listing live.
func (r *Repo) Approve(ctx context.Context, id string) (Product, error) {
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`
		UPDATE products
		SET status = CASE WHEN stock > 0 THEN 'active' ELSE 'out_of_stock' END, updated_at = ?
		WHERE id = ? AND status = 'pending'`), now(), id)
	if err != nil {
		return Product{}, err
	}
	return r.Get(ctx, id)
}

// SetAvailability is the seller's manual switch. Turning a listing off is sticky:
// restocks will not reactivate it until the seller turns it back on.
func (r *Repo) SetAvailability(ctx context.Context, sellerID, id string, active bool) (Product, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if p.SellerID != sellerID {
		return Product{}, ErrNotOwner
	}
	if p.Status == StatusPending {
		return p, nil
	}
	q := `UPDATE products SET manual_hold = ?, status = 'out_of_stock', updated_at = ? WHERE id = ?`
	if active {
		q = `UPDATE products SET manual_hold = ?,
			status = CASE WHEN stock > 0 THEN 'active' ELSE 'out_of_stock' END, updated_at = ? WHERE id = ?`
	}
	if _, err := r.DB.ExecContext(ctx, r.DB.Rebind(q), !active, now(), id); err != nil {
		return Product{}, err
	}
	return r.Get(ctx, id)
}

// SetPrice changes the listing price. Existing order items keep their snapshot.
func (r *Repo) SetPrice(ctx context.Context, sellerID, id string, price int64) (Product, error) {
	if price < 0 {
		return Product{}, ErrInvalidInput
	}
	p, err := r.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if p.SellerID != sellerID {
		return Product{}, ErrNotOwner
	}
	if _, err := r.DB.ExecContext(ctx, r.DB.Rebind(`UPDATE products SET price = ?, updated_at = ? WHERE id = ?`),
		price, now(), id); err != nil {
		return Product{}, err
	}
	return r.Get(ctx, id)
}

// Decrement takes qty units if and only if the listing is active and has them.
// The check and the write are one statement, so concurrent callers serialize on the row.
func Decrement(ctx context.Context, q sqlx.ExtContext, productID string, qty int) (bool, error) {
	res, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE products
		SET stock = stock - ?,
		    status = CASE WHEN stock - ? = 0 THEN 'out_of_stock' ELSE status END,
		    updated_at = ?
		WHERE id = ? AND status = 'active' AND stock >= ?`),
		qty, qty, now(), productID, qty)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Restock returns qty units. An automatically exhausted listing comes back to active;
// a manually held one stays off.
func Restock(ctx context.Context, q sqlx.ExtContext, productID string, qty int) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE products
		SET stock = stock + ?,
		    status = CASE WHEN status = 'out_of_stock' AND NOT manual_hold THEN 'active' ELSE status END,
		    updated_at = ?
		WHERE id = ?`),
		qty, now(), productID)
	return err
}
