// Package cart keeps each user's single active cart. A cart is a wishlist: nothing in it
// holds stock until checkout reserves it.
package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Mode string

const (
	ModeAdd      Mode = "add"
	ModeSubtract Mode = "subtract"
	ModeSet      Mode = "set"
)

var (
	ErrUnknownMode     = errors.New("unknown cart mode")
	ErrProductNotFound = errors.New("product not found")
)

// Line is a cart entry joined with the live listing for display only.
type Line struct {
	ProductID string `db:"product_id" json:"product_id"`
	Quantity  int    `db:"quantity" json:"quantity"`
	Name      string `db:"name" json:"name"`
	Price     int64  `db:"price" json:"price"`
	Stock     int    `db:"stock" json:"stock"`
	Status    string `db:"status" json:"status"`
	SellerID  string `db:"seller_id" json:"seller_id"`
}

type Store struct{ DB *sqlx.DB }

// AddLine applies delta to the user's line for productID. Each mode is a single
// statement, so rapid repeated calls never lose an increment. A line whose quantity
// would drop to zero or below is removed.
func (s *Store) AddLine(ctx context.Context, userID, productID string, delta int, mode Mode) (int, error) {
	switch mode {
	case ModeAdd, ModeSubtract:
		if mode == ModeSubtract {
			delta = -delta
		}
	case ModeSet:
	default:
		return 0, ErrUnknownMode
	}

	var exists int
	err := s.DB.GetContext(ctx, &exists, s.DB.Rebind(`SELECT 1 FROM products WHERE id = ?`), productID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	if err != nil {
		return 0, err
	}

	cartID, err := s.ensureCart(ctx, userID)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()

	switch {
	case mode == ModeSet && delta <= 0:
		err = s.deleteLine(ctx, cartID, productID)
	case mode == ModeSet:
		_, err = s.DB.ExecContext(ctx, s.DB.Rebind(`
			INSERT INTO cart_items(cart_id, product_id, quantity, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = excluded.quantity, updated_at = excluded.updated_at`),
			cartID, productID, delta, now)
	case delta > 0:
		_, err = s.DB.ExecContext(ctx, s.DB.Rebind(`
			INSERT INTO cart_items(cart_id, product_id, quantity, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_items.quantity + excluded.quantity,
			    updated_at = excluded.updated_at`),
			cartID, productID, delta, now)
	case delta < 0:
		var res sql.Result
		res, err = s.DB.ExecContext(ctx, s.DB.Rebind(`
			UPDATE cart_items SET quantity = quantity - ?, updated_at = ?
			WHERE cart_id = ? AND product_id = ? AND quantity > ?`),
			-delta, now, cartID, productID, -delta)
		if err == nil {
			if n, _ := res.RowsAffected(); n == 0 {
				err = s.deleteLine(ctx, cartID, productID)
			}
		}
	}
	if err != nil {
		return 0, fmt.Errorf("cart line: %w", err)
	}
	return s.quantity(ctx, cartID, productID)
}

func (s *Store) ensureCart(ctx context.Context, userID string) (string, error) {
	now := time.Now().UTC()
	_, err := s.DB.ExecContext(ctx, s.DB.Rebind(`
		INSERT INTO carts(id, user_id, status, created_at, updated_at) VALUES (?, ?, 'active', ?, ?)
		ON CONFLICT (user_id) WHERE status = 'active' DO NOTHING`),
		uuid.NewString(), userID, now, now)
	if err != nil {
		return "", fmt.Errorf("ensure cart: %w", err)
	}
	var id string
	err = s.DB.GetContext(ctx, &id, s.DB.Rebind(`SELECT id FROM carts WHERE user_id = ? AND status = 'active'`), userID)
	return id, err
}

func (s *Store) deleteLine(ctx context.Context, cartID, productID string) error {
	_, err := s.DB.ExecContext(ctx, s.DB.Rebind(`DELETE FROM cart_items WHERE cart_id = ? AND product_id = ?`),
		cartID, productID)
	return err
}

func (s *Store) quantity(ctx context.Context, cartID, productID string) (int, error) {
	var q int
	err := s.DB.GetContext(ctx, &q, s.DB.Rebind(`SELECT quantity FROM cart_items WHERE cart_id = ? AND product_id = ?`),
		cartID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return q, err
}

// Lines returns the active cart's contents; an absent cart is an empty one.
func (s *Store) Lines(ctx context.Context, userID string) ([]Line, error) {
	out := []Line{}
	err := s.DB.SelectContext(ctx, &out, s.DB.Rebind(`
		SELECT ci.product_id, ci.quantity, p.name, p.price, p.stock, p.status, p.seller_id
		FROM carts c
		JOIN cart_items ci ON ci.cart_id = c.id
		JOIN products p ON p.id = ci.product_id
		WHERE c.user_id = ? AND c.status = 'active'
		ORDER BY ci.product_id`), userID)
	return out, err
}

// Complete empties and closes the user's active cart through q, so it commits or
// rolls back with the caller's transaction.
func Complete(ctx context.Context, q sqlx.ExtContext, userID string) error {
	if _, err := q.ExecContext(ctx, q.Rebind(`
		DELETE FROM cart_items WHERE cart_id IN (SELECT id FROM carts WHERE user_id = ? AND status = 'active')`),
		userID); err != nil {
		return fmt.Errorf("clear cart items: %w", err)
	}
	if _, err := q.ExecContext(ctx, q.Rebind(`
		UPDATE carts SET status = 'completed', updated_at = ? WHERE user_id = ? AND status = 'active'`),
		time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("complete cart: %w", err)
	}
	return nil
}
