package catalog

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusOutOfStock Status = "out_of_stock"
)

var (
	ErrNotFound     = errors.New("product not found")
	ErrNotOwner     = errors.New("product belongs to another seller")
	ErrInvalidInput = errors.New("invalid product input")
)

// Product is a listing and its stock counter. Price is in minor currency units.
type Product struct {
	ID         string    `db:"id" json:"id"`
	SellerID   string    `db:"seller_id" json:"seller_id"`
	Name       string    `db:"name" json:"name"`
	Price      int64     `db:"price" json:"price"`
	Stock      int       `db:"stock" json:"stock"`
	Status     Status    `db:"status" json:"status"`
	ManualHold bool      `db:"manual_hold" json:"manual_hold"` // seller switched the listing off
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}
