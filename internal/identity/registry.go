package identity

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// BannedLevel marks a seller who may no longer fulfil orders.
const BannedLevel = -1

type Roles struct {
	IsSeller    bool `json:"is_seller"`
	IsAdmin     bool `json:"is_admin"`
	SellerLevel int  `json:"seller_level"`
}

func (r Roles) SellerBanned() bool { return r.IsSeller && r.SellerLevel <= BannedLevel }

// Registry answers membership checks against the sellers and admins tables.
type Registry struct{ DB *sqlx.DB }

func (g *Registry) Roles(ctx context.Context, userID string) (Roles, error) {
	var out Roles
	var level int
	err := g.DB.GetContext(ctx, &level, g.DB.Rebind(`SELECT level FROM sellers WHERE id = ?`), userID)
	switch {
	case err == nil:
		out.IsSeller, out.SellerLevel = true, level
	case !errors.Is(err, sql.ErrNoRows):
		return Roles{}, err
	}
	var n int
	if err := g.DB.GetContext(ctx, &n, g.DB.Rebind(`SELECT COUNT(*) FROM admins WHERE id = ?`), userID); err != nil {
		return Roles{}, err
	}
	out.IsAdmin = n > 0
	return out, nil
}
