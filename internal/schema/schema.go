package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ddl is shared by both backends; {{ts}} is replaced with the dialect's timestamp type.
const ddl = `
CREATE TABLE IF NOT EXISTS sellers(
  id         TEXT PRIMARY KEY,
  level      INTEGER NOT NULL DEFAULT 0,
  income     BIGINT NOT NULL DEFAULT 0,
  created_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS admins(
  id         TEXT PRIMARY KEY,
  created_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS products(
  id          TEXT PRIMARY KEY,
  seller_id   TEXT NOT NULL REFERENCES sellers(id),
  name        TEXT NOT NULL,
  price       BIGINT NOT NULL CHECK (price >= 0),
  stock       INTEGER NOT NULL CHECK (stock >= 0),
  status      TEXT NOT NULL CHECK (status IN ('pending','active','out_of_stock')),
  manual_hold BOOLEAN NOT NULL DEFAULT FALSE,
  created_at  {{ts}} NOT NULL,
  updated_at  {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_seller ON products(seller_id);

CREATE TABLE IF NOT EXISTS carts(
  id         TEXT PRIMARY KEY,
  user_id    TEXT NOT NULL,
  status     TEXT NOT NULL CHECK (status IN ('active','completed')),
  created_at {{ts}} NOT NULL,
  updated_at {{ts}} NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_carts_active_user ON carts(user_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS cart_items(
  cart_id    TEXT NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
  product_id TEXT NOT NULL REFERENCES products(id),
  quantity   INTEGER NOT NULL CHECK (quantity >= 1),
  updated_at {{ts}} NOT NULL,
  PRIMARY KEY (cart_id, product_id)
);

CREATE TABLE IF NOT EXISTS orders(
  id          TEXT PRIMARY KEY,
  user_id     TEXT NOT NULL,
  external_id TEXT,
  status      TEXT NOT NULL,
  total       BIGINT NOT NULL,
  created_at  {{ts}} NOT NULL,
  updated_at  {{ts}} NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_orders_user_external ON orders(user_id, external_id);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);

CREATE TABLE IF NOT EXISTS order_items(
  id                TEXT PRIMARY KEY,
  order_id          TEXT NOT NULL REFERENCES orders(id),
  product_id        TEXT NOT NULL REFERENCES products(id),
  seller_id         TEXT NOT NULL,
  quantity          INTEGER NOT NULL CHECK (quantity >= 1),
  price_at_purchase BIGINT NOT NULL,
  delivery_status   TEXT NOT NULL CHECK (delivery_status IN ('pending','on_the_way','delivered','cancelled')),
  shipped_at        {{ts}},
  delivered_at      {{ts}},
  restocked_at      {{ts}},
  updated_at        {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
CREATE INDEX IF NOT EXISTS idx_order_items_seller ON order_items(seller_id);

CREATE TABLE IF NOT EXISTS payments(
  id           TEXT PRIMARY KEY,
  order_id     TEXT NOT NULL UNIQUE REFERENCES orders(id),
  status       TEXT NOT NULL CHECK (status IN ('pending','completed','failed','refunded')),
  method       TEXT NOT NULL DEFAULT '',
  account_ref  TEXT NOT NULL DEFAULT '',
  amount       BIGINT NOT NULL,
  expires_at   {{ts}} NOT NULL,
  completed_at {{ts}},
  created_at   {{ts}} NOT NULL,
  updated_at   {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payments_pending_expiry ON payments(expires_at) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS deliveries(
  id              TEXT PRIMARY KEY,
  order_id        TEXT NOT NULL UNIQUE REFERENCES orders(id),
  address         TEXT NOT NULL,
  phone           TEXT NOT NULL,
  delivery_status TEXT NOT NULL,
  created_at      {{ts}} NOT NULL,
  updated_at      {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS refund_requests(
  id          TEXT PRIMARY KEY,
  order_id    TEXT NOT NULL REFERENCES orders(id),
  status      TEXT NOT NULL CHECK (status IN ('pending','approved','rejected')),
  reason      TEXT NOT NULL DEFAULT '',
  created_at  {{ts}} NOT NULL,
  resolved_at {{ts}},
  resolved_by TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_refunds_active_order ON refund_requests(order_id) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS seller_credits(
  order_item_id TEXT PRIMARY KEY,
  seller_id     TEXT NOT NULL REFERENCES sellers(id),
  amount        BIGINT NOT NULL,
  created_at    {{ts}} NOT NULL
)
`

// Migrate creates every table idempotently for the handle's driver.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	ts := "TIMESTAMPTZ"
	if db.DriverName() == "sqlite" {
		ts = "DATETIME"
	}
	for _, stmt := range strings.Split(strings.ReplaceAll(ddl, "{{ts}}", ts), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
