// Package ledger credits seller income when their items are delivered. It consumes
// delivery events, so it runs as its own consumer group beside the API.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/campus-marketplace/internal/kafka"
	"github.com/ariefcatur/campus-marketplace/internal/orders"
	"github.com/ariefcatur/campus-marketplace/internal/redisx"
)

type Service struct {
	DB          *sqlx.DB
	Redis       *redis.Client // optional dedup fast path
	Log         *zap.Logger
	ServiceName string
}

// HandleOrderEvent dipasang sebagai handler consumer. Only delivered items matter.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.Header(m.Headers, orders.HeaderEventType); t != "" && t != orders.EventItemDeliveryAdvanced {
		return nil
	}
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType != orders.EventItemDeliveryAdvanced {
		return nil
	} // ignore

	// dedup via Redis (pakai event_id)
	dkey := redisx.Dedup(s.ServiceName, env.EventID)
	if s.Redis != nil {
		if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.DeliveryAdvancedPayload](env.Payload)
	if err != nil {
		return err
	}
	if p.To != orders.ItemDelivered {
		return nil
	}
	credited, err := s.Credit(ctx, p.Item.ItemID, p.Item.SellerID, p.Item.Price*int64(p.Item.Qty))
	if err != nil {
		return err
	}
	if s.Redis != nil {
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}
	if credited {
		s.log().Info("seller credited",
			zap.String("seller_id", p.Item.SellerID), zap.String("item_id", p.Item.ItemID),
			zap.Int64("amount", p.Item.Price*int64(p.Item.Qty)))
	}
	return nil
}

// Credit adds amount to the seller's income once per order item. It reports false
// when the item was already credited.
func (s *Service) Credit(ctx context.Context, itemID, sellerID string, amount int64) (bool, error) {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	r, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO seller_credits(order_item_id, seller_id, amount, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (order_item_id) DO NOTHING`), itemID, sellerID, amount, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record credit: %w", err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE sellers SET income = income + ? WHERE id = ?`), amount, sellerID); err != nil {
		return false, fmt.Errorf("add income: %w", err)
	}
	return true, tx.Commit()
}

func (s *Service) Income(ctx context.Context, sellerID string) (int64, error) {
	var v int64
	err := s.DB.GetContext(ctx, &v, s.DB.Rebind(`SELECT income FROM sellers WHERE id = ?`), sellerID)
	return v, err
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
