// Package checkout turns carts into orders: it reserves stock, runs the payment
// window, voids orders that never pay, and moves paid items through delivery.
package checkout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/campus-marketplace/internal/identity"
	"github.com/ariefcatur/campus-marketplace/internal/orders"
)

// Publisher is satisfied by the async kafka producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafka.Header) bool
}

// RoleSource resolves seller/admin membership.
type RoleSource interface {
	Roles(ctx context.Context, userID string) (identity.Roles, error)
}

type Options struct {
	PaymentWindow time.Duration
	Producer      string
	Now           func() time.Time
}

type Service struct {
	db     *sqlx.DB
	rdb    *redis.Client // optional
	events Publisher     // optional
	roles  RoleSource
	log    *zap.Logger

	window   time.Duration
	producer string
	clock    func() time.Time
}

func New(db *sqlx.DB, rdb *redis.Client, events Publisher, roles RoleSource, log *zap.Logger, opt Options) *Service {
	if opt.PaymentWindow <= 0 {
		opt.PaymentWindow = 300 * time.Second
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Producer == "" {
		opt.Producer = "marketplace-api"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		db: db, rdb: rdb, events: events, roles: roles, log: log,
		window: opt.PaymentWindow, producer: opt.Producer, clock: opt.Now,
	}
}

func (s *Service) now() time.Time { return s.clock().UTC() }

func (s *Service) emit(eventType, orderID string, payload any) {
	if s.events == nil {
		return
	}
	env, err := orders.NewEnvelope(eventType, s.producer, orderID, s.now(), payload)
	if err != nil {
		s.log.Error("build event", zap.String("event_type", eventType), zap.String("order_id", orderID), zap.Error(err))
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		s.log.Error("marshal event", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if !s.events.Publish(orders.PartitionKey(orderID), b,
		kafka.Header{Key: orders.HeaderEventType, Value: []byte(eventType)}) {
		s.log.Warn("event dropped", zap.String("event_type", eventType), zap.String("order_id", orderID))
	}
}

func itemLine(it orders.Item) orders.ItemLine {
	return orders.ItemLine{
		ItemID: it.ID, ProductID: it.ProductID, SellerID: it.SellerID,
		Qty: it.Quantity, Price: it.PriceAtPurchase,
	}
}
