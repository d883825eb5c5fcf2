package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/campus-marketplace/internal/cart"
	"github.com/ariefcatur/campus-marketplace/internal/catalog"
	"github.com/ariefcatur/campus-marketplace/internal/orders"
	"github.com/ariefcatur/campus-marketplace/internal/redisx"
)

type LineInput struct {
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	ExpectedPrice int64  `json:"expected_price"` // display only, never charged
}

type ReserveRequest struct {
	UserID     string
	ExternalID string // optional idempotency key
	Lines      []LineInput
}

type ReservedLine struct {
	ItemID       string `json:"item_id"`
	ProductID    string `json:"product_id"`
	SellerID     string `json:"seller_id"`
	Quantity     int    `json:"quantity"`
	Price        int64  `json:"price"`
	PriceChanged bool   `json:"price_changed,omitempty"`
}

type Reservation struct {
	OrderID    string         `json:"order_id"`
	PaymentID  string         `json:"payment_id"`
	Total      int64          `json:"total"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Lines      []ReservedLine `json:"lines"`
	Idempotent bool           `json:"idempotent"`
}

// Checkout reserves the user's active cart. The cart itself is left as is; it is
// only cleared once payment completes.
func (s *Service) Checkout(ctx context.Context, userID, externalID string) (Reservation, error) {
	lines, err := (&cart.Store{DB: s.db}).Lines(ctx, userID)
	if err != nil {
		return Reservation{}, fmt.Errorf("read cart: %w", err)
	}
	req := ReserveRequest{UserID: userID, ExternalID: externalID}
	for _, l := range lines {
		req.Lines = append(req.Lines, LineInput{ProductID: l.ProductID, Quantity: l.Quantity, ExpectedPrice: l.Price})
	}
	return s.Reserve(ctx, req)
}

// Reserve validates and decrements stock for every line, then creates the order, its
// items and a pending payment, all in one transaction. Either every line is reserved
// or nothing is written.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (Reservation, error) {
	if req.UserID == "" {
		return Reservation{}, fmt.Errorf("%w: user required", ErrInvalidInput)
	}
	// a replay is answered even after the cart was cleared by payment
	if req.ExternalID != "" {
		if res, ok, err := s.existing(ctx, req.UserID, req.ExternalID); err != nil || ok {
			return res, err
		}
	}
	lines, err := mergeLines(req.Lines)
	if err != nil {
		return Reservation{}, err
	}

	res, err := s.reserveTx(ctx, req.UserID, req.ExternalID, lines)
	if err != nil {
		var sc *StockConflictError
		switch {
		case errors.As(err, &sc):
			s.log.Warn("stock conflict", zap.String("user_id", req.UserID), zap.Int("lines", len(sc.Lines)))
			return Reservation{}, err
		case errors.Is(err, ErrSelfPurchase):
			return Reservation{}, err
		case req.ExternalID != "":
			// lost a race on the same idempotency key
			if prev, ok, lookupErr := s.existing(ctx, req.UserID, req.ExternalID); lookupErr == nil && ok {
				return prev, nil
			}
		}
		return Reservation{}, err
	}

	if s.rdb != nil && req.ExternalID != "" {
		if err := s.rdb.SetNX(ctx, redisx.IdemCheckout(req.UserID, req.ExternalID), res.OrderID, redisx.TTLIdempotency).Err(); err != nil {
			s.log.Warn("cache idempotency key", zap.String("order_id", res.OrderID), zap.Error(err))
		}
	}

	items := make([]orders.ItemLine, len(res.Lines))
	for i, l := range res.Lines {
		items[i] = orders.ItemLine{ItemID: l.ItemID, ProductID: l.ProductID, SellerID: l.SellerID, Qty: l.Quantity, Price: l.Price}
	}
	s.emit(orders.EventOrderReserved, res.OrderID, orders.OrderReservedPayload{
		OrderID: res.OrderID, PaymentID: res.PaymentID, UserID: req.UserID,
		Items: items, Total: res.Total, ExpiresAt: res.ExpiresAt,
	})
	s.log.Info("order reserved",
		zap.String("order_id", res.OrderID), zap.String("user_id", req.UserID),
		zap.Int64("total", res.Total), zap.Time("expires_at", res.ExpiresAt))
	return res, nil
}

func mergeLines(in []LineInput) ([]LineInput, error) {
	if len(in) == 0 {
		return nil, ErrCartEmpty
	}
	idx := map[string]int{}
	out := make([]LineInput, 0, len(in))
	for _, l := range in {
		if l.ProductID == "" || l.Quantity < 1 {
			return nil, fmt.Errorf("%w: line %q quantity %d", ErrInvalidInput, l.ProductID, l.Quantity)
		}
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	// fixed row lock order, so two carts sharing products cannot deadlock
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *Service) reserveTx(ctx context.Context, userID, externalID string, lines []LineInput) (Reservation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Reservation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := catalog.GetMany(ctx, tx, ids)
	if err != nil {
		return Reservation{}, fmt.Errorf("read products: %w", err)
	}

	// self-purchase is checked before any row is touched
	for _, l := range lines {
		if p, ok := products[l.ProductID]; ok && p.SellerID == userID {
			return Reservation{}, fmt.Errorf("%w: %s", ErrSelfPurchase, l.ProductID)
		}
	}

	var conflicts []LineConflict
	for _, l := range lines {
		p, ok := products[l.ProductID]
		switch {
		case !ok:
			conflicts = append(conflicts, LineConflict{ProductID: l.ProductID, Requested: l.Quantity, Reason: ConflictNotFound})
			continue
		case p.Status != catalog.StatusActive:
			conflicts = append(conflicts, LineConflict{ProductID: l.ProductID, Requested: l.Quantity, Reason: ConflictInactive})
			continue
		}
		took, err := catalog.Decrement(ctx, tx, l.ProductID, l.Quantity)
		if err != nil {
			return Reservation{}, fmt.Errorf("decrement %s: %w", l.ProductID, err)
		}
		if took {
			continue
		}
		// someone else got there first; report what is left now
		cur, err := catalog.Lock(ctx, tx, l.ProductID)
		if err != nil {
			return Reservation{}, fmt.Errorf("reread %s: %w", l.ProductID, err)
		}
		avail := cur.Stock
		if cur.Status != catalog.StatusActive {
			avail = 0
		}
		conflicts = append(conflicts, LineConflict{ProductID: l.ProductID, Requested: l.Quantity, Available: avail, Reason: ConflictInsufficient})
	}
	if len(conflicts) > 0 {
		return Reservation{}, &StockConflictError{Lines: conflicts} // rollback via defer
	}

	now := s.now()
	res := Reservation{
		OrderID:   uuid.NewString(),
		PaymentID: uuid.NewString(),
		ExpiresAt: now.Add(s.window),
	}
	for _, l := range lines {
		p := products[l.ProductID]
		res.Total += p.Price * int64(l.Quantity)
		res.Lines = append(res.Lines, ReservedLine{
			ItemID: uuid.NewString(), ProductID: p.ID, SellerID: p.SellerID, Quantity: l.Quantity,
			Price: p.Price, PriceChanged: l.ExpectedPrice != 0 && l.ExpectedPrice != p.Price,
		})
	}

	var ext any
	if externalID != "" {
		ext = externalID
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO orders(id, user_id, external_id, status, total, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		res.OrderID, userID, ext, orders.StatusPending, res.Total, now, now); err != nil {
		return Reservation{}, fmt.Errorf("insert order: %w", err)
	}
	for _, l := range res.Lines {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO order_items(id, order_id, product_id, seller_id, quantity, price_at_purchase, delivery_status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			l.ItemID, res.OrderID, l.ProductID, l.SellerID, l.Quantity, l.Price, orders.ItemPending, now); err != nil {
			return Reservation{}, fmt.Errorf("insert item: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO payments(id, order_id, status, amount, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		res.PaymentID, res.OrderID, orders.PaymentPending, res.Total, res.ExpiresAt, now, now); err != nil {
		return Reservation{}, fmt.Errorf("insert payment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// existing returns the reservation previously made under (userID, externalID).
func (s *Service) existing(ctx context.Context, userID, externalID string) (Reservation, bool, error) {
	var orderID string
	if s.rdb != nil {
		v, err := s.rdb.Get(ctx, redisx.IdemCheckout(userID, externalID)).Result()
		switch {
		case err == nil:
			orderID = v
		case !errors.Is(err, redis.Nil):
			s.log.Warn("idempotency cache read", zap.Error(err))
		}
	}
	if orderID == "" {
		err := s.db.GetContext(ctx, &orderID, s.db.Rebind(`
			SELECT id FROM orders WHERE user_id = ? AND external_id = ?`), userID, externalID)
		if errors.Is(err, sql.ErrNoRows) {
			return Reservation{}, false, nil
		}
		if err != nil {
			return Reservation{}, false, err
		}
	}
	res, err := loadReservation(ctx, s.db, orderID)
	if errors.Is(err, orders.ErrNotFound) {
		return Reservation{}, false, nil
	}
	if err != nil {
		return Reservation{}, false, err
	}
	res.Idempotent = true
	return res, true, nil
}

func loadReservation(ctx context.Context, q sqlx.ExtContext, orderID string) (Reservation, error) {
	o, err := orders.LoadOrder(ctx, q, orderID)
	if err != nil {
		return Reservation{}, err
	}
	pay, err := orders.LoadPayment(ctx, q, orderID)
	if err != nil {
		return Reservation{}, err
	}
	items, err := orders.LoadItems(ctx, q, orderID)
	if err != nil {
		return Reservation{}, err
	}
	res := Reservation{OrderID: o.ID, PaymentID: pay.ID, Total: o.Total, ExpiresAt: pay.ExpiresAt}
	for _, it := range items {
		res.Lines = append(res.Lines, ReservedLine{
			ItemID: it.ID, ProductID: it.ProductID, SellerID: it.SellerID, Quantity: it.Quantity, Price: it.PriceAtPurchase,
		})
	}
	return res, nil
}
