package checkout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/campus-marketplace/internal/identity"
	"github.com/ariefcatur/campus-marketplace/internal/orders"
	"github.com/ariefcatur/campus-marketplace/internal/testdb"
)

type recorder struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (r *recorder) Publish(key, value []byte, headers ...kafka.Header) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, kafka.Message{Key: key, Value: value, Headers: headers})
	return true
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, string(m.Headers[0].Value))
	}
	return out
}

func (r *recorder) last(t *testing.T) orders.Envelope {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.msgs)
	var env orders.Envelope
	require.NoError(t, json.Unmarshal(r.msgs[len(r.msgs)-1].Value, &env))
	return env
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc    *Service
	db     *sqlx.DB
	clock  *clock
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testdb.New(t)
	c := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	svc := New(db, nil, rec, &identity.Registry{DB: db}, zap.NewNop(), Options{
		PaymentWindow: 300 * time.Second,
		Now:           c.Now,
	})
	return &fixture{svc: svc, db: db, clock: c, events: rec}
}

func (f *fixture) reserve(t *testing.T, userID string, lines ...LineInput) Reservation {
	t.Helper()
	res, err := f.svc.Reserve(context.Background(), ReserveRequest{UserID: userID, Lines: lines})
	require.NoError(t, err)
	return res
}

func (f *fixture) pay(t *testing.T, userID string, res Reservation) {
	t.Helper()
	_, err := f.svc.SubmitPayment(context.Background(), userID, paymentFor(res))
	require.NoError(t, err)
}

func paymentFor(res Reservation) SubmitPayment {
	return SubmitPayment{
		OrderID: res.OrderID, PaymentID: res.PaymentID, Method: orders.MethodBkash,
		AccountRef: "01700000000", Phone: "01700000000", Address: "Hall 3, Room 214",
	}
}

func (f *fixture) order(t *testing.T, orderID string) orders.Order {
	t.Helper()
	o, err := (&orders.Repo{DB: f.db}).Get(context.Background(), orderID)
	require.NoError(t, err)
	return o
}

func line(productID string, qty int) LineInput { return LineInput{ProductID: productID, Quantity: qty} }
