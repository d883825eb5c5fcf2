package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderReserved        = "marketplace.order.reserved"
	EventPaymentCompleted     = "marketplace.payment.completed"
	EventOrderExpired         = "marketplace.order.expired"
	EventOrderCancelled       = "marketplace.order.cancelled"
	EventRefundRequested      = "marketplace.refund.requested"
	EventRefundResolved       = "marketplace.refund.resolved"
	EventItemDeliveryAdvanced = "marketplace.delivery.advanced"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, orderID string, at time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       b,
	}, nil
}

// ---- payloads ----

type ItemLine struct {
	ItemID    string `json:"item_id"`
	ProductID string `json:"product_id"`
	SellerID  string `json:"seller_id"`
	Qty       int    `json:"qty"`
	Price     int64  `json:"price"`
}

type OrderReservedPayload struct {
	OrderID   string     `json:"order_id"`
	PaymentID string     `json:"payment_id"`
	UserID    string     `json:"user_id"`
	Items     []ItemLine `json:"items"`
	Total     int64      `json:"total"`
	ExpiresAt time.Time  `json:"expires_at"`
}

type PaymentCompletedPayload struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Method    string `json:"method"`
	Amount    int64  `json:"amount"`
}

// OrderVoidedPayload is shared by expiry and cancellation.
type OrderVoidedPayload struct {
	OrderID   string     `json:"order_id"`
	Reason    string     `json:"reason"`
	Restocked []ItemLine `json:"restocked,omitempty"`
}

type RefundPayload struct {
	RefundID string `json:"refund_id"`
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	AdminID  string `json:"admin_id,omitempty"`
}

type DeliveryAdvancedPayload struct {
	OrderID     string     `json:"order_id"`
	Item        ItemLine   `json:"item"`
	From        ItemStatus `json:"from"`
	To          ItemStatus `json:"to"`
	OrderStatus Status     `json:"order_status"`
}
