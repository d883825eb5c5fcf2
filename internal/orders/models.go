package orders

import "time"

type Order struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	ExternalID *string   `db:"external_id" json:"external_id,omitempty"`
	Status     Status    `db:"status" json:"status"` // lihat status.go
	Total      int64     `db:"total" json:"total"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`

	Items    []Item         `db:"-" json:"items"`
	Payment  *Payment       `db:"-" json:"payment,omitempty"`
	Delivery *Delivery      `db:"-" json:"delivery,omitempty"`
	Refund   *RefundRequest `db:"-" json:"refund,omitempty"`
}

// Item is one purchased line. PriceAtPurchase and SellerID are snapshots taken at reservation.
type Item struct {
	ID              string     `db:"id" json:"id"`
	OrderID         string     `db:"order_id" json:"order_id"`
	ProductID       string     `db:"product_id" json:"product_id"`
	SellerID        string     `db:"seller_id" json:"seller_id"`
	Quantity        int        `db:"quantity" json:"quantity"`
	PriceAtPurchase int64      `db:"price_at_purchase" json:"price_at_purchase"`
	DeliveryStatus  ItemStatus `db:"delivery_status" json:"delivery_status"`
	ShippedAt       *time.Time `db:"shipped_at" json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	RestockedAt     *time.Time `db:"restocked_at" json:"-"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

func (it Item) Subtotal() int64 { return it.PriceAtPurchase * int64(it.Quantity) }

type Payment struct {
	ID          string        `db:"id" json:"id"`
	OrderID     string        `db:"order_id" json:"order_id"`
	Status      PaymentStatus `db:"status" json:"status"`
	Method      string        `db:"method" json:"method,omitempty"`
	AccountRef  string        `db:"account_ref" json:"account_ref,omitempty"`
	Amount      int64         `db:"amount" json:"amount"`
	ExpiresAt   time.Time     `db:"expires_at" json:"expires_at"`
	CompletedAt *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

type Delivery struct {
	ID             string    `db:"id" json:"id"`
	OrderID        string    `db:"order_id" json:"order_id"`
	Address        string    `db:"address" json:"address"`
	Phone          string    `db:"phone" json:"phone"`
	DeliveryStatus Status    `db:"delivery_status" json:"delivery_status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

type RefundRequest struct {
	ID         string       `db:"id" json:"id"`
	OrderID    string       `db:"order_id" json:"order_id"`
	Status     RefundStatus `db:"status" json:"status"`
	Reason     string       `db:"reason" json:"reason"`
	CreatedAt  time.Time    `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time   `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy *string      `db:"resolved_by" json:"resolved_by,omitempty"`
}

// SellerItem is a line item as its seller sees it.
type SellerItem struct {
	Item
	BuyerID       string        `db:"buyer_id" json:"buyer_id"`
	ProductName   string        `db:"product_name" json:"product_name"`
	OrderStatus   Status        `db:"order_status" json:"order_status"`
	PaymentStatus PaymentStatus `db:"payment_status" json:"payment_status"`
}

// RefundView is a refund request with the order context an admin needs to decide it.
type RefundView struct {
	RefundRequest
	UserID     string `db:"user_id" json:"user_id"`
	OrderTotal int64  `db:"order_total" json:"order_total"`
}
