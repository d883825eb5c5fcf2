package orders

// Status is the aggregate order status, always derived from items, payment and refunds.
type Status string

const (
	StatusPending            Status = "pending"
	StatusConfirmed          Status = "confirmed"
	StatusPartiallyDelivered Status = "partially_delivered"
	StatusDelivered          Status = "delivered"
	StatusCancelled          Status = "cancelled"
	StatusRefunded           Status = "refunded"
)

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemOnTheWay  ItemStatus = "on_the_way"
	ItemDelivered ItemStatus = "delivered"
	ItemCancelled ItemStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

type RefundStatus string

const (
	RefundPending  RefundStatus = "pending"
	RefundApproved RefundStatus = "approved"
	RefundRejected RefundStatus = "rejected"
)

type Method string

const (
	MethodBkash      Method = "bkash"
	MethodNagad      Method = "nagad"
	MethodDebitCard  Method = "debit_card"
	MethodCreditCard Method = "credit_card"
)

func (m Method) Valid() bool {
	switch m {
	case MethodBkash, MethodNagad, MethodDebitCard, MethodCreditCard:
		return true
	}
	return false
}

// Item delivery only moves forward.
var validNext = map[ItemStatus]map[ItemStatus]bool{
	ItemPending:   {ItemOnTheWay: true, ItemCancelled: true},
	ItemOnTheWay:  {ItemDelivered: true, ItemCancelled: true},
	ItemDelivered: {},
	ItemCancelled: {},
}

func CanTransition(from, to ItemStatus) bool {
	return validNext[from][to]
}

// Shipped reports whether the item has left the seller.
func (s ItemStatus) Shipped() bool { return s == ItemOnTheWay || s == ItemDelivered }

// DeriveStatus computes the aggregate order status. refund is the most significant
// refund outcome recorded for the order, or "" if none.
func DeriveStatus(items []ItemStatus, payment PaymentStatus, refund RefundStatus) Status {
	switch {
	case payment == PaymentRefunded || refund == RefundApproved:
		return StatusRefunded
	case payment == PaymentPending:
		return StatusPending
	case payment == PaymentFailed:
		return StatusCancelled
	}

	var live, delivered int
	for _, s := range items {
		switch s {
		case ItemCancelled:
			continue
		case ItemDelivered:
			delivered++
		}
		live++
	}
	switch {
	case live == 0:
		return StatusCancelled
	case delivered == live:
		return StatusDelivered
	case delivered > 0:
		return StatusPartiallyDelivered
	default:
		return StatusConfirmed
	}
}
