package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotency checkout: idem:checkout:{user_id}:{idempotency_key} -> order_id
	KeyIdemCheckout = "idem:checkout:%s:%s"

	// Lock submit payment: lock:payment:{order_id}, collapses double submits
	KeyPaymentLock = "lock:payment:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLPaymentLock = 30 * time.Second
	TTLDedup       = 48 * time.Hour
)

func IdemCheckout(userID, key string) string { return fmt.Sprintf(KeyIdemCheckout, userID, key) }
func PaymentLock(orderID string) string      { return fmt.Sprintf(KeyPaymentLock, orderID) }
func Dedup(service, id string) string        { return fmt.Sprintf(KeyDedup, service, id) }
