package orders

// All order events share one topic so consumers see them in per-order order.
const Topic = "marketplace.orders"

// HeaderEventType carries the envelope's event_type for consumers that filter before decoding.
const HeaderEventType = "x-event-type"

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
