package domain

import "time"

// OrderIDRecord is one row of the order_ids journal table: the ordered list
// of exchange order ids that have ever served a transaction's Delayed step,
// used by the crash-recovery trade scan (spec §4.9).
type OrderIDRecord struct {
	TransactionID string
	OrderID       string
	Timestamp     time.Time
}
