package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ActiveTransaction is one row of the active_transactions table. Markets is
// the versioned tagged serialization of the step list (spec §6); FromCurrency
// and FromAmount duplicate the current step so the store can index
// balance-in-use queries without deserializing Markets.
type ActiveTransaction struct {
	ID           string
	Markets      []TranIntentMarket
	MarketIdx    int
	FromCurrency Currency
	FromAmount   string // decimal.Decimal.String(), stored as text for exact round-trips
}

// CompletedTransaction is one row of the completed_transactions table.
type CompletedTransaction struct {
	ID          string
	Markets     []TranIntentMarket
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Journal is the durability layer behind the Transaction Intent / Intent
// Manager (spec §4.9). Implementations must make each operation an
// idempotent upsert/delete, and must run the multi-statement combinations
// called out in spec §4.7 inside a single "default" or "repeatable read"
// transaction, as annotated per method below.
type Journal interface {
	// UpsertActive persists or replaces an active transaction in one
	// statement. Called immediately when an intent is created (marketIdx=0)
	// and every time its markets/marketIdx change.
	UpsertActive(ctx context.Context, tx ActiveTransaction) error
	DeleteActive(ctx context.Context, id string) error
	GetActive(ctx context.Context, id string) (ActiveTransaction, error)
	ListActive(ctx context.Context) ([]ActiveTransaction, error)

	// CompleteTransaction deletes the active row and inserts the completed
	// row inside one "default" transaction (spec §4.7 INSTANT_STEP/DELAYED_STEP
	// "persist (delete self, add to completed)").
	CompleteTransaction(ctx context.Context, id string, completed CompletedTransaction) error

	// SplitTransaction updates the parent active row and inserts a new
	// child active row inside one "default" transaction (spec §4.7
	// "persist (update self, insert child) in one transaction").
	SplitTransaction(ctx context.Context, parent ActiveTransaction, child ActiveTransaction) error

	ListCompleted(ctx context.Context, opts ListOpts) ([]CompletedTransaction, error)

	// DeleteCompletedBefore removes completed transactions whose CompletedAt
	// is strictly before cutoff, returning the count removed. Used by the
	// cold-archival job after a batch has been durably written to S3.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)

	UpsertUnfilled(ctx context.Context, u UnfilledRemainder) error
	DeleteUnfilled(ctx context.Context, id string) error
	ListUnfilled(ctx context.Context, currentCurrency Currency) ([]UnfilledRemainder, error)

	AppendOrderID(ctx context.Context, rec OrderIDRecord) error
	ListOrderIDs(ctx context.Context, transactionID string) ([]OrderIDRecord, error)

	UpsertBlacklist(ctx context.Context, b BlacklistedMarket) error
	ListBlacklist(ctx context.Context) ([]BlacklistedMarket, error)
	DeleteExpiredBlacklist(ctx context.Context, nowUnix int64) error
}

// AuditEntry is a single audit log row, carried from the teacher's ambient
// audit trail for operational visibility into engine decisions.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
