package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbitron/internal/domain"
	"github.com/alanyoungcy/arbitron/internal/processor"
)

// ProcessorRecoveryStore implements processor.Recovery using PostgreSQL. One
// row per (market, side) remembers the last live post-only order so a
// restarted Processor can resume it on POWER_ON_RECOVERY instead of placing
// a fresh order.
type ProcessorRecoveryStore struct {
	pool *pgxpool.Pool
}

// NewProcessorRecoveryStore creates a new ProcessorRecoveryStore backed by
// the given connection pool.
func NewProcessorRecoveryStore(pool *pgxpool.Pool) *ProcessorRecoveryStore {
	return &ProcessorRecoveryStore{pool: pool}
}

// LoadProcessorOrder returns the last saved order for (market, side), or
// found=false if none has ever been saved.
func (s *ProcessorRecoveryStore) LoadProcessorOrder(ctx context.Context, market domain.Market, side domain.OrderSide) (processor.RecoveryOrder, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT order_id, price, quote_amount, latest_seen_tid
		FROM processor_recovery_orders
		WHERE base_currency = $1 AND quote_currency = $2 AND side = $3`,
		string(market.Base), string(market.Quote), string(side))

	var (
		orderID, priceStr, qtyStr, latestTID string
	)
	if err := row.Scan(&orderID, &priceStr, &qtyStr, &latestTID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return processor.RecoveryOrder{}, false, nil
		}
		return processor.RecoveryOrder{}, false, fmt.Errorf("postgres: load processor order: %w", err)
	}

	price, err := parseDecimalCol(priceStr)
	if err != nil {
		return processor.RecoveryOrder{}, false, err
	}
	qty, err := parseDecimalCol(qtyStr)
	if err != nil {
		return processor.RecoveryOrder{}, false, err
	}

	return processor.RecoveryOrder{
		OrderID:       orderID,
		Price:         price,
		QuoteAmount:   qty,
		LatestSeenTID: latestTID,
	}, true, nil
}

// SaveProcessorOrder upserts the last-known live order for (market, side).
// An empty order.OrderID still records the row (cleared state), so a later
// LoadProcessorOrder reports found=true with an empty OrderID rather than
// found=false — the distinction between "never recovered" and "recovered
// into no order" matters to POWER_ON_RECOVERY.
func (s *ProcessorRecoveryStore) SaveProcessorOrder(ctx context.Context, market domain.Market, side domain.OrderSide, order processor.RecoveryOrder) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processor_recovery_orders (base_currency, quote_currency, side, order_id, price, quote_amount, latest_seen_tid, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (base_currency, quote_currency, side) DO UPDATE SET
			order_id        = EXCLUDED.order_id,
			price           = EXCLUDED.price,
			quote_amount    = EXCLUDED.quote_amount,
			latest_seen_tid = EXCLUDED.latest_seen_tid,
			updated_at      = NOW()`,
		string(market.Base), string(market.Quote), string(side),
		order.OrderID, order.Price.String(), order.QuoteAmount.String(), order.LatestSeenTID)
	if err != nil {
		return fmt.Errorf("postgres: save processor order: %w", err)
	}
	return nil
}

var _ processor.Recovery = (*ProcessorRecoveryStore)(nil)
