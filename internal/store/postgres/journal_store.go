package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbitron/internal/domain"
)

func parseDecimalCol(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("postgres: parse decimal column %q: %w", s, err)
	}
	return d, nil
}

// JournalStore implements domain.Journal using PostgreSQL. Markets chains
// are stored as a single JSONB column per spec §4.9's "one persisted
// artifact per transaction" requirement; the per-currency/per-amount
// columns alongside it exist only so ListUnfilled/balance-in-use queries
// can filter without deserializing the chain.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// marketsSchemaVersion guards the markets_json wire format (spec.md §4.9's
// "forward-compatible serialization"); bump it whenever the envelope or a
// TranIntentMarket variant's JSON shape changes incompatibly.
const marketsSchemaVersion = 1

// marketsEnvelope is the persisted markets_json shape: a version tag plus
// the chain itself, so a future reader can branch on SchemaVersion before
// unmarshaling Markets.
type marketsEnvelope struct {
	SchemaVersion int                       `json:"schema_version"`
	Markets       []domain.TranIntentMarket `json:"markets"`
}

func marshalMarkets(markets []domain.TranIntentMarket) ([]byte, error) {
	b, err := json.Marshal(marketsEnvelope{SchemaVersion: marketsSchemaVersion, Markets: markets})
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal markets: %w", err)
	}
	return b, nil
}

func unmarshalMarkets(b []byte) ([]domain.TranIntentMarket, error) {
	var env marketsEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal markets: %w", err)
	}
	if env.SchemaVersion > marketsSchemaVersion {
		return nil, fmt.Errorf("postgres: markets_json schema_version %d is newer than this binary supports (%d)", env.SchemaVersion, marketsSchemaVersion)
	}
	return env.Markets, nil
}

// UpsertActive persists or replaces an active transaction in one statement.
func (s *JournalStore) UpsertActive(ctx context.Context, tx domain.ActiveTransaction) error {
	marketsJSON, err := marshalMarkets(tx.Markets)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO active_transactions (id, markets_json, market_idx, from_currency, from_amount, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			markets_json  = EXCLUDED.markets_json,
			market_idx    = EXCLUDED.market_idx,
			from_currency = EXCLUDED.from_currency,
			from_amount   = EXCLUDED.from_amount,
			updated_at    = NOW()`

	_, err = s.pool.Exec(ctx, query, tx.ID, marketsJSON, tx.MarketIdx, string(tx.FromCurrency), tx.FromAmount)
	if err != nil {
		return fmt.Errorf("postgres: upsert active transaction %s: %w", tx.ID, err)
	}
	return nil
}

// DeleteActive removes an active transaction row.
func (s *JournalStore) DeleteActive(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM active_transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete active transaction %s: %w", id, err)
	}
	return nil
}

func scanActiveTransaction(scanner interface{ Scan(dest ...any) error }) (domain.ActiveTransaction, error) {
	var tx domain.ActiveTransaction
	var marketsJSON []byte
	var fromCurrency string

	if err := scanner.Scan(&tx.ID, &marketsJSON, &tx.MarketIdx, &fromCurrency, &tx.FromAmount); err != nil {
		return domain.ActiveTransaction{}, err
	}
	tx.FromCurrency = domain.Currency(fromCurrency)

	markets, err := unmarshalMarkets(marketsJSON)
	if err != nil {
		return domain.ActiveTransaction{}, err
	}
	tx.Markets = markets
	return tx, nil
}

const activeSelectCols = `id, markets_json, market_idx, from_currency, from_amount`

// GetActive retrieves a single active transaction by ID.
func (s *JournalStore) GetActive(ctx context.Context, id string) (domain.ActiveTransaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+activeSelectCols+` FROM active_transactions WHERE id = $1`, id)
	tx, err := scanActiveTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ActiveTransaction{}, domain.ErrNotFound
		}
		return domain.ActiveTransaction{}, fmt.Errorf("postgres: get active transaction %s: %w", id, err)
	}
	return tx, nil
}

// ListActive returns every active transaction, for power-on recovery.
func (s *JournalStore) ListActive(ctx context.Context) ([]domain.ActiveTransaction, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+activeSelectCols+` FROM active_transactions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.ActiveTransaction
	for rows.Next() {
		tx, err := scanActiveTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// CompleteTransaction deletes the active row and inserts the completed row
// inside one transaction.
func (s *JournalStore) CompleteTransaction(ctx context.Context, id string, completed domain.CompletedTransaction) error {
	marketsJSON, err := marshalMarkets(completed.Markets)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM active_transactions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete active transaction %s: %w", id, err)
	}

	const insert = `
		INSERT INTO completed_transactions (id, markets_json, created_at, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			markets_json = EXCLUDED.markets_json,
			completed_at = EXCLUDED.completed_at`
	createdAt := completed.CreatedAt
	if createdAt.IsZero() {
		createdAt = completed.CompletedAt
	}
	if _, err := tx.Exec(ctx, insert, completed.ID, marketsJSON, createdAt, completed.CompletedAt); err != nil {
		return fmt.Errorf("postgres: insert completed transaction %s: %w", completed.ID, err)
	}

	return tx.Commit(ctx)
}

// SplitTransaction updates the parent active row and inserts a new child
// active row inside one transaction.
func (s *JournalStore) SplitTransaction(ctx context.Context, parent, child domain.ActiveTransaction) error {
	parentMarketsJSON, err := marshalMarkets(parent.Markets)
	if err != nil {
		return err
	}
	childMarketsJSON, err := marshalMarkets(child.Markets)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const update = `
		UPDATE active_transactions SET
			markets_json  = $2,
			market_idx    = $3,
			from_currency = $4,
			from_amount   = $5,
			updated_at    = NOW()
		WHERE id = $1`
	if _, err := tx.Exec(ctx, update, parent.ID, parentMarketsJSON, parent.MarketIdx, string(parent.FromCurrency), parent.FromAmount); err != nil {
		return fmt.Errorf("postgres: update parent transaction %s: %w", parent.ID, err)
	}

	const insert = `
		INSERT INTO active_transactions (id, markets_json, market_idx, from_currency, from_amount, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`
	if _, err := tx.Exec(ctx, insert, child.ID, childMarketsJSON, child.MarketIdx, string(child.FromCurrency), child.FromAmount); err != nil {
		return fmt.Errorf("postgres: insert child transaction %s: %w", child.ID, err)
	}

	return tx.Commit(ctx)
}

// ListCompleted returns completed transactions with pagination.
func (s *JournalStore) ListCompleted(ctx context.Context, opts domain.ListOpts) ([]domain.CompletedTransaction, error) {
	query := `SELECT id, markets_json, created_at, completed_at FROM completed_transactions WHERE TRUE`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND completed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND completed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY completed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list completed transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.CompletedTransaction
	for rows.Next() {
		var c domain.CompletedTransaction
		var marketsJSON []byte
		if err := rows.Scan(&c.ID, &marketsJSON, &c.CreatedAt, &c.CompletedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan completed transaction: %w", err)
		}
		markets, err := unmarshalMarkets(marketsJSON)
		if err != nil {
			return nil, err
		}
		c.Markets = markets
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCompletedBefore removes completed transactions older than cutoff,
// after the cold-archival job has durably written them to S3.
func (s *JournalStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM completed_transactions WHERE completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete completed transactions before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

// UpsertUnfilled persists or replaces an unfilled remainder.
func (s *JournalStore) UpsertUnfilled(ctx context.Context, u domain.UnfilledRemainder) error {
	const query = `
		INSERT INTO unfilled_remainders (id, init_currency, init_amount, current_currency, current_amount)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			init_currency    = EXCLUDED.init_currency,
			init_amount      = EXCLUDED.init_amount,
			current_currency = EXCLUDED.current_currency,
			current_amount   = EXCLUDED.current_amount`
	_, err := s.pool.Exec(ctx, query,
		u.ID, string(u.InitCurrency), u.InitAmount.String(), string(u.CurrentCurrency), u.CurrentAmount.String())
	if err != nil {
		return fmt.Errorf("postgres: upsert unfilled remainder %s: %w", u.ID, err)
	}
	return nil
}

// DeleteUnfilled removes an unfilled remainder row.
func (s *JournalStore) DeleteUnfilled(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM unfilled_remainders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete unfilled remainder %s: %w", id, err)
	}
	return nil
}

// ListUnfilled returns unfilled remainders sitting in currentCurrency, the
// set a newly started intent in that currency can merge (spec §4.7 START).
func (s *JournalStore) ListUnfilled(ctx context.Context, currentCurrency domain.Currency) ([]domain.UnfilledRemainder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, init_currency, init_amount, current_currency, current_amount
		FROM unfilled_remainders WHERE current_currency = $1`, string(currentCurrency))
	if err != nil {
		return nil, fmt.Errorf("postgres: list unfilled remainders: %w", err)
	}
	defer rows.Close()

	var out []domain.UnfilledRemainder
	for rows.Next() {
		var u domain.UnfilledRemainder
		var initCurrency, currCurrency, initAmountStr, currAmountStr string
		if err := rows.Scan(&u.ID, &initCurrency, &initAmountStr, &currCurrency, &currAmountStr); err != nil {
			return nil, fmt.Errorf("postgres: scan unfilled remainder: %w", err)
		}
		u.InitCurrency = domain.Currency(initCurrency)
		u.CurrentCurrency = domain.Currency(currCurrency)
		if u.InitAmount, err = parseDecimalCol(initAmountStr); err != nil {
			return nil, err
		}
		if u.CurrentAmount, err = parseDecimalCol(currAmountStr); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// AppendOrderID records an exchange order id as having served transactionID,
// for the crash-recovery trade scan (spec §4.9).
func (s *JournalStore) AppendOrderID(ctx context.Context, rec domain.OrderIDRecord) error {
	const query = `
		INSERT INTO transaction_order_ids (transaction_id, order_id, occurred_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (transaction_id, order_id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, rec.TransactionID, rec.OrderID, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: append order id for %s: %w", rec.TransactionID, err)
	}
	return nil
}

// ListOrderIDs returns every order id recorded against transactionID, oldest first.
func (s *JournalStore) ListOrderIDs(ctx context.Context, transactionID string) ([]domain.OrderIDRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT transaction_id, order_id, occurred_at FROM transaction_order_ids
		WHERE transaction_id = $1 ORDER BY occurred_at`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list order ids for %s: %w", transactionID, err)
	}
	defer rows.Close()

	var out []domain.OrderIDRecord
	for rows.Next() {
		var rec domain.OrderIDRecord
		if err := rows.Scan(&rec.TransactionID, &rec.OrderID, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan order id: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertBlacklist adds or refreshes a blacklisted market.
func (s *JournalStore) UpsertBlacklist(ctx context.Context, b domain.BlacklistedMarket) error {
	const query = `
		INSERT INTO blacklisted_markets (base_currency, quote_currency, added_ts, ttl_sec)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (base_currency, quote_currency) DO UPDATE SET
			added_ts = EXCLUDED.added_ts,
			ttl_sec  = EXCLUDED.ttl_sec`
	_, err := s.pool.Exec(ctx, query, string(b.Market.Base), string(b.Market.Quote), b.AddedTs, b.TTLSec)
	if err != nil {
		return fmt.Errorf("postgres: upsert blacklisted market %s: %w", b.Market.String(), err)
	}
	return nil
}

// ListBlacklist returns every blacklisted market, expired or not; callers
// filter with BlacklistedMarket.Expired.
func (s *JournalStore) ListBlacklist(ctx context.Context) ([]domain.BlacklistedMarket, error) {
	rows, err := s.pool.Query(ctx, `SELECT base_currency, quote_currency, added_ts, ttl_sec FROM blacklisted_markets`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list blacklisted markets: %w", err)
	}
	defer rows.Close()

	var out []domain.BlacklistedMarket
	for rows.Next() {
		var b domain.BlacklistedMarket
		var base, quote string
		if err := rows.Scan(&base, &quote, &b.AddedTs, &b.TTLSec); err != nil {
			return nil, fmt.Errorf("postgres: scan blacklisted market: %w", err)
		}
		b.Market = domain.Market{Base: domain.Currency(base), Quote: domain.Currency(quote)}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteExpiredBlacklist removes every blacklist row whose TTL has elapsed
// as of nowUnix.
func (s *JournalStore) DeleteExpiredBlacklist(ctx context.Context, nowUnix int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM blacklisted_markets WHERE added_ts + ttl_sec <= $1`, nowUnix)
	if err != nil {
		return fmt.Errorf("postgres: delete expired blacklisted markets: %w", err)
	}
	return nil
}
