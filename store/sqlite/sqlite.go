/*
Package sqlite provides a SQLite-backed implementation of stock.TxStore.

PURPOSE:
  Persists spare parts, inbound lots and stock-out records, and serves the
  read-only report queries. The same SQL runs on PostgreSQL with minor
  dialect changes.

INTERFACES IMPLEMENTED:
  stock.Store:   Parts, lots, stock-outs
  stock.TxStore: WithTx for atomic allocation

KEY TABLES:
  spare_parts:          Master data
  stock_in:             Lots (received_quantity, remaining_quantity)
  stock_out:            Stock-out records
  reconciliation_runs:  Audit results

INDEXES:
  - idx_stock_in_part_date: FIFO walk (hot path)
  - idx_stock_out_part:     Availability sums

CONCURRENCY:
  Uses sync.RWMutex for in-process safety. Transactions are opened with
  _txlock=immediate so SQLite takes the write lock at BEGIN; a second
  process cannot read the same baseline and then commit over it.

  Every read inside WithTx goes through the *sql.Tx, never the pool.

MONEY:
  Prices are stored as TEXT and parsed with shopspring/decimal so no value
  ever passes through float64.

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := stock.NewLedger(store, stock.DefaultLedgerConfig(), logger)

SEE ALSO:
  - stock/store.go: Interface definitions
  - stock/store/memory.go: In-memory implementation
  - reports.go: Read-only aggregate queries
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-engine/stock"
)

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements stock.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
	q  queries
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, q: queries{db: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	return s.WithTx(ctx, func(tx stock.Store) error {
		q := tx.(*txStore).q
		for _, table := range []string{"stock_out", "stock_in", "spare_parts", "reconciliation_runs"} {
			if _, err := q.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return wrapErr("reset", err)
			}
		}
		return nil
	})
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS spare_parts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		unit_price TEXT NOT NULL DEFAULT '0',
		total_price TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	-- Lots. remaining_quantity is mutated only by the allocation engine.
	CREATE TABLE IF NOT EXISTS stock_in (
		id TEXT PRIMARY KEY,
		spare_part_id TEXT NOT NULL REFERENCES spare_parts(id) ON DELETE CASCADE,
		received_quantity INTEGER NOT NULL CHECK (received_quantity > 0),
		remaining_quantity INTEGER NOT NULL CHECK (remaining_quantity >= 0),
		stock_in_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stock_in_part_date
		ON stock_in(spare_part_id, stock_in_date, created_at);

	CREATE TABLE IF NOT EXISTS stock_out (
		id TEXT PRIMARY KEY,
		spare_part_id TEXT NOT NULL REFERENCES spare_parts(id) ON DELETE CASCADE,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		total_price TEXT NOT NULL,
		stock_out_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_stock_out_part
		ON stock_out(spare_part_id);
	CREATE INDEX IF NOT EXISTS idx_stock_out_date
		ON stock_out(stock_out_date);

	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		checked_at TEXT NOT NULL,
		parts_checked INTEGER NOT NULL,
		lots_checked INTEGER NOT NULL,
		discrepancies_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_checked
		ON reconciliation_runs(checked_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (stock.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
// The transaction is always released: committed on success, rolled back on
// any error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(store stock.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &stock.StorageError{Op: "begin", Err: err}
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: queries{db: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return &stock.StorageError{Op: "commit", Err: err}
	}
	return nil
}

type txStore struct {
	q queries
}

func (ts *txStore) SavePart(ctx context.Context, p stock.SparePart) error {
	return ts.q.savePart(ctx, p)
}

func (ts *txStore) GetPart(ctx context.Context, id stock.PartID) (*stock.SparePart, error) {
	return ts.q.getPart(ctx, id)
}

func (ts *txStore) ListParts(ctx context.Context) ([]stock.SparePart, error) {
	return ts.q.listParts(ctx)
}

func (ts *txStore) DeletePart(ctx context.Context, id stock.PartID) error {
	return ts.q.deletePart(ctx, id)
}

func (ts *txStore) InsertLot(ctx context.Context, lot stock.Lot) error {
	return ts.q.insertLot(ctx, lot)
}

func (ts *txStore) Lots(ctx context.Context, partID stock.PartID, order stock.LotOrder) ([]stock.Lot, error) {
	return ts.q.lots(ctx, partID, order)
}

func (ts *txStore) ListLots(ctx context.Context) ([]stock.Lot, error) {
	return ts.q.listLots(ctx)
}

func (ts *txStore) SetLotRemaining(ctx context.Context, id stock.LotID, remaining int64) error {
	return ts.q.setLotRemaining(ctx, id, remaining)
}

func (ts *txStore) ReceivedTotal(ctx context.Context, partID stock.PartID) (int64, error) {
	return ts.q.receivedTotal(ctx, partID)
}

func (ts *txStore) InsertStockOut(ctx context.Context, rec stock.StockOut) error {
	return ts.q.insertStockOut(ctx, rec)
}

func (ts *txStore) UpdateStockOut(ctx context.Context, rec stock.StockOut) error {
	return ts.q.updateStockOut(ctx, rec)
}

func (ts *txStore) DeleteStockOut(ctx context.Context, id stock.StockOutID) error {
	return ts.q.deleteStockOut(ctx, id)
}

func (ts *txStore) GetStockOut(ctx context.Context, id stock.StockOutID) (*stock.StockOut, error) {
	return ts.q.getStockOut(ctx, id)
}

func (ts *txStore) ListStockOuts(ctx context.Context) ([]stock.StockOut, error) {
	return ts.q.listStockOuts(ctx)
}

func (ts *txStore) StockOutTotal(ctx context.Context, partID stock.PartID, exclude stock.StockOutID) (int64, error) {
	return ts.q.stockOutTotal(ctx, partID, exclude)
}

// =============================================================================
// SPARE PART STORE
// =============================================================================

// SavePart inserts or updates a spare part.
func (s *Store) SavePart(ctx context.Context, p stock.SparePart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.savePart(ctx, p)
}

// GetPart retrieves a spare part by ID.
func (s *Store) GetPart(ctx context.Context, id stock.PartID) (*stock.SparePart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.getPart(ctx, id)
}

// ListParts returns all spare parts ordered by name.
func (s *Store) ListParts(ctx context.Context) ([]stock.SparePart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.listParts(ctx)
}

// DeletePart removes a part, its lots and its stock-outs atomically.
func (s *Store) DeletePart(ctx context.Context, id stock.PartID) error {
	return s.WithTx(ctx, func(tx stock.Store) error {
		return tx.DeletePart(ctx, id)
	})
}

// =============================================================================
// LOT STORE
// =============================================================================

// InsertLot adds a lot.
func (s *Store) InsertLot(ctx context.Context, lot stock.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.insertLot(ctx, lot)
}

// Lots returns a part's lots in FIFO or reverse-FIFO order.
func (s *Store) Lots(ctx context.Context, partID stock.PartID, order stock.LotOrder) ([]stock.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.lots(ctx, partID, order)
}

// ListLots returns every lot, newest received first.
func (s *Store) ListLots(ctx context.Context) ([]stock.Lot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.listLots(ctx)
}

// SetLotRemaining overwrites a lot's remaining quantity.
func (s *Store) SetLotRemaining(ctx context.Context, id stock.LotID, remaining int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.setLotRemaining(ctx, id, remaining)
}

// ReceivedTotal sums received quantity over a part's lots.
func (s *Store) ReceivedTotal(ctx context.Context, partID stock.PartID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.receivedTotal(ctx, partID)
}

// =============================================================================
// STOCK OUT STORE
// =============================================================================

func (s *Store) InsertStockOut(ctx context.Context, rec stock.StockOut) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.insertStockOut(ctx, rec)
}

func (s *Store) UpdateStockOut(ctx context.Context, rec stock.StockOut) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.updateStockOut(ctx, rec)
}

func (s *Store) DeleteStockOut(ctx context.Context, id stock.StockOutID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.deleteStockOut(ctx, id)
}

func (s *Store) GetStockOut(ctx context.Context, id stock.StockOutID) (*stock.StockOut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.getStockOut(ctx, id)
}

// ListStockOuts returns all stock-outs, newest date first.
func (s *Store) ListStockOuts(ctx context.Context) ([]stock.StockOut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.listStockOuts(ctx)
}

func (s *Store) StockOutTotal(ctx context.Context, partID stock.PartID, exclude stock.StockOutID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q.stockOutTotal(ctx, partID, exclude)
}

// =============================================================================
// QUERIES - shared by Store (pool) and txStore (*sql.Tx)
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

func (q queries) savePart(ctx context.Context, p stock.SparePart) error {
	query := `
		INSERT INTO spare_parts (id, name, category, unit_price, total_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			unit_price = excluded.unit_price,
			total_price = excluded.total_price
	`
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := q.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Category,
		p.UnitPrice.String(), p.TotalPrice.String(),
		formatTime(createdAt),
	)
	return wrapErr("save spare part", err)
}

func (q queries) getPart(ctx context.Context, id stock.PartID) (*stock.SparePart, error) {
	row := q.db.QueryRowContext(ctx,
		"SELECT id, name, category, unit_price, total_price, created_at FROM spare_parts WHERE id = ?",
		id,
	)
	p, err := scanPart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &stock.NotFoundError{Kind: "spare part", ID: string(id)}
	}
	if err != nil {
		return nil, wrapErr("get spare part", err)
	}
	return &p, nil
}

func (q queries) listParts(ctx context.Context) ([]stock.SparePart, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT id, name, category, unit_price, total_price, created_at FROM spare_parts ORDER BY name, id",
	)
	if err != nil {
		return nil, wrapErr("list spare parts", err)
	}
	defer rows.Close()

	var parts []stock.SparePart
	for rows.Next() {
		p, err := scanPart(rows)
		if err != nil {
			return nil, wrapErr("scan spare part", err)
		}
		parts = append(parts, p)
	}
	return parts, wrapErr("list spare parts", rows.Err())
}

// deletePart cascades explicitly rather than relying on the foreign keys.
func (q queries) deletePart(ctx context.Context, id stock.PartID) error {
	for _, stmt := range []string{
		"DELETE FROM stock_in WHERE spare_part_id = ?",
		"DELETE FROM stock_out WHERE spare_part_id = ?",
		"DELETE FROM spare_parts WHERE id = ?",
	} {
		if _, err := q.db.ExecContext(ctx, stmt, id); err != nil {
			return wrapErr("delete spare part", err)
		}
	}
	return nil
}

func (q queries) insertLot(ctx context.Context, lot stock.Lot) error {
	query := `
		INSERT INTO stock_in (id, spare_part_id, received_quantity, remaining_quantity, stock_in_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := q.db.ExecContext(ctx, query,
		lot.ID, lot.PartID, lot.Received, lot.Remaining,
		formatTime(lot.ReceivedAt), formatTime(lot.CreatedAt),
	)
	return wrapErr("insert lot", err)
}

func (q queries) lots(ctx context.Context, partID stock.PartID, order stock.LotOrder) ([]stock.Lot, error) {
	orderBy := "stock_in_date ASC, created_at ASC, id ASC"
	if order == stock.NewestFirst {
		orderBy = "stock_in_date DESC, created_at DESC, id DESC"
	}
	query := `
		SELECT id, spare_part_id, received_quantity, remaining_quantity, stock_in_date, created_at
		FROM stock_in
		WHERE spare_part_id = ?
		ORDER BY ` + orderBy
	return q.queryLots(ctx, query, partID)
}

func (q queries) listLots(ctx context.Context) ([]stock.Lot, error) {
	query := `
		SELECT id, spare_part_id, received_quantity, remaining_quantity, stock_in_date, created_at
		FROM stock_in
		ORDER BY stock_in_date DESC, created_at DESC, id DESC
	`
	return q.queryLots(ctx, query)
}

func (q queries) queryLots(ctx context.Context, query string, args ...any) ([]stock.Lot, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("query lots", err)
	}
	defer rows.Close()

	var lots []stock.Lot
	for rows.Next() {
		var (
			lot                   stock.Lot
			receivedAt, createdAt string
		)
		if err := rows.Scan(&lot.ID, &lot.PartID, &lot.Received, &lot.Remaining, &receivedAt, &createdAt); err != nil {
			return nil, wrapErr("scan lot", err)
		}
		lot.ReceivedAt = parseTime(receivedAt)
		lot.CreatedAt = parseTime(createdAt)
		lots = append(lots, lot)
	}
	return lots, wrapErr("query lots", rows.Err())
}

func (q queries) setLotRemaining(ctx context.Context, id stock.LotID, remaining int64) error {
	res, err := q.db.ExecContext(ctx,
		"UPDATE stock_in SET remaining_quantity = ? WHERE id = ?",
		remaining, id,
	)
	if err != nil {
		return wrapErr("update lot", err)
	}
	return expectRow(res, "lot", string(id))
}

func (q queries) receivedTotal(ctx context.Context, partID stock.PartID) (int64, error) {
	var total int64
	err := q.db.QueryRowContext(ctx,
		"SELECT IFNULL(SUM(received_quantity), 0) FROM stock_in WHERE spare_part_id = ?",
		partID,
	).Scan(&total)
	return total, wrapErr("sum received", err)
}

func (q queries) insertStockOut(ctx context.Context, rec stock.StockOut) error {
	query := `
		INSERT INTO stock_out
		(id, spare_part_id, quantity, unit_price, total_price, stock_out_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.db.ExecContext(ctx, query,
		rec.ID, rec.PartID, rec.Quantity,
		rec.UnitPrice.String(), rec.TotalPrice.String(),
		formatTime(rec.Date), formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	return wrapErr("insert stock out", err)
}

func (q queries) updateStockOut(ctx context.Context, rec stock.StockOut) error {
	query := `
		UPDATE stock_out
		SET spare_part_id = ?, quantity = ?, unit_price = ?, total_price = ?, stock_out_date = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := q.db.ExecContext(ctx, query,
		rec.PartID, rec.Quantity,
		rec.UnitPrice.String(), rec.TotalPrice.String(),
		formatTime(rec.Date), formatTime(rec.UpdatedAt),
		rec.ID,
	)
	if err != nil {
		return wrapErr("update stock out", err)
	}
	return expectRow(res, "stock out", string(rec.ID))
}

func (q queries) deleteStockOut(ctx context.Context, id stock.StockOutID) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM stock_out WHERE id = ?", id)
	if err != nil {
		return wrapErr("delete stock out", err)
	}
	return expectRow(res, "stock out", string(id))
}

const stockOutColumns = `id, spare_part_id, quantity, unit_price, total_price, stock_out_date, created_at, updated_at`

func (q queries) getStockOut(ctx context.Context, id stock.StockOutID) (*stock.StockOut, error) {
	row := q.db.QueryRowContext(ctx, "SELECT "+stockOutColumns+" FROM stock_out WHERE id = ?", id)
	rec, err := scanStockOut(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &stock.NotFoundError{Kind: "stock out", ID: string(id)}
	}
	if err != nil {
		return nil, wrapErr("get stock out", err)
	}
	return &rec, nil
}

func (q queries) listStockOuts(ctx context.Context) ([]stock.StockOut, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT "+stockOutColumns+" FROM stock_out ORDER BY stock_out_date DESC, created_at DESC",
	)
	if err != nil {
		return nil, wrapErr("list stock outs", err)
	}
	defer rows.Close()

	var recs []stock.StockOut
	for rows.Next() {
		rec, err := scanStockOut(rows)
		if err != nil {
			return nil, wrapErr("scan stock out", err)
		}
		recs = append(recs, rec)
	}
	return recs, wrapErr("list stock outs", rows.Err())
}

func (q queries) stockOutTotal(ctx context.Context, partID stock.PartID, exclude stock.StockOutID) (int64, error) {
	var total int64
	err := q.db.QueryRowContext(ctx,
		"SELECT IFNULL(SUM(quantity), 0) FROM stock_out WHERE spare_part_id = ? AND id != ?",
		partID, exclude,
	).Scan(&total)
	return total, wrapErr("sum stock out", err)
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanPart(row scanner) (stock.SparePart, error) {
	var (
		p                     stock.SparePart
		unitPrice, totalPrice string
		createdAt             string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &unitPrice, &totalPrice, &createdAt); err != nil {
		return p, err
	}
	p.UnitPrice = parseDecimal(unitPrice)
	p.TotalPrice = parseDecimal(totalPrice)
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

func scanStockOut(row scanner) (stock.StockOut, error) {
	var (
		rec                        stock.StockOut
		unitPrice, totalPrice      string
		date, createdAt, updatedAt string
	)
	err := row.Scan(
		&rec.ID, &rec.PartID, &rec.Quantity, &unitPrice, &totalPrice,
		&date, &createdAt, &updatedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.UnitPrice = parseDecimal(unitPrice)
	rec.TotalPrice = parseDecimal(totalPrice)
	rec.Date = parseTime(date)
	rec.CreatedAt = parseTime(createdAt)
	rec.UpdatedAt = parseTime(updatedAt)
	return rec, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("rows affected", err)
	}
	if n == 0 {
		return &stock.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

// wrapErr turns driver errors into stock.StorageError. Constraint violations
// (a CHECK on remaining_quantity, a dangling foreign key) land here too; the
// engine should never produce them, so they are treated as storage failures.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return &stock.StorageError{Op: op, Err: fmt.Errorf("constraint violated: %w", err)}
	}
	return &stock.StorageError{Op: op, Err: err}
}
