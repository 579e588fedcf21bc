package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// REPORTS - read-only aggregates
// =============================================================================

// DailyStockOut is one (date, part) bucket of stock-outs.
type DailyStockOut struct {
	Date          string // YYYY-MM-DD
	PartID        stock.PartID
	PartName      string
	TotalQuantity int64
	TotalPrice    decimal.Decimal
}

// DailyStockOuts groups stock-outs by day and part, newest day first.
// Prices are summed in decimal, not in SQL, to stay exact.
func (s *Store) DailyStockOuts(ctx context.Context) ([]DailyStockOut, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT substr(so.stock_out_date, 1, 10) AS day, so.spare_part_id, sp.name, so.quantity, so.total_price
		FROM stock_out so
		JOIN spare_parts sp ON so.spare_part_id = sp.id
		ORDER BY day DESC, sp.name ASC, so.spare_part_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr("daily stock out report", err)
	}
	defer rows.Close()

	var report []DailyStockOut
	for rows.Next() {
		var (
			day, name, total string
			partID           stock.PartID
			qty              int64
		)
		if err := rows.Scan(&day, &partID, &name, &qty, &total); err != nil {
			return nil, wrapErr("scan daily stock out", err)
		}
		if n := len(report); n > 0 && report[n-1].Date == day && report[n-1].PartID == partID {
			report[n-1].TotalQuantity += qty
			report[n-1].TotalPrice = report[n-1].TotalPrice.Add(parseDecimal(total))
			continue
		}
		report = append(report, DailyStockOut{
			Date:          day,
			PartID:        partID,
			PartName:      name,
			TotalQuantity: qty,
			TotalPrice:    parseDecimal(total),
		})
	}
	return report, wrapErr("daily stock out report", rows.Err())
}

// StockStatus summarises one part.
type StockStatus struct {
	PartID        stock.PartID
	PartName      string
	TotalStockIn  int64 // Σ received
	TotalStockOut int64 // Σ stock-out quantity
	Remaining     int64 // Σ lot remaining
	Available     int64 // TotalStockIn − TotalStockOut, floored at 0
}

// StockStatuses reports every part. Each sum is its own sub-query so lots
// and stock-outs never multiply each other through a join.
func (s *Store) StockStatuses(ctx context.Context) ([]StockStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT sp.id, sp.name,
			(SELECT IFNULL(SUM(received_quantity), 0) FROM stock_in WHERE spare_part_id = sp.id),
			(SELECT IFNULL(SUM(remaining_quantity), 0) FROM stock_in WHERE spare_part_id = sp.id),
			(SELECT IFNULL(SUM(quantity), 0) FROM stock_out WHERE spare_part_id = sp.id)
		FROM spare_parts sp
		ORDER BY sp.name, sp.id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr("stock status report", err)
	}
	defer rows.Close()

	var report []StockStatus
	for rows.Next() {
		var st StockStatus
		if err := rows.Scan(&st.PartID, &st.PartName, &st.TotalStockIn, &st.Remaining, &st.TotalStockOut); err != nil {
			return nil, wrapErr("scan stock status", err)
		}
		st.Available = max(st.TotalStockIn-st.TotalStockOut, 0)
		report = append(report, st)
	}
	return report, wrapErr("stock status report", rows.Err())
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

// SaveReconcileRun persists an audit result.
func (s *Store) SaveReconcileRun(ctx context.Context, id string, r stock.ReconcileReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	discrepancies := r.Discrepancies
	if discrepancies == nil {
		discrepancies = []stock.Discrepancy{}
	}
	payload, err := json.Marshal(discrepancies)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (id, checked_at, parts_checked, lots_checked, discrepancies_json)
		VALUES (?, ?, ?, ?, ?)
	`, id, formatTime(r.CheckedAt), r.PartsChecked, r.LotsChecked, string(payload))
	return wrapErr("save reconciliation run", err)
}

// LatestReconcileRun returns the most recent audit, or nil if none ran yet.
func (s *Store) LatestReconcileRun(ctx context.Context) (*stock.ReconcileReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		r                  stock.ReconcileReport
		checkedAt, payload string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT checked_at, parts_checked, lots_checked, discrepancies_json
		FROM reconciliation_runs
		ORDER BY checked_at DESC
		LIMIT 1
	`).Scan(&checkedAt, &r.PartsChecked, &r.LotsChecked, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("latest reconciliation run", err)
	}

	r.CheckedAt = parseTime(checkedAt)
	if err := json.Unmarshal([]byte(payload), &r.Discrepancies); err != nil {
		return nil, err
	}
	return &r, nil
}
