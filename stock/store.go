/*
store.go - Persistence interfaces for parts, lots and stock-out records

PURPOSE:
  Defines the boundary between the stock engine and the database.
  The engine never talks to a driver directly; every operation receives a
  Store (or a transactional view of one) as an explicit dependency.

KEY INTERFACES:
  PartStore:     Spare-part master data
  LotStore:      Inbound lots, ordered retrieval, in-place remaining updates
  StockOutStore: Stock-out records and per-part totals
  TxStore:       All of the above plus atomic WithTx

ATOMICITY:
  WithTx runs fn against a transactional view. If fn returns an error every
  write made through the view is discarded. If fn returns nil, everything
  commits together.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (production)
  - stock/store/memory.go:  In-memory (tests, dev)
*/
package stock

import "context"

// LotOrder selects the ordering of Lots.
type LotOrder int

const (
	// OldestFirst orders by received date ascending, then creation order.
	OldestFirst LotOrder = iota
	// NewestFirst orders by received date descending, then reverse creation order.
	NewestFirst
)

// PartStore handles spare-part master data.
type PartStore interface {
	SavePart(ctx context.Context, part SparePart) error

	// GetPart returns *NotFoundError if the part doesn't exist.
	GetPart(ctx context.Context, id PartID) (*SparePart, error)

	ListParts(ctx context.Context) ([]SparePart, error)

	// DeletePart removes the part together with its lots and stock-outs.
	DeletePart(ctx context.Context, id PartID) error
}

// LotStore handles inbound lots.
type LotStore interface {
	InsertLot(ctx context.Context, lot Lot) error

	// Lots returns every lot of a part in the requested order.
	Lots(ctx context.Context, partID PartID, order LotOrder) ([]Lot, error)

	// ListLots returns all lots, newest received first.
	ListLots(ctx context.Context) ([]Lot, error)

	// SetLotRemaining overwrites a lot's remaining counter.
	SetLotRemaining(ctx context.Context, id LotID, remaining int64) error

	// ReceivedTotal sums Received over a part's lots.
	ReceivedTotal(ctx context.Context, partID PartID) (int64, error)
}

// StockOutStore handles stock-out records.
type StockOutStore interface {
	InsertStockOut(ctx context.Context, rec StockOut) error
	UpdateStockOut(ctx context.Context, rec StockOut) error
	DeleteStockOut(ctx context.Context, id StockOutID) error

	// GetStockOut returns *NotFoundError if the record doesn't exist.
	GetStockOut(ctx context.Context, id StockOutID) (*StockOut, error)

	// ListStockOuts returns all records, newest date first.
	ListStockOuts(ctx context.Context) ([]StockOut, error)

	// StockOutTotal sums Quantity over a part's records, skipping exclude
	// when it is non-empty.
	StockOutTotal(ctx context.Context, partID PartID, exclude StockOutID) (int64, error)
}

// Store combines all persistence concerns.
type Store interface {
	PartStore
	LotStore
	StockOutStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
