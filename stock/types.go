/*
Package stock provides the spare-parts stock engine.

PURPOSE:
  Tracks inventory through discrete stock-in lots and stock-out records and
  answers "how much of part P is available" consistently with FIFO
  consumption. Every stock-out write is paired with lot deductions (or
  releases) inside one atomic unit of work.

KEY CONCEPTS IN THIS FILE (types.go):
  - SparePart: master data for a part
  - Lot: a batch received on a date, with a remaining-quantity counter
  - StockOut: a recorded consumption of a part
  - Quantity / prices: int64 units, decimal.Decimal money

DESIGN PRINCIPLES:
  1. Conservation: Σ lot.Remaining == Σ lot.Received − Σ stockOut.Quantity
  2. Precision: prices use decimal.Decimal, never float64
  3. Type Safety: distinct ID types for parts, lots and stock-outs

SEE ALSO:
  - allocation.go: FIFO consume/release
  - availability.go: available quantity
  - ledger.go: stock-out lifecycle
  - store.go: persistence interfaces
*/
package stock

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// PartID identifies a spare part.
type PartID string

// LotID identifies one received lot.
type LotID string

// StockOutID identifies a stock-out record.
type StockOutID string

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// SPARE PART - Master data
// =============================================================================

type SparePart struct {
	ID         PartID
	Name       string
	Category   string
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
	CreatedAt  time.Time
}

// =============================================================================
// LOT - Inbound stock batch
// =============================================================================

// Lot is a batch of a part received on a given date.
// Received never changes after creation; Remaining is touched only by the
// allocation engine.
type Lot struct {
	ID         LotID
	PartID     PartID
	Received   int64
	Remaining  int64
	ReceivedAt time.Time
	CreatedAt  time.Time
}

// Consumed returns how much of the lot has been drawn.
func (l Lot) Consumed() int64 { return l.Received - l.Remaining }

// =============================================================================
// STOCK OUT - Recorded consumption
// =============================================================================

type StockOut struct {
	ID         StockOutID
	PartID     PartID
	Quantity   int64
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
	Date       time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StockOutInput is the caller-supplied part of a stock-out record.
// TotalPrice may be zero, in which case it is derived from Quantity × UnitPrice.
type StockOutInput struct {
	PartID     PartID
	Quantity   int64
	UnitPrice  decimal.Decimal
	TotalPrice decimal.Decimal
	Date       time.Time
}

// Validate checks quantity and price rules and fills a missing total.
func (in *StockOutInput) Validate() error {
	if in.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if in.UnitPrice.IsNegative() {
		return ErrInvalidPrice
	}
	expected := in.UnitPrice.Mul(decimal.NewFromInt(in.Quantity))
	if in.TotalPrice.IsZero() {
		in.TotalPrice = expected
		return nil
	}
	if !in.TotalPrice.Equal(expected) {
		return &PriceMismatchError{Expected: expected, Got: in.TotalPrice}
	}
	return nil
}

// =============================================================================
// RELEASE POLICY
// =============================================================================

// ReleasePolicy decides where quantity goes when a stock-out shrinks.
type ReleasePolicy string

const (
	// ReleaseNewestLot puts the whole released quantity on the newest lot.
	ReleaseNewestLot ReleasePolicy = "newest-lot"

	// ReleaseReverseFIFO refills lots newest-first up to their received
	// quantity; any overflow lands on the newest lot.
	ReleaseReverseFIFO ReleasePolicy = "reverse-fifo"
)

// ParseReleasePolicy maps a config string to a policy.
func ParseReleasePolicy(s string) (ReleasePolicy, bool) {
	switch ReleasePolicy(s) {
	case ReleaseNewestLot, ReleaseReverseFIFO:
		return ReleasePolicy(s), true
	case "":
		return ReleaseNewestLot, true
	}
	return "", false
}
