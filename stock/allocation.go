/*
allocation.go - FIFO allocation engine

PURPOSE:
  Turns a quantity into per-lot deltas. Pure functions over a lot snapshot:
  no I/O, no clock. The ledger writes the resulting lots back row by row
  inside its transaction.

CONSUME (oldest first):
  Lots with Remaining > 0, ordered by ReceivedAt ascending. Each lot gives
  min(lot.Remaining, left) until left reaches zero.

RELEASE (newest first):
  All lots are eligible, ordered by ReceivedAt descending.
    ReleaseNewestLot:   the whole quantity goes to the first lot.
    ReleaseReverseFIFO: lots are refilled up to Received, newest first;
                        overflow goes to the newest lot.

EXAMPLE:
  lots [10 @ D1], [5 @ D2]
  Consume(12)              -> [0 @ D1], [3 @ D2]
  Release(3, newest-lot)   -> [0 @ D1], [6 @ D2]
  Release(3, reverse-fifo) -> [1 @ D1], [5 @ D2]
*/
package stock

import (
	"fmt"
	"sort"
)

// LotChange is one lot touched by an allocation.
type LotChange struct {
	Lot   Lot   // lot after the change
	Delta int64 // negative for consumption, positive for release
}

// Allocation is the outcome of Consume or Release.
type Allocation struct {
	Changes []LotChange
	Applied int64
}

// Lots returns the changed lots.
func (a Allocation) Lots() []Lot {
	lots := make([]Lot, len(a.Changes))
	for i, c := range a.Changes {
		lots[i] = c.Lot
	}
	return lots
}

// SortLots orders lots in place.
func SortLots(lots []Lot, order LotOrder) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			if order == NewestFirst {
				return a.ReceivedAt.After(b.ReceivedAt)
			}
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if order == NewestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if order == NewestFirst {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}

// Consume deducts qty from lots, oldest first.
// Returns *InsufficientStockError if the lots cannot cover qty.
func Consume(partID PartID, lots []Lot, qty int64) (Allocation, error) {
	if qty <= 0 {
		return Allocation{}, ErrInvalidQuantity
	}

	candidates := make([]Lot, 0, len(lots))
	var total int64
	for _, l := range lots {
		if l.Remaining > 0 {
			candidates = append(candidates, l)
			total += l.Remaining
		}
	}
	if total < qty {
		return Allocation{}, &InsufficientStockError{PartID: partID, Requested: qty, Available: total}
	}
	SortLots(candidates, OldestFirst)

	var alloc Allocation
	left := qty
	for _, l := range candidates {
		if left == 0 {
			break
		}
		take := min(l.Remaining, left)
		l.Remaining -= take
		left -= take
		alloc.Changes = append(alloc.Changes, LotChange{Lot: l, Delta: -take})
	}
	alloc.Applied = qty
	return alloc, nil
}

// Release returns qty to lots, newest first, according to policy.
func Release(partID PartID, lots []Lot, qty int64, policy ReleasePolicy) (Allocation, error) {
	if qty <= 0 {
		return Allocation{}, ErrInvalidQuantity
	}
	if len(lots) == 0 {
		return Allocation{}, &NotFoundError{Kind: "lot for part", ID: string(partID)}
	}

	ordered := append([]Lot(nil), lots...)
	SortLots(ordered, NewestFirst)

	switch policy {
	case ReleaseNewestLot, "":
		l := ordered[0]
		l.Remaining += qty
		return Allocation{Changes: []LotChange{{Lot: l, Delta: qty}}, Applied: qty}, nil

	case ReleaseReverseFIFO:
		var alloc Allocation
		left := qty
		for _, l := range ordered {
			if left == 0 {
				break
			}
			room := l.Consumed()
			if room <= 0 {
				continue
			}
			give := min(room, left)
			l.Remaining += give
			left -= give
			alloc.Changes = append(alloc.Changes, LotChange{Lot: l, Delta: give})
		}
		if left > 0 {
			alloc.Changes = mergeOverflow(alloc.Changes, ordered[0], left)
		}
		alloc.Applied = qty
		return alloc, nil
	}

	return Allocation{}, fmt.Errorf("unknown release policy %q", policy)
}

// mergeOverflow adds extra to newest, folding into an existing change if present.
func mergeOverflow(changes []LotChange, newest Lot, extra int64) []LotChange {
	for i := range changes {
		if changes[i].Lot.ID == newest.ID {
			changes[i].Lot.Remaining += extra
			changes[i].Delta += extra
			return changes
		}
	}
	newest.Remaining += extra
	return append(changes, LotChange{Lot: newest, Delta: extra})
}
