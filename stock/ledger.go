/*
ledger.go - Stock-out lifecycle and stock-in intake

PURPOSE:
  The Ledger owns stock-out records. Every create, update and delete runs
  as one unit of work:

    lock part(s) -> WithTx { availability check -> record write -> lot deltas }

  Any failure, including a detected shortage, rolls back the whole unit.
  No lot or record ever reflects a half-applied allocation.

STATE TRANSITIONS:
  Create:  avail(part) >= qty, insert record, Consume(qty)
  Update:  avail(part, excluding id) >= newQty, overwrite record, then
           diff > 0 -> Consume(diff)
           diff < 0 -> Release(-diff)
           diff = 0 -> no lot change
           part changed -> Release(old) on old part, Consume(new) on new part
  Delete:  remove record, Release(qty) when RestoreOnDelete is set

CONCURRENCY:
  Per-part locks are held across the check and the commit. The store's own
  transaction isolation covers writers in other processes.

SEE ALSO:
  - allocation.go:   Consume / Release
  - availability.go: Available
  - locks.go:        PartLocks
*/
package stock

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrConcurrentModification is returned when a record moved to another part
// between lock acquisition and the transactional re-read.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// LedgerConfig tunes allocation behaviour.
type LedgerConfig struct {
	ReleasePolicy   ReleasePolicy
	RestoreOnDelete bool
}

// DefaultLedgerConfig releases onto the newest lot and restores on delete.
func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		ReleasePolicy:   ReleaseNewestLot,
		RestoreOnDelete: true,
	}
}

// StockOutResult is a committed stock-out together with the lots it touched.
type StockOutResult struct {
	Record StockOut
	Lots   []Lot
}

// Ledger coordinates availability, allocation and persistence.
type Ledger struct {
	store  TxStore
	locks  *PartLocks
	cfg    LedgerConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewLedger creates a ledger over store. A nil logger discards output.
func NewLedger(store TxStore, cfg LedgerConfig, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReleasePolicy == "" {
		cfg.ReleasePolicy = ReleaseNewestLot
	}
	return &Ledger{
		store:  store,
		locks:  NewPartLocks(),
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// =============================================================================
// READS
// =============================================================================

// Available returns the quantity of a part that can still be stocked out.
func (l *Ledger) Available(ctx context.Context, partID PartID) (int64, error) {
	avail, err := Available(ctx, l.store, partID, "")
	if err != nil {
		return 0, storageErr("available", err)
	}
	return avail, nil
}

// =============================================================================
// STOCK IN
// =============================================================================

// CreateStockIn records a new lot with Remaining == Received == qty.
func (l *Ledger) CreateStockIn(ctx context.Context, partID PartID, qty int64, receivedAt time.Time) (Lot, error) {
	if qty <= 0 {
		return Lot{}, ErrInvalidQuantity
	}

	unlock := l.locks.Lock(partID)
	defer unlock()

	now := l.now()
	lot := Lot{
		ID:         LotID(NewID()),
		PartID:     partID,
		Received:   qty,
		Remaining:  qty,
		ReceivedAt: receivedAt,
		CreatedAt:  now,
	}

	err := l.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetPart(ctx, partID); err != nil {
			return err
		}
		return tx.InsertLot(ctx, lot)
	})
	if err != nil {
		return Lot{}, l.fail("create stock in", err, zap.String("part_id", string(partID)))
	}

	l.logger.Info("stock in created",
		zap.String("lot_id", string(lot.ID)),
		zap.String("part_id", string(partID)),
		zap.Int64("quantity", qty),
	)
	return lot, nil
}

// =============================================================================
// STOCK OUT
// =============================================================================

// CreateStockOut records a stock-out and consumes its quantity FIFO.
func (l *Ledger) CreateStockOut(ctx context.Context, in StockOutInput) (StockOutResult, error) {
	if err := in.Validate(); err != nil {
		return StockOutResult{}, err
	}

	unlock := l.locks.Lock(in.PartID)
	defer unlock()

	now := l.now()
	rec := StockOut{
		ID:         StockOutID(NewID()),
		PartID:     in.PartID,
		Quantity:   in.Quantity,
		UnitPrice:  in.UnitPrice,
		TotalPrice: in.TotalPrice,
		Date:       in.Date,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var changed []Lot
	err := l.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetPart(ctx, in.PartID); err != nil {
			return err
		}
		if err := checkAvailable(ctx, tx, in.PartID, "", in.Quantity); err != nil {
			return err
		}
		if err := tx.InsertStockOut(ctx, rec); err != nil {
			return err
		}
		lots, err := l.consume(ctx, tx, in.PartID, in.Quantity)
		changed = lots
		return err
	})
	if err != nil {
		return StockOutResult{}, l.fail("create stock out", err,
			zap.String("part_id", string(in.PartID)), zap.Int64("quantity", in.Quantity))
	}

	l.logger.Info("stock out created",
		zap.String("stock_out_id", string(rec.ID)),
		zap.String("part_id", string(rec.PartID)),
		zap.Int64("quantity", rec.Quantity),
		zap.Int("lots_touched", len(changed)),
	)
	return StockOutResult{Record: rec, Lots: changed}, nil
}

// UpdateStockOut rewrites a stock-out and reconciles its lot deductions.
func (l *Ledger) UpdateStockOut(ctx context.Context, id StockOutID, in StockOutInput) (StockOutResult, error) {
	if err := in.Validate(); err != nil {
		return StockOutResult{}, err
	}

	// The stored part id decides which locks to take; it is re-checked
	// inside the transaction.
	current, err := l.store.GetStockOut(ctx, id)
	if err != nil {
		return StockOutResult{}, l.fail("update stock out", err, zap.String("stock_out_id", string(id)))
	}
	oldPart := current.PartID

	unlock := l.locks.Lock(oldPart, in.PartID)
	defer unlock()

	var (
		rec     StockOut
		changed []Lot
	)
	err = l.store.WithTx(ctx, func(tx Store) error {
		cur, err := tx.GetStockOut(ctx, id)
		if err != nil {
			return err
		}
		if cur.PartID != oldPart {
			return ErrConcurrentModification
		}
		if _, err := tx.GetPart(ctx, in.PartID); err != nil {
			return err
		}
		if err := checkAvailable(ctx, tx, in.PartID, id, in.Quantity); err != nil {
			return err
		}

		rec = *cur
		rec.PartID = in.PartID
		rec.Quantity = in.Quantity
		rec.UnitPrice = in.UnitPrice
		rec.TotalPrice = in.TotalPrice
		rec.Date = in.Date
		rec.UpdatedAt = l.now()
		if err := tx.UpdateStockOut(ctx, rec); err != nil {
			return err
		}

		if cur.PartID != in.PartID {
			released, err := l.release(ctx, tx, cur.PartID, cur.Quantity)
			if err != nil {
				return err
			}
			consumed, err := l.consume(ctx, tx, in.PartID, in.Quantity)
			changed = append(released, consumed...)
			return err
		}

		switch diff := in.Quantity - cur.Quantity; {
		case diff > 0:
			changed, err = l.consume(ctx, tx, in.PartID, diff)
		case diff < 0:
			changed, err = l.release(ctx, tx, in.PartID, -diff)
		}
		return err
	})
	if err != nil {
		return StockOutResult{}, l.fail("update stock out", err,
			zap.String("stock_out_id", string(id)), zap.Int64("quantity", in.Quantity))
	}

	l.logger.Info("stock out updated",
		zap.String("stock_out_id", string(id)),
		zap.String("part_id", string(rec.PartID)),
		zap.Int64("old_quantity", current.Quantity),
		zap.Int64("new_quantity", rec.Quantity),
		zap.Int("lots_touched", len(changed)),
	)
	return StockOutResult{Record: rec, Lots: changed}, nil
}

// DeleteStockOut removes a stock-out. With RestoreOnDelete its quantity is
// released back to the part's lots in the same transaction.
func (l *Ledger) DeleteStockOut(ctx context.Context, id StockOutID) ([]Lot, error) {
	current, err := l.store.GetStockOut(ctx, id)
	if err != nil {
		return nil, l.fail("delete stock out", err, zap.String("stock_out_id", string(id)))
	}

	unlock := l.locks.Lock(current.PartID)
	defer unlock()

	var changed []Lot
	err = l.store.WithTx(ctx, func(tx Store) error {
		cur, err := tx.GetStockOut(ctx, id)
		if err != nil {
			return err
		}
		if cur.PartID != current.PartID {
			return ErrConcurrentModification
		}
		if err := tx.DeleteStockOut(ctx, id); err != nil {
			return err
		}
		if !l.cfg.RestoreOnDelete {
			return nil
		}
		changed, err = l.release(ctx, tx, cur.PartID, cur.Quantity)
		return err
	})
	if err != nil {
		return nil, l.fail("delete stock out", err, zap.String("stock_out_id", string(id)))
	}

	l.logger.Info("stock out deleted",
		zap.String("stock_out_id", string(id)),
		zap.String("part_id", string(current.PartID)),
		zap.Bool("restored", l.cfg.RestoreOnDelete),
	)
	return changed, nil
}

// DeletePart removes a part with its lots and stock-outs.
func (l *Ledger) DeletePart(ctx context.Context, id PartID) error {
	unlock := l.locks.Lock(id)
	defer unlock()

	err := l.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetPart(ctx, id); err != nil {
			return err
		}
		return tx.DeletePart(ctx, id)
	})
	if err != nil {
		return l.fail("delete part", err, zap.String("part_id", string(id)))
	}
	l.logger.Info("spare part deleted", zap.String("part_id", string(id)))
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func checkAvailable(ctx context.Context, tx Store, partID PartID, exclude StockOutID, qty int64) error {
	avail, err := Available(ctx, tx, partID, exclude)
	if err != nil {
		return err
	}
	if qty > avail {
		return &InsufficientStockError{PartID: partID, Requested: qty, Available: avail}
	}
	return nil
}

func (l *Ledger) consume(ctx context.Context, tx Store, partID PartID, qty int64) ([]Lot, error) {
	lots, err := tx.Lots(ctx, partID, OldestFirst)
	if err != nil {
		return nil, err
	}
	alloc, err := Consume(partID, lots, qty)
	if err != nil {
		return nil, err
	}
	return l.apply(ctx, tx, alloc)
}

func (l *Ledger) release(ctx context.Context, tx Store, partID PartID, qty int64) ([]Lot, error) {
	lots, err := tx.Lots(ctx, partID, NewestFirst)
	if err != nil {
		return nil, err
	}
	alloc, err := Release(partID, lots, qty, l.cfg.ReleasePolicy)
	if err != nil {
		return nil, err
	}
	return l.apply(ctx, tx, alloc)
}

func (l *Ledger) apply(ctx context.Context, tx Store, alloc Allocation) ([]Lot, error) {
	for _, c := range alloc.Changes {
		if err := tx.SetLotRemaining(ctx, c.Lot.ID, c.Lot.Remaining); err != nil {
			return nil, err
		}
		l.logger.Debug("lot adjusted",
			zap.String("lot_id", string(c.Lot.ID)),
			zap.Int64("delta", c.Delta),
			zap.Int64("remaining", c.Lot.Remaining),
		)
	}
	return alloc.Lots(), nil
}

// fail logs and classifies err. Domain errors pass through untouched;
// anything else is reported as a storage failure.
func (l *Ledger) fail(op string, err error, fields ...zap.Field) error {
	fields = append(fields, zap.Error(err))
	switch {
	case errors.Is(err, ErrInsufficientStock), IsNotFound(err), IsClientError(err):
		l.logger.Info(op+" rejected", fields...)
		return err
	case errors.Is(err, ErrConcurrentModification):
		l.logger.Warn(op+" conflicted", fields...)
		return &StorageError{Op: op, Err: err}
	}
	l.logger.Error(op+" failed", fields...)
	return storageErr(op, err)
}

func storageErr(op string, err error) error {
	if errors.Is(err, ErrStorageFailure) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
