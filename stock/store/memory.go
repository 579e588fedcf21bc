// Package store provides in-memory stock.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	parts     map[stock.PartID]stock.SparePart
	lots      map[stock.LotID]stock.Lot
	stockOuts map[stock.StockOutID]stock.StockOut
}

func NewMemory() *Memory {
	return &Memory{
		parts:     make(map[stock.PartID]stock.SparePart),
		lots:      make(map[stock.LotID]stock.Lot),
		stockOuts: make(map[stock.StockOutID]stock.StockOut),
	}
}

// WithTx executes fn within a transaction.
// Writes go straight to the maps under the write lock; on error the maps
// are restored from a snapshot taken before fn ran.
func (m *Memory) WithTx(ctx context.Context, fn func(stock.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	if err := ctx.Err(); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	parts     map[stock.PartID]stock.SparePart
	lots      map[stock.LotID]stock.Lot
	stockOuts map[stock.StockOutID]stock.StockOut
}

func (m *Memory) snapshot() memorySnapshot {
	return memorySnapshot{
		parts:     cloneMap(m.parts),
		lots:      cloneMap(m.lots),
		stockOuts: cloneMap(m.stockOuts),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.parts = s.parts
	m.lots = s.lots
	m.stockOuts = s.stockOuts
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// =============================================================================
// LOCKED ENTRY POINTS (stock.Store)
// =============================================================================

func (m *Memory) SavePart(_ context.Context, p stock.SparePart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.savePartLocked(p)
	return nil
}

func (m *Memory) GetPart(_ context.Context, id stock.PartID) (*stock.SparePart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPartLocked(id)
}

func (m *Memory) ListParts(_ context.Context) ([]stock.SparePart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPartsLocked(), nil
}

func (m *Memory) DeletePart(ctx context.Context, id stock.PartID) error {
	return m.WithTx(ctx, func(tx stock.Store) error {
		return tx.DeletePart(ctx, id)
	})
}

func (m *Memory) InsertLot(_ context.Context, lot stock.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[lot.ID] = lot
	return nil
}

func (m *Memory) Lots(_ context.Context, partID stock.PartID, order stock.LotOrder) ([]stock.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lotsLocked(partID, order), nil
}

func (m *Memory) ListLots(_ context.Context) ([]stock.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLotsLocked(), nil
}

func (m *Memory) SetLotRemaining(_ context.Context, id stock.LotID, remaining int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLotRemainingLocked(id, remaining)
}

func (m *Memory) ReceivedTotal(_ context.Context, partID stock.PartID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.receivedTotalLocked(partID), nil
}

func (m *Memory) InsertStockOut(_ context.Context, rec stock.StockOut) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stockOuts[rec.ID] = rec
	return nil
}

func (m *Memory) UpdateStockOut(_ context.Context, rec stock.StockOut) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStockOutLocked(rec)
}

func (m *Memory) DeleteStockOut(_ context.Context, id stock.StockOutID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteStockOutLocked(id)
}

func (m *Memory) GetStockOut(_ context.Context, id stock.StockOutID) (*stock.StockOut, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getStockOutLocked(id)
}

func (m *Memory) ListStockOuts(_ context.Context) ([]stock.StockOut, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listStockOutsLocked(), nil
}

func (m *Memory) StockOutTotal(_ context.Context, partID stock.PartID, exclude stock.StockOutID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stockOutTotalLocked(partID, exclude), nil
}

// =============================================================================
// LOCK-FREE INTERNALS (caller holds mu)
// =============================================================================

func (m *Memory) savePartLocked(p stock.SparePart) {
	if existing, ok := m.parts[p.ID]; ok && p.CreatedAt.IsZero() {
		p.CreatedAt = existing.CreatedAt
	}
	m.parts[p.ID] = p
}

func (m *Memory) getPartLocked(id stock.PartID) (*stock.SparePart, error) {
	p, ok := m.parts[id]
	if !ok {
		return nil, &stock.NotFoundError{Kind: "spare part", ID: string(id)}
	}
	return &p, nil
}

func (m *Memory) listPartsLocked() []stock.SparePart {
	parts := make([]stock.SparePart, 0, len(m.parts))
	for _, p := range m.parts {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].Name != parts[j].Name {
			return parts[i].Name < parts[j].Name
		}
		return parts[i].ID < parts[j].ID
	})
	return parts
}

func (m *Memory) deletePartLocked(id stock.PartID) {
	for lid, lot := range m.lots {
		if lot.PartID == id {
			delete(m.lots, lid)
		}
	}
	for sid, rec := range m.stockOuts {
		if rec.PartID == id {
			delete(m.stockOuts, sid)
		}
	}
	delete(m.parts, id)
}

func (m *Memory) lotsLocked(partID stock.PartID, order stock.LotOrder) []stock.Lot {
	var lots []stock.Lot
	for _, lot := range m.lots {
		if lot.PartID == partID {
			lots = append(lots, lot)
		}
	}
	stock.SortLots(lots, order)
	return lots
}

func (m *Memory) listLotsLocked() []stock.Lot {
	lots := make([]stock.Lot, 0, len(m.lots))
	for _, lot := range m.lots {
		lots = append(lots, lot)
	}
	stock.SortLots(lots, stock.NewestFirst)
	return lots
}

func (m *Memory) setLotRemainingLocked(id stock.LotID, remaining int64) error {
	lot, ok := m.lots[id]
	if !ok {
		return &stock.NotFoundError{Kind: "lot", ID: string(id)}
	}
	lot.Remaining = remaining
	m.lots[id] = lot
	return nil
}

func (m *Memory) receivedTotalLocked(partID stock.PartID) int64 {
	var total int64
	for _, lot := range m.lots {
		if lot.PartID == partID {
			total += lot.Received
		}
	}
	return total
}

func (m *Memory) updateStockOutLocked(rec stock.StockOut) error {
	if _, ok := m.stockOuts[rec.ID]; !ok {
		return &stock.NotFoundError{Kind: "stock out", ID: string(rec.ID)}
	}
	m.stockOuts[rec.ID] = rec
	return nil
}

func (m *Memory) deleteStockOutLocked(id stock.StockOutID) error {
	if _, ok := m.stockOuts[id]; !ok {
		return &stock.NotFoundError{Kind: "stock out", ID: string(id)}
	}
	delete(m.stockOuts, id)
	return nil
}

func (m *Memory) getStockOutLocked(id stock.StockOutID) (*stock.StockOut, error) {
	rec, ok := m.stockOuts[id]
	if !ok {
		return nil, &stock.NotFoundError{Kind: "stock out", ID: string(id)}
	}
	return &rec, nil
}

func (m *Memory) listStockOutsLocked() []stock.StockOut {
	recs := make([]stock.StockOut, 0, len(m.stockOuts))
	for _, rec := range m.stockOuts {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].Date.Equal(recs[j].Date) {
			return recs[i].Date.After(recs[j].Date)
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs
}

func (m *Memory) stockOutTotalLocked(partID stock.PartID, exclude stock.StockOutID) int64 {
	var total int64
	for id, rec := range m.stockOuts {
		if rec.PartID == partID && (exclude == "" || id != exclude) {
			total += rec.Quantity
		}
	}
	return total
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView runs inside WithTx, which already holds the write lock.
type txView struct {
	m *Memory
}

func (tv *txView) SavePart(_ context.Context, p stock.SparePart) error {
	tv.m.savePartLocked(p)
	return nil
}

func (tv *txView) GetPart(_ context.Context, id stock.PartID) (*stock.SparePart, error) {
	return tv.m.getPartLocked(id)
}

func (tv *txView) ListParts(_ context.Context) ([]stock.SparePart, error) {
	return tv.m.listPartsLocked(), nil
}

func (tv *txView) DeletePart(_ context.Context, id stock.PartID) error {
	tv.m.deletePartLocked(id)
	return nil
}

func (tv *txView) InsertLot(_ context.Context, lot stock.Lot) error {
	tv.m.lots[lot.ID] = lot
	return nil
}

func (tv *txView) Lots(_ context.Context, partID stock.PartID, order stock.LotOrder) ([]stock.Lot, error) {
	return tv.m.lotsLocked(partID, order), nil
}

func (tv *txView) ListLots(_ context.Context) ([]stock.Lot, error) {
	return tv.m.listLotsLocked(), nil
}

func (tv *txView) SetLotRemaining(_ context.Context, id stock.LotID, remaining int64) error {
	return tv.m.setLotRemainingLocked(id, remaining)
}

func (tv *txView) ReceivedTotal(_ context.Context, partID stock.PartID) (int64, error) {
	return tv.m.receivedTotalLocked(partID), nil
}

func (tv *txView) InsertStockOut(_ context.Context, rec stock.StockOut) error {
	tv.m.stockOuts[rec.ID] = rec
	return nil
}

func (tv *txView) UpdateStockOut(_ context.Context, rec stock.StockOut) error {
	return tv.m.updateStockOutLocked(rec)
}

func (tv *txView) DeleteStockOut(_ context.Context, id stock.StockOutID) error {
	return tv.m.deleteStockOutLocked(id)
}

func (tv *txView) GetStockOut(_ context.Context, id stock.StockOutID) (*stock.StockOut, error) {
	return tv.m.getStockOutLocked(id)
}

func (tv *txView) ListStockOuts(_ context.Context) ([]stock.StockOut, error) {
	return tv.m.listStockOutsLocked(), nil
}

func (tv *txView) StockOutTotal(_ context.Context, partID stock.PartID, exclude stock.StockOutID) (int64, error) {
	return tv.m.stockOutTotalLocked(partID, exclude), nil
}
