package stock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/stock/store"
)

func TestReconcile_CleanLedger(t *testing.T) {
	ctx := context.Background()
	l, mem := seedTwoLots(t, stock.DefaultLedgerConfig())
	_, err := l.CreateStockOut(ctx, out("P", 12))
	require.NoError(t, err)

	report, err := stock.Reconcile(ctx, mem, day(20))
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.Equal(t, 1, report.PartsChecked)
	assert.Equal(t, 2, report.LotsChecked)
	assert.Equal(t, day(20), report.CheckedAt)
}

func TestReconcile_FlagsOverReceipt(t *testing.T) {
	// GIVEN: the newest-lot policy pushed lot D2 above what it received
	// WHEN: auditing
	// THEN: a remaining_over_received finding, conservation still holds

	ctx := context.Background()
	l, mem := seedTwoLots(t, stock.DefaultLedgerConfig())
	res, err := l.CreateStockOut(ctx, out("P", 12))
	require.NoError(t, err)
	_, err = l.UpdateStockOut(ctx, res.Record.ID, out("P", 2))
	require.NoError(t, err)

	report, err := stock.Reconcile(ctx, mem, day(20))
	require.NoError(t, err)

	require.Len(t, report.Discrepancies, 1)
	d := report.Discrepancies[0]
	assert.Equal(t, stock.CodeRemainOverReceipt, d.Code)
	assert.Equal(t, int64(5), d.Expected)
	assert.Equal(t, int64(13), d.Actual)
	assert.NotEmpty(t, d.LotID)
}

func TestReconcile_FlagsTamperedLots(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	addPart(t, mem, "P")
	bad := lot("bad", 4, -1, day(1))
	bad.PartID = "P"
	require.NoError(t, mem.InsertLot(ctx, bad))

	report, err := stock.Reconcile(ctx, mem, day(2))
	require.NoError(t, err)

	codes := make([]string, 0, len(report.Discrepancies))
	for _, d := range report.Discrepancies {
		codes = append(codes, d.Code)
	}
	assert.ElementsMatch(t, []string{stock.CodeNegativeRemain, stock.CodeConservation}, codes)
}

// interleavingStore starts a ledger write as soon as the audit has read a
// part's lots, before it reads the stock-out total.
type interleavingStore struct {
	*store.Memory
	write func()
	once  sync.Once
}

func (s *interleavingStore) WithTx(ctx context.Context, fn func(stock.Store) error) error {
	return s.Memory.WithTx(ctx, func(tx stock.Store) error {
		return fn(&interleavingTx{Store: tx, parent: s})
	})
}

type interleavingTx struct {
	stock.Store
	parent *interleavingStore
}

func (tx *interleavingTx) Lots(ctx context.Context, partID stock.PartID, order stock.LotOrder) ([]stock.Lot, error) {
	lots, err := tx.Store.Lots(ctx, partID, order)
	tx.parent.once.Do(func() {
		go tx.parent.write()
		time.Sleep(20 * time.Millisecond)
	})
	return lots, err
}

func TestReconcile_ConcurrentWriteSeesConsistentSnapshot(t *testing.T) {
	// GIVEN: lots [10, 5] and a stock-out of 4 racing the audit
	// WHEN: the write is started between the audit's lot and total reads
	// THEN: the audit is clean and the write lands after it

	ctx := context.Background()
	l, mem := seedTwoLots(t, stock.DefaultLedgerConfig())

	var wg sync.WaitGroup
	wg.Add(1)
	var writeErr error
	s := &interleavingStore{Memory: mem, write: func() {
		defer wg.Done()
		_, writeErr = l.CreateStockOut(ctx, out("P", 4))
	}}

	report, err := stock.Reconcile(ctx, s, day(20))
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report.Discrepancies)

	wg.Wait()
	require.NoError(t, writeErr)
	assert.Equal(t, []int64{6, 5}, remaining(t, mem, "P"))

	report, err = stock.Reconcile(ctx, mem, day(21))
	require.NoError(t, err)
	assert.True(t, report.OK())
}
