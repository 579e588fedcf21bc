package stock

import (
	"context"
	"fmt"
	"time"
)

// Discrepancy is one violated invariant found by Reconcile.
type Discrepancy struct {
	PartID   PartID
	LotID    LotID // set for per-lot violations
	Code     string
	Message  string
	Expected int64
	Actual   int64
}

// ReconcileReport is the outcome of one audit pass.
type ReconcileReport struct {
	CheckedAt     time.Time
	PartsChecked  int
	LotsChecked   int
	Discrepancies []Discrepancy
}

func (r ReconcileReport) OK() bool { return len(r.Discrepancies) == 0 }

const (
	CodeConservation      = "conservation"
	CodeNegativeRemain    = "negative_remaining"
	CodeRemainOverReceipt = "remaining_over_received"
)

// Reconcile audits every part:
//
//	Σ lot.Remaining == Σ lot.Received − Σ stockOut.Quantity
//	lot.Remaining >= 0
//
// It also reports lots holding more than they received, which the
// newest-lot release policy can produce; callers decide whether that matters.
//
// All reads share one transaction, so a concurrent ledger write is either
// fully visible or not visible at all.
func Reconcile(ctx context.Context, s TxStore, at time.Time) (ReconcileReport, error) {
	var report ReconcileReport
	err := s.WithTx(ctx, func(tx Store) error {
		var err error
		report, err = reconcile(ctx, tx, at)
		return err
	})
	return report, err
}

func reconcile(ctx context.Context, s Store, at time.Time) (ReconcileReport, error) {
	report := ReconcileReport{CheckedAt: at}

	parts, err := s.ListParts(ctx)
	if err != nil {
		return report, err
	}

	for _, p := range parts {
		lots, err := s.Lots(ctx, p.ID, OldestFirst)
		if err != nil {
			return report, err
		}
		out, err := s.StockOutTotal(ctx, p.ID, "")
		if err != nil {
			return report, err
		}

		var received, remaining int64
		for _, lot := range lots {
			received += lot.Received
			remaining += lot.Remaining
			if lot.Remaining < 0 {
				report.Discrepancies = append(report.Discrepancies, Discrepancy{
					PartID: p.ID, LotID: lot.ID, Code: CodeNegativeRemain,
					Message: fmt.Sprintf("lot %s has negative remaining", lot.ID),
					Actual:  lot.Remaining,
				})
			}
			if lot.Remaining > lot.Received {
				report.Discrepancies = append(report.Discrepancies, Discrepancy{
					PartID: p.ID, LotID: lot.ID, Code: CodeRemainOverReceipt,
					Message:  fmt.Sprintf("lot %s holds more than it received", lot.ID),
					Expected: lot.Received,
					Actual:   lot.Remaining,
				})
			}
		}

		if expected := received - out; remaining != expected {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				PartID: p.ID, Code: CodeConservation,
				Message:  fmt.Sprintf("part %s: lots hold %d, ledger expects %d", p.ID, remaining, expected),
				Expected: expected,
				Actual:   remaining,
			})
		}

		report.PartsChecked++
		report.LotsChecked += len(lots)
	}

	return report, nil
}
