/*
scheduler.go - Automated stock reconciliation audit

PURPOSE:
  Periodically checks every part's lots against its stock-out history and
  records the result. A non-empty discrepancy list means some write path
  bypassed the allocation engine.

DESIGN:
  - robfig/cron drives the schedule (standard 5-field spec or @every)
  - One run at a time; overlapping ticks are skipped
  - Results land in reconciliation_runs and in the log

USAGE:
  scheduler := NewReconciliationScheduler(store, "@every 1h", logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - stock/reconcile.go: the audit itself
  - handlers.go: ReconciliationReport endpoint
*/
package api

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/store/sqlite"
)

// ReconciliationScheduler runs stock.Reconcile on a cron schedule.
type ReconciliationScheduler struct {
	Store    *sqlite.Store
	Schedule string
	Timeout  time.Duration

	cron   *cron.Cron
	logger *zap.Logger
}

// NewReconciliationScheduler creates a new scheduler. An empty schedule
// leaves it disabled.
func NewReconciliationScheduler(store *sqlite.Store, schedule string, logger *zap.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationScheduler{
		Store:    store,
		Schedule: schedule,
		Timeout:  2 * time.Minute,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   logger,
	}
}

// Start registers the job and starts the cron loop.
func (rs *ReconciliationScheduler) Start() error {
	if rs.Schedule == "" {
		rs.logger.Info("reconciliation scheduler disabled")
		return nil
	}
	if _, err := rs.cron.AddFunc(rs.Schedule, rs.runOnce); err != nil {
		return err
	}
	rs.cron.Start()
	rs.logger.Info("reconciliation scheduler started", zap.String("schedule", rs.Schedule))
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (rs *ReconciliationScheduler) Stop() {
	<-rs.cron.Stop().Done()
	rs.logger.Info("reconciliation scheduler stopped")
}

func (rs *ReconciliationScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), rs.Timeout)
	defer cancel()

	if _, err := rs.Run(ctx); err != nil {
		rs.logger.Error("reconciliation failed", zap.Error(err))
	}
}

// Run performs one audit and persists it.
func (rs *ReconciliationScheduler) Run(ctx context.Context) (stock.ReconcileReport, error) {
	report, err := stock.Reconcile(ctx, rs.Store, nowUTC())
	if err != nil {
		return report, err
	}
	if err := rs.Store.SaveReconcileRun(ctx, stock.NewID(), report); err != nil {
		return report, err
	}

	if report.OK() {
		rs.logger.Info("reconciliation clean",
			zap.Int("parts", report.PartsChecked),
			zap.Int("lots", report.LotsChecked),
		)
		return report, nil
	}
	for _, d := range report.Discrepancies {
		rs.logger.Warn("stock discrepancy",
			zap.String("part_id", string(d.PartID)),
			zap.String("lot_id", string(d.LotID)),
			zap.String("code", d.Code),
			zap.Int64("expected", d.Expected),
			zap.Int64("actual", d.Actual),
		)
	}
	return report, nil
}

func nowUTC() time.Time { return time.Now().UTC() }
