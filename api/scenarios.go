/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the database with small, realistic stock histories that show
	FIFO consumption, edits that release stock, and multi-part activity.
	Every loader goes through the Ledger, so the data obeys the same rules
	as real traffic.

AVAILABLE SCENARIOS:

	fifo-basics:      Two lots, one stock-out spanning both
	edit-and-release: Same as fifo-basics, then the stock-out shrinks
	workshop-week:    Several parts, staggered deliveries, daily stock-outs
	low-stock:        A part with only a few units left

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create spare parts
 3. Receive lots via Ledger.CreateStockIn
 4. Record stock-outs via Ledger.CreateStockOut / UpdateStockOut

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "fifo-basics"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: shared helpers
  - store/sqlite: Reset
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fifo-basics",
		Name:        "FIFO Basics",
		Description: "Lots of 10 and 5 units; a stock-out of 12 drains the older lot first",
	},
	{
		ID:          "edit-and-release",
		Name:        "Edit and Release",
		Description: "The 12-unit stock-out is edited down to 9, returning 3 units to the newest lot",
	},
	{
		ID:          "workshop-week",
		Name:        "Workshop Week",
		Description: "Four parts, staggered deliveries and a week of daily stock-outs",
	},
	{
		ID:          "low-stock",
		Name:        "Low Stock",
		Description: "A part with 3 units left; any request above that is rejected",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "fifo-basics":
		load = h.loadFIFOBasics
	case "edit-and-release":
		load = h.loadEditAndRelease
	case "workshop-week":
		load = h.loadWorkshopWeek
	case "low-stock":
		load = h.loadLowStock
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeDomainError(w, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		h.logger.Error("scenario load failed", zap.String("scenario", req.ScenarioID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	h.logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(r.Context()); err != nil {
		h.writeDomainError(w, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// scenarioDay returns a date in the demo month.
func scenarioDay(d int) time.Time {
	return time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
}

func (h *Handler) loadFIFOBasics(ctx context.Context) error {
	_, err := h.seedOilFilter(ctx)
	return err
}

func (h *Handler) loadEditAndRelease(ctx context.Context) error {
	rec, err := h.seedOilFilter(ctx)
	if err != nil {
		return err
	}
	in := stock.StockOutInput{
		PartID:    rec.PartID,
		Quantity:  9,
		UnitPrice: rec.UnitPrice,
		Date:      rec.Date,
	}
	_, err = h.Ledger.UpdateStockOut(ctx, rec.ID, in)
	return err
}

// seedOilFilter creates lots [10 @ Mar 1], [5 @ Mar 2] and a stock-out of 12.
func (h *Handler) seedOilFilter(ctx context.Context) (stock.StockOut, error) {
	part, err := h.createDemoPart(ctx, "Oil filter", "filters", "7.50")
	if err != nil {
		return stock.StockOut{}, err
	}
	if err := h.receive(ctx, part, 10, 1); err != nil {
		return stock.StockOut{}, err
	}
	if err := h.receive(ctx, part, 5, 2); err != nil {
		return stock.StockOut{}, err
	}
	res, err := h.Ledger.CreateStockOut(ctx, stock.StockOutInput{
		PartID:    part.ID,
		Quantity:  12,
		UnitPrice: part.UnitPrice,
		Date:      scenarioDay(5),
	})
	return res.Record, err
}

func (h *Handler) loadWorkshopWeek(ctx context.Context) error {
	type delivery struct {
		qty int64
		day int
	}
	type usage struct {
		qty int64
		day int
	}
	catalogue := []struct {
		name, category, price string
		deliveries            []delivery
		usages                []usage
	}{
		{"Brake pad set", "brakes", "42.00",
			[]delivery{{8, 1}, {8, 4}},
			[]usage{{2, 3}, {4, 5}, {3, 6}}},
		{"Spark plug", "ignition", "6.25",
			[]delivery{{24, 1}},
			[]usage{{4, 3}, {8, 4}, {4, 7}}},
		{"Air filter", "filters", "11.90",
			[]delivery{{5, 2}, {5, 6}},
			[]usage{{1, 3}, {1, 5}, {5, 7}}},
		{"Coolant 5L", "fluids", "18.40",
			[]delivery{{6, 1}, {6, 5}, {6, 7}},
			[]usage{{3, 2}, {2, 4}, {6, 6}}},
	}

	for _, c := range catalogue {
		part, err := h.createDemoPart(ctx, c.name, c.category, c.price)
		if err != nil {
			return err
		}
		for _, d := range c.deliveries {
			if err := h.receive(ctx, part, d.qty, d.day); err != nil {
				return err
			}
		}
		for _, u := range c.usages {
			_, err := h.Ledger.CreateStockOut(ctx, stock.StockOutInput{
				PartID:    part.ID,
				Quantity:  u.qty,
				UnitPrice: part.UnitPrice,
				Date:      scenarioDay(u.day),
			})
			if err != nil {
				return fmt.Errorf("%s on day %d: %w", c.name, u.day, err)
			}
		}
	}
	return nil
}

func (h *Handler) loadLowStock(ctx context.Context) error {
	part, err := h.createDemoPart(ctx, "Timing belt", "engine", "64.00")
	if err != nil {
		return err
	}
	if err := h.receive(ctx, part, 4, 1); err != nil {
		return err
	}
	_, err = h.Ledger.CreateStockOut(ctx, stock.StockOutInput{
		PartID:    part.ID,
		Quantity:  1,
		UnitPrice: part.UnitPrice,
		Date:      scenarioDay(3),
	})
	return err
}

func (h *Handler) createDemoPart(ctx context.Context, name, category, price string) (stock.SparePart, error) {
	unit, err := decimal.NewFromString(price)
	if err != nil {
		return stock.SparePart{}, err
	}
	part := stock.SparePart{
		ID:        stock.PartID(stock.NewID()),
		Name:      name,
		Category:  category,
		UnitPrice: unit,
		CreatedAt: nowUTC(),
	}
	return part, h.Store.SavePart(ctx, part)
}

func (h *Handler) receive(ctx context.Context, part stock.SparePart, qty int64, day int) error {
	_, err := h.Ledger.CreateStockIn(ctx, part.ID, qty, scenarioDay(day))
	return err
}
