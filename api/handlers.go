/*
handlers.go - HTTP API handlers for the spare-parts stock engine

ENDPOINTS:
  Spare parts:
    GET    /api/spareparts                 List parts
    POST   /api/spareparts                 Create part
    PUT    /api/spareparts/{id}            Update part
    DELETE /api/spareparts/{id}            Delete part (cascades lots + stock-outs)
    GET    /api/spareparts/{id}/available  Available quantity
    GET    /api/spareparts/{id}/lots       Lots, oldest first

  Stock in / out:
    GET    /api/stockin                    List lots
    POST   /api/stockin                    Receive a lot
    GET    /api/stockout                   List stock-outs
    POST   /api/stockout                   Record a stock-out (FIFO)
    PUT    /api/stockout/{id}              Edit a stock-out
    DELETE /api/stockout/{id}              Delete a stock-out

  Reports:
    GET    /api/reports/daily-stockout
    GET    /api/reports/stock-status
    GET    /api/reports/reconciliation     Latest invariant audit

  Scenarios:
    GET    /api/scenarios                  List demo scenarios
    GET    /api/scenarios/current          Currently loaded scenario
    POST   /api/scenarios/load             Load a demo scenario
    POST   /api/scenarios/reset            Clear all data

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 404: Part or stock-out not found
  - 409: Insufficient stock (details carry requested/available)
  - 503: Storage failure; nothing persisted, safe to retry
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Ledger *stock.Ledger
	logger *zap.Logger

	// Track currently loaded demo scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given store and ledger.
func NewHandler(store *sqlite.Store, ledger *stock.Ledger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Store: store, Ledger: ledger, logger: logger}
}

// =============================================================================
// SPARE PART HANDLERS
// =============================================================================

// ListSpareParts returns all parts.
func (h *Handler) ListSpareParts(w http.ResponseWriter, r *http.Request) {
	parts, err := h.Store.ListParts(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list spare parts", err)
		return
	}

	dtos := make([]SparePartDTO, len(parts))
	for i, p := range parts {
		dtos[i] = toPartDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSparePart creates a new part.
func (h *Handler) CreateSparePart(w http.ResponseWriter, r *http.Request) {
	var req SparePartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	part := stock.SparePart{
		ID:         stock.PartID(stock.NewID()),
		Name:       req.Name,
		Category:   req.Category,
		UnitPrice:  req.UnitPrice,
		TotalPrice: req.TotalPrice,
	}
	if err := h.Store.SavePart(r.Context(), part); err != nil {
		h.writeDomainError(w, "Failed to create spare part", err)
		return
	}

	saved, err := h.Store.GetPart(r.Context(), part.ID)
	if err != nil {
		h.writeDomainError(w, "Failed to load spare part", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPartDTO(*saved))
}

// UpdateSparePart overwrites a part's master data.
func (h *Handler) UpdateSparePart(w http.ResponseWriter, r *http.Request) {
	id := stock.PartID(chi.URLParam(r, "id"))

	var req SparePartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	existing, err := h.Store.GetPart(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get spare part", err)
		return
	}

	existing.Name = req.Name
	existing.Category = req.Category
	existing.UnitPrice = req.UnitPrice
	existing.TotalPrice = req.TotalPrice
	if err := h.Store.SavePart(r.Context(), *existing); err != nil {
		h.writeDomainError(w, "Failed to update spare part", err)
		return
	}
	writeJSON(w, http.StatusOK, toPartDTO(*existing))
}

// DeleteSparePart removes a part and everything recorded against it.
func (h *Handler) DeleteSparePart(w http.ResponseWriter, r *http.Request) {
	id := stock.PartID(chi.URLParam(r, "id"))
	if err := h.Ledger.DeletePart(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to delete spare part", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Spare part and related stock records deleted"})
}

// GetAvailable returns the part's available quantity.
func (h *Handler) GetAvailable(w http.ResponseWriter, r *http.Request) {
	id := stock.PartID(chi.URLParam(r, "id"))
	avail, err := h.Ledger.Available(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to compute availability", err)
		return
	}
	writeJSON(w, http.StatusOK, AvailableDTO{SparePartID: string(id), Available: avail})
}

// GetPartLots returns a part's lots in consumption order.
func (h *Handler) GetPartLots(w http.ResponseWriter, r *http.Request) {
	id := stock.PartID(chi.URLParam(r, "id"))
	part, err := h.Store.GetPart(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get spare part", err)
		return
	}
	lots, err := h.Store.Lots(r.Context(), id, stock.OldestFirst)
	if err != nil {
		h.writeDomainError(w, "Failed to list lots", err)
		return
	}

	dtos := make([]LotDTO, len(lots))
	for i, l := range lots {
		dtos[i] = toLotDTO(l, part.Name)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// STOCK IN HANDLERS
// =============================================================================

// ListStockIn returns every lot, newest first, with part names.
func (h *Handler) ListStockIn(w http.ResponseWriter, r *http.Request) {
	names, err := h.partNames(r)
	if err != nil {
		h.writeDomainError(w, "Failed to list spare parts", err)
		return
	}
	lots, err := h.Store.ListLots(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list stock in", err)
		return
	}

	dtos := make([]LotDTO, len(lots))
	for i, l := range lots {
		dtos[i] = toLotDTO(l, names[l.PartID])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateStockIn receives a new lot.
func (h *Handler) CreateStockIn(w http.ResponseWriter, r *http.Request) {
	var req StockInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := parseDate(req.StockInDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid stock_in_date", err)
		return
	}

	lot, err := h.Ledger.CreateStockIn(r.Context(), stock.PartID(req.SparePartID), req.StockInQuantity, date)
	if err != nil {
		h.writeDomainError(w, "Failed to create stock in", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLotDTO(lot, ""))
}

// =============================================================================
// STOCK OUT HANDLERS
// =============================================================================

// ListStockOut returns every stock-out, newest first, with part names.
func (h *Handler) ListStockOut(w http.ResponseWriter, r *http.Request) {
	names, err := h.partNames(r)
	if err != nil {
		h.writeDomainError(w, "Failed to list spare parts", err)
		return
	}
	recs, err := h.Store.ListStockOuts(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list stock out", err)
		return
	}

	dtos := make([]StockOutDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toStockOutDTO(rec, names[rec.PartID])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateStockOut records a stock-out and consumes lots FIFO.
func (h *Handler) CreateStockOut(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeStockOut(w, r)
	if !ok {
		return
	}

	res, err := h.Ledger.CreateStockOut(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, "Failed to create stock out", err)
		return
	}
	writeJSON(w, http.StatusCreated, StockOutResponse{
		StockOutDTO: toStockOutDTO(res.Record, ""),
		Lots:        toLotDTOs(res.Lots),
	})
}

// UpdateStockOut edits a stock-out and reconciles its lot deductions.
func (h *Handler) UpdateStockOut(w http.ResponseWriter, r *http.Request) {
	id := stock.StockOutID(chi.URLParam(r, "id"))
	in, ok := decodeStockOut(w, r)
	if !ok {
		return
	}

	res, err := h.Ledger.UpdateStockOut(r.Context(), id, in)
	if err != nil {
		h.writeDomainError(w, "Failed to update stock out", err)
		return
	}
	writeJSON(w, http.StatusOK, StockOutResponse{
		StockOutDTO: toStockOutDTO(res.Record, ""),
		Lots:        toLotDTOs(res.Lots),
	})
}

// DeleteStockOut removes a stock-out.
func (h *Handler) DeleteStockOut(w http.ResponseWriter, r *http.Request) {
	id := stock.StockOutID(chi.URLParam(r, "id"))
	lots, err := h.Ledger.DeleteStockOut(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to delete stock out", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Stock out record deleted",
		"lots":    toLotDTOs(lots),
	})
}

func decodeStockOut(w http.ResponseWriter, r *http.Request) (stock.StockOutInput, bool) {
	var req StockOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return stock.StockOutInput{}, false
	}
	in, err := req.toInput()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid stock_out_date", err)
		return stock.StockOutInput{}, false
	}
	return in, true
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// DailyStockOutReport returns stock-outs grouped by day and part.
func (h *Handler) DailyStockOutReport(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.DailyStockOuts(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to build daily stock out report", err)
		return
	}

	dtos := make([]DailyStockOutDTO, len(rows))
	for i, row := range rows {
		dtos[i] = DailyStockOutDTO{
			StockOutDate:  row.Date,
			SparePartID:   string(row.PartID),
			SparePartName: row.PartName,
			TotalQuantity: row.TotalQuantity,
			TotalPrice:    row.TotalPrice,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// StockStatusReport returns per-part totals.
func (h *Handler) StockStatusReport(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.StockStatuses(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to build stock status report", err)
		return
	}

	dtos := make([]StockStatusDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toStockStatusDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReconciliationReport returns the latest audit. ?run=true audits now.
func (h *Handler) ReconciliationReport(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("run") == "true" {
		report, err := stock.Reconcile(r.Context(), h.Store, nowUTC())
		if err != nil {
			h.writeDomainError(w, "Failed to reconcile", err)
			return
		}
		writeJSON(w, http.StatusOK, toReconciliationDTO(report))
		return
	}

	report, err := h.Store.LatestReconcileRun(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to load reconciliation run", err)
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "No reconciliation run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toReconciliationDTO(*report))
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) partNames(r *http.Request) (map[stock.PartID]string, error) {
	parts, err := h.Store.ListParts(r.Context())
	if err != nil {
		return nil, err
	}
	names := make(map[stock.PartID]string, len(parts))
	for _, p := range parts {
		names[p.ID] = p.Name
	}
	return names, nil
}

// writeDomainError maps engine errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var shortage *stock.InsufficientStockError
	switch {
	case errors.As(err, &shortage):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "Insufficient stock available",
			Code:  "insufficient_stock",
			Details: InsufficientStockDetails{
				SparePartID: string(shortage.PartID),
				Requested:   shortage.Requested,
				Available:   shortage.Available,
			},
		})
	case stock.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case stock.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "invalid", Details: err.Error()})
	case stock.IsRetryable(err):
		h.logger.Error(message, zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: message, Code: "storage_failure", Details: err.Error()})
	default:
		h.logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
