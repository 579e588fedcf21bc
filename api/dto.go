/*
dto.go - Data Transfer Objects for API requests and responses

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Prices travel as decimal.Decimal, which marshals to a JSON string
  ("12.50") and accepts either a string or a number on input.

DATES:
  Request dates are YYYY-MM-DD; RFC3339 timestamps are also accepted.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/store/sqlite"
)

const dateLayout = "2006-01-02"

// =============================================================================
// SPARE PARTS
// =============================================================================

type SparePartDTO struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  string          `json:"created_at,omitempty"`
}

type SparePartRequest struct {
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// =============================================================================
// STOCK IN
// =============================================================================

type StockInRequest struct {
	SparePartID     string `json:"spare_part_id"`
	StockInQuantity int64  `json:"stock_in_quantity"`
	StockInDate     string `json:"stock_in_date"`
}

// LotDTO is a stock-in lot. StockInQuantity is the remaining counter, the
// same field the allocation engine draws down.
type LotDTO struct {
	ID               string `json:"id"`
	SparePartID      string `json:"spare_part_id"`
	SparePartName    string `json:"spare_part_name,omitempty"`
	ReceivedQuantity int64  `json:"received_quantity"`
	StockInQuantity  int64  `json:"stock_in_quantity"`
	StockInDate      string `json:"stock_in_date"`
}

// =============================================================================
// STOCK OUT
// =============================================================================

type StockOutRequest struct {
	SparePartID        string          `json:"spare_part_id"`
	StockOutQuantity   int64           `json:"stock_out_quantity"`
	StockOutUnitPrice  decimal.Decimal `json:"stock_out_unit_price"`
	StockOutTotalPrice decimal.Decimal `json:"stock_out_total_price"`
	StockOutDate       string          `json:"stock_out_date"`
}

func (r StockOutRequest) toInput() (stock.StockOutInput, error) {
	date, err := parseDate(r.StockOutDate)
	if err != nil {
		return stock.StockOutInput{}, err
	}
	return stock.StockOutInput{
		PartID:     stock.PartID(r.SparePartID),
		Quantity:   r.StockOutQuantity,
		UnitPrice:  r.StockOutUnitPrice,
		TotalPrice: r.StockOutTotalPrice,
		Date:       date,
	}, nil
}

type StockOutDTO struct {
	ID                 string          `json:"id"`
	SparePartID        string          `json:"spare_part_id"`
	SparePartName      string          `json:"spare_part_name,omitempty"`
	StockOutQuantity   int64           `json:"stock_out_quantity"`
	StockOutUnitPrice  decimal.Decimal `json:"stock_out_unit_price"`
	StockOutTotalPrice decimal.Decimal `json:"stock_out_total_price"`
	StockOutDate       string          `json:"stock_out_date"`
}

// StockOutResponse is a written stock-out plus the lots it moved.
type StockOutResponse struct {
	StockOutDTO
	Lots []LotDTO `json:"lots"`
}

type AvailableDTO struct {
	SparePartID string `json:"spare_part_id"`
	Available   int64  `json:"available"`
}

// =============================================================================
// REPORTS
// =============================================================================

type DailyStockOutDTO struct {
	StockOutDate  string          `json:"stock_out_date"`
	SparePartID   string          `json:"spare_part_id"`
	SparePartName string          `json:"spare_part_name"`
	TotalQuantity int64           `json:"total_quantity"`
	TotalPrice    decimal.Decimal `json:"total_price"`
}

type StockStatusDTO struct {
	SparePartID       string `json:"spare_part_id"`
	SparePartName     string `json:"spare_part_name"`
	TotalStockIn      int64  `json:"total_stock_in"`
	TotalStockOut     int64  `json:"total_stock_out"`
	RemainingQuantity int64  `json:"remaining_quantity"`
	Available         int64  `json:"available"`
}

type DiscrepancyDTO struct {
	SparePartID string `json:"spare_part_id"`
	LotID       string `json:"lot_id,omitempty"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Expected    int64  `json:"expected"`
	Actual      int64  `json:"actual"`
}

type ReconciliationDTO struct {
	CheckedAt     string           `json:"checked_at"`
	PartsChecked  int              `json:"parts_checked"`
	LotsChecked   int              `json:"lots_checked"`
	OK            bool             `json:"ok"`
	Discrepancies []DiscrepancyDTO `json:"discrepancies"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// InsufficientStockDetails accompanies a 409.
type InsufficientStockDetails struct {
	SparePartID string `json:"spare_part_id"`
	Requested   int64  `json:"requested"`
	Available   int64  `json:"available"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toPartDTO(p stock.SparePart) SparePartDTO {
	return SparePartDTO{
		ID:         string(p.ID),
		Name:       p.Name,
		Category:   p.Category,
		UnitPrice:  p.UnitPrice,
		TotalPrice: p.TotalPrice,
		CreatedAt:  p.CreatedAt.Format(time.RFC3339),
	}
}

func toLotDTO(l stock.Lot, partName string) LotDTO {
	return LotDTO{
		ID:               string(l.ID),
		SparePartID:      string(l.PartID),
		SparePartName:    partName,
		ReceivedQuantity: l.Received,
		StockInQuantity:  l.Remaining,
		StockInDate:      l.ReceivedAt.Format(dateLayout),
	}
}

func toLotDTOs(lots []stock.Lot) []LotDTO {
	dtos := make([]LotDTO, len(lots))
	for i, l := range lots {
		dtos[i] = toLotDTO(l, "")
	}
	return dtos
}

func toStockOutDTO(r stock.StockOut, partName string) StockOutDTO {
	return StockOutDTO{
		ID:                 string(r.ID),
		SparePartID:        string(r.PartID),
		SparePartName:      partName,
		StockOutQuantity:   r.Quantity,
		StockOutUnitPrice:  r.UnitPrice,
		StockOutTotalPrice: r.TotalPrice,
		StockOutDate:       r.Date.Format(dateLayout),
	}
}

func toStockStatusDTO(s sqlite.StockStatus) StockStatusDTO {
	return StockStatusDTO{
		SparePartID:       string(s.PartID),
		SparePartName:     s.PartName,
		TotalStockIn:      s.TotalStockIn,
		TotalStockOut:     s.TotalStockOut,
		RemainingQuantity: s.Remaining,
		Available:         s.Available,
	}
}

func toReconciliationDTO(r stock.ReconcileReport) ReconciliationDTO {
	dto := ReconciliationDTO{
		CheckedAt:     r.CheckedAt.Format(time.RFC3339),
		PartsChecked:  r.PartsChecked,
		LotsChecked:   r.LotsChecked,
		OK:            r.OK(),
		Discrepancies: make([]DiscrepancyDTO, len(r.Discrepancies)),
	}
	for i, d := range r.Discrepancies {
		dto.Discrepancies[i] = DiscrepancyDTO{
			SparePartID: string(d.PartID),
			LotID:       string(d.LotID),
			Code:        d.Code,
			Message:     d.Message,
			Expected:    d.Expected,
			Actual:      d.Actual,
		}
	}
	return dto
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required (use YYYY-MM-DD)")
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD)", s)
	}
	return t.UTC(), nil
}
