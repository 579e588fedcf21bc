package stock

import "context"

// Available returns how much of a part can still be stocked out, skipping
// the exclude record when set. Never negative.
//
// Excluding a record is how an edit is validated: the record's own prior
// quantity is handed back before the new quantity is checked.
//
// Two figures are computed and the smaller wins:
//
//	Σ lot.Received − Σ stockOut.Quantity
//	Σ lot.Remaining + quantity(exclude)
//
// They agree while lots and records are in step. When a stock-out was
// deleted without restoring its lots the first overstates what the lots
// can actually supply, so only the second is drawable.
func Available(ctx context.Context, s Store, partID PartID, exclude StockOutID) (int64, error) {
	received, err := s.ReceivedTotal(ctx, partID)
	if err != nil {
		return 0, err
	}
	lots, err := s.Lots(ctx, partID, OldestFirst)
	if err != nil {
		return 0, err
	}
	var remaining int64
	for _, lot := range lots {
		if lot.Remaining > 0 {
			remaining += lot.Remaining
		}
	}

	outAll, err := s.StockOutTotal(ctx, partID, "")
	if err != nil {
		return 0, err
	}
	out := outAll
	if exclude != "" {
		if out, err = s.StockOutTotal(ctx, partID, exclude); err != nil {
			return 0, err
		}
	}
	// outAll − out is the excluded record's quantity when it belongs to
	// this part, zero otherwise.
	avail := min(received-out, remaining+outAll-out)
	if avail > 0 {
		return avail, nil
	}
	return 0, nil
}
