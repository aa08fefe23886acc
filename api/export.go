/*
export.go - CSV download of an account's transaction history

PURPOSE:
  Streams the full filtered history (no pagination) as CSV for
  reconciliation against the external ledger. Amounts are rendered in
  major units with two decimal places.
*/
package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/bank-ledger/ledger"
	"github.com/warp/bank-ledger/metrics"
)

var csvHeader = []string{
	"record_id", "seq", "timestamp", "type", "direction",
	"amount", "counterparty", "cause", "external_reference",
}

// ExportHistory writes the account's history as a CSV attachment. The
// start/end/type filters match the JSON history endpoint; page parameters
// are ignored because the export always covers the whole window.
func (h *Handler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := historyFilter(r)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, err.Error(), "bad_request")
		return
	}

	id := accountID(r)
	if _, err := h.Query.Account(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("transactions-%s.csv", id)))
	metrics.HTTPRequests.WithLabelValues(r.Method, routePattern(r), "200").Inc()

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return
	}

	filter.PageSize = ledger.MaxPageSize
	for page := 1; ; page++ {
		filter.Page = page
		entries, err := h.Query.History(r.Context(), id, filter)
		if err != nil {
			// Headers are gone by now; the truncated file is the best we
			// can signal.
			return
		}
		for _, e := range entries {
			if err := cw.Write(csvRow(e)); err != nil {
				return
			}
		}
		if len(entries) < ledger.MaxPageSize {
			break
		}
	}
	cw.Flush()
}

func csvRow(e ledger.Entry) []string {
	return []string{
		string(e.ID),
		strconv.FormatUint(e.Seq, 10),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.Type),
		string(e.Direction),
		majorUnits(e.Amount),
		e.Counterparty,
		e.Cause,
		e.ExternalRef,
	}
}

// majorUnits renders minor units as a fixed-point decimal string, e.g.
// 150050 -> "1500.50".
func majorUnits(minor int64) string {
	return decimal.NewFromInt(minor).Shift(-2).StringFixed(2)
}
