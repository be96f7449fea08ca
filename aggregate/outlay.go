// Package aggregate folds a mission's normalized transaction stream into
// the published aggregates: a cumulative fiscal-year outlay series and a
// spend-by-region table. Both folds are pure grouping and summation, so
// results are independent of input ordering.
package aggregate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/planetary-society/missionspend/normalize"
)

// OutlayLogicVersion feeds the cache fingerprint: bump it whenever the
// bucketing or summation semantics below change, so stale entries are
// invalidated without a manual purge.
const OutlayLogicVersion = "outlays-v1"

// FiscalBucket is one fiscal year of the cumulative outlay series.
type FiscalBucket struct {
	FiscalYear int `json:"fiscal_year"`
	// Cumulative is the lifetime obligated total through this year.
	// De-obligations are summed in, so the series may decrease.
	Cumulative decimal.Decimal `json:"cumulative_obligated"`
	// Transactions counts the records contributing to this year alone.
	Transactions int `json:"transaction_count"`
}

// InvariantError reports an internal aggregation inconsistency. It fails
// the single mission being computed and is never silently corrected.
type InvariantError struct {
	Detail string
}

func (e *InvariantError) Error() string {
	return "aggregation invariant violated: " + e.Detail
}

// FiscalYear returns the U.S. federal fiscal year of a date: October
// through December belong to the next calendar year's label.
func FiscalYear(t time.Time) int {
	if t.Month() >= time.October {
		return t.Year() + 1
	}
	return t.Year()
}

// OutlaySeries folds records into an ordered, gap-free cumulative series
// spanning the first through last observed fiscal year. Years with no
// activity appear with a zero delta so downstream time series stay
// contiguous. An empty input yields an empty series.
func OutlaySeries(records []normalize.TransactionRecord) ([]FiscalBucket, error) {
	if len(records) == 0 {
		return []FiscalBucket{}, nil
	}

	sums := make(map[int]decimal.Decimal)
	counts := make(map[int]int)
	first, last := 0, 0
	for _, r := range records {
		fy := FiscalYear(r.ActionDate)
		sums[fy] = sums[fy].Add(r.Amount)
		counts[fy]++
		if first == 0 || fy < first {
			first = fy
		}
		if fy > last {
			last = fy
		}
	}

	series := make([]FiscalBucket, 0, last-first+1)
	running := decimal.Zero
	for fy := first; fy <= last; fy++ {
		running = running.Add(sums[fy])
		series = append(series, FiscalBucket{
			FiscalYear:   fy,
			Cumulative:   running,
			Transactions: counts[fy],
		})
	}

	if err := checkSeries(series, len(records)); err != nil {
		return nil, err
	}
	return series, nil
}

// checkSeries verifies structural invariants of a computed series.
func checkSeries(series []FiscalBucket, recordCount int) error {
	total := 0
	for i, b := range series {
		if b.Transactions < 0 {
			return &InvariantError{Detail: fmt.Sprintf("negative transaction count in FY%d", b.FiscalYear)}
		}
		if i > 0 && b.FiscalYear != series[i-1].FiscalYear+1 {
			return &InvariantError{Detail: fmt.Sprintf("fiscal year gap between FY%d and FY%d", series[i-1].FiscalYear, b.FiscalYear)}
		}
		total += b.Transactions
	}
	if total != recordCount {
		return &InvariantError{Detail: fmt.Sprintf("series accounts for %d of %d records", total, recordCount)}
	}
	return nil
}
