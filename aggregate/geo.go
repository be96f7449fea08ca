package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/planetary-society/missionspend/normalize"
)

// GeoLogicVersion feeds the cache fingerprint for geographic aggregates.
const GeoLogicVersion = "geography-v1"

// RegionSpend is the aggregated amount for one state/district region.
// Records without a resolvable recipient location land in the
// normalize.UnknownRegion bucket rather than being dropped.
type RegionSpend struct {
	Region       string          `json:"region"`
	Amount       decimal.Decimal `json:"amount"`
	Transactions int             `json:"transaction_count"`
}

// RegionTotals folds records into per-region totals, keyed by region code
// alone. The rows come back sorted by region code so serialization is
// deterministic.
func RegionTotals(records []normalize.TransactionRecord) []RegionSpend {
	sums := make(map[string]decimal.Decimal)
	counts := make(map[string]int)
	for _, r := range records {
		region := r.Region
		if region == "" {
			region = normalize.UnknownRegion
		}
		sums[region] = sums[region].Add(r.Amount)
		counts[region]++
	}

	rows := make([]RegionSpend, 0, len(sums))
	for region, amount := range sums {
		rows = append(rows, RegionSpend{
			Region:       region,
			Amount:       amount,
			Transactions: counts[region],
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Region < rows[j].Region })
	return rows
}
