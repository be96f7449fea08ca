// Package normalize maps heterogeneous award activity records into a
// uniform transaction stream with a stable dedup key. Records missing an
// action date or amount are counted and skipped, never fatal to a batch.
package normalize

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/planetary-society/missionspend/usaspending"
)

// UnknownRegion is the bucket for records whose recipient location could
// not be resolved to a state or district code.
const UnknownRegion = "unknown"

// TransactionRecord is the uniform shape all award activity reduces to.
// Aggregation operates on this type only and never branches on the origin
// award subtype.
type TransactionRecord struct {
	AwardID     string                `json:"award_id"`
	OriginType  usaspending.AwardType `json:"origin_type"`
	ActionDate  time.Time             `json:"action_date"`
	Amount      decimal.Decimal       `json:"amount"`
	Description string                `json:"description,omitempty"`
	// Region is the recipient state/district code, or UnknownRegion.
	Region string `json:"region"`
	// Sequence disambiguates otherwise-identical records when the
	// upstream supplies a row identifier; empty otherwise.
	Sequence string `json:"sequence,omitempty"`
}

// DedupKey identifies a record for duplicate collapsing. Two records with
// equal keys are the same upstream fact observed twice (overlapping pages,
// or an award surfaced under both a parent IDV and a child query).
func (r TransactionRecord) DedupKey() string {
	return strings.Join([]string{
		r.AwardID,
		r.ActionDate.Format("2006-01-02"),
		r.Amount.String(),
		r.Sequence,
	}, "|")
}

// MalformedRecordError describes a single unusable input record.
type MalformedRecordError struct {
	AwardID string
	Reason  string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record for award %s: %s", e.AwardID, e.Reason)
}

// Result carries the normalized records of one input batch together with
// an accounting of what was dropped.
type Result struct {
	Records []TransactionRecord
	// Skipped counts records rejected as malformed.
	Skipped int
}

// Normalizer converts raw API records into TransactionRecords.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a Normalizer.
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Transactions normalizes the obligation transactions of one award.
// The award supplies the origin type and the fallback recipient region.
func (n *Normalizer) Transactions(award *usaspending.Award, txs []usaspending.Transaction) Result {
	var res Result
	for _, tx := range txs {
		rec, err := n.transaction(award, tx)
		if err != nil {
			n.logger.Warn("skipping malformed record", slog.String("error", err.Error()))
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

func (n *Normalizer) transaction(award *usaspending.Award, tx usaspending.Transaction) (TransactionRecord, error) {
	if !tx.Obligation.Valid {
		return TransactionRecord{}, &MalformedRecordError{AwardID: award.GeneratedID, Reason: "missing obligation amount"}
	}
	date, err := ParseActionDate(tx.ActionDate)
	if err != nil {
		return TransactionRecord{}, &MalformedRecordError{AwardID: award.GeneratedID, Reason: err.Error()}
	}

	region := tx.StateCode
	if region == "" {
		region = award.Recipient.StateCode
	}
	return TransactionRecord{
		AwardID:     award.GeneratedID,
		OriginType:  award.Type(),
		ActionDate:  date,
		Amount:      tx.Obligation.Decimal,
		Description: tx.Description,
		Region:      normalizeRegion(region),
		Sequence:    tx.ID,
	}, nil
}

// Funding normalizes federal account funding rows. Funding reports by
// fiscal period, so the action date becomes the first day of the period's
// last calendar month, which buckets the row into its reporting fiscal
// year downstream.
func (n *Normalizer) Funding(award *usaspending.Award, rows []usaspending.Funding) Result {
	var res Result
	for _, row := range rows {
		rec, err := n.funding(award, row)
		if err != nil {
			n.logger.Warn("skipping malformed record", slog.String("error", err.Error()))
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	return res
}

func (n *Normalizer) funding(award *usaspending.Award, row usaspending.Funding) (TransactionRecord, error) {
	if !row.ObligatedAmount.Valid {
		return TransactionRecord{}, &MalformedRecordError{AwardID: award.GeneratedID, Reason: "missing obligated amount"}
	}
	date, err := fiscalPeriodDate(row.FiscalYear, row.FiscalMonth)
	if err != nil {
		return TransactionRecord{}, &MalformedRecordError{AwardID: award.GeneratedID, Reason: err.Error()}
	}
	return TransactionRecord{
		AwardID:    award.GeneratedID,
		OriginType: award.Type(),
		ActionDate: date,
		Amount:     row.ObligatedAmount.Decimal,
		Region:     normalizeRegion(award.Recipient.StateCode),
		// Built from upstream fields only, so a row observed twice through
		// overlapping pages carries the same dedup key both times.
		Sequence: "funding-" + row.FederalAccount,
	}, nil
}

// Dedup collapses records with identical dedup keys to one occurrence.
// Input order does not affect which records survive: duplicates are exact
// copies of the aggregation-relevant fields by construction of the key.
func Dedup(records []TransactionRecord) []TransactionRecord {
	seen := make(map[string]struct{}, len(records))
	out := records[:0:0]
	for _, r := range records {
		key := r.DedupKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}

// ParseActionDate parses the API's calendar date formats.
func ParseActionDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("missing action date")
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(24 * time.Hour), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable action date %q", s)
}

// fiscalPeriodDate converts a federal fiscal year and fiscal month
// (1 = October) to the first day of the matching calendar month.
func fiscalPeriodDate(fiscalYear, fiscalMonth int) (time.Time, error) {
	if fiscalYear <= 0 {
		return time.Time{}, fmt.Errorf("missing reporting fiscal year")
	}
	if fiscalMonth < 1 || fiscalMonth > 12 {
		return time.Time{}, fmt.Errorf("reporting fiscal month %d out of range", fiscalMonth)
	}
	if fiscalMonth <= 3 {
		return time.Date(fiscalYear-1, time.Month(fiscalMonth+9), 1, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Date(fiscalYear, time.Month(fiscalMonth-3), 1, 0, 0, 0, 0, time.UTC), nil
}

func normalizeRegion(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return UnknownRegion
	}
	return code
}
