package usaspending

import (
	"github.com/shopspring/decimal"
)

// AwardType tags the origin category of an award. Aggregation never
// branches on it; it travels with normalized records for reporting.
type AwardType string

// Award type tags as returned by the API's category field.
const (
	AwardTypeContract AwardType = "contract"
	AwardTypeGrant    AwardType = "grant"
	AwardTypeIDV      AwardType = "idv"
	AwardTypeLoan     AwardType = "loan"
	AwardTypeOther    AwardType = "other"
)

// ClassifyAward maps an upstream category string to an AwardType tag.
func ClassifyAward(category string) AwardType {
	switch category {
	case "contract":
		return AwardTypeContract
	case "grant":
		return AwardTypeGrant
	case "idv":
		return AwardTypeIDV
	case "loan":
		return AwardTypeLoan
	default:
		return AwardTypeOther
	}
}

// Recipient identifies the entity receiving an award, with its location
// resolved to state/district granularity when the API provides one.
type Recipient struct {
	Name      string `json:"recipient_name"`
	StateCode string `json:"state_code"`
}

// Award is the detail record for a single award identifier.
type Award struct {
	// GeneratedID is the API's internal award identifier
	// (e.g. "CONT_AWD_NNN12AA01C_8000_-NONE-_-NONE-").
	GeneratedID string    `json:"generated_unique_award_id"`
	DisplayID   string    `json:"piid"`
	Category    string    `json:"category"`
	Recipient   Recipient `json:"recipient"`
	StartDate   string    `json:"period_of_performance_start_date"`
	EndDate     string    `json:"period_of_performance_end_date"`
}

// Type returns the award's classified type tag.
func (a *Award) Type() AwardType { return ClassifyAward(a.Category) }

// Transaction is one obligation action against an award.
type Transaction struct {
	ID          string              `json:"id"`
	ActionDate  string              `json:"action_date"`
	Obligation  decimal.NullDecimal `json:"federal_action_obligation"`
	Description string              `json:"description"`
	// StateCode is the recipient location for this action, empty when the
	// API could not resolve one.
	StateCode string `json:"recipient_state_code"`
}

// Funding is one federal account funding row for an award, reported by
// fiscal period rather than action date.
type Funding struct {
	FiscalYear      int                 `json:"reporting_fiscal_year"`
	FiscalMonth     int                 `json:"reporting_fiscal_month"`
	ObligatedAmount decimal.NullDecimal `json:"transaction_obligated_amount"`
	GrossOutlay     decimal.NullDecimal `json:"gross_outlay_amount"`
	FederalAccount  string              `json:"federal_account"`
	AccountTitle    string              `json:"account_title"`
	IsQuarterly     bool                `json:"is_quarterly_submission"`
}
