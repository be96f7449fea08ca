package usaspending

import (
	"context"
	"fmt"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

type pageMetadata struct {
	Page    int  `json:"page"`
	HasNext bool `json:"hasNext"`
}

// TransactionQuery selects the obligation transactions of one award.
// The zero value is not usable; obtain one from Client.Transactions.
// Mutators return a modified copy, so queries can be shared freely.
type TransactionQuery struct {
	client     *Client
	awardID    string
	pageSize   int
	maxRecords int
}

// Transactions starts a query for the transactions of an award.
func (c *Client) Transactions(generatedAwardID string) TransactionQuery {
	return TransactionQuery{
		client:   c,
		awardID:  generatedAwardID,
		pageSize: defaultPageSize,
	}
}

// PageSize sets the records fetched per request.
func (q TransactionQuery) PageSize(n int) TransactionQuery {
	q.pageSize = n
	return q
}

// Limit caps the total records materialized; zero means unlimited.
func (q TransactionQuery) Limit(n int) TransactionQuery {
	q.maxRecords = n
	return q
}

// All executes the query, paging until exhaustion or the record cap.
func (q TransactionQuery) All(ctx context.Context) ([]Transaction, error) {
	if err := validatePaging(q.awardID, q.pageSize, q.maxRecords); err != nil {
		return nil, err
	}

	var all []Transaction
	for page := 1; ; page++ {
		var resp struct {
			Results      []Transaction `json:"results"`
			PageMetadata pageMetadata  `json:"page_metadata"`
		}
		body := map[string]any{
			"award_id": q.awardID,
			"page":     page,
			"limit":    q.pageSize,
			"sort":     "action_date",
			"order":    "asc",
		}
		if err := q.client.postJSON(ctx, "/api/v2/transactions/", body, &resp); err != nil {
			return nil, fmt.Errorf("fetch transactions page %d for %s: %w", page, q.awardID, err)
		}
		all = append(all, resp.Results...)
		if q.maxRecords > 0 && len(all) >= q.maxRecords {
			return all[:q.maxRecords], nil
		}
		if !resp.PageMetadata.HasNext || len(resp.Results) == 0 {
			return all, nil
		}
	}
}

// FundingQuery selects the federal account funding rows of one award.
// Same immutability contract as TransactionQuery.
type FundingQuery struct {
	client     *Client
	awardID    string
	pageSize   int
	maxRecords int
}

// Funding starts a query for the funding records of an award.
func (c *Client) Funding(generatedAwardID string) FundingQuery {
	return FundingQuery{
		client:   c,
		awardID:  generatedAwardID,
		pageSize: defaultPageSize,
	}
}

// PageSize sets the records fetched per request.
func (q FundingQuery) PageSize(n int) FundingQuery {
	q.pageSize = n
	return q
}

// Limit caps the total records materialized; zero means unlimited.
func (q FundingQuery) Limit(n int) FundingQuery {
	q.maxRecords = n
	return q
}

// All executes the query, paging until exhaustion or the record cap.
func (q FundingQuery) All(ctx context.Context) ([]Funding, error) {
	if err := validatePaging(q.awardID, q.pageSize, q.maxRecords); err != nil {
		return nil, err
	}

	var all []Funding
	for page := 1; ; page++ {
		var resp struct {
			Results      []Funding    `json:"results"`
			PageMetadata pageMetadata `json:"page_metadata"`
		}
		body := map[string]any{
			"award_id": q.awardID,
			"page":     page,
			"limit":    q.pageSize,
			"sort":     "reporting_fiscal_date",
			"order":    "asc",
		}
		if err := q.client.postJSON(ctx, "/api/v2/awards/funding/", body, &resp); err != nil {
			return nil, fmt.Errorf("fetch funding page %d for %s: %w", page, q.awardID, err)
		}
		all = append(all, resp.Results...)
		if q.maxRecords > 0 && len(all) >= q.maxRecords {
			return all[:q.maxRecords], nil
		}
		if !resp.PageMetadata.HasNext || len(resp.Results) == 0 {
			return all, nil
		}
	}
}

func validatePaging(awardID string, pageSize, maxRecords int) error {
	if awardID == "" {
		return &ValidationError{Field: "award_id", Reason: "must not be empty"}
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		return &ValidationError{Field: "page_size", Reason: fmt.Sprintf("must be in 1..%d", maxPageSize)}
	}
	if maxRecords < 0 {
		return &ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	return nil
}
