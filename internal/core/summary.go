package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// SpendingSummary is the expense total for a date range, broken down by
// category name. Amounts are positive.
type SpendingSummary struct {
	Range      DateRange
	Total      Money
	ByCategory []CategoryAmount
}
