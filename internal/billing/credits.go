package billing

import "math"

// creditTier maps a maximum unit amount (minor units, inclusive) to the
// credits granted for one unit at that price.
type creditTier struct {
	maxAmount int64
	credits   int64
}

// creditTiers are ordered ascending; the first tier whose maxAmount covers the
// unit amount wins. Amounts above the highest tier fall back to a proportional
// estimate of 20 credits per whole currency unit.
var creditTiers = []creditTier{
	{maxAmount: 600, credits: 100},
	{maxAmount: 1100, credits: 250},
	{maxAmount: 1600, credits: 500},
	{maxAmount: 3100, credits: 1000},
}

const creditsPerUnitFallback = 20

// creditsForAmount converts one line item's unit amount into credits.
func creditsForAmount(unitAmount int64) int64 {
	if unitAmount <= 0 {
		return 0
	}
	for _, tier := range creditTiers {
		if unitAmount <= tier.maxAmount {
			return tier.credits
		}
	}
	return int64(math.Round(float64(unitAmount) / 100 * creditsPerUnitFallback))
}

// creditTotal evaluates a session's line items against the catalog: items
// outside the credit-bundle product are skipped, matching items contribute
// per-unit credits times quantity.
func creditTotal(catalog *Catalog, items []LineItem) int64 {
	var total int64
	for _, item := range items {
		if !catalog.IsCreditBundle(item.PriceID) {
			continue
		}
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		total += creditsForAmount(item.UnitAmount) * qty
	}
	return total
}
