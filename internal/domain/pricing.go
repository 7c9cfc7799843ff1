package domain

import "github.com/shopspring/decimal"

type SaleTotals struct {
	SubtotalCents        int64
	PercentDiscountCents int64
	TotalCents           int64
}

// ComputeSaleTotals applies the percentage discount first, then the manual
// absolute discount. The order is fixed; swapping it changes the final total.
// The percentage amount is computed in exact decimal arithmetic and rounded
// half-up to a whole cent, so the same inputs always produce the same total.
func ComputeSaleTotals(subtotalCents int64, percentDiscount float64, manualDiscountCents int64) SaleTotals {
	pctCents := decimal.NewFromInt(subtotalCents).
		Mul(decimal.NewFromFloat(percentDiscount)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()

	return SaleTotals{
		SubtotalCents:        subtotalCents,
		PercentDiscountCents: pctCents,
		TotalCents:           subtotalCents - pctCents - manualDiscountCents,
	}
}

// UnitPriceFor resolves the per-unit price for a line: wholesale sales use the
// wholesale price once the configured minimum quantity is met, everything else
// uses the retail unit price.
func UnitPriceFor(item InventoryItem, qty int, saleType SaleType) int64 {
	if saleType == SaleTypeWholesale &&
		item.WholesalePriceCents > 0 &&
		item.MinWholesaleQty > 0 &&
		qty >= item.MinWholesaleQty {
		return item.WholesalePriceCents
	}
	return item.UnitPriceCents
}
