package domain

import "testing"

func TestComputeSaleTotalsOrder(t *testing.T) {
	tests := []struct {
		name        string
		subtotal    int64
		percent     float64
		manual      int64
		wantPercent int64
		wantTotal   int64
	}{
		{"no discounts", 30000, 0, 0, 0, 30000},
		{"manual only", 30000, 0, 2000, 0, 28000},
		{"percent only", 10000, 10, 0, 1000, 9000},
		{"percent then manual", 10000, 10, 500, 1000, 8500},
		{"fractional percent rounds half up", 10000, 12.345, 0, 1235, 8765},
		{"hundred percent", 5000, 100, 0, 5000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeSaleTotals(tt.subtotal, tt.percent, tt.manual)
			if got.PercentDiscountCents != tt.wantPercent {
				t.Errorf("percent cents = %d, want %d", got.PercentDiscountCents, tt.wantPercent)
			}
			if got.TotalCents != tt.wantTotal {
				t.Errorf("total = %d, want %d", got.TotalCents, tt.wantTotal)
			}
		})
	}
}

func TestComputeSaleTotalsDeterministic(t *testing.T) {
	first := ComputeSaleTotals(33333, 7.77, 123)
	for i := 0; i < 100; i++ {
		if got := ComputeSaleTotals(33333, 7.77, 123); got != first {
			t.Fatalf("run %d produced %+v, first run %+v", i, got, first)
		}
	}
}

func TestUnitPriceFor(t *testing.T) {
	item := InventoryItem{
		UnitPriceCents:      2000,
		WholesalePriceCents: 1500,
		MinWholesaleQty:     10,
	}

	if got := UnitPriceFor(item, 5, SaleTypeRetail); got != 2000 {
		t.Errorf("retail price = %d, want 2000", got)
	}
	if got := UnitPriceFor(item, 50, SaleTypeRetail); got != 2000 {
		t.Errorf("retail sale ignores wholesale price, got %d", got)
	}
	if got := UnitPriceFor(item, 9, SaleTypeWholesale); got != 2000 {
		t.Errorf("below threshold = %d, want retail 2000", got)
	}
	if got := UnitPriceFor(item, 10, SaleTypeWholesale); got != 1500 {
		t.Errorf("at threshold = %d, want wholesale 1500", got)
	}

	noWholesale := InventoryItem{UnitPriceCents: 2000}
	if got := UnitPriceFor(noWholesale, 100, SaleTypeWholesale); got != 2000 {
		t.Errorf("item without wholesale price = %d, want 2000", got)
	}
}
