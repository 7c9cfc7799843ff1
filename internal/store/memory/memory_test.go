package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/domain"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/store"
)

func createItem(t *testing.T, s *Store, sku string, qty int) *domain.InventoryItem {
	t.Helper()
	item, err := s.CreateItem(context.Background(), domain.InventoryItem{
		SKU:            sku,
		Name:           "Test " + sku,
		UnitPriceCents: 1000,
		CostPriceCents: 400,
	}, qty, "tester")
	if err != nil {
		t.Fatalf("create item %s: %v", sku, err)
	}
	return item
}

func TestAppendMovementGuards(t *testing.T) {
	s := New()
	ctx := context.Background()
	item := createItem(t, s, "G-1", 10)

	// Zero delta is meaningless.
	if _, err := s.AppendMovement(ctx, domain.MovementRequest{
		ItemID: item.ID, QuantityChange: 0, Type: domain.MovementAdjustment, Reason: "noop", CreatedBy: "tester",
	}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("zero delta err = %v, want ErrInvalidRequest", err)
	}

	// Sale movements only come from the sale path.
	if _, err := s.AppendMovement(ctx, domain.MovementRequest{
		ItemID: item.ID, QuantityChange: -1, Type: domain.MovementSale, Reason: "sneaky", CreatedBy: "tester",
	}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("direct SALE err = %v, want ErrInvalidRequest", err)
	}

	// Additions cannot be negative.
	if _, err := s.AppendMovement(ctx, domain.MovementRequest{
		ItemID: item.ID, QuantityChange: -1, Type: domain.MovementAddition, Reason: "bad", CreatedBy: "tester",
	}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("negative ADDITION err = %v, want ErrInvalidRequest", err)
	}

	// Adjustments cannot take the quantity below zero.
	_, err := s.AppendMovement(ctx, domain.MovementRequest{
		ItemID: item.ID, QuantityChange: -11, Type: domain.MovementAdjustment, Reason: "writeoff", CreatedBy: "tester",
	})
	var insufficient *store.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("underflow err = %v, want InsufficientStockError", err)
	}
	if insufficient.Available != 10 {
		t.Fatalf("available = %d, want 10", insufficient.Available)
	}

	got, _ := s.GetItemByID(ctx, item.ID)
	if got.Quantity != 10 {
		t.Fatalf("quantity = %d, want 10 untouched", got.Quantity)
	}
}

func TestLedgerQueryFilters(t *testing.T) {
	s := New()
	ctx := context.Background()
	first := createItem(t, s, "L-1", 10)
	second := createItem(t, s, "L-2", 10)

	for i := 0; i < 3; i++ {
		if _, err := s.AppendMovement(ctx, domain.MovementRequest{
			ItemID: first.ID, QuantityChange: 1, Type: domain.MovementAddition, Reason: "restock", CreatedBy: "tester",
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if _, err := s.AppendMovement(ctx, domain.MovementRequest{
		ItemID: second.ID, QuantityChange: -2, Type: domain.MovementAdjustment, Reason: "damage", CreatedBy: "tester",
	}); err != nil {
		t.Fatalf("append adjustment: %v", err)
	}

	byItem, err := s.ListMovements(ctx, domain.LedgerQuery{ItemID: first.ID})
	if err != nil {
		t.Fatalf("list by item: %v", err)
	}
	// 1 INITIAL + 3 ADDITION.
	if len(byItem) != 4 {
		t.Fatalf("movements for item = %d, want 4", len(byItem))
	}
	for i := 1; i < len(byItem); i++ {
		if byItem[i].CreatedAt.Before(byItem[i-1].CreatedAt) {
			t.Fatal("movements not in created_at order")
		}
		if byItem[i].PreviousQuantity != byItem[i-1].NewQuantity {
			t.Fatalf("chain broken between %d and %d", i-1, i)
		}
	}

	byType, err := s.ListMovements(ctx, domain.LedgerQuery{Type: domain.MovementAdjustment})
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(byType) != 1 || byType[0].ItemID != second.ID {
		t.Fatalf("adjustments = %+v", byType)
	}

	limited, err := s.ListMovements(ctx, domain.LedgerQuery{ItemID: first.ID, Limit: 2})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited = %d, want 2", len(limited))
	}

	future := time.Now().UTC().Add(time.Hour)
	none, err := s.ListMovements(ctx, domain.LedgerQuery{From: &future})
	if err != nil {
		t.Fatalf("list future: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("future window = %d movements, want 0", len(none))
	}
}

func TestCreateSaleMergesRepeatedLines(t *testing.T) {
	s := New()
	ctx := context.Background()
	item := createItem(t, s, "M-1", 5)

	// Two lines for the same item asking for 6 in total against a stock of 5
	// must fail as a whole, not line by line.
	_, err := s.CreateSale(ctx, domain.Sale{
		TransactionID: "txn-merge-over",
		SaleType:      domain.SaleTypeRetail,
		CashierID:     "cashier",
		Lines: []domain.SaleLine{
			{ItemID: item.ID, Qty: 3},
			{ItemID: item.ID, Qty: 3},
		},
		Payments: []domain.PaymentRecord{{Method: "cash", AmountCents: 6000}},
	})
	var insufficient *store.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("oversell err = %v, want InsufficientStockError", err)
	}
	if insufficient.Requested != 6 || insufficient.Available != 5 {
		t.Fatalf("shortfall = requested %d available %d, want 6/5", insufficient.Requested, insufficient.Available)
	}

	got, _ := s.GetItemByID(ctx, item.ID)
	if got.Quantity != 5 {
		t.Fatalf("quantity = %d, want 5 untouched", got.Quantity)
	}
	saleMovements, err := s.ListMovements(ctx, domain.LedgerQuery{ItemID: item.ID, Type: domain.MovementSale})
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(saleMovements) != 0 {
		t.Fatalf("SALE movements = %d, want 0 after failed sale", len(saleMovements))
	}

	// Within stock, the repeated lines collapse into one merged line and one
	// SALE movement.
	sale, err := s.CreateSale(ctx, domain.Sale{
		TransactionID: "txn-merge-ok",
		SaleType:      domain.SaleTypeRetail,
		CashierID:     "cashier",
		Lines: []domain.SaleLine{
			{ItemID: item.ID, Qty: 2},
			{ItemID: item.ID, Qty: 2},
		},
		Payments: []domain.PaymentRecord{{Method: "cash", AmountCents: 4000}},
	})
	if err != nil {
		t.Fatalf("merged sale: %v", err)
	}
	if len(sale.Lines) != 1 || sale.Lines[0].Qty != 4 {
		t.Fatalf("lines = %+v, want one merged line of qty 4", sale.Lines)
	}
	saleMovements, err = s.ListMovements(ctx, domain.LedgerQuery{ItemID: item.ID, Type: domain.MovementSale})
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(saleMovements) != 1 || saleMovements[0].QuantityChange != -4 {
		t.Fatalf("SALE movements = %+v, want one of -4", saleMovements)
	}
	got, _ = s.GetItemByID(ctx, item.ID)
	if got.Quantity != 1 {
		t.Fatalf("quantity = %d, want 1", got.Quantity)
	}
}

func TestCreateItemRejectsDuplicateSKU(t *testing.T) {
	s := New()
	createItem(t, s, "DUP-1", 5)

	_, err := s.CreateItem(context.Background(), domain.InventoryItem{
		SKU:            "DUP-1",
		Name:           "Other",
		UnitPriceCents: 500,
	}, 0, "tester")
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("duplicate sku err = %v, want ErrInvalidRequest", err)
	}
}

func TestUpdateItemCannotTouchQuantity(t *testing.T) {
	s := New()
	ctx := context.Background()
	item := createItem(t, s, "Q-1", 42)

	modified := *item
	modified.Quantity = 9999
	modified.Name = "Renamed"
	updated, err := s.UpdateItem(ctx, modified)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Quantity != 42 {
		t.Fatalf("quantity = %d, want 42 (ledger owned)", updated.Quantity)
	}
	if updated.Name != "Renamed" {
		t.Fatalf("name = %s, want Renamed", updated.Name)
	}

	replay, err := s.ReplayQuantity(ctx, item.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.InSync {
		t.Fatalf("replay = %+v, want in sync", replay)
	}
}

func TestSeededCatalogReplaysClean(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	items, err := s.ListItems(ctx)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("seeded store has no items")
	}
	for _, item := range items {
		replay, err := s.ReplayQuantity(ctx, item.ID)
		if err != nil {
			t.Fatalf("replay %s: %v", item.SKU, err)
		}
		if !replay.InSync {
			t.Fatalf("seeded item %s out of sync: %+v", item.SKU, replay)
		}
	}
}
