package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/domain"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/store"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/xid"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("PHARMCARE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PHARMCARE_TEST_DATABASE_URL not set; skipping postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaleLifecycleIntegration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	item, err := s.CreateItem(ctx, domain.InventoryItem{
		SKU:            xid.New("sku"),
		Name:           "Paracetamol 500mg",
		Category:       "analgesic",
		Unit:           "tablet",
		UnitPriceCents: 10000,
		CostPriceCents: 5000,
		ReorderLevel:   10,
	}, 100, "tester")
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if item.Quantity != 100 {
		t.Fatalf("initial quantity = %d, want 100", item.Quantity)
	}

	txID := xid.New("tx")
	sale, err := s.CreateSale(ctx, domain.Sale{
		TransactionID:       txID,
		SaleType:            domain.SaleTypeRetail,
		CashierID:           "tester",
		Lines:               []domain.SaleLine{{ItemID: item.ID, Qty: 3}},
		ManualDiscountCents: 2000,
		Payments:            []domain.PaymentRecord{{Method: "cash", AmountCents: 28000}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.TotalCents != 28000 {
		t.Fatalf("total = %d, want 28000", sale.TotalCents)
	}

	got, err := s.GetItemByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Quantity != 97 {
		t.Fatalf("quantity after sale = %d, want 97", got.Quantity)
	}

	// Same transaction id replayed resolves to the same sale.
	again, err := s.FindSaleByTransactionID(ctx, txID)
	if err != nil {
		t.Fatalf("find by transaction id: %v", err)
	}
	if again.ID != sale.ID {
		t.Fatalf("transaction id resolved to %s, want %s", again.ID, sale.ID)
	}

	receipt, err := s.GetReceipt(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if receipt.TotalCents != 28000 || len(receipt.Lines) != 1 {
		t.Fatalf("receipt snapshot = %+v", receipt)
	}

	refund, err := s.CreateRefund(ctx, domain.Refund{
		SaleID:      sale.ID,
		AmountCents: 10000,
		Reason:      "damaged blister",
		InitiatedBy: "tester",
		Lines:       []domain.RefundLine{{ItemID: item.ID, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("create refund: %v", err)
	}
	if refund.Status != domain.RefundPending {
		t.Fatalf("refund status = %s, want pending", refund.Status)
	}

	decided, err := s.DecideRefund(ctx, refund.ID, domain.RefundApproved, "manager", time.Now().UTC())
	if err != nil {
		t.Fatalf("approve refund: %v", err)
	}
	if decided.Status != domain.RefundApproved {
		t.Fatalf("refund status = %s, want approved", decided.Status)
	}

	if _, err := s.DecideRefund(ctx, refund.ID, domain.RefundRejected, "manager", time.Now().UTC()); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("re-deciding refund: err = %v, want ErrInvalidStateTransition", err)
	}

	got, err = s.GetItemByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Quantity != 98 {
		t.Fatalf("quantity after return = %d, want 98", got.Quantity)
	}

	replay, err := s.ReplayQuantity(ctx, item.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.InSync || replay.ReplayedQuantity != 98 {
		t.Fatalf("replay = %+v, want in sync at 98", replay)
	}
}

func TestInsufficientStockIntegration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	item, err := s.CreateItem(ctx, domain.InventoryItem{
		SKU:            xid.New("sku"),
		Name:           "ORS Sachet",
		UnitPriceCents: 500,
	}, 2, "tester")
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	_, err = s.CreateSale(ctx, domain.Sale{
		TransactionID: xid.New("tx"),
		SaleType:      domain.SaleTypeRetail,
		CashierID:     "tester",
		Lines:         []domain.SaleLine{{ItemID: item.ID, Qty: 5}},
		Payments:      []domain.PaymentRecord{{Method: "cash", AmountCents: 2500}},
	})

	var insufficient *store.InsufficientStockError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientStockError", err)
	}
	if insufficient.Requested != 5 || insufficient.Available != 2 {
		t.Fatalf("shortfall = %+v, want requested 5 available 2", insufficient)
	}

	got, err := s.GetItemByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.Quantity != 2 {
		t.Fatalf("quantity after failed sale = %d, want 2 (no partial deduction)", got.Quantity)
	}
}
