package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/domain"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/store"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/xid"
)

// Store is a mutex-guarded in-memory Repository used for dev mode and unit
// tests. The single mutex gives the same effective serialization the postgres
// store gets from row locks: a sale's check-and-decrement can never interleave
// with another sale on the same item.
type Store struct {
	mu              sync.RWMutex
	items           map[string]domain.InventoryItem
	itemIDBySKU     map[string]string
	movements       []domain.StockMovement
	salesByID       map[string]domain.Sale
	saleIDByTxID    map[string]string
	receipts        map[string]domain.Receipt
	refundsByID     map[string]domain.Refund
	refundIDsBySale map[string][]string
	suppliersByID   map[string]domain.Supplier
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		items:           make(map[string]domain.InventoryItem),
		itemIDBySKU:     make(map[string]string),
		movements:       make([]domain.StockMovement, 0, 256),
		salesByID:       make(map[string]domain.Sale),
		saleIDByTxID:    make(map[string]string),
		receipts:        make(map[string]domain.Receipt),
		refundsByID:     make(map[string]domain.Refund),
		refundIDsBySale: make(map[string][]string),
		suppliersByID:   make(map[string]domain.Supplier),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
	}
}

// NewSeeded returns a store pre-loaded with a small pharmacy catalog. Initial
// quantities land as INITIAL ledger movements so replay works from the first
// request.
func NewSeeded() *Store {
	s := New()

	now := time.Now().UTC()
	supplier := domain.Supplier{ID: xid.New("sup"), Name: "MedPlus Distributors", Phone: "+2348000000001", CreatedAt: now}
	s.suppliersByID[supplier.ID] = supplier

	seed := []struct {
		item domain.InventoryItem
		qty  int
	}{
		{domain.InventoryItem{SKU: "PCM-500", Name: "Paracetamol 500mg", Category: "analgesic", Unit: "pack", UnitPriceCents: 1200, CostPriceCents: 700, WholesalePriceCents: 1000, MinWholesaleQty: 20, ReorderLevel: 30, SupplierID: supplier.ID}, 200},
		{domain.InventoryItem{SKU: "AMX-250", Name: "Amoxicillin 250mg", Category: "antibiotic", Unit: "pack", UnitPriceCents: 3500, CostPriceCents: 2200, WholesalePriceCents: 3100, MinWholesaleQty: 10, ReorderLevel: 25, SupplierID: supplier.ID}, 120},
		{domain.InventoryItem{SKU: "IBU-400", Name: "Ibuprofen 400mg", Category: "analgesic", Unit: "pack", UnitPriceCents: 1800, CostPriceCents: 1100, WholesalePriceCents: 1600, MinWholesaleQty: 15, ReorderLevel: 30, SupplierID: supplier.ID}, 150},
		{domain.InventoryItem{SKU: "VTC-1000", Name: "Vitamin C 1000mg", Category: "supplement", Unit: "bottle", UnitPriceCents: 4500, CostPriceCents: 2800, WholesalePriceCents: 4000, MinWholesaleQty: 12, ReorderLevel: 20, SupplierID: supplier.ID}, 80},
		{domain.InventoryItem{SKU: "ORS-01", Name: "Oral Rehydration Salts", Category: "rehydration", Unit: "sachet", UnitPriceCents: 500, CostPriceCents: 250, WholesalePriceCents: 400, MinWholesaleQty: 50, ReorderLevel: 60, SupplierID: supplier.ID}, 400},
		{domain.InventoryItem{SKU: "CSY-100", Name: "Cough Syrup 100ml", Category: "respiratory", Unit: "bottle", UnitPriceCents: 2600, CostPriceCents: 1500, WholesalePriceCents: 2300, MinWholesaleQty: 12, ReorderLevel: 15, SupplierID: supplier.ID}, 60},
	}

	for _, entry := range seed {
		if _, err := s.CreateItem(context.Background(), entry.item, entry.qty, "system"); err != nil {
			log.Printf("[memory-store] seed item %s failed: %v", entry.item.SKU, err)
		}
	}

	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables; hardcoded dev defaults are used otherwise.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// appendMovementLocked is the single quantity choke point. Callers must hold
// the write lock. The movement snapshots the item's prices at this instant and
// the cached quantity moves in lock-step with the appended row.
func (s *Store) appendMovementLocked(item *domain.InventoryItem, delta int, movementType domain.MovementType, reason string, referenceID string, actor string, at time.Time) (*domain.StockMovement, error) {
	next := item.Quantity + delta
	if next < 0 {
		return nil, &store.InsufficientStockError{
			ItemID:    item.ID,
			SKU:       item.SKU,
			Requested: -delta,
			Available: item.Quantity,
		}
	}

	movement := domain.StockMovement{
		ID:                   xid.New("mv"),
		ItemID:               item.ID,
		SKU:                  item.SKU,
		QuantityChange:       delta,
		PreviousQuantity:     item.Quantity,
		NewQuantity:          next,
		Type:                 movementType,
		Reason:               reason,
		ReferenceID:          referenceID,
		CostPriceAtTimeCents: item.CostPriceCents,
		UnitPriceAtTimeCents: item.UnitPriceCents,
		CreatedBy:            actor,
		CreatedAt:            at,
	}

	item.Quantity = next
	s.movements = append(s.movements, movement)
	s.items[item.ID] = *item
	return &movement, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.InventoryItem, initialQty int, actor string) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.SKU == "" || item.Name == "" || item.UnitPriceCents < 1 || item.CostPriceCents < 0 || initialQty < 0 {
		return nil, store.ErrInvalidRequest
	}
	if _, exists := s.itemIDBySKU[item.SKU]; exists {
		return nil, store.ErrInvalidRequest
	}

	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	item.Quantity = 0
	item.Active = true
	item.CreatedAt = now
	item.UpdatedAt = now

	s.items[item.ID] = item
	s.itemIDBySKU[item.SKU] = item.ID

	if initialQty > 0 {
		if _, err := s.appendMovementLocked(&item, initialQty, domain.MovementInitial, "initial stock", item.ID, actor, now); err != nil {
			delete(s.items, item.ID)
			delete(s.itemIDBySKU, item.SKU)
			return nil, err
		}
	}

	created := s.items[item.ID]
	return &created, nil
}

func (s *Store) GetItemByID(_ context.Context, id string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := item
	return &copied, nil
}

func (s *Store) GetItemBySKU(_ context.Context, sku string) (*domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.itemIDBySKU[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := s.items[id]
	return &copied, nil
}

func (s *Store) ListItems(_ context.Context) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryItem, 0, len(s.items))
	for _, item := range s.items {
		if !item.Active {
			continue
		}
		items = append(items, item)
	}
	sortItems(items)
	return items, nil
}

func (s *Store) ListLowStockItems(_ context.Context) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryItem, 0, 16)
	for _, item := range s.items {
		if !item.Active || item.Quantity > item.ReorderLevel {
			continue
		}
		items = append(items, item)
	}
	sortItems(items)
	return items, nil
}

func (s *Store) UpdateItem(_ context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.items[item.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	// Quantity is owned by the ledger; carry the stored value regardless of
	// what the caller passed.
	item.Quantity = existing.Quantity
	item.SKU = existing.SKU
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now().UTC()

	s.items[item.ID] = item
	updated := item
	return &updated, nil
}

func (s *Store) AppendMovement(_ context.Context, req domain.MovementRequest) (*domain.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.QuantityChange == 0 {
		return nil, store.ErrInvalidRequest
	}
	switch req.Type {
	case domain.MovementAdjustment, domain.MovementAddition:
	default:
		// SALE, RETURN and INITIAL movements are only appended by their owning
		// operations (CreateSale, DecideRefund, CreateItem).
		return nil, store.ErrInvalidRequest
	}
	if req.Type == domain.MovementAddition && req.QuantityChange < 0 {
		return nil, store.ErrInvalidRequest
	}

	item, exists := s.items[req.ItemID]
	if !exists {
		return nil, store.ErrNotFound
	}

	return s.appendMovementLocked(&item, req.QuantityChange, req.Type, req.Reason, req.ReferenceID, req.CreatedBy, time.Now().UTC())
}

// ReceiveStock applies the delivery's cost price, batch and supplier to the
// item and appends the ADDITION movement in the same unit of work, so the
// movement's cost snapshot always reflects the delivery that caused it.
func (s *Store) ReceiveStock(_ context.Context, req domain.StockReceiveRequest, actor string) (*domain.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ItemID == "" || req.Qty < 1 || req.CostPriceCents < 0 {
		return nil, store.ErrInvalidRequest
	}

	item, exists := s.items[req.ItemID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if req.CostPriceCents > 0 {
		item.CostPriceCents = req.CostPriceCents
	}
	if req.BatchNumber != "" {
		item.BatchNumber = req.BatchNumber
	}
	if req.SupplierID != "" {
		item.SupplierID = req.SupplierID
	}
	item.UpdatedAt = time.Now().UTC()

	return s.appendMovementLocked(&item, req.Qty, domain.MovementAddition, req.Reason, req.SupplierID, actor, time.Now().UTC())
}

func (s *Store) ListMovements(_ context.Context, q domain.LedgerQuery) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := q.Limit
	if limit < 1 {
		limit = 500
	}

	matched := make([]domain.StockMovement, 0, 64)
	for _, movement := range s.movements {
		if q.ItemID != "" && movement.ItemID != q.ItemID {
			continue
		}
		if q.Type != "" && movement.Type != q.Type {
			continue
		}
		if q.From != nil && movement.CreatedAt.Before(*q.From) {
			continue
		}
		if q.To != nil && !movement.CreatedAt.Before(*q.To) {
			continue
		}
		matched = append(matched, movement)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) ReplayQuantity(_ context.Context, itemID string) (domain.LedgerReplay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[itemID]
	if !exists {
		return domain.LedgerReplay{}, store.ErrNotFound
	}

	replayed := 0
	count := 0
	for _, movement := range s.movements {
		if movement.ItemID != itemID {
			continue
		}
		replayed += movement.QuantityChange
		count++
	}

	return domain.LedgerReplay{
		ItemID:           itemID,
		MovementCount:    count,
		ReplayedQuantity: replayed,
		CachedQuantity:   item.Quantity,
		InSync:           replayed == item.Quantity,
	}, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.TransactionID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidRequest
	}

	// Idempotent retry: the transaction id is already bound, hand back the
	// committed sale untouched.
	if saleID, exists := s.saleIDByTxID[sale.TransactionID]; exists {
		existing := s.salesByID[saleID]
		return &existing, nil
	}

	// Repeated item ids collapse into one line first, so the availability
	// check below always sees the full requested quantity per item.
	merged := make([]domain.SaleLine, 0, len(sale.Lines))
	indexByItem := make(map[string]int, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidRequest
		}
		if idx, seen := indexByItem[line.ItemID]; seen {
			merged[idx].Qty += line.Qty
			continue
		}
		indexByItem[line.ItemID] = len(merged)
		merged = append(merged, line)
	}
	sale.Lines = merged

	// Validate everything before mutating anything; the in-memory equivalent
	// of an all-or-nothing transaction.
	subtotal := int64(0)
	lines := make([]domain.SaleLine, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		item, exists := s.items[line.ItemID]
		if !exists || !item.Active {
			return nil, store.ErrNotFound
		}
		if item.Quantity < line.Qty {
			return nil, &store.InsufficientStockError{
				ItemID:    item.ID,
				SKU:       item.SKU,
				Requested: line.Qty,
				Available: item.Quantity,
			}
		}

		unitPrice := domain.UnitPriceFor(item, line.Qty, sale.SaleType)
		lines = append(lines, domain.SaleLine{
			ItemID:         item.ID,
			SKU:            item.SKU,
			Name:           item.Name,
			Qty:            line.Qty,
			UnitPriceCents: unitPrice,
			CostPriceCents: item.CostPriceCents,
			TotalCents:     unitPrice * int64(line.Qty),
		})
		subtotal += unitPrice * int64(line.Qty)
	}

	totals := domain.ComputeSaleTotals(subtotal, sale.PercentDiscount, sale.ManualDiscountCents)
	if sale.ManualDiscountCents < 0 || sale.PercentDiscount < 0 || sale.PercentDiscount > 100 || totals.TotalCents < 0 {
		return nil, store.ErrInvalidRequest
	}

	paymentTotal := int64(0)
	for _, payment := range sale.Payments {
		if payment.Method == "" || payment.AmountCents < 1 {
			return nil, store.ErrInvalidRequest
		}
		paymentTotal += payment.AmountCents
	}
	if paymentTotal != totals.TotalCents {
		return nil, &store.PaymentMismatchError{ExpectedCents: totals.TotalCents, ProvidedCents: paymentTotal}
	}

	now := time.Now().UTC()
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	sale.Lines = lines
	sale.SubtotalCents = totals.SubtotalCents
	sale.PercentDiscountCents = totals.PercentDiscountCents
	sale.TotalCents = totals.TotalCents
	sale.CreatedAt = now

	payments := make([]domain.PaymentRecord, 0, len(sale.Payments))
	for _, payment := range sale.Payments {
		payment.ID = xid.New("pay")
		payment.SaleID = sale.ID
		payment.CreatedAt = now
		payments = append(payments, payment)
	}
	sale.Payments = payments

	// All checks passed; apply ledger effects. Appends cannot fail now because
	// every quantity was verified under this same lock.
	for _, line := range sale.Lines {
		item := s.items[line.ItemID]
		if _, err := s.appendMovementLocked(&item, -line.Qty, domain.MovementSale, "sale", sale.ID, sale.CashierID, now); err != nil {
			return nil, err
		}
	}

	s.salesByID[sale.ID] = sale
	s.saleIDByTxID[sale.TransactionID] = sale.ID
	s.receipts[sale.ID] = buildReceipt(sale)

	created := sale
	return &created, nil
}

func buildReceipt(sale domain.Sale) domain.Receipt {
	payments := make([]domain.ReceiptPayment, 0, len(sale.Payments))
	for _, payment := range sale.Payments {
		payments = append(payments, domain.ReceiptPayment{
			Method:      payment.Method,
			AmountCents: payment.AmountCents,
			Reference:   payment.Reference,
		})
	}
	return domain.Receipt{
		SaleID:               sale.ID,
		TransactionID:        sale.TransactionID,
		SaleType:             sale.SaleType,
		CashierID:            sale.CashierID,
		Lines:                sale.Lines,
		SubtotalCents:        sale.SubtotalCents,
		PercentDiscount:      sale.PercentDiscount,
		PercentDiscountCents: sale.PercentDiscountCents,
		ManualDiscountCents:  sale.ManualDiscountCents,
		TotalCents:           sale.TotalCents,
		Payments:             payments,
		CreatedAt:            sale.CreatedAt,
	}
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := sale
	return &copied, nil
}

func (s *Store) FindSaleByTransactionID(_ context.Context, transactionID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saleID, exists := s.saleIDByTxID[transactionID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := s.salesByID[saleID]
	return &copied, nil
}

func (s *Store) GetReceipt(_ context.Context, saleID string) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, exists := s.receipts[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := receipt
	return &copied, nil
}

func (s *Store) CreateRefund(_ context.Context, refund domain.Refund) (*domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[refund.SaleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if refund.AmountCents < 1 || len(refund.Lines) == 0 {
		return nil, store.ErrInvalidRequest
	}

	if refund.AmountCents > sale.TotalCents-s.approvedRefundTotalLocked(sale.ID) {
		return nil, store.ErrInvalidRequest
	}
	if err := s.checkRefundLinesLocked(sale, refund.Lines); err != nil {
		return nil, err
	}

	if refund.ID == "" {
		refund.ID = xid.New("refund")
	}
	refund.Status = domain.RefundPending
	refund.CreatedAt = time.Now().UTC()
	refund.DecidedBy = ""
	refund.DecidedAt = nil

	s.refundsByID[refund.ID] = refund
	s.refundIDsBySale[refund.SaleID] = append(s.refundIDsBySale[refund.SaleID], refund.ID)

	created := refund
	return &created, nil
}

// approvedRefundTotalLocked sums approved refund amounts for a sale. Pending
// requests do not reserve refundable amount; approval re-checks the remainder.
func (s *Store) approvedRefundTotalLocked(saleID string) int64 {
	total := int64(0)
	for _, refundID := range s.refundIDsBySale[saleID] {
		refund := s.refundsByID[refundID]
		if refund.Status == domain.RefundApproved {
			total += refund.AmountCents
		}
	}
	return total
}

func (s *Store) approvedReturnedQtyLocked(saleID string) map[string]int {
	returned := make(map[string]int)
	for _, refundID := range s.refundIDsBySale[saleID] {
		refund := s.refundsByID[refundID]
		if refund.Status != domain.RefundApproved {
			continue
		}
		for _, line := range refund.Lines {
			returned[line.ItemID] += line.Qty
		}
	}
	return returned
}

func (s *Store) checkRefundLinesLocked(sale domain.Sale, lines []domain.RefundLine) error {
	soldByItem := make(map[string]int, len(sale.Lines))
	for _, line := range sale.Lines {
		soldByItem[line.ItemID] += line.Qty
	}
	returned := s.approvedReturnedQtyLocked(sale.ID)

	for _, line := range lines {
		if line.Qty < 1 {
			return store.ErrInvalidRequest
		}
		sold, exists := soldByItem[line.ItemID]
		if !exists {
			return store.ErrInvalidRequest
		}
		if returned[line.ItemID]+line.Qty > sold {
			return store.ErrInvalidRequest
		}
	}
	return nil
}

func (s *Store) GetRefundByID(_ context.Context, id string) (*domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refund, exists := s.refundsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := refund
	return &copied, nil
}

func (s *Store) ListRefundsBySale(_ context.Context, saleID string) ([]domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refunds := make([]domain.Refund, 0, len(s.refundIDsBySale[saleID]))
	for _, refundID := range s.refundIDsBySale[saleID] {
		refunds = append(refunds, s.refundsByID[refundID])
	}
	sort.Slice(refunds, func(i, j int) bool {
		return refunds[i].CreatedAt.Before(refunds[j].CreatedAt)
	})
	return refunds, nil
}

func (s *Store) DecideRefund(_ context.Context, refundID string, decision domain.RefundStatus, decidedBy string, at time.Time) (*domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refund, exists := s.refundsByID[refundID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if refund.Status != domain.RefundPending {
		return nil, store.ErrInvalidStateTransition
	}
	if decision != domain.RefundApproved && decision != domain.RefundRejected {
		return nil, store.ErrInvalidRequest
	}

	if decision == domain.RefundApproved {
		sale := s.salesByID[refund.SaleID]

		// Re-check against the approved totals at decision time: two pending
		// refunds can each pass initiation, only one may be approved.
		if refund.AmountCents > sale.TotalCents-s.approvedRefundTotalLocked(sale.ID) {
			return nil, store.ErrInvalidRequest
		}
		if err := s.checkRefundLinesLocked(sale, refund.Lines); err != nil {
			return nil, err
		}

		for _, line := range refund.Lines {
			item, exists := s.items[line.ItemID]
			if !exists {
				return nil, store.ErrNotFound
			}
			movement := domain.StockMovement{
				ID:                   xid.New("mv"),
				ItemID:               item.ID,
				SKU:                  item.SKU,
				QuantityChange:       line.Qty,
				PreviousQuantity:     item.Quantity,
				NewQuantity:          item.Quantity + line.Qty,
				Type:                 domain.MovementReturn,
				Reason:               "refund approved",
				ReferenceID:          refund.ID,
				CostPriceAtTimeCents: line.CostPriceCents,
				UnitPriceAtTimeCents: line.UnitPriceCents,
				CreatedBy:            decidedBy,
				CreatedAt:            at,
			}
			item.Quantity += line.Qty
			s.items[item.ID] = item
			s.movements = append(s.movements, movement)
		}
	}

	refund.Status = decision
	refund.DecidedBy = decidedBy
	decidedAt := at
	refund.DecidedAt = &decidedAt
	s.refundsByID[refundID] = refund

	decided := refund
	return &decided, nil
}

func (s *Store) GetRefundAnalytics(_ context.Context) (domain.RefundAnalytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type bucket struct {
		count int64
		total int64
	}
	byStatus := map[domain.RefundStatus]*bucket{}
	byInitiator := map[string]*bucket{}

	for _, refund := range s.refundsByID {
		if byStatus[refund.Status] == nil {
			byStatus[refund.Status] = &bucket{}
		}
		byStatus[refund.Status].count++
		byStatus[refund.Status].total += refund.AmountCents

		if byInitiator[refund.InitiatedBy] == nil {
			byInitiator[refund.InitiatedBy] = &bucket{}
		}
		byInitiator[refund.InitiatedBy].count++
		byInitiator[refund.InitiatedBy].total += refund.AmountCents
	}

	analytics := domain.RefundAnalytics{
		ByStatus:    make([]domain.RefundStatusCount, 0, len(byStatus)),
		ByInitiator: make([]domain.RefundInitiatorCount, 0, len(byInitiator)),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for status, b := range byStatus {
		analytics.ByStatus = append(analytics.ByStatus, domain.RefundStatusCount{Status: status, Count: b.count, TotalCents: b.total})
	}
	for initiator, b := range byInitiator {
		analytics.ByInitiator = append(analytics.ByInitiator, domain.RefundInitiatorCount{InitiatedBy: initiator, Count: b.count, TotalCents: b.total})
	}
	sort.Slice(analytics.ByStatus, func(i, j int) bool {
		return analytics.ByStatus[i].Status < analytics.ByStatus[j].Status
	})
	sort.Slice(analytics.ByInitiator, func(i, j int) bool {
		return analytics.ByInitiator[i].InitiatedBy < analytics.ByInitiator[j].InitiatedBy
	})
	return analytics, nil
}

func (s *Store) GetProfitRollup(_ context.Context, from time.Time, to time.Time) (domain.ProfitRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rollup := domain.ProfitRollup{
		From: from.Format(time.RFC3339),
		To:   to.Format(time.RFC3339),
	}
	for _, movement := range s.movements {
		if movement.CreatedAt.Before(from) || !movement.CreatedAt.Before(to) {
			continue
		}
		marginPerUnit := movement.UnitPriceAtTimeCents - movement.CostPriceAtTimeCents
		switch movement.Type {
		case domain.MovementSale:
			qty := -movement.QuantityChange
			rollup.SoldQty += qty
			rollup.GrossMarginCents += marginPerUnit * int64(qty)
		case domain.MovementReturn:
			rollup.ReturnedQty += movement.QuantityChange
			rollup.ReturnedMarginCents += marginPerUnit * int64(movement.QuantityChange)
		}
	}
	rollup.NetMarginCents = rollup.GrossMarginCents - rollup.ReturnedMarginCents
	return rollup, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	supplier.CreatedAt = time.Now().UTC()
	s.suppliersByID[supplier.ID] = supplier

	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, supplier := range s.suppliersByID {
		suppliers = append(suppliers, supplier)
	}
	sort.Slice(suppliers, func(i, j int) bool {
		return suppliers[i].Name < suppliers[j].Name
	})
	return suppliers, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}

	logs := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].CreatedAt.After(logs[j].CreatedAt)
	})
	if len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := user
	return &copied, nil
}

func sortItems(items []domain.InventoryItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Category == items[j].Category {
			return items[i].Name < items[j].Name
		}
		return items[i].Category < items[j].Category
	})
}
