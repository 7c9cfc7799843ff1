package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/domain"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/store"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const itemColumns = `
	id, sku, name, category, unit, quantity,
	unit_price_cents, cost_price_cents, wholesale_price_cents, min_wholesale_qty,
	reorder_level, batch_number, expiry_date, supplier_id, active, created_at, updated_at
`

func scanItem(row interface{ Scan(...any) error }) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	var batchNumber, supplierID sql.NullString
	var expiryDate sql.NullTime
	if err := row.Scan(
		&item.ID, &item.SKU, &item.Name, &item.Category, &item.Unit, &item.Quantity,
		&item.UnitPriceCents, &item.CostPriceCents, &item.WholesalePriceCents, &item.MinWholesaleQty,
		&item.ReorderLevel, &batchNumber, &expiryDate, &supplierID, &item.Active, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return nil, err
	}
	item.BatchNumber = batchNumber.String
	item.SupplierID = supplierID.String
	if expiryDate.Valid {
		e := expiryDate.Time.UTC()
		item.ExpiryDate = &e
	}
	return &item, nil
}

func (s *Store) CreateItem(ctx context.Context, item domain.InventoryItem, initialQty int, actor string) (*domain.InventoryItem, error) {
	if item.SKU == "" || item.Name == "" || item.UnitPriceCents < 1 || item.CostPriceCents < 0 || initialQty < 0 {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if item.ID == "" {
		item.ID = xid.New("item")
	}
	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory_items (
			id, sku, name, category, unit, quantity,
			unit_price_cents, cost_price_cents, wholesale_price_cents, min_wholesale_qty,
			reorder_level, batch_number, expiry_date, supplier_id, active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,0,$6,$7,$8,$9,$10,$11,$12,$13,true,$14,$14)
	`, item.ID, item.SKU, item.Name, item.Category, item.Unit,
		item.UnitPriceCents, item.CostPriceCents, item.WholesalePriceCents, item.MinWholesaleQty,
		item.ReorderLevel, nullIfEmpty(item.BatchNumber), nullTime(item.ExpiryDate), nullIfEmpty(item.SupplierID), now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRequest
		}
		return nil, err
	}

	if initialQty > 0 {
		locked, err := lockItemTx(ctx, tx, item.ID)
		if err != nil {
			return nil, err
		}
		if _, err := appendMovementTx(ctx, tx, locked, initialQty, domain.MovementInitial, "initial stock", item.ID, actor, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetItemByID(ctx, item.ID)
}

func (s *Store) GetItemByID(ctx context.Context, id string) (*domain.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return item, err
}

func (s *Store) GetItemBySKU(ctx context.Context, sku string) (*domain.InventoryItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE sku = $1`, sku)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return item, err
}

func (s *Store) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectItems(rows)
}

func (s *Store) ListLowStockItems(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM inventory_items
		WHERE active = true AND quantity <= reorder_level
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]domain.InventoryItem, error) {
	items := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *Store) UpdateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error) {
	// Quantity and sku deliberately absent: quantity belongs to the ledger,
	// sku is the stable external identity.
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_items
		SET name = $1, category = $2, unit = $3,
			unit_price_cents = $4, cost_price_cents = $5, wholesale_price_cents = $6,
			min_wholesale_qty = $7, reorder_level = $8, batch_number = $9,
			expiry_date = $10, supplier_id = $11, active = $12, updated_at = now()
		WHERE id = $13
	`, item.Name, item.Category, item.Unit,
		item.UnitPriceCents, item.CostPriceCents, item.WholesalePriceCents,
		item.MinWholesaleQty, item.ReorderLevel, nullIfEmpty(item.BatchNumber),
		nullTime(item.ExpiryDate), nullIfEmpty(item.SupplierID), item.Active, item.ID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetItemByID(ctx, item.ID)
}

// lockedItem carries the fields appendMovementTx snapshots, read under FOR UPDATE.
type lockedItem struct {
	id             string
	sku            string
	quantity       int
	costPriceCents int64
	unitPriceCents int64
}

func lockItemTx(ctx context.Context, tx *sql.Tx, itemID string) (*lockedItem, error) {
	var item lockedItem
	err := tx.QueryRowContext(ctx, `
		SELECT id, sku, quantity, cost_price_cents, unit_price_cents
		FROM inventory_items
		WHERE id = $1
		FOR UPDATE
	`, itemID).Scan(&item.id, &item.sku, &item.quantity, &item.costPriceCents, &item.unitPriceCents)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// appendMovementTx is the ledger choke point: one immutable row appended and
// the cached quantity column moved in lock-step, inside the caller's
// transaction. The caller must have locked the item row.
func appendMovementTx(ctx context.Context, tx *sql.Tx, item *lockedItem, delta int, movementType domain.MovementType, reason string, referenceID string, actor string, at time.Time) (*domain.StockMovement, error) {
	next := item.quantity + delta
	if next < 0 {
		return nil, &store.InsufficientStockError{
			ItemID:    item.id,
			SKU:       item.sku,
			Requested: -delta,
			Available: item.quantity,
		}
	}

	movement := domain.StockMovement{
		ID:                   xid.New("mv"),
		ItemID:               item.id,
		SKU:                  item.sku,
		QuantityChange:       delta,
		PreviousQuantity:     item.quantity,
		NewQuantity:          next,
		Type:                 movementType,
		Reason:               reason,
		ReferenceID:          referenceID,
		CostPriceAtTimeCents: item.costPriceCents,
		UnitPriceAtTimeCents: item.unitPriceCents,
		CreatedBy:            actor,
		CreatedAt:            at,
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (
			id, item_id, sku, quantity_change, previous_quantity, new_quantity,
			movement_type, reason, reference_id, cost_price_at_time_cents,
			unit_price_at_time_cents, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, movement.ID, movement.ItemID, movement.SKU, movement.QuantityChange, movement.PreviousQuantity,
		movement.NewQuantity, movement.Type, nullIfEmpty(movement.Reason), nullIfEmpty(movement.ReferenceID),
		movement.CostPriceAtTimeCents, movement.UnitPriceAtTimeCents, movement.CreatedBy, movement.CreatedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET quantity = $1, updated_at = now()
		WHERE id = $2
	`, next, item.id)
	if err != nil {
		return nil, err
	}

	item.quantity = next
	return &movement, nil
}

func (s *Store) AppendMovement(ctx context.Context, req domain.MovementRequest) (*domain.StockMovement, error) {
	if req.QuantityChange == 0 {
		return nil, store.ErrInvalidRequest
	}
	switch req.Type {
	case domain.MovementAdjustment, domain.MovementAddition:
	default:
		return nil, store.ErrInvalidRequest
	}
	if req.Type == domain.MovementAddition && req.QuantityChange < 0 {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	item, err := lockItemTx(ctx, tx, req.ItemID)
	if err != nil {
		return nil, err
	}

	movement, err := appendMovementTx(ctx, tx, item, req.QuantityChange, req.Type, req.Reason, req.ReferenceID, req.CreatedBy, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return movement, nil
}

// ReceiveStock updates the item's cost price, batch and supplier from the
// delivery and appends the ADDITION movement inside the same transaction, so
// the movement's cost snapshot always reflects the delivery that caused it.
func (s *Store) ReceiveStock(ctx context.Context, req domain.StockReceiveRequest, actor string) (*domain.StockMovement, error) {
	if req.ItemID == "" || req.Qty < 1 || req.CostPriceCents < 0 {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	item, err := lockItemTx(ctx, tx, req.ItemID)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET cost_price_cents = CASE WHEN $1 > 0 THEN $1 ELSE cost_price_cents END,
			batch_number = COALESCE($2, batch_number),
			supplier_id = COALESCE($3, supplier_id),
			updated_at = now()
		WHERE id = $4
	`, req.CostPriceCents, nullIfEmpty(req.BatchNumber), nullIfEmpty(req.SupplierID), req.ItemID)
	if err != nil {
		return nil, err
	}
	if req.CostPriceCents > 0 {
		item.costPriceCents = req.CostPriceCents
	}

	movement, err := appendMovementTx(ctx, tx, item, req.Qty, domain.MovementAddition, req.Reason, req.SupplierID, actor, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return movement, nil
}

func (s *Store) ListMovements(ctx context.Context, q domain.LedgerQuery) ([]domain.StockMovement, error) {
	limit := q.Limit
	if limit < 1 {
		limit = 500
	}

	// The filter set is closed: every predicate below is a fixed clause bound
	// to a typed parameter. No request-supplied sort or column names.
	query := `
		SELECT id, item_id, sku, quantity_change, previous_quantity, new_quantity,
			movement_type, COALESCE(reason, ''), COALESCE(reference_id, ''),
			cost_price_at_time_cents, unit_price_at_time_cents, created_by, created_at
		FROM stock_movements
		WHERE 1=1
	`
	args := make([]any, 0, 5)
	if q.ItemID != "" {
		args = append(args, q.ItemID)
		query += fmt.Sprintf(" AND item_id = $%d", len(args))
	}
	if q.Type != "" {
		args = append(args, string(q.Type))
		query += fmt.Sprintf(" AND movement_type = $%d", len(args))
	}
	if q.From != nil {
		args = append(args, *q.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if q.To != nil {
		args = append(args, *q.To)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, 64)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(
			&m.ID, &m.ItemID, &m.SKU, &m.QuantityChange, &m.PreviousQuantity, &m.NewQuantity,
			&m.Type, &m.Reason, &m.ReferenceID,
			&m.CostPriceAtTimeCents, &m.UnitPriceAtTimeCents, &m.CreatedBy, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *Store) ReplayQuantity(ctx context.Context, itemID string) (domain.LedgerReplay, error) {
	var cached int
	err := s.db.QueryRowContext(ctx, `SELECT quantity FROM inventory_items WHERE id = $1`, itemID).Scan(&cached)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerReplay{}, store.ErrNotFound
	}
	if err != nil {
		return domain.LedgerReplay{}, err
	}

	var replayed, count int
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity_change), 0), COUNT(*)
		FROM stock_movements
		WHERE item_id = $1
	`, itemID).Scan(&replayed, &count)
	if err != nil {
		return domain.LedgerReplay{}, err
	}

	return domain.LedgerReplay{
		ItemID:           itemID,
		MovementCount:    count,
		ReplayedQuantity: replayed,
		CachedQuantity:   cached,
		InSync:           replayed == cached,
	}, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.TransactionID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	sale.CreatedAt = now

	// Repeated item ids collapse into one line so the quantity check sees the
	// full requested amount per item.
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

	// Lock every touched item up front in sorted id order, so two concurrent
	// sales listing the same items can never lock them in opposite order and
	// deadlock. Then snapshot prices and check quantities under those locks.
	ids := make([]string, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		ids = append(ids, line.ItemID)
	}
	sort.Strings(ids)
	lockedItems := make(map[string]*lockedItem, len(ids))
	for _, id := range ids {
		locked, err := lockItemTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		lockedItems[id] = locked
	}

	subtotal := int64(0)
	lines := make([]domain.SaleLine, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		locked := lockedItems[line.ItemID]

		var name string
		var wholesaleCents int64
		var minWholesale int
		var active bool
		err = tx.QueryRowContext(ctx, `
			SELECT name, wholesale_price_cents, min_wholesale_qty, active
			FROM inventory_items
			WHERE id = $1
		`, line.ItemID).Scan(&name, &wholesaleCents, &minWholesale, &active)
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, store.ErrNotFound
		}
		if locked.quantity < line.Qty {
			return nil, &store.InsufficientStockError{
				ItemID:    locked.id,
				SKU:       locked.sku,
				Requested: line.Qty,
				Available: locked.quantity,
			}
		}

		unitPrice := domain.UnitPriceFor(domain.InventoryItem{
			UnitPriceCents:      locked.unitPriceCents,
			WholesalePriceCents: wholesaleCents,
			MinWholesaleQty:     minWholesale,
		}, line.Qty, sale.SaleType)

		lines = append(lines, domain.SaleLine{
			ItemID:         locked.id,
			SKU:            locked.sku,
			Name:           name,
			Qty:            line.Qty,
			UnitPriceCents: unitPrice,
			CostPriceCents: locked.costPriceCents,
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

	sale.Lines = lines
	sale.SubtotalCents = totals.SubtotalCents
	sale.PercentDiscountCents = totals.PercentDiscountCents
	sale.TotalCents = totals.TotalCents

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, transaction_id, sale_type, cashier_id, subtotal_cents,
			percent_discount, percent_discount_cents, manual_discount_cents,
			total_cents, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sale.ID, sale.TransactionID, sale.SaleType, sale.CashierID, sale.SubtotalCents,
		sale.PercentDiscount, sale.PercentDiscountCents, sale.ManualDiscountCents,
		sale.TotalCents, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the idempotency race; the other transaction's sale is the
			// sale. Read it outside this (now poisoned) transaction.
			_ = tx.Rollback()
			return s.FindSaleByTransactionID(ctx, sale.TransactionID)
		}
		return nil, err
	}

	for _, line := range sale.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, item_id, sku, name, qty, unit_price_cents, cost_price_cents, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, sale.ID, line.ItemID, line.SKU, line.Name, line.Qty, line.UnitPriceCents, line.CostPriceCents, line.TotalCents)
		if err != nil {
			return nil, err
		}

		if _, err := appendMovementTx(ctx, tx, lockedItems[line.ItemID], -line.Qty, domain.MovementSale, "sale", sale.ID, sale.CashierID, now); err != nil {
			return nil, err
		}
	}

	payments := make([]domain.PaymentRecord, 0, len(sale.Payments))
	for _, payment := range sale.Payments {
		payment.ID = xid.New("pay")
		payment.SaleID = sale.ID
		payment.CreatedAt = now
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payment_records (id, sale_id, method, amount_cents, reference, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, payment.ID, payment.SaleID, payment.Method, payment.AmountCents, nullIfEmpty(payment.Reference), payment.CreatedAt)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	sale.Payments = payments

	receipt := buildReceipt(sale)
	payload, err := json.Marshal(receipt)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO receipts (sale_id, transaction_id, payload, created_at)
		VALUES ($1,$2,$3,$4)
	`, sale.ID, sale.TransactionID, payload, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

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

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, "id", id)
}

func (s *Store) FindSaleByTransactionID(ctx context.Context, transactionID string) (*domain.Sale, error) {
	return s.findSale(ctx, "transaction_id", transactionID)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.Sale, error) {
	// column is one of two compile-time constants, never request input.
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, sale_type, cashier_id, subtotal_cents,
			percent_discount, percent_discount_cents, manual_discount_cents,
			total_cents, created_at
		FROM sales
		WHERE `+column+` = $1
	`, value).Scan(
		&sale.ID, &sale.TransactionID, &sale.SaleType, &sale.CashierID, &sale.SubtotalCents,
		&sale.PercentDiscount, &sale.PercentDiscountCents, &sale.ManualDiscountCents,
		&sale.TotalCents, &sale.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT item_id, sku, name, qty, unit_price_cents, cost_price_cents, total_cents
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY sku
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var line domain.SaleLine
		if err := lineRows.Scan(&line.ItemID, &line.SKU, &line.Name, &line.Qty, &line.UnitPriceCents, &line.CostPriceCents, &line.TotalCents); err != nil {
			return nil, err
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, method, amount_cents, COALESCE(reference, ''), created_at
		FROM payment_records
		WHERE sale_id = $1
		ORDER BY created_at, id
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer paymentRows.Close()
	for paymentRows.Next() {
		var payment domain.PaymentRecord
		if err := paymentRows.Scan(&payment.ID, &payment.SaleID, &payment.Method, &payment.AmountCents, &payment.Reference, &payment.CreatedAt); err != nil {
			return nil, err
		}
		sale.Payments = append(sale.Payments, payment)
	}
	if err := paymentRows.Err(); err != nil {
		return nil, err
	}

	return &sale, nil
}

func (s *Store) GetReceipt(ctx context.Context, saleID string) (*domain.Receipt, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM receipts WHERE sale_id = $1`, saleID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var receipt domain.Receipt
	if err := json.Unmarshal(payload, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (s *Store) CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, error) {
	if refund.AmountCents < 1 || len(refund.Lines) == 0 {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the sale row so concurrent initiations against the same sale
	// serialize their remaining-refundable checks.
	var saleTotal int64
	err = tx.QueryRowContext(ctx, `
		SELECT total_cents FROM sales WHERE id = $1 FOR UPDATE
	`, refund.SaleID).Scan(&saleTotal)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	approvedTotal, returnedQty, err := approvedRefundStateTx(ctx, tx, refund.SaleID)
	if err != nil {
		return nil, err
	}
	if refund.AmountCents > saleTotal-approvedTotal {
		return nil, store.ErrInvalidRequest
	}

	soldByItem, linePrices, err := saleLineStateTx(ctx, tx, refund.SaleID)
	if err != nil {
		return nil, err
	}

	lines := make([]domain.RefundLine, 0, len(refund.Lines))
	for _, line := range refund.Lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidRequest
		}
		sold, exists := soldByItem[line.ItemID]
		if !exists || returnedQty[line.ItemID]+line.Qty > sold {
			return nil, store.ErrInvalidRequest
		}
		price := linePrices[line.ItemID]
		lines = append(lines, domain.RefundLine{
			ItemID:         line.ItemID,
			SKU:            price.sku,
			Qty:            line.Qty,
			UnitPriceCents: price.unitPriceCents,
			CostPriceCents: price.costPriceCents,
		})
	}

	if refund.ID == "" {
		refund.ID = xid.New("refund")
	}
	refund.Status = domain.RefundPending
	refund.CreatedAt = time.Now().UTC()
	refund.Lines = lines

	_, err = tx.ExecContext(ctx, `
		INSERT INTO refunds (id, sale_id, amount_cents, reason, status, initiated_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, refund.ID, refund.SaleID, refund.AmountCents, nullIfEmpty(refund.Reason), refund.Status, refund.InitiatedBy, refund.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, line := range refund.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO refund_lines (refund_id, item_id, sku, qty, unit_price_cents, cost_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, refund.ID, line.ItemID, line.SKU, line.Qty, line.UnitPriceCents, line.CostPriceCents)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := refund
	return &created, nil
}

type refundLinePrice struct {
	sku            string
	unitPriceCents int64
	costPriceCents int64
}

func saleLineStateTx(ctx context.Context, tx *sql.Tx, saleID string) (map[string]int, map[string]refundLinePrice, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT item_id, sku, qty, unit_price_cents, cost_price_cents
		FROM sale_lines
		WHERE sale_id = $1
	`, saleID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	soldByItem := make(map[string]int)
	prices := make(map[string]refundLinePrice)
	for rows.Next() {
		var itemID string
		var price refundLinePrice
		var qty int
		if err := rows.Scan(&itemID, &price.sku, &qty, &price.unitPriceCents, &price.costPriceCents); err != nil {
			return nil, nil, err
		}
		soldByItem[itemID] += qty
		prices[itemID] = price
	}
	return soldByItem, prices, rows.Err()
}

func approvedRefundStateTx(ctx context.Context, tx *sql.Tx, saleID string) (int64, map[string]int, error) {
	var approvedTotal int64
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM refunds
		WHERE sale_id = $1 AND status = 'approved'
	`, saleID).Scan(&approvedTotal)
	if err != nil {
		return 0, nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT rl.item_id, COALESCE(SUM(rl.qty), 0)
		FROM refund_lines rl
		JOIN refunds r ON r.id = rl.refund_id
		WHERE r.sale_id = $1 AND r.status = 'approved'
		GROUP BY rl.item_id
	`, saleID)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	returned := make(map[string]int)
	for rows.Next() {
		var itemID string
		var qty int
		if err := rows.Scan(&itemID, &qty); err != nil {
			return 0, nil, err
		}
		returned[itemID] = qty
	}
	return approvedTotal, returned, rows.Err()
}

func (s *Store) GetRefundByID(ctx context.Context, id string) (*domain.Refund, error) {
	refunds, err := s.queryRefunds(ctx, `WHERE r.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(refunds) == 0 {
		return nil, store.ErrNotFound
	}
	return &refunds[0], nil
}

func (s *Store) ListRefundsBySale(ctx context.Context, saleID string) ([]domain.Refund, error) {
	return s.queryRefunds(ctx, `WHERE r.sale_id = $1`, saleID)
}

func (s *Store) queryRefunds(ctx context.Context, where string, arg any) ([]domain.Refund, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.sale_id, r.amount_cents, COALESCE(r.reason, ''), r.status,
			r.initiated_by, COALESCE(r.decided_by, ''), r.created_at, r.decided_at
		FROM refunds r
		`+where+`
		ORDER BY r.created_at, r.id
	`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refunds := make([]domain.Refund, 0, 8)
	for rows.Next() {
		var refund domain.Refund
		var decidedAt sql.NullTime
		if err := rows.Scan(&refund.ID, &refund.SaleID, &refund.AmountCents, &refund.Reason, &refund.Status,
			&refund.InitiatedBy, &refund.DecidedBy, &refund.CreatedAt, &decidedAt); err != nil {
			return nil, err
		}
		if decidedAt.Valid {
			d := decidedAt.Time.UTC()
			refund.DecidedAt = &d
		}
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range refunds {
		lineRows, err := s.db.QueryContext(ctx, `
			SELECT item_id, sku, qty, unit_price_cents, cost_price_cents
			FROM refund_lines
			WHERE refund_id = $1
			ORDER BY sku
		`, refunds[i].ID)
		if err != nil {
			return nil, err
		}
		for lineRows.Next() {
			var line domain.RefundLine
			if err := lineRows.Scan(&line.ItemID, &line.SKU, &line.Qty, &line.UnitPriceCents, &line.CostPriceCents); err != nil {
				_ = lineRows.Close()
				return nil, err
			}
			refunds[i].Lines = append(refunds[i].Lines, line)
		}
		if err := lineRows.Err(); err != nil {
			_ = lineRows.Close()
			return nil, err
		}
		_ = lineRows.Close()
	}

	return refunds, nil
}

func (s *Store) DecideRefund(ctx context.Context, refundID string, decision domain.RefundStatus, decidedBy string, at time.Time) (*domain.Refund, error) {
	if decision != domain.RefundApproved && decision != domain.RefundRejected {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var saleID string
	var amountCents int64
	var status domain.RefundStatus
	err = tx.QueryRowContext(ctx, `
		SELECT sale_id, amount_cents, status
		FROM refunds
		WHERE id = $1
		FOR UPDATE
	`, refundID).Scan(&saleID, &amountCents, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if status != domain.RefundPending {
		return nil, store.ErrInvalidStateTransition
	}

	if decision == domain.RefundApproved {
		// Lock the sale row: concurrent approvals for the same sale must
		// serialize their remaining-refundable checks.
		var saleTotal int64
		if err := tx.QueryRowContext(ctx, `
			SELECT total_cents FROM sales WHERE id = $1 FOR UPDATE
		`, saleID).Scan(&saleTotal); err != nil {
			return nil, err
		}

		approvedTotal, returnedQty, err := approvedRefundStateTx(ctx, tx, saleID)
		if err != nil {
			return nil, err
		}
		if amountCents > saleTotal-approvedTotal {
			return nil, store.ErrInvalidRequest
		}

		soldByItem, _, err := saleLineStateTx(ctx, tx, saleID)
		if err != nil {
			return nil, err
		}

		lineRows, err := tx.QueryContext(ctx, `
			SELECT item_id, qty, unit_price_cents, cost_price_cents
			FROM refund_lines
			WHERE refund_id = $1
		`, refundID)
		if err != nil {
			return nil, err
		}
		type pendingLine struct {
			itemID         string
			qty            int
			unitPriceCents int64
			costPriceCents int64
		}
		pending := make([]pendingLine, 0, 4)
		for lineRows.Next() {
			var line pendingLine
			if err := lineRows.Scan(&line.itemID, &line.qty, &line.unitPriceCents, &line.costPriceCents); err != nil {
				_ = lineRows.Close()
				return nil, err
			}
			pending = append(pending, line)
		}
		if err := lineRows.Err(); err != nil {
			_ = lineRows.Close()
			return nil, err
		}
		_ = lineRows.Close()

		for _, line := range pending {
			if returnedQty[line.itemID]+line.qty > soldByItem[line.itemID] {
				return nil, store.ErrInvalidRequest
			}

			item, err := lockItemTx(ctx, tx, line.itemID)
			if err != nil {
				return nil, err
			}
			// RETURN movements snapshot the sale-time prices carried on the
			// refund line, not the item's current prices.
			movement := domain.StockMovement{
				ID:                   xid.New("mv"),
				ItemID:               item.id,
				SKU:                  item.sku,
				QuantityChange:       line.qty,
				PreviousQuantity:     item.quantity,
				NewQuantity:          item.quantity + line.qty,
				Type:                 domain.MovementReturn,
				Reason:               "refund approved",
				ReferenceID:          refundID,
				CostPriceAtTimeCents: line.costPriceCents,
				UnitPriceAtTimeCents: line.unitPriceCents,
				CreatedBy:            decidedBy,
				CreatedAt:            at,
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO stock_movements (
					id, item_id, sku, quantity_change, previous_quantity, new_quantity,
					movement_type, reason, reference_id, cost_price_at_time_cents,
					unit_price_at_time_cents, created_by, created_at
				)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			`, movement.ID, movement.ItemID, movement.SKU, movement.QuantityChange, movement.PreviousQuantity,
				movement.NewQuantity, movement.Type, movement.Reason, movement.ReferenceID,
				movement.CostPriceAtTimeCents, movement.UnitPriceAtTimeCents, movement.CreatedBy, movement.CreatedAt)
			if err != nil {
				return nil, err
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE inventory_items SET quantity = $1, updated_at = now() WHERE id = $2
			`, movement.NewQuantity, item.id)
			if err != nil {
				return nil, err
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE refunds
		SET status = $1, decided_by = $2, decided_at = $3
		WHERE id = $4
	`, decision, decidedBy, at, refundID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetRefundByID(ctx, refundID)
}

func (s *Store) GetRefundAnalytics(ctx context.Context) (domain.RefundAnalytics, error) {
	analytics := domain.RefundAnalytics{
		ByStatus:    make([]domain.RefundStatusCount, 0, 3),
		ByInitiator: make([]domain.RefundInitiatorCount, 0, 8),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}

	statusRows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount_cents), 0)
		FROM refunds
		GROUP BY status
		ORDER BY status
	`)
	if err != nil {
		return domain.RefundAnalytics{}, err
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var row domain.RefundStatusCount
		if err := statusRows.Scan(&row.Status, &row.Count, &row.TotalCents); err != nil {
			return domain.RefundAnalytics{}, err
		}
		analytics.ByStatus = append(analytics.ByStatus, row)
	}
	if err := statusRows.Err(); err != nil {
		return domain.RefundAnalytics{}, err
	}

	initiatorRows, err := s.db.QueryContext(ctx, `
		SELECT initiated_by, COUNT(*), COALESCE(SUM(amount_cents), 0)
		FROM refunds
		GROUP BY initiated_by
		ORDER BY initiated_by
	`)
	if err != nil {
		return domain.RefundAnalytics{}, err
	}
	defer initiatorRows.Close()
	for initiatorRows.Next() {
		var row domain.RefundInitiatorCount
		if err := initiatorRows.Scan(&row.InitiatedBy, &row.Count, &row.TotalCents); err != nil {
			return domain.RefundAnalytics{}, err
		}
		analytics.ByInitiator = append(analytics.ByInitiator, row)
	}
	if err := initiatorRows.Err(); err != nil {
		return domain.RefundAnalytics{}, err
	}

	return analytics, nil
}

func (s *Store) GetProfitRollup(ctx context.Context, from time.Time, to time.Time) (domain.ProfitRollup, error) {
	rollup := domain.ProfitRollup{
		From: from.Format(time.RFC3339),
		To:   to.Format(time.RFC3339),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN movement_type = 'SALE' THEN -quantity_change ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN movement_type = 'RETURN' THEN quantity_change ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN movement_type = 'SALE'
				THEN (unit_price_at_time_cents - cost_price_at_time_cents) * -quantity_change ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN movement_type = 'RETURN'
				THEN (unit_price_at_time_cents - cost_price_at_time_cents) * quantity_change ELSE 0 END), 0)
		FROM stock_movements
		WHERE created_at >= $1 AND created_at < $2
	`, from, to).Scan(&rollup.SoldQty, &rollup.ReturnedQty, &rollup.GrossMarginCents, &rollup.ReturnedMarginCents)
	if err != nil {
		return domain.ProfitRollup{}, err
	}

	rollup.NetMarginCents = rollup.GrossMarginCents - rollup.ReturnedMarginCents
	return rollup, nil
}

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.Name == "" {
		return nil, store.ErrInvalidRequest
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	supplier.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, email, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.Name, nullIfEmpty(supplier.Phone), nullIfEmpty(supplier.Email), supplier.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := supplier
	return &created, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone, ''), COALESCE(email, ''), created_at
		FROM suppliers
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 32)
	for rows.Next() {
		var supplier domain.Supplier
		if err := rows.Scan(&supplier.ID, &supplier.Name, &supplier.Phone, &supplier.Email, &supplier.CreatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, supplier)
	}
	return suppliers, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.Actor, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
