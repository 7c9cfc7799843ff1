package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/domain"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// InsufficientStockError names the item and the shortfall so the caller can
// correct the request. It is returned under the same lock that would have
// decremented the quantity, so Available is never stale.
type InsufficientStockError struct {
	ItemID    string
	SKU       string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.SKU, e.Requested, e.Available)
}

// PaymentMismatchError reports a split-payment reconciliation failure: the sum
// of payment records must equal the sale total exactly.
type PaymentMismatchError struct {
	ExpectedCents int64
	ProvidedCents int64
}

func (e *PaymentMismatchError) Error() string {
	return fmt.Sprintf("payment mismatch: expected %d cents, provided %d cents", e.ExpectedCents, e.ProvidedCents)
}

// Repository is the storage boundary. All quantity mutation goes through
// CreateSale, AppendMovement, ReceiveStock, CreateItem (initial stock) and
// DecideRefund; nothing else writes ledger or refund rows.
type Repository interface {
	CreateItem(ctx context.Context, item domain.InventoryItem, initialQty int, actor string) (*domain.InventoryItem, error)
	GetItemByID(ctx context.Context, id string) (*domain.InventoryItem, error)
	GetItemBySKU(ctx context.Context, sku string) (*domain.InventoryItem, error)
	ListItems(ctx context.Context) ([]domain.InventoryItem, error)
	ListLowStockItems(ctx context.Context) ([]domain.InventoryItem, error)
	UpdateItem(ctx context.Context, item domain.InventoryItem) (*domain.InventoryItem, error)

	AppendMovement(ctx context.Context, req domain.MovementRequest) (*domain.StockMovement, error)
	ReceiveStock(ctx context.Context, req domain.StockReceiveRequest, actor string) (*domain.StockMovement, error)
	ListMovements(ctx context.Context, q domain.LedgerQuery) ([]domain.StockMovement, error)
	ReplayQuantity(ctx context.Context, itemID string) (domain.LedgerReplay, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByTransactionID(ctx context.Context, transactionID string) (*domain.Sale, error)
	GetReceipt(ctx context.Context, saleID string) (*domain.Receipt, error)

	CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, error)
	GetRefundByID(ctx context.Context, id string) (*domain.Refund, error)
	ListRefundsBySale(ctx context.Context, saleID string) ([]domain.Refund, error)
	DecideRefund(ctx context.Context, refundID string, decision domain.RefundStatus, decidedBy string, at time.Time) (*domain.Refund, error)

	GetRefundAnalytics(ctx context.Context) (domain.RefundAnalytics, error)
	GetProfitRollup(ctx context.Context, from time.Time, to time.Time) (domain.ProfitRollup, error)

	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
}
