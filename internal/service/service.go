package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/cache"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/domain"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/store"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/xid"
)

type actorContextKey struct{}

// WithActor stamps the authenticated actor onto the context. Handlers set it
// once after token verification; everything below reads it for attribution.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) domain.Actor {
	if actor, ok := ctx.Value(actorContextKey{}).(domain.Actor); ok {
		return actor
	}
	return domain.Actor{Username: "system", Role: "system"}
}

type Service struct {
	repo        store.Repository
	receipts    cache.ReceiptCache
	logger      *logrus.Logger
	receiptTTL  time.Duration
	saleTimeout time.Duration
}

func New(repo store.Repository, receipts cache.ReceiptCache, logger *logrus.Logger, receiptTTL time.Duration, saleTimeout time.Duration) *Service {
	if receipts == nil {
		receipts = cache.NoopReceiptCache{}
	}
	if saleTimeout <= 0 {
		saleTimeout = 15 * time.Second
	}
	return &Service{
		repo:        repo,
		receipts:    receipts,
		logger:      logger,
		receiptTTL:  receiptTTL,
		saleTimeout: saleTimeout,
	}
}

func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (*domain.InventoryItem, error) {
	req.SKU = strings.TrimSpace(req.SKU)
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" || req.UnitPriceCents < 1 || req.InitialQuantity < 0 {
		return nil, store.ErrInvalidRequest
	}

	item := domain.InventoryItem{
		SKU:                 req.SKU,
		Name:                req.Name,
		Category:            req.Category,
		Unit:                req.Unit,
		UnitPriceCents:      req.UnitPriceCents,
		CostPriceCents:      req.CostPriceCents,
		WholesalePriceCents: req.WholesalePriceCents,
		MinWholesaleQty:     req.MinWholesaleQty,
		ReorderLevel:        req.ReorderLevel,
		BatchNumber:         req.BatchNumber,
		SupplierID:          req.SupplierID,
		Active:              true,
	}
	if req.ExpiryDate != "" {
		expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
		if err != nil {
			return nil, store.ErrInvalidRequest
		}
		item.ExpiryDate = &expiry
	}

	actor := ActorFromContext(ctx)
	created, err := s.repo.CreateItem(ctx, item, req.InitialQuantity, actor.Username)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "item.create", "item", created.ID, created.SKU)
	return created, nil
}

func (s *Service) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	return s.repo.GetItemByID(ctx, id)
}

func (s *Service) GetItemBySKU(ctx context.Context, sku string) (*domain.InventoryItem, error) {
	return s.repo.GetItemBySKU(ctx, sku)
}

func (s *Service) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.repo.ListItems(ctx)
}

func (s *Service) ListLowStockItems(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.repo.ListLowStockItems(ctx)
}

func (s *Service) UpdateItem(ctx context.Context, id string, req domain.ItemUpdateRequest) (*domain.InventoryItem, error) {
	current, err := s.repo.GetItemByID(ctx, id)
	if err != nil {
		return nil, err
	}

	item := *current
	if req.Name != nil {
		item.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		item.Category = *req.Category
	}
	if req.Unit != nil {
		item.Unit = *req.Unit
	}
	if req.UnitPriceCents != nil {
		item.UnitPriceCents = *req.UnitPriceCents
	}
	if req.CostPriceCents != nil {
		item.CostPriceCents = *req.CostPriceCents
	}
	if req.WholesalePriceCents != nil {
		item.WholesalePriceCents = *req.WholesalePriceCents
	}
	if req.MinWholesaleQty != nil {
		item.MinWholesaleQty = *req.MinWholesaleQty
	}
	if req.ReorderLevel != nil {
		item.ReorderLevel = *req.ReorderLevel
	}
	if req.BatchNumber != nil {
		item.BatchNumber = *req.BatchNumber
	}
	if req.ExpiryDate != nil {
		if *req.ExpiryDate == "" {
			item.ExpiryDate = nil
		} else {
			expiry, err := time.Parse("2006-01-02", *req.ExpiryDate)
			if err != nil {
				return nil, store.ErrInvalidRequest
			}
			item.ExpiryDate = &expiry
		}
	}
	if req.SupplierID != nil {
		item.SupplierID = *req.SupplierID
	}
	if req.Active != nil {
		item.Active = *req.Active
	}
	if item.Name == "" || item.UnitPriceCents < 1 {
		return nil, store.ErrInvalidRequest
	}

	updated, err := s.repo.UpdateItem(ctx, item)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "item.update", "item", updated.ID, updated.SKU)
	return updated, nil
}

// ReceiveStock records incoming supplier stock. The store applies the
// delivery's cost price and appends the ADDITION movement in one unit of work,
// so the movement's cost snapshot always matches the delivery.
func (s *Service) ReceiveStock(ctx context.Context, req domain.StockReceiveRequest) (*domain.StockMovement, error) {
	if req.ItemID == "" || req.Qty < 1 || req.CostPriceCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if req.Reason == "" {
		req.Reason = "stock received"
	}

	actor := ActorFromContext(ctx)
	movement, err := s.repo.ReceiveStock(ctx, req, actor.Username)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "stock.receive", "item", req.ItemID, req.Reason)
	return movement, nil
}

// AdjustStock records a manual correction. A reason is mandatory: every
// adjustment must be explainable after the fact.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (*domain.StockMovement, error) {
	if req.ItemID == "" || req.QuantityChange == 0 || strings.TrimSpace(req.Reason) == "" {
		return nil, store.ErrInvalidRequest
	}

	actor := ActorFromContext(ctx)
	movement, err := s.repo.AppendMovement(ctx, domain.MovementRequest{
		ItemID:         req.ItemID,
		QuantityChange: req.QuantityChange,
		Type:           domain.MovementAdjustment,
		Reason:         req.Reason,
		CreatedBy:      actor.Username,
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "stock.adjust", "item", req.ItemID, req.Reason)
	return movement, nil
}

func (s *Service) GetLedger(ctx context.Context, q domain.LedgerQuery) ([]domain.StockMovement, error) {
	if q.Type != "" && !q.Type.Valid() {
		return nil, store.ErrInvalidRequest
	}
	return s.repo.ListMovements(ctx, q)
}

func (s *Service) ReplayQuantity(ctx context.Context, itemID string) (domain.LedgerReplay, error) {
	replay, err := s.repo.ReplayQuantity(ctx, itemID)
	if err != nil {
		return domain.LedgerReplay{}, err
	}
	if !replay.InSync {
		s.logger.WithFields(logrus.Fields{
			"item_id":  replay.ItemID,
			"cached":   replay.CachedQuantity,
			"replayed": replay.ReplayedQuantity,
		}).Error("cached quantity diverged from ledger")
	}
	return replay, nil
}

// CompleteSale is the atomic checkout path. The same transaction id replayed
// returns the previously committed sale with Duplicate set; nothing is
// deducted twice.
func (s *Service) CompleteSale(ctx context.Context, req domain.SaleRequest) (*domain.SaleResponse, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	if req.TransactionID == "" || len(req.Items) == 0 || len(req.Payments) == 0 {
		return nil, store.ErrInvalidRequest
	}
	saleType := req.SaleType
	if saleType == "" {
		saleType = domain.SaleTypeRetail
	}
	if saleType != domain.SaleTypeRetail && saleType != domain.SaleTypeWholesale {
		return nil, store.ErrInvalidRequest
	}

	ctx, cancel := context.WithTimeout(ctx, s.saleTimeout)
	defer cancel()

	if existing, err := s.repo.FindSaleByTransactionID(ctx, req.TransactionID); err == nil {
		return &domain.SaleResponse{Sale: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// Repeated item ids collapse into one line so the stock check sees the
	// full requested quantity.
	qtyByItem := make(map[string]int, len(req.Items))
	order := make([]string, 0, len(req.Items))
	for _, input := range req.Items {
		if input.ItemID == "" || input.Qty < 1 {
			return nil, store.ErrInvalidRequest
		}
		if _, seen := qtyByItem[input.ItemID]; !seen {
			order = append(order, input.ItemID)
		}
		qtyByItem[input.ItemID] += input.Qty
	}
	lines := make([]domain.SaleLine, 0, len(order))
	for _, itemID := range order {
		lines = append(lines, domain.SaleLine{ItemID: itemID, Qty: qtyByItem[itemID]})
	}

	payments := make([]domain.PaymentRecord, 0, len(req.Payments))
	for _, payment := range req.Payments {
		payments = append(payments, domain.PaymentRecord{
			Method:      payment.Method,
			AmountCents: payment.AmountCents,
			Reference:   payment.Reference,
		})
	}

	actor := ActorFromContext(ctx)
	saleID := xid.New("sale")
	sale, err := s.repo.CreateSale(ctx, domain.Sale{
		ID:                  saleID,
		TransactionID:       req.TransactionID,
		SaleType:            saleType,
		CashierID:           actor.Username,
		Lines:               lines,
		PercentDiscount:     req.PercentDiscount,
		ManualDiscountCents: req.ManualDiscountCents,
		Payments:            payments,
	})
	if err != nil {
		return nil, err
	}

	// A concurrent request with the same transaction id can win the race after
	// the pre-check above. The store then resolves to the committed sale, which
	// comes back under the winner's id, not ours.
	if sale.ID != saleID {
		return &domain.SaleResponse{Sale: *sale, Duplicate: true}, nil
	}

	s.logger.WithFields(logrus.Fields{
		"sale_id":        sale.ID,
		"transaction_id": sale.TransactionID,
		"total_cents":    sale.TotalCents,
		"cashier":        sale.CashierID,
	}).Info("sale completed")
	s.logAudit(ctx, "sale.complete", "sale", sale.ID, sale.TransactionID)

	return &domain.SaleResponse{Sale: *sale}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.repo.FindSaleByID(ctx, id)
}

func (s *Service) GetSaleByTransactionID(ctx context.Context, transactionID string) (*domain.Sale, error) {
	return s.repo.FindSaleByTransactionID(ctx, transactionID)
}

// GetReceipt reads through the cache. Receipts never change after commit, so a
// hit is always safe to serve.
func (s *Service) GetReceipt(ctx context.Context, saleID string) (*domain.Receipt, error) {
	if cached, hit, err := s.receipts.Get(ctx, saleID); err == nil && hit {
		return cached, nil
	} else if err != nil {
		s.logger.WithError(err).Warn("receipt cache read failed")
	}

	receipt, err := s.repo.GetReceipt(ctx, saleID)
	if err != nil {
		return nil, err
	}

	if err := s.receipts.Set(ctx, saleID, receipt, s.receiptTTL); err != nil {
		s.logger.WithError(err).Warn("receipt cache write failed")
	}
	return receipt, nil
}

func (s *Service) InitiateRefund(ctx context.Context, req domain.RefundInitiateRequest) (*domain.Refund, error) {
	if req.SaleID == "" || req.AmountCents < 1 || len(req.Lines) == 0 {
		return nil, store.ErrInvalidRequest
	}

	lines := make([]domain.RefundLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.ItemID == "" || line.Qty < 1 {
			return nil, store.ErrInvalidRequest
		}
		lines = append(lines, domain.RefundLine{ItemID: line.ItemID, Qty: line.Qty})
	}

	actor := ActorFromContext(ctx)
	refund, err := s.repo.CreateRefund(ctx, domain.Refund{
		SaleID:      req.SaleID,
		AmountCents: req.AmountCents,
		Reason:      req.Reason,
		InitiatedBy: actor.Username,
		Lines:       lines,
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "refund.initiate", "refund", refund.ID, refund.SaleID)
	return refund, nil
}

func (s *Service) DecideRefund(ctx context.Context, refundID string, req domain.RefundDecideRequest) (*domain.Refund, error) {
	var decision domain.RefundStatus
	switch req.Decision {
	case domain.RefundDecisionApprove:
		decision = domain.RefundApproved
	case domain.RefundDecisionReject:
		decision = domain.RefundRejected
	default:
		return nil, store.ErrInvalidRequest
	}

	actor := ActorFromContext(ctx)
	refund, err := s.repo.DecideRefund(ctx, refundID, decision, actor.Username, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"refund_id":  refund.ID,
		"sale_id":    refund.SaleID,
		"status":     refund.Status,
		"decided_by": actor.Username,
	}).Info("refund decided")
	s.logAudit(ctx, "refund."+string(decision), "refund", refund.ID, refund.SaleID)
	return refund, nil
}

func (s *Service) GetRefund(ctx context.Context, id string) (*domain.Refund, error) {
	return s.repo.GetRefundByID(ctx, id)
}

func (s *Service) ListRefundsBySale(ctx context.Context, saleID string) ([]domain.Refund, error) {
	return s.repo.ListRefundsBySale(ctx, saleID)
}

func (s *Service) GetRefundAnalytics(ctx context.Context) (domain.RefundAnalytics, error) {
	return s.repo.GetRefundAnalytics(ctx)
}

func (s *Service) GetProfitRollup(ctx context.Context, from time.Time, to time.Time) (domain.ProfitRollup, error) {
	if !to.After(from) {
		return domain.ProfitRollup{}, store.ErrInvalidRequest
	}
	return s.repo.GetProfitRollup(ctx, from, to)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (*domain.Supplier, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, store.ErrInvalidRequest
	}

	supplier, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		Name:  req.Name,
		Phone: req.Phone,
		Email: req.Email,
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "supplier.create", "supplier", supplier.ID, supplier.Name)
	return supplier, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor := ActorFromContext(ctx)
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		Actor:      actor.Username,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
	})
	if err != nil {
		s.logger.WithError(err).WithField("action", action).Warn("audit log write failed")
	}
}
