package domain

import "time"

type InventoryItem struct {
	ID                  string     `json:"id"`
	SKU                 string     `json:"sku"`
	Name                string     `json:"name"`
	Category            string     `json:"category"`
	Unit                string     `json:"unit"`
	Quantity            int        `json:"quantity"`
	UnitPriceCents      int64      `json:"unit_price_cents"`
	CostPriceCents      int64      `json:"cost_price_cents"`
	WholesalePriceCents int64      `json:"wholesale_price_cents"`
	MinWholesaleQty     int        `json:"min_wholesale_qty"`
	ReorderLevel        int        `json:"reorder_level"`
	BatchNumber         string     `json:"batch_number,omitempty"`
	ExpiryDate          *time.Time `json:"expiry_date,omitempty"`
	SupplierID          string     `json:"supplier_id,omitempty"`
	Active              bool       `json:"active"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type ItemCreateRequest struct {
	SKU                 string  `json:"sku"`
	Name                string  `json:"name"`
	Category            string  `json:"category"`
	Unit                string  `json:"unit"`
	UnitPriceCents      int64   `json:"unit_price_cents"`
	CostPriceCents      int64   `json:"cost_price_cents"`
	WholesalePriceCents int64   `json:"wholesale_price_cents"`
	MinWholesaleQty     int     `json:"min_wholesale_qty"`
	ReorderLevel        int     `json:"reorder_level"`
	BatchNumber         string  `json:"batch_number"`
	ExpiryDate          string  `json:"expiry_date"`
	SupplierID          string  `json:"supplier_id"`
	InitialQuantity     int     `json:"initial_quantity"`
}

type ItemUpdateRequest struct {
	Name                *string `json:"name,omitempty"`
	Category            *string `json:"category,omitempty"`
	Unit                *string `json:"unit,omitempty"`
	UnitPriceCents      *int64  `json:"unit_price_cents,omitempty"`
	CostPriceCents      *int64  `json:"cost_price_cents,omitempty"`
	WholesalePriceCents *int64  `json:"wholesale_price_cents,omitempty"`
	MinWholesaleQty     *int    `json:"min_wholesale_qty,omitempty"`
	ReorderLevel        *int    `json:"reorder_level,omitempty"`
	BatchNumber         *string `json:"batch_number,omitempty"`
	ExpiryDate          *string `json:"expiry_date,omitempty"`
	SupplierID          *string `json:"supplier_id,omitempty"`
	Active              *bool   `json:"active,omitempty"`
}

// MovementType classifies one stock ledger entry.
type MovementType string

const (
	MovementSale       MovementType = "SALE"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementAddition   MovementType = "ADDITION"
	MovementReturn     MovementType = "RETURN"
	MovementInitial    MovementType = "INITIAL"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementSale, MovementAdjustment, MovementAddition, MovementReturn, MovementInitial:
		return true
	default:
		return false
	}
}

// StockMovement is one append-only ledger row. Rows are never edited or deleted;
// replaying them in created_at order reproduces the item's cached quantity.
type StockMovement struct {
	ID                   string       `json:"id"`
	ItemID               string       `json:"item_id"`
	SKU                  string       `json:"sku"`
	QuantityChange       int          `json:"quantity_change"`
	PreviousQuantity     int          `json:"previous_quantity"`
	NewQuantity          int          `json:"new_quantity"`
	Type                 MovementType `json:"type"`
	Reason               string       `json:"reason,omitempty"`
	ReferenceID          string       `json:"reference_id,omitempty"`
	CostPriceAtTimeCents int64        `json:"cost_price_at_time_cents"`
	UnitPriceAtTimeCents int64        `json:"unit_price_at_time_cents"`
	CreatedBy            string       `json:"created_by"`
	CreatedAt            time.Time    `json:"created_at"`
}

// MovementRequest is the input to the ledger choke point for non-sale movements
// (restock, manual adjustment, initial load).
type MovementRequest struct {
	ItemID         string       `json:"item_id"`
	QuantityChange int          `json:"quantity_change"`
	Type           MovementType `json:"type"`
	Reason         string       `json:"reason"`
	ReferenceID    string       `json:"reference_id"`
	CreatedBy      string       `json:"created_by"`
}

// LedgerQuery is the closed set of filters the ledger read path accepts.
// There is deliberately no free-form sort or filter input; results are always
// ordered created_at ascending, id ascending.
type LedgerQuery struct {
	ItemID string
	Type   MovementType
	From   *time.Time
	To     *time.Time
	Limit  int
}

// LedgerReplay reports a full replay of one item's ledger against its cached quantity.
type LedgerReplay struct {
	ItemID           string `json:"item_id"`
	MovementCount    int    `json:"movement_count"`
	ReplayedQuantity int    `json:"replayed_quantity"`
	CachedQuantity   int    `json:"cached_quantity"`
	InSync           bool   `json:"in_sync"`
}

type SaleType string

const (
	SaleTypeRetail    SaleType = "retail"
	SaleTypeWholesale SaleType = "wholesale"
)

type SaleLine struct {
	ItemID         string `json:"item_id"`
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	CostPriceCents int64  `json:"cost_price_cents"`
	TotalCents     int64  `json:"total_cents"`
}

type Sale struct {
	ID                   string          `json:"id"`
	TransactionID        string          `json:"transaction_id"`
	SaleType             SaleType        `json:"sale_type"`
	CashierID            string          `json:"cashier_id"`
	Lines                []SaleLine      `json:"lines"`
	SubtotalCents        int64           `json:"subtotal_cents"`
	PercentDiscount      float64         `json:"percent_discount"`
	PercentDiscountCents int64           `json:"percent_discount_cents"`
	ManualDiscountCents  int64           `json:"manual_discount_cents"`
	TotalCents           int64           `json:"total_cents"`
	Payments             []PaymentRecord `json:"payments"`
	CreatedAt            time.Time       `json:"created_at"`
}

type PaymentRecord struct {
	ID          string    `json:"id"`
	SaleID      string    `json:"sale_id"`
	Method      string    `json:"method"`
	AmountCents int64     `json:"amount_cents"`
	Reference   string    `json:"reference,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type SaleItemInput struct {
	ItemID string `json:"item_id"`
	Qty    int    `json:"qty"`
}

type PaymentInput struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

type SaleRequest struct {
	TransactionID       string          `json:"transaction_id"`
	SaleType            SaleType        `json:"sale_type"`
	Items               []SaleItemInput `json:"items"`
	PercentDiscount     float64         `json:"percent_discount"`
	ManualDiscountCents int64           `json:"manual_discount_cents"`
	Payments            []PaymentInput  `json:"payments"`
}

type SaleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

// Receipt is the denormalized snapshot written in the same unit of work as the
// sale. Receipt rendering reads this record only; later edits to items or prices
// never reach it.
type Receipt struct {
	SaleID               string           `json:"sale_id"`
	TransactionID        string           `json:"transaction_id"`
	SaleType             SaleType         `json:"sale_type"`
	CashierID            string           `json:"cashier_id"`
	Lines                []SaleLine       `json:"lines"`
	SubtotalCents        int64            `json:"subtotal_cents"`
	PercentDiscount      float64          `json:"percent_discount"`
	PercentDiscountCents int64            `json:"percent_discount_cents"`
	ManualDiscountCents  int64            `json:"manual_discount_cents"`
	TotalCents           int64            `json:"total_cents"`
	Payments             []ReceiptPayment `json:"payments"`
	CreatedAt            time.Time        `json:"created_at"`
}

type ReceiptPayment struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

type RefundStatus string

const (
	RefundPending  RefundStatus = "pending"
	RefundApproved RefundStatus = "approved"
	RefundRejected RefundStatus = "rejected"
)

type RefundLine struct {
	ItemID         string `json:"item_id"`
	SKU            string `json:"sku"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	CostPriceCents int64  `json:"cost_price_cents"`
}

type Refund struct {
	ID          string       `json:"id"`
	SaleID      string       `json:"sale_id"`
	AmountCents int64        `json:"amount_cents"`
	Reason      string       `json:"reason,omitempty"`
	Status      RefundStatus `json:"status"`
	InitiatedBy string       `json:"initiated_by"`
	DecidedBy   string       `json:"decided_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	DecidedAt   *time.Time   `json:"decided_at,omitempty"`
	Lines       []RefundLine `json:"lines"`
}

type RefundLineInput struct {
	ItemID string `json:"item_id"`
	Qty    int    `json:"qty"`
}

type RefundInitiateRequest struct {
	SaleID      string            `json:"sale_id"`
	AmountCents int64             `json:"amount_cents"`
	Reason      string            `json:"reason"`
	Lines       []RefundLineInput `json:"lines"`
}

const (
	RefundDecisionApprove = "approved"
	RefundDecisionReject  = "rejected"
)

type RefundDecideRequest struct {
	Decision string `json:"decision"`
}

type RefundStatusCount struct {
	Status     RefundStatus `json:"status"`
	Count      int64        `json:"count"`
	TotalCents int64        `json:"total_cents"`
}

type RefundInitiatorCount struct {
	InitiatedBy string `json:"initiated_by"`
	Count       int64  `json:"count"`
	TotalCents  int64  `json:"total_cents"`
}

type RefundAnalytics struct {
	ByStatus    []RefundStatusCount    `json:"by_status"`
	ByInitiator []RefundInitiatorCount `json:"by_initiator"`
	GeneratedAt string                 `json:"generated_at"`
}

// ProfitRollup is recomputed purely from ledger rows: SALE movements contribute
// snapshot margin, RETURN movements give margin back. Current item prices are
// never consulted.
type ProfitRollup struct {
	From                string `json:"from"`
	To                  string `json:"to"`
	SoldQty             int    `json:"sold_qty"`
	ReturnedQty         int    `json:"returned_qty"`
	GrossMarginCents    int64  `json:"gross_margin_cents"`
	ReturnedMarginCents int64  `json:"returned_margin_cents"`
	NetMarginCents      int64  `json:"net_margin_cents"`
}

type StockReceiveRequest struct {
	ItemID         string `json:"item_id"`
	Qty            int    `json:"qty"`
	CostPriceCents int64  `json:"cost_price_cents"`
	SupplierID     string `json:"supplier_id"`
	BatchNumber    string `json:"batch_number"`
	Reason         string `json:"reason"`
}

type StockAdjustRequest struct {
	ItemID         string `json:"item_id"`
	QuantityChange int    `json:"quantity_change"`
	Reason         string `json:"reason"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
