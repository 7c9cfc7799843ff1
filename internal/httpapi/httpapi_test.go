package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/domain"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/service"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/store/memory"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-test-pwd")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier-test-pwd")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo := memory.New()
	svc := service.New(repo, nil, logger, time.Hour, 15*time.Second)
	auth := NewAuthManager(repo, "test-secret", time.Hour)
	return NewServer(svc, auth, logger, "")
}

func doJSON(t *testing.T, server *Server, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, server *Server, username string, password string) string {
	t.Helper()
	rec := doJSON(t, server, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Username: username, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func createItemHTTP(t *testing.T, server *Server, token string, sku string, qty int) domain.InventoryItem {
	t.Helper()
	rec := doJSON(t, server, http.MethodPost, "/api/items", token, domain.ItemCreateRequest{
		SKU:             sku,
		Name:            "Amoxicillin 250mg",
		Category:        "antibiotic",
		UnitPriceCents:  10000,
		CostPriceCents:  5000,
		InitialQuantity: qty,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create item: status %d body %s", rec.Code, rec.Body.String())
	}
	var item domain.InventoryItem
	if err := json.Unmarshal(rec.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	return item
}

func TestGetItemBySKU(t *testing.T) {
	server := newTestServer(t)
	admin := login(t, server, "admin", "admin-test-pwd")
	item := createItemHTTP(t, server, admin, "AMX-250", 20)

	rec := doJSON(t, server, http.MethodGet, "/api/items/by-sku/AMX-250", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	var got domain.InventoryItem
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if got.ID != item.ID {
		t.Fatalf("item id = %s, want %s", got.ID, item.ID)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/items/by-sku/NO-SUCH-SKU", admin, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown sku status = %d, want 404", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	server := newTestServer(t)

	rec := doJSON(t, server, http.MethodGet, "/api/items", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/items", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", rec.Code)
	}
}

func TestLoginLockout(t *testing.T) {
	server := newTestServer(t)

	for i := 0; i < 5; i++ {
		rec := doJSON(t, server, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrong"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i, rec.Code)
		}
	}
	rec := doJSON(t, server, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Username: "admin", Password: "admin-test-pwd"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("locked-out status = %d, want 429", rec.Code)
	}
}

func TestRoleEnforcement(t *testing.T) {
	server := newTestServer(t)
	cashierToken := login(t, server, "cashier", "cashier-test-pwd")

	rec := doJSON(t, server, http.MethodPost, "/api/items", cashierToken, domain.ItemCreateRequest{
		SKU: "X-1", Name: "X", UnitPriceCents: 100,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier create item status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/analytics/refunds", cashierToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier analytics status = %d, want 403", rec.Code)
	}
}

func TestSaleFlowOverHTTP(t *testing.T) {
	server := newTestServer(t)
	adminToken := login(t, server, "admin", "admin-test-pwd")
	cashierToken := login(t, server, "cashier", "cashier-test-pwd")

	item := createItemHTTP(t, server, adminToken, "AMX-250", 100)

	saleBody := domain.SaleRequest{
		TransactionID:       "tx-http-1",
		Items:               []domain.SaleItemInput{{ItemID: item.ID, Qty: 3}},
		ManualDiscountCents: 2000,
		Payments:            []domain.PaymentInput{{Method: "cash", AmountCents: 28000}},
	}
	rec := doJSON(t, server, http.MethodPost, "/api/sales", cashierToken, saleBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale status = %d body %s", rec.Code, rec.Body.String())
	}
	var resp domain.SaleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if resp.Sale.TotalCents != 28000 || resp.Sale.CashierID != "cashier" {
		t.Fatalf("sale = %+v", resp.Sale)
	}

	// Same transaction id replayed answers 200 with the committed sale.
	rec = doJSON(t, server, http.MethodPost, "/api/sales", cashierToken, saleBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", rec.Code)
	}
	var replay domain.SaleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &replay); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if !replay.Duplicate || replay.Sale.ID != resp.Sale.ID {
		t.Fatalf("replay = %+v", replay)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/sales/"+resp.Sale.ID+"/receipt", cashierToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("receipt status = %d", rec.Code)
	}
	var receipt domain.Receipt
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.TotalCents != 28000 || len(receipt.Payments) != 1 {
		t.Fatalf("receipt = %+v", receipt)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/ledger?item_id="+item.ID+"&type=SALE", cashierToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ledger status = %d", rec.Code)
	}
	var movements []domain.StockMovement
	if err := json.Unmarshal(rec.Body.Bytes(), &movements); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if len(movements) != 1 || movements[0].QuantityChange != -3 {
		t.Fatalf("movements = %+v", movements)
	}
}

func TestInsufficientStockOverHTTP(t *testing.T) {
	server := newTestServer(t)
	adminToken := login(t, server, "admin", "admin-test-pwd")
	item := createItemHTTP(t, server, adminToken, "ORS-01", 2)

	rec := doJSON(t, server, http.MethodPost, "/api/sales", adminToken, domain.SaleRequest{
		TransactionID: "tx-http-short",
		Items:         []domain.SaleItemInput{{ItemID: item.ID, Qty: 5}},
		Payments:      []domain.PaymentInput{{Method: "cash", AmountCents: 50000}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error  string         `json:"error"`
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error != "insufficient_stock" {
		t.Fatalf("error code = %s", body.Error)
	}
	if body.Fields["requested"] != float64(5) || body.Fields["available"] != float64(2) {
		t.Fatalf("fields = %+v", body.Fields)
	}
}

func TestPaymentMismatchOverHTTP(t *testing.T) {
	server := newTestServer(t)
	adminToken := login(t, server, "admin", "admin-test-pwd")
	item := createItemHTTP(t, server, adminToken, "PCM-500", 10)

	rec := doJSON(t, server, http.MethodPost, "/api/sales", adminToken, domain.SaleRequest{
		TransactionID: "tx-http-mismatch",
		Items:         []domain.SaleItemInput{{ItemID: item.ID, Qty: 1}},
		Payments:      []domain.PaymentInput{{Method: "cash", AmountCents: 9999}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Error  string         `json:"error"`
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error != "payment_mismatch" {
		t.Fatalf("error code = %s", body.Error)
	}
	if body.Fields["expected_cents"] != float64(10000) || body.Fields["provided_cents"] != float64(9999) {
		t.Fatalf("fields = %+v", body.Fields)
	}
}

func TestRefundFlowOverHTTP(t *testing.T) {
	server := newTestServer(t)
	adminToken := login(t, server, "admin", "admin-test-pwd")
	cashierToken := login(t, server, "cashier", "cashier-test-pwd")

	item := createItemHTTP(t, server, adminToken, "IBU-400", 50)

	rec := doJSON(t, server, http.MethodPost, "/api/sales", cashierToken, domain.SaleRequest{
		TransactionID: "tx-http-refund",
		Items:         []domain.SaleItemInput{{ItemID: item.ID, Qty: 2}},
		Payments:      []domain.PaymentInput{{Method: "cash", AmountCents: 20000}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("sale status = %d body %s", rec.Code, rec.Body.String())
	}
	var saleResp domain.SaleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &saleResp); err != nil {
		t.Fatalf("decode sale: %v", err)
	}

	rec = doJSON(t, server, http.MethodPost, "/api/refunds", cashierToken, domain.RefundInitiateRequest{
		SaleID:      saleResp.Sale.ID,
		AmountCents: 10000,
		Reason:      "customer returned unopened pack",
		Lines:       []domain.RefundLineInput{{ItemID: item.ID, Qty: 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("refund status = %d body %s", rec.Code, rec.Body.String())
	}
	var refund domain.Refund
	if err := json.Unmarshal(rec.Body.Bytes(), &refund); err != nil {
		t.Fatalf("decode refund: %v", err)
	}

	decisionPath := fmt.Sprintf("/api/refunds/%s/decision", refund.ID)

	// Cashiers cannot decide refunds.
	rec = doJSON(t, server, http.MethodPost, decisionPath, cashierToken, domain.RefundDecideRequest{Decision: domain.RefundDecisionApprove})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier decision status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, server, http.MethodPost, decisionPath, adminToken, domain.RefundDecideRequest{Decision: domain.RefundDecisionApprove})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d body %s", rec.Code, rec.Body.String())
	}
	var decided domain.Refund
	if err := json.Unmarshal(rec.Body.Bytes(), &decided); err != nil {
		t.Fatalf("decode decided refund: %v", err)
	}
	if decided.Status != domain.RefundApproved || decided.DecidedBy != "admin" {
		t.Fatalf("decided = %+v", decided)
	}

	// Terminal: a second decision conflicts.
	rec = doJSON(t, server, http.MethodPost, decisionPath, adminToken, domain.RefundDecideRequest{Decision: domain.RefundDecisionReject})
	if rec.Code != http.StatusConflict {
		t.Fatalf("re-decide status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/items/"+item.ID, cashierToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get item status = %d", rec.Code)
	}
	var got domain.InventoryItem
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode item: %v", err)
	}
	if got.Quantity != 49 {
		t.Fatalf("quantity = %d, want 49", got.Quantity)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	server := newTestServer(t)
	rec := doJSON(t, server, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
