package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/domain"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/service"
	"github.com/Oluwataye/pharmcare-pro-offline1-sub001/internal/store"
)

const maxBodyBytes = 1 << 20

type Server struct {
	svc           *service.Service
	auth          *AuthManager
	logger        *logrus.Logger
	allowedOrigin string
	mux           *http.ServeMux
}

func NewServer(svc *service.Service, auth *AuthManager, logger *logrus.Logger, allowedOrigin string) *Server {
	s := &Server{
		svc:           svc,
		auth:          auth,
		logger:        logger,
		allowedOrigin: allowedOrigin,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)

	s.mux.Handle("GET /api/items", s.requireAuth(s.handleListItems))
	s.mux.Handle("POST /api/items", s.requireAuth(s.handleCreateItem, "admin"))
	s.mux.Handle("GET /api/items/low-stock", s.requireAuth(s.handleLowStock))
	s.mux.Handle("GET /api/items/by-sku/{sku}", s.requireAuth(s.handleGetItemBySKU))
	s.mux.Handle("GET /api/items/{id}", s.requireAuth(s.handleGetItem))
	s.mux.Handle("PATCH /api/items/{id}", s.requireAuth(s.handleUpdateItem, "admin"))

	s.mux.Handle("POST /api/stock/receive", s.requireAuth(s.handleReceiveStock, "admin"))
	s.mux.Handle("POST /api/stock/adjust", s.requireAuth(s.handleAdjustStock, "admin"))

	s.mux.Handle("GET /api/ledger", s.requireAuth(s.handleLedger))
	s.mux.Handle("GET /api/ledger/replay/{itemID}", s.requireAuth(s.handleReplay, "admin"))

	s.mux.Handle("POST /api/sales", s.requireAuth(s.handleCompleteSale))
	s.mux.Handle("GET /api/sales/{id}", s.requireAuth(s.handleGetSale))
	s.mux.Handle("GET /api/sales/{id}/receipt", s.requireAuth(s.handleGetReceipt))
	s.mux.Handle("GET /api/sales/{id}/refunds", s.requireAuth(s.handleListSaleRefunds))
	s.mux.Handle("GET /api/sales/by-transaction/{transactionID}", s.requireAuth(s.handleGetSaleByTransaction))

	s.mux.Handle("POST /api/refunds", s.requireAuth(s.handleInitiateRefund))
	s.mux.Handle("GET /api/refunds/{id}", s.requireAuth(s.handleGetRefund))
	s.mux.Handle("POST /api/refunds/{id}/decision", s.requireAuth(s.handleDecideRefund, "admin"))

	s.mux.Handle("GET /api/analytics/refunds", s.requireAuth(s.handleRefundAnalytics, "admin"))
	s.mux.Handle("GET /api/analytics/profit", s.requireAuth(s.handleProfitRollup, "admin"))

	s.mux.Handle("GET /api/suppliers", s.requireAuth(s.handleListSuppliers))
	s.mux.Handle("POST /api/suppliers", s.requireAuth(s.handleCreateSupplier, "admin"))

	s.mux.Handle("GET /api/audit-logs", s.requireAuth(s.handleListAuditLogs, "admin"))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if s.allowedOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", s.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)

	s.logger.WithFields(logrus.Fields{
		"method":   r.Method,
		"path":     r.URL.Path,
		"status":   rec.status,
		"duration": time.Since(start).String(),
	}).Info("request")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requireAuth verifies the bearer token, stamps the actor onto the request
// context and optionally restricts the handler to the named roles.
func (s *Server) requireAuth(next http.HandlerFunc, roles ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
			return
		}
		actor, err := s.auth.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token", nil)
			return
		}
		if len(roles) > 0 {
			allowed := false
			for _, role := range roles {
				if actor.Role == role {
					allowed = true
					break
				}
			}
			if !allowed {
				writeError(w, http.StatusForbidden, "forbidden", "insufficient role", nil)
				return
			}
		}
		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, ErrTooManyAttempts) {
		writeError(w, http.StatusTooManyRequests, "too_many_attempts", "account temporarily locked", nil)
		return
	}
	if errors.Is(err, ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid username or password", nil)
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.ListItems(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemCreateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	item, err := s.svc.CreateItem(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.svc.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleGetItemBySKU(w http.ResponseWriter, r *http.Request) {
	item, err := s.svc.GetItemBySKU(r.Context(), r.PathValue("sku"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req domain.ItemUpdateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	item, err := s.svc.UpdateItem(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := s.svc.ListLowStockItems(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockReceiveRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	movement, err := s.svc.ReceiveStock(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, movement)
}

func (s *Server) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	movement, err := s.svc.AdjustStock(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, movement)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	q := domain.LedgerQuery{
		ItemID: r.URL.Query().Get("item_id"),
		Type:   domain.MovementType(r.URL.Query().Get("type")),
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "from must be RFC3339", nil)
			return
		}
		q.From = &from
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "to must be RFC3339", nil)
			return
		}
		q.To = &to
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer", nil)
			return
		}
		q.Limit = limit
	}

	movements, err := s.svc.GetLedger(r.Context(), q)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	replay, err := s.svc.ReplayQuantity(r.Context(), r.PathValue("itemID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replay)
}

func (s *Server) handleCompleteSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	resp, err := s.svc.CompleteSale(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := s.svc.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (s *Server) handleGetSaleByTransaction(w http.ResponseWriter, r *http.Request) {
	sale, err := s.svc.GetSaleByTransactionID(r.Context(), r.PathValue("transactionID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.svc.GetReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleListSaleRefunds(w http.ResponseWriter, r *http.Request) {
	refunds, err := s.svc.ListRefundsBySale(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refunds)
}

func (s *Server) handleInitiateRefund(w http.ResponseWriter, r *http.Request) {
	var req domain.RefundInitiateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	refund, err := s.svc.InitiateRefund(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, refund)
}

func (s *Server) handleGetRefund(w http.ResponseWriter, r *http.Request) {
	refund, err := s.svc.GetRefund(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

func (s *Server) handleDecideRefund(w http.ResponseWriter, r *http.Request) {
	var req domain.RefundDecideRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	refund, err := s.svc.DecideRefund(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refund)
}

func (s *Server) handleRefundAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := s.svc.GetRefundAnalytics(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (s *Server) handleProfitRollup(w http.ResponseWriter, r *http.Request) {
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "from must be RFC3339", nil)
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", "to must be RFC3339", nil)
		return
	}
	rollup, err := s.svc.GetProfitRollup(r.Context(), from, to)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rollup)
}

func (s *Server) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := s.svc.ListSuppliers(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suppliers)
}

func (s *Server) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req domain.SupplierCreateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	supplier, err := s.svc.CreateSupplier(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, supplier)
}

func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	from := time.Now().UTC().Add(-24 * time.Hour)
	to := time.Now().UTC().Add(time.Minute)
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "from must be RFC3339", nil)
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "to must be RFC3339", nil)
			return
		}
		to = parsed
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	logs, err := s.svc.ListAuditLogs(r.Context(), from, to, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// writeServiceError maps domain errors to HTTP responses. Typed errors carry
// their detail fields so the client can correct the request.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var insufficient *store.InsufficientStockError
	if errors.As(err, &insufficient) {
		writeError(w, http.StatusConflict, "insufficient_stock", insufficient.Error(), map[string]any{
			"item_id":   insufficient.ItemID,
			"sku":       insufficient.SKU,
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		})
		return
	}
	var mismatch *store.PaymentMismatchError
	if errors.As(err, &mismatch) {
		writeError(w, http.StatusBadRequest, "payment_mismatch", mismatch.Error(), map[string]any{
			"expected_cents": mismatch.ExpectedCents,
			"provided_cents": mismatch.ProvidedCents,
		})
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found", nil)
	case errors.Is(err, store.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "invalid_state_transition", "refund already decided", nil)
	case errors.Is(err, store.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "validation_error", "invalid request", nil)
	default:
		s.logger.WithError(err).Error("internal error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", nil)
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json", "request body is not valid JSON", nil)
		return false
	}
	return true
}

type errorBody struct {
	Error  string         `json:"error"`
	Detail string         `json:"detail,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, detail string, fields map[string]any) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail, Fields: fields})
}
