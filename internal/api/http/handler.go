package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/authctx"
	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository"
	"github.com/dev-prakash/vyapaarai-order-saga/internal/service"
)

// Handler содержит HTTP-обработчики для Order Saga Service
// Зависит от service слоя, но не знает о деталях реализации (Mongo, Postgres, Kafka)
type Handler struct {
	logger       *zap.Logger
	orchestrator *service.Orchestrator
	stock        *service.StockAdmin
}

// NewHandler создаёт новый HTTP handler
func NewHandler(logger *zap.Logger, orchestrator *service.Orchestrator, stock *service.StockAdmin) *Handler {
	return &Handler{
		logger:       logger,
		orchestrator: orchestrator,
		stock:        stock,
	}
}

// OrderItem представляет позицию заказа в HTTP запросе/ответе
type OrderItem struct {
	ProductID      string `json:"product_id"`
	Quantity       int32  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// OrderRequest представляет HTTP запрос на создание заказа
type OrderRequest struct {
	StoreID string      `json:"store_id"`
	Items   []OrderItem `json:"items"`
}

// OrderResponse представляет HTTP ответ с информацией о заказе
type OrderResponse struct {
	ID            string      `json:"id"`
	StoreID       string      `json:"store_id"`
	CustomerRef   string      `json:"customer_ref"`
	Status        string      `json:"status"`
	ReservationID string      `json:"reservation_id"`
	Items         []OrderItem `json:"items"`
	TotalCents    int64       `json:"total_cents"`
}

// StockRequest представляет HTTP запрос на первичное оприходование товара
type StockRequest struct {
	StoreID   string `json:"store_id"`
	ProductID string `json:"product_id"`
	Available int32  `json:"available"`
}

// StockResponse представляет HTTP ответ с записью остатка
type StockResponse struct {
	StoreID   string `json:"store_id"`
	ProductID string `json:"product_id"`
	Available int32  `json:"available"`
	Reserved  int32  `json:"reserved"`
	Version   int64  `json:"version"`
}

// PostOrders обрабатывает POST /orders - размещение заказа через сагу
// Ключ идемпотентности приходит в заголовке x-idempotency-key (опционально)
func (h *Handler) PostOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	customerRef, ok := authctx.CustomerRefFromContext(ctx)
	if !ok {
		http.Error(w, "customer_id is required", http.StatusUnauthorized)
		return
	}

	var reqBody OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	items := make([]repository.OrderItem, 0, len(reqBody.Items))
	for _, item := range reqBody.Items {
		items = append(items, repository.OrderItem{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}

	order, err := h.orchestrator.PlaceOrder(ctx, service.PlaceOrderInput{
		StoreID:        reqBody.StoreID,
		CustomerRef:    customerRef,
		IdempotencyKey: r.Header.Get("x-idempotency-key"),
		Items:          items,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, orderResponse(order))
}

// GetOrdersID обрабатывает GET /orders/{id}
func (h *Handler) GetOrdersID(w http.ResponseWriter, r *http.Request, orderID string) {
	ctx := r.Context()

	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		http.Error(w, "store_id query parameter is required", http.StatusBadRequest)
		return
	}

	order, err := h.orchestrator.GetOrder(ctx, storeID, orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, orderResponse(order))
}

// PostOrdersIDCancel обрабатывает POST /orders/{id}/cancel
func (h *Handler) PostOrdersIDCancel(w http.ResponseWriter, r *http.Request, orderID string) {
	ctx := r.Context()

	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		http.Error(w, "store_id query parameter is required", http.StatusBadRequest)
		return
	}

	order, err := h.orchestrator.CancelOrder(ctx, storeID, orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, orderResponse(order))
}

// PostStock обрабатывает POST /stock - первичное оприходование товара
func (h *Handler) PostStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqBody StockRequest
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	rec, err := h.stock.CreateStock(ctx, reqBody.StoreID, reqBody.ProductID, reqBody.Available)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			http.Error(w, "stock record already exists", http.StatusConflict)
			return
		}
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, stockResponse(rec))
}

// GetStock обрабатывает GET /stock?store_id=... - выборка остатков магазина
func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storeID := r.URL.Query().Get("store_id")
	if storeID == "" {
		http.Error(w, "store_id query parameter is required", http.StatusBadRequest)
		return
	}

	records, err := h.stock.ListStock(ctx, storeID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := make([]StockResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, stockResponse(rec))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// writeError мапит доменные ошибки на HTTP статусы
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrOutOfStock):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrConcurrencyExhausted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, repository.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, service.ErrPersistenceFailure):
		http.Error(w, "order was not placed, please retry", http.StatusServiceUnavailable)
	default:
		h.logger.Error("unexpected handler error", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func orderResponse(order *repository.Order) OrderResponse {
	items := make([]OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItem{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return OrderResponse{
		ID:            order.ID,
		StoreID:       order.StoreID,
		CustomerRef:   order.CustomerRef,
		Status:        order.Status,
		ReservationID: order.ReservationID,
		Items:         items,
		TotalCents:    order.TotalCents,
	}
}

func stockResponse(rec repository.StockRecord) StockResponse {
	return StockResponse{
		StoreID:   rec.StoreID,
		ProductID: rec.ProductID,
		Available: rec.Available,
		Reserved:  rec.Reserved,
		Version:   rec.Version,
	}
}
