package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository/memory"
	"github.com/dev-prakash/vyapaarai-order-saga/internal/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()

	ledger := memory.NewStockLedger()
	orders := memory.NewOrderRepository()
	comps := memory.NewCompensationRepository()

	coordinator := service.NewCoordinator(logger, ledger)
	engine := service.NewCompensationEngine(logger, ledger, comps, nil)
	orchestrator := service.NewOrchestrator(logger, coordinator, engine, orders, comps, nil)
	stockAdmin := service.NewStockAdmin(logger, ledger)

	handler := NewHandler(logger, orchestrator, stockAdmin)
	router := NewRouter(handler, func() bool { return true }, nil)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body interface{}, headers map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func createStock(t *testing.T, srv *httptest.Server, productID string, available int32) {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/stock", StockRequest{
		StoreID:   "store-1",
		ProductID: productID,
		Available: available,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestHandler_Stock(t *testing.T) {
	srv := newTestServer(t)
	createStock(t, srv, "p-1", 10)

	t.Run("duplicate stock returns 409", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/stock", StockRequest{
			StoreID: "store-1", ProductID: "p-1", Available: 5,
		}, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("invalid stock returns 400", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/stock", StockRequest{
			StoreID: "store-1", ProductID: "", Available: 5,
		}, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("list stock", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/stock?store_id=store-1", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var records []StockResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
		require.Len(t, records, 1)
		assert.Equal(t, "p-1", records[0].ProductID)
		assert.Equal(t, int32(10), records[0].Available)
	})

	t.Run("list without store_id returns 400", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/stock", nil, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHandler_Orders(t *testing.T) {
	srv := newTestServer(t)
	createStock(t, srv, "p-1", 10)

	authHeaders := map[string]string{"x-customer-id": "customer-1"}
	orderBody := OrderRequest{
		StoreID: "store-1",
		Items: []OrderItem{
			{ProductID: "p-1", Quantity: 3, UnitPriceCents: 500},
		},
	}

	t.Run("missing customer header returns 401", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/orders", orderBody, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	var placed OrderResponse
	t.Run("place order", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/orders", orderBody, authHeaders)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		require.NoError(t, json.NewDecoder(resp.Body).Decode(&placed))
		assert.NotEmpty(t, placed.ID)
		assert.Equal(t, "placed", placed.Status)
		assert.Equal(t, "customer-1", placed.CustomerRef)
		assert.Equal(t, int64(1500), placed.TotalCents)
	})

	t.Run("get order", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/orders/"+placed.ID+"?store_id=store-1", nil, authHeaders)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got OrderResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, placed.ID, got.ID)
	})

	t.Run("get missing order returns 404", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/orders/nope?store_id=store-1", nil, authHeaders)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("out of stock returns 409", func(t *testing.T) {
		big := OrderRequest{
			StoreID: "store-1",
			Items:   []OrderItem{{ProductID: "p-1", Quantity: 100, UnitPriceCents: 500}},
		}
		resp := doJSON(t, http.MethodPost, srv.URL+"/orders", big, authHeaders)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("invalid order returns 400", func(t *testing.T) {
		empty := OrderRequest{StoreID: "store-1"}
		resp := doJSON(t, http.MethodPost, srv.URL+"/orders", empty, authHeaders)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("idempotency key returns same order", func(t *testing.T) {
		headers := map[string]string{
			"x-customer-id":     "customer-1",
			"x-idempotency-key": "key-1",
		}
		resp1 := doJSON(t, http.MethodPost, srv.URL+"/orders", orderBody, headers)
		require.Equal(t, http.StatusCreated, resp1.StatusCode)
		var first OrderResponse
		require.NoError(t, json.NewDecoder(resp1.Body).Decode(&first))

		resp2 := doJSON(t, http.MethodPost, srv.URL+"/orders", orderBody, headers)
		require.Equal(t, http.StatusCreated, resp2.StatusCode)
		var second OrderResponse
		require.NoError(t, json.NewDecoder(resp2.Body).Decode(&second))

		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("cancel order", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, srv.URL+"/orders/"+placed.ID+"/cancel?store_id=store-1", nil, authHeaders)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got OrderResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, "cancelled", got.Status)
	})

	t.Run("health", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, srv.URL+"/health", nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
