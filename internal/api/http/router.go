package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	platformhealth "github.com/dev-prakash/vyapaarai-order-saga/platform/health/http"
	platformobservability "github.com/dev-prakash/vyapaarai-order-saga/platform/observability"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/api/http/middleware"
)

// NewRouter создаёт и настраивает HTTP роутер для Order Saga Service
// readiness - функция для проверки готовности сервиса (например, проверка БД).
// Если readiness возвращает false, health endpoint вернёт 503 Service Unavailable.
// logger используется для observability HTTP middleware (trace_id в логах).
func NewRouter(handler *Handler, readiness func() bool, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	// Observability: trace context + span на каждый запрос, logger с trace_id в контексте
	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("order-saga", logger))
	}

	// /orders* требуют x-customer-id (middleware возвращает 401 при отсутствии)
	router.Route("/orders", func(r chi.Router) {
		r.Use(middleware.WithCustomerRef)
		r.Post("/", handler.PostOrders)
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			handler.GetOrdersID(w, r, chi.URLParam(r, "id"))
		})
		r.Post("/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
			handler.PostOrdersIDCancel(w, r, chi.URLParam(r, "id"))
		})
	})

	// Админская поверхность леджера (первичное оприходование + выборка)
	router.Route("/stock", func(r chi.Router) {
		r.Post("/", handler.PostStock)
		r.Get("/", handler.GetStock)
	})

	// Health без middleware (не требует customer ref)
	router.Get("/health", platformhealth.Handler(readiness))

	return router
}
