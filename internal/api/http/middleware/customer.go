package middleware

import (
	"net/http"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/authctx"
)

// WithCustomerRef — HTTP middleware: читает заголовок x-customer-id, при отсутствии возвращает 401, иначе кладёт ref в context
// Валидацию идентификатора выполняет внешний auth слой, сюда приходит уже проверенное значение
func WithCustomerRef(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref := r.Header.Get("x-customer-id")
		if ref == "" {
			http.Error(w, "customer_id is required", http.StatusUnauthorized)
			return
		}
		ctx := authctx.WithCustomerRef(r.Context(), ref) // добавляем customer ref в контекст
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
