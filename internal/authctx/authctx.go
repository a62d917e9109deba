package authctx

import (
	"context"
)

type ctxKeyCustomerRef struct{}

var customerRefKey = ctxKeyCustomerRef{}

// WithCustomerRef сохраняет customer ref в контексте (используется HTTP middleware)
func WithCustomerRef(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, customerRefKey, ref)
}

// CustomerRefFromContext возвращает customer ref из контекста, если он был установлен
func CustomerRefFromContext(ctx context.Context) (string, bool) {
	ref, ok := ctx.Value(customerRefKey).(string)
	return ref, ok
}
